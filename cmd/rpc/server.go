package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/alecthomas/units"
	"github.com/canopy-network/pulse/controller"
	"github.com/canopy-network/pulse/lib"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

const (
	colon = ":"

	SoftwareVersion = "0.1.0-beta"
	ContentType     = "Content-Type"
	ApplicationJSON = "application/json; charset=utf-8"
	localhost       = "localhost"
)

// Server represents a pulse RPC server with configuration options.
type Server struct {
	// pulse node controller
	controller *controller.Controller

	// pulse node configuration
	config lib.Config

	// servers are the running query and admin http servers
	servers []*http.Server

	// Mutex for the servers
	mux *sync.Mutex

	logger lib.LoggerI
}

// NewServer constructs and returns a new pulse RPC server
func NewServer(controller *controller.Controller, config lib.Config, logger lib.LoggerI) *Server {
	return &Server{
		controller: controller,
		config:     config,
		logger:     logger,
		mux:        &sync.Mutex{},
	}
}

// Start initializes the pulse RPC servers
func (s *Server) Start() {
	if s.config.Headless {
		return
	}
	// Start the Query and Admin RPC servers concurrently
	go s.startRPC(createRouter(s), s.config.RPCPort)
	go s.startRPC(createAdminRouter(s), s.config.AdminPort)
}

// Stop gracefully shuts down the RPC servers
func (s *Server) Stop() {
	s.mux.Lock()
	defer s.mux.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.config.TimeoutS)*time.Second)
	defer cancel()
	for _, server := range s.servers {
		if err := server.Shutdown(ctx); err != nil {
			s.logger.Errorf("Shutting down the RPC server at %s failed with err: %s", server.Addr, err.Error())
		}
	}
	s.servers = nil
}

// startRPC starts an RPC server with the provided router and port
func (s *Server) startRPC(router *httprouter.Router, port string) {
	server := &http.Server{
		Addr:    colon + port,
		Handler: s.handler(router),
	}
	s.mux.Lock()
	s.servers = append(s.servers, server)
	s.mux.Unlock()
	// Start RPC server
	s.logger.Infof("Starting RPC server at 0.0.0.0:%s", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal(err.Error())
	}
}

// handler() wraps the router in the CORS policy and the request timeout
func (s *Server) handler(router *httprouter.Router) http.Handler {
	// Create CORS policy
	cor := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS", "POST"},
	})
	// Create a default timeout for HTTP requests
	timeout := time.Duration(s.config.TimeoutS) * time.Second
	return cor.Handler(http.TimeoutHandler(router, timeout, lib.ErrServerTimeout().Error()))
}

// logsHandler writes the pulse logfile, newest line first
func logsHandler(s *Server) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		// Construct the full file path to the log file
		filePath := filepath.Join(s.config.DataDirPath, lib.LogDirectory, lib.LogFileName)
		// Read the entire contents of the log file and split by newlines
		f, _ := os.ReadFile(filePath)
		split := bytes.Split(f, []byte("\n"))
		var flipped []byte
		// Iterate over the lines in reverse order
		for i := len(split) - 1; i >= 0; i-- {
			flipped = append(append(flipped, split[i]...), []byte("\n")...)
		}
		if _, err := w.Write(flipped); err != nil {
			s.logger.Error(err.Error())
		}
	}
}

// logHandler serves as a middleware that logs incoming RPC calls for debugging purposes.
type logHandler struct {
	path   string
	h      httprouter.Handle
	logger lib.LoggerI
}

// Handle
func (h logHandler) Handle(resp http.ResponseWriter, req *http.Request, p httprouter.Params) {
	h.logger.Debug(h.path)
	h.h(resp, req, p)
}

// unmarshal reads request body and unmarshals it into ptr
func unmarshal(w http.ResponseWriter, r *http.Request, ptr interface{}) bool {
	bz, err := io.ReadAll(io.LimitReader(r.Body, int64(units.MB)))
	if err != nil {
		write(w, lib.ErrReadBody(err), http.StatusBadRequest)
		return false
	}
	defer func() { _ = r.Body.Close() }()
	// an empty body keeps the defaults
	if len(bz) == 0 {
		return true
	}
	if err = json.Unmarshal(bz, ptr); err != nil {
		write(w, lib.ErrInvalidParams(err), http.StatusBadRequest)
		return false
	}
	return true
}

// write marshaled payload to w
func write(w http.ResponseWriter, payload interface{}, code int) {
	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(code)
	// Marshal and indent the payload
	bz, _ := json.MarshalIndent(payload, "", "  ")
	_, _ = w.Write(bz)
}

// writeErr() writes an error with the status that fits its module
func writeErr(w http.ResponseWriter, err lib.ErrorI) {
	code := http.StatusBadRequest
	switch {
	case lib.IsCode(err, lib.RPCModule, lib.CodeNotFound):
		code = http.StatusNotFound
	case err.Module() == lib.StorageModule:
		code = http.StatusInternalServerError
	}
	write(w, err, code)
}

// parseUint64FromString() converts a form value to uint64, returning 0 on failure
func parseUint64FromString(s string) uint64 {
	i, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return i
}
