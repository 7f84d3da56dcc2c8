package rpc

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/julienschmidt/httprouter"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Register adds a validator; with a private key the validator participates in process
func (s *Server) Register(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(registerRequest)
	if ok := unmarshal(w, r, req); !ok {
		return
	}
	var key crypto.PrivateKeyI
	if req.PrivateKey != "" {
		pk, e := crypto.NewPrivateKeyFromString(req.PrivateKey)
		if e != nil {
			writeErr(w, lib.ErrInvalidParams(e))
			return
		}
		key = pk
	}
	v := &lib.Validator{ID: req.ID, Stake: req.Stake, Commission: req.Commission, PublicKey: req.PublicKey}
	if err := s.controller.RegisterValidator(v, key); err != nil {
		writeErr(w, err)
		return
	}
	s.writeValidator(w, req.ID)
}

// Unregister removes a validator
func (s *Server) Unregister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(idRequest)
	if ok := unmarshal(w, r, req); !ok {
		return
	}
	if err := s.controller.UnregisterValidator(req.ID); err != nil {
		writeErr(w, err)
		return
	}
	write(w, req, http.StatusOK)
}

// Score reports a fitness score for the next round
func (s *Server) Score(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(scoreRequest)
	if ok := unmarshal(w, r, req); !ok {
		return
	}
	if err := s.controller.ReportScore(req.ID, req.Score); err != nil {
		writeErr(w, err)
		return
	}
	write(w, req, http.StatusOK)
}

// Vote hands a remote committee member's vote to the live round
func (s *Server) Vote(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	vote := new(lib.Vote)
	if ok := unmarshal(w, r, vote); !ok {
		return
	}
	if err := s.controller.SubmitVote(vote); err != nil {
		writeErr(w, err)
		return
	}
	write(w, vote, http.StatusOK)
}

// Proposal hands a remote proposer's block to the live round
func (s *Server) Proposal(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	block := new(lib.Block)
	if ok := unmarshal(w, r, block); !ok {
		return
	}
	if err := s.controller.SubmitProposal(block); err != nil {
		writeErr(w, err)
		return
	}
	write(w, txResponse{Hash: block.Hash}, http.StatusOK)
}

// Import resolves a commit finalized elsewhere against the local chain
func (s *Server) Import(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	commit := new(lib.Commit)
	if ok := unmarshal(w, r, commit); !ok {
		return
	}
	res, err := s.controller.ImportFinalizedBlock(commit)
	if err != nil {
		writeErr(w, err)
		return
	}
	write(w, res, http.StatusOK)
}

// StartNode starts the epoch scheduler; it runs until stopped through the admin rpc or a fatal error
func (s *Server) StartNode(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if _, err := s.controller.Start(context.Background()); err != nil {
		writeErr(w, err)
		return
	}
	write(w, runningResponse{Running: true}, http.StatusOK)
}

// StopNode stops the epoch scheduler and waits for the running epoch to exit
func (s *Server) StopNode(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := s.controller.Stop(); err != nil {
		writeErr(w, err)
		return
	}
	write(w, runningResponse{Running: false}, http.StatusOK)
}

// Recover rebuilds the node from the latest checkpoint and the journal above it
func (s *Server) Recover(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	rec, err := s.controller.RecoverFromCrash()
	if err != nil {
		writeErr(w, err)
		return
	}
	write(w, rec, http.StatusOK)
}

// Config responds with the node configuration
func (s *Server) Config(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.config, http.StatusOK)
}

// ResourceUsage retrieves node resource usage
func (s *Server) ResourceUsage(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	pm, err := mem.VirtualMemory() // os memory
	if err != nil {
		write(w, err, http.StatusInternalServerError)
		return
	}
	c, err := cpu.Times(false) // os cpu
	if err != nil {
		write(w, err, http.StatusInternalServerError)
		return
	}
	cp, err := cpu.Percent(0, false) // os cpu percent
	if err != nil {
		write(w, err, http.StatusInternalServerError)
		return
	}
	d, err := disk.Usage("/") // os disk
	if err != nil {
		write(w, err, http.StatusInternalServerError)
		return
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		write(w, err, http.StatusInternalServerError)
		return
	}
	// process details are best effort, some platforms don't expose them all
	name, _ := p.Name()
	status, _ := p.Status()
	cpuPercent, _ := p.CPUPercent()
	numThreads, _ := p.NumThreads()
	memPercent, _ := p.MemoryPercent()
	utc, _ := p.CreateTime()
	usage := ResourceUsage{
		Process: ProcessResourceUsage{
			Name:          name,
			Status:        strings.Trim(fmt.Sprint(status), "[]"),
			CreateTime:    time.UnixMilli(utc).Format(time.RFC822),
			ThreadCount:   uint64(numThreads),
			MemoryPercent: float64(memPercent),
			CPUPercent:    cpuPercent,
		},
		System: SystemResourceUsage{
			TotalRAM:        pm.Total,
			AvailableRAM:    pm.Available,
			UsedRAM:         pm.Used,
			UsedRAMPercent:  pm.UsedPercent,
			FreeRAM:         pm.Free,
			TotalDisk:       d.Total,
			UsedDisk:        d.Used,
			UsedDiskPercent: d.UsedPercent,
			FreeDisk:        d.Free,
		},
	}
	if len(cp) != 0 {
		usage.System.UsedCPUPercent = cp[0]
	}
	if len(c) != 0 {
		usage.System.UserCPU, usage.System.SystemCPU, usage.System.IdleCPU = c[0].User, c[0].System, c[0].Idle
	}
	write(w, usage, http.StatusOK)
}

// writeValidator() writes the registered validator by id
func (s *Server) writeValidator(w http.ResponseWriter, id string) {
	v, err := s.controller.Validator(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	write(w, v, http.StatusOK)
}
