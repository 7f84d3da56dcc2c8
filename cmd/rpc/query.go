package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/canopy-network/pulse/lib"
	"github.com/julienschmidt/httprouter"
	"github.com/nsf/jsondiff"
)

// Version writes pulse software's version information
func (s *Server) Version(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, SoftwareVersion, http.StatusOK)
}

// Transaction submits a transaction to the pending pool
func (s *Server) Transaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tx := new(lib.Transaction)
	if ok := unmarshal(w, r, tx); !ok {
		return
	}
	if err := s.controller.SubmitTransaction(tx); err != nil {
		writeErr(w, err)
		return
	}
	write(w, txResponse{Hash: tx.Hash}, http.StatusOK)
}

// State responds with the full node state
func (s *Server) State(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.controller.GetState(), http.StatusOK)
}

// Health responds with the network health assessment
func (s *Server) Health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.controller.Health(), http.StatusOK)
}

// Round responds with the live round, or the last completed round
func (s *Server) Round(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	summary := s.controller.GetCurrentRoundSummary()
	if summary == nil {
		writeErr(w, ErrNotFound("round"))
		return
	}
	write(w, summary, http.StatusOK)
}

// Validator responds with a validator by id
func (s *Server) Validator(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(idRequest)
	if ok := unmarshal(w, r, req); !ok {
		return
	}
	v, err := s.controller.Validator(req.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	write(w, v, http.StatusOK)
}

// Validators responds with every registered validator
func (s *Server) Validators(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.controller.Validators(), http.StatusOK)
}

// Block responds with the finalized commit at a height; height 0 is the head
func (s *Server) Block(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(heightRequest)
	if ok := unmarshal(w, r, req); !ok {
		return
	}
	if req.Height == 0 {
		req.Height, _ = s.controller.Head()
	}
	commit, err := s.controller.Block(req.Height)
	if err != nil {
		writeErr(w, err)
		return
	}
	if commit == nil {
		writeErr(w, ErrNotFound(fmt.Sprintf("block at height %d", req.Height)))
		return
	}
	write(w, commit, http.StatusOK)
}

// Blocks responds with finalized commits above a height
func (s *Server) Blocks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(pageRequest)
	if ok := unmarshal(w, r, req); !ok {
		return
	}
	commits, err := s.controller.Blocks(req.From, req.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	write(w, commits, http.StatusOK)
}

// Checkpoint responds with the checkpoint of an epoch; epoch 0 is the latest checkpoint
func (s *Server) Checkpoint(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(epochRequest)
	if ok := unmarshal(w, r, req); !ok {
		return
	}
	cp, err := s.checkpoint(req.Epoch)
	if err != nil {
		writeErr(w, err)
		return
	}
	write(w, cp, http.StatusOK)
}

// Checkpoints responds with every retained checkpoint
func (s *Server) Checkpoints(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	list, err := s.controller.Checkpoints()
	if err != nil {
		writeErr(w, err)
		return
	}
	write(w, list, http.StatusOK)
}

// CheckpointDiff responds with the difference between the validator snapshots of two checkpoints;
// GET renders html, POST renders console text
func (s *Server) CheckpointDiff(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, opts := new(epochsRequest), jsondiff.Options{}
	switch r.Method {
	case http.MethodGet:
		opts = jsondiff.DefaultHTMLOptions()
		opts.ChangedSeparator = " <- "
		if err := r.ParseForm(); err != nil {
			writeErr(w, lib.ErrInvalidParams(err))
			return
		}
		req.Epoch = parseUint64FromString(r.Form.Get("epoch"))
		req.StartEpoch = parseUint64FromString(r.Form.Get("startEpoch"))
	case http.MethodPost:
		opts = jsondiff.DefaultConsoleOptions()
		if ok := unmarshal(w, r, req); !ok {
			return
		}
	}
	cp2, err := s.checkpoint(req.Epoch)
	if err != nil {
		writeErr(w, err)
		return
	}
	var cp1 *lib.Checkpoint
	if req.StartEpoch == 0 {
		// default to the checkpoint before
		if cp1, err = s.previousCheckpoint(cp2.Epoch); err != nil {
			writeErr(w, err)
			return
		}
	} else if cp1, err = s.checkpoint(req.StartEpoch); err != nil {
		writeErr(w, err)
		return
	}
	j1, _ := json.Marshal(cp1.Validators)
	j2, _ := json.Marshal(cp2.Validators)
	_, differ := jsondiff.Compare(j1, j2, &opts)
	if r.Method == http.MethodGet {
		w.Header().Set(ContentType, "text/html; charset=utf-8")
		differ = "<pre>" + differ + "</pre>"
	}
	if _, e := w.Write([]byte(differ)); e != nil {
		s.logger.Error(e.Error())
	}
}

// Events responds with the most recent events, oldest first; count 0 is every retained event
func (s *Server) Events(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(countRequest)
	if ok := unmarshal(w, r, req); !ok {
		return
	}
	write(w, s.controller.Events(req.Count), http.StatusOK)
}

// Forks responds with every recorded fork resolution
func (s *Server) Forks(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	list, err := s.controller.ForkResolutions()
	if err != nil {
		writeErr(w, err)
		return
	}
	write(w, list, http.StatusOK)
}

// Evidence responds with the retained byzantine evidence
func (s *Server) Evidence(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.controller.Evidence(), http.StatusOK)
}

// checkpoint() loads the checkpoint of an epoch or the latest one for epoch 0
func (s *Server) checkpoint(epoch uint64) (*lib.Checkpoint, lib.ErrorI) {
	if epoch == 0 {
		list, err := s.controller.Checkpoints()
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, ErrNotFound("checkpoint")
		}
		return list[len(list)-1], nil
	}
	cp, err := s.controller.Checkpoint(epoch)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrNotFound(fmt.Sprintf("checkpoint of epoch %d", epoch))
	}
	return cp, nil
}

// previousCheckpoint() returns the latest retained checkpoint before the epoch
func (s *Server) previousCheckpoint(epoch uint64) (*lib.Checkpoint, lib.ErrorI) {
	list, err := s.controller.Checkpoints()
	if err != nil {
		return nil, err
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Epoch < epoch {
			return list[i], nil
		}
	}
	return nil, ErrNotFound(fmt.Sprintf("checkpoint before epoch %d", epoch))
}
