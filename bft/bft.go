package bft

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/registry"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

/*
	The round state machine drives one consensus round per epoch through its phases:

	1) AssessFitness   : query the fitness scorer for every Active validator and record the scores
	2) SelectCommittee : rank the eligible validators and take the committee
	3) ProposeBlock    : the member at rank `round` proposes; external proposals arrive through SubmitProposal
	4) Vote            : every member validates the proposal and casts one signed vote
	5) Finalize        : check the quorum and hand the commit to the chain

	A proposer caught misbehaving restarts the proposal with the next-ranked member under a new round number and a
	fresh vote set. Every phase is bounded by its timeout and aborts on context cancellation.
*/

// Phase is a step of a consensus round
type Phase uint8

const (
	PhaseAssessFitness Phase = iota + 1
	PhaseSelectCommittee
	PhaseProposeBlock
	PhaseVote
	PhaseFinalize
)

// String() returns the human readable phase
func (p Phase) String() string {
	switch p {
	case PhaseAssessFitness:
		return "AssessFitness"
	case PhaseSelectCommittee:
		return "SelectCommittee"
	case PhaseProposeBlock:
		return "ProposeBlock"
	case PhaseVote:
		return "Vote"
	case PhaseFinalize:
		return "Finalize"
	default:
		return "Idle"
	}
}

const (
	OutcomePending   = "Pending"
	OutcomeFinalized = "Finalized"
	OutcomeAborted   = "Aborted"
)

// ChainI is the canonical chain the engine extends
type ChainI interface {
	// Head() returns the height and hash of the canonical head
	Head() (height uint64, hash []byte)
	// Commit() durably appends a finalized block and makes it the head
	Commit(ctx context.Context, c *lib.Commit) lib.ErrorI
}

// Params are the collaborators of the engine
type Params struct {
	Config   lib.ConsensusConfig
	Registry *registry.Registry
	Scorer   lib.FitnessScorerI
	Staking  lib.StakingI
	Pool     lib.TxPoolI
	Chain    ChainI
	Events   lib.EventSinkI
	Metrics  *lib.Metrics
	Log      lib.LoggerI
}

// Engine is the round state machine
type Engine struct {
	config   lib.ConsensusConfig
	registry *registry.Registry
	scorer   lib.FitnessScorerI
	staking  lib.StakingI
	pool     lib.TxPoolI
	chain    ChainI
	detector *Detector
	events   lib.EventSinkI
	metrics  *lib.Metrics
	log      lib.LoggerI

	pMux         sync.RWMutex            // guards participants
	participants map[string]ParticipantI // validator id -> in process participant

	roundLock sync.Mutex                   // serializes round creation and clearing
	current   atomic.Pointer[Round]        // the live round or nil
	last      atomic.Pointer[RoundSummary] // the summary of the last completed round
}

// New() creates the round state machine
func New(p Params) *Engine {
	log := p.Log.Named("bft")
	return &Engine{
		config:       p.Config,
		registry:     p.Registry,
		scorer:       p.Scorer,
		staking:      p.Staking,
		pool:         p.Pool,
		chain:        p.Chain,
		detector:     NewDetector(p.Config, log),
		events:       p.Events,
		metrics:      p.Metrics,
		log:          log,
		participants: make(map[string]ParticipantI),
	}
}

// Round is the live state of one epoch's consensus
type Round struct {
	mu           sync.RWMutex
	epoch        uint64
	round        uint64 // the current proposal attempt
	height       uint64
	previousHash []byte
	phase        Phase
	committee    *Committee
	view         *ProposalContext // what the current attempt's proposal must satisfy
	proposal     *lib.Block
	votes        *VoteSet
	proposals    chan *lib.Block // the accepted proposal of the current attempt
	restart      chan struct{}   // proposer misbehavior in the current attempt
	banned       map[string]bool // members punished during this round
	evidence     []*lib.Evidence
	restarts     uint64
	startTime    time.Time
	wg           sync.WaitGroup // helper goroutines of the round
}

// RoundSummary is a point in time report of a round
type RoundSummary struct {
	Epoch             uint64        `json:"epoch"`
	Round             uint64        `json:"round"`
	Height            uint64        `json:"height"`
	Phase             string        `json:"phase"`
	Committee         []string      `json:"committee"`
	ProposerID        string        `json:"proposerID,omitempty"`
	BlockHash         lib.HexBytes  `json:"blockHash,omitempty"`
	TxCount           int           `json:"txCount"`
	Approvals         uint64        `json:"approvals"`
	Rejections        uint64        `json:"rejections"`
	CommitteeSize     uint64        `json:"committeeSize"`
	ApprovalPercent   float64       `json:"approvalPercent"`
	Participation     float64       `json:"participation"`
	ConsensusStrength float64       `json:"consensusStrength"` // approval percent scaled by the approvers' stake weighted fitness
	Evidence          int           `json:"evidence"`
	Restarts          uint64        `json:"restarts"`
	StartTime         uint64        `json:"startTime"` // unix milliseconds
	DurationMS        uint64        `json:"durationMS"`
	Outcome           string        `json:"outcome"` // Pending, Finalized or Aborted
	Reason            string        `json:"reason,omitempty"`
	Code              lib.ErrorCode `json:"code,omitempty"`
}

// RunRound() executes a full round for the epoch and returns its summary; the error is the abort reason
func (e *Engine) RunRound(ctx context.Context, epoch uint64) (summary *RoundSummary, err lib.ErrorI) {
	height, previousHash := e.chain.Head()
	r, err := e.beginRound(epoch, height+1, previousHash)
	if err != nil {
		return nil, err
	}
	defer func() { summary = e.endRound(r, err) }()
	// ASSESS FITNESS
	r.setPhase(PhaseAssessFitness)
	e.emit(r, lib.EventPhaseChanged, "", PhaseAssessFitness.String())
	e.assessFitness(ctx)
	if ctx.Err() != nil {
		return nil, ErrRoundCancelled()
	}
	// SELECT COMMITTEE
	r.setPhase(PhaseSelectCommittee)
	e.emit(r, lib.EventPhaseChanged, "", PhaseSelectCommittee.String())
	committee, err := SelectCommittee(e.registry.Active(), e.config, epoch)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.committee = committee
	r.mu.Unlock()
	e.log.Infof("Epoch %d committee: %v", epoch, committee.IDs())
	// PROPOSE BLOCK and VOTE, restarting with the next-ranked proposer after proposer misbehavior
	for attempt := uint64(0); ; attempt++ {
		proposer := committee.Proposer(attempt)
		if proposer == nil {
			return nil, ErrPhaseTimeout(PhaseProposeBlock.String())
		}
		// a member punished earlier in the round doesn't get a turn
		if r.isBanned(proposer.ID) {
			continue
		}
		block, restart, e1 := e.proposePhase(ctx, r, attempt, proposer)
		if e1 != nil {
			return nil, e1
		}
		if restart {
			e.restartRound(r)
			continue
		}
		restart, e1 = e.votePhase(ctx, r, block)
		if e1 != nil {
			return nil, e1
		}
		if restart {
			e.restartRound(r)
			continue
		}
		break
	}
	// FINALIZE
	return nil, e.finalizePhase(ctx, r)
}

// beginRound() creates the live round; only one round may exist at a time
func (e *Engine) beginRound(epoch, height uint64, previousHash []byte) (*Round, lib.ErrorI) {
	e.roundLock.Lock()
	defer e.roundLock.Unlock()
	if e.current.Load() != nil {
		return nil, lib.ErrAlreadyRunning()
	}
	r := &Round{
		epoch:        epoch,
		height:       height,
		previousHash: previousHash,
		banned:       make(map[string]bool),
		startTime:    time.Now(),
	}
	e.current.Store(r)
	e.emit(r, lib.EventRoundStarted, "", fmt.Sprintf("height %d", height))
	return r, nil
}

// endRound() records the outcome, publishes the summary and clears the live round
func (e *Engine) endRound(r *Round, err lib.ErrorI) *RoundSummary {
	// wait for the helpers of the round before clearing it
	r.wg.Wait()
	s := r.summary()
	s.DurationMS = uint64(time.Since(r.startTime).Milliseconds())
	if err == nil {
		s.Outcome = OutcomeFinalized
		e.log.Infof("Epoch %d finalized block %s at height %d with %d/%d approvals", s.Epoch, lib.BytesToTruncatedString(s.BlockHash), s.Height, s.Approvals, s.CommitteeSize)
	} else {
		s.Outcome, s.Reason, s.Code = OutcomeAborted, ErrorMessage(err), err.Code()
		e.emit(r, lib.EventRoundAborted, "", s.Reason)
		e.log.Warnf("Epoch %d aborted: %s", s.Epoch, s.Reason)
	}
	e.metrics.UpdateRound(s.Epoch, s.Height, s.Outcome, s.ConsensusStrength, s.Participation, time.Since(r.startTime))
	e.roundLock.Lock()
	defer e.roundLock.Unlock()
	e.last.Store(s)
	e.current.Store(nil)
	return s
}

// assessFitness() records the current score of every Active validator; a failing scorer keeps the last score
func (e *Engine) assessFitness(ctx context.Context) {
	scores := make(map[string]uint64)
	for _, v := range e.registry.Active() {
		if ctx.Err() != nil {
			return
		}
		score, err := e.scorer.Score(v.ID)
		if err != nil {
			e.log.Warnf("Fitness score of %s unavailable, keeping %d: %s", v.ID, v.FitnessScore, ErrorMessage(err))
			continue
		}
		scores[v.ID] = score
	}
	if err := e.registry.UpdateScores(scores); err != nil {
		e.log.Errorf("Recording fitness scores failed: %s", ErrorMessage(err))
	}
}

// proposePhase() waits for the proposal of the member at rank `attempt`; returns restart if the proposer misbehaved
func (e *Engine) proposePhase(ctx context.Context, r *Round, attempt uint64, proposer *Member) (block *lib.Block, restart bool, err lib.ErrorI) {
	key, err := proposer.Key()
	if err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	r.round, r.phase, r.proposal, r.votes = attempt, PhaseProposeBlock, nil, nil
	r.view = &ProposalContext{
		Height:       r.height,
		Epoch:        r.epoch,
		Round:        attempt,
		PreviousHash: r.previousHash,
		ProposerID:   proposer.ID,
		ProposerKey:  key,
		Members:      r.committee.FitnessMembers(),
		Threshold:    r.committee.Threshold,
	}
	r.proposals, r.restart = make(chan *lib.Block, 1), make(chan struct{}, 1)
	proposals, restartCh := r.proposals, r.restart
	r.mu.Unlock()
	e.emit(r, lib.EventPhaseChanged, proposer.ID, PhaseProposeBlock.String())
	pCtx, cancel := context.WithTimeout(ctx, e.config.ProposalTimeout())
	defer cancel()
	// ask the in process proposer, if any; remote proposers use SubmitProposal
	if p := e.Participant(proposer.ID); p != nil {
		req := &ProposalRequest{
			Height:       r.height,
			Epoch:        r.epoch,
			Round:        attempt,
			PreviousHash: r.previousHash,
			Transactions: e.pool.Select(int(e.config.MaxBlockTxs)),
			Members:      r.committee.FitnessMembers(),
			Threshold:    r.committee.Threshold,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			b, pErr := p.Propose(pCtx, req)
			if pErr != nil {
				e.log.Warnf("Proposer %s failed to propose: %s", p.ID(), pErr.Error())
				return
			}
			if aErr := e.SubmitProposal(b); aErr != nil {
				e.log.Warnf("Proposal of %s rejected: %s", p.ID(), ErrorMessage(aErr))
			}
		}()
	}
	select {
	case block = <-proposals:
		return block, false, nil
	case <-restartCh:
		return nil, true, nil
	case <-pCtx.Done():
		if ctx.Err() != nil {
			return nil, false, ErrRoundCancelled()
		}
		return nil, false, ErrPhaseTimeout(PhaseProposeBlock.String())
	}
}

// restartRound() counts a proposal restart
func (e *Engine) restartRound(r *Round) {
	r.mu.Lock()
	r.restarts++
	attempt := r.round
	r.mu.Unlock()
	e.log.Warnf("Epoch %d restarting the proposal after round %d", r.epoch, attempt)
}

// SubmitProposal() accepts a proposal for the live round
func (e *Engine) SubmitProposal(b *lib.Block) lib.ErrorI {
	r := e.current.Load()
	if r == nil {
		return ErrNoActiveRound()
	}
	if err := b.Check(); err != nil {
		return err
	}
	r.mu.RLock()
	epoch, height, committee, view, phase := r.epoch, r.height, r.committee, r.view, r.phase
	proposals, restartCh := r.proposals, r.restart
	r.mu.RUnlock()
	if committee == nil || view == nil {
		return ErrWrongPhase(phase.String())
	}
	if b.Epoch != epoch {
		return ErrWrongEpoch(b.Epoch, epoch)
	}
	if b.Height != height {
		return ErrWrongHeight(b.Height, height)
	}
	// only proposals signed by a member are attributable
	key, err := committee.PublicKey(b.ProposerID)
	if err != nil {
		return err
	}
	if !b.VerifySignature(key) {
		return lib.ErrInvalidSignature()
	}
	if ev := e.detector.ObserveProposal(b); ev != nil {
		e.punish(r, ev)
		if ev.ValidatorID == view.ProposerID && ev.Round == view.Round {
			signal(restartCh)
		}
		return ErrByzantineDetected(ev.ValidatorID, ev.Kind.String())
	}
	if b.Round != view.Round {
		return ErrWrongRound(b.Round, view.Round)
	}
	if b.ProposerID != view.ProposerID {
		return ErrWrongProposer(b.ProposerID, view.ProposerID)
	}
	if phase != PhaseProposeBlock {
		return ErrWrongPhase(phase.String())
	}
	if err = ValidateProposal(b, view, time.Now()); err != nil {
		if ev := e.detector.ReportInvalidProposal(b, ErrorMessage(err)); ev != nil {
			e.punish(r, ev)
		}
		signal(restartCh)
		return err
	}
	// install the proposal once per attempt
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view != view || r.proposal != nil {
		return nil
	}
	r.proposal = b
	proposals <- b
	return nil
}

// votePhase() collects the votes of the committee until the outcome is decided
func (e *Engine) votePhase(ctx context.Context, r *Round, block *lib.Block) (restart bool, err lib.ErrorI) {
	r.mu.Lock()
	votes := NewVoteSet(r.epoch, r.round, block.Hash, r.committee.Size(), e.config.ByzantineThreshold)
	for id := range r.banned {
		votes.Drop(id)
	}
	r.phase, r.votes = PhaseVote, votes
	view, committee, restartCh := r.view, r.committee, r.restart
	r.mu.Unlock()
	e.emit(r, lib.EventBlockProposed, block.ProposerID, fmt.Sprintf("block %s with %d txs", block.ShortHash(), len(block.Transactions)))
	e.emit(r, lib.EventPhaseChanged, "", PhaseVote.String())
	vCtx, cancel := context.WithTimeout(ctx, e.config.VotingTimeout())
	defer cancel()
	// request the votes of the in process members concurrently; remote members use SubmitVote
	g, gCtx := errgroup.WithContext(vCtx)
	for _, m := range committee.Members {
		p := e.Participant(m.ID)
		if p == nil {
			continue
		}
		g.Go(func() error {
			v, vErr := p.Vote(gCtx, block, view)
			if vErr != nil {
				e.log.Debugf("Member %s did not vote: %s", p.ID(), vErr.Error())
				return nil
			}
			if aErr := e.SubmitVote(v); aErr != nil {
				e.log.Debugf("Vote of %s rejected: %s", p.ID(), ErrorMessage(aErr))
			}
			return nil
		})
	}
	localDone := make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = g.Wait()
		close(localDone)
	}()
	waitLocal, localVoted := (<-chan struct{})(localDone), false
	for {
		t := votes.Tally()
		if t.Complete() || (t.Decided() && localVoted) {
			return false, nil
		}
		select {
		case <-votes.Changed():
		case <-waitLocal:
			localVoted, waitLocal = true, nil
		case <-restartCh:
			return true, nil
		case <-vCtx.Done():
			if ctx.Err() != nil {
				return false, ErrRoundCancelled()
			}
			if votes.Tally().Decided() {
				return false, nil
			}
			return false, ErrPhaseTimeout(PhaseVote.String())
		}
	}
}

// SubmitVote() accepts a vote for the live round; every authentic vote feeds the byzantine detector
func (e *Engine) SubmitVote(v *lib.Vote) lib.ErrorI {
	if err := v.Check(); err != nil {
		return err
	}
	r := e.current.Load()
	if r == nil {
		return ErrNoActiveRound()
	}
	r.mu.RLock()
	epoch, round, phase, committee, votes := r.epoch, r.round, r.phase, r.committee, r.votes
	r.mu.RUnlock()
	if v.Epoch != epoch {
		return ErrWrongEpoch(v.Epoch, epoch)
	}
	key, err := committee.PublicKey(v.ValidatorID)
	if err != nil {
		return err
	}
	if !v.VerifySignature(key) {
		return lib.ErrInvalidSignature()
	}
	// an identical re-delivery isn't an offense: the vote set decides whether it was already counted, so a vote
	// refused before the voting phase still counts when it is sent again
	if ev, _ := e.detector.ObserveVote(v); ev != nil {
		e.punish(r, ev)
		return ErrByzantineDetected(ev.ValidatorID, ev.Kind.String())
	}
	if phase != PhaseVote || votes == nil {
		return ErrWrongPhase(phase.String())
	}
	if v.Round != round {
		return ErrWrongRound(v.Round, round)
	}
	if err = votes.Add(v); err != nil {
		return err
	}
	e.metrics.UpdateVote(v.Approve)
	return nil
}

// finalizePhase() checks the quorum, pays the committee and commits the block
func (e *Engine) finalizePhase(ctx context.Context, r *Round) lib.ErrorI {
	r.setPhase(PhaseFinalize)
	e.emit(r, lib.EventPhaseChanged, "", PhaseFinalize.String())
	r.mu.RLock()
	block, votes, committee := r.proposal, r.votes, r.committee
	r.mu.RUnlock()
	t := votes.Tally()
	if !t.QuorumReached() {
		return ErrQuorumNotReached(t.Approvals, t.CommitteeSize)
	}
	approvals := votes.Approvals()
	commit := &lib.Commit{
		Block:         block,
		Approvals:     approvals,
		CommitteeSize: t.CommitteeSize,
		ApproveCount:  uint64(len(approvals)),
		RejectCount:   t.Rejections,
		Threshold:     t.Threshold,
	}
	fCtx, cancel := context.WithTimeout(ctx, e.config.FinalityTimeout())
	defer cancel()
	// rewards are journaled before the commit drains the registry journal and taken back if nothing is committed
	dist, err := e.staking.DistributeRewards(r.epoch, committee.Scores())
	if err != nil {
		e.log.Errorf("Distributing the rewards of epoch %d failed: %s", r.epoch, ErrorMessage(err))
	}
	if err = e.chain.Commit(fCtx, commit); err != nil {
		if rErr := e.staking.RevokeRewards(dist); rErr != nil {
			e.log.Errorf("Revoking the rewards of epoch %d failed: %s", r.epoch, ErrorMessage(rErr))
		}
		return err
	}
	if dist != nil {
		e.emit(r, lib.EventRewardsDistributed, "", fmt.Sprintf("%d of %d distributed to %d members", dist.Distributed, dist.Pool, len(dist.Shares)))
	}
	e.pool.Remove(block.Transactions)
	e.metrics.UpdateFinalized(len(block.Transactions))
	e.emit(r, lib.EventBlockFinalized, block.ProposerID, fmt.Sprintf("block %s with %d/%d approvals", block.ShortHash(), t.Approvals, t.CommitteeSize))
	return nil
}

// punish() emits, slashes and jails for a detected offense and drops the offender's vote from the live round
func (e *Engine) punish(r *Round, ev *lib.Evidence) {
	r.mu.Lock()
	r.evidence = append(r.evidence, ev)
	r.banned[ev.ValidatorID] = true
	votes := r.votes
	r.mu.Unlock()
	if votes != nil && ev.Round == votes.round {
		votes.Drop(ev.ValidatorID)
	}
	e.metrics.UpdateByzantine(ev.Kind)
	e.events.EmitEvent(&lib.Event{
		Type:        lib.EventByzantineDetected,
		Epoch:       ev.Epoch,
		Round:       ev.Round,
		Height:      ev.Height,
		ValidatorID: ev.ValidatorID,
		Message:     ev.Kind.String(),
		Evidence:    ev,
	})
	rec, err := e.staking.Slash(ev.ValidatorID, ev.Kind, ev.Epoch)
	if err != nil {
		e.log.Errorf("Slashing %s failed: %s", ev.ValidatorID, ErrorMessage(err))
		return
	}
	e.emit(r, lib.EventValidatorSlashed, ev.ValidatorID, fmt.Sprintf("%s slash of %d, stake now %d", rec.Severity, rec.Amount, rec.StakeAfter))
	removed, err := e.registry.Jail(ev.ValidatorID, ev.Epoch+e.config.JailEpochs)
	switch {
	case err != nil:
		e.log.Errorf("Jailing %s failed: %s", ev.ValidatorID, ErrorMessage(err))
	case removed:
		e.metrics.RemoveValidator(ev.ValidatorID)
		e.emit(r, lib.EventValidatorRemoved, ev.ValidatorID, "jailed indefinitely")
	default:
		e.emit(r, lib.EventValidatorJailed, ev.ValidatorID, fmt.Sprintf("until epoch %d", ev.Epoch+e.config.JailEpochs))
	}
}

// emit() sends a round scoped event
func (e *Engine) emit(r *Round, t lib.EventType, validatorID, msg string) {
	r.mu.RLock()
	epoch, round, height := r.epoch, r.round, r.height
	r.mu.RUnlock()
	e.events.EmitEvent(&lib.Event{Type: t, Epoch: epoch, Round: round, Height: height, ValidatorID: validatorID, Message: msg})
}

// CurrentSummary() returns the live round's summary, or the last completed round's, or nil
func (e *Engine) CurrentSummary() *RoundSummary {
	if r := e.current.Load(); r != nil {
		s := r.summary()
		s.Outcome = OutcomePending
		s.DurationMS = uint64(time.Since(r.startTime).Milliseconds())
		return s
	}
	return e.last.Load()
}

// LastSummary() returns the summary of the last completed round or nil
func (e *Engine) LastSummary() *RoundSummary { return e.last.Load() }

// Running() returns true while a round is live
func (e *Engine) Running() bool { return e.current.Load() != nil }

// Detector() exposes the byzantine detector
func (e *Engine) Detector() *Detector { return e.detector }

// AddParticipant() registers an in process participant
func (e *Engine) AddParticipant(p ParticipantI) {
	e.pMux.Lock()
	defer e.pMux.Unlock()
	e.participants[p.ID()] = p
}

// RemoveParticipant() forgets an in process participant
func (e *Engine) RemoveParticipant(id string) {
	e.pMux.Lock()
	defer e.pMux.Unlock()
	delete(e.participants, id)
}

// Participant() returns the in process participant of a validator or nil
func (e *Engine) Participant(id string) ParticipantI {
	e.pMux.RLock()
	defer e.pMux.RUnlock()
	return e.participants[id]
}

// Participants() returns every in process participant ordered by id
func (e *Engine) Participants() []ParticipantI {
	e.pMux.RLock()
	defer e.pMux.RUnlock()
	out := make([]ParticipantI, 0, len(e.participants))
	for _, p := range e.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// setPhase() advances the phase
func (r *Round) setPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

// isBanned() returns true if the member was punished during the round
func (r *Round) isBanned(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.banned[id]
}

// summary() snapshots the round
func (r *Round) summary() *RoundSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &RoundSummary{
		Epoch:     r.epoch,
		Round:     r.round,
		Height:    r.height,
		Phase:     r.phase.String(),
		Evidence:  len(r.evidence),
		Restarts:  r.restarts,
		StartTime: uint64(r.startTime.UnixMilli()),
	}
	if r.committee != nil {
		s.Committee, s.CommitteeSize = r.committee.IDs(), r.committee.Size()
	}
	if r.view != nil {
		s.ProposerID = r.view.ProposerID
	}
	if r.proposal != nil {
		s.BlockHash, s.TxCount = r.proposal.Hash, len(r.proposal.Transactions)
	}
	if r.votes != nil {
		t := r.votes.Tally()
		s.Approvals, s.Rejections = t.Approvals, t.Rejections
		s.ApprovalPercent, s.Participation = t.ApprovalPercent(), t.ParticipationPercent()
		s.ConsensusStrength = consensusStrength(r.votes.Approvals(), r.committee, t)
	}
	return s
}

// consensusStrength() scales the approval percentage by the stake weighted mean fitness of the approvers
func consensusStrength(approvals []*lib.Vote, committee *Committee, t Tally) float64 {
	if len(approvals) == 0 || committee == nil {
		return 0
	}
	scores, stakes := make([]float64, 0, len(approvals)), make([]float64, 0, len(approvals))
	for _, v := range approvals {
		m := committee.Member(v.ValidatorID)
		if m == nil {
			continue
		}
		scores, stakes = append(scores, float64(m.FitnessScore)), append(stakes, float64(m.Stake))
	}
	if len(scores) == 0 {
		return 0
	}
	return t.ApprovalPercent() * stat.Mean(scores, stakes) / lib.MaxScore
}

// signal() performs a non-blocking notification
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
