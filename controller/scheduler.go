package controller

import (
	"context"
	"sync"
	"time"

	"github.com/canopy-network/pulse/bft"
	"github.com/canopy-network/pulse/checkpoint"
	"github.com/canopy-network/pulse/lib"
)

/*
	The epoch scheduler runs one consensus round per epoch on its own goroutine:

	1) Housekeeping : release expired jail sentences, prune the Byzantine history, expire stale transactions
	2) Round        : drive the round state machine through its phases against the canonical head
	3) Checkpoint   : every `checkpointIntervalEpochs`, snapshot the registry and collect signatures

	An aborted round leaves the chain untouched and the next epoch simply tries again. A failure of durable storage
	or a corrupt checkpoint halts the scheduler until the node recovers from the crash.
*/

// gcIntervalEpochs is how many epochs pass between store garbage collections
const gcIntervalEpochs = 100

// Handle is a running scheduler
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	err    lib.ErrorI // the fatal error that halted the scheduler
}

// Stop() cancels the scheduler and waits for the current round to wind down
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done() is closed once the scheduler exits
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err() returns the fatal error that halted the scheduler or nil
func (h *Handle) Err() lib.ErrorI {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// exited() returns true once the scheduler goroutine returned
func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Start() launches the epoch scheduler; cancelling the context has the same effect as Stop()
func (c *Controller) Start(ctx context.Context) (*Handle, lib.ErrorI) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.running() {
		return nil, lib.ErrAlreadyRunning()
	}
	// a halted node must recover first
	if c.halted != nil {
		return nil, ErrHalted(bft.ErrorMessage(c.halted))
	}
	if err := c.Config.Validate(); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	c.handle = h
	go c.run(runCtx, h)
	c.log.Infof("Scheduler started with an epoch of %s", c.Config.EpochDuration())
	return h, nil
}

// Stop() stops the scheduler and waits for it to exit
func (c *Controller) Stop() lib.ErrorI {
	c.lifecycle.Lock()
	h := c.handle
	c.lifecycle.Unlock()
	if h == nil || h.exited() {
		return lib.ErrNotRunning()
	}
	h.Stop()
	c.Metrics.UpdateNodeMetrics(false, c.Health().Score, c.Pool.Len(), c.Bus.Dropped())
	c.log.Info("Scheduler stopped")
	return nil
}

// Running() returns true while the scheduler goroutine is alive
func (c *Controller) Running() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.running()
}

// running() is Running() for callers holding the lifecycle lock
func (c *Controller) running() bool { return c.handle != nil && !c.handle.exited() }

// Halted() returns the fatal error that stopped the scheduler or nil
func (c *Controller) Halted() lib.ErrorI {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.halted
}

// run() executes an epoch immediately and then one per tick; ticks missed by a long round are dropped
func (c *Controller) run(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer lib.CatchPanic(c.log)
	ticker := time.NewTicker(c.Config.EpochDuration())
	defer ticker.Stop()
	for {
		if err := c.runEpoch(ctx); err != nil {
			c.halt(h, err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runEpoch() executes one epoch; only fatal errors are returned
func (c *Controller) runEpoch(ctx context.Context) lib.ErrorI {
	if ctx.Err() != nil {
		return nil
	}
	epoch := c.epoch.Add(1)
	c.Registry.SetEpoch(epoch)
	c.housekeeping(epoch)
	summary, err := c.Engine.RunRound(ctx, epoch)
	c.stats.record(summary, err)
	if err != nil {
		if isFatal(err) {
			return err
		}
		c.log.Debugf("Epoch %d ended without a block: %s", epoch, bft.ErrorMessage(err))
	}
	if c.Checkpointer.Due(epoch) && ctx.Err() == nil {
		if err = c.checkpoint(ctx, epoch); err != nil {
			if isFatal(err) {
				return err
			}
			c.log.Warnf("Checkpoint of epoch %d failed: %s", epoch, bft.ErrorMessage(err))
		}
	}
	c.Metrics.UpdateNodeMetrics(true, c.Health().Score, c.Pool.Len(), c.Bus.Dropped())
	return nil
}

// housekeeping() runs the per epoch maintenance before the round
func (c *Controller) housekeeping(epoch uint64) {
	for _, id := range c.Registry.ReleaseExpired(epoch) {
		c.Bus.EmitEvent(&lib.Event{
			Type:        lib.EventValidatorReleased,
			Epoch:       epoch,
			ValidatorID: id,
			Message:     "jail sentence served",
		})
		c.log.Infof("Validator %s released from jail", id)
	}
	if pruned := c.Engine.Detector().Prune(epoch); pruned > 0 {
		c.log.Debugf("Pruned %d history entries", pruned)
	}
	if expired := c.Pool.Expire(time.Now()); expired > 0 {
		c.log.Debugf("Expired %d pending transactions", expired)
	}
	if epoch%gcIntervalEpochs == 0 {
		if err := c.store.GarbageCollect(); err != nil {
			c.log.Warnf("Store garbage collection failed: %s", err.Error())
		}
	}
}

// checkpoint() snapshots the registry and the head and collects the signatures of the in process validators
func (c *Controller) checkpoint(ctx context.Context, epoch uint64) lib.ErrorI {
	// the head may not move between the snapshot and the signatures
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	height, head := c.Head()
	_, err := c.Checkpointer.Create(ctx, epoch, height, head, c.signers())
	return err
}

// signers() returns the in process participants as checkpoint signers
func (c *Controller) signers() (signers []checkpoint.SignerI) {
	for _, p := range c.Engine.Participants() {
		signers = append(signers, p)
	}
	return
}

// halt() records the fatal error and publishes it
func (c *Controller) halt(h *Handle, err lib.ErrorI) {
	c.lifecycle.Lock()
	c.halted = err
	c.lifecycle.Unlock()
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	c.Bus.EmitEvent(&lib.Event{
		Type:    lib.EventSchedulerHalted,
		Epoch:   c.epoch.Load(),
		Message: bft.ErrorMessage(err),
	})
	c.Metrics.UpdateNodeMetrics(false, 0, c.Pool.Len(), c.Bus.Dropped())
	c.log.Errorf("Scheduler halted: %s", bft.ErrorMessage(err))
}

// isFatal() returns true for errors that leave the durable state unknown
func isFatal(err lib.ErrorI) bool {
	if err == nil {
		return false
	}
	switch err.Module() {
	case lib.StorageModule:
		return true
	case lib.CheckpointModule:
		return err.Code() == lib.CodeCorruptCheckpoint || err.Code() == lib.CodeCorruptState
	}
	return false
}
