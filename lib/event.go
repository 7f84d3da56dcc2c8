package lib

import (
	"sync"
	"sync/atomic"
)

/* This file defines consensus events and a non-blocking, bounded event bus that fans them out to subscribers */

// EventType names what happened
type EventType string

const (
	EventRoundStarted        EventType = "round-started"
	EventPhaseChanged        EventType = "phase-changed"
	EventBlockProposed       EventType = "block-proposed"
	EventBlockFinalized      EventType = "block-finalized"
	EventRoundAborted        EventType = "round-aborted"
	EventByzantineDetected   EventType = "byzantine-detected"
	EventValidatorSlashed    EventType = "validator-slashed"
	EventValidatorJailed     EventType = "validator-jailed"
	EventValidatorReleased   EventType = "validator-released"
	EventValidatorRegistered EventType = "validator-registered"
	EventValidatorRemoved    EventType = "validator-removed"
	EventRewardsDistributed  EventType = "rewards-distributed"
	EventForkResolved        EventType = "fork-resolved"
	EventCheckpointCreated   EventType = "checkpoint-created"
	EventRecoveryCompleted   EventType = "recovery-completed"
	EventSchedulerHalted     EventType = "scheduler-halted"
)

// Event is a fire-and-forget notification of a consensus occurrence
type Event struct {
	Type        EventType `json:"type"`
	Epoch       uint64    `json:"epoch"`
	Round       uint64    `json:"round"`
	Height      uint64    `json:"height,omitempty"`
	ValidatorID string    `json:"validatorID,omitempty"`
	Message     string    `json:"message,omitempty"`
	Evidence    *Evidence `json:"evidence,omitempty"`
	Time        uint64    `json:"time"` // unix milliseconds
}

var _ EventSinkI = &EventBus{}

// EventBus retains the most recent events in a ring and pushes every event to subscribers without blocking
type EventBus struct {
	mu          sync.RWMutex
	ring        []*Event               // fixed capacity ring of recent events
	next        int                    // the next write position of the ring
	full        bool                   // whether the ring has wrapped
	subscribers map[uint64]chan *Event // subscriber id -> buffered channel
	nextSubID   uint64
	dropped     atomic.Uint64 // events not delivered to a slow subscriber
	total       atomic.Uint64 // events emitted
}

// NewEventBus() creates a bus that retains the last `capacity` events
func NewEventBus(capacity int) *EventBus {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBus{
		ring:        make([]*Event, capacity),
		subscribers: make(map[uint64]chan *Event),
	}
}

// EmitEvent() records the event and offers it to each subscriber; a full subscriber misses the event
func (b *EventBus) EmitEvent(e *Event) {
	if b == nil || e == nil {
		return
	}
	if e.Time == 0 {
		e.Time = NowMS()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// overwrite the oldest slot
	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	b.total.Add(1)
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Recent() returns up to n of the most recent events, oldest first
func (b *EventBus) Recent(n int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	size := b.next
	if b.full {
		size = len(b.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]*Event, 0, n)
	// walk backwards from the newest event, then reverse the window
	for i := 0; i < n; i++ {
		idx := (b.next - 1 - i + len(b.ring)) % len(b.ring)
		out = append(out, b.ring[idx])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Filter() returns the retained events of a type, oldest first
func (b *EventBus) Filter(t EventType) (out []*Event) {
	for _, e := range b.Recent(0) {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return
}

// Subscribe() registers a subscriber channel of the given buffer size and returns it with its cancel function
func (b *EventBus) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Event, buffer)
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped() is the number of deliveries skipped because a subscriber was full
func (b *EventBus) Dropped() uint64 { return b.dropped.Load() }

// Total() is the number of events ever emitted
func (b *EventBus) Total() uint64 { return b.total.Load() }
