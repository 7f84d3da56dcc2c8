package fitness

import (
	"math/rand"
	"sync"

	"github.com/canopy-network/pulse/lib"
)

/*
	Fitness scores are produced outside of consensus. This package provides the two scorers the node ships with:
	a Book of scores reported by an external oracle through the admin surfaces, and a bounded RandomWalk used by
	the simulator.
*/

var (
	_ lib.FitnessScorerI = &Book{}
	_ lib.FitnessScorerI = &RandomWalk{}
)

// Book is the latest score reported for each validator
type Book struct {
	mu     sync.RWMutex
	scores map[string]uint64
}

// NewBook() creates an empty score book
func NewBook() *Book { return &Book{scores: make(map[string]uint64)} }

// Report() records the latest score of a validator
func (b *Book) Report(validatorID string, score uint64) lib.ErrorI {
	if validatorID == "" {
		return lib.ErrEmptyValidatorID()
	}
	if score > lib.MaxScore {
		return lib.ErrInvalidScore(score)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scores[validatorID] = score
	return nil
}

// Score() returns the reported score; a validator nobody reported on has no score
func (b *Book) Score(validatorID string) (uint64, lib.ErrorI) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	score, found := b.scores[validatorID]
	if !found {
		return 0, lib.ErrValidatorNotExists(validatorID)
	}
	return score, nil
}

// Forget() drops the score of a validator
func (b *Book) Forget(validatorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.scores, validatorID)
}

// Len() is the number of scored validators
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.scores)
}

// RandomWalk moves each validator's score by a bounded random step on every query
type RandomWalk struct {
	mu     sync.Mutex
	rng    *rand.Rand
	scores map[string]uint64
	start  uint64 // the first score of a validator
	step   uint64 // the largest move per query
	min    uint64
	max    uint64
}

// NewRandomWalk() creates a deterministic walk for the seed, clamped to [min, max]
func NewRandomWalk(seed int64, start, step, min, max uint64) *RandomWalk {
	if max > lib.MaxScore {
		max = lib.MaxScore
	}
	if min > max {
		min = max
	}
	return &RandomWalk{
		rng:    rand.New(rand.NewSource(seed)),
		scores: make(map[string]uint64),
		start:  clamp(start, min, max),
		step:   step,
		min:    min,
		max:    max,
	}
}

// Score() advances and returns the validator's score
func (w *RandomWalk) Score(validatorID string) (uint64, lib.ErrorI) {
	w.mu.Lock()
	defer w.mu.Unlock()
	score, found := w.scores[validatorID]
	if !found {
		score = w.start
	} else if w.step > 0 {
		delta := int64(w.rng.Intn(int(2*w.step+1))) - int64(w.step)
		next := int64(score) + delta
		if next < 0 {
			next = 0
		}
		score = clamp(uint64(next), w.min, w.max)
	}
	w.scores[validatorID] = score
	return score, nil
}

// Report() pins the score of a validator like Set() but rejects scores a Book would reject
func (w *RandomWalk) Report(validatorID string, score uint64) lib.ErrorI {
	if validatorID == "" {
		return lib.ErrEmptyValidatorID()
	}
	if score > lib.MaxScore {
		return lib.ErrInvalidScore(score)
	}
	w.Set(validatorID, score)
	return nil
}

// Set() pins the current score of a validator; the walk continues from it
func (w *RandomWalk) Set(validatorID string, score uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scores[validatorID] = clamp(score, w.min, w.max)
}

// clamp() bounds v to [min, max]
func clamp(v, min, max uint64) uint64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
