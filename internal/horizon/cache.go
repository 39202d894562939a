// Package horizon holds the action cache: a FIFO of the flat command vectors
// produced by one inference call. One network round trip is amortized over H
// simulation ticks by serving one queued command per tick.
package horizon

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheExhausted means Pop was called on an empty cache. Callers must
	// check Empty and refill first; hitting this is a caller bug.
	ErrCacheExhausted = errors.New("horizon: cache exhausted")

	// ErrInvalidRefill means Refill was called while entries remain queued.
	ErrInvalidRefill = errors.New("horizon: refill on non-empty cache")

	// ErrBadTrajectory means a refill did not carry exactly H commands.
	ErrBadTrajectory = errors.New("horizon: bad trajectory length")
)

// Cache is the EMPTY / FILLED(n) state machine. Not safe for concurrent use;
// the single control loop owns it.
type Cache struct {
	h       int
	pending [][]float64
	served  int // pops since the last refill, 0..h
}

// New returns an empty cache with horizon h.
func New(h int) (*Cache, error) {
	if h <= 0 {
		return nil, fmt.Errorf("horizon: h must be > 0, got %d", h)
	}
	return &Cache{h: h}, nil
}

// Horizon is H, the number of commands one refill must carry.
func (c *Cache) Horizon() int { return c.h }

// Len is the number of unconsumed commands, 0..H.
func (c *Cache) Len() int { return len(c.pending) }

// Empty reports whether the next tick needs a fresh inference.
func (c *Cache) Empty() bool { return len(c.pending) == 0 }

// Refill atomically enqueues all H commands of one trajectory, in order.
// Valid only from the empty state; a partial refill is impossible, a refill
// over pending entries is a programming error.
func (c *Cache) Refill(commands [][]float64) error {
	if !c.Empty() {
		return fmt.Errorf("%w: %d entries remain", ErrInvalidRefill, len(c.pending))
	}
	if len(commands) != c.h {
		return fmt.Errorf("%w: got %d commands, horizon is %d", ErrBadTrajectory, len(commands), c.h)
	}
	c.pending = make([][]float64, c.h)
	copy(c.pending, commands)
	c.served = 0
	return nil
}

// Pop returns the oldest queued command and its index within the current
// trajectory (0..H-1).
func (c *Cache) Pop() ([]float64, int, error) {
	if c.Empty() {
		return nil, 0, ErrCacheExhausted
	}
	cmd := c.pending[0]
	c.pending = c.pending[1:]
	idx := c.served
	c.served++
	return cmd, idx, nil
}

// Reset drains the cache at episode start.
func (c *Cache) Reset() {
	c.pending = nil
	c.served = 0
}
