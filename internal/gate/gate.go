// Package gate bounds the number of simultaneous downloads per user.
package gate

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const DefaultCapacity = 3

type slot struct {
	sem  *semaphore.Weighted
	held atomic.Int64
}

// Gate holds one weighted semaphore per user, created on first use.
// Waiters are not guaranteed FIFO across users.
type Gate struct {
	capacity int64

	mu    sync.Mutex
	slots map[int64]*slot
}

func New(capacity int64) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{
		capacity: capacity,
		slots:    make(map[int64]*slot),
	}
}

func (g *Gate) slot(userID int64) *slot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.slots[userID]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(g.capacity)}
		g.slots[userID] = s
	}
	return s
}

// Acquire blocks until the user has a free slot or ctx is done. The
// returned release func is safe to call more than once.
func (g *Gate) Acquire(ctx context.Context, userID int64) (func(), error) {
	s := g.slot(userID)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	s.held.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.held.Add(-1)
			s.sem.Release(1)
		})
	}, nil
}

// InFlight reports how many slots the user currently holds.
func (g *Gate) InFlight(userID int64) int {
	g.mu.Lock()
	s, ok := g.slots[userID]
	g.mu.Unlock()
	if !ok {
		return 0
	}
	return int(s.held.Load())
}

// Capacity returns the per-user slot count.
func (g *Gate) Capacity() int64 {
	return g.capacity
}
