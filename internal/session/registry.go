// Package session tracks in-flight downloads per user so /cancel can reach them.
package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// Download is one in-flight download registered for a user.
type Download struct {
	id        uint64
	userID    int64
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Cancelled reports whether the user asked to cancel this download.
func (d *Download) Cancelled() bool {
	return d.cancelled.Load()
}

// Registry maps users to their in-flight downloads.
type Registry struct {
	mu     sync.RWMutex
	seq    uint64
	active map[int64]map[uint64]*Download
}

func NewRegistry() *Registry {
	return &Registry{
		active: make(map[int64]map[uint64]*Download),
	}
}

// Begin marks a download as in flight for userID. The returned context is
// cancelled when the user cancels or when End is called.
func (r *Registry) Begin(ctx context.Context, userID int64) (context.Context, *Download) {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	d := &Download{id: r.seq, userID: userID, cancel: cancel}
	if r.active[userID] == nil {
		r.active[userID] = make(map[uint64]*Download)
	}
	r.active[userID][d.id] = d
	return ctx, d
}

// End clears the downloading flag for d and releases its context.
func (r *Registry) End(d *Download) {
	if d == nil {
		return
	}
	d.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	downloads := r.active[d.userID]
	delete(downloads, d.id)
	if len(downloads) == 0 {
		delete(r.active, d.userID)
	}
}

// Cancel flags and cancels every in-flight download of userID. It returns
// the number of downloads affected; zero means nothing was running.
func (r *Registry) Cancel(userID int64) int {
	r.mu.Lock()
	downloads := r.active[userID]
	delete(r.active, userID)
	r.mu.Unlock()

	for _, d := range downloads {
		d.cancelled.Store(true)
		d.cancel()
	}
	return len(downloads)
}

// Downloading reports whether userID has anything in flight.
func (r *Registry) Downloading(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active[userID]) > 0
}

// Active returns the total number of in-flight downloads.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, downloads := range r.active {
		n += len(downloads)
	}
	return n
}
