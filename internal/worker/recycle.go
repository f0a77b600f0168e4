package worker

import "sync"

// Recycler counts completed jobs and reports once when the TTL is reached.
type Recycler struct {
	mu    sync.Mutex
	ttl   int
	count int
	fired bool
}

// NewRecycler returns a counter; ttl <= 0 disables recycling.
func NewRecycler(ttl int) *Recycler {
	return &Recycler{ttl: ttl}
}

// Complete records one successful job. It returns true exactly once, on the
// job that brings the count to the TTL.
func (r *Recycler) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	if r.ttl <= 0 || r.fired || r.count < r.ttl {
		return false
	}
	r.fired = true
	return true
}

func (r *Recycler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
