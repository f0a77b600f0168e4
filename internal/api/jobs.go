package api

import (
	"sort"
	"sync"
	"time"

	"github.com/pokerjest/animeleech/internal/event"
)

// finishedRetention bounds how long a finished job id is remembered so a
// late progress event cannot resurrect it.
const finishedRetention = 10 * time.Minute

// ActiveJob is one row of /api/jobs.
type ActiveJob struct {
	JobID    string    `json:"job_id"`
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name,omitempty"`
	Progress float64   `json:"progress"`
	Started  time.Time `json:"started"`
	Updated  time.Time `json:"updated"`
}

// JobTracker keeps a live view of running jobs built from bus events.
// Handlers run concurrently and in no particular order.
type JobTracker struct {
	mu       sync.Mutex
	active   map[string]*ActiveJob
	finished map[string]time.Time
	now      func() time.Time
}

func NewJobTracker() *JobTracker {
	return &JobTracker{
		active:   make(map[string]*ActiveJob),
		finished: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Attach subscribes the tracker to every job topic on bus.
func (t *JobTracker) Attach(bus event.Bus) {
	for _, topic := range []event.EventType{event.EventJobStarted, event.EventJobProgress, event.EventJobFinished} {
		bus.Subscribe(topic, t.Handle)
	}
}

// Handle applies one event.
func (t *JobTracker) Handle(e event.Event) {
	je, ok := e.Payload.(event.JobEvent)
	if !ok || je.JobID == "" {
		return
	}
	at := je.At
	if at.IsZero() {
		at = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()

	if e.Type == event.EventJobFinished {
		delete(t.active, je.JobID)
		t.finished[je.JobID] = t.now()
		return
	}
	if _, done := t.finished[je.JobID]; done {
		return
	}

	job, ok := t.active[je.JobID]
	if !ok {
		job = &ActiveJob{JobID: je.JobID, UserID: je.UserID, Started: at}
		t.active[je.JobID] = job
	}
	if e.Type == event.EventJobStarted && at.Before(job.Started) {
		job.Started = at
	}
	if at.Before(job.Updated) {
		// stale out-of-order update
		return
	}
	job.Updated = at
	if je.Name != "" {
		job.Name = je.Name
	}
	if e.Type == event.EventJobProgress {
		job.Progress = je.Progress
	}
}

func (t *JobTracker) prune() {
	cutoff := t.now().Add(-finishedRetention)
	for id, at := range t.finished {
		if at.Before(cutoff) {
			delete(t.finished, id)
		}
	}
}

// Snapshot returns the active jobs ordered by start time.
func (t *JobTracker) Snapshot() []ActiveJob {
	t.mu.Lock()
	out := make([]ActiveJob, 0, len(t.active))
	for _, j := range t.active {
		out = append(out, *j)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].Started.Equal(out[k].Started) {
			return out[i].JobID < out[k].JobID
		}
		return out[i].Started.Before(out[k].Started)
	})
	return out
}

func (t *JobTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
