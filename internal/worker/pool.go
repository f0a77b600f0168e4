package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Runner executes one request to completion.
type Runner interface {
	RunJob(ctx context.Context, req Request) Result
}

// Pool runs requests concurrently, at most size at a time, each under its own
// cancellable context derived from the pool's.
type Pool struct {
	ctx    context.Context
	runner Runner
	sem    chan struct{}

	mu       sync.Mutex
	tasks    map[string]context.CancelFunc
	draining bool
	wg       sync.WaitGroup

	restart     chan struct{}
	restartOnce sync.Once
}

func NewPool(ctx context.Context, runner Runner, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		ctx:     ctx,
		runner:  runner,
		sem:     make(chan struct{}, size),
		tasks:   make(map[string]context.CancelFunc),
		restart: make(chan struct{}),
	}
}

// Submit queues req and returns its task id. Once a restart has been
// requested no new work is accepted.
func (p *Pool) Submit(req Request) (string, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return "", ErrRestartRequested
	}
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(p.ctx)
	p.tasks[id] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx, id, req)
	return id, nil
}

func (p *Pool) run(ctx context.Context, id string, req Request) {
	defer p.wg.Done()
	defer p.forget(id)

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-p.sem }()
	if ctx.Err() != nil {
		return
	}

	res := p.runner.RunJob(ctx, req)
	if res.Restart {
		p.requestRestart()
	}
}

func (p *Pool) forget(id string) {
	p.mu.Lock()
	cancel := p.tasks[id]
	delete(p.tasks, id)
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pool) requestRestart() {
	p.restartOnce.Do(func() {
		p.mu.Lock()
		p.draining = true
		p.mu.Unlock()
		log.Warn("worker pool draining for restart")
		close(p.restart)
	})
}

// Cancel cancels the task's context. It reports false for unknown ids.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.Lock()
	cancel, ok := p.tasks[taskID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Restart is closed once a job reaches the recycle threshold.
func (p *Pool) Restart() <-chan struct{} {
	return p.restart
}

// Running is the number of queued plus running tasks.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
