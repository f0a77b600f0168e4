package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pokerjest/animeleech/internal/downloader"
	"github.com/pokerjest/animeleech/internal/event"
	"github.com/pokerjest/animeleech/internal/muxer"
	"github.com/pokerjest/animeleech/internal/parser"
	"github.com/pokerjest/animeleech/internal/scanner"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var errNoStatus = errors.New("engine returned no status")

// Options are the orchestrator's tunables, usually taken from config.
type Options struct {
	Root            string
	PollInterval    time.Duration
	ProgressStep    float64
	MediaExtensions []string
}

// Deps are the collaborators a job runs against.
type Deps struct {
	Engine   downloader.Engine
	Muxer    muxer.Muxer
	Uploader Uploader
	Store    Store
	Fs       afero.Fs
	Bus      event.Bus
	Recycler *Recycler
}

// JobInfo describes a job that is currently running.
type JobInfo struct {
	JobID   string
	UserID  int64
	Name    string
	Started time.Time
}

// Orchestrator drives fetch jobs from submission to cleanup.
type Orchestrator struct {
	engine   downloader.Engine
	muxer    muxer.Muxer
	uploader Uploader
	store    Store
	fs       afero.Fs
	bus      event.Bus
	recycler *Recycler
	opts     Options

	mu     sync.Mutex
	active map[string]*task
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Muxer == nil {
		deps.Muxer = muxer.Disabled{}
	}
	if deps.Bus == nil {
		deps.Bus = event.Nop{}
	}
	if deps.Recycler == nil {
		deps.Recycler = NewRecycler(0)
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if len(opts.MediaExtensions) == 0 {
		opts.MediaExtensions = parser.DefaultMediaExtensions
	}
	return &Orchestrator{
		engine:   deps.Engine,
		muxer:    deps.Muxer,
		uploader: deps.Uploader,
		store:    deps.Store,
		fs:       deps.Fs,
		bus:      deps.Bus,
		recycler: deps.Recycler,
		opts:     opts,
		active:   make(map[string]*task),
	}
}

// task is the per-request state; only the RunJob goroutine mutates it,
// except name/dir which CancelJob reads.
type task struct {
	jobID   string
	userID  int64
	sink    StatusSink
	guard   *CleanupGuard
	started time.Time
	logger  *log.Entry

	mu   sync.Mutex
	name string
	dir  string
}

func (t *task) setName(root, name string) {
	dir := jobPath(root, name)
	t.mu.Lock()
	t.name = name
	if dir != "" {
		t.dir = dir
	}
	t.mu.Unlock()
	// the guard keeps every name the engine ever reported
	t.guard.Track(dir)
}

func (t *task) info() JobInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return JobInfo{JobID: t.jobID, UserID: t.userID, Name: t.name, Started: t.started}
}

// RunJob submits req.Source, monitors it to a terminal state, processes the
// produced files and always removes the job's files before returning.
func (o *Orchestrator) RunJob(ctx context.Context, req Request) (res Result) {
	sink := req.Sink
	if sink == nil {
		sink = nopSink{}
	}
	logger := log.WithField("user_id", req.UserID)

	jobID, err := o.engine.Submit(ctx, req.Source)
	if err != nil || jobID == "" {
		logger.Warnf("submit failed: %v", err)
		o.final(ctx, sink, msgSubmitFailed, nil)
		return Result{Outcome: SubmitFailed}
	}

	t := &task{
		jobID:   jobID,
		userID:  req.UserID,
		sink:    sink,
		guard:   NewCleanupGuard(o.fs),
		started: time.Now(),
		logger:  logger.WithField("job_id", jobID),
	}
	o.register(t)
	defer o.unregister(jobID)

	defer func() {
		if failed := t.guard.Run(); failed > 0 {
			t.logger.Warnf("cleanup left %d path(s) behind", failed)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithFields(log.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("critical error while running job")
			o.final(ctx, sink, msgCritical, nil)
			res = Result{JobID: jobID, Outcome: Critical}
		}
		o.bus.Publish(event.EventJobFinished, event.JobEvent{
			JobID:   jobID,
			UserID:  req.UserID,
			Name:    t.info().Name,
			Outcome: res.Outcome.String(),
			At:      time.Now(),
		})
		t.logger.WithField("outcome", res.Outcome).Info("job finished")
	}()

	o.bus.Publish(event.EventJobStarted, event.JobEvent{JobID: jobID, UserID: req.UserID, At: t.started})
	t.logger.Info("job submitted")
	// 先给出一条带取消按钮的状态，卡在 0% 的任务也能取消
	o.progress(ctx, sink, msgFetching, cancelActions(jobID))

	return o.run(ctx, t)
}

func (o *Orchestrator) run(ctx context.Context, t *task) Result {
	res := Result{JobID: t.jobID}

	st, err := o.monitor(ctx, t)
	switch {
	case ctx.Err() != nil:
		o.abandon(t)
		o.final(ctx, t.sink, interruptedText(ctx), nil)
		res.Outcome = Cancelled
		return res
	case err != nil:
		t.logger.Warnf("engine unreachable while polling: %v", err)
		o.final(ctx, t.sink, msgFailed, nil)
		res.Outcome = Failed
		return res
	case st.State == downloader.StateRemoved:
		o.final(ctx, t.sink, msgCancelled, nil)
		res.Outcome = Cancelled
		return res
	case st.State != downloader.StateComplete:
		t.logger.WithField("state", st.State).Warn("job did not complete")
		o.final(ctx, t.sink, msgFailed, nil)
		res.Outcome = Failed
		return res
	}

	return o.process(ctx, t, st, res)
}

// monitor polls until the job reaches a terminal state. A poll error ends
// the loop; so does ctx.
func (o *Orchestrator) monitor(ctx context.Context, t *task) (*downloader.Status, error) {
	throttle := NewThrottle(o.opts.ProgressStep)
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		st, err := o.engine.Status(ctx, t.jobID)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, errNoStatus
		}
		if st.Name != "" {
			t.setName(o.opts.Root, st.Name)
		}
		if st.State.Terminal() {
			return st, nil
		}

		if throttle.Allow(st.Progress) {
			o.progress(ctx, t.sink, ProgressText(st), cancelActions(t.jobID))
			o.bus.Publish(event.EventJobProgress, event.JobEvent{
				JobID:    t.jobID,
				UserID:   t.userID,
				Name:     st.Name,
				Progress: st.Progress,
				At:       time.Now(),
			})
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, t *task, st *downloader.Status, res Result) Result {
	base := jobPath(o.opts.Root, st.Name)
	if base == "" {
		o.final(ctx, t.sink, msgMissing, nil)
		res.Outcome = MissingOutput
		return res
	}
	t.guard.Track(base)
	if ok, _ := afero.Exists(o.fs, base); !ok {
		t.logger.WithField("path", base).Warn("job output missing")
		o.final(ctx, t.sink, msgMissing, nil)
		res.Outcome = MissingOutput
		return res
	}

	o.progress(ctx, t.sink, msgPreparing, nil)
	files := scanner.Discover(o.fs, base, o.opts.MediaExtensions)
	res.Total = len(files)
	if len(files) == 0 {
		o.final(ctx, t.sink, msgEmpty, nil)
		res.Outcome = EmptyOutput
		return res
	}
	o.progress(ctx, t.sink, fmt.Sprintf("Found %d files. Processing...", len(files)), nil)

	for i, path := range files {
		if ctx.Err() != nil {
			o.final(ctx, t.sink, interruptedText(ctx), nil)
			res.Outcome = Cancelled
			return res
		}
		fr := o.processFile(ctx, t, path, i, len(files))
		if !fr.uploaded {
			continue
		}
		res.Uploaded++
		if fr.tracked {
			res.Series, res.Episode = fr.series, fr.episode
		}
	}

	// 批量下载完成后删除该番剧的进度记录
	if len(files) > 1 && res.Series != "" {
		if err := o.store.DeleteSeriesEntry(ctx, t.userID, res.Series); err != nil {
			t.logger.Warnf("delete history for %q: %v", res.Series, err)
		}
		res.Series, res.Episode = "", 0
	}

	if o.recycler.Complete() {
		res.Restart = true
		t.logger.Warn("recycle threshold reached, requesting restart")
	}

	res.Outcome = Completed
	o.final(ctx, t.sink, summaryText(res), summaryActions(res))
	return res
}

// abandon removes the job from the engine after the caller gave up on it.
func (o *Orchestrator) abandon(t *task) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.engine.Remove(ctx, t.jobID); err != nil {
		t.logger.Debugf("remove abandoned job: %v", err)
	}
}

// CancelJob asks the engine to drop the job and deletes its known output in
// the background. The running monitor notices the removal on its next poll.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	if err := o.engine.Remove(ctx, jobID); err != nil {
		return fmt.Errorf("cancel %s: %w", jobID, err)
	}

	o.mu.Lock()
	t := o.active[jobID]
	o.mu.Unlock()
	if t == nil {
		return nil
	}

	t.mu.Lock()
	dir := t.dir
	t.mu.Unlock()
	if dir != "" {
		go removePaths(o.fs, dir)
	}
	return nil
}

// Lookup returns the running job with id jobID.
func (o *Orchestrator) Lookup(jobID string) (JobInfo, bool) {
	o.mu.Lock()
	t := o.active[jobID]
	o.mu.Unlock()
	if t == nil {
		return JobInfo{}, false
	}
	return t.info(), true
}

func (o *Orchestrator) register(t *task) {
	o.mu.Lock()
	o.active[t.jobID] = t
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(jobID string) {
	o.mu.Lock()
	delete(o.active, jobID)
	o.mu.Unlock()
}

// interruptedText tells a user cancel apart from the process shutting down
// for a recycle restart.
func interruptedText(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), ErrRestartRequested) {
		return msgShutdown
	}
	return msgCancelled
}

// progress and final swallow sink errors; a failed edit never stops a job.
func (o *Orchestrator) progress(ctx context.Context, sink StatusSink, text string, actions []Action) {
	if err := sink.RenderProgress(ctx, text, actions); err != nil {
		log.Debugf("render progress: %v", err)
	}
}

func (o *Orchestrator) final(ctx context.Context, sink StatusSink, text string, actions []Action) {
	// the final notice still goes out when the job's ctx is already cancelled
	if err := sink.RenderFinal(context.WithoutCancel(ctx), text, actions); err != nil {
		log.Debugf("render final: %v", err)
	}
}
