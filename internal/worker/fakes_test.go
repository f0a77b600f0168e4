package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/pokerjest/animeleech/internal/downloader"
	"github.com/pokerjest/animeleech/internal/parser"
	"github.com/pokerjest/animeleech/internal/uploader"
	"github.com/spf13/afero"
)

const testRoot = "/dl"

type fakeEngine struct {
	mu        sync.Mutex
	id        string
	submitErr error
	statuses  []*downloader.Status
	statusErr error
	polls     int
	removed   bool
	removes   []string
}

func (e *fakeEngine) Submit(ctx context.Context, source string) (string, error) {
	if e.submitErr != nil {
		return "", e.submitErr
	}
	if source == "" {
		return "", downloader.ErrNoJob
	}
	return e.id, nil
}

func (e *fakeEngine) Status(ctx context.Context, id string) (*downloader.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.statusErr != nil {
		return nil, e.statusErr
	}
	if e.removed {
		return &downloader.Status{ID: id, State: downloader.StateRemoved}, nil
	}
	i := e.polls
	if i >= len(e.statuses) {
		i = len(e.statuses) - 1
	}
	e.polls++
	st := *e.statuses[i]
	return &st, nil
}

func (e *fakeEngine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	e.removes = append(e.removes, id)
	return nil
}

func (e *fakeEngine) Ping(ctx context.Context) error { return nil }

func completeAs(name string) []*downloader.Status {
	return []*downloader.Status{
		{Name: name, Progress: 40, State: downloader.StateActive},
		{Name: name, Progress: 100, State: downloader.StateComplete},
	}
}

type fakeMuxer struct {
	fs    afero.Fs
	fail  bool
	calls []string
}

func (m *fakeMuxer) Mux(ctx context.Context, video, subtitle, output string) error {
	m.calls = append(m.calls, filepath.Base(video)+"+"+filepath.Base(subtitle))
	if m.fail {
		return errors.New("ffmpeg exploded")
	}
	return afero.WriteFile(m.fs, output, []byte("muxed"), 0o644)
}

type fakeUploader struct {
	mu      sync.Mutex
	fs      afero.Fs
	paths   []string
	failFor map[string]error
	panicky bool
}

func (u *fakeUploader) Upload(ctx context.Context, req uploader.Request) error {
	if u.panicky {
		panic("boom")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, req.Path)
	if ok, _ := afero.Exists(u.fs, req.Path); !ok {
		return errors.New("missing file")
	}
	if err := u.failFor[filepath.Base(req.Path)]; err != nil {
		return err
	}
	return nil
}

func (u *fakeUploader) uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.paths))
	for _, p := range u.paths {
		out = append(out, filepath.Base(p))
	}
	return out
}

type fakeStore struct {
	mu       sync.Mutex
	history  map[string]int
	deleted  []string
	traffic  int64
	recorded []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{history: make(map[string]int)}
}

func (s *fakeStore) RecordUpload(ctx context.Context, userID int64, fileName string, size int64) (string, int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, fileName)
	series, ep, ok := parser.ParseEpisode(fileName)
	if !ok {
		return "", 0, false, nil
	}
	s.history[series] = ep
	return series, ep, true, nil
}

func (s *fakeStore) DeleteSeriesEntry(ctx context.Context, userID int64, series string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, series)
	s.deleted = append(s.deleted, series)
	return nil
}

func (s *fakeStore) AddTraffic(ctx context.Context, userID int64, down, up int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traffic += down
	return nil
}

func (s *fakeStore) GetThumbnail(ctx context.Context, userID int64) ([]byte, error) {
	return nil, nil
}

type rendered struct {
	text    string
	actions []Action
	final   bool
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []rendered
	err  error
}

func (s *recordingSink) RenderProgress(ctx context.Context, text string, actions []Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, rendered{text: text, actions: actions})
	return s.err
}

func (s *recordingSink) RenderFinal(ctx context.Context, text string, actions []Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, rendered{text: text, actions: actions, final: true})
	return s.err
}

func (s *recordingSink) last() rendered {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return rendered{}
	}
	return s.msgs[len(s.msgs)-1]
}

type harness struct {
	fs       afero.Fs
	engine   *fakeEngine
	muxer    *fakeMuxer
	uploader *fakeUploader
	store    *fakeStore
	sink     *recordingSink
	orch     *Orchestrator
}

func newHarness(statuses []*downloader.Status, ttl int) *harness {
	fs := afero.NewMemMapFs()
	h := &harness{
		fs:       fs,
		engine:   &fakeEngine{id: "gid-1", statuses: statuses},
		muxer:    &fakeMuxer{fs: fs},
		uploader: &fakeUploader{fs: fs},
		store:    newFakeStore(),
		sink:     &recordingSink{},
	}
	h.orch = NewOrchestrator(Deps{
		Engine:   h.engine,
		Muxer:    h.muxer,
		Uploader: h.uploader,
		Store:    h.store,
		Fs:       fs,
		Recycler: NewRecycler(ttl),
	}, Options{
		Root:         testRoot,
		PollInterval: time.Millisecond,
		ProgressStep: 5,
	})
	return h
}

func (h *harness) write(paths ...string) {
	for _, p := range paths {
		_ = afero.WriteFile(h.fs, p, []byte("data-"+filepath.Base(p)), 0o644)
	}
}

func (h *harness) run() Result {
	return h.orch.RunJob(context.Background(), Request{Source: "magnet:?xt=urn:btih:abc", UserID: 7, Sink: h.sink})
}
