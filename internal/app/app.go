package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pokerjest/animeleech/internal/api"
	"github.com/pokerjest/animeleech/internal/config"
	"github.com/pokerjest/animeleech/internal/db"
	"github.com/pokerjest/animeleech/internal/downloader"
	"github.com/pokerjest/animeleech/internal/event"
	"github.com/pokerjest/animeleech/internal/governor"
	"github.com/pokerjest/animeleech/internal/launcher"
	"github.com/pokerjest/animeleech/internal/muxer"
	"github.com/pokerjest/animeleech/internal/store"
	"github.com/pokerjest/animeleech/internal/telegram"
	"github.com/pokerjest/animeleech/internal/uploader"
	"github.com/pokerjest/animeleech/internal/worker"
	"github.com/pokerjest/animeleech/pkg/rss"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// App owns every long-lived component of the bot.
type App struct {
	cfg      *config.Config
	conn     *gorm.DB
	store    *store.Store
	client   *telegram.Client
	search   *rss.Searcher
	orch     *worker.Orchestrator
	governor *governor.Governor
	server   *api.Server
	launcher *launcher.Manager
}

// New wires the components described by cfg. Nothing is started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Telegram.Token == "" {
		return nil, errors.New("telegram.token is required")
	}
	if cfg.Upload.Destination == "telegram" && cfg.Telegram.ChannelID == 0 {
		return nil, errors.New("telegram.channel_id is required when upload.destination is telegram")
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.Download.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download root: %w", err)
	}

	conn, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	st := store.New(conn)

	engine, err := downloader.New(cfg.Engine, cfg.Download.Root)
	if err != nil {
		_ = db.CloseDB(conn)
		return nil, err
	}

	client := telegram.NewClient(cfg.Telegram)
	transport, err := newTransport(ctx, cfg, client)
	if err != nil {
		_ = db.CloseDB(conn)
		return nil, err
	}

	bus := event.NewInMemoryBus()
	jobs := api.NewJobTracker()
	jobs.Attach(bus)

	orch := worker.NewOrchestrator(worker.Deps{
		Engine:   engine,
		Muxer:    muxer.New(cfg.Muxer, fs),
		Uploader: uploader.New(fs, transport, cfg.Upload),
		Store:    st,
		Fs:       fs,
		Bus:      bus,
		Recycler: worker.NewRecycler(cfg.Worker.TTL),
	}, worker.Options{
		Root:            cfg.Download.Root,
		PollInterval:    cfg.Download.PollInterval,
		ProgressStep:    cfg.Download.ProgressStep,
		MediaExtensions: cfg.Download.MediaExtensions,
	})

	return &App{
		cfg:      cfg,
		conn:     conn,
		store:    st,
		client:   client,
		search:   rss.NewSearcher(cfg.Search.FeedURL),
		orch:     orch,
		governor: NewGovernor(cfg, fs),
		server:   api.NewServer(cfg, st, jobs, bus),
		launcher: launcher.NewManager(cfg.Engine, cfg.Download.Root),
	}, nil
}

// NewGovernor builds the resource governor for cfg on the host.
func NewGovernor(cfg *config.Config, fs afero.Fs) *governor.Governor {
	return governor.New(cfg.Governor, cfg.Download.Root, fs, governor.NewHostInspector())
}

func newTransport(ctx context.Context, cfg *config.Config, client *telegram.Client) (uploader.Transport, error) {
	switch cfg.Upload.Destination {
	case "s3":
		s3c, err := uploader.NewS3Client(ctx, cfg.Upload.S3)
		if err != nil {
			return nil, err
		}
		return uploader.NewS3Transport(s3c, cfg.Upload.S3.Bucket, cfg.Upload.S3.Prefix), nil
	default:
		return uploader.NewChannelTransport(client, cfg.Telegram.ChannelID), nil
	}
}

// Run starts the bot and blocks until ctx is done or a worker restart is
// due. In the latter case it returns worker.ErrRestartRequested.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	pool := worker.NewPool(gctx, a.orch, a.cfg.Download.MaxConcurrent)
	bot := telegram.NewBot(a.client, pool, a.orch, a.search, a.store, a.cfg)

	g.Go(func() error { return a.launcher.Supervise(gctx) })
	g.Go(func() error { return a.governor.Run(gctx) })
	g.Go(func() error { return a.server.Run(gctx) })
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return awaitRestart(gctx, pool.Restart(), a.cfg.Worker.RestartDelay) })

	err := g.Wait()
	pool.Wait()
	return err
}

// awaitRestart returns worker.ErrRestartRequested delay after restart
// fires, or nil once ctx is done.
func awaitRestart(ctx context.Context, restart <-chan struct{}, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return nil
	case <-restart:
	}

	log.Warnf("♻️ Worker TTL reached, restarting in %s", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
		return worker.ErrRestartRequested
	}
}

func (a *App) Close() error {
	return db.CloseDB(a.conn)
}
