package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/animeleech/internal/config"
	"github.com/pokerjest/animeleech/internal/event"
	log "github.com/sirupsen/logrus"
)

// StatsSource is the slice of the store the health server reads.
type StatsSource interface {
	TotalUsers(ctx context.Context) (int64, error)
	TotalTraffic(ctx context.Context) (int64, int64, error)
}

// Server is the health and status HTTP server.
type Server struct {
	cfg     *config.Config
	stats   StatsSource
	jobs    *JobTracker
	bus     event.Bus
	started time.Time
}

func NewServer(cfg *config.Config, stats StatsSource, jobs *JobTracker, bus event.Bus) *Server {
	return &Server{cfg: cfg, stats: stats, jobs: jobs, bus: bus, started: time.Now()}
}

// InitRoutes registers every route on r.
func (s *Server) InitRoutes(r *gin.Engine) {
	r.GET("/", s.HealthHandler)
	r.GET("/health", s.HealthHandler)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/stats", s.StatsHandler)
		apiGroup.GET("/jobs", s.JobsHandler)
		apiGroup.GET("/events", s.SSEHandler)
	}
}

// Handler builds the gin engine with recovery and request logging.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	s.InitRoutes(r)
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("🌍 Health server on port %d", s.cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("http request")
	}
}
