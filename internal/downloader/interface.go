package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pokerjest/animeleech/internal/config"
)

// State mirrors the engine's job vocabulary.
type State string

const (
	StatePending  State = "pending"
	StateActive   State = "active"
	StateComplete State = "complete"
	StateFailed   State = "failed"
	StateRemoved  State = "removed" // 用户取消
)

// Terminal reports whether the monitor loop should stop on this state.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateRemoved
}

var (
	// ErrNoJob is returned by Submit when the engine handed back no job handle.
	ErrNoJob = errors.New("engine returned no job")
	// ErrJobNotFound means the engine no longer knows the job.
	ErrJobNotFound = errors.New("job not found")
)

// Status is a single engine-reported snapshot of a job. Progress, Rate and ETA
// are advisory only.
type Status struct {
	ID             string
	Name           string
	Progress       float64 // 0-100
	Rate           string
	ETA            string
	TotalBytes     int64
	CompletedBytes int64
	State          State
}

// Engine 定义下载引擎通用接口 (aria2 / qBittorrent / Transmission)
type Engine interface {
	// Submit adds a magnet link, torrent URL or direct URL and returns the job id.
	Submit(ctx context.Context, source string) (string, error)
	// Status polls one job. An error means the engine could not be reached.
	Status(ctx context.Context, id string) (*Status, error)
	// Remove cancels the job; the next Status reports StateRemoved.
	Remove(ctx context.Context, id string) error
	// 简单的连通性测试
	Ping(ctx context.Context) error
}

// New builds the engine selected by cfg.Kind. Jobs are saved under root.
func New(cfg config.EngineConfig, root string) (Engine, error) {
	switch cfg.Kind {
	case "", "aria2":
		return NewAria2Client(cfg.URL, cfg.Secret, root), nil
	case "qbittorrent":
		return NewQBittorrentClient(cfg.URL, cfg.Username, cfg.Password, root), nil
	case "transmission":
		return NewTransmissionClient(cfg.URL, cfg.Username, cfg.Password, root)
	default:
		return nil, fmt.Errorf("unsupported engine kind %q", cfg.Kind)
	}
}

func formatRate(bytesPerSec int64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return humanize.Bytes(uint64(bytesPerSec)) + "/s"
}

func formatETA(seconds int64) string {
	if seconds < 0 {
		return "N/A"
	}
	return (time.Duration(seconds) * time.Second).String()
}

func etaFrom(total, completed, rate int64) string {
	if rate <= 0 || total <= 0 || completed > total {
		return "N/A"
	}
	return formatETA((total - completed) / rate)
}

func percent(total, completed int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(completed) * 100 / float64(total)
	if p > 100 {
		p = 100
	}
	return p
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
