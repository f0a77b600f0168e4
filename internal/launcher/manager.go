package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/pokerjest/animeleech/internal/config"
	log "github.com/sirupsen/logrus"
)

// ErrNotManaged is returned by Start when the engine runs elsewhere.
var ErrNotManaged = errors.New("launcher: engine is not managed")

// Manager runs aria2c as a child process for the lifetime of a context.
type Manager struct {
	cfg  config.EngineConfig
	root string

	// 测试时替换
	command func(ctx context.Context, name string, args ...string) *exec.Cmd

	mu   sync.Mutex
	wg   sync.WaitGroup
	err  error
	done chan struct{}
}

func NewManager(cfg config.EngineConfig, downloadRoot string) *Manager {
	return &Manager{cfg: cfg, root: downloadRoot, command: exec.CommandContext}
}

// Enabled reports whether the config asks for a managed aria2c.
func (m *Manager) Enabled() bool {
	return m.cfg.Managed && m.cfg.Kind == "aria2"
}

// Args builds the aria2c command line from the engine config.
func (m *Manager) Args() ([]string, error) {
	port, err := rpcPort(m.cfg.URL)
	if err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(m.root)
	if err != nil {
		return nil, err
	}
	args := []string{
		"--enable-rpc",
		"--rpc-listen-all=false",
		"--rpc-listen-port=" + port,
		"--dir=" + dir,
		"--seed-time=0",
		"--follow-torrent=mem",
		"--bt-save-metadata=false",
	}
	if m.cfg.Secret != "" {
		args = append(args, "--rpc-secret="+m.cfg.Secret)
	}
	return args, nil
}

func rpcPort(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("launcher: parse engine url: %w", err)
	}
	if p := u.Port(); p != "" {
		return p, nil
	}
	if u.Host == "" {
		return "", fmt.Errorf("launcher: engine url %q has no host", raw)
	}
	// aria2 default
	return "6800", nil
}

// Start launches aria2c bound to ctx. The process is killed when ctx is
// cancelled; Wait blocks until it has exited.
func (m *Manager) Start(ctx context.Context) error {
	if !m.Enabled() {
		return ErrNotManaged
	}
	args, err := m.Args()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	bin := m.cfg.BinPath
	if bin == "" {
		bin = "aria2c"
	}
	cmd := m.command(ctx, bin, args...)
	logger := log.WithField("component", "aria2c").WriterLevel(log.DebugLevel)
	cmd.Stdout = logger
	cmd.Stderr = logger

	if err := cmd.Start(); err != nil {
		logger.Close()
		return fmt.Errorf("failed to start aria2c: %w", err)
	}

	m.mu.Lock()
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		defer logger.Close()
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			log.Errorf("aria2c exited unexpectedly: %v", err)
		}
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
	}()

	log.WithFields(log.Fields{"pid": cmd.Process.Pid, "dir": m.root}).Info("aria2c started")
	return nil
}

// Done is closed when the started process exits. Nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Wait blocks until the process has exited and returns its exit error.
func (m *Manager) Wait() error {
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Supervise starts the engine and blocks until ctx is cancelled. An
// unexpected exit of aria2c is returned as an error.
func (m *Manager) Supervise(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		if errors.Is(err, ErrNotManaged) {
			return nil
		}
		return err
	}
	select {
	case <-ctx.Done():
		_ = m.Wait()
		return nil
	case <-m.Done():
		if err := m.Wait(); err != nil {
			return fmt.Errorf("aria2c exited: %w", err)
		}
		return errors.New("aria2c exited")
	}
}

// Addr is the local RPC listen address, handy for readiness checks.
func (m *Manager) Addr() (string, error) {
	port, err := rpcPort(m.cfg.URL)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort("127.0.0.1", port), nil
}
