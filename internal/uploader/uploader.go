package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pokerjest/animeleech/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	// ErrTransient marks a failure worth another attempt (network, 429, 5xx).
	ErrTransient = errors.New("transient upload failure")
	// ErrFileTooLarge is permanent; the destination refused the size.
	ErrFileTooLarge = errors.New("file too large for destination")
)

// Document is one file handed to a destination.
type Document struct {
	Name      string
	Size      int64
	Body      io.Reader
	Caption   string
	Thumbnail []byte
}

// Transport pushes one document to a destination.
type Transport interface {
	Send(ctx context.Context, doc Document) error
}

// Request is what the pipeline asks to upload.
type Request struct {
	Path      string
	Caption   string
	Thumbnail []byte
}

// Uploader sends files through a Transport with bounded retry.
type Uploader struct {
	fs        afero.Fs
	transport Transport
	attempts  uint
	backoff   time.Duration
}

func New(fs afero.Fs, transport Transport, cfg config.UploadConfig) *Uploader {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return &Uploader{
		fs:        fs,
		transport: transport,
		attempts:  uint(attempts),
		backoff:   cfg.Backoff,
	}
}

// Upload sends req.Path, retrying transient failures with a linearly growing
// backoff (base, 2*base, ...). Every attempt reopens the file.
func (u *Uploader) Upload(ctx context.Context, req Request) error {
	logger := log.WithField("path", req.Path)

	err := retry.Do(
		func() error {
			return u.send(ctx, req)
		},
		retry.Context(ctx),
		retry.Attempts(u.attempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return u.backoff * time.Duration(n+1)
		}),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WithField("attempt", n+1).Warnf("upload failed: %v", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filepath.Base(req.Path), err)
	}
	return nil
}

func (u *Uploader) send(ctx context.Context, req Request) error {
	f, err := u.fs.Open(req.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	return u.transport.Send(ctx, Document{
		Name:      filepath.Base(req.Path),
		Size:      info.Size(),
		Body:      f,
		Caption:   req.Caption,
		Thumbnail: req.Thumbnail,
	})
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrFileTooLarge) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}
	return false
}

// ClassifyStatus turns a destination's HTTP status into the upload error
// taxonomy. It returns nil for 2xx.
func ClassifyStatus(code int, description string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestEntityTooLarge || strings.Contains(strings.ToLower(description), "too large"):
		return fmt.Errorf("%w: %s", ErrFileTooLarge, description)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, code, description)
	default:
		return fmt.Errorf("upload rejected: status %d: %s", code, description)
	}
}
