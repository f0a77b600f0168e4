package worker

import (
	"context"
	"errors"

	"github.com/pokerjest/animeleech/internal/uploader"
)

// ErrRestartRequested is returned up to main once the recycle threshold is
// reached. The process manager is expected to start a fresh process.
var ErrRestartRequested = errors.New("worker restart requested")

// ActionKind tells the chat adapter what a button should do.
type ActionKind string

const (
	ActionCancel ActionKind = "cancel" // Value: job id
	ActionNext   ActionKind = "next"   // Value: search query for the next episode
)

// Action is one inline button attached to a status message.
type Action struct {
	Label string
	Kind  ActionKind
	Value string
}

// StatusSink renders job status back to the requester. Implementations are
// best-effort; callers ignore their errors.
type StatusSink interface {
	RenderProgress(ctx context.Context, text string, actions []Action) error
	RenderFinal(ctx context.Context, text string, actions []Action) error
}

type nopSink struct{}

func (nopSink) RenderProgress(context.Context, string, []Action) error { return nil }
func (nopSink) RenderFinal(context.Context, string, []Action) error    { return nil }

// Request is one fetch request coming from the chat side.
type Request struct {
	Source string // magnet link, torrent URL or direct URL
	UserID int64
	Sink   StatusSink
}

// Outcome is the terminal branch a job ended in.
type Outcome int

const (
	Completed Outcome = iota
	SubmitFailed
	Failed
	Cancelled
	MissingOutput
	EmptyOutput
	Critical
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case SubmitFailed:
		return "submit_failed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case MissingOutput:
		return "missing_output"
	case EmptyOutput:
		return "empty_output"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Result summarises one RunJob call.
type Result struct {
	JobID    string
	Outcome  Outcome
	Total    int // media files discovered
	Uploaded int
	Series   string // last tracked series, empty after batch cleanup
	Episode  int
	Restart  bool // recycle threshold reached by this job
}

// Uploader sends one finished file.
type Uploader interface {
	Upload(ctx context.Context, req uploader.Request) error
}

// Store is the persisted per-user state the pipeline touches.
type Store interface {
	RecordUpload(ctx context.Context, userID int64, fileName string, size int64) (series string, episode int, ok bool, err error)
	DeleteSeriesEntry(ctx context.Context, userID int64, series string) error
	AddTraffic(ctx context.Context, userID int64, down, up int64) error
	GetThumbnail(ctx context.Context, userID int64) ([]byte, error)
}
