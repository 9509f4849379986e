package provision

import (
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/robbyt/go-loglater"
	"github.com/robbyt/go-loglater/storage"
)

// Attempt is one EnsureReady call. Its log records are kept so a failed
// provisioning run can be replayed in full after the fact.
type Attempt struct {
	ID        uuid.UUID
	Root      string
	StartedAt time.Time

	logger       *slog.Logger
	logCollector *loglater.LogCollector
}

func newAttempt(root string, handler slog.Handler) *Attempt {
	id := uuid.Must(uuid.NewV6())
	collector := loglater.NewLogCollector(handler)
	return &Attempt{
		ID:           id,
		Root:         root,
		StartedAt:    time.Now(),
		logger:       slog.New(collector).WithGroup("provision").With("attempt", id.String(), "root", root),
		logCollector: collector,
	}
}

// Logs returns the records captured during the attempt.
func (a *Attempt) Logs() []storage.Record {
	return a.logCollector.GetLogs()
}

// PlaybackLogs replays the attempt's records to handler.
func (a *Attempt) PlaybackLogs(handler slog.Handler) error {
	return a.logCollector.PlayLogs(handler)
}

// Duration is the time elapsed since the attempt started.
func (a *Attempt) Duration() time.Duration {
	return time.Since(a.StartedAt)
}
