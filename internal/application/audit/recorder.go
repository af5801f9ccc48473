package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-verify-ledger/internal/domain"
	"github.com/go-verify-ledger/internal/pkg/metrics"
)

// Log is the durable audit trail. Every redemption attempt must reach it.
type Log interface {
	Append(ctx context.Context, e domain.AuditEntry) error
}

// Sink receives a copy of each entry on a best-effort basis.
type Sink interface {
	Emit(ctx context.Context, e domain.AuditEntry) error
}

// Recorder writes entries to the log and fans them out to sinks.
type Recorder struct {
	log     Log
	sinks   []Sink
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRecorder(log Log, m *metrics.Metrics, sinks ...Sink) *Recorder {
	return &Recorder{log: log, sinks: sinks, metrics: m, now: time.Now}
}

// Record stamps e if needed and appends it. Only a failed log write is
// returned; sink failures are logged.
func (r *Recorder) Record(ctx context.Context, e domain.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	var logErr error
	if err := r.log.Append(ctx, e); err != nil {
		r.metrics.IncrementAuditFailures()
		slog.Error("audit log write failed", "actor_id", e.ActorID, "outcome", e.Outcome, "err", err)
		logErr = fmt.Errorf("append audit entry: %w", err)
	}
	for _, s := range r.sinks {
		if err := s.Emit(ctx, e); err != nil {
			slog.Warn("audit sink failed", "actor_id", e.ActorID, "err", err)
		}
	}
	return logErr
}
