package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-verify-ledger/internal/domain"
	"github.com/go-verify-ledger/internal/pkg/id"
	"github.com/go-verify-ledger/internal/pkg/metrics"
)

// Resolver maps a platform handle to a platform user ID. ok=false means the
// handle does not belong to anyone reachable. A domain.ErrPlatformUnavailable
// error means no handle can be resolved right now.
type Resolver interface {
	Resolve(ctx context.Context, handle string) (platformID string, ok bool, err error)
}

type Notifier interface {
	Deliver(ctx context.Context, platformID string, msg domain.Message) error
}

// Ledger is the guarded ledger the loop reads from and merges into.
type Ledger interface {
	Snapshot(ctx context.Context) (*domain.Ledger, domain.LoadStatus)
	Update(ctx context.Context, fn func(led *domain.Ledger) (bool, error)) error
}

const (
	defaultInterval = 60 * time.Second
	attemptTimeout  = 30 * time.Second
)

var DefaultMessage = domain.Message{
	Title: "Student Verification",
	Body: "Hi there! Thanks for submitting the student verification form.\n\n" +
		"We've sent a verification code to your school email address.\n\n" +
		"Please check your inbox (and your junk folder) and then DM me: `/verify YOURCODE` to complete the process.",
	Color: 0xCEB888,
}

type Config struct {
	Interval time.Duration
	Message  domain.Message
}

// ScanReport summarises one pass over the ledger.
type ScanReport struct {
	ScanID    string `json:"scan_id"`
	Examined  int    `json:"examined"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Deferred  int    `json:"deferred"`
	Aborted   bool   `json:"aborted"`
}

// Loop notifies the owners of pending records exactly once. A record leaves
// Pending after one attempt whatever its result.
type Loop struct {
	ledger   Ledger
	resolver Resolver
	notifier Notifier
	cfg      Config
	metrics  *metrics.Metrics

	// scanMu keeps a manually triggered scan from overlapping a scheduled one.
	scanMu sync.Mutex
}

func New(led Ledger, r Resolver, n Notifier, cfg Config, m *metrics.Metrics) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Message.Body == "" {
		cfg.Message = DefaultMessage
	}
	return &Loop{ledger: led, resolver: r, notifier: n, cfg: cfg, metrics: m}
}

// Run scans immediately and then once per interval until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("delivery loop started", "interval", l.cfg.Interval)
	l.runOnce(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("delivery loop stopped")
			return nil
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	report, err := l.Scan(ctx)
	if err != nil {
		slog.Error("delivery scan failed", "scan_id", report.ScanID, "err", err)
		return
	}
	if report.Delivered+report.Failed+report.Deferred > 0 {
		slog.Info("delivery scan finished",
			"scan_id", report.ScanID,
			"delivered", report.Delivered,
			"failed", report.Failed,
			"deferred", report.Deferred,
		)
	}
}

type transition struct {
	code string
	to   domain.DeliveryState
}

// Scan makes one pass. Network calls run against a snapshot without holding
// the ledger; the resulting state changes are merged back in a single save.
// A change is applied only if the record still exists with the same code and
// is still pending.
func (l *Loop) Scan(ctx context.Context) (ScanReport, error) {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	start := time.Now()
	defer func() { l.metrics.ObserveScan(time.Since(start).Seconds()) }()

	report := ScanReport{ScanID: id.New()}
	snap, _ := l.ledger.Snapshot(ctx)

	changes := make(map[string]transition)
	var abortErr error
	for _, rec := range snap.Records() {
		if ctx.Err() != nil {
			break
		}
		if rec.State.Terminal() || !rec.HasHandle() {
			continue
		}
		report.Examined++

		to, err := l.attempt(ctx, rec)
		if errors.Is(err, domain.ErrPlatformUnavailable) {
			abortErr = err
			report.Aborted = true
			break
		}
		if err != nil {
			report.Deferred++
			l.metrics.ObserveDelivery("deferred")
			slog.Warn("could not resolve handle, will retry", "identity", rec.Identity, "handle", rec.Handle, "err", err)
			continue
		}
		changes[rec.Identity] = transition{code: rec.Code, to: to}
		if to == domain.DeliveryDelivered {
			report.Delivered++
		} else {
			report.Failed++
		}
	}

	if len(changes) > 0 {
		if err := l.ledger.Update(context.WithoutCancel(ctx), mergeTransitions(changes)); err != nil {
			return report, fmt.Errorf("persist delivery states: %w", err)
		}
	}
	if abortErr != nil {
		return report, fmt.Errorf("delivery scan stopped: %w", abortErr)
	}
	return report, nil
}

func mergeTransitions(changes map[string]transition) func(*domain.Ledger) (bool, error) {
	return func(led *domain.Ledger) (bool, error) {
		changed := false
		for identity, c := range changes {
			rec, ok := led.Get(identity)
			if !ok || rec.Code != c.code {
				slog.Info("record changed during delivery, skipping", "identity", identity)
				continue
			}
			if err := rec.Transition(c.to); err != nil {
				slog.Info("record already settled, skipping", "identity", identity, "err", err)
				continue
			}
			changed = true
		}
		return changed, nil
	}
}

// attempt resolves and notifies one record. It returns the terminal state to
// record, or an error when the record must stay pending. Attempts are not
// cut short by ctx cancellation.
func (l *Loop) attempt(ctx context.Context, rec domain.VerificationRecord) (to domain.DeliveryState, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("delivery attempt panicked", "identity", rec.Identity, "panic", r)
			l.metrics.ObserveDelivery("failed")
			to, err = domain.DeliveryFailed, nil
		}
	}()

	platformID, ok, err := l.resolver.Resolve(ctx, domain.NormalizeHandle(rec.Handle))
	if err != nil {
		return "", err
	}
	if !ok {
		slog.Info("no platform user for handle, will not retry", "identity", rec.Identity, "handle", rec.Handle)
		l.metrics.ObserveDelivery("unresolved")
		return domain.DeliveryFailed, nil
	}
	if err := l.notifier.Deliver(ctx, platformID, l.cfg.Message); err != nil {
		slog.Warn("could not notify user, will not retry", "identity", rec.Identity, "handle", rec.Handle, "err", err)
		l.metrics.ObserveDelivery("failed")
		return domain.DeliveryFailed, nil
	}
	l.metrics.ObserveDelivery("delivered")
	return domain.DeliveryDelivered, nil
}
