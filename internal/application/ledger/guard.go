package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-verify-ledger/internal/domain"
	"github.com/go-verify-ledger/internal/pkg/metrics"
)

// Store is the durable ledger backend. Load never fails; the status tells an
// empty ledger apart from an unreadable one. Save is all-or-nothing.
type Store interface {
	Load(ctx context.Context) (*domain.Ledger, domain.LoadStatus)
	Save(ctx context.Context, led *domain.Ledger) error
}

// Guard serialises every access to the store so that a read-modify-write
// cycle never interleaves with another one.
type Guard struct {
	mu      sync.Mutex
	store   Store
	metrics *metrics.Metrics
}

func NewGuard(store Store, m *metrics.Metrics) *Guard {
	return &Guard{store: store, metrics: m}
}

// Snapshot loads a fresh copy of the ledger. Callers may read and modify the
// copy freely; changes are not persisted.
func (g *Guard) Snapshot(ctx context.Context) (*domain.Ledger, domain.LoadStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.load(ctx)
}

// Update loads the ledger, applies fn and saves the result when fn reports a
// change. An error from fn aborts without saving. A failed save is returned
// wrapped in domain.ErrPersistence.
func (g *Guard) Update(ctx context.Context, fn func(led *domain.Ledger) (changed bool, err error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	led, _ := g.load(ctx)
	changed, err := fn(led)
	if err != nil || !changed {
		return err
	}
	if err := g.store.Save(ctx, led); err != nil {
		g.metrics.IncrementSaveFailures()
		slog.Error("ledger save failed", "err", err)
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}

func (g *Guard) load(ctx context.Context) (*domain.Ledger, domain.LoadStatus) {
	led, status := g.store.Load(ctx)
	g.metrics.ObserveLoad(status.String())
	if status == domain.LoadUnreadable {
		slog.Warn("ledger unreadable, continuing with an empty ledger")
	}
	return led, status
}
