package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-verify-ledger/internal/application/delivery"
	"github.com/go-verify-ledger/internal/application/ledger"
	"github.com/go-verify-ledger/internal/domain"
)

// DeliveryScanner runs one delivery pass on demand.
type DeliveryScanner interface {
	Scan(ctx context.Context) (delivery.ScanReport, error)
}

// LedgerHandler exposes admin views of the ledger and the delivery loop.
type LedgerHandler struct {
	svc     ledger.Service
	scanner DeliveryScanner
}

func NewLedgerHandler(svc ledger.Service, scanner DeliveryScanner) *LedgerHandler {
	return &LedgerHandler{svc: svc, scanner: scanner}
}

func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, status := h.svc.List(r.Context())
	data := make([]LedgerEntry, 0, len(recs))
	for _, rec := range recs {
		data = append(data, LedgerEntry{
			Identity:  rec.Identity,
			CodeHint:  maskCode(rec.Code),
			Handle:    rec.Handle,
			State:     rec.State,
			IssuedAt:  rec.IssuedAt,
			ExpiresAt: rec.IssuedAt.Add(domain.RetentionHorizon),
		})
	}
	writeJSON(w, http.StatusOK, LedgerEnvelope{Status: status.String(), Count: len(data), Data: data})
}

// Scan handles POST /v1/delivery/scan. A pass cut short by the platform still
// reports what it managed.
func (h *LedgerHandler) Scan(w http.ResponseWriter, r *http.Request) {
	report, err := h.scanner.Scan(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, domain.ErrPlatformUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, report)
	default:
		writeServiceError(w, err)
	}
}

func maskCode(code string) string {
	if len(code) <= 2 {
		return strings.Repeat("*", len(code))
	}
	return code[:2] + strings.Repeat("*", len(code)-2)
}
