package handler

import (
	"net/http"

	"github.com/go-verify-ledger/internal/application/ledger"
	"github.com/go-verify-ledger/internal/domain"
	"github.com/go-verify-ledger/internal/pkg/validate"
)

// SubmissionHandler accepts form entries and issues verification codes.
type SubmissionHandler struct{ svc ledger.Service }

func NewSubmissionHandler(svc ledger.Service) *SubmissionHandler {
	return &SubmissionHandler{svc: svc}
}

func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeServiceError(w, err)
		return
	}
	rec, err := h.svc.Issue(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmissionEnvelope{
		Identity:  rec.Identity,
		Code:      rec.Code,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.IssuedAt.Add(domain.RetentionHorizon),
	})
}
