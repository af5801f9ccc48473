package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-verify-ledger/internal/application/verification"
	"github.com/go-verify-ledger/internal/domain"
)

// VerifyHandler serves code redemptions relayed by the chat gateway.
type VerifyHandler struct{ svc verification.Service }

func NewVerifyHandler(svc verification.Service) *VerifyHandler { return &VerifyHandler{svc: svc} }

// Redeem handles POST /v1/verify. Business outcomes are a 200. A body that
// fails validation is a 422, a throttled requester a 429, and a failure to
// persist a granted verification a 500. Validation happens in the service so
// that every parsed attempt is audited.
func (h *VerifyHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req domain.RedeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.Redeem(r.Context(), req)
	env := RedeemEnvelope{Outcome: out.Kind, Reply: out.Reply(), Identity: out.Identity}
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		env.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, env)
	case err != nil:
		slog.Error("redemption failed to persist", "requester_id", req.RequesterID, "err", err)
		env.Error = "verification could not be saved"
		writeJSON(w, http.StatusInternalServerError, env)
	case out.Kind == domain.OutcomeRateLimited:
		writeJSON(w, http.StatusTooManyRequests, env)
	default:
		writeJSON(w, http.StatusOK, env)
	}
}
