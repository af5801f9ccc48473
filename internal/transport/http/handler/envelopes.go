package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-verify-ledger/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// RedeemEnvelope is returned to the chat gateway for every redemption attempt.
type RedeemEnvelope struct {
	Outcome  domain.OutcomeKind `json:"outcome"`
	Reply    string             `json:"reply"`
	Identity string             `json:"identity,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// SubmissionEnvelope carries a freshly issued code back to the form poller,
// which mails it to the submitted address.
type SubmissionEnvelope struct {
	Identity  string    `json:"email"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LedgerEntry is an admin view of one record. The code is masked.
type LedgerEntry struct {
	Identity  string               `json:"email"`
	CodeHint  string               `json:"code_hint"`
	Handle    string               `json:"discord_tag,omitempty"`
	State     domain.DeliveryState `json:"delivery_state"`
	IssuedAt  time.Time            `json:"issued_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// LedgerEnvelope wraps the admin ledger listing.
type LedgerEnvelope struct {
	Status string        `json:"load_status"`
	Count  int           `json:"count"`
	Data   []LedgerEntry `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpStatus maps domain sentinel errors to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPlatformUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal failures get a
// generic message.
func writeServiceError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}

const maxBodyBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
