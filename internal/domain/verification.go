package domain

import (
	"fmt"
	"strings"
	"time"
)

// RetentionHorizon is how long an issued code stays redeemable. Older records
// are purged whenever the ledger is loaded.
const RetentionHorizon = 72 * time.Hour

// DeliveryState tracks the out-of-band notification for a record.
// Delivered and Failed are terminal.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// Terminal reports whether no further delivery attempt may happen.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// VerificationRecord is one issued code, keyed by the identity (email) it was sent to.
type VerificationRecord struct {
	Identity string        `json:"identity"`
	Code     string        `json:"code"`
	IssuedAt time.Time     `json:"issued_at"`
	Handle   string        `json:"handle,omitempty"`
	State    DeliveryState `json:"delivery_state"`
}

// HasHandle reports whether the record names a notification target.
func (r *VerificationRecord) HasHandle() bool {
	return NormalizeHandle(r.Handle) != ""
}

// Transition moves a pending record to a terminal state. Any other move is rejected.
func (r *VerificationRecord) Transition(to DeliveryState) error {
	if r.State.Terminal() || !to.Terminal() {
		return fmt.Errorf("%s -> %s: %w", r.State, to, ErrInvalidTransition)
	}
	r.State = to
	return nil
}

// IsLive reports whether rec can still be redeemed at now.
func IsLive(rec VerificationRecord, now time.Time) bool {
	return now.Sub(rec.IssuedAt) <= RetentionHorizon
}

// NormalizeHandle trims and lower-cases a platform handle for comparison.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// SubmissionRequest is what the upstream form poller sends for each new form entry.
type SubmissionRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Handle string `json:"discord_tag" validate:"required,max=64"`
}

// Channel types a redemption can arrive through.
const (
	ChannelDirect = "dm"
	ChannelGuild  = "guild"
)

// RedeemRequest is a user presenting a code through the chat gateway.
type RedeemRequest struct {
	Code            string `json:"code" validate:"required,max=32"`
	RequesterID     string `json:"requester_id" validate:"required"`
	RequesterName   string `json:"requester_name"`
	RequesterHandle string `json:"requester_handle"`
	Channel         string `json:"channel" validate:"required,oneof=dm guild"`
}

// Message is the out-of-band notice sent to a resolved platform user.
type Message struct {
	Title string
	Body  string
	Color int
}
