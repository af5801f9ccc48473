package domain

import (
	"fmt"
	"time"
)

// OutcomeKind enumerates the results of a redemption attempt. All of them are
// ordinary results, not errors.
type OutcomeKind string

const (
	OutcomeRejectedWrongContext OutcomeKind = "rejected_wrong_context"
	OutcomeNoMatch              OutcomeKind = "no_match"
	OutcomeNotMember            OutcomeKind = "not_member"
	OutcomeAlreadyVerified      OutcomeKind = "already_verified"
	OutcomeSuccess              OutcomeKind = "success"
	OutcomeSystemUnavailable    OutcomeKind = "system_unavailable"
	OutcomeRejectedRequest      OutcomeKind = "rejected_request"
	OutcomeRateLimited          OutcomeKind = "rate_limited"
)

// Outcome is the result of one redemption attempt.
type Outcome struct {
	Kind OutcomeKind
	// Identity is set for OutcomeSuccess and OutcomeAlreadyVerified.
	Identity string
	// Reason names the missing dependency for OutcomeSystemUnavailable.
	Reason string
}

// AuditDescription is the phrase written to the audit log.
func (o Outcome) AuditDescription() string {
	switch o.Kind {
	case OutcomeRejectedWrongContext:
		return "Used in server channel"
	case OutcomeNoMatch:
		return "Invalid or expired"
	case OutcomeNotMember:
		return "Not in server"
	case OutcomeAlreadyVerified:
		return fmt.Sprintf("Already verified (email: %s)", o.Identity)
	case OutcomeSuccess:
		return fmt.Sprintf("Verified successfully (email: %s)", o.Identity)
	case OutcomeRejectedRequest:
		return "Rejected request"
	case OutcomeRateLimited:
		return "Too many attempts"
	case OutcomeSystemUnavailable:
		if o.Reason != "" {
			return o.Reason
		}
		return "System unavailable"
	}
	return string(o.Kind)
}

// Reply is the message shown to the requester.
func (o Outcome) Reply() string {
	switch o.Kind {
	case OutcomeRejectedWrongContext:
		return "Please DM this command to the bot. It only works in private."
	case OutcomeNoMatch:
		return "Invalid or expired verification code."
	case OutcomeNotMember:
		return "You must be a member of the server to verify."
	case OutcomeAlreadyVerified:
		return "You are already verified!"
	case OutcomeSuccess:
		return fmt.Sprintf("Verification successful! Your email `%s` has been verified.", o.Identity)
	case OutcomeSystemUnavailable:
		return "Verification is temporarily unavailable. Please try again later."
	case OutcomeRejectedRequest:
		return "That does not look like a verification code. DM me `/verify YOURCODE`."
	case OutcomeRateLimited:
		return "Too many attempts. Please wait a minute and try again."
	}
	return ""
}

// GrantResult is what the platform reports when asked to grant the verified role.
type GrantResult int

const (
	GrantGranted GrantResult = iota
	GrantAlreadyHeld
	GrantMemberNotFound
	GrantRoleNotFound
	GrantGuildNotFound
	GrantPermissionDenied
)

func (g GrantResult) String() string {
	switch g {
	case GrantGranted:
		return "granted"
	case GrantAlreadyHeld:
		return "already_held"
	case GrantMemberNotFound:
		return "member_not_found"
	case GrantRoleNotFound:
		return "role_not_found"
	case GrantGuildNotFound:
		return "guild_not_found"
	case GrantPermissionDenied:
		return "permission_denied"
	}
	return "unknown"
}

// AuditRetention is the trailing window kept in the audit log.
const AuditRetention = 3 * 24 * time.Hour

// AuditEntry records one redemption attempt.
type AuditEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	ActorID       string    `json:"actor_id"`
	ActorName     string    `json:"actor_name,omitempty"`
	PresentedCode string    `json:"presented_code"`
	Outcome       string    `json:"outcome"`
}
