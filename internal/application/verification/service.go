package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-verify-ledger/internal/domain"
	"github.com/go-verify-ledger/internal/pkg/metrics"
	"github.com/go-verify-ledger/internal/pkg/validate"
)

// RoleGranter grants the verified role to a platform user.
type RoleGranter interface {
	GrantRole(ctx context.Context, platformUserID string) (domain.GrantResult, error)
}

type Ledger interface {
	Snapshot(ctx context.Context) (*domain.Ledger, domain.LoadStatus)
	Update(ctx context.Context, fn func(led *domain.Ledger) (bool, error)) error
}

type Auditor interface {
	Record(ctx context.Context, e domain.AuditEntry) error
}

// Limiter throttles attempts per requester.
type Limiter interface {
	Allow(key string) bool
}

type Service interface {
	// Redeem checks a presented code and, on a match, grants the verified
	// role and consumes the record. Business results are Outcome values; the
	// error is non-nil for a malformed request (domain.ErrBadRequest, with
	// OutcomeRejectedRequest) or when the ledger could not be persisted.
	Redeem(ctx context.Context, req domain.RedeemRequest) (domain.Outcome, error)
}

type ServiceDeps struct {
	Ledger  Ledger
	Granter RoleGranter
	Audit   Auditor
	// Limiter is optional; nil disables throttling.
	Limiter Limiter
	Policy  domain.MatchPolicy
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type service struct {
	ledger  Ledger
	granter RoleGranter
	audit   Auditor
	limiter Limiter
	policy  domain.MatchPolicy
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(d ServiceDeps) Service {
	s := &service{
		ledger:  d.Ledger,
		granter: d.Granter,
		audit:   d.Audit,
		limiter: d.Limiter,
		policy:  d.Policy,
		metrics: d.Metrics,
		now:     d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) Redeem(ctx context.Context, req domain.RedeemRequest) (domain.Outcome, error) {
	out, err := s.redeem(ctx, req)

	s.metrics.ObserveRedemption(string(out.Kind))
	entry := domain.AuditEntry{
		Timestamp:     s.now().UTC(),
		ActorID:       truncate(req.RequesterID),
		ActorName:     truncate(req.RequesterName),
		PresentedCode: truncate(req.Code),
		Outcome:       out.AuditDescription(),
	}
	if entry.ActorID == "" {
		entry.ActorID = "unknown"
	}
	// The recorder logs and counts its own failures.
	_ = s.audit.Record(context.WithoutCancel(ctx), entry)
	return out, err
}

func (s *service) redeem(ctx context.Context, req domain.RedeemRequest) (domain.Outcome, error) {
	if err := validate.Struct(req); err != nil {
		return domain.Outcome{Kind: domain.OutcomeRejectedRequest}, err
	}
	if s.limiter != nil && !s.limiter.Allow(req.RequesterID) {
		return domain.Outcome{Kind: domain.OutcomeRateLimited}, nil
	}
	if req.Channel != domain.ChannelDirect {
		return domain.Outcome{Kind: domain.OutcomeRejectedWrongContext}, nil
	}

	led, _ := s.ledger.Snapshot(ctx)
	identity, ok := led.Match(req.Code, req.RequesterHandle, s.policy, s.now())
	if !ok {
		return domain.Outcome{Kind: domain.OutcomeNoMatch}, nil
	}
	matched, _ := led.Get(identity)
	code := matched.Code

	result, err := s.granter.GrantRole(ctx, req.RequesterID)
	if err != nil {
		slog.Error("role grant failed", "requester_id", req.RequesterID, "err", err)
		return domain.Outcome{Kind: domain.OutcomeSystemUnavailable, Reason: "Role grant failed"}, nil
	}
	switch result {
	case domain.GrantMemberNotFound:
		return domain.Outcome{Kind: domain.OutcomeNotMember}, nil
	case domain.GrantGuildNotFound:
		return domain.Outcome{Kind: domain.OutcomeSystemUnavailable, Reason: "Server not found"}, nil
	case domain.GrantRoleNotFound:
		return domain.Outcome{Kind: domain.OutcomeSystemUnavailable, Reason: "Role not found"}, nil
	case domain.GrantPermissionDenied:
		return domain.Outcome{Kind: domain.OutcomeSystemUnavailable, Reason: "Missing permission to assign role"}, nil
	case domain.GrantAlreadyHeld:
		return domain.Outcome{Kind: domain.OutcomeAlreadyVerified, Identity: identity}, nil
	case domain.GrantGranted:
	default:
		return domain.Outcome{Kind: domain.OutcomeSystemUnavailable, Reason: fmt.Sprintf("Unexpected grant result %s", result)}, nil
	}

	out := domain.Outcome{Kind: domain.OutcomeSuccess, Identity: identity}
	err = s.ledger.Update(context.WithoutCancel(ctx), func(led *domain.Ledger) (bool, error) {
		rec, ok := led.Get(identity)
		if !ok {
			slog.Info("redeemed record already removed", "identity", identity)
			return false, nil
		}
		if rec.Code != code {
			slog.Info("record reissued meanwhile, keeping it", "identity", identity)
			return false, nil
		}
		return led.Delete(identity), nil
	})
	if err != nil {
		return out, fmt.Errorf("consume code for %s: %w", identity, err)
	}
	slog.Info("verification succeeded", "identity", identity, "requester_id", req.RequesterID)
	return out, nil
}

const maxAuditField = 64

// truncate bounds caller-supplied text before it reaches the audit log.
func truncate(v string) string {
	r := []rune(v)
	if len(r) <= maxAuditField {
		return v
	}
	return string(r[:maxAuditField]) + "…"
}
