package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-verify-ledger/internal/domain"
	"github.com/go-verify-ledger/internal/pkg/token"
)

const (
	defaultCodeLength = 6
	maxCodeAttempts   = 10
)

type Service interface {
	// Issue stores a fresh pending record for req and returns it, code included.
	// Issuing again for the same identity replaces the earlier record.
	Issue(ctx context.Context, req domain.SubmissionRequest) (*domain.VerificationRecord, error)
	// List returns the live records in insertion order.
	List(ctx context.Context) ([]domain.VerificationRecord, domain.LoadStatus)
}

type ServiceDeps struct {
	Guard      *Guard
	CodeLength int
	Now        func() time.Time
}

type service struct {
	guard      *Guard
	codeLength int
	now        func() time.Time
}

func NewService(d ServiceDeps) Service {
	s := &service{guard: d.Guard, codeLength: d.CodeLength, now: d.Now}
	if s.codeLength <= 0 {
		s.codeLength = defaultCodeLength
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) Issue(ctx context.Context, req domain.SubmissionRequest) (*domain.VerificationRecord, error) {
	identity := strings.TrimSpace(req.Email)
	if identity == "" {
		return nil, fmt.Errorf("email required: %w", domain.ErrBadRequest)
	}

	var issued domain.VerificationRecord
	err := s.guard.Update(ctx, func(led *domain.Ledger) (bool, error) {
		now := s.now().UTC()
		code, err := s.uniqueCode(led, now)
		if err != nil {
			return false, err
		}
		issued = domain.VerificationRecord{
			Identity: identity,
			Code:     code,
			IssuedAt: now,
			Handle:   strings.TrimSpace(req.Handle),
			State:    domain.DeliveryPending,
		}
		led.Put(issued)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("verification code issued", "identity", identity)
	return &issued, nil
}

func (s *service) uniqueCode(led *domain.Ledger, now time.Time) (string, error) {
	for range maxCodeAttempts {
		code, err := token.NewCode(s.codeLength)
		if err != nil {
			return "", err
		}
		if !led.HasCode(code, now) {
			return code, nil
		}
	}
	return "", fmt.Errorf("no unused code after %d attempts: %w", maxCodeAttempts, domain.ErrConflict)
}

func (s *service) List(ctx context.Context) ([]domain.VerificationRecord, domain.LoadStatus) {
	led, status := s.guard.Snapshot(ctx)
	return led.Records(), status
}
