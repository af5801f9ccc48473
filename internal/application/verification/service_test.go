package verification

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-verify-ledger/internal/application/audit"
	"github.com/go-verify-ledger/internal/application/ledger"
	"github.com/go-verify-ledger/internal/domain"
	"github.com/go-verify-ledger/internal/infrastructure/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// --- fakes ---

type memLedger struct {
	mu      sync.Mutex
	led     *domain.Ledger
	saveErr error
	saves   int
}

func newMemLedger(recs ...domain.VerificationRecord) *memLedger {
	led := domain.NewLedger()
	for _, r := range recs {
		led.Put(r)
	}
	return &memLedger{led: led}
}

func (m *memLedger) Snapshot(context.Context) (*domain.Ledger, domain.LoadStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.led.Clone(), domain.LoadOK
}

func (m *memLedger) Update(_ context.Context, fn func(*domain.Ledger) (bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.led.Clone()
	changed, err := fn(work)
	if err != nil || !changed {
		return err
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.led = work
	return nil
}

type mockGranter struct{ mock.Mock }

func (m *mockGranter) GrantRole(ctx context.Context, platformUserID string) (domain.GrantResult, error) {
	args := m.Called(ctx, platformUserID)
	return args.Get(0).(domain.GrantResult), args.Error(1)
}

type captureAuditor struct {
	entries []domain.AuditEntry
}

func (c *captureAuditor) Record(_ context.Context, e domain.AuditEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

func seed() *memLedger {
	return newMemLedger(domain.VerificationRecord{
		Identity: "a@x.edu", Code: "Z9Q2KD", IssuedAt: testNow, Handle: "alice", State: domain.DeliveryPending,
	})
}

func newService(l Ledger, g RoleGranter, a Auditor) Service {
	return NewService(ServiceDeps{
		Ledger:  l,
		Granter: g,
		Audit:   a,
		Now:     func() time.Time { return testNow },
	})
}

func redeemReq(code, handle string) domain.RedeemRequest {
	return domain.RedeemRequest{
		Code:            code,
		RequesterID:     "1001",
		RequesterName:   "alice",
		RequesterHandle: handle,
		Channel:         domain.ChannelDirect,
	}
}

// --- Redeem ---

func TestRedeem_LowercaseCodeSucceedsAndConsumesRecord(t *testing.T) {
	led := seed()
	g := &mockGranter{}
	g.On("GrantRole", mock.Anything, "1001").Return(domain.GrantGranted, nil)
	a := &captureAuditor{}

	out, err := newService(led, g, a).Redeem(context.Background(), redeemReq("z9q2kd", "alice"))

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Equal(t, "a@x.edu", out.Identity)
	_, ok := led.led.Get("a@x.edu")
	assert.False(t, ok)
	require.Len(t, a.entries, 1)
	assert.Equal(t, "Verified successfully (email: a@x.edu)", a.entries[0].Outcome)
	assert.Equal(t, "z9q2kd", a.entries[0].PresentedCode)
	assert.Equal(t, "1001", a.entries[0].ActorID)
}

func TestRedeem_UnknownCodeIsNoMatch(t *testing.T) {
	led := seed()
	g := &mockGranter{}
	a := &captureAuditor{}

	out, err := newService(led, g, a).Redeem(context.Background(), redeemReq("NOPE00", "alice"))

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoMatch, out.Kind)
	assert.Equal(t, 1, led.led.Len())
	assert.Equal(t, 0, led.saves)
	require.Len(t, a.entries, 1)
	assert.Equal(t, "Invalid or expired", a.entries[0].Outcome)
	g.AssertNotCalled(t, "GrantRole", mock.Anything, mock.Anything)
}

func TestRedeem_OtherRequesterHandleIsNoMatch(t *testing.T) {
	led := seed()
	g := &mockGranter{}
	a := &captureAuditor{}

	out, err := newService(led, g, a).Redeem(context.Background(), redeemReq("Z9Q2KD", "mallory"))

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoMatch, out.Kind)
	assert.Equal(t, 1, led.led.Len())
}

func TestRedeem_GuildChannelRejectedBeforeLedger(t *testing.T) {
	led := seed()
	a := &captureAuditor{}
	req := redeemReq("Z9Q2KD", "alice")
	req.Channel = domain.ChannelGuild

	out, err := newService(led, &mockGranter{}, a).Redeem(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejectedWrongContext, out.Kind)
	assert.Equal(t, 1, led.led.Len())
	require.Len(t, a.entries, 1)
	assert.Equal(t, "Used in server channel", a.entries[0].Outcome)
}

func TestRedeem_GrantResults(t *testing.T) {
	cases := []struct {
		name       string
		result     domain.GrantResult
		grantErr   error
		wantKind   domain.OutcomeKind
		wantAudit  string
		wantRecord bool
	}{
		{"not member", domain.GrantMemberNotFound, nil, domain.OutcomeNotMember, "Not in server", true},
		{"already verified", domain.GrantAlreadyHeld, nil, domain.OutcomeAlreadyVerified, "Already verified (email: a@x.edu)", true},
		{"role missing", domain.GrantRoleNotFound, nil, domain.OutcomeSystemUnavailable, "Role not found", true},
		{"guild missing", domain.GrantGuildNotFound, nil, domain.OutcomeSystemUnavailable, "Server not found", true},
		{"no permission", domain.GrantPermissionDenied, nil, domain.OutcomeSystemUnavailable, "Missing permission to assign role", true},
		{"platform error", domain.GrantGranted, errors.New("502"), domain.OutcomeSystemUnavailable, "Role grant failed", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			led := seed()
			g := &mockGranter{}
			g.On("GrantRole", mock.Anything, "1001").Return(tc.result, tc.grantErr)
			a := &captureAuditor{}

			out, err := newService(led, g, a).Redeem(context.Background(), redeemReq("Z9Q2KD", "alice"))

			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, out.Kind)
			require.Len(t, a.entries, 1)
			assert.Equal(t, tc.wantAudit, a.entries[0].Outcome)
			_, ok := led.led.Get("a@x.edu")
			assert.Equal(t, tc.wantRecord, ok)
		})
	}
}

func TestRedeem_RecordGoneBeforeDeleteIsNotAnError(t *testing.T) {
	led := seed()
	g := &mockGranter{}
	g.On("GrantRole", mock.Anything, "1001").Return(domain.GrantGranted, nil).Run(func(mock.Arguments) {
		_ = led.Update(context.Background(), func(l *domain.Ledger) (bool, error) {
			return l.Delete("a@x.edu"), nil
		})
	})
	a := &captureAuditor{}

	out, err := newService(led, g, a).Redeem(context.Background(), redeemReq("Z9Q2KD", "alice"))

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Len(t, a.entries, 1)
}

func TestRedeem_ReissuedDuringGrantKeepsNewRecord(t *testing.T) {
	led := seed()
	g := &mockGranter{}
	g.On("GrantRole", mock.Anything, "1001").Return(domain.GrantGranted, nil).Run(func(mock.Arguments) {
		_ = led.Update(context.Background(), func(l *domain.Ledger) (bool, error) {
			l.Put(domain.VerificationRecord{Identity: "a@x.edu", Code: "NEW123", IssuedAt: testNow, Handle: "alice"})
			return true, nil
		})
	})
	a := &captureAuditor{}

	out, err := newService(led, g, a).Redeem(context.Background(), redeemReq("Z9Q2KD", "alice"))

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, out.Kind)
	rec, ok := led.led.Get("a@x.edu")
	require.True(t, ok)
	assert.Equal(t, "NEW123", rec.Code)
}

func TestRedeem_CodeOnlyPolicyIgnoresHandle(t *testing.T) {
	led := newMemLedger(domain.VerificationRecord{Identity: "c@x.edu", Code: "AAAAAA", IssuedAt: testNow})
	g := &mockGranter{}
	g.On("GrantRole", mock.Anything, "1001").Return(domain.GrantGranted, nil)
	a := &captureAuditor{}
	svc := NewService(ServiceDeps{
		Ledger:  led,
		Granter: g,
		Audit:   a,
		Policy:  domain.MatchCodeOnly,
		Now:     func() time.Time { return testNow },
	})

	out, err := svc.Redeem(context.Background(), redeemReq("AAAAAA", "someone-else"))

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Equal(t, "c@x.edu", out.Identity)
	assert.Equal(t, 0, led.led.Len())
}

func TestRedeem_HandleBoundPolicyRejectsHandlelessRecord(t *testing.T) {
	led := newMemLedger(domain.VerificationRecord{Identity: "c@x.edu", Code: "AAAAAA", IssuedAt: testNow})
	a := &captureAuditor{}

	out, err := newService(led, &mockGranter{}, a).Redeem(context.Background(), redeemReq("AAAAAA", "someone-else"))

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoMatch, out.Kind)
}

func TestRedeem_MalformedRequestIsAudited(t *testing.T) {
	led := seed()
	a := &captureAuditor{}
	req := redeemReq(strings.Repeat("X", 80), "alice")
	req.Channel = "voice"

	out, err := newService(led, &mockGranter{}, a).Redeem(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Equal(t, domain.OutcomeRejectedRequest, out.Kind)
	require.Len(t, a.entries, 1)
	assert.Equal(t, "Rejected request", a.entries[0].Outcome)
	assert.Equal(t, strings.Repeat("X", 64)+"…", a.entries[0].PresentedCode)
	assert.Equal(t, 1, led.led.Len())
}

func TestRedeem_MissingRequesterIsAuditedAsUnknown(t *testing.T) {
	a := &captureAuditor{}
	req := redeemReq("Z9Q2KD", "alice")
	req.RequesterID = ""

	_, err := newService(seed(), &mockGranter{}, a).Redeem(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrBadRequest)
	require.Len(t, a.entries, 1)
	assert.Equal(t, "unknown", a.entries[0].ActorID)
}

type mockLimiter struct{ mock.Mock }

func (m *mockLimiter) Allow(key string) bool { return m.Called(key).Bool(0) }

func TestRedeem_RateLimitedPerRequester(t *testing.T) {
	led := seed()
	lim := &mockLimiter{}
	lim.On("Allow", "1001").Return(false)
	g := &mockGranter{}
	a := &captureAuditor{}
	svc := NewService(ServiceDeps{Ledger: led, Granter: g, Audit: a, Limiter: lim, Now: func() time.Time { return testNow }})

	out, err := svc.Redeem(context.Background(), redeemReq("Z9Q2KD", "alice"))

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRateLimited, out.Kind)
	require.Len(t, a.entries, 1)
	assert.Equal(t, "Too many attempts", a.entries[0].Outcome)
	assert.Equal(t, 1, led.led.Len())
	g.AssertNotCalled(t, "GrantRole", mock.Anything, mock.Anything)
	lim.AssertExpectations(t)
}

func TestRedeem_PersistenceFailureSurfaces(t *testing.T) {
	led := seed()
	led.saveErr = domain.ErrPersistence
	g := &mockGranter{}
	g.On("GrantRole", mock.Anything, "1001").Return(domain.GrantGranted, nil)
	a := &captureAuditor{}

	out, err := newService(led, g, a).Redeem(context.Background(), redeemReq("Z9Q2KD", "alice"))

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Len(t, a.entries, 1)
}

// --- end to end over the file store ---

func TestRedeem_FileBackedScenario(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "json", "verified.json")
	logPath := filepath.Join(dir, "verification.log")
	now := time.Now().UTC()

	store := filestore.NewLedgerStore(ledgerPath, filepath.Join(dir, "json", "verified_backup.json"), "")
	guard := ledger.NewGuard(store, nil)
	require.NoError(t, guard.Update(context.Background(), func(l *domain.Ledger) (bool, error) {
		l.Put(domain.VerificationRecord{Identity: "a@x.edu", Code: "Z9Q2KD", IssuedAt: now, Handle: "alice"})
		return true, nil
	}))

	g := &mockGranter{}
	g.On("GrantRole", mock.Anything, "1001").Return(domain.GrantGranted, nil)
	svc := NewService(ServiceDeps{
		Ledger:  guard,
		Granter: g,
		Audit:   audit.NewRecorder(filestore.NewAuditLog(logPath), nil),
	})

	miss, err := svc.Redeem(context.Background(), redeemReq("AAAAAA", "alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoMatch, miss.Kind)

	hit, err := svc.Redeem(context.Background(), redeemReq("z9q2kd", "alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, hit.Kind)

	led, status := store.Load(context.Background())
	assert.Equal(t, domain.LoadOK, status)
	assert.Equal(t, 0, led.Len())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "tried code 'AAAAAA': Invalid or expired")
	assert.Contains(t, lines[1], "alice (1001) tried code 'z9q2kd': Verified successfully (email: a@x.edu)")
}
