package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-verify-ledger/internal/application/delivery"
	"github.com/go-verify-ledger/internal/domain"
	jwtinfra "github.com/go-verify-ledger/internal/infrastructure/jwt"
	"github.com/go-verify-ledger/internal/transport/http/middleware"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockVerificationSvc struct{ mock.Mock }

func (m *mockVerificationSvc) Redeem(ctx context.Context, req domain.RedeemRequest) (domain.Outcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Outcome), args.Error(1)
}

type mockLedgerSvc struct{ mock.Mock }

func (m *mockLedgerSvc) Issue(ctx context.Context, req domain.SubmissionRequest) (*domain.VerificationRecord, error) {
	args := m.Called(ctx, req)
	if rec, _ := args.Get(0).(*domain.VerificationRecord); rec != nil {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLedgerSvc) List(ctx context.Context) ([]domain.VerificationRecord, domain.LoadStatus) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.VerificationRecord), args.Get(1).(domain.LoadStatus)
}

type mockScanner struct{ mock.Mock }

func (m *mockScanner) Scan(ctx context.Context) (delivery.ScanReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(delivery.ScanReport), args.Error(1)
}

// --- helpers ---

// newTestJWTProvider generates a fresh RSA key pair and returns a *jwtinfra.Provider.
func newTestJWTProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privKey)})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	p, err := jwtinfra.NewProvider(privPath, pubPath, 24*time.Hour)
	require.NoError(t, err)
	return p
}

// bearerReq builds a request with a signed Bearer token for the given subject and role.
func bearerReq(t *testing.T, p *jwtinfra.Provider, method, target, subject, role string, body []byte) *http.Request {
	t.Helper()
	token, err := p.Sign(subject, role)
	require.NoError(t, err)
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

// serveAuthed wraps the handler with middleware.Auth and middleware.RequireRole before serving.
func serveAuthed(p *jwtinfra.Provider, role string, h http.Handler, w http.ResponseWriter, r *http.Request) {
	middleware.Auth(p)(middleware.RequireRole(role)(h)).ServeHTTP(w, r)
}

// withChiAction injects a chi URL param "action" into the request context.
func withChiAction(r *http.Request, action string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("action", action)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
