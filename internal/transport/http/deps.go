package http

import (
	"net/netip"

	"github.com/go-verify-ledger/internal/application/ledger"
	"github.com/go-verify-ledger/internal/application/verification"
	jwtinfra "github.com/go-verify-ledger/internal/infrastructure/jwt"
	"github.com/go-verify-ledger/internal/transport/http/handler"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps holds the services and infrastructure the router wires into handlers.
type Deps struct {
	Verification verification.Service
	Ledger       ledger.Service
	Scanner      handler.DeliveryScanner
	JWTProvider  *jwtinfra.Provider
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// TrustedProxies may set X-Forwarded-For for the IP rate limiter.
	TrustedProxies []netip.Prefix
}
