package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-verify-ledger/internal/application/audit"
	"github.com/go-verify-ledger/internal/application/delivery"
	"github.com/go-verify-ledger/internal/application/ledger"
	"github.com/go-verify-ledger/internal/application/verification"
	"github.com/go-verify-ledger/internal/config"
	"github.com/go-verify-ledger/internal/domain"
	"github.com/go-verify-ledger/internal/infrastructure/awsconf"
	"github.com/go-verify-ledger/internal/infrastructure/discord"
	"github.com/go-verify-ledger/internal/infrastructure/dynamo"
	"github.com/go-verify-ledger/internal/infrastructure/filestore"
	jwtinfra "github.com/go-verify-ledger/internal/infrastructure/jwt"
	s3infra "github.com/go-verify-ledger/internal/infrastructure/s3"
	"github.com/go-verify-ledger/internal/infrastructure/sns"
	"github.com/go-verify-ledger/internal/pkg/metrics"
	"github.com/go-verify-ledger/internal/pkg/ratelimit"
	transporthttp "github.com/go-verify-ledger/internal/transport/http"
	appmiddleware "github.com/go-verify-ledger/internal/transport/http/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// loopDrainTimeout covers one in-flight delivery attempt plus the save.
	loopDrainTimeout = 45 * time.Second

	// Redemption attempts per requester: a burst of 5, then one every 12s.
	redeemRate  = rate.Limit(1.0 / 12)
	redeemBurst = 5
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, audits := buildStorage(ctx, cfg, m)
	guard := ledger.NewGuard(store, m)

	// Discord platform (required: without it no code can be redeemed).
	platform, err := discord.New(cfg.DiscordToken, cfg.ServerID, cfg.VerifiedRoleID)
	if err != nil {
		log.Fatalf("discord platform: %v", err)
	}

	// JWT provider (optional; without it every authenticated route answers 401).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider("", cfg.JWTPublicKeyPath, cfg.JWTExpiry); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	policy, err := domain.ParseMatchPolicy(cfg.MatchPolicy)
	if err != nil {
		log.Fatalf("MATCH_POLICY: %v", err)
	}
	if policy == domain.MatchCodeOnly {
		log.Println("WARN: code-only matching enabled, codes are not bound to the submitted handle")
	}

	trusted, err := appmiddleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("TRUSTED_PROXIES: %v", err)
	}

	loop := delivery.New(guard, platform, platform, delivery.Config{Interval: cfg.DeliveryInterval}, m)
	var workers errgroup.Group
	workers.Go(func() error { return loop.Run(ctx) })

	deps := &transporthttp.Deps{
		Verification: verification.NewService(verification.ServiceDeps{
			Ledger:  guard,
			Granter: platform,
			Audit:   audits,
			Limiter: ratelimit.NewKeyed(ctx, redeemRate, redeemBurst),
			Policy:  policy,
			Metrics: m,
		}),
		Ledger:         ledger.NewService(ledger.ServiceDeps{Guard: guard, CodeLength: cfg.CodeLength}),
		Scanner:        loop,
		JWTProvider:    jwtProvider,
		Gatherer:       reg,
		TrustedProxies: trusted,
	}

	router := transporthttp.NewRouter(ctx, cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, ledger=%s)", cfg.AppPort, cfg.AppEnv, cfg.LedgerBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")

	// A scan in flight still has to persist the states it decided.
	drained := make(chan error, 1)
	go func() { drained <- workers.Wait() }()
	select {
	case err := <-drained:
		if err != nil {
			log.Printf("delivery loop: %v", err)
		}
		log.Println("Delivery loop stopped")
	case <-time.After(loopDrainTimeout):
		log.Printf("delivery loop still running after %s, exiting", loopDrainTimeout)
	}
}

// buildStorage selects the ledger backend and assembles the audit recorder.
// AWS is only configured when a backend or sink needs it.
func buildStorage(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (ledger.Store, *audit.Recorder) {
	needAWS := cfg.LedgerBackend == "dynamo" || cfg.S3BackupBucket != "" || cfg.SNSAuditTopic != ""
	var awsCfg aws.Config
	if needAWS {
		c, err := awsconf.Load(ctx, cfg)
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		awsCfg = c
	}

	var store ledger.Store
	switch cfg.LedgerBackend {
	case "dynamo":
		client := dynamo.NewClient(awsCfg, cfg.AWSEndpointURL)
		dynamo.Bootstrap(ctx, client, cfg.DynamoLedger)
		store = dynamo.NewLedgerRepo(client, cfg.DynamoLedger)
	case "file":
		var opts []filestore.Option
		if cfg.S3BackupBucket != "" {
			s3Store := s3infra.NewStore(s3infra.NewClient(awsCfg, cfg.AWSEndpointURL), cfg.S3BackupBucket)
			opts = append(opts, filestore.WithBackupMirror(s3Store))
		}
		store = filestore.NewLedgerStore(cfg.LedgerPath, cfg.LedgerBackupPath, cfg.LedgerTmpPath, opts...)
	default:
		log.Fatalf("unknown LEDGER_BACKEND %q (want file or dynamo)", cfg.LedgerBackend)
	}

	var sinks []audit.Sink
	if cfg.SNSAuditTopic != "" {
		sinks = append(sinks, sns.NewAuditPublisher(sns.NewClient(awsCfg, cfg.AWSEndpointURL), cfg.SNSAuditTopic))
	}
	return store, audit.NewRecorder(filestore.NewAuditLog(cfg.AuditLogPath), m, sinks...)
}
