package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amsterdam/haal-centraal-proxy/internal/audit"
	"github.com/Amsterdam/haal-centraal-proxy/internal/audit/publisher"
	"github.com/Amsterdam/haal-centraal-proxy/internal/audit/store/postgres"
	"github.com/Amsterdam/haal-centraal-proxy/internal/authz"
	"github.com/Amsterdam/haal-centraal-proxy/internal/platform/config"
	"github.com/Amsterdam/haal-centraal-proxy/internal/platform/httpserver"
	"github.com/Amsterdam/haal-centraal-proxy/internal/platform/logger"
	platformredis "github.com/Amsterdam/haal-centraal-proxy/internal/platform/redis"
	"github.com/Amsterdam/haal-centraal-proxy/internal/policy"
	"github.com/Amsterdam/haal-centraal-proxy/internal/proxy"
	"github.com/Amsterdam/haal-centraal-proxy/internal/proxy/metrics"
	"github.com/Amsterdam/haal-centraal-proxy/internal/token"
	"github.com/Amsterdam/haal-centraal-proxy/internal/token/revocation"
	httptransport "github.com/Amsterdam/haal-centraal-proxy/internal/transport/http"
	"github.com/Amsterdam/haal-centraal-proxy/internal/upstream"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Access profiles. SIGHUP swaps in a fresh set without a restart.
	policies := policy.NewStore(log)
	if err := policies.Reload(os.DirFS(cfg.PolicyDir), "."); err != nil {
		log.Error("load policy documents", "dir", cfg.PolicyDir, "error", err)
		os.Exit(1)
	}
	go reloadOnSIGHUP(ctx, policies, cfg.PolicyDir, log)

	// Signing keys. Starting without keys fails closed, not fast: the proxy
	// serves 401s until a key set is published.
	keys := token.NewKeySource(nil)
	if cfg.JWKSFile != "" {
		raw, err := os.ReadFile(cfg.JWKSFile)
		if err != nil {
			log.Error("read JWKS file", "path", cfg.JWKSFile, "error", err)
			os.Exit(1)
		}
		keySet, err := token.ParseJWKS(raw)
		if err != nil {
			log.Error("parse JWKS file", "path", cfg.JWKSFile, "error", err)
			os.Exit(1)
		}
		keys.Swap(keySet)
	} else {
		log.Warn("no JWKS file configured, all tokens will be rejected")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	var trl revocation.List = revocation.NewMemoryList()
	if redisClient != nil {
		defer redisClient.Close()
		trl = revocation.NewRedisList(redisClient.Client)
	}

	validator := token.NewValidator(keys, cfg.TokenIssuer, cfg.TokenAudience,
		token.WithRevocationList(trl),
		token.WithLogger(log),
	)

	upstreamClient, err := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout, log)
	if err != nil {
		log.Error("configure upstream client", "error", err)
		os.Exit(1)
	}

	auditStore, closeStore, err := buildAuditStore(ctx, cfg.Audit)
	if err != nil {
		log.Error("configure audit store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	recorder := audit.NewRecorder(cfg.Audit.BufferSize, log)
	worker := audit.NewWorker(auditStore, recorder.Inbox(), log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = worker.Run(ctx)
	}()

	pipeline := proxy.NewService(
		validator,
		authz.NewResolver(policies, log),
		upstreamClient,
		recorder,
		cfg.PublicURL,
		log,
		metrics.New(),
	)

	checks := map[string]httptransport.HealthChecker{}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	router := httptransport.NewRouter(httptransport.NewHandler(pipeline, log), checks)

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("starting haal-centraal-proxy",
			"addr", cfg.Addr,
			"datasets", policies.Datasets(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	// The worker drains buffered audit events before exiting.
	<-workerDone
}

// buildAuditStore selects the audit sink from configuration: Postgres, Kafka,
// or the in-memory store for development.
func buildAuditStore(ctx context.Context, cfg config.AuditConfig) (audit.Store, func(), error) {
	switch {
	case cfg.PostgresDSN != "":
		store, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case len(cfg.KafkaBrokers) > 0:
		sink, err := publisher.NewKafka(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	default:
		return audit.NewMemoryStore(), func() {}, nil
	}
}

func reloadOnSIGHUP(ctx context.Context, policies *policy.Store, dir string, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			log.Info("SIGHUP received, reloading policy documents", "dir", dir)
			_ = policies.Reload(os.DirFS(dir), ".")
		}
	}
}
