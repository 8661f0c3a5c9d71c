package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"lendledger/core"
	"lendledger/core/events"
	"lendledger/core/genesis"
	"lendledger/integrations/webhooks"
	nativecommon "lendledger/native/common"
	"lendledger/observability"
	"lendledger/observability/logging"
	telemetry "lendledger/observability/otel"
	"lendledger/services/ledgerd/config"
	"lendledger/services/ledgerd/journal"
	"lendledger/services/ledgerd/middleware"
	"lendledger/services/ledgerd/server"
	"lendledger/storage"
)

const quotaWindowSeconds = 60

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/ledgerd/config.yaml", "path to ledgerd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("LEDGER_ENV"))
	}

	logger, logCloser := logging.SetupWithOptions(cfg.Observability.ServiceName, env, logging.Options{
		Level: logging.ParseLevel(os.Getenv("LEDGERD_LOG_LEVEL")),
		File: logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	})
	defer logCloser.Close()

	telemetryCfg := telemetry.FromEnv(cfg.Observability.ServiceName, env, os.Getenv)
	telemetryCfg.Metrics = cfg.Observability.Metrics
	telemetryCfg.Traces = cfg.Observability.Tracing
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	db, err := storage.Open(storage.Engine(cfg.Storage.Engine), cfg.StoragePath())
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer db.Close()

	eventJournal, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logger)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer eventJournal.Close()

	sinks := events.Multi{eventJournal}
	if cfg.Webhook.Enabled() {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret),
			webhooks.WithLogger(logger),
			webhooks.WithActions(cfg.Webhook.Actions...),
			webhooks.WithHTTPClient(&http.Client{
				Timeout:   15 * time.Second,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}),
		)
		if err != nil {
			log.Fatalf("configure webhook: %v", err)
		}
		defer dispatcher.Close()
		sinks = append(sinks, dispatcher)
	}

	hub := events.NewHub(0)
	ledgerMetrics := observability.LedgerMetrics()
	host, err := core.NewHost(db, core.Options{
		Logger:  logger,
		Hub:     hub,
		Emitter: sinks,
		Pauses:  nativecommon.NewPauseSet(cfg.PausedModules...),
		Quota: nativecommon.Quota{
			MaxRequestsPerWindow: cfg.Quota.MaxCallsPerMinute,
			WindowSeconds:        quotaWindowSeconds,
		},
		Metrics: ledgerMetrics,
	})
	if err != nil {
		log.Fatalf("build host: %v", err)
	}
	if cfg.Genesis != "" {
		if err := bootstrap(host, cfg.Genesis, logger); err != nil {
			log.Fatalf("bootstrap ledger: %v", err)
		}
	}

	httpMetrics := observability.HTTPMetrics()
	srv, err := server.New(server.Config{
		Ledger:  host,
		Journal: eventJournal,
		Stream:  hub,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret:    cfg.Auth.HMACSecret,
			Issuer:        cfg.Auth.Issuer,
			Audience:      cfg.Auth.Audience,
			IdentityClaim: cfg.Auth.IdentityClaim,
			ClockSkew:     cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, httpMetrics),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: cfg.Observability.ServiceName,
			Enabled:     cfg.Observability.Metrics || cfg.Observability.Tracing,
			LogRequests: cfg.Observability.LogRequests,
		}, httpMetrics, logger),
		Logger:        logger,
		OnSubscribers: ledgerMetrics.SetSubscribers,
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext ledgerd mode is restricted to loopback listeners or dev environment")
		}
	}
	if cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConnections)
	}

	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(srv.Handler(), cfg.Observability.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	if cfg.TLS.Enabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening",
			slog.String("addr", listener.Addr().String()),
			slog.Bool("tls", cfg.TLS.Enabled()),
			slog.String("storage", cfg.Storage.Engine))
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve http", slog.Any("error", err))
		}
	}
}

func bootstrap(host *core.Host, path string, logger *slog.Logger) error {
	spec, err := genesis.Load(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	receipt, err := host.Bootstrap(ctx, spec)
	if err != nil {
		return err
	}
	if receipt == nil {
		logger.Info("ledger already bootstrapped", slog.String("genesis", path))
		return nil
	}
	logger.Info("ledger bootstrapped",
		slog.String("genesis", path),
		slog.String("call_id", receipt.CallID),
		slog.Int("events", len(receipt.Events)),
		slog.String("digest", fmt.Sprintf("0x%s", receipt.DigestHex())))
	return nil
}
