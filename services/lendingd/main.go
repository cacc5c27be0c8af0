package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vaultlend/compliance"
	protocol "vaultlend/config"
	"vaultlend/core/lending"
	"vaultlend/observability"
	"vaultlend/observability/logging"
	telemetry "vaultlend/observability/otel"
	"vaultlend/oracle"
	"vaultlend/rpc"
	"vaultlend/services/lendingd/config"
	"vaultlend/state"
	"vaultlend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTLEND_ENV"))
	logger := logging.Setup("lendingd", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal(logger, "load config", err)
	}
	if cfg.Log.File != "" {
		logger = logging.SetupRotating("lendingd", env, logging.RotationConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		})
	}

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	otlpInsecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			otlpInsecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    otlpInsecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		fatal(logger, "init telemetry", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fatal(logger, "create data dir", err)
	}
	db, err := storage.NewLevelDB(cfg.StatePath())
	if err != nil {
		fatal(logger, "open state database", err)
	}
	defer db.Close()

	paramsFile, err := protocol.Load(cfg.ParamsFile)
	if err != nil {
		fatal(logger, "load protocol params", err)
	}
	params, err := paramsFile.Params()
	if err != nil {
		fatal(logger, "invalid protocol params", err)
	}

	engine := lending.NewEngine(params)
	engine.SetState(state.NewManager(db))

	agg, checkpoints, err := buildOracle(cfg.Oracle, params.Oracle, logger)
	if err != nil {
		fatal(logger, "configure oracle", err)
	}
	defer func() { _ = checkpoints.Close() }()
	engine.SetOracle(agg)

	registry := compliance.NewRegistry(db)
	engine.SetCompliance(registry)

	engine.SetMetrics(observability.Lending())
	engine.Events().Register(observability.Events())

	if !cfg.ErrorAudit.Disabled {
		audit, err := NewErrorStore(cfg.ErrorAudit.Path, logger)
		if err != nil {
			fatal(logger, "open error audit store", err)
		}
		defer func() { _ = audit.Close() }()
		engine.SetErrorSink(audit)
	}

	server := rpc.NewServer(engine, registry)
	if token := cfg.Auth.ResolveToken(); token != "" {
		server.SetAuthToken(token)
	} else {
		logger.Warn("rpc auth token not configured; mutating methods will be rejected", "env_var", config.DefaultTokenEnv)
	}

	rpcHandler := server.Handler()
	mux := http.NewServeMux()
	// The event stream stays off the tracing wrapper so upgrades see the
	// raw connection.
	mux.Handle("/ws/events", rpcHandler)
	mux.Handle("/", otelhttp.NewHandler(rpcHandler, "lendingd"))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		fatal(logger, "listen on "+cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure && cfg.TLS.CertPath == "" && !plaintextPermitted(listener.Addr(), env) {
		fatal(logger, "plaintext listeners are restricted to loopback or dev environments", nil)
	}
	tlsCfg, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		fatal(logger, "configure tls", err)
	}
	if tlsCfg != nil {
		listener = tls.NewListener(listener, tlsCfg)
	}

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval := cfg.Oracle.PollInterval; interval > 0 {
		go pollOracle(ctx, agg, interval, logger)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "serve rpc", err)
		}
	}
}

// buildOracle assembles the aggregator from the daemon feed settings and
// the protocol oracle bounds. The checkpoint store is always opened so a
// later feed change inherits the persisted baseline.
func buildOracle(cfg config.OracleConfig, bounds lending.OracleConfig, logger *slog.Logger) (*oracle.Aggregator, *oracle.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	agg := oracle.NewAggregator(oracle.Config{
		MaxDeviationPct: bounds.MaxDeviationPct,
		MaxAge:          time.Duration(bounds.HeartbeatSeconds) * time.Second,
		HistoryCap:      cfg.HistoryCap,
	})
	store, err := oracle.NewStore(cfg.CheckpointPath, cfg.HistoryCap)
	if err != nil {
		return nil, nil, fmt.Errorf("open oracle checkpoints: %w", err)
	}
	if err := agg.SetCheckpoints(store); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if cfg.FeedURL != "" {
		agg.Register("primary", oracle.NewHTTPFeed(nil, cfg.FeedURL, cfg.FeedAuthToken, "primary"))
		return agg, store, nil
	}
	// No upstream feed. Seed a manual feed from the fallback price so a
	// fresh deployment serves reads before an operator wires a real
	// feed; the quote goes stale after one heartbeat.
	if bounds.FallbackPrice != nil && bounds.FallbackPrice.Sign() > 0 {
		manual := oracle.NewManual()
		manual.Set(bounds.FallbackPrice, time.Now())
		agg.Register("manual", manual)
		logger.Warn("no oracle feed configured; serving the fallback price from a manual feed")
	} else {
		logger.Warn("no oracle feed configured and no fallback price set; price reads will fail")
	}
	return agg, store, nil
}

// pollOracle keeps the accepted-price heartbeat warm between
// RPC-triggered reads.
func pollOracle(ctx context.Context, agg *oracle.Aggregator, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := agg.Price(); err != nil {
				logger.Warn("oracle refresh failed", "error", err)
			}
		}
	}
}

func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}
	return tlsCfg, nil
}

func plaintextPermitted(addr net.Addr, env string) bool {
	if strings.EqualFold(env, "dev") {
		return true
	}
	tcpAddr, ok := addr.(*net.TCPAddr)
	return ok && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
}

func fatal(logger *slog.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
