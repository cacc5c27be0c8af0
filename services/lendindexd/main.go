package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"vaultlend/observability/logging"
	"vaultlend/sdk/lend"
	"vaultlend/services/lendindexd/config"
	"vaultlend/services/lendindexd/indexer"
	"vaultlend/services/lendindexd/models"
	"vaultlend/services/lendindexd/recon"
)

// nodeSource adapts the sdk client to the indexer's stream interface.
type nodeSource struct {
	client *lend.Client
}

func (s nodeSource) Subscribe(ctx context.Context, cursor uint64) (indexer.Subscription, error) {
	return s.client.SubscribeEvents(ctx, cursor)
}

func main() {
	env := strings.TrimSpace(os.Getenv("VAULTLEND_ENV"))
	logger := logging.Setup("lendindexd", env)

	cfg, err := config.FromEnv()
	if err != nil {
		fatal(logger, "load config", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		fatal(logger, "open database", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		fatal(logger, "migrate schema", err)
	}

	var opts []lend.Option
	if cfg.NodeAuthToken != "" {
		opts = append(opts, lend.WithAuthToken(cfg.NodeAuthToken))
	} else {
		logger.Warn("no node auth token configured; the event stream will be rejected if the node requires auth")
	}
	client, err := lend.New(cfg.NodeURL, opts...)
	if err != nil {
		fatal(logger, "build node client", err)
	}

	ix, err := indexer.New(indexer.Config{
		DB:         db,
		Source:     nodeSource{client: client},
		TZ:         cfg.DefaultTZ,
		Logger:     logger,
		ReplayFrom: cfg.ReplayFrom,
	})
	if err != nil {
		fatal(logger, "build indexer", err)
	}

	reconciler, err := recon.NewReconciler(recon.Config{
		DB:        db,
		TZ:        cfg.DefaultTZ,
		OutputDir: cfg.ReconOutputDir,
		DryRun:    cfg.ReconDryRun,
		Logger:    logger,
	})
	if err != nil {
		fatal(logger, "build reconciler", err)
	}
	scheduler := recon.NewScheduler(recon.SchedulerConfig{
		Reconciler: reconciler,
		Window:     cfg.ReconWindow,
		RunHour:    cfg.ReconRunHour,
		RunMinute:  cfg.ReconRunMinute,
		Location:   cfg.DefaultTZ,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go scheduler.Start(ctx)

	runErr := make(chan error, 1)
	go func() { runErr <- ix.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	logger.Info("lendindexd started", "listen", cfg.ListenAddress, "node", cfg.NodeURL)

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("indexer stopped", "error", err)
		}
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
	}
	logger.Info("lendindexd stopped")
}

func fatal(logger *slog.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
