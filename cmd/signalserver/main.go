package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trade-signalv1/config"
	"trade-signalv1/internal/api"
	"trade-signalv1/internal/backfill"
	"trade-signalv1/internal/candlestore"
	"trade-signalv1/internal/exchange"
	"trade-signalv1/internal/gateway"
	"trade-signalv1/internal/hydration"
	"trade-signalv1/internal/inference"
	"trade-signalv1/internal/journal"
	"trade-signalv1/internal/lifecycle"
	"trade-signalv1/internal/logger"
	"trade-signalv1/internal/metrics"
	"trade-signalv1/internal/model"
	"trade-signalv1/internal/modelstate"
	"trade-signalv1/internal/pipeline"
	"trade-signalv1/internal/publisher"
	"trade-signalv1/internal/scheduler"
	"trade-signalv1/internal/trainer"
)

func main() {
	// ---- Load config & logger ----
	cfg := config.Load()
	log := logger.Init("signalserver", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", slog.String("addr", cfg.HTTPAddr), slog.String("cache", cfg.CacheDir))

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics ----
	prom := metrics.New()

	// ---- Candle store ----
	store, err := candlestore.New(cfg.CacheDir)
	if err != nil {
		log.Error("candle store init failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// ---- Exchange client & backfill executor ----
	fetcher := exchange.NewBybitClient(cfg.BybitBaseURL, cfg.BybitCategory)
	executor := backfill.New(store, fetcher, log)

	// ---- Optional sqlite journal ----
	var jnl *journal.Journal
	if cfg.SQLitePath != "" {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		jnl, err = journal.New(cfg.SQLitePath)
		if err != nil {
			log.Warn("journal init failed, continuing without", slog.String("err", err.Error()))
			jnl = nil
		}
	}
	defer jnl.Close()

	// ---- Optional redis publisher ----
	var pub *publisher.Publisher
	if cfg.RedisAddr != "" {
		pub, err = publisher.New(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis init failed, continuing without", slog.String("err", err.Error()))
			pub = nil
		}
	}
	defer pub.Close()

	// ---- WebSocket hub ----
	hub := gateway.NewHub(log)

	// ---- Hydration queue ----
	queue := hydration.New(ctx, func(ctx context.Context, symbol, interval string, months int) model.BackfillStats {
		return executor.Run(ctx, symbol, interval, months)
	}, log)
	queue.OnTerminal = func(snap model.TaskSnapshot) {
		jnl.RecordTask(snap)
		pub.PublishTask(ctx, snap)
		hub.Broadcast("task:"+snap.Symbol, snap)
	}
	prom.RegisterQueue(queue.Metrics)

	// ---- Model state ----
	state := modelstate.New()
	modelPath := store.ModelPath(cfg.DefaultSymbol, cfg.DefaultInterval)
	if err := state.InitFromDisk(modelPath); err != nil {
		log.Warn("no model installed at startup, using defaults", slog.String("err", err.Error()))
	} else {
		snap := state.Snapshot()
		log.Info("model installed from disk",
			slog.String("symbol", snap.Symbol), slog.String("interval", snap.Interval),
			slog.Float64("best_thr", snap.BestThr), slog.Int("feat_dim", snap.Policy.FeatDim))
	}

	// ---- Trainer & inference ----
	tr := trainer.New(store, state, prom, log)
	tr.ActGate = cfg.ActGate
	infer := inference.New()

	// ---- Pipeline orchestrator ----
	orch := &pipeline.Orchestrator{
		Store:    store,
		Backfill: executor,
		Trainer:  tr,
		Infer:    infer,
		Log:      log,
	}

	// ---- Background workers ----
	if cfg.Lifecycle {
		sweeper := &lifecycle.Sweeper{Dir: cfg.CacheDir, Log: log}
		go sweeper.Run(ctx)
	}
	if cfg.AutoBackfill {
		auto := &scheduler.AutoBackfill{
			Queue:   queue,
			Symbols: cfg.ParseSymbols(),
			Months:  6,
			Log:     log,
		}
		go auto.Run(ctx)
	}

	// ---- HTTP server ----
	srv := &api.Server{
		Cfg:       cfg,
		Store:     store,
		Queue:     queue,
		Backfill:  executor,
		Trainer:   tr,
		Infer:     infer,
		State:     state,
		Pipeline:  orch,
		Metrics:   prom,
		Journal:   jnl,
		Publisher: pub,
		Hub:       hub,
		Log:       log,
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	// ---- Wait for shutdown ----
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)

	// Stop the queue after the HTTP surface: the in-flight task
	// finishes, queued tasks are discarded with the process.
	cancel()
	queue.Stop()
	log.Info("stopped")
}
