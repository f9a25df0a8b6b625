package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/analytics"
	"fleet-monitor/telemetry/internal/anomaly"
	"fleet-monitor/telemetry/internal/auth"
	"fleet-monitor/telemetry/internal/clock"
	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/logger"
	"fleet-monitor/telemetry/internal/pipeline"
	"fleet-monitor/telemetry/internal/query"
	"fleet-monitor/telemetry/internal/registry"
	"fleet-monitor/telemetry/internal/store"
	"fleet-monitor/telemetry/internal/telemetry"
	transport "fleet-monitor/telemetry/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "telemetryd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	health := []transport.Pinger{db}
	var (
		redisStore *store.RedisStore
		keyLookup  auth.KeyLookup
		settings   registry.SettingsSource = registry.NoSettings{}
		notifier   pipeline.Notifier
		dedup      pipeline.Deduper
	)
	if cfg.RedisEnabled {
		redisStore, err = store.NewRedisStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		keyLookup, settings, notifier, dedup = redisStore, redisStore, redisStore, redisStore
		health = append(health, redisStore)
	}

	c := clock.Real()
	dispatcher := pipeline.NewDispatcher(cfg.NotifyChannelSize, cfg.StateChannelSize)

	var publisher anomaly.Publisher
	if notifier != nil {
		publisher = dispatcher
	}

	telemetryStore := telemetry.NewStore(db, db, c, log.Named("telemetry"))
	queryEngine := query.NewEngine(db, db, db)
	ledger := anomaly.NewLedger(db, publisher, c, log.Named("anomaly"))
	analyticsEngine := analytics.NewEngine(queryEngine, c)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var notifyWG, classifyWG sync.WaitGroup

	if notifier != nil {
		for i := 0; i < cfg.NotifyWorkers; i++ {
			w := pipeline.NewNotifyWorker(dispatcher.AnomalyChan, notifier, log.Named("notify"))
			notifyWG.Add(1)
			go func() {
				defer notifyWG.Done()
				w.Run(workerCtx)
			}()
		}
	}

	var stateSink transport.StateSink
	if cfg.ClassifierEnabled {
		evaluator := pipeline.NewStateEvaluator(
			dispatcher.StateChan,
			registry.New(settings, log.Named("registry")),
			dedup,
			ledger,
			cfg.ClassifierDedup,
			log.Named("classifier"),
		)
		classifyWG.Add(1)
		go func() {
			defer classifyWG.Done()
			evaluator.Run(workerCtx)
		}()
		stateSink = dispatcher
	}

	handler := transport.NewHandler(transport.Deps{
		Telemetry: telemetryStore,
		Query:     queryEngine,
		Ledger:    ledger,
		Analytics: analyticsEngine,
		States:    stateSink,
		Health:    health,
		Clock:     c,
		Log:       log.Named("http"),
	})
	authenticator := auth.NewAuthenticator(cfg, keyLookup, c, log.Named("auth"))
	router := transport.NewRouter(handler, transport.NewAuthMiddleware(authenticator), log.Named("http"))

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("telemetry service listening",
			zap.String("addr", srv.Addr),
			zap.String("store_backend", cfg.StoreBackend),
			zap.Bool("redis", cfg.RedisEnabled),
			zap.Bool("classifier", cfg.ClassifierEnabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}

	// No handler can submit any more. The evaluator drains first since
	// it may still record HIGH anomalies that need notifying.
	dispatcher.CloseStates()
	if !waitDrained(shutdownCtx, &classifyWG) {
		cancelWorkers()
		log.Warn("classifier did not drain before shutdown timeout")
	}
	dispatcher.Close()
	if !waitDrained(shutdownCtx, &notifyWG) {
		cancelWorkers()
		log.Warn("notify workers did not drain before shutdown timeout")
	}
	return nil
}

func waitDrained(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		ts, err := store.NewTimescaleStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return ts, nil
	}
}
