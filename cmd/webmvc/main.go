package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/webmvc/internal/adapter/flash"
	"github.com/Strob0t/webmvc/internal/adapter/natskv"
	cfotel "github.com/Strob0t/webmvc/internal/adapter/otel"
	"github.com/Strob0t/webmvc/internal/adapter/postgres"
	"github.com/Strob0t/webmvc/internal/config"
	"github.com/Strob0t/webmvc/internal/logger"
	"github.com/Strob0t/webmvc/internal/middleware"
	"github.com/Strob0t/webmvc/internal/port/flashstore"
	"github.com/Strob0t/webmvc/internal/resilience"
	"github.com/Strob0t/webmvc/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"flash_store", cfg.Flash.Store,
		"otel_exporter", cfg.OTEL.Exporter,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	tel, err := cfotel.Setup(ctx, cfg.OTEL, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	var dropped func() int64
	if ah, ok := closer.(*logger.AsyncHandler); ok {
		dropped = ah.DroppedCount
	}
	metrics, err := cfotel.NewMetrics(dropped)
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	store, closeStore, err := newFlashStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("flash store: %w", err)
	}
	defer closeStore()

	breaker := resilience.NewBreaker("flash-store", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	flashManager := flash.NewSessionManager(store,
		flash.WithCookie(cfg.Flash.CookieName, cfg.Flash.Secure),
		flash.WithTimeout(cfg.Flash.Timeout),
		flash.WithBreaker(breaker),
	)

	// --- Dispatcher ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	limiter.StartCleanup(ctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)

	reg, closeViews, err := newRegistry(cfg, flashManager, limiter, newOrderBook())
	if err != nil {
		return fmt.Errorf("strategies: %w", err)
	}
	defer closeViews()

	opts, err := service.OptionsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("dispatcher options: %w", err)
	}
	opts.Metrics = metrics

	dispatcher, err := service.New(reg, opts)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	dispatcher.OnRequestHandled(func(ctx context.Context, ev service.RequestHandledEvent) {
		slog.DebugContext(ctx, "request handled",
			"method", ev.Method,
			"path", ev.Path,
			"status", ev.Status,
			"duration_ms", ev.Duration.Milliseconds(),
			"async", ev.Async,
			"error", ev.Err,
		)
	})

	// --- HTTP Server ---

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/health", healthHandler(cfg, breaker))
	if tel.MetricsHandler != nil {
		r.Handle("/metrics", tel.MetricsHandler)
	}
	r.Handle("/*", dispatcher)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Async.Timeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// newFlashStore connects the flash map backend selected by cfg.Flash.Store.
// The returned func releases its connections.
func newFlashStore(ctx context.Context, cfg *config.Config) (flashstore.Store, func(), error) {
	switch cfg.Flash.Store {
	case "nats":
		store, closeFn, err := natskv.Connect(ctx, cfg.NATS.URL, cfg.Flash.Bucket, cfg.Flash.SessionTTL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("nats flash store connected", "bucket", cfg.Flash.Bucket)
		return store, closeFn, nil

	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("postgres flash store connected")

		store := postgres.NewFlashStore(pool)
		go purgeStaleSessions(ctx, store, cfg.Flash.SessionTTL)
		return store, pool.Close, nil

	default:
		return flash.NewMemoryStore(), func() {}, nil
	}
}

// purgeStaleSessions removes idle postgres sessions until ctx is done.
func purgeStaleSessions(ctx context.Context, store *postgres.FlashStore, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeStale(ctx, ttl)
			if err != nil {
				slog.Warn("purge flash sessions failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("purged flash sessions", "count", n)
			}
		}
	}
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(cfg *config.Config, breaker *resilience.Breaker) http.HandlerFunc {
	type healthStatus struct {
		Status     string `json:"status"`
		FlashStore string `json:"flash_store"`
		Breaker    string `json:"breaker"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:     "ok",
			FlashStore: cfg.Flash.Store,
			Breaker:    breaker.State(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
