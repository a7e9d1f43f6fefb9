package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/efreitasn/marketsim/internal/config"
	"github.com/efreitasn/marketsim/internal/handler"
	"github.com/efreitasn/marketsim/internal/service"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/efreitasn/marketsim/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	runID := uuid.New()
	base := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger := base.With(slog.String("run_id", runID.String()))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Trade log.
	tradeLog, closeLog, err := openTradeLog(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open trade log", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeLog()

	// Simulation.
	sched, ex, err := newMarket(cfg, logger)
	if err != nil {
		logger.Error("failed to build market", slog.String("error", err.Error()))
		os.Exit(1)
	}
	arena := sched.Arena()

	recorder := store.NewRecorder(arena, runID, tradeLog, store.RecorderConfig{Logger: base})
	recorder.Watch(ex)
	market := service.NewMarketService(arena, ex, tradeLog, runID, service.MarketConfig{})
	collector := service.NewCollector(arena, ex, service.DefaultCollectorConfig())
	sched.Add(market)
	sched.Add(collector)
	sched.Add(recorder)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := service.NewEventHub(arena, ex, service.HubConfig{EventBuffer: cfg.EventBuffer, Logger: logger})
	go hub.Run(hubCtx)

	// Router.
	router := handler.NewRouter(handler.Deps{
		Market:  market,
		Control: sched,
		Stream:  hub.HandleWS,
		Logger:  logger,
		ReadyCheck: func() bool {
			return sched.State() != sim.StateNotStarted
		},
	})

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Run the simulation; a signal kills it before the next tick.
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("simulation interrupted", slog.String("error", err.Error()))
		}
		logger.Info("simulation complete, serving results until shutdown",
			slog.String("digest", recorder.Digest()),
			slog.String("fees", ex.FeesCollected().String()),
		)
		<-ctx.Done()
	case <-ctx.Done():
		<-done
	}
	logger.Info("shutdown signal received")

	// Graceful shutdown: stop HTTP server, then the event hub.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	stopHub()

	logger.Info("server stopped")
}

// openTradeLog picks the trade log sink: PostgreSQL when DATABASE_URL is
// set, memory otherwise, behind a Redis cache when REDIS_URL is set.
func openTradeLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.TradeLog, func(), error) {
	var (
		log     store.TradeLog = store.NewMemoryTradeLog()
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := pool.Ping(pingCtx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := store.NewPostgresTradeLog(pool)
		if err := pg.Migrate(pingCtx); err != nil {
			closeAll()
			return nil, nil, err
		}
		log = pg
		logger.Info("trade log: postgres")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		closers = append(closers, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, trade cache degraded", slog.String("error", err.Error()))
		}
		log = store.NewCachedTradeLog(log, rdb, cfg.RedisTTL)
		logger.Info("trade log: redis cache enabled", slog.Duration("ttl", cfg.RedisTTL))
	}

	return log, closeAll, nil
}
