package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/decentfox/aintq/internal/config"
	"github.com/decentfox/aintq/internal/consumer"
	"github.com/decentfox/aintq/internal/logger"
	"github.com/decentfox/aintq/internal/registry"
	"github.com/decentfox/aintq/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting consumer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid database DSN")
	}
	if cfg.Database.PoolSize > 0 {
		poolCfg.MaxConns = cfg.Database.PoolSize
	}
	poolCfg.MinConns = cfg.Database.MinConns
	if cfg.Database.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout
	}

	st, err := store.OpenWithConfig(ctx, poolCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()

	reg := registry.New()
	registerExampleHandlers(reg)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, cfg.Metrics.Path, log)
	}

	c := consumer.New(st, reg, cfg.Worker.Size, *log)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down consumer")
	case err := <-runErrCh:
		if err != nil {
			log.Error().Err(err).Msg("consumer run loop exited")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if err := c.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("consumer shutdown error")
	}

	log.Info().Msg("consumer stopped")
}

func serveMetrics(addr, path string, log *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

// Example task handlers, registered so a producer enqueuing these names has
// something to run against a freshly started consumer.

func registerExampleHandlers(reg *registry.Registry) {
	reg.RegisterFunc("add", addHandler)
	reg.RegisterFunc("mul", mulHandler)
	reg.RegisterFunc("ping", pingHandler)
	reg.RegisterAsyncFunc("slow", slowHandler)
}

func pingHandler(ctx context.Context, args []any, kwargs map[string]any) error {
	logger.Info().Interface("kwargs", kwargs).Msg("ping")
	return nil
}

func addHandler(ctx context.Context, args []any, kwargs map[string]any) error {
	a, b := numArg(args, kwargs, 0, "a"), numArg(args, kwargs, 1, "b")
	logger.Info().Float64("a", a).Float64("b", b).Float64("result", a+b).Msg("add")
	return nil
}

func mulHandler(ctx context.Context, args []any, kwargs map[string]any) error {
	a, b := numArg(args, kwargs, 0, "a"), numArg(args, kwargs, 1, "b")
	logger.Info().Float64("a", a).Float64("b", b).Float64("result", a*b).Msg("mul")
	return nil
}

func slowHandler(ctx context.Context, args []any, kwargs map[string]any) error {
	seconds := numArg(args, kwargs, 0, "seconds")
	logger.Info().Float64("seconds", seconds).Msg("slow: starting")
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		logger.Info().Msg("slow: finished")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func numArg(args []any, kwargs map[string]any, pos int, name string) float64 {
	if v, ok := kwargs[name]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	if pos < len(args) {
		if f, ok := args[pos].(float64); ok {
			return f
		}
	}
	return 0
}
