package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/api"
	"rbx-avatar-renderer/internal/app"
	"rbx-avatar-renderer/internal/config"
	"rbx-avatar-renderer/internal/metrics"
	"rbx-avatar-renderer/internal/ratelimit"
	"rbx-avatar-renderer/internal/render"
	"rbx-avatar-renderer/internal/server"
)

func main() {
	configFile := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", "", "Listen address (default: :8080)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	var cfg config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.Resolve(config.Flags{Addr: *addr, LogLevel: *logLevel})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	collector := metrics.NewCollector("rbx_avatar", logger)

	svc, err := app.New(cfg, logger, collector)
	if err != nil {
		return err
	}
	cache, err := app.NewStore(cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	format, err := render.ParseFormat(cfg.Render.Format)
	if err != nil {
		format = render.FormatWebP
	}
	handler := api.New(api.Config{
		Resolver:    svc.Resolver,
		Bundles:     svc.Pipeline,
		Admitter:    ratelimit.New(cfg.RateLimit, nil),
		Cache:       cache,
		OutfitsTTL:  cfg.Cache.OutfitsTTL,
		Metrics:     collector,
		Render:      svc.RenderOptions(format),
		RenderSlots: cfg.Render.Slots,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("avatar service starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("cache", cfg.Cache.Backend),
		zap.Int("rate_limit", cfg.RateLimit.Max),
		zap.Duration("rate_window", cfg.RateLimit.Window))
	return server.NewManager(handler.Routes(), cfg.Server, logger).Run(ctx)
}
