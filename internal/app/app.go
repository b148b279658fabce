// Package app assembles the shared services every command needs from a
// resolved configuration.
package app

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/cdn"
	"rbx-avatar-renderer/internal/config"
	"rbx-avatar-renderer/internal/fetch"
	"rbx-avatar-renderer/internal/pipeline"
	"rbx-avatar-renderer/internal/render"
	"rbx-avatar-renderer/internal/rig"
	"rbx-avatar-renderer/internal/roblox"
	"rbx-avatar-renderer/internal/store"
)

// Services holds the wired collaborators.
type Services struct {
	Config   config.Config
	Client   *fetch.Client
	Resolver *roblox.Resolver
	Builder  *asset.Builder
	Pipeline *pipeline.Pipeline
	Catalog  *rig.Catalog
	Logger   *zap.Logger
}

// New wires services from cfg, which must already be resolved. observer may
// be nil.
func New(cfg config.Config, logger *zap.Logger, observer fetch.Observer) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []fetch.Option{
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout}),
		fetch.WithLogger(logger),
		fetch.WithMaxAttempts(cfg.Upstream.MaxAttempts),
	}
	if cfg.Upstream.RequestsPerSecond > 0 {
		opts = append(opts, fetch.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Upstream.RequestsPerSecond), cfg.Upstream.Burst)))
	}
	if observer != nil {
		opts = append(opts, fetch.WithObserver(observer))
	}
	client := fetch.New(opts...)

	resolver := roblox.NewResolver(client, roblox.Options{
		Endpoints: roblox.Endpoints{
			Users:      cfg.Upstream.Users,
			Avatar:     cfg.Upstream.Avatar,
			Thumbnails: cfg.Upstream.Thumbnails,
		},
		ColdStartRetries: cfg.Upstream.ColdStartRetries,
		Logger:           logger,
	})
	builder := asset.NewBuilder(client, cdn.Resolver{
		Template:  cfg.Upstream.CDNTemplate,
		ShardType: cfg.Upstream.ShardType,
	}, logger)

	catalog := rig.DefaultCatalog()
	if cfg.PosesFile != "" {
		if err := rig.LoadPoses(cfg.PosesFile, catalog); err != nil {
			return nil, err
		}
		logger.Info("custom poses loaded", zap.String("path", cfg.PosesFile), zap.Strings("poses", catalog.Names()))
	}

	return &Services{
		Config:   cfg,
		Client:   client,
		Resolver: resolver,
		Builder:  builder,
		Pipeline: pipeline.New(resolver, builder, logger),
		Catalog:  catalog,
		Logger:   logger,
	}, nil
}

// RenderOptions returns headless render settings for format f.
func (s *Services) RenderOptions(f render.Format) pipeline.RenderOptions {
	r := s.Config.Render
	return pipeline.RenderOptions{
		Pose:    r.Pose,
		Catalog: s.Catalog,
		Format:  f,
		Batch: render.BatchOptions{
			Size:        r.Size,
			Supersample: r.Supersample,
			Exposure:    r.Exposure,
		},
		Logger: s.Logger,
	}
}

// NewStore opens the configured outfit-list store.
func NewStore(cfg config.CacheConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "", config.CacheMemory:
		return store.NewMemoryStore(nil), nil
	case config.CacheRedis:
		return store.NewRedisStore(cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("app: unknown cache backend %q", cfg.Backend)
	}
}
