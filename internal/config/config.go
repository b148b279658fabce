// Package config loads service and CLI settings from a YAML or JSON file and
// layers command-line overrides and defaults on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"rbx-avatar-renderer/internal/batch"
	"rbx-avatar-renderer/internal/ratelimit"
	"rbx-avatar-renderer/internal/render"
	"rbx-avatar-renderer/internal/server"
	"rbx-avatar-renderer/internal/store"
)

// Config holds every configurable setting.
type Config struct {
	Server    server.Config    `yaml:"server" json:"server"`
	Upstream  UpstreamConfig   `yaml:"upstream" json:"upstream"`
	RateLimit ratelimit.Config `yaml:"rate_limit" json:"rate_limit"`
	Cache     CacheConfig      `yaml:"cache" json:"cache"`
	Render    RenderConfig     `yaml:"render" json:"render"`
	Batch     BatchConfig      `yaml:"batch" json:"batch"`
	Log       LogConfig        `yaml:"log" json:"log"`

	OutputDir string `yaml:"output_dir" json:"output_dir"`
	PosesFile string `yaml:"poses_file" json:"poses_file"`
}

// UpstreamConfig points at the Roblox APIs and CDN.
type UpstreamConfig struct {
	Users       string `yaml:"users" json:"users"`
	Avatar      string `yaml:"avatar" json:"avatar"`
	Thumbnails  string `yaml:"thumbnails" json:"thumbnails"`
	CDNTemplate string `yaml:"cdn_template" json:"cdn_template"`
	ShardType   string `yaml:"shard_type" json:"shard_type"`
	MaxAttempts int    `yaml:"max_attempts" json:"max_attempts"`
	// RequestsPerSecond paces outbound requests; zero disables pacing.
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	// ColdStartRetries re-asks for an outfit descriptor after a 404; a
	// negative value disables it.
	ColdStartRetries int `yaml:"cold_start_retries" json:"cold_start_retries"`
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// CacheConfig selects the outfit-list store.
type CacheConfig struct {
	Backend    string            `yaml:"backend" json:"backend"`
	Redis      store.RedisConfig `yaml:"redis" json:"redis"`
	OutfitsTTL time.Duration     `yaml:"outfits_ttl" json:"outfits_ttl"`
}

// RenderConfig holds headless render settings.
type RenderConfig struct {
	Size        int     `yaml:"size" json:"size"`
	Supersample int     `yaml:"supersample" json:"supersample"`
	Exposure    float64 `yaml:"exposure" json:"exposure"`
	Format      string  `yaml:"format" json:"format"`
	Pose        string  `yaml:"pose" json:"pose"`
	// Slots bounds concurrent server-side renders.
	Slots int64 `yaml:"slots" json:"slots"`
}

// BatchConfig caps bulk concurrency per mode.
type BatchConfig struct {
	DownloadWorkers int `yaml:"download_workers" json:"download_workers"`
	RenderWorkers   int `yaml:"render_workers" json:"render_workers"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// Build returns a zap logger for the configured level.
func (l LogConfig) Build() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if l.Level != "" {
		lvl, err := zapcore.ParseLevel(l.Level)
		if err != nil {
			return nil, fmt.Errorf("config: log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	return logger, nil
}

// Load reads a YAML or JSON config file. Fields not set in the file keep
// their zero values until Resolve.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.PosesFile != "" && !filepath.IsAbs(cfg.PosesFile) {
		cfg.PosesFile = filepath.Join(filepath.Dir(path), cfg.PosesFile)
	}
	return cfg, nil
}

// Flags holds CLI flag values that override config file settings.
type Flags struct {
	Addr        string
	OutputDir   string
	Format      string
	Pose        string
	Size        int
	Supersample int
	Workers     int
	LogLevel    string
}

// Resolve applies non-zero flags, then fills defaults.
func (c *Config) Resolve(flags Flags) {
	if flags.Addr != "" {
		c.Server.Addr = flags.Addr
	}
	if flags.OutputDir != "" {
		c.OutputDir = flags.OutputDir
	}
	if flags.Format != "" {
		c.Render.Format = flags.Format
	}
	if flags.Pose != "" {
		c.Render.Pose = flags.Pose
	}
	if flags.Size > 0 {
		c.Render.Size = flags.Size
	}
	if flags.Supersample > 0 {
		c.Render.Supersample = flags.Supersample
	}
	if flags.Workers > 0 {
		c.Batch.DownloadWorkers = flags.Workers
		c.Batch.RenderWorkers = flags.Workers
	}
	if flags.LogLevel != "" {
		c.Log.Level = flags.LogLevel
	}

	def := server.DefaultConfig()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Addr
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = def.ReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = def.WriteTimeout
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = def.IdleTimeout
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.ShutdownTimeout
	}

	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = 30 * time.Second
	}
	if c.Upstream.Burst <= 0 {
		c.Upstream.Burst = 1
	}
	switch {
	case c.Upstream.ColdStartRetries < 0:
		c.Upstream.ColdStartRetries = 0
	case c.Upstream.ColdStartRetries == 0:
		c.Upstream.ColdStartRetries = 2
	}

	rl := ratelimit.DefaultConfig()
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = rl.Window
	}
	if c.RateLimit.Max <= 0 {
		c.RateLimit.Max = rl.Max
	}
	if c.RateLimit.PruneAbove <= 0 {
		c.RateLimit.PruneAbove = rl.PruneAbove
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	if c.Cache.OutfitsTTL <= 0 {
		c.Cache.OutfitsTTL = 60 * time.Second
	}

	if c.Render.Size <= 0 {
		c.Render.Size = render.BatchSize
	}
	if c.Render.Supersample <= 0 {
		c.Render.Supersample = render.BatchSupersample
	}
	if c.Render.Exposure <= 0 {
		c.Render.Exposure = render.BatchExposure
	}
	if c.Render.Format == "" {
		c.Render.Format = string(render.FormatWebP)
	}
	if c.Render.Slots <= 0 {
		c.Render.Slots = 1
	}

	if c.Batch.DownloadWorkers <= 0 {
		c.Batch.DownloadWorkers = batch.BundleWorkers
	}
	if c.Batch.RenderWorkers <= 0 {
		c.Batch.RenderWorkers = batch.RenderWorkers
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.OutputDir == "" {
		c.OutputDir = "renders"
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Cache.Backend != CacheMemory && c.Cache.Backend != CacheRedis {
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheRedis && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("config: cache.redis.addr is required for the redis backend")
	}
	if _, err := render.ParseFormat(c.Render.Format); err != nil && c.Render.Format != "glb" && c.Render.Format != "zip" {
		return fmt.Errorf("config: render.format: %w", err)
	}
	if c.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("config: upstream.requests_per_second must not be negative")
	}
	return nil
}
