// Package api exposes the asset pipeline over HTTP: username lookup, outfit
// listing, bundle downloads, server-side renders and bulk archives.
package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/batch"
	"rbx-avatar-renderer/internal/fetch"
	"rbx-avatar-renderer/internal/metrics"
	"rbx-avatar-renderer/internal/pipeline"
	"rbx-avatar-renderer/internal/ratelimit"
	"rbx-avatar-renderer/internal/render"
	"rbx-avatar-renderer/internal/roblox"
	"rbx-avatar-renderer/internal/store"
)

// Admission denial messages.
const (
	MsgOutfitDenied = "Too many requests. Please try again in a minute."
	MsgPlayerDenied = "Rate limit exceeded. Please wait a minute."
)

// Defaults.
const (
	DefaultOutfitsTTL = 60 * time.Second
	DefaultMaxBulk    = 50
	outfitsCache      = "outfits"
)

// FormatGLB selects binary glTF output on the render endpoint.
const FormatGLB = "glb"

// Resolver looks up identities and outfit lists. *roblox.Resolver satisfies it.
type Resolver interface {
	UsernameToID(ctx context.Context, username string) (int64, error)
	Outfits(ctx context.Context, userID int64) (*roblox.OutfitList, error)
}

// Bundles downloads asset bundles. *pipeline.Pipeline satisfies it.
type Bundles interface {
	OutfitBundle(ctx context.Context, outfitID int64, name string) (*asset.Bundle, error)
	PlayerBundle(ctx context.Context, userID int64, username string) (*asset.Bundle, error)
}

// Config wires the handler's collaborators. Admitter and Cache are owned by
// the caller and outlive the handler.
type Config struct {
	Resolver   Resolver
	Bundles    Bundles
	Admitter   *ratelimit.Admitter
	Cache      store.Store
	OutfitsTTL time.Duration
	Metrics    *metrics.Collector
	Render     pipeline.RenderOptions
	// RenderSlots bounds concurrent renders; zero means one.
	RenderSlots int64
	MaxBulk     int
	Logger      *zap.Logger
}

// Handler serves the HTTP endpoints.
type Handler struct {
	cfg    Config
	slots  *semaphore.Weighted
	logger *zap.Logger
}

// New returns a Handler. Missing admitter and cache get in-memory defaults.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Admitter == nil {
		cfg.Admitter = ratelimit.New(ratelimit.DefaultConfig(), nil)
	}
	if cfg.Cache == nil {
		cfg.Cache = store.NewMemoryStore(nil)
	}
	if cfg.OutfitsTTL <= 0 {
		cfg.OutfitsTTL = DefaultOutfitsTTL
	}
	if cfg.RenderSlots <= 0 {
		cfg.RenderSlots = 1
	}
	if cfg.MaxBulk <= 0 {
		cfg.MaxBulk = DefaultMaxBulk
	}
	if cfg.Render.Logger == nil {
		cfg.Render.Logger = cfg.Logger
	}
	return &Handler{
		cfg:    cfg,
		slots:  semaphore.NewWeighted(cfg.RenderSlots),
		logger: cfg.Logger.With(zap.String("component", "api")),
	}
}

// Routes returns the full handler with its middleware chain.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/userid", postOnly(h.userID))
	mux.Handle("/api/outfits", http.HandlerFunc(h.outfits))
	mux.Handle("/api/outfit-download", postOnly(h.outfitDownload))
	mux.Handle("/api/player-download", postOnly(h.playerDownload))
	mux.Handle("/api/render", postOnly(h.render))
	mux.Handle("/api/bulk", postOnly(h.bulk))
	mux.HandleFunc("/healthz", h.health)
	if h.cfg.Metrics != nil {
		mux.Handle("/metrics", h.cfg.Metrics.Handler())
	}
	return Chain(mux,
		Recovery(h.logger),
		RequestID(),
		RequestLogger(h.logger, h.cfg.Metrics),
		CORS(),
	)
}

func postOnly(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeMessage(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		fn(w, r)
	})
}

func (h *Handler) admit(r *http.Request, endpoint string) (string, bool) {
	caller := ratelimit.CallerID(r)
	ok := h.cfg.Admitter.Admit(caller)
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RecordAdmission(endpoint, ok)
	}
	if !ok {
		h.logger.Info("admission denied", zap.String("endpoint", endpoint), zap.String("caller", caller))
	}
	return caller, ok
}

type userIDRequest struct {
	Username string `json:"username"`
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) {
	var req userIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, "server error", err)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeMessage(w, http.StatusBadRequest, "username required")
		return
	}
	id, err := h.cfg.Resolver.UsernameToID(r.Context(), req.Username)
	if err != nil {
		writeError(w, h.logger, "server error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

type outfitsRequest struct {
	UserID flexString `json:"userId"`
}

func (h *Handler) outfits(w http.ResponseWriter, r *http.Request) {
	var raw string
	switch r.Method {
	case http.MethodGet:
		raw = r.URL.Query().Get("userId")
	case http.MethodPost:
		var req outfitsRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, h.logger, "server error", err)
			return
		}
		raw = string(req.UserID)
	default:
		writeMessage(w, http.StatusMethodNotAllowed, "GET or POST only")
		return
	}
	userID, err := roblox.ParseID(raw, "userId")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid userId")
		return
	}

	ctx := r.Context()
	key := outfitsCache + ":" + strings.Join(strings.Fields(raw), "")
	var cached roblox.OutfitList
	switch err := store.GetJSON(ctx, h.cfg.Cache, key, &cached); {
	case err == nil:
		h.cacheResult(true)
		writeJSON(w, http.StatusOK, cached)
		return
	case !errors.Is(err, store.ErrMiss):
		h.logger.Warn("outfit cache read failed", zap.String("key", key), zap.Error(err))
	}
	h.cacheResult(false)

	list, err := h.cfg.Resolver.Outfits(ctx, userID)
	if err != nil {
		writeError(w, h.logger, "server error", err)
		return
	}
	if err := store.SetJSON(ctx, h.cfg.Cache, key, list, h.cfg.OutfitsTTL); err != nil {
		h.logger.Warn("outfit cache write failed", zap.String("key", key), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) cacheResult(hit bool) {
	if h.cfg.Metrics == nil {
		return
	}
	if hit {
		h.cfg.Metrics.RecordCacheHit(outfitsCache)
	} else {
		h.cfg.Metrics.RecordCacheMiss(outfitsCache)
	}
}

type downloadRequest struct {
	OutfitID   flexString `json:"outfitId"`
	OutfitName string     `json:"outfitName"`
	UserID     flexString `json:"userId"`
	Username   string     `json:"username"`
}

func (h *Handler) outfitDownload(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.admit(r, "outfit-download")
	if !ok {
		writeMessage(w, http.StatusTooManyRequests, MsgOutfitDenied)
		return
	}
	var req downloadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, "Download failed", err)
		return
	}
	id, err := roblox.ParseID(string(req.OutfitID), "outfitId")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid outfitId")
		return
	}
	ctx := forwardCaller(r.Context(), caller)
	b, err := h.cfg.Bundles.OutfitBundle(ctx, id, strings.TrimSpace(req.OutfitName))
	if err != nil {
		writeError(w, h.logger, "Download failed", err)
		return
	}
	h.sendBundle(w, b)
}

func (h *Handler) playerDownload(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admit(r, "player-download"); !ok {
		writeMessage(w, http.StatusTooManyRequests, MsgPlayerDenied)
		return
	}
	var req downloadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, "Download failed", err)
		return
	}
	id, err := roblox.ParseID(string(req.UserID), "userId")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid userId")
		return
	}
	b, err := h.cfg.Bundles.PlayerBundle(r.Context(), id, strings.TrimSpace(req.Username))
	if err != nil {
		writeError(w, h.logger, "Download failed", err)
		return
	}
	h.sendBundle(w, b)
}

func (h *Handler) sendBundle(w http.ResponseWriter, b *asset.Bundle) {
	data, err := b.Archive()
	if err != nil {
		writeError(w, h.logger, "Download failed", err)
		return
	}
	writeAttachment(w, "application/zip", b.ArchiveName(), data)
}

// forwardCaller tags upstream requests with the caller's address.
func forwardCaller(ctx context.Context, caller string) context.Context {
	return fetch.WithHeaders(ctx, http.Header{
		"X-Forwarded-For": {caller},
		"Roblox-Id":       {"true"},
	})
}

type renderRequest struct {
	OutfitID   flexString `json:"outfitId"`
	OutfitName string     `json:"outfitName"`
	UserID     flexString `json:"userId"`
	Username   string     `json:"username"`
	Pose       string     `json:"pose"`
	Format     string     `json:"format"`
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.admit(r, "render")
	if !ok {
		writeMessage(w, http.StatusTooManyRequests, MsgOutfitDenied)
		return
	}
	var req renderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, "Render failed", err)
		return
	}

	glb := strings.EqualFold(req.Format, FormatGLB)
	opts := h.cfg.Render
	if req.Pose != "" {
		opts.Pose = req.Pose
	}
	if !glb {
		f, err := render.ParseFormat(req.Format)
		if err != nil {
			writeError(w, h.logger, "Render failed", err)
			return
		}
		opts.Format = f
	}
	if opts.Pose != "" && opts.Catalog != nil {
		if _, ok := opts.Catalog.Get(opts.Pose); !ok {
			writeMessage(w, http.StatusBadRequest, "Unknown pose "+opts.Pose)
			return
		}
	}

	ctx := r.Context()
	fetchBundle, err := h.bundleSource(req)
	if err != nil {
		writeError(w, h.logger, "Render failed", err)
		return
	}

	if !h.slots.TryAcquire(1) {
		writeError(w, h.logger, "Render failed", render.ErrBusy)
		return
	}
	defer h.slots.Release(1)

	b, err := fetchBundle(forwardCaller(ctx, caller))
	if err != nil {
		writeError(w, h.logger, "Render failed", err)
		return
	}

	start := time.Now()
	var (
		data        []byte
		contentType string
		name        string
		label       string
	)
	if glb {
		label = FormatGLB
		data, err = pipeline.ExportGLB(ctx, b, opts)
		contentType, name = "model/gltf-binary", b.BaseName+".glb"
	} else {
		label = string(opts.Format)
		data, err = pipeline.RenderBundle(ctx, b, opts)
		contentType, name = opts.Format.ContentType(), b.BaseName+opts.Format.Ext()
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RecordRender(label, err, time.Since(start))
	}
	if err != nil {
		writeError(w, h.logger, "Render failed", err)
		return
	}
	writeAttachment(w, contentType, name, data)
}

func (h *Handler) bundleSource(req renderRequest) (func(context.Context) (*asset.Bundle, error), error) {
	if strings.TrimSpace(string(req.OutfitID)) != "" {
		id, err := roblox.ParseID(string(req.OutfitID), "outfitId")
		if err != nil {
			return nil, apperr.New(apperr.InvalidInput, "invalid outfitId")
		}
		return func(ctx context.Context) (*asset.Bundle, error) {
			return h.cfg.Bundles.OutfitBundle(ctx, id, strings.TrimSpace(req.OutfitName))
		}, nil
	}
	id, err := roblox.ParseID(string(req.UserID), "userId")
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, "invalid outfitId or userId")
	}
	return func(ctx context.Context) (*asset.Bundle, error) {
		return h.cfg.Bundles.PlayerBundle(ctx, id, strings.TrimSpace(req.Username))
	}, nil
}

type bulkRequest struct {
	Mode    string       `json:"mode"`
	Pose    string       `json:"pose"`
	Format  string       `json:"format"`
	Outfits []bulkOutfit `json:"outfits"`
}

type bulkOutfit struct {
	ID   flexString `json:"id"`
	Name string     `json:"name"`
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.admit(r, "bulk")
	if !ok {
		writeMessage(w, http.StatusTooManyRequests, MsgOutfitDenied)
		return
	}
	var req bulkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, "Bulk export failed", err)
		return
	}
	if len(req.Outfits) == 0 {
		writeMessage(w, http.StatusBadRequest, "No outfits selected")
		return
	}
	if len(req.Outfits) > h.cfg.MaxBulk {
		writeMessage(w, http.StatusBadRequest, "Too many outfits selected")
		return
	}
	tasks := make([]batch.Task, 0, len(req.Outfits))
	for _, o := range req.Outfits {
		id, err := roblox.ParseID(string(o.ID), "outfitId")
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid outfitId")
			return
		}
		tasks = append(tasks, batch.Task{ID: id, Name: o.Name})
	}

	mode := batch.Mode(strings.ToLower(req.Mode))
	if mode == "" {
		mode = batch.ModeBundle
	}
	opts := h.cfg.Render
	if req.Pose != "" {
		opts.Pose = req.Pose
	}
	switch mode {
	case batch.ModeBundle:
	case batch.ModeRender:
		f, err := render.ParseFormat(req.Format)
		if err != nil {
			writeError(w, h.logger, "Bulk export failed", err)
			return
		}
		opts.Format = f
		if !h.slots.TryAcquire(1) {
			writeError(w, h.logger, "Bulk export failed", render.ErrBusy)
			return
		}
		defer h.slots.Release(1)
	default:
		writeMessage(w, http.StatusBadRequest, "Unknown mode "+req.Mode)
		return
	}

	out, err := batch.Run(forwardCaller(r.Context(), caller), batch.Config{
		Mode:   mode,
		Source: h.cfg.Bundles,
		Render: opts,
		Logger: h.logger,
	}, tasks)
	if err != nil {
		writeError(w, h.logger, "Bulk export failed", apperr.Wrap(apperr.Internal, "bulk export", err))
		return
	}
	var buf bytes.Buffer
	if err := out.WriteArchive(&buf); err != nil {
		writeError(w, h.logger, "Bulk export failed", err)
		return
	}
	writeAttachment(w, "application/zip", out.Name, buf.Bytes())
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "cache": "ok"}
	code := http.StatusOK
	if p, ok := h.cfg.Cache.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			status["status"], status["cache"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}
