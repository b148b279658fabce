package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/app"
	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/config"
	"rbx-avatar-renderer/internal/render"
	"rbx-avatar-renderer/internal/rig"
	"rbx-avatar-renderer/internal/roblox"
	"rbx-avatar-renderer/internal/scene"
)

const (
	orbitSpeed = 0.01 // radians per pixel
	zoomStep   = 1.1
	lightStep  = 0.05
)

var poseKeys = []ebiten.Key{ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4, ebiten.Key5}

// lightKeys raise and lower ambient, key, fill and rim intensity.
var lightKeys = [4][2]ebiten.Key{
	{ebiten.KeyQ, ebiten.KeyA},
	{ebiten.KeyW, ebiten.KeyS},
	{ebiten.KeyE, ebiten.KeyD},
	{ebiten.KeyR, ebiten.KeyF},
}

type viewer struct {
	sessions *render.Manager
	capture  render.Guard
	poses    []string
	outDir   string
	size     int
	logger   *zap.Logger

	mu     sync.Mutex
	latest *image.NRGBA
	status string

	buf   *image.RGBA
	dragX int
	dragY int
	drag  bool
}

func (v *viewer) setFrame(img *image.NRGBA) {
	v.mu.Lock()
	v.latest = img
	v.mu.Unlock()
}

func (v *viewer) setStatus(format string, args ...any) {
	v.mu.Lock()
	v.status = fmt.Sprintf(format, args...)
	v.mu.Unlock()
}

func (v *viewer) Update() error {
	s := v.sessions.Current()
	if s == nil {
		return ebiten.Termination
	}

	x, y := ebiten.CursorPosition()
	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		if v.drag {
			s.Orbit(float64(x-v.dragX)*orbitSpeed, float64(y-v.dragY)*orbitSpeed)
		}
		v.drag, v.dragX, v.dragY = true, x, y
	} else {
		v.drag = false
	}

	if _, wy := ebiten.Wheel(); wy != 0 {
		if wy > 0 {
			s.Zoom(1 / zoomStep)
		} else {
			s.Zoom(zoomStep)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		s.ResetView()
	}

	for i, k := range poseKeys {
		if i >= len(v.poses) || !inpututil.IsKeyJustPressed(k) {
			continue
		}
		if err := s.Pose(v.poses[i]); err != nil {
			v.setStatus("%v", err)
		} else {
			v.setStatus("Pose: %s", v.poses[i])
		}
	}

	lights := s.Lights()
	for i, pair := range lightKeys {
		delta := 0.0
		if ebiten.IsKeyPressed(pair[0]) {
			delta += lightStep
		}
		if ebiten.IsKeyPressed(pair[1]) {
			delta -= lightStep
		}
		if delta == 0 {
			continue
		}
		vals := [4]float64{}
		vals[0], vals[1], vals[2], vals[3] = lights.Values()
		vals[i] = max(0, vals[i]+delta)
		lights.Set(vals[0], vals[1], vals[2], vals[3])
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		release, ok := v.capture.TryAcquire()
		if !ok {
			v.setStatus("%v", render.ErrBusy)
		} else {
			go func() {
				defer release()
				v.saveCapture(s)
			}()
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	return nil
}

func (v *viewer) saveCapture(s *render.Session) {
	img, err := s.Capture()
	if err != nil {
		v.setStatus("capture failed: %v", err)
		return
	}
	name := fmt.Sprintf("%s_%d.png", s.Model().Name, time.Now().Unix())
	path := filepath.Join(v.outDir, name)
	f, err := os.Create(path)
	if err != nil {
		v.setStatus("capture failed: %v", err)
		return
	}
	defer f.Close()
	if err := render.Encode(f, img, render.FormatPNG); err != nil {
		v.setStatus("capture failed: %v", err)
		return
	}
	v.logger.Info("capture saved", zap.String("path", path))
	v.setStatus("Saved %s", path)
}

func (v *viewer) Draw(screen *ebiten.Image) {
	v.mu.Lock()
	img, status := v.latest, v.status
	v.mu.Unlock()

	if img != nil {
		if v.buf == nil || v.buf.Rect != img.Rect {
			v.buf = image.NewRGBA(img.Rect)
		}
		draw.Draw(v.buf, v.buf.Rect, image.White, image.Point{}, draw.Src)
		draw.Draw(v.buf, v.buf.Rect, img, img.Rect.Min, draw.Over)
		screen.WritePixels(v.buf.Pix)
	}

	a, k, f, r := v.sessions.Current().Lights().Values()
	hud := fmt.Sprintf("drag: orbit  wheel: zoom  space: reset  P: capture\nposes: %s\nQ/A ambient %.2f  W/S key %.2f  E/D fill %.2f  R/F rim %.2f",
		strings.Join(numbered(v.poses), "  "), a, k, f, r)
	if status != "" {
		hud += "\n" + status
	}
	ebitenutil.DebugPrint(screen, hud)
}

func (v *viewer) Layout(int, int) (int, int) { return v.size, v.size }

func numbered(names []string) []string {
	out := make([]string, 0, len(names))
	for i, n := range names {
		if i >= len(poseKeys) {
			break
		}
		out = append(out, fmt.Sprintf("%d:%s", i+1, n))
	}
	return out
}

func main() {
	configFile := flag.String("config", "", "Path to config file (YAML or JSON)")
	bundlePath := flag.String("bundle", "", "Bundle zip to view")
	outfitID := flag.String("outfit", "", "Outfit id to download and view")
	username := flag.String("username", "", "Username whose current avatar to view")
	size := flag.Int("size", 720, "Window size in pixels")
	fps := flag.Int("fps", 24, "Redraw rate")
	outputDir := flag.String("output", "", "Directory for captures (default: renders)")
	flag.Parse()

	var cfg config.Config
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.Resolve(config.Flags{OutputDir: *outputDir})

	logger, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, *bundlePath, *outfitID, *username, *size, *fps); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger, bundlePath, outfitID, username string, size, fps int) error {
	svc, err := app.New(cfg, logger, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := fetchBundle(ctx, svc, bundlePath, outfitID, username)
	if err != nil {
		return err
	}
	model, err := scene.Reconstruct(ctx, b, scene.Options{Framing: scene.InteractiveFraming, Logger: logger})
	if err != nil {
		return err
	}

	var r *rig.Rig
	if rg, err := rig.Articulate(model, rig.Options{Catalog: svc.Catalog, Logger: logger}); err != nil {
		model.Dispose()
		return err
	} else if rg.HasBodyParts() {
		r = rg
	} else {
		logger.Warn("no body parts recognized, posing disabled", zap.String("model", model.Name))
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		model.Dispose()
		return err
	}

	v := &viewer{
		sessions: &render.Manager{},
		poses:    svc.Catalog.Names(),
		outDir:   cfg.OutputDir,
		size:     size,
		logger:   logger,
	}
	defer v.sessions.Close()

	s := render.NewSession(model, render.SessionOptions{
		Width:    size,
		Exposure: cfg.Render.Exposure,
		Rig:      r,
		Logger:   logger,
	})
	v.sessions.Replace(s)

	go func() {
		if err := s.Run(ctx, fps, v.setFrame); err != nil && ctx.Err() == nil {
			logger.Error("render loop stopped", zap.Error(err))
		}
	}()

	ebiten.SetWindowSize(size, size)
	ebiten.SetWindowTitle("Avatar viewer - " + model.Name)
	if err := ebiten.RunGame(v); err != nil && err != ebiten.Termination {
		return err
	}
	return nil
}

func fetchBundle(ctx context.Context, svc *app.Services, bundlePath, outfitID, username string) (*asset.Bundle, error) {
	switch {
	case bundlePath != "":
		data, err := os.ReadFile(bundlePath)
		if err != nil {
			return nil, err
		}
		return asset.ReadArchive(data)
	case outfitID != "":
		id, err := roblox.ParseID(outfitID, "outfitId")
		if err != nil {
			return nil, err
		}
		return svc.Pipeline.OutfitBundle(ctx, id, "")
	case username != "":
		id, err := svc.Resolver.UsernameToID(ctx, username)
		if err != nil {
			return nil, err
		}
		return svc.Pipeline.PlayerBundle(ctx, id, username)
	}
	return nil, fmt.Errorf("one of -bundle, -outfit or -username is required")
}
