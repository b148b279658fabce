package render

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/mathutil"
	"rbx-avatar-renderer/internal/rig"
	"rbx-avatar-renderer/internal/scene"
)

// Zoom limits relative to the framed distance.
const (
	MinZoom = 0.5
	MaxZoom = 3.0
)

// LightInputs are live, user-adjustable light intensities. Setters may be
// called from any goroutine; the session reads them on every frame.
type LightInputs struct {
	ambient, key, fill, rim atomic.Uint64
}

// NewLightInputs starts from the default rig.
func NewLightInputs() *LightInputs {
	l := &LightInputs{}
	l.Set(scene.DefaultAmbient, scene.DefaultKey, scene.DefaultFill, scene.DefaultRim)
	return l
}

func storeFloat(v *atomic.Uint64, f float64) {
	v.Store(math.Float64bits(math.Max(0, f)))
}

func loadFloat(v *atomic.Uint64) float64 { return math.Float64frombits(v.Load()) }

// Set replaces all four intensities. Negative values clamp to zero.
func (l *LightInputs) Set(ambient, key, fill, rim float64) {
	storeFloat(&l.ambient, ambient)
	storeFloat(&l.key, key)
	storeFloat(&l.fill, fill)
	storeFloat(&l.rim, rim)
}

// SetAmbient sets the ambient intensity.
func (l *LightInputs) SetAmbient(v float64) { storeFloat(&l.ambient, v) }

// SetKey sets the key light intensity.
func (l *LightInputs) SetKey(v float64) { storeFloat(&l.key, v) }

// SetFill sets the fill light intensity.
func (l *LightInputs) SetFill(v float64) { storeFloat(&l.fill, v) }

// SetRim sets the rim light intensity.
func (l *LightInputs) SetRim(v float64) { storeFloat(&l.rim, v) }

// Values returns ambient, key, fill and rim.
func (l *LightInputs) Values() (ambient, key, fill, rim float64) {
	return loadFloat(&l.ambient), loadFloat(&l.key), loadFloat(&l.fill), loadFloat(&l.rim)
}

// Apply overrides the intensities of base.
func (l *LightInputs) Apply(base scene.Lights) scene.Lights {
	return base.WithIntensities(l.Values())
}

// SessionOptions tunes an interactive session.
type SessionOptions struct {
	Width       int
	Height      int
	Supersample int
	Exposure    float64
	Background  color.NRGBA
	// Rig enables pose switching; nil leaves the model unposed.
	Rig    *rig.Rig
	Lights *LightInputs
	Logger *zap.Logger
}

// Session is an interactive view of one model. It owns the model and
// releases its resources on Close.
type Session struct {
	opts   SessionOptions
	model  *scene.Model
	lights *LightInputs
	logger *zap.Logger

	mu       sync.Mutex
	base     scene.Camera
	framed   float64
	yaw      float64
	pitch    float64
	distance float64
	frames   int64

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewSession frames model for interactive viewing.
func NewSession(model *scene.Model, opts SessionOptions) *Session {
	if opts.Width <= 0 {
		opts.Width = 800
	}
	if opts.Height <= 0 {
		opts.Height = opts.Width
	}
	if opts.Supersample <= 0 {
		opts.Supersample = 1
	}
	if opts.Exposure <= 0 {
		opts.Exposure = BatchExposure
	}
	if opts.Lights == nil {
		opts.Lights = NewLightInputs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	base := scene.FitCamera(model.RefreshBounds(), scene.InteractiveFraming)
	return &Session{
		opts:     opts,
		model:    model,
		lights:   opts.Lights,
		logger:   opts.Logger.With(zap.String("component", "session"), zap.String("model", model.Name)),
		base:     base,
		framed:   base.Distance(),
		distance: base.Distance(),
	}
}

// Model returns the session's model.
func (s *Session) Model() *scene.Model { return s.model }

// Lights returns the live light inputs.
func (s *Session) Lights() *LightInputs { return s.lights }

// Orbit turns the camera around the target by the given yaw and pitch
// deltas in radians. Pitch stays within ±85°.
func (s *Session) Orbit(dYaw, dPitch float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := mathutil.Deg2Rad(85)
	s.yaw += dYaw
	s.pitch = mathutil.Clamp(s.pitch+dPitch, -limit, limit)
}

// Zoom scales the camera distance by factor, keeping it within
// [MinZoom, MaxZoom] times the framed distance.
func (s *Session) Zoom(factor float64) {
	if factor <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distance = mathutil.Clamp(s.distance*factor, s.framed*MinZoom, s.framed*MaxZoom)
}

// ResetView restores the framed camera.
func (s *Session) ResetView() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yaw, s.pitch, s.distance = 0, 0, s.framed
}

// Camera returns the current camera.
func (s *Session) Camera() scene.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameraLocked()
}

func (s *Session) cameraLocked() scene.Camera {
	return s.base.Orbit(s.yaw, s.pitch, s.distance)
}

// Pose applies a named pose.
func (s *Session) Pose(name string) error {
	if s.opts.Rig == nil {
		return apperr.New(apperr.Unavailable, "posing unavailable: no body parts recognized in this model")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.opts.Rig.Apply(name); err != nil {
		return err
	}
	s.model.RefreshBounds()
	s.logger.Debug("pose applied", zap.String("pose", name))
	return nil
}

// Frame draws the scene with the current camera and light inputs.
func (s *Session) Frame() (*image.NRGBA, error) {
	if s.closed.Load() {
		return nil, apperr.New(apperr.Unavailable, "session closed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lights := s.lights.Apply(s.model.Lights)
	img := draw(s.model, s.cameraLocked(), lights, s.opts.Width, s.opts.Height, s.opts.Supersample, s.opts.Exposure, s.opts.Background)
	s.frames++
	return img, nil
}

// Capture performs one explicit draw and returns it, independent of any
// running loop.
func (s *Session) Capture() (*image.NRGBA, error) {
	img, err := s.Frame()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("frame captured", zap.Int("width", img.Bounds().Dx()))
	return img, nil
}

// Frames is the number of frames drawn so far.
func (s *Session) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Run redraws at fps until ctx is done or the session is closed, handing
// each frame to sink.
func (s *Session) Run(ctx context.Context, fps int, sink func(*image.NRGBA)) error {
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		img, err := s.Frame()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return err
		}
		sink(img)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the model's resources. Only the first call does work.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.model.Dispose() {
			s.logger.Debug("session closed", zap.Int64("frames", s.frames))
		}
	})
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool { return s.closed.Load() }
