// Package render turns reconstructed scenes into images: a deterministic
// headless mode for bulk export and an interactive session with an orbiting
// camera and live light controls.
package render

import (
	"image"
	"image/color"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/postprocess"
	"rbx-avatar-renderer/internal/raster"
	"rbx-avatar-renderer/internal/scene"
)

// Headless output settings.
const (
	BatchSize        = 1024
	BatchSupersample = 2
	BatchExposure    = 1.0
)

// BatchOptions tunes a headless render. Zero values select the fixed
// headless settings.
type BatchOptions struct {
	Size        int
	Supersample int
	Exposure    float64
	Background  color.NRGBA
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Size <= 0 {
		o.Size = BatchSize
	}
	if o.Supersample <= 0 {
		o.Supersample = BatchSupersample
	}
	if o.Exposure <= 0 {
		o.Exposure = BatchExposure
	}
	return o
}

// Batch performs one draw of model from its framed camera under the default
// light rig. Textures are already decoded by reconstruction, so the first
// draw is the final one.
func Batch(model *scene.Model, opts BatchOptions) (*image.NRGBA, error) {
	if model == nil {
		return nil, apperr.New(apperr.InvalidInput, "no model to render")
	}
	if model.Disposed() {
		return nil, apperr.New(apperr.Internal, "model resources already released")
	}
	opts = opts.withDefaults()
	cam := scene.FitCamera(model.RefreshBounds(), scene.BatchFraming)
	return draw(model, cam, scene.DefaultLights(), opts.Size, opts.Size, opts.Supersample, opts.Exposure, opts.Background), nil
}

// draw renders at w·ss × h·ss and filters down to w×h.
func draw(model *scene.Model, cam scene.Camera, lights scene.Lights, w, h, ss int, exposure float64, bg color.NRGBA) *image.NRGBA {
	if ss < 1 {
		ss = 1
	}
	img := raster.Render(model, cam, lights, raster.Options{
		Width:      w * ss,
		Height:     h * ss,
		Exposure:   exposure,
		Background: bg,
	})
	if ss > 1 {
		img = postprocess.Downsample(img, w, h)
	}
	return img
}
