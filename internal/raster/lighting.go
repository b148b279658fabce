package raster

import (
	"math"

	"rbx-avatar-renderer/internal/mathutil"
	"rbx-avatar-renderer/internal/scene"
)

// Specular response of the key light.
const (
	SpecInt = 0.25
	SpecPow = 24.0
)

// LightConfig holds precomputed lighting parameters for one frame.
type LightConfig struct {
	Ambient  [3]float64
	Dirs     [3]mathutil.Vec3
	Radiance [3][3]float64 // color × intensity per directional light
	HalfKey  mathutil.Vec3 // Blinn-Phong half-vector of the key light
	KeySpec  float64
	Exposure float64
	InvGamma float64
}

// NewLightConfig folds a light rig into per-channel factors. viewDir points
// from the target toward the eye.
func NewLightConfig(l scene.Lights, viewDir mathutil.Vec3, exposure float64) LightConfig {
	lc := LightConfig{
		Exposure: exposure,
		InvGamma: 1.0 / 2.2,
	}
	for c := 0; c < 3; c++ {
		lc.Ambient[c] = l.AmbientColor[c] * l.AmbientIntensity
	}
	for i, d := range l.Directional() {
		lc.Dirs[i] = d.Direction.Normalize()
		for c := 0; c < 3; c++ {
			lc.Radiance[i][c] = d.Color[c] * d.Intensity
		}
	}
	lc.HalfKey = lc.Dirs[0].Add(viewDir.Normalize()).Normalize()
	lc.KeySpec = SpecInt * l.Key.Intensity
	return lc
}

// ComputeShade returns the per-channel lighting factor for a face normal.
func (lc *LightConfig) ComputeShade(normal mathutil.Vec3) [3]float64 {
	shade := lc.Ambient
	for i, d := range lc.Dirs {
		// abs for double-sided
		ndl := math.Abs(normal.Dot(d))
		for c := 0; c < 3; c++ {
			shade[c] += ndl * lc.Radiance[i][c]
		}
	}

	ndh := normal.Dot(lc.HalfKey)
	if ndh < 0 {
		ndh = 0
	}
	spec := math.Pow(ndh, SpecPow) * lc.KeySpec
	for c := 0; c < 3; c++ {
		shade[c] += spec
	}
	return shade
}

// Precomputed sRGB-to-linear lookup table (256 entries).
var srgbToLinear [256]float64

func init() {
	for i := 0; i < 256; i++ {
		srgbToLinear[i] = math.Pow(float64(i)/255.0, 2.2)
	}
}

// ACESTonemap applies ACES Filmic tone mapping to a linear value.
func ACESTonemap(x float64) float64 {
	return (x * (2.51*x + 0.03)) / (x*(2.43*x+0.59) + 0.14)
}

// encode maps a linear radiance to an sRGB byte.
func (lc *LightConfig) encode(lin float64) uint8 {
	return clamp255(math.Pow(ACESTonemap(lin*lc.Exposure), lc.InvGamma) * 255)
}
