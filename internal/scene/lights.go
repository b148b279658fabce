package scene

import "rbx-avatar-renderer/internal/mathutil"

// DirectionalLight shines from Direction (pointing toward the light).
type DirectionalLight struct {
	Direction mathutil.Vec3
	Color     [3]float64
	Intensity float64
}

// Lights is the fixed three-point rig plus ambient fill.
type Lights struct {
	AmbientColor     [3]float64
	AmbientIntensity float64
	Key              DirectionalLight
	Fill             DirectionalLight
	Rim              DirectionalLight
}

// Default rig intensities.
const (
	DefaultAmbient = 0.6
	DefaultKey     = 1.1
	DefaultFill    = 0.45
	DefaultRim     = 0.7
)

var white = [3]float64{1, 1, 1}

// DefaultLights: key from front-upper-right, fill from front-upper-left,
// rim from behind and above.
func DefaultLights() Lights {
	return Lights{
		AmbientColor:     white,
		AmbientIntensity: DefaultAmbient,
		Key: DirectionalLight{
			Direction: mathutil.Vec3{5, 10, 7.5}.Normalize(),
			Color:     white,
			Intensity: DefaultKey,
		},
		Fill: DirectionalLight{
			Direction: mathutil.Vec3{-5, 5, 5}.Normalize(),
			Color:     white,
			Intensity: DefaultFill,
		},
		Rim: DirectionalLight{
			Direction: mathutil.Vec3{0, 8, -10}.Normalize(),
			Color:     white,
			Intensity: DefaultRim,
		},
	}
}

// Directional returns key, fill and rim in that order.
func (l Lights) Directional() [3]DirectionalLight {
	return [3]DirectionalLight{l.Key, l.Fill, l.Rim}
}

// WithIntensities returns a copy with the four intensities replaced.
func (l Lights) WithIntensities(ambient, key, fill, rim float64) Lights {
	l.AmbientIntensity = ambient
	l.Key.Intensity = key
	l.Fill.Intensity = fill
	l.Rim.Intensity = rim
	return l
}
