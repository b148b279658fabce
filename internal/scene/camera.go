package scene

import (
	"math"

	"rbx-avatar-renderer/internal/mathutil"
)

// FOV is the vertical field of view in degrees.
const FOV = 45.0

// Framing multipliers applied to the fit distance.
const (
	InteractiveFraming = 2.0
	BatchFraming       = 1.4
)

// Camera is a perspective camera looking at Target.
type Camera struct {
	FOV      float64 // vertical, degrees
	Position mathutil.Vec3
	Target   mathutil.Vec3
	Up       mathutil.Vec3
	Near     float64
	Far      float64
}

// FitCamera frames bounds from +Z: the distance fits the largest dimension
// inside the field of view and is then scaled by framing.
func FitCamera(bounds mathutil.Box, framing float64) Camera {
	if framing <= 0 {
		framing = 1
	}
	maxDim := bounds.MaxDim()
	if maxDim <= 0 {
		maxDim = 1
	}
	half := mathutil.Deg2Rad(FOV) / 2
	dist := math.Abs(maxDim/2/math.Tan(half)) * framing
	center := bounds.Center()
	if bounds.IsEmpty() {
		center = mathutil.Vec3{}
	}
	return Camera{
		FOV:      FOV,
		Position: center.Add(mathutil.Vec3{0, 0, dist}),
		Target:   center,
		Up:       mathutil.AxisY,
		Near:     dist / 100,
		Far:      dist * 100,
	}
}

// Distance is the eye-to-target distance.
func (c Camera) Distance() float64 {
	return c.Position.Sub(c.Target).Len()
}

// View returns the world-to-view matrix.
func (c Camera) View() mathutil.Mat4 {
	up := c.Up
	if up.Len() == 0 {
		up = mathutil.AxisY
	}
	return mathutil.LookAt(c.Position, c.Target, up)
}

// Orbit returns a camera rotated about Target by yaw (around Y) and pitch,
// both in radians, at the given distance. Pitch is clamped to ±85°.
func (c Camera) Orbit(yaw, pitch, distance float64) Camera {
	limit := mathutil.Deg2Rad(85)
	pitch = mathutil.Clamp(pitch, -limit, limit)
	offset := mathutil.Vec3{
		distance * math.Cos(pitch) * math.Sin(yaw),
		distance * math.Sin(pitch),
		distance * math.Cos(pitch) * math.Cos(yaw),
	}
	out := c
	out.Position = c.Target.Add(offset)
	return out
}
