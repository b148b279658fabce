package raster

import (
	"math"

	"rbx-avatar-renderer/internal/scene"
)

// vertex is a projected vertex: pixel position, reciprocal view depth and
// texture coordinates pre-divided by view depth.
type vertex struct {
	x, y   float64
	invW   float64
	uw, vw float64
}

// surface is the per-face state shared by every fragment of a triangle.
type surface struct {
	mat   *scene.Material
	shade [3]float64
	hasUV bool
}

// rasterizeTriangle fills one projected triangle. Depth and texture
// coordinates are interpolated perspective-correctly. In the opaque pass
// fragments overwrite the target; in the transparent pass they are alpha
// tested against the material cutoff and blended over it.
//
// This is the HOT PATH: no allocation inside the pixel loop.
func rasterizeTriangle(fb *FrameBuffer, v [3]vertex, s *surface, lc *LightConfig, transparent bool) {
	x0, y0 := v[0].x, v[0].y
	x1, y1 := v[1].x, v[1].y
	x2, y2 := v[2].x, v[2].y

	det := (y1-y2)*(x0-x2) + (x2-x1)*(y0-y2)
	if det > -1e-12 && det < 1e-12 {
		return
	}
	invDet := 1.0 / det

	// Bounding box over pixel centres
	minX := int(math.Floor(math.Min(math.Min(x0, x1), x2)))
	maxX := int(math.Ceil(math.Max(math.Max(x0, x1), x2)))
	minY := int(math.Floor(math.Min(math.Min(y0, y1), y2)))
	maxY := int(math.Ceil(math.Max(math.Max(y0, y1), y2)))
	if minX < 0 {
		minX = 0
	}
	if maxX >= fb.Width {
		maxX = fb.Width - 1
	}
	if minY < 0 {
		minY = 0
	}
	if maxY >= fb.Height {
		maxY = fb.Height - 1
	}
	if minX > maxX || minY > maxY {
		return
	}

	// Precompute edge deltas
	dy12 := y1 - y2
	dx21 := x2 - x1
	dy20 := y2 - y0
	dx02 := x0 - x2

	mat := s.mat
	kd := mat.Diffuse
	texMap := mat.Map
	if !s.hasUV {
		texMap = nil
	}
	alphaMap := mat.AlphaMap
	if !s.hasUV {
		alphaMap = nil
	}

	for sy := minY; sy <= maxY; sy++ {
		dsy := float64(sy) + 0.5 - y2
		rowOff := sy * fb.Width
		for sx := minX; sx <= maxX; sx++ {
			dsx := float64(sx) + 0.5 - x2
			w0 := (dy12*dsx + dx21*dsy) * invDet
			w1 := (dy20*dsx + dx02*dsy) * invDet
			w2 := 1.0 - w0 - w1
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}

			z := w0*v[0].invW + w1*v[1].invW + w2*v[2].invW
			zIdx := rowOff + sx
			if z <= fb.ZBuf[zIdx] {
				continue
			}

			var u, vv float64
			if s.hasUV {
				u = (w0*v[0].uw + w1*v[1].uw + w2*v[2].uw) / z
				// Texture rows run top-down, texture V bottom-up.
				vv = 1 - (w0*v[0].vw+w1*v[1].vw+w2*v[2].vw)/z
			}

			var cr, cg, cb, ca uint8 = 255, 255, 255, 255
			if texMap != nil {
				cr, cg, cb, ca = SampleTexture(texMap, u, vv)
			}

			alpha := 1.0
			if transparent {
				alpha = float64(ca) / 255 * mat.Opacity
				if alphaMap != nil {
					alpha *= sampleCoverage(alphaMap, u, vv)
				}
				if alpha < mat.AlphaTest || alpha <= 0 {
					continue
				}
			}

			r := lc.encode(srgbToLinear[cr] * kd[0] * s.shade[0])
			g := lc.encode(srgbToLinear[cg] * kd[1] * s.shade[1])
			b := lc.encode(srgbToLinear[cb] * kd[2] * s.shade[2])

			pxIdx := zIdx * 4
			if !transparent || alpha >= 1 {
				fb.Color[pxIdx] = r
				fb.Color[pxIdx+1] = g
				fb.Color[pxIdx+2] = b
				fb.Color[pxIdx+3] = 255
				fb.ZBuf[zIdx] = z
				continue
			}

			blendOver(fb.Color[pxIdx:pxIdx+4], r, g, b, alpha)
			if mat.DepthWrite {
				fb.ZBuf[zIdx] = z
			}
		}
	}
}

// blendOver composites a straight-alpha source over dst in place.
func blendOver(dst []uint8, r, g, b uint8, a float64) {
	da := float64(dst[3]) / 255
	oa := a + da*(1-a)
	if oa <= 0 {
		return
	}
	mix := func(s, d uint8) uint8 {
		return clamp255((float64(s)*a + float64(d)*da*(1-a)) / oa)
	}
	dst[0] = mix(r, dst[0])
	dst[1] = mix(g, dst[1])
	dst[2] = mix(b, dst[2])
	dst[3] = clamp255(oa * 255)
}

func clamp255(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
