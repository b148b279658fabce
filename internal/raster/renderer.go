// Package raster is a software rasterizer for reconstructed avatar scenes:
// perspective projection, a z-buffer, flat three-point lighting, ACES tone
// mapping and a transparent background.
package raster

import (
	"image"
	"image/color"
	"math"
	"sort"

	"rbx-avatar-renderer/internal/mathutil"
	"rbx-avatar-renderer/internal/scene"
)

// Options describes the render target.
type Options struct {
	Width      int
	Height     int
	Exposure   float64
	Background color.NRGBA
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.Height <= 0 {
		o.Height = o.Width
	}
	if o.Exposure <= 0 {
		o.Exposure = 1
	}
	return o
}

type drawItem struct {
	mesh  *scene.Mesh
	world mathutil.Mat4
	depth float64 // view-space z of the mesh centroid
}

// Render draws every mesh under model.Root as seen from cam. Opaque meshes
// are drawn first; transparent meshes follow back to front.
func Render(model *scene.Model, cam scene.Camera, lights scene.Lights, opts Options) *image.NRGBA {
	opts = opts.withDefaults()
	fb := NewFrameBuffer(opts.Width, opts.Height, opts.Background)
	if model == nil || model.Root == nil {
		return fb.Image()
	}

	view := cam.View()
	proj := newProjection(cam, opts.Width, opts.Height)
	lc := NewLightConfig(lights, cam.Position.Sub(cam.Target), opts.Exposure)

	var opaque, transparent []drawItem
	model.Root.Traverse(func(n *scene.Node) {
		if len(n.Meshes) == 0 {
			return
		}
		world := n.World()
		for _, m := range n.Meshes {
			if len(m.Triangles) == 0 {
				continue
			}
			item := drawItem{mesh: m, world: world}
			if m.Material != nil && m.Material.Transparent {
				item.depth = view.MulPoint(world.MulPoint(centroid(m))).Dot(mathutil.AxisZ)
				transparent = append(transparent, item)
			} else {
				opaque = append(opaque, item)
			}
		}
	})
	sort.SliceStable(transparent, func(i, j int) bool {
		return transparent[i].depth < transparent[j].depth
	})

	for _, it := range opaque {
		drawMesh(fb, it, view, proj, cam.Position, &lc, false)
	}
	for _, it := range transparent {
		drawMesh(fb, it, view, proj, cam.Position, &lc, true)
	}
	return fb.Image()
}

func drawMesh(fb *FrameBuffer, it drawItem, view mathutil.Mat4, proj projection, eye mathutil.Vec3, lc *LightConfig, transparent bool) {
	mat := it.mesh.Material
	if mat == nil {
		mat = scene.DefaultMaterial()
	}
	s := surface{mat: mat}
	var poly [4]clipVertex
	var out [8]clipVertex

	for i := range it.mesh.Triangles {
		tri := &it.mesh.Triangles[i]
		var wp [3]mathutil.Vec3
		for k := 0; k < 3; k++ {
			wp[k] = it.world.MulPoint(tri.P[k])
		}

		// Flat shading from the world-space face normal, turned to the viewer.
		n := wp[1].Sub(wp[0]).Cross(wp[2].Sub(wp[0]))
		if n.Len() < 1e-12 {
			continue
		}
		n = n.Normalize()
		if n.Dot(eye.Sub(wp[0])) < 0 {
			n = n.Neg()
		}
		s.shade = lc.ComputeShade(n)
		s.hasUV = tri.HasUV

		for k := 0; k < 3; k++ {
			poly[k] = clipVertex{pos: view.MulPoint(wp[k]), uv: tri.UV[k]}
		}
		clipped := clipNear(poly[:3], proj.near, out[:0])
		if len(clipped) < 3 {
			continue
		}
		var sv [8]vertex
		for k, cv := range clipped {
			sv[k] = proj.project(cv)
		}
		for k := 1; k+1 < len(clipped); k++ {
			rasterizeTriangle(fb, [3]vertex{sv[0], sv[k], sv[k+1]}, &s, lc, transparent)
		}
	}
}

func centroid(m *scene.Mesh) mathutil.Vec3 {
	var sum mathutil.Vec3
	for _, t := range m.Triangles {
		sum = sum.Add(t.P[0]).Add(t.P[1]).Add(t.P[2])
	}
	return sum.Scale(1 / float64(3*len(m.Triangles)))
}

type clipVertex struct {
	pos mathutil.Vec3 // view space
	uv  [2]float64
}

// clipNear clips a convex polygon against the plane z = -near.
func clipNear(in []clipVertex, near float64, out []clipVertex) []clipVertex {
	inside := func(v clipVertex) bool { return v.pos[2] <= -near }
	for i := range in {
		a, b := in[i], in[(i+1)%len(in)]
		ina, inb := inside(a), inside(b)
		if ina {
			out = append(out, a)
		}
		if ina != inb {
			t := (-near - a.pos[2]) / (b.pos[2] - a.pos[2])
			out = append(out, clipVertex{
				pos: a.pos.Add(b.pos.Sub(a.pos).Scale(t)),
				uv: [2]float64{
					a.uv[0] + (b.uv[0]-a.uv[0])*t,
					a.uv[1] + (b.uv[1]-a.uv[1])*t,
				},
			})
		}
	}
	return out
}

type projection struct {
	fx, fy        float64
	width, height float64
	near          float64
}

func newProjection(cam scene.Camera, w, h int) projection {
	fov := cam.FOV
	if fov <= 0 {
		fov = scene.FOV
	}
	f := 1 / math.Tan(mathutil.Deg2Rad(fov)/2)
	near := cam.Near
	if near <= 0 {
		near = 0.01
	}
	aspect := float64(w) / float64(h)
	return projection{fx: f / aspect, fy: f, width: float64(w), height: float64(h), near: near}
}

func (p projection) project(v clipVertex) vertex {
	invW := 1 / -v.pos[2]
	ndcX := p.fx * v.pos[0] * invW
	ndcY := p.fy * v.pos[1] * invW
	return vertex{
		x:    (ndcX + 1) / 2 * p.width,
		y:    (1 - ndcY) / 2 * p.height,
		invW: invW,
		uw:   v.uv[0] * invW,
		vw:   v.uv[1] * invW,
	}
}
