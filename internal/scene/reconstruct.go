package scene

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/mathutil"
	"rbx-avatar-renderer/internal/objmtl"
	"rbx-avatar-renderer/internal/texture"
)

// Options tunes reconstruction.
type Options struct {
	// Framing scales the camera fit distance; zero means BatchFraming.
	Framing float64
	Logger  *zap.Logger
}

// Model is a reconstructed avatar. It owns the texture resources it loaded
// and must be disposed once its output is no longer needed.
type Model struct {
	Name      string
	Root      *Node
	Object    *Node
	Camera    Camera
	Lights    Lights
	Bounds    mathutil.Box
	Materials map[string]*Material

	textures *texture.Store
	disposed atomic.Bool
}

// Textures returns the resolver of the model's texture resources.
func (m *Model) Textures() texture.Resolver { return m.textures }

// Dispose releases the texture resources. Only the first call does work; it
// reports whether this call released them.
func (m *Model) Dispose() bool {
	if !m.disposed.CompareAndSwap(false, true) {
		return false
	}
	if m.textures != nil {
		m.textures.Release()
	}
	return true
}

// Disposed reports whether Dispose has run.
func (m *Model) Disposed() bool { return m.disposed.Load() }

// LiveTextures is the number of unreleased texture resources.
func (m *Model) LiveTextures() int {
	if m.textures == nil {
		return 0
	}
	return m.textures.Live()
}

// RefreshBounds recomputes world bounds, e.g. after posing.
func (m *Model) RefreshBounds() mathutil.Box {
	m.Bounds = m.Root.WorldBounds()
	return m.Bounds
}

// Reconstruct builds a Model from a bundle: textures are materialized and
// their filenames in the material text replaced with resource addresses,
// every texture is decoded before the mesh is assembled, the geometry is
// centred on the origin and turned 180° about Y, and a camera and light rig
// are fitted.
func Reconstruct(ctx context.Context, b *asset.Bundle, opts Options) (*Model, error) {
	if b == nil || !b.HasMesh() || !b.HasMaterial() {
		return nil, apperr.New(apperr.MalformedBundle, "bundle is missing its mesh or material entry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	framing := opts.Framing
	if framing <= 0 {
		framing = BatchFraming
	}

	store := texture.NewStore(logger)
	model, err := build(ctx, b, store, framing)
	if err != nil {
		store.Release()
		return nil, err
	}
	logger.Debug("scene reconstructed",
		zap.String("name", model.Name),
		zap.Int("parts", len(model.Object.Children())),
		zap.Int("materials", len(model.Materials)),
		zap.Int("textures", store.Live()))
	return model, nil
}

func build(ctx context.Context, b *asset.Bundle, store *texture.Store, framing float64) (*Model, error) {
	mtlText := b.Material
	for _, tex := range b.Textures {
		h, err := store.Materialize(tex.Filename, tex.Data)
		if err != nil {
			return nil, err
		}
		mtlText = strings.ReplaceAll(mtlText, tex.Filename, h.Address)
	}

	if err := store.DecodeAll(ctx); err != nil {
		return nil, fmt.Errorf("scene: wait for textures: %w", err)
	}

	defs, err := objmtl.ParseMTL(strings.NewReader(mtlText))
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedBundle, "unreadable material file", err)
	}
	materials := make(map[string]*Material, len(defs))
	for _, d := range defs {
		materials[d.Name] = NewMaterial(d, store)
	}

	obj, err := objmtl.ParseOBJ(strings.NewReader(b.Mesh))
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedBundle, "unreadable mesh file", err)
	}
	if obj.FaceCount() == 0 {
		return nil, apperr.New(apperr.MalformedBundle, "mesh has no faces")
	}

	root := NewNode("Scene")
	object := NewNode(b.BaseName)
	root.Add(object)

	fallback := DefaultMaterial()
	for _, g := range obj.Groups {
		object.Add(groupNode(obj, g, materials, fallback))
	}

	// Centre, then turn to face the camera: world = R·(v - c).
	center := object.WorldBounds().Center()
	object.Rotation = mathutil.Vec3{0, math.Pi, 0}
	object.Position = mathutil.EulerXYZ(object.Rotation).MulVec3(center).Neg()

	m := &Model{
		Name:      b.BaseName,
		Root:      root,
		Object:    object,
		Lights:    DefaultLights(),
		Materials: materials,
		textures:  store,
	}
	m.RefreshBounds()
	m.Camera = FitCamera(m.Bounds, framing)
	return m, nil
}

func groupNode(obj *objmtl.OBJ, g *objmtl.Group, materials map[string]*Material, fallback *Material) *Node {
	node := NewNode(g.Name)
	byMaterial := make(map[string]*Mesh)
	for _, f := range g.Faces {
		mesh, ok := byMaterial[f.Material]
		if !ok {
			mat := materials[f.Material]
			if mat == nil {
				mat = fallback
			}
			mesh = &Mesh{Name: g.Name + "/" + f.Material, Material: mat}
			byMaterial[f.Material] = mesh
			node.Meshes = append(node.Meshes, mesh)
		}

		var tri Triangle
		tri.HasUV = f.T[0] >= 0 && f.T[1] >= 0 && f.T[2] >= 0
		for k := 0; k < 3; k++ {
			tri.P[k] = obj.Positions[f.V[k]]
			if tri.HasUV {
				tri.UV[k] = obj.UVs[f.T[k]]
			}
		}
		mesh.Triangles = append(mesh.Triangles, tri)
	}
	return node
}
