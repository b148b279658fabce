package scene

import (
	"image"

	"rbx-avatar-renderer/internal/objmtl"
	"rbx-avatar-renderer/internal/texture"
)

// AlphaCutoff is the alpha-test threshold of transparent materials.
const AlphaCutoff = 0.1

// Material is a resolved surface description.
type Material struct {
	Name    string
	Diffuse [3]float64
	Opacity float64

	// Transparent materials are drawn after opaque ones, discard fragments
	// whose alpha is below AlphaTest and still write depth.
	Transparent bool
	AlphaTest   float64
	DepthWrite  bool
	DoubleSided bool

	MapRef   string
	Map      *image.NRGBA
	AlphaRef string
	AlphaMap *image.NRGBA
}

// DefaultMaterial is used for faces that name no known material.
func DefaultMaterial() *Material {
	return &Material{
		Name:        "default",
		Diffuse:     [3]float64{1, 1, 1},
		Opacity:     1,
		DepthWrite:  true,
		DoubleSided: true,
	}
}

// NewMaterial resolves textures and applies the transparency policy: a
// sub-1 opacity or an alpha map makes the material an alpha-tested cutout.
func NewMaterial(src *objmtl.Material, textures texture.Resolver) *Material {
	m := &Material{
		Name:        src.Name,
		Diffuse:     src.Diffuse,
		Opacity:     src.Opacity,
		DepthWrite:  true,
		DoubleSided: true,
		MapRef:      src.DiffuseMap,
		AlphaRef:    src.AlphaMap,
	}
	if m.Opacity <= 0 || m.Opacity > 1 {
		m.Opacity = 1
	}
	if textures != nil {
		if m.MapRef != "" {
			m.Map = textures.Resolve(m.MapRef)
		}
		if m.AlphaRef != "" {
			m.AlphaMap = textures.Resolve(m.AlphaRef)
		}
	}
	if src.Opacity < 1 || src.AlphaMap != "" {
		m.Transparent = true
		m.AlphaTest = AlphaCutoff
	}
	return m
}
