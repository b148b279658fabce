// Package gltfexport writes a reconstructed, possibly posed, avatar as a
// binary glTF file.
package gltfexport

import (
	"bytes"
	"fmt"
	"image/png"
	"io"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/mathutil"
	"rbx-avatar-renderer/internal/scene"
)

// Generator is recorded in the asset header.
const Generator = "rbx-avatar-renderer"

type batch struct {
	mat       *scene.Material
	positions [][3]float32
	normals   [][3]float32
	uvs       [][2]float32
	indices   []uint32
}

func vec3f(v mathutil.Vec3) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

// Build bakes every mesh of model into world space (current pose included)
// and returns a document with one primitive per material.
func Build(model *scene.Model) (*gltf.Document, error) {
	if model == nil || model.Root == nil {
		return nil, apperr.New(apperr.InvalidInput, "no model to export")
	}
	if model.Disposed() {
		return nil, apperr.New(apperr.Internal, "model resources already released")
	}

	var order []*batch
	byMat := make(map[*scene.Material]*batch)
	fallback := scene.DefaultMaterial()
	model.Root.Traverse(func(n *scene.Node) {
		if len(n.Meshes) == 0 {
			return
		}
		world := n.World()
		for _, m := range n.Meshes {
			mat := m.Material
			if mat == nil {
				mat = fallback
			}
			b, ok := byMat[mat]
			if !ok {
				b = &batch{mat: mat}
				byMat[mat] = b
				order = append(order, b)
			}
			for _, tri := range m.Triangles {
				var ps [3]mathutil.Vec3
				for k := range ps {
					ps[k] = world.MulPoint(tri.P[k])
				}
				nrm := ps[1].Sub(ps[0]).Cross(ps[2].Sub(ps[0])).Normalize()
				for k, p := range ps {
					b.indices = append(b.indices, uint32(len(b.positions)))
					b.positions = append(b.positions, vec3f(p))
					b.normals = append(b.normals, vec3f(nrm))
					var uv [2]float32
					if tri.HasUV {
						// glTF texture space starts at the top row.
						uv = [2]float32{float32(tri.UV[k][0]), float32(1 - tri.UV[k][1])}
					}
					b.uvs = append(b.uvs, uv)
				}
			}
		}
	})
	if len(order) == 0 {
		return nil, apperr.New(apperr.MalformedBundle, "model has no geometry to export")
	}

	doc := gltf.NewDocument()
	doc.Asset.Generator = Generator
	mesh := &gltf.Mesh{Name: model.Name}
	images := make(map[string]uint32)

	for _, b := range order {
		if len(b.indices) == 0 {
			continue
		}
		matIdx, err := writeMaterial(doc, b.mat, images)
		if err != nil {
			return nil, err
		}
		prim := &gltf.Primitive{
			Attributes: map[string]uint32{
				gltf.POSITION:   uint32(modeler.WritePosition(doc, b.positions)),
				gltf.NORMAL:     uint32(modeler.WriteNormal(doc, b.normals)),
				gltf.TEXCOORD_0: uint32(modeler.WriteTextureCoord(doc, b.uvs)),
			},
			Indices:  gltf.Index(uint32(modeler.WriteIndices(doc, b.indices))),
			Material: gltf.Index(matIdx),
		}
		mesh.Primitives = append(mesh.Primitives, prim)
	}

	doc.Meshes = []*gltf.Mesh{mesh}
	doc.Nodes = []*gltf.Node{{Name: model.Name, Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)
	return doc, nil
}

func writeMaterial(doc *gltf.Document, mat *scene.Material, images map[string]uint32) (uint32, error) {
	gm := &gltf.Material{
		Name:        mat.Name,
		DoubleSided: mat.DoubleSided,
		AlphaMode:   gltf.AlphaOpaque,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float32{
				float32(mat.Diffuse[0]), float32(mat.Diffuse[1]), float32(mat.Diffuse[2]), float32(mat.Opacity),
			},
			MetallicFactor:  gltf.Float(0),
			RoughnessFactor: gltf.Float(1),
		},
	}
	if mat.Transparent {
		gm.AlphaMode = gltf.AlphaMask
		gm.AlphaCutoff = gltf.Float(float32(mat.AlphaTest))
	}

	if mat.Map != nil {
		tex, ok := images[mat.MapRef]
		if !ok {
			var buf bytes.Buffer
			if err := png.Encode(&buf, mat.Map); err != nil {
				return 0, fmt.Errorf("gltfexport: encode texture %s: %w", mat.MapRef, err)
			}
			img, err := modeler.WriteImage(doc, mat.Name, "image/png", &buf)
			if err != nil {
				return 0, fmt.Errorf("gltfexport: write texture %s: %w", mat.MapRef, err)
			}
			doc.Samplers = append(doc.Samplers, &gltf.Sampler{WrapS: gltf.WrapRepeat, WrapT: gltf.WrapRepeat})
			sampler := uint32(len(doc.Samplers) - 1)
			doc.Textures = append(doc.Textures, &gltf.Texture{Sampler: gltf.Index(sampler), Source: gltf.Index(uint32(img))})
			tex = uint32(len(doc.Textures) - 1)
			images[mat.MapRef] = tex
		}
		gm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: tex}
	}

	doc.Materials = append(doc.Materials, gm)
	return uint32(len(doc.Materials) - 1), nil
}

// Write encodes model as GLB.
func Write(w io.Writer, model *scene.Model) error {
	doc, err := Build(model)
	if err != nil {
		return err
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("gltfexport: encode: %w", err)
	}
	return nil
}
