package asset

import (
	"encoding/json"
	"fmt"
)

// Texture is one binary texture entry keyed by its synthetic filename.
type Texture struct {
	Filename string
	Data     []byte
}

// Bundle is the downloaded form of a descriptor: mesh text, rewritten
// material text, ordered textures and the pretty-printed manifest.
type Bundle struct {
	BaseName string
	Mesh     string
	Material string
	Textures []Texture
	Manifest []byte

	hasMesh     bool
	hasMaterial bool
}

// SetMesh records the mesh entry.
func (b *Bundle) SetMesh(text string) {
	b.Mesh = text
	b.hasMesh = true
}

// SetMaterial records the material entry.
func (b *Bundle) SetMaterial(text string) {
	b.Material = text
	b.hasMaterial = true
}

// HasMesh reports whether the bundle carries a mesh entry.
func (b *Bundle) HasMesh() bool { return b.hasMesh }

// HasMaterial reports whether the bundle carries a material entry.
func (b *Bundle) HasMaterial() bool { return b.hasMaterial }

// MeshName is the archive entry name of the mesh.
func (b *Bundle) MeshName() string { return b.BaseName + ".obj" }

// MaterialName is the archive entry name of the material.
func (b *Bundle) MaterialName() string { return b.BaseName + ".mtl" }

// ManifestName is the archive entry name of the provenance manifest.
func (b *Bundle) ManifestName() string { return b.BaseName + manifestSuffix }

// ArchiveName is the download filename of the packed bundle.
func (b *Bundle) ArchiveName() string { return b.BaseName + ".zip" }

// Texture returns the entry with the given filename.
func (b *Bundle) Texture(filename string) (Texture, bool) {
	for _, t := range b.Textures {
		if t.Filename == filename {
			return t, true
		}
	}
	return Texture{}, false
}

// ManifestDescriptor decodes the provenance entry.
func (b *Bundle) ManifestDescriptor() (*Descriptor, error) {
	if len(b.Manifest) == 0 {
		return nil, fmt.Errorf("asset: bundle %s has no manifest", b.BaseName)
	}
	var d Descriptor
	if err := json.Unmarshal(b.Manifest, &d); err != nil {
		return nil, fmt.Errorf("asset: decode manifest: %w", err)
	}
	d.Raw = append(json.RawMessage(nil), b.Manifest...)
	return &d, nil
}
