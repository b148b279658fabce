// Package asset models a resolved 3D asset (descriptor), its downloaded form
// (bundle) and the archive both travel in.
package asset

import (
	"bytes"
	"encoding/json"
	"fmt"

	"rbx-avatar-renderer/internal/apperr"
)

// Descriptor names the content hashes of one 3D asset. Raw keeps the manifest
// exactly as the upstream served it.
type Descriptor struct {
	Mesh     string   `json:"obj,omitempty"`
	Material string   `json:"mtl,omitempty"`
	Textures []string `json:"textures,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseDescriptor decodes a manifest and validates it.
func ParseDescriptor(raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, apperr.Wrap(apperr.BadUpstream, "malformed 3D manifest", err)
	}
	d.Raw = append(json.RawMessage(nil), raw...)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate requires at least one of mesh, material or textures.
func (d *Descriptor) Validate() error {
	if d.Mesh == "" && d.Material == "" && len(d.Textures) == 0 {
		return apperr.New(apperr.MissingAssets, "3D manifest missing obj/mtl/textures")
	}
	for i, h := range d.Textures {
		if h == "" {
			return apperr.Newf(apperr.BadUpstream, "3D manifest texture %d has an empty hash", i)
		}
	}
	return nil
}

// Pretty returns the raw manifest indented with two spaces. A descriptor built
// in code without Raw is marshalled instead.
func (d *Descriptor) Pretty() ([]byte, error) {
	raw := d.Raw
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(d); err != nil {
			return nil, fmt.Errorf("asset: encode manifest: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("asset: indent manifest: %w", err)
	}
	return buf.Bytes(), nil
}
