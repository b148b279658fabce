package asset

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"

	"rbx-avatar-renderer/internal/apperr"
)

const manifestSuffix = "_meta.json"

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tga":  true,
	".webp": true,
	".bmp":  true,
}

// Entry is a named byte payload inside an archive.
type Entry struct {
	Name string
	Data []byte
}

// WriteZip writes entries in order as a deflated zip archive.
func WriteZip(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		f, err := zw.Create(e.Name)
		if err != nil {
			return fmt.Errorf("asset: create entry %s: %w", e.Name, err)
		}
		if _, err := f.Write(e.Data); err != nil {
			return fmt.Errorf("asset: write entry %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("asset: finish archive: %w", err)
	}
	return nil
}

// Entries lists the bundle in archive order: material, textures, mesh, manifest.
func (b *Bundle) Entries() []Entry {
	entries := make([]Entry, 0, len(b.Textures)+3)
	if b.hasMaterial {
		entries = append(entries, Entry{Name: b.MaterialName(), Data: []byte(b.Material)})
	}
	for _, t := range b.Textures {
		entries = append(entries, Entry{Name: t.Filename, Data: t.Data})
	}
	if b.hasMesh {
		entries = append(entries, Entry{Name: b.MeshName(), Data: []byte(b.Mesh)})
	}
	if len(b.Manifest) > 0 {
		entries = append(entries, Entry{Name: b.ManifestName(), Data: b.Manifest})
	}
	return entries
}

// WriteArchive packs the bundle as a zip into w.
func (b *Bundle) WriteArchive(w io.Writer) error {
	return WriteZip(w, b.Entries())
}

// Archive returns the packed bundle bytes.
func (b *Bundle) Archive() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.WriteArchive(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadArchive unpacks a bundle zip, classifying entries by extension.
// Textures are ordered by the number in their name, then by name.
func ReadArchive(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedBundle, "not a zip archive", err)
	}

	var entries []Entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, apperr.Wrap(apperr.MalformedBundle, "open entry "+f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, apperr.Wrap(apperr.MalformedBundle, "read entry "+f.Name, err)
		}
		entries = append(entries, Entry{Name: f.Name, Data: body})
	}
	return FromEntries(entries)
}

// FromEntries classifies loose entries into a bundle. It fails with
// MalformedBundle when the mesh or the material is missing.
func FromEntries(entries []Entry) (*Bundle, error) {
	b := &Bundle{}
	for _, e := range entries {
		name := path.Base(e.Name)
		lower := strings.ToLower(name)
		ext := path.Ext(lower)
		switch {
		case strings.HasSuffix(lower, manifestSuffix):
			b.Manifest = e.Data
		case ext == ".obj":
			b.SetMesh(string(e.Data))
			b.BaseName = strings.TrimSuffix(name, path.Ext(name))
		case ext == ".mtl":
			b.SetMaterial(string(e.Data))
			if b.BaseName == "" {
				b.BaseName = strings.TrimSuffix(name, path.Ext(name))
			}
		case imageExts[ext]:
			b.Textures = append(b.Textures, Texture{Filename: name, Data: e.Data})
		}
	}
	if !b.hasMesh || !b.hasMaterial {
		return nil, apperr.New(apperr.MalformedBundle, "bundle is missing its .obj or .mtl entry")
	}
	sort.SliceStable(b.Textures, func(i, j int) bool {
		ni, nj := textureOrdinal(b.Textures[i].Filename), textureOrdinal(b.Textures[j].Filename)
		if ni != nj {
			return ni < nj
		}
		return b.Textures[i].Filename < b.Textures[j].Filename
	})
	return b, nil
}

// textureOrdinal extracts N from names like texture_N.png; other names sort last.
func textureOrdinal(name string) int {
	stem := strings.TrimSuffix(name, path.Ext(name))
	i := strings.LastIndexByte(stem, '_')
	if i < 0 {
		return int(^uint(0) >> 1)
	}
	n, err := strconv.Atoi(stem[i+1:])
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
