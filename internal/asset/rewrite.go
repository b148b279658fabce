package asset

import "strings"

// TextureRef pairs a texture hash with the synthetic filename that replaced it.
type TextureRef struct {
	Hash     string
	Filename string
}

// RewriteMaterial replaces every occurrence of each texture hash in mtl with
// its synthetic filename, in descriptor order.
func RewriteMaterial(mtl string, hashes []string) (string, []TextureRef) {
	refs := make([]TextureRef, 0, len(hashes))
	for i, h := range hashes {
		name := TextureFilename(i)
		if h != "" {
			mtl = strings.ReplaceAll(mtl, h, name)
		}
		refs = append(refs, TextureRef{Hash: h, Filename: name})
	}
	return mtl, refs
}
