package texture

import (
	"path"
	"strings"
)

// Index maps lowercase texture stems to resource addresses so material
// references resolve whether they carry a path, an extension or neither.
type Index struct {
	entries map[string]string // stem.lower() -> address
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]string)}
}

// Add registers name under address. The first registration of a stem wins.
func (idx *Index) Add(name, address string) {
	stem := stemOf(name)
	if _, exists := idx.entries[stem]; !exists {
		idx.entries[stem] = address
	}
}

// Lookup returns the address registered for ref, or ("", false).
func (idx *Index) Lookup(ref string) (string, bool) {
	addr, ok := idx.entries[stemOf(ref)]
	return addr, ok
}

// Len returns the number of indexed textures.
func (idx *Index) Len() int {
	return len(idx.entries)
}

func stemOf(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	return strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
}
