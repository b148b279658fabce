// Package cdn maps content hashes onto the sharded asset CDN hostnames.
package cdn

import (
	"fmt"
	"unicode/utf16"
)

const (
	// Seed starts the XOR fold.
	Seed = 31
	// ShardCount is the number of CDN shard hostnames.
	ShardCount = 8
	// DefaultShardType is the one-letter shard code for mesh, material and texture payloads.
	DefaultShardType = "t"
	// DefaultTemplate receives the shard type, shard index and hash.
	DefaultTemplate = "https://%s%d.rbxcdn.com/%s"
)

// Shard folds Seed with every UTF-16 code unit of hash by XOR and reduces the
// result modulo ShardCount. The fold must match the CDN's own assignment.
func Shard(hash string) int {
	st := Seed
	for _, unit := range utf16.Encode([]rune(hash)) {
		st ^= int(unit)
	}
	return st % ShardCount
}

// Resolver builds asset URLs from hashes. The zero value uses the defaults.
type Resolver struct {
	Template  string
	ShardType string
}

// URL returns the GET URL for hash.
func (r Resolver) URL(hash string) string {
	tmpl := r.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	typ := r.ShardType
	if typ == "" {
		typ = DefaultShardType
	}
	return fmt.Sprintf(tmpl, typ, Shard(hash), hash)
}

// HashURL resolves hash with the default template and shard type.
func HashURL(hash string) string {
	return Resolver{}.URL(hash)
}
