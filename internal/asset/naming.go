package asset

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// MaxNameLen caps a sanitized display name.
const MaxNameLen = 60

// Prefixes for bundle base names.
const (
	OutfitPrefix = "Outfit"
	UserPrefix   = "User"
)

// SanitizeName replaces every UTF-16 code unit outside [A-Za-z0-9] with '_'
// and truncates the result to limit characters. An empty name yields fallback.
func SanitizeName(name, fallback string, limit int) string {
	if name == "" {
		name = fallback
	}
	units := utf16.Encode([]rune(name))
	var b strings.Builder
	b.Grow(len(units))
	for _, u := range units {
		switch {
		case u >= 'a' && u <= 'z', u >= 'A' && u <= 'Z', u >= '0' && u <= '9':
			b.WriteByte(byte(u))
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// BaseName builds "{prefix}_{id}_{sanitized display}".
func BaseName(prefix string, id int64, display string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, id, SanitizeName(display, prefix, MaxNameLen))
}

// TextureFilename is the synthetic name of the i-th (0-based) texture.
func TextureFilename(i int) string {
	return fmt.Sprintf("texture_%d.png", i+1)
}
