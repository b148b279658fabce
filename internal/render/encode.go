package render

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/HugoSmits86/nativewebp"

	"rbx-avatar-renderer/internal/apperr"
)

// Format is an image container.
type Format string

const (
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// ParseFormat accepts "png" and "webp" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPNG, FormatWebP:
		return f, nil
	case "":
		return FormatPNG, nil
	}
	return "", apperr.Newf(apperr.InvalidInput, "unsupported image format %q", s)
}

// Ext is the file extension including the dot.
func (f Format) Ext() string { return "." + string(f) }

// ContentType is the MIME type of the format.
func (f Format) ContentType() string { return "image/" + string(f) }

// Encode writes img in the given format. WebP output is lossless.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case FormatWebP:
		if err := nativewebp.Encode(w, img, nil); err != nil {
			return fmt.Errorf("render: webp encode: %w", err)
		}
		return nil
	case FormatPNG, "":
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("render: png encode: %w", err)
		}
		return nil
	}
	return fmt.Errorf("render: unsupported image format %q", f)
}
