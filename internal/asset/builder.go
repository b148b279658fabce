package asset

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/cdn"
)

// Fetcher downloads CDN payloads. *fetch.Client satisfies it.
type Fetcher interface {
	GetText(ctx context.Context, url string) (string, error)
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// Builder downloads the payloads a descriptor names and assembles a Bundle.
type Builder struct {
	fetcher Fetcher
	urls    cdn.Resolver
	logger  *zap.Logger
}

// NewBuilder returns a Builder resolving hashes through urls.
func NewBuilder(f Fetcher, urls cdn.Resolver, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{fetcher: f, urls: urls, logger: logger.With(zap.String("component", "bundle"))}
}

// Build fetches material, then each texture in descriptor order, then mesh.
// The first failed fetch aborts the build.
func (b *Builder) Build(ctx context.Context, desc *Descriptor, baseName string) (*Bundle, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	out := &Bundle{BaseName: baseName}

	if desc.Material != "" {
		text, err := b.fetcher.GetText(ctx, b.urls.URL(desc.Material))
		if err != nil {
			return nil, fmt.Errorf("asset: fetch material %s: %w", desc.Material, err)
		}
		rewritten, refs := RewriteMaterial(text, desc.Textures)
		out.SetMaterial(rewritten)

		for _, ref := range refs {
			data, err := b.fetcher.GetBytes(ctx, b.urls.URL(ref.Hash))
			if err != nil {
				return nil, fmt.Errorf("asset: fetch texture %s: %w", ref.Hash, err)
			}
			out.Textures = append(out.Textures, Texture{Filename: ref.Filename, Data: data})
		}
	}

	if desc.Mesh != "" {
		text, err := b.fetcher.GetText(ctx, b.urls.URL(desc.Mesh))
		if err != nil {
			return nil, fmt.Errorf("asset: fetch mesh %s: %w", desc.Mesh, err)
		}
		out.SetMesh(text)
	}

	manifest, err := desc.Pretty()
	if err != nil {
		return nil, err
	}
	out.Manifest = manifest

	b.logger.Debug("bundle built",
		zap.String("base", baseName),
		zap.Bool("mesh", out.HasMesh()),
		zap.Bool("material", out.HasMaterial()),
		zap.Int("textures", len(out.Textures)))
	return out, nil
}
