// Package pipeline chains the stages that turn an outfit or user id into
// an asset bundle, and a bundle into a rendered image or a GLB model.
package pipeline

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/gltfexport"
	"rbx-avatar-renderer/internal/postprocess"
	"rbx-avatar-renderer/internal/render"
	"rbx-avatar-renderer/internal/rig"
	"rbx-avatar-renderer/internal/scene"
)

// Descriptors resolves 3D descriptors. *roblox.Resolver satisfies it.
type Descriptors interface {
	OutfitDescriptor(ctx context.Context, outfitID int64) (*asset.Descriptor, error)
	AvatarDescriptor(ctx context.Context, userID int64) (*asset.Descriptor, error)
}

// Builder assembles bundles. *asset.Builder satisfies it.
type Builder interface {
	Build(ctx context.Context, desc *asset.Descriptor, baseName string) (*asset.Bundle, error)
}

// Pipeline fetches bundles.
type Pipeline struct {
	descriptors Descriptors
	builder     Builder
	logger      *zap.Logger
}

// New returns a Pipeline.
func New(d Descriptors, b Builder, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{descriptors: d, builder: b, logger: logger.With(zap.String("component", "pipeline"))}
}

// OutfitBundle resolves and downloads an outfit as "Outfit_{id}_{name}".
func (p *Pipeline) OutfitBundle(ctx context.Context, outfitID int64, name string) (*asset.Bundle, error) {
	desc, err := p.descriptors.OutfitDescriptor(ctx, outfitID)
	if err != nil {
		return nil, err
	}
	b, err := p.builder.Build(ctx, desc, asset.BaseName(asset.OutfitPrefix, outfitID, name))
	if err != nil {
		return nil, err
	}
	p.logger.Debug("outfit bundle built", zap.Int64("outfit_id", outfitID), zap.Int("textures", len(b.Textures)))
	return b, nil
}

// PlayerBundle resolves and downloads a user's current avatar as
// "User_{id}_{username}".
func (p *Pipeline) PlayerBundle(ctx context.Context, userID int64, username string) (*asset.Bundle, error) {
	desc, err := p.descriptors.AvatarDescriptor(ctx, userID)
	if err != nil {
		return nil, err
	}
	b, err := p.builder.Build(ctx, desc, asset.BaseName(asset.UserPrefix, userID, username))
	if err != nil {
		return nil, err
	}
	p.logger.Debug("avatar bundle built", zap.Int64("user_id", userID), zap.Int("textures", len(b.Textures)))
	return b, nil
}

// RenderOptions selects the pose and output of a headless render.
type RenderOptions struct {
	Pose    string
	Catalog *rig.Catalog
	Format  render.Format
	Batch   render.BatchOptions
	Logger  *zap.Logger
}

// Posed reconstructs b, applies the requested pose and hands the model to
// fn. The model's resources are released when fn returns. A pose other
// than Default on a model without recognizable body parts fails with
// apperr.Unavailable and fn is not called.
func Posed(ctx context.Context, b *asset.Bundle, opts RenderOptions, fn func(*scene.Model) error) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	model, err := scene.Reconstruct(ctx, b, scene.Options{Framing: scene.BatchFraming, Logger: logger})
	if err != nil {
		return err
	}
	defer model.Dispose()

	if opts.Pose != "" && !strings.EqualFold(opts.Pose, rig.PoseDefault) {
		r, err := rig.Articulate(model, rig.Options{Catalog: opts.Catalog, Logger: logger})
		if err != nil {
			return err
		}
		if err := r.Apply(opts.Pose); err != nil {
			if apperr.Is(err, apperr.Unavailable) {
				logger.Warn("pose rejected", zap.String("model", model.Name), zap.String("pose", opts.Pose), zap.Error(err))
			}
			return err
		}
	}
	return fn(model)
}

// RenderBundle renders b headlessly and encodes the image.
func RenderBundle(ctx context.Context, b *asset.Bundle, opts RenderOptions) ([]byte, error) {
	var buf bytes.Buffer
	err := Posed(ctx, b, opts, func(m *scene.Model) error {
		img, err := render.Batch(m, opts.Batch)
		if err != nil {
			return err
		}
		if postprocess.Bounds(img, 0).Empty() && opts.Logger != nil {
			opts.Logger.Warn("rendered frame is empty", zap.String("model", m.Name))
		}
		return render.Encode(&buf, img, opts.Format)
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportGLB writes the posed model as binary glTF.
func ExportGLB(ctx context.Context, b *asset.Bundle, opts RenderOptions) ([]byte, error) {
	var buf bytes.Buffer
	err := Posed(ctx, b, opts, func(m *scene.Model) error {
		return gltfexport.Write(&buf, m)
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
