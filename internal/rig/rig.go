package rig

import (
	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/mathutil"
	"rbx-avatar-renderer/internal/scene"
)

// Options tunes articulation.
type Options struct {
	Catalog *Catalog
	// Flat keeps every wrapper directly under the part's original parent
	// instead of nesting wrappers along Hierarchy.
	Flat   bool
	Logger *zap.Logger
}

// Rig is an articulated model.
type Rig struct {
	parts   *BodyPartMap
	catalog *Catalog
	current string
	logger  *zap.Logger
}

// Articulate claims body parts in model, wraps each claimed node in a pivot
// wrapper and, unless opts.Flat, nests the wrappers along Hierarchy. A model
// without recognizable parts yields a rig whose HasBodyParts is false.
func Articulate(model *scene.Model, opts Options) (*Rig, error) {
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Rig{
		parts:   Infer(model.Object),
		catalog: opts.Catalog,
		current: PoseDefault,
		logger:  opts.Logger.With(zap.String("component", "rig")),
	}
	if !r.parts.HasBodyParts() {
		r.logger.Debug("no body parts recognized", zap.String("model", model.Name))
		return r, nil
	}

	// Pivots come from the unmodified geometry.
	for _, p := range r.parts.Parts() {
		b := r.parts.bindings[p]
		b.Pivot = PivotFor(p, b.Node.WorldBounds())
	}
	for _, p := range r.parts.Parts() {
		b := r.parts.bindings[p]
		b.Wrapper = scene.InsertParent(b.Node, string(p)+PivotSuffix, b.Pivot)
		b.Baseline = b.Wrapper.Rotation
	}

	if !opts.Flat {
		for _, p := range r.parts.Parts() {
			parent, ok := r.presentAncestor(p)
			if !ok {
				continue
			}
			if err := scene.Reparent(r.parts.bindings[p].Wrapper, r.parts.bindings[parent].Wrapper); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "nest pivot wrappers", err)
			}
		}
	}

	r.logger.Debug("model articulated",
		zap.String("model", model.Name),
		zap.Int("parts", r.parts.Len()),
		zap.Bool("nested", !opts.Flat))
	return r, nil
}

// presentAncestor walks Hierarchy up from p to the first claimed part.
func (r *Rig) presentAncestor(p Part) (Part, bool) {
	for cur, ok := p.Parent(); ok; cur, ok = cur.Parent() {
		if _, claimed := r.parts.bindings[cur]; claimed {
			return cur, true
		}
	}
	return "", false
}

// Parts returns the body-part map.
func (r *Rig) Parts() *BodyPartMap { return r.parts }

// HasBodyParts reports whether posing is available.
func (r *Rig) HasBodyParts() bool { return r.parts.HasBodyParts() }

// Catalog returns the poses the rig accepts.
func (r *Rig) Catalog() *Catalog { return r.catalog }

// Current is the name of the last applied pose.
func (r *Rig) Current() string { return r.current }

// Apply resets every wrapper to its baseline and adds the pose's deltas per
// axis. Parts the pose names but the model lacks are skipped.
func (r *Rig) Apply(name string) error {
	if !r.HasBodyParts() {
		return apperr.New(apperr.Unavailable, "posing unavailable: no body parts recognized in this model")
	}
	pose, ok := r.catalog.Get(name)
	if !ok {
		return apperr.Newf(apperr.InvalidInput, "unknown pose %q", name)
	}
	for _, p := range r.parts.Parts() {
		b := r.parts.bindings[p]
		d := pose.Deltas[p]
		b.Wrapper.Rotation = b.Baseline.Add(mathutil.Vec3{
			mathutil.Deg2Rad(d.X),
			mathutil.Deg2Rad(d.Y),
			mathutil.Deg2Rad(d.Z),
		})
	}
	r.current = pose.Name
	return nil
}

// Reset applies the Default pose.
func (r *Rig) Reset() error {
	return r.Apply(PoseDefault)
}

// Rotation returns the current wrapper rotation of p in radians.
func (r *Rig) Rotation(p Part) (mathutil.Vec3, bool) {
	b, ok := r.parts.bindings[p]
	if !ok || b.Wrapper == nil {
		return mathutil.Vec3{}, false
	}
	return b.Wrapper.Rotation, true
}

// Snapshot returns the wrapper rotation of every claimed part.
func (r *Rig) Snapshot() map[Part]mathutil.Vec3 {
	out := make(map[Part]mathutil.Vec3, r.parts.Len())
	for _, p := range r.parts.Parts() {
		out[p] = r.parts.bindings[p].Wrapper.Rotation
	}
	return out
}
