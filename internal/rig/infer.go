package rig

import (
	"strings"

	"rbx-avatar-renderer/internal/mathutil"
	"rbx-avatar-renderer/internal/scene"
)

// PivotSuffix names the wrapper nodes inserted around claimed parts.
const PivotSuffix = "Pivot"

// Binding ties a part to the node that represents it.
type Binding struct {
	Part Part
	Node *scene.Node
	// Original is the node's local rotation before articulation.
	Original mathutil.Vec3

	Wrapper  *scene.Node
	Baseline mathutil.Vec3
	Pivot    mathutil.Vec3
}

// BodyPartMap is an injective mapping from parts to scene nodes.
type BodyPartMap struct {
	bindings map[Part]*Binding
	claimed  map[*scene.Node]Part
}

// Get returns the binding of p.
func (m *BodyPartMap) Get(p Part) (*Binding, bool) {
	b, ok := m.bindings[p]
	return b, ok
}

// PartOf returns the part claimed by node.
func (m *BodyPartMap) PartOf(node *scene.Node) (Part, bool) {
	p, ok := m.claimed[node]
	return p, ok
}

// Len is the number of claimed parts.
func (m *BodyPartMap) Len() int { return len(m.bindings) }

// HasBodyParts reports whether any part was claimed.
func (m *BodyPartMap) HasBodyParts() bool { return len(m.bindings) > 0 }

// Parts lists claimed parts in canonical order.
func (m *BodyPartMap) Parts() []Part {
	out := make([]Part, 0, len(m.bindings))
	for _, p := range Canonical {
		if _, ok := m.bindings[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Infer claims nodes below root (root itself excluded). Exact "PlayerN"
// names are claimed first; remaining nodes then try a case-insensitive
// substring match against the canonical names in order. A part is claimed
// by at most one node and a node claims at most one part.
func Infer(root *scene.Node) *BodyPartMap {
	m := &BodyPartMap{
		bindings: make(map[Part]*Binding),
		claimed:  make(map[*scene.Node]Part),
	}
	var nodes []*scene.Node
	root.Traverse(func(n *scene.Node) {
		if n != root && !strings.HasSuffix(n.Name, PivotSuffix) {
			nodes = append(nodes, n)
		}
	})

	claim := func(p Part, n *scene.Node) {
		m.bindings[p] = &Binding{Part: p, Node: n, Original: n.Rotation}
		m.claimed[n] = p
	}

	for _, n := range nodes {
		if p, ok := PlayerGroups[n.Name]; ok {
			if _, taken := m.bindings[p]; !taken {
				claim(p, n)
			}
		}
	}
	for _, n := range nodes {
		if _, done := m.claimed[n]; done {
			continue
		}
		if _, exact := PlayerGroups[n.Name]; exact {
			continue
		}
		lower := strings.ToLower(n.Name)
		for _, p := range Canonical {
			if _, taken := m.bindings[p]; taken {
				continue
			}
			if strings.Contains(lower, strings.ToLower(string(p))) {
				claim(p, n)
				break
			}
		}
	}
	return m
}

// PivotFor computes the world-space pivot of part from its world bounds.
// The figure faces +Z with its left side at +X: arm pivots sit on the inner
// top edge, leg pivots on the top face, the head pivot on its bottom face
// and torso pivots at the centre.
func PivotFor(part Part, box mathutil.Box) mathutil.Vec3 {
	c := box.Center()
	switch part.Kind() {
	case KindArm:
		x := box.Max[0]
		if part.IsLeft() {
			x = box.Min[0]
		}
		return mathutil.Vec3{x, box.Max[1], c[2]}
	case KindLeg:
		return mathutil.Vec3{c[0], box.Max[1], c[2]}
	case KindHead:
		return mathutil.Vec3{c[0], box.Min[1], c[2]}
	}
	return c
}
