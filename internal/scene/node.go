// Package scene holds the reconstructed avatar: an owned node tree with local
// transforms, the materials of its meshes, a framing camera and a light rig.
package scene

import (
	"fmt"

	"rbx-avatar-renderer/internal/mathutil"
)

// Triangle is one face in its node's local space.
type Triangle struct {
	P     [3]mathutil.Vec3
	UV    [3][2]float64
	HasUV bool
}

// Mesh is a run of triangles sharing one material.
type Mesh struct {
	Name      string
	Material  *Material
	Triangles []Triangle
}

// Node is one element of the scene tree. Rotation is an X-Y-Z Euler triple
// in radians applied before Position.
type Node struct {
	Name     string
	Position mathutil.Vec3
	Rotation mathutil.Vec3
	Meshes   []*Mesh

	parent   *Node
	children []*Node
}

// NewNode returns a detached node.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// Parent returns the owning node, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the direct children. The slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

// Add appends child, detaching it from any previous parent.
func (n *Node) Add(child *Node) {
	if child.parent != nil {
		child.parent.Remove(child)
	}
	child.parent = n
	n.children = append(n.children, child)
}

// Remove detaches child. It reports whether child was a child of n.
func (n *Node) Remove(child *Node) bool {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// Local returns T(Position) × R(Rotation).
func (n *Node) Local() mathutil.Mat4 {
	return mathutil.Compose(n.Position, n.Rotation)
}

// World returns the product of local transforms from the root down to n.
func (n *Node) World() mathutil.Mat4 {
	if n.parent == nil {
		return n.Local()
	}
	return mathutil.Mat4Mul(n.parent.World(), n.Local())
}

// WorldPosition is the world-space origin of n.
func (n *Node) WorldPosition() mathutil.Vec3 {
	return n.World().TranslationPart()
}

// Traverse visits n and its descendants depth-first, parents first.
func (n *Node) Traverse(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.Traverse(fn)
	}
}

// Find returns the first node named name in n's subtree.
func (n *Node) Find(name string) *Node {
	if n.Name == name {
		return n
	}
	for _, c := range n.children {
		if f := c.Find(name); f != nil {
			return f
		}
	}
	return nil
}

// WorldBounds encloses every triangle in n's subtree in world space.
func (n *Node) WorldBounds() mathutil.Box {
	box := mathutil.EmptyBox()
	n.Traverse(func(node *Node) {
		if len(node.Meshes) == 0 {
			return
		}
		world := node.World()
		for _, m := range node.Meshes {
			for _, tri := range m.Triangles {
				for _, p := range tri.P {
					box = box.Extend(world.MulPoint(p))
				}
			}
		}
	})
	return box
}

// InsertParent places a new node named name between child and its parent,
// positioned at the world-space point pivot. The wrapper has no rotation and
// child's local position is offset so its world transform is unchanged.
func InsertParent(child *Node, name string, pivot mathutil.Vec3) *Node {
	wrapper := NewNode(name)
	parent := child.parent

	local := pivot
	if parent != nil {
		local = parent.World().AffineInverse().MulPoint(pivot)
	}
	wrapper.Position = local
	child.Position = child.Position.Sub(local)

	if parent != nil {
		for i, c := range parent.children {
			if c == child {
				parent.children[i] = wrapper
				break
			}
		}
		wrapper.parent = parent
	}
	child.parent = wrapper
	wrapper.children = []*Node{child}
	return wrapper
}

// Reparent moves child under newParent keeping its world position. Both the
// old and the new parent must share one world orientation.
func Reparent(child, newParent *Node) error {
	oldWorld := mathutil.Mat4Identity()
	if child.parent != nil {
		oldWorld = child.parent.World()
	}
	newWorld := newParent.World()
	for i, v := range oldWorld.Linear() {
		if !mathutil.ApproxEqual(v, newWorld.Linear()[i], 1e-9) {
			return fmt.Errorf("scene: reparent %s under %s: orientations differ", child.Name, newParent.Name)
		}
	}
	for p := newParent; p != nil; p = p.parent {
		if p == child {
			return fmt.Errorf("scene: reparent %s under its own descendant %s", child.Name, newParent.Name)
		}
	}
	worldPos := oldWorld.MulPoint(child.Position)
	newParent.Add(child)
	child.Position = newWorld.AffineInverse().MulPoint(worldPos)
	return nil
}
