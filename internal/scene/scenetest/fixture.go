// Package scenetest builds small synthetic avatar bundles for tests.
package scenetest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/mathutil"
)

// Part is an axis-aligned box emitted as one OBJ group.
type Part struct {
	Group    string
	Material string
	Min, Max mathutil.Vec3
}

// R15Parts lays out the fifteen export groups of a humanoid in export space,
// where the figure faces -Z and its left side is at -X.
func R15Parts() []Part {
	z0, z1 := -0.5, 0.5
	box := func(group string, x0, y0, x1, y1 float64) Part {
		return Part{Group: group, Material: "body", Min: mathutil.Vec3{x0, y0, z0}, Max: mathutil.Vec3{x1, y1, z1}}
	}
	return []Part{
		box("Player1", -0.6, 4.4, 0.6, 5.6), // Head
		box("Player2", -1, 2.8, 1, 4.4),     // UpperTorso
		box("Player3", -1, 2.4, 1, 2.8),     // LowerTorso
		box("Player4", -2, 3.4, -1, 4.4),    // LeftUpperArm
		box("Player5", -2, 2.4, -1, 3.4),    // LeftLowerArm
		box("Player6", -2, 2.0, -1, 2.4),    // LeftHand
		box("Player7", 1, 3.4, 2, 4.4),      // RightUpperArm
		box("Player8", 1, 2.4, 2, 3.4),      // RightLowerArm
		box("Player9", 1, 2.0, 2, 2.4),      // RightHand
		box("Player10", -1, 1.4, 0, 2.4),    // LeftUpperLeg
		box("Player11", -1, 0.4, 0, 1.4),    // LeftLowerLeg
		box("Player12", -1, 0, 0, 0.4),      // LeftFoot
		box("Player13", 0, 1.4, 1, 2.4),     // RightUpperLeg
		box("Player14", 0, 0.4, 1, 1.4),     // RightLowerLeg
		box("Player15", 0, 0, 1, 0.4),       // RightFoot
	}
}

// Hat is an unmatched accessory group drawn with the cutout material.
func Hat() Part {
	return Part{Group: "Handle_Hat", Material: "hat", Min: mathutil.Vec3{-0.8, 5.6, -0.8}, Max: mathutil.Vec3{0.8, 6.0, 0.8}}
}

// OBJ emits parts as boxes of twelve textured triangles each.
func OBJ(parts []Part) string {
	var sb strings.Builder
	sb.WriteString("# synthetic avatar\nmtllib avatar.mtl\nvt 0 0\nvt 1 0\nvt 1 1\nvt 0 1\n")
	base := 0
	for _, p := range parts {
		fmt.Fprintf(&sb, "g %s\nusemtl %s\n", p.Group, p.Material)
		for i := 0; i < 8; i++ {
			x, y, z := p.Min[0], p.Min[1], p.Min[2]
			if i&1 != 0 {
				x = p.Max[0]
			}
			if i&2 != 0 {
				y = p.Max[1]
			}
			if i&4 != 0 {
				z = p.Max[2]
			}
			fmt.Fprintf(&sb, "v %g %g %g\n", x, y, z)
		}
		quads := [6][4]int{
			{0, 1, 3, 2}, {4, 6, 7, 5}, // -z, +z
			{0, 4, 5, 1}, {2, 3, 7, 6}, // -y, +y
			{0, 2, 6, 4}, {1, 5, 7, 3}, // -x, +x
		}
		for _, q := range quads {
			fmt.Fprintf(&sb, "f %d/1 %d/2 %d/3 %d/4\n",
				base+q[0]+1, base+q[1]+1, base+q[2]+1, base+q[3]+1)
		}
		base += 8
	}
	return sb.String()
}

// MTL is the material library matching OBJ: an opaque textured body and an
// alpha-mapped hat.
const MTL = `newmtl body
Ka 1 1 1
Kd 1 1 1
d 1
map_Kd texture_1.png
newmtl hat
Kd 1 1 1
map_Kd texture_2.png
map_d texture_2.png
`

// PNG encodes a w×h image filled with c.
func PNG(w, h int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Bundle returns a bundle holding parts with the standard materials.
func Bundle(baseName string, parts []Part) *asset.Bundle {
	b := &asset.Bundle{BaseName: baseName}
	b.SetMesh(OBJ(parts))
	b.SetMaterial(MTL)
	b.Textures = []asset.Texture{
		{Filename: "texture_1.png", Data: PNG(4, 4, color.NRGBA{R: 200, G: 150, B: 120, A: 255})},
		{Filename: "texture_2.png", Data: PNG(4, 4, color.NRGBA{R: 20, G: 20, B: 20, A: 200})},
	}
	b.Manifest = []byte("{\n  \"obj\": \"o\",\n  \"mtl\": \"m\",\n  \"textures\": [\"t1\", \"t2\"]\n}")
	return b
}

// R15Bundle is a full humanoid wearing a hat.
func R15Bundle() *asset.Bundle {
	return Bundle("Outfit_1_Test", append(R15Parts(), Hat()))
}
