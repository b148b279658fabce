// Package objmtl reads Wavefront OBJ meshes and their MTL material libraries.
package objmtl

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"rbx-avatar-renderer/internal/mathutil"
)

// DefaultGroup holds faces that precede any g/o statement.
const DefaultGroup = "default"

const maxLine = 4 << 20

// Face is a triangle. Indices are zero-based into the OBJ's arrays; -1 marks
// a missing texture coordinate or normal.
type Face struct {
	V        [3]int
	T        [3]int
	N        [3]int
	Material string
}

// Group is a named run of faces.
type Group struct {
	Name  string
	Faces []Face
}

// OBJ is a parsed mesh. Vertex arrays are shared by all groups.
type OBJ struct {
	Positions []mathutil.Vec3
	UVs       [][2]float64
	Normals   []mathutil.Vec3
	Groups    []*Group
	MtlLibs   []string
}

// Group returns the group with the given name.
func (o *OBJ) Group(name string) *Group {
	for _, g := range o.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// FaceCount is the number of triangles across all groups.
func (o *OBJ) FaceCount() int {
	n := 0
	for _, g := range o.Groups {
		n += len(g.Faces)
	}
	return n
}

// ParseOBJ reads v, vt, vn, f, g, o, usemtl and mtllib statements. Polygons
// are fan-triangulated; negative indices count back from the current end.
func ParseOBJ(r io.Reader) (*OBJ, error) {
	out := &OBJ{}
	var cur *Group
	material := ""

	groupFor := func(name string) *Group {
		if g := out.Group(name); g != nil {
			return g
		}
		g := &Group{Name: name}
		out.Groups = append(out.Groups, g)
		return g
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "v":
			v, err := parseVec3(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("objmtl: line %d: %w", lineNo, err)
			}
			out.Positions = append(out.Positions, v)
		case "vt":
			if len(fields) < 2 {
				return nil, fmt.Errorf("objmtl: line %d: vt needs a coordinate", lineNo)
			}
			var uv [2]float64
			for i := 0; i < 2 && i+1 < len(fields); i++ {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("objmtl: line %d: %w", lineNo, err)
				}
				uv[i] = f
			}
			out.UVs = append(out.UVs, uv)
		case "vn":
			n, err := parseVec3(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("objmtl: line %d: %w", lineNo, err)
			}
			out.Normals = append(out.Normals, n)
		case "g", "o":
			name := DefaultGroup
			if len(fields) > 1 {
				name = strings.Join(fields[1:], " ")
			}
			cur = groupFor(name)
		case "usemtl":
			material = ""
			if len(fields) > 1 {
				material = strings.Join(fields[1:], " ")
			}
		case "mtllib":
			out.MtlLibs = append(out.MtlLibs, fields[1:]...)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("objmtl: line %d: face needs at least 3 vertices", lineNo)
			}
			corners, err := out.parseCorners(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("objmtl: line %d: %w", lineNo, err)
			}
			if cur == nil {
				cur = groupFor(DefaultGroup)
			}
			for i := 1; i < len(corners)-1; i++ {
				a, b, c := corners[0], corners[i], corners[i+1]
				cur.Faces = append(cur.Faces, Face{
					V:        [3]int{a[0], b[0], c[0]},
					T:        [3]int{a[1], b[1], c[1]},
					N:        [3]int{a[2], b[2], c[2]},
					Material: material,
				})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("objmtl: read obj: %w", err)
	}

	// Drop groups that only named themselves.
	kept := out.Groups[:0]
	for _, g := range out.Groups {
		if len(g.Faces) > 0 {
			kept = append(kept, g)
		}
	}
	out.Groups = kept
	return out, nil
}

// parseCorners resolves v, v/vt, v//vn and v/vt/vn corners to zero-based indices.
func (o *OBJ) parseCorners(args []string) ([][3]int, error) {
	corners := make([][3]int, len(args))
	for i, s := range args {
		parts := strings.Split(s, "/")
		c := [3]int{-1, -1, -1}
		counts := [3]int{len(o.Positions), len(o.UVs), len(o.Normals)}
		for k := 0; k < 3 && k < len(parts); k++ {
			if parts[k] == "" {
				continue
			}
			idx, err := strconv.Atoi(parts[k])
			if err != nil {
				return nil, fmt.Errorf("bad index %q", s)
			}
			resolved, ok := fixIndex(idx, counts[k])
			if !ok {
				return nil, fmt.Errorf("index %d out of range in %q", idx, s)
			}
			c[k] = resolved
		}
		if c[0] < 0 {
			return nil, fmt.Errorf("corner %q has no vertex", s)
		}
		corners[i] = c
	}
	return corners, nil
}

// fixIndex converts a one-based or negative OBJ index to zero-based.
func fixIndex(i, n int) (int, bool) {
	switch {
	case i > 0 && i <= n:
		return i - 1, true
	case i < 0 && -i <= n:
		return n + i, true
	}
	return 0, false
}

func parseVec3(args []string) (mathutil.Vec3, error) {
	var v mathutil.Vec3
	if len(args) < 3 {
		return v, fmt.Errorf("need 3 components, got %d", len(args))
	}
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}
