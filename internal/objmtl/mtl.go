package objmtl

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Material is one newmtl block.
type Material struct {
	Name       string
	Ambient    [3]float64
	Diffuse    [3]float64
	Specular   [3]float64
	Shininess  float64
	Opacity    float64
	Illum      int
	DiffuseMap string
	AlphaMap   string
}

// ParseMTL reads a material library. Materials default to white diffuse and
// full opacity. Map options such as -s or -o are skipped.
func ParseMTL(r io.Reader) ([]*Material, error) {
	var out []*Material
	var cur *Material

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
		key := fields[0]

		if key == "newmtl" {
			name := ""
			if len(fields) > 1 {
				name = strings.Join(fields[1:], " ")
			}
			cur = &Material{Name: name, Diffuse: [3]float64{1, 1, 1}, Opacity: 1}
			out = append(out, cur)
			continue
		}
		if cur == nil {
			continue
		}

		var err error
		switch key {
		case "Ka":
			cur.Ambient, err = parseColor(fields[1:])
		case "Kd":
			cur.Diffuse, err = parseColor(fields[1:])
		case "Ks":
			cur.Specular, err = parseColor(fields[1:])
		case "Ns":
			cur.Shininess, err = parseScalar(fields[1:])
		case "d":
			cur.Opacity, err = parseScalar(fields[1:])
		case "Tr":
			var tr float64
			tr, err = parseScalar(fields[1:])
			cur.Opacity = 1 - tr
		case "illum":
			var f float64
			f, err = parseScalar(fields[1:])
			cur.Illum = int(f)
		case "map_Kd":
			cur.DiffuseMap = mapReference(fields[1:])
		case "map_d":
			cur.AlphaMap = mapReference(fields[1:])
		}
		if err != nil {
			return nil, fmt.Errorf("objmtl: mtl line %d (%s): %w", lineNo, key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("objmtl: read mtl: %w", err)
	}
	return out, nil
}

// mapOptionArgs is the number of values each map option consumes.
var mapOptionArgs = map[string]int{
	"-blendu": 1, "-blendv": 1, "-bm": 1, "-boost": 1, "-cc": 1, "-clamp": 1,
	"-imfchan": 1, "-mm": 2, "-o": 3, "-s": 3, "-t": 3, "-texres": 1, "-type": 1,
}

func mapReference(args []string) string {
	i := 0
	for i < len(args) {
		n, ok := mapOptionArgs[args[i]]
		if !ok {
			break
		}
		i += 1 + n
	}
	if i >= len(args) {
		return ""
	}
	return strings.Join(args[i:], " ")
}

func parseScalar(args []string) (float64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("missing value")
	}
	return strconv.ParseFloat(args[0], 64)
}

func parseColor(args []string) ([3]float64, error) {
	var c [3]float64
	if len(args) == 0 {
		return c, fmt.Errorf("missing value")
	}
	for i := 0; i < 3; i++ {
		src := args[0]
		if i < len(args) {
			src = args[i]
		}
		f, err := strconv.ParseFloat(src, 64)
		if err != nil {
			return c, err
		}
		c[i] = f
	}
	return c, nil
}
