package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/objmtl"
	"rbx-avatar-renderer/internal/rig"
	"rbx-avatar-renderer/internal/scene"
)

func main() {
	bundlePath := flag.String("bundle", "", "Bundle zip to inspect")
	verbose := flag.Bool("v", false, "Log reconstruction details")
	flag.Parse()

	path := *bundlePath
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect -bundle <bundle.zip>")
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	if err := inspect(path, logger); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func inspect(path string, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	b, err := asset.ReadArchive(data)
	if err != nil {
		return err
	}

	fmt.Printf("Bundle: %s\n", b.BaseName)
	for _, e := range b.Entries() {
		fmt.Printf("  %-40s %8d bytes\n", e.Name, len(e.Data))
	}
	if desc, err := b.ManifestDescriptor(); err == nil {
		fmt.Printf("Manifest: obj=%s mtl=%s textures=%d\n", desc.Mesh, desc.Material, len(desc.Textures))
	}

	obj, err := objmtl.ParseOBJ(strings.NewReader(b.Mesh))
	if err != nil {
		return err
	}
	fmt.Printf("Mesh: %d vertices, %d uvs, %d faces, %d groups\n", len(obj.Positions), len(obj.UVs), obj.FaceCount(), len(obj.Groups))

	model, err := scene.Reconstruct(context.Background(), b, scene.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer model.Dispose()

	fmt.Println("--- Materials ---")
	names := make([]string, 0, len(model.Materials))
	for n := range model.Materials {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		m := model.Materials[n]
		mode := "opaque"
		if m.Transparent {
			mode = fmt.Sprintf("transparent (alpha test %.2f, depth write %v)", m.AlphaTest, m.DepthWrite)
		}
		tex := "none"
		if m.MapRef != "" {
			tex = m.MapRef
			if m.Map == nil {
				tex += " (unresolved)"
			}
		}
		fmt.Printf("  %s: Kd(%.2f %.2f %.2f) d=%.2f map=%s %s\n", n, m.Diffuse[0], m.Diffuse[1], m.Diffuse[2], m.Opacity, tex, mode)
	}

	fmt.Println("--- Groups ---")
	for _, g := range obj.Groups {
		fmt.Printf("  %-24s %6d faces\n", g.Name, len(g.Faces))
	}

	r, err := rig.Articulate(model, rig.Options{Logger: logger})
	if err != nil {
		return err
	}
	fmt.Println("--- Body parts ---")
	if !r.HasBodyParts() {
		fmt.Println("  none recognized, posing unavailable")
		return nil
	}
	for _, p := range r.Parts().Parts() {
		bind, _ := r.Parts().Get(p)
		fmt.Printf("  %-14s <- %-20s pivot (%.2f, %.2f, %.2f)\n", p, bind.Node.Name, bind.Pivot[0], bind.Pivot[1], bind.Pivot[2])
	}
	fmt.Printf("Claimed %d/%d parts\n", r.Parts().Len(), len(rig.Canonical))
	return nil
}
