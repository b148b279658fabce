package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/cdn"
	"rbx-avatar-renderer/internal/fetch"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name, in, fallback string
		limit              int
		want               string
	}{
		{"plain", "Cool Fit #2", "Outfit", 60, "Cool_Fit__2"},
		{"empty uses fallback", "", "User", 60, "User"},
		{"accent is one unit", "café", "Outfit", 60, "caf_"},
		{"astral is two units", "a\U0001F600b", "Outfit", 60, "a__b"},
		{"truncated", strings.Repeat("x", 80), "Outfit", 60, strings.Repeat("x", 60)},
		{"batch limit", strings.Repeat("y", 80), "Outfit", 50, strings.Repeat("y", 50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in, tt.fallback, tt.limit))
		})
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "Outfit_123_Summer_Look", BaseName(OutfitPrefix, 123, "Summer Look"))
	assert.Equal(t, "User_156_User", BaseName(UserPrefix, 156, ""))
}

func TestRewriteMaterialScenario(t *testing.T) {
	mtl := "newmtl a\nmap_Kd abc123\nnewmtl b\nmap_Kd def456\nmap_d abc123\n"
	out, refs := RewriteMaterial(mtl, []string{"abc123", "def456"})

	assert.Contains(t, out, "texture_1.png")
	assert.Contains(t, out, "texture_2.png")
	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, "def456")
	assert.Equal(t, 2, strings.Count(out, "texture_1.png"))
	assert.Equal(t, []TextureRef{
		{Hash: "abc123", Filename: "texture_1.png"},
		{Hash: "def456", Filename: "texture_2.png"},
	}, refs)
}

func TestRewriteMaterialIsExhaustive(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		hashes := rapid.SliceOfNDistinct(rapid.StringMatching(`[0-9a-f]{32}`), 0, 6, rapid.ID[string]).Draw(rt, "hashes")
		var sb strings.Builder
		for i, h := range hashes {
			uses := rapid.IntRange(1, 3).Draw(rt, fmt.Sprintf("uses%d", i))
			for u := 0; u < uses; u++ {
				fmt.Fprintf(&sb, "newmtl m%d_%d\nKd 1 1 1\nmap_Kd %s\n", i, u, h)
			}
		}
		out, refs := RewriteMaterial(sb.String(), hashes)
		for _, h := range hashes {
			if strings.Contains(out, h) {
				rt.Fatalf("hash %s survived rewriting", h)
			}
		}
		seen := map[string]int{}
		for _, r := range refs {
			seen[r.Filename]++
		}
		for i := range hashes {
			name := TextureFilename(i)
			if seen[name] != 1 {
				rt.Fatalf("filename %s listed %d times", name, seen[name])
			}
			if !strings.Contains(out, name) {
				rt.Fatalf("filename %s missing from material", name)
			}
		}
	})
}

func TestDescriptorValidate(t *testing.T) {
	_, err := ParseDescriptor([]byte(`{"camera":{}}`))
	assert.Equal(t, apperr.MissingAssets, apperr.KindOf(err))

	_, err = ParseDescriptor([]byte(`{"obj":"o1","textures":["a",""]}`))
	assert.Equal(t, apperr.BadUpstream, apperr.KindOf(err))

	_, err = ParseDescriptor([]byte(`not json`))
	assert.Equal(t, apperr.BadUpstream, apperr.KindOf(err))

	d, err := ParseDescriptor([]byte(`{"textures":["t1"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, d.Textures)
}

// cdnServer serves payloads keyed by hash under /{type}{shard}/{hash}.
type cdnServer struct {
	mu       sync.Mutex
	payloads map[string]string
	fail     map[string]int
	order    []string
}

func (c *cdnServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Path[strings.LastIndexByte(r.URL.Path, '/')+1:]
	c.mu.Lock()
	c.order = append(c.order, hash)
	status, failing := c.fail[hash]
	body, ok := c.payloads[hash]
	c.mu.Unlock()
	if failing {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	fmt.Fprint(w, body)
}

func newBuilder(t *testing.T, srv *httptest.Server) *Builder {
	t.Helper()
	client := fetch.New(fetch.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
	return NewBuilder(client, cdn.Resolver{Template: srv.URL + "/%s%d/%s"}, zap.NewNop())
}

func TestBuilderBuildsScenarioBundle(t *testing.T) {
	h := &cdnServer{payloads: map[string]string{
		"m1":     "newmtl skin\nmap_Kd abc123\nnewmtl shirt\nmap_Kd def456\n",
		"abc123": "PNG-1",
		"def456": "PNG-2",
		"o1":     "v 0 0 0\nv 1 0 0\nv 0 1 0\ng Player1\nf 1 2 3\n",
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	raw := []byte(`{"obj":"o1","mtl":"m1","textures":["abc123","def456"],"camera":{"fov":70}}`)
	desc, err := ParseDescriptor(raw)
	require.NoError(t, err)

	b, err := newBuilder(t, srv).Build(context.Background(), desc, BaseName(OutfitPrefix, 9, "Fit"))
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "abc123", "def456", "o1"}, h.order)
	assert.Contains(t, b.Material, "texture_1.png")
	assert.Contains(t, b.Material, "texture_2.png")
	assert.NotContains(t, b.Material, "abc123")
	assert.Equal(t, []Texture{
		{Filename: "texture_1.png", Data: []byte("PNG-1")},
		{Filename: "texture_2.png", Data: []byte("PNG-2")},
	}, b.Textures)
	assert.True(t, b.HasMesh())
	assert.Contains(t, string(b.Manifest), "\n  \"obj\": \"o1\"")

	names := make([]string, 0)
	for _, e := range b.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{
		"Outfit_9_Fit.mtl", "texture_1.png", "texture_2.png", "Outfit_9_Fit.obj", "Outfit_9_Fit_meta.json",
	}, names)
}

func TestBuilderAbortsOnFailedFetch(t *testing.T) {
	h := &cdnServer{
		payloads: map[string]string{"m1": "map_Kd t1", "o1": "v 0 0 0"},
		fail:     map[string]int{"t1": http.StatusForbidden},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	desc := &Descriptor{Mesh: "o1", Material: "m1", Textures: []string{"t1"}}
	_, err := newBuilder(t, srv).Build(context.Background(), desc, "Outfit_1_x")
	require.Error(t, err)
	assert.Equal(t, apperr.BadUpstream, apperr.KindOf(err))
	assert.NotContains(t, h.order, "o1")
}

func TestBuilderRejectsEmptyDescriptor(t *testing.T) {
	_, err := NewBuilder(nil, cdn.Resolver{}, nil).Build(context.Background(), &Descriptor{}, "x")
	assert.Equal(t, apperr.MissingAssets, apperr.KindOf(err))
}

func TestArchiveRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		desc := &Descriptor{
			Mesh:     rapid.StringMatching(`[0-9a-f]{32}`).Draw(rt, "mesh"),
			Material: rapid.StringMatching(`[0-9a-f]{32}`).Draw(rt, "mtl"),
			Textures: rapid.SliceOfN(rapid.StringMatching(`[0-9a-f]{32}`), 0, 12).Draw(rt, "textures"),
		}
		raw, err := json.Marshal(desc)
		if err != nil {
			rt.Fatal(err)
		}
		desc.Raw = raw
		manifest, err := desc.Pretty()
		if err != nil {
			rt.Fatal(err)
		}

		in := &Bundle{BaseName: BaseName(OutfitPrefix, rapid.Int64Min(1).Draw(rt, "id"), rapid.String().Draw(rt, "name"))}
		in.SetMesh(rapid.String().Draw(rt, "meshText"))
		in.SetMaterial(rapid.String().Draw(rt, "mtlText"))
		for i := range desc.Textures {
			in.Textures = append(in.Textures, Texture{
				Filename: TextureFilename(i),
				Data:     rapid.SliceOf(rapid.Byte()).Draw(rt, fmt.Sprintf("tex%d", i)),
			})
		}
		in.Manifest = manifest

		data, err := in.Archive()
		if err != nil {
			rt.Fatal(err)
		}
		out, err := ReadArchive(data)
		if err != nil {
			rt.Fatal(err)
		}

		if !strings.HasSuffix(out.MeshName(), ".obj") || !strings.HasSuffix(out.MaterialName(), ".mtl") {
			rt.Fatalf("unexpected entry names %s %s", out.MeshName(), out.MaterialName())
		}
		if out.Mesh != in.Mesh || out.Material != in.Material || out.BaseName != in.BaseName {
			rt.Fatalf("mesh/material changed across round trip")
		}
		if len(out.Textures) != len(in.Textures) {
			rt.Fatalf("texture count %d != %d", len(out.Textures), len(in.Textures))
		}
		for i := range in.Textures {
			if out.Textures[i].Filename != in.Textures[i].Filename || string(out.Textures[i].Data) != string(in.Textures[i].Data) {
				rt.Fatalf("texture %d changed", i)
			}
		}
		got, err := out.ManifestDescriptor()
		if err != nil {
			rt.Fatal(err)
		}
		if got.Mesh != desc.Mesh || got.Material != desc.Material || len(got.Textures) != len(desc.Textures) {
			rt.Fatalf("manifest does not decode to the original descriptor")
		}
		for i := range desc.Textures {
			if got.Textures[i] != desc.Textures[i] {
				rt.Fatalf("manifest texture %d changed", i)
			}
		}
	})
}

func TestReadArchiveRequiresMeshAndMaterial(t *testing.T) {
	b := &Bundle{BaseName: "Outfit_1_x"}
	b.SetMaterial("newmtl a")
	data, err := b.Archive()
	require.NoError(t, err)

	_, err = ReadArchive(data)
	assert.Equal(t, apperr.MalformedBundle, apperr.KindOf(err))

	_, err = ReadArchive([]byte("definitely not a zip"))
	assert.Equal(t, apperr.MalformedBundle, apperr.KindOf(err))
}

func TestFromEntriesOrdersTexturesNumerically(t *testing.T) {
	b, err := FromEntries([]Entry{
		{Name: "texture_10.png"},
		{Name: "x.obj"},
		{Name: "texture_2.png"},
		{Name: "x.mtl"},
		{Name: "texture_1.png"},
		{Name: "readme.txt"},
	})
	require.NoError(t, err)
	var names []string
	for _, tex := range b.Textures {
		names = append(names, tex.Filename)
	}
	assert.Equal(t, []string{"texture_1.png", "texture_2.png", "texture_10.png"}, names)
	assert.Equal(t, "x", b.BaseName)
}
