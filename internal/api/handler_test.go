package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/fetch"
	"rbx-avatar-renderer/internal/metrics"
	"rbx-avatar-renderer/internal/pipeline"
	"rbx-avatar-renderer/internal/ratelimit"
	"rbx-avatar-renderer/internal/render"
	"rbx-avatar-renderer/internal/rig"
	"rbx-avatar-renderer/internal/roblox"
	"rbx-avatar-renderer/internal/scene/scenetest"
	"rbx-avatar-renderer/internal/store"
)

type fakeResolver struct {
	outfitCalls atomic.Int32
}

func (f *fakeResolver) UsernameToID(_ context.Context, username string) (int64, error) {
	if username == "builderman" {
		return 156, nil
	}
	return 0, apperr.New(apperr.NotFound, "user not found")
}

func (f *fakeResolver) Outfits(_ context.Context, userID int64) (*roblox.OutfitList, error) {
	f.outfitCalls.Add(1)
	return &roblox.OutfitList{
		UserID:  "156",
		Total:   1,
		Fetched: 1,
		Outfits: []roblox.Outfit{{ID: 9, Name: roblox.UnnamedOutfit}},
	}, nil
}

// fakeBundles serves fixture bundles. When probe is set, every outfit
// download issues one request to it so forwarded headers can be observed.
type fakeBundles struct {
	probe    string
	fail     map[int64]error
	partless map[int64]bool
}

func (f *fakeBundles) OutfitBundle(ctx context.Context, id int64, name string) (*asset.Bundle, error) {
	if f.probe != "" {
		if _, err := fetch.New().GetText(ctx, f.probe); err != nil {
			return nil, err
		}
	}
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	if f.partless[id] {
		return scenetest.Bundle(asset.BaseName(asset.OutfitPrefix, id, name), []scenetest.Part{scenetest.Hat()}), nil
	}
	return scenetest.Bundle(asset.BaseName(asset.OutfitPrefix, id, name), scenetest.R15Parts()), nil
}

func (f *fakeBundles) PlayerBundle(_ context.Context, id int64, username string) (*asset.Bundle, error) {
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return scenetest.Bundle(asset.BaseName(asset.UserPrefix, id, username), scenetest.R15Parts()), nil
}

func newHandler(t *testing.T, mutate func(*Config)) (*Handler, http.Handler, *fakeResolver) {
	t.Helper()
	res := &fakeResolver{}
	cfg := Config{
		Resolver: res,
		Bundles:  &fakeBundles{},
		Render: pipeline.RenderOptions{
			Catalog: rig.DefaultCatalog(),
			Batch:   render.BatchOptions{Size: 48, Supersample: 1},
		},
		Logger: zap.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h := New(cfg)
	return h, h.Routes(), res
}

func do(t *testing.T, h http.Handler, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(r)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestCORSPreflight(t *testing.T) {
	_, h, _ := newHandler(t, nil)
	rec := do(t, h, http.MethodOptions, "/api/outfit-download", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestPostOnly(t *testing.T) {
	_, h, _ := newHandler(t, nil)
	for _, path := range []string{"/api/userid", "/api/outfit-download", "/api/player-download", "/api/render", "/api/bulk"} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		assert.Equal(t, "POST only", decodeError(t, rec).Error, path)
	}
}

func TestRequestIDAssigned(t *testing.T) {
	_, h, _ := newHandler(t, nil)
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/healthz", "", func(r *http.Request) { r.Header.Set("X-Request-ID", "abc") })
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestUserID(t *testing.T) {
	_, h, _ := newHandler(t, nil)

	rec := do(t, h, http.MethodPost, "/api/userid", `{"username":" builderman "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":156}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/userid", `{"username":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "username required", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/api/userid", `{"username":"nobody"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/api/userid", `{"username":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutfitsCachedPerUser(t *testing.T) {
	now := time.Unix(0, 0)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	_, h, res := newHandler(t, func(c *Config) { c.Cache = store.NewMemoryStore(clock) })

	rec := do(t, h, http.MethodGet, "/api/outfits?userId=156", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list roblox.OutfitList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, roblox.UnnamedOutfit, list.Outfits[0].Name)

	rec = do(t, h, http.MethodPost, "/api/outfits", `{"userId":156}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), res.outfitCalls.Load())

	mu.Lock()
	now = now.Add(DefaultOutfitsTTL)
	mu.Unlock()
	do(t, h, http.MethodGet, "/api/outfits?userId=156", "")
	assert.Equal(t, int32(2), res.outfitCalls.Load())
}

func TestOutfitsInvalidUser(t *testing.T) {
	_, h, res := newHandler(t, nil)
	rec := do(t, h, http.MethodGet, "/api/outfits?userId=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid userId", decodeError(t, rec).Error)
	assert.Zero(t, res.outfitCalls.Load())
}

func TestOutfitDownloadForwardsCaller(t *testing.T) {
	var got http.Header
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = io.WriteString(w, "ok")
	}))
	defer probe.Close()

	_, h, _ := newHandler(t, func(c *Config) { c.Bundles = &fakeBundles{probe: probe.URL} })
	rec := do(t, h, http.MethodPost, "/api/outfit-download", `{"outfitId":"12345","outfitName":"Cool Fit!"}`,
		func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1") })

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Outfit_12345_Cool_Fit_.zip"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "203.0.113.5", got.Get("X-Forwarded-For"))
	assert.Equal(t, "true", got.Get("Roblox-Id"))

	b, err := asset.ReadArchive(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Outfit_12345_Cool_Fit_", b.BaseName)
	assert.Len(t, b.Textures, 2)
}

func TestOutfitDownloadErrors(t *testing.T) {
	_, h, _ := newHandler(t, func(c *Config) {
		c.Bundles = &fakeBundles{fail: map[int64]error{
			7: apperr.New(apperr.NotFound, roblox.MsgOutfitModerated),
			8: apperr.Wrap(apperr.TransientNetwork, "connection reset", io.ErrUnexpectedEOF),
		}}
	})

	rec := do(t, h, http.MethodPost, "/api/outfit-download", `{"outfitId":"12a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid outfitId", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/api/outfit-download", `{"outfitId":7}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "One or more accessories have been moderated in this outfit", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/api/outfit-download", `{"outfitId":8}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Download failed", body.Error)
	assert.Contains(t, body.Details, "connection reset")
}

func TestDownloadAdmission(t *testing.T) {
	_, h, _ := newHandler(t, func(c *Config) {
		c.Admitter = ratelimit.New(ratelimit.Config{Max: 1}, nil)
	})

	rec := do(t, h, http.MethodPost, "/api/outfit-download", `{"outfitId":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/outfit-download", `{"outfitId":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, MsgOutfitDenied, decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/api/player-download", `{"userId":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, MsgPlayerDenied, decodeError(t, rec).Error)

	loopback := func(r *http.Request) { r.RemoteAddr = "127.0.0.1:4000" }
	for i := 0; i < 3; i++ {
		rec = do(t, h, http.MethodPost, "/api/player-download", `{"userId":"1","username":"builderman"}`, loopback)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, `attachment; filename="User_1_builderman.zip"`, rec.Header().Get("Content-Disposition"))
}

func TestPlayerDownloadInvalidUser(t *testing.T) {
	_, h, _ := newHandler(t, nil)
	rec := do(t, h, http.MethodPost, "/api/player-download", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid userId", decodeError(t, rec).Error)
}

func TestRenderPNG(t *testing.T) {
	c := metrics.NewCollector("rbx", nil)
	_, h, _ := newHandler(t, func(cfg *Config) { cfg.Metrics = c })

	rec := do(t, h, http.MethodPost, "/api/render", `{"outfitId":"5","outfitName":"Fit","pose":"wave"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Outfit_5_Fit.png"`, rec.Header().Get("Content-Disposition"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 48, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	mrec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Contains(t, mrec.Body.String(), `rbx_renders_total{format="png",status="ok"} 1`)
}

func TestRenderPoseWithoutBodyParts(t *testing.T) {
	c := metrics.NewCollector("rbx", nil)
	_, h, _ := newHandler(t, func(cfg *Config) {
		cfg.Bundles = &fakeBundles{partless: map[int64]bool{5: true}}
		cfg.Metrics = c
	})

	rec := do(t, h, http.MethodPost, "/api/render", `{"outfitId":"5","pose":"Wave","format":"png"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "Posing unavailable: no body parts recognized in this model", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/api/render", `{"outfitId":"5","format":"png"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestRenderGLB(t *testing.T) {
	_, h, _ := newHandler(t, nil)
	rec := do(t, h, http.MethodPost, "/api/render", `{"userId":"3","username":"u","format":"GLB"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "model/gltf-binary", rec.Header().Get("Content-Type"))
	assert.Equal(t, "glTF", string(rec.Body.Bytes()[:4]))
}

func TestRenderRejectsBadInput(t *testing.T) {
	_, h, _ := newHandler(t, nil)

	rec := do(t, h, http.MethodPost, "/api/render", `{"outfitId":"5","format":"gif"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/render", `{"outfitId":"5","pose":"moonwalk"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/render", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenderBusy(t *testing.T) {
	hd, h, _ := newHandler(t, nil)
	require.True(t, hd.slots.TryAcquire(1))
	defer hd.slots.Release(1)

	rec := do(t, h, http.MethodPost, "/api/render", `{"outfitId":"5"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Another operation is already in progress", decodeError(t, rec).Error)
}

func TestBulkBundleKeepsGoingOnFailure(t *testing.T) {
	_, h, _ := newHandler(t, func(c *Config) {
		c.Bundles = &fakeBundles{fail: map[int64]error{
			2: apperr.New(apperr.TransientNetwork, "connection reset while fetching mesh"),
		}}
	})

	body := `{"outfits":[{"id":1,"name":"First"},{"id":"2","name":"Second"},{"id":3,"name":"Third"}]}`
	rec := do(t, h, http.MethodPost, "/api/bulk", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), `attachment; filename="Outfits_Bundle_`))

	assert.Equal(t, []string{
		"Outfit_1_First.zip",
		"FAILED_2.txt",
		"Outfit_3_Third.zip",
		"manifest.json",
	}, zipNames(t, rec.Body.Bytes()))
}

func TestBulkValidation(t *testing.T) {
	_, h, _ := newHandler(t, func(c *Config) { c.MaxBulk = 2 })

	rec := do(t, h, http.MethodPost, "/api/bulk", `{"outfits":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/bulk", `{"outfits":[{"id":1},{"id":2},{"id":3}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/bulk", `{"mode":"dance","outfits":[{"id":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/bulk", `{"outfits":[{"id":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkRender(t *testing.T) {
	_, h, _ := newHandler(t, nil)
	rec := do(t, h, http.MethodPost, "/api/bulk", `{"mode":"render","format":"webp","outfits":[{"id":4,"name":"A"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"Render_4_A.webp", "manifest.json"}, zipNames(t, rec.Body.Bytes()))
}

func TestHealthz(t *testing.T) {
	_, h, _ := newHandler(t, nil)
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","cache":"ok"}`, rec.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), Recovery(zap.NewNop()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12","b":34,"c":null}`), &v))
	assert.Equal(t, flexString("12"), v.A)
	assert.Equal(t, flexString("34"), v.B)
	assert.Equal(t, flexString(""), v.C)
}
