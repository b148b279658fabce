package roblox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/fetch"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newResolver(t *testing.T, mux *http.ServeMux, coldRetries int) (*Resolver, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := fetch.New(fetch.WithSleep(noSleep), fetch.WithLogger(zap.NewNop()))
	r := NewResolver(client, Options{
		Endpoints:        Endpoints{Users: srv.URL, Avatar: srv.URL, Thumbnails: srv.URL},
		ColdStartRetries: coldRetries,
		Sleep:            noSleep,
		Logger:           zap.NewNop(),
	})
	return r, srv
}

func TestParseID(t *testing.T) {
	id, err := ParseID(" 12 34 ", "userId")
	require.NoError(t, err)
	assert.EqualValues(t, 1234, id)

	for _, bad := range []string{"", "abc", "-1", "1.5", "99999999999999999999999"} {
		_, err := ParseID(bad, "outfitId")
		assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err), "input %q", bad)
		assert.ErrorContains(t, err, "invalid outfitId")
	}
}

func TestBuildermanScenario(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/usernames/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req usernameRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"builderman"}, req.Usernames)
		assert.False(t, req.ExcludeBannedUsers)
		io.WriteString(w, `{"data":[{"requestedUsername":"builderman","id":156,"name":"builderman"}]}`)
	})
	mux.HandleFunc("/v2/avatar/users/156/outfits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "999", r.URL.Query().Get("itemsPerPage"))
		assert.Equal(t, "true", r.URL.Query().Get("isEditable"))
		io.WriteString(w, `{"data":[{"id":11,"name":"Classic"},{"id":12}],"total":40}`)
	})
	r, _ := newResolver(t, mux, 0)

	id, err := r.UsernameToID(context.Background(), "  builderman ")
	require.NoError(t, err)
	assert.EqualValues(t, 156, id)

	list, err := r.Outfits(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "156", list.UserID)
	assert.Equal(t, 40, list.Total)
	assert.Equal(t, 2, list.Fetched)
	assert.Equal(t, []Outfit{{ID: 11, Name: "Classic"}, {ID: 12, Name: UnnamedOutfit}}, list.Outfits)
}

func TestOutfitsTotalFallsBackToCount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/avatar/users/7/outfits", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"id":1,"name":"a"}]}`)
	})
	r, _ := newResolver(t, mux, 0)
	list, err := r.Outfits(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestUsernameToIDFailures(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		r, _ := newResolver(t, http.NewServeMux(), 0)
		_, err := r.UsernameToID(context.Background(), "   ")
		assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
	})
	t.Run("unknown user", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/usernames/users", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"data":[]}`)
		})
		r, _ := newResolver(t, mux, 0)
		_, err := r.UsernameToID(context.Background(), "nobody")
		assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	})
	t.Run("rate limited", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/usernames/users", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		})
		r, _ := newResolver(t, mux, 0)
		_, err := r.UsernameToID(context.Background(), "builderman")
		assert.Equal(t, apperr.RateLimited, apperr.KindOf(err))
		assert.EqualValues(t, fetch.DefaultMaxAttempts, calls.Load())
	})
	t.Run("non json", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/usernames/users", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "<!doctype html>")
		})
		r, _ := newResolver(t, mux, 0)
		_, err := r.UsernameToID(context.Background(), "builderman")
		assert.Equal(t, apperr.BadUpstream, apperr.KindOf(err))
	})
}

func TestParseThumbnailPrecedence(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		acceptTarget bool
		source       ThumbnailSource
		url          string
	}{
		{"list first entry", `{"data":[{"imageUrl":"u1"},{"imageUrl":"u2"}],"imageUrl":"flat"}`, false, SourceList, "u1"},
		{"empty list falls back to object", `{"data":[],"imageUrl":"flat"}`, false, SourceObject, "flat"},
		{"flat object", `{"targetId":5,"state":"Completed","imageUrl":"flat"}`, false, SourceObject, "flat"},
		{"target only for avatars", `{"targetId":5,"state":"Blocked"}`, true, SourceObject, ""},
		{"target ignored for outfits", `{"targetId":5,"state":"Blocked"}`, false, SourceNone, ""},
		{"nothing", `{}`, true, SourceNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseThumbnail([]byte(tt.raw), tt.acceptTarget)
			require.NoError(t, err)
			assert.Equal(t, tt.source, res.Source)
			entry, _ := res.Entry()
			assert.Equal(t, tt.url, entry.ImageURL)
		})
	}

	_, err := ParseThumbnail([]byte(`[1,2]`), false)
	assert.Equal(t, apperr.BadUpstream, apperr.KindOf(err))
}

func TestOutfitDescriptorResolvesManifest(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/v1/users/outfit-3d", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("outfitId"))
		fmt.Fprintf(w, `{"targetId":42,"state":"Completed","imageUrl":"%s/manifest/42"}`, srvURL)
	})
	mux.HandleFunc("/manifest/42", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"obj":"o","mtl":"m","textures":["t1","t2"],"camera":{"fov":70}}`)
	})
	r, srv := newResolver(t, mux, 0)
	srvURL = srv.URL

	d, err := r.OutfitDescriptor(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "o", d.Mesh)
	assert.Equal(t, "m", d.Material)
	assert.Equal(t, []string{"t1", "t2"}, d.Textures)
	assert.Contains(t, string(d.Raw), `"camera"`)
}

func TestOutfitDescriptorModerated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/outfit-3d", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"targetId":42,"state":"Blocked","imageUrl":null}]}`)
	})
	r, _ := newResolver(t, mux, 2)
	_, err := r.OutfitDescriptor(context.Background(), 42)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	assert.ErrorContains(t, err, "moderated")
}

func TestOutfitDescriptorRetriesColdStart(t *testing.T) {
	var calls atomic.Int32
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/outfit-3d", func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			http.NotFound(w, r)
		case 2:
			io.WriteString(w, `{"data":[{"state":"Pending"}]}`)
		default:
			fmt.Fprintf(w, `{"data":[{"state":"Completed","imageUrl":"%s/m"}]}`, srvURL)
		}
	})
	mux.HandleFunc("/m", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"obj":"o"}`)
	})
	r, srv := newResolver(t, mux, 2)
	srvURL = srv.URL

	d, err := r.OutfitDescriptor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "o", d.Mesh)
	assert.EqualValues(t, 3, calls.Load())
}

func TestOutfitDescriptorColdStartBudget(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/outfit-3d", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})
	r, _ := newResolver(t, mux, 2)
	_, err := r.OutfitDescriptor(context.Background(), 1)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	assert.EqualValues(t, 3, calls.Load())
}

func TestAvatarDescriptor(t *testing.T) {
	t.Run("no 3D data", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/users/avatar-3d", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"targetId":156,"state":"Error"}`)
		})
		r, _ := newResolver(t, mux, 0)
		_, err := r.AvatarDescriptor(context.Background(), 156)
		assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
		assert.ErrorContains(t, err, "no 3D data")
	})
	t.Run("missing assets", func(t *testing.T) {
		var srvURL string
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/users/avatar-3d", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"imageUrl":"%s/m"}`, srvURL)
		})
		mux.HandleFunc("/m", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"camera":{},"aabb":{}}`)
		})
		r, srv := newResolver(t, mux, 0)
		srvURL = srv.URL
		_, err := r.AvatarDescriptor(context.Background(), 156)
		assert.Equal(t, apperr.MissingAssets, apperr.KindOf(err))
	})
}
