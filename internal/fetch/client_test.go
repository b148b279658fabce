package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/apperr"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type outcomeCounter struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *outcomeCounter) ObserveFetch(_, outcome string) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func newTestClient(rec *sleepRecorder, opts ...Option) *Client {
	base := []Option{WithLogger(zap.NewNop()), WithSleep(rec.sleep)}
	return New(append(base, opts...)...)
}

func TestDoRetriesRateLimitThenSucceeds(t *testing.T) {
	for k := 1; k < DefaultMaxAttempts; k++ {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if int(calls.Add(1)) <= k {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			io.WriteString(w, "mesh-data")
		}))

		rec := &sleepRecorder{}
		c := newTestClient(rec)
		text, err := c.GetText(context.Background(), srv.URL+"/abc")
		srv.Close()

		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, "mesh-data", text)
		assert.EqualValues(t, k+1, calls.Load())

		delays := rec.recorded()
		require.Len(t, delays, k)
		for i, d := range delays {
			assert.GreaterOrEqual(t, d, AssetPolicy().RateLimitBackoff*time.Duration(i+1))
		}
	}
}

func TestDoAlwaysRateLimitedFailsAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	obs := &outcomeCounter{}
	c := newTestClient(rec, WithObserver(obs))

	var out map[string]any
	err := c.GetJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.Equal(t, apperr.RateLimited, apperr.KindOf(err))
	assert.ErrorContains(t, err, "rate limited")
	assert.EqualValues(t, DefaultMaxAttempts, calls.Load())
	assert.Len(t, rec.recorded(), DefaultMaxAttempts-1)
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		3000 * time.Millisecond,
		4000 * time.Millisecond,
	}, rec.recorded())
	assert.Len(t, obs.outcomes, DefaultMaxAttempts)
}

func TestDoFailsImmediatelyOnOtherStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   apperr.Kind
	}{
		{"not found", http.StatusNotFound, apperr.NotFound},
		{"bad request", http.StatusBadRequest, apperr.BadUpstream},
		{"server error", http.StatusInternalServerError, apperr.BadUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			body := strings.Repeat("x", 500)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				io.WriteString(w, body)
			}))
			defer srv.Close()

			rec := &sleepRecorder{}
			_, err := newTestClient(rec).GetBytes(context.Background(), srv.URL)
			require.Error(t, err)

			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.status, e.Status)
			assert.Len(t, e.Details, 200)
			assert.EqualValues(t, 1, calls.Load())
			assert.Empty(t, rec.recorded())
		})
	}
}

func TestDoTransportErrorExhaustsBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	rec := &sleepRecorder{}
	c := newTestClient(rec)
	_, err := c.Do(context.Background(), Request{URL: addr}, JSONPolicy().WithMaxAttempts(3))
	require.Error(t, err)
	assert.Equal(t, apperr.TransientNetwork, apperr.KindOf(err))
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 800 * time.Millisecond}, rec.recorded())
}

func TestPostJSONSendsBodyAndHeaders(t *testing.T) {
	var gotBody map[string]any
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		io.WriteString(w, `{"data":[{"id":156}]}`)
	}))
	defer srv.Close()

	c := newTestClient(&sleepRecorder{}, WithDefaultHeader("User-Agent", "rbx-avatar-renderer"))
	ctx := WithHeaders(context.Background(), http.Header{"X-Forwarded-For": {"203.0.113.9"}})
	ctx = WithHeaders(ctx, http.Header{"Roblox-Id": {"true"}})

	var out struct {
		Data []struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	err := c.PostJSON(ctx, srv.URL, map[string]any{"usernames": []string{"builderman"}}, &out)
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	assert.EqualValues(t, 156, out.Data[0].ID)

	assert.Equal(t, []any{"builderman"}, gotBody["usernames"])
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "rbx-avatar-renderer", gotHeader.Get("User-Agent"))
	assert.Equal(t, "203.0.113.9", gotHeader.Get("X-Forwarded-For"))
	assert.Equal(t, "true", gotHeader.Get("Roblox-Id"))
}

func TestGetJSONMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>gateway</html>")
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestClient(&sleepRecorder{}).GetJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.Equal(t, apperr.BadUpstream, apperr.KindOf(err))
	assert.ErrorContains(t, err, "malformed response")

	_, err = newTestClient(&sleepRecorder{}).GetRawJSON(context.Background(), srv.URL)
	assert.Equal(t, apperr.BadUpstream, apperr.KindOf(err))
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	_, err := c.GetBytes(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet([]byte("short")))
	assert.Len(t, Snippet(make([]byte, 1000)), 200)
}
