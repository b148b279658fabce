// Package ratelimit admits or denies requests per caller with a fixed
// window counter.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Defaults: 20 requests per minute, pruning once 5000 callers are tracked.
const (
	DefaultWindow     = time.Minute
	DefaultMax        = 20
	DefaultPruneAbove = 5000
)

// Config tunes an Admitter.
type Config struct {
	Window     time.Duration `yaml:"window" json:"window"`
	Max        int           `yaml:"max_requests" json:"max_requests"`
	PruneAbove int           `yaml:"prune_above" json:"prune_above"`
}

// DefaultConfig returns the default admission policy.
func DefaultConfig() Config {
	return Config{Window: DefaultWindow, Max: DefaultMax, PruneAbove: DefaultPruneAbove}
}

type record struct {
	count int
	start time.Time
}

// Admitter tracks a rolling count per caller. It is owned by the request
// handling layer and safe for concurrent use.
type Admitter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

// New returns an Admitter. A nil now uses time.Now.
func New(cfg Config, now func() time.Time) *Admitter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.PruneAbove <= 0 {
		cfg.PruneAbove = def.PruneAbove
	}
	if now == nil {
		now = time.Now
	}
	return &Admitter{cfg: cfg, now: now, records: make(map[string]*record)}
}

// Admit counts one call from callerID and reports whether it is within the
// limit. A window older than Window restarts at one. Loopback callers are
// always admitted and never counted.
func (a *Admitter) Admit(callerID string) bool {
	if IsLoopback(callerID) {
		return true
	}
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[callerID]
	switch {
	case !ok:
		rec = &record{count: 1, start: now}
		a.records[callerID] = rec
	case now.Sub(rec.start) > a.cfg.Window:
		rec.count = 1
		rec.start = now
	default:
		rec.count++
	}

	if len(a.records) > a.cfg.PruneAbove {
		for k, r := range a.records {
			if now.Sub(r.start) > a.cfg.Window {
				delete(a.records, k)
			}
		}
	}
	return rec.count <= a.cfg.Max
}

// Tracked is the number of callers currently held.
func (a *Admitter) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// CallerID derives the caller identity: the first X-Forwarded-For hop, then
// X-Real-IP, then the socket address without its port.
func CallerID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}

// IsLoopback reports whether callerID is a loopback address.
func IsLoopback(callerID string) bool {
	if callerID == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.TrimPrefix(strings.TrimSuffix(callerID, "]"), "["))
	return ip != nil && ip.IsLoopback()
}
