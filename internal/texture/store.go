// Package texture materializes texture payloads as addressable resources,
// decodes them and releases them when a scene is disposed.
package texture

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AddressScheme prefixes every resource address.
const AddressScheme = "blob:rbx/"

var addressSeq atomic.Uint64

// Resolver resolves a texture reference to a decoded image.
type Resolver interface {
	Resolve(ref string) *image.NRGBA
}

// Handle identifies one materialized texture.
type Handle struct {
	Name    string
	Address string
}

type entry struct {
	name    string
	data    []byte
	img     *image.NRGBA
	decoded bool
	err     error
}

// Store owns the textures of one scene. Resolve is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	items    map[string]*entry
	order    []string
	index    *Index
	released bool
	logger   *zap.Logger
}

// NewStore returns an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		items:  make(map[string]*entry),
		index:  NewIndex(),
		logger: logger.With(zap.String("component", "texture")),
	}
}

// Materialize registers a payload and returns its unique address.
func (s *Store) Materialize(name string, data []byte) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return Handle{}, fmt.Errorf("texture: store already released")
	}
	addr := fmt.Sprintf("%s%d", AddressScheme, addressSeq.Add(1))
	s.items[addr] = &entry{name: name, data: data}
	s.order = append(s.order, addr)
	s.index.Add(name, addr)
	return Handle{Name: name, Address: addr}, nil
}

// DecodeAll decodes every pending texture concurrently and returns once all
// are finished. A texture that fails to decode stays unresolved; the failure
// is logged, not returned.
func (s *Store) DecodeAll(ctx context.Context) error {
	s.mu.RLock()
	pending := make([]*entry, 0, len(s.order))
	for _, addr := range s.order {
		if e := s.items[addr]; !e.decoded {
			pending = append(pending, e)
		}
	}
	s.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	results := make([]*image.NRGBA, len(pending))
	errs := make([]error, len(pending))
	for i, e := range pending {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = Decode(e.data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("texture: decode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range pending {
		if e.decoded {
			continue
		}
		e.img, e.err, e.decoded = results[i], errs[i], true
		if errs[i] != nil {
			s.logger.Warn("texture decode failed", zap.String("name", e.name), zap.Error(errs[i]))
		}
	}
	return nil
}

// Resolve accepts an address or a filename-like reference. Textures not yet
// decoded are decoded on first use.
func (s *Store) Resolve(ref string) *image.NRGBA {
	s.mu.RLock()
	addr := ref
	if !strings.HasPrefix(ref, AddressScheme) {
		var found bool
		if addr, found = s.index.Lookup(ref); !found {
			s.mu.RUnlock()
			return nil
		}
	}
	e, ok := s.items[addr]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	if e.decoded {
		img := e.img
		s.mu.RUnlock()
		return img
	}
	data := e.data
	s.mu.RUnlock()

	img, err := Decode(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !e.decoded {
		e.img, e.err, e.decoded = img, err, true
	}
	return e.img
}

// Err returns the decode error recorded for ref, if any.
func (s *Store) Err(ref string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.items[ref]; ok {
		return e.err
	}
	return nil
}

// Handles lists the materialized textures in registration order.
func (s *Store) Handles() []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Handle, 0, len(s.order))
	for _, addr := range s.order {
		out = append(out, Handle{Name: s.items[addr].name, Address: addr})
	}
	return out
}

// Live returns the number of resources not yet released.
func (s *Store) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Release drops every resource. It reports whether this call did the release.
func (s *Store) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	n := len(s.items)
	s.items = make(map[string]*entry)
	s.order = nil
	s.index = NewIndex()
	s.logger.Debug("textures released", zap.Int("count", n))
	return true
}
