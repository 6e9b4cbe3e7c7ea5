package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps every named cache in process memory. It is only coherent
// for a single service instance.
type MemoryStore struct {
	mu     sync.RWMutex
	caches map[string]*memoryCache
	now    func() time.Time
}

type memoryCache struct {
	gen     uint64
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		caches: make(map[string]*memoryCache),
		now:    time.Now,
	}
}

func (s *MemoryStore) Generation(_ context.Context, name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.caches[name]; ok {
		return c.gen, nil
	}
	return 0, nil
}

func (s *MemoryStore) Get(_ context.Context, name string, gen uint64, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.caches[name]
	if !ok || c.gen != gen {
		return nil, false, nil
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Put(_ context.Context, name string, gen uint64, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cache(name)
	if c.gen != gen {
		// loaded before the last invalidation
		return nil
	}
	now := s.now()
	for k, old := range c.entries {
		if !old.expires.IsZero() && !now.Before(old.expires) {
			delete(c.entries, k)
		}
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		c := s.cache(name)
		c.gen++
		c.entries = make(map[string]memoryEntry)
	}
	return nil
}

// cache must be called with s.mu held for writing.
func (s *MemoryStore) cache(name string) *memoryCache {
	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{entries: make(map[string]memoryEntry)}
		s.caches[name] = c
	}
	return c
}
