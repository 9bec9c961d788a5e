package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. It backs session storage and
// single-process deployments. Subscribers are notified asynchronously, so a
// writer never blocks on a slow reader.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte

	subMu  sync.RWMutex
	subs   map[int]func(Change)
	nextID int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		subs:   make(map[int]func(Change)),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Publish(_ context.Context, change Change) error {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		go fn(change)
	}
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, fn func(Change)) (func(), error) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}, nil
}

func (s *MemoryStore) Close() error { return nil }

// MemoryOpener hands out one MemoryStore per profile.
type MemoryOpener struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryOpener creates an opener whose stores live as long as the process.
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{stores: make(map[string]*MemoryStore)}
}

func (o *MemoryOpener) Open(_ context.Context, profile string) (Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stores[profile]
	if !ok {
		s = NewMemoryStore()
		o.stores[profile] = s
	}
	return s, nil
}

func (o *MemoryOpener) Close() error { return nil }
