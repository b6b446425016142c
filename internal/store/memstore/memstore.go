// Package memstore is the in-memory object store backend: a volatile
// store useful for tests and for single-process deployments that accept
// losing state across restarts. Grounded on johnjansen-torua's
// internal/storage.MemoryStore, generalized from a flat key space to the
// (type, uid) key space store.Store requires.
package memstore

import (
	"context"
	"sync"

	"lracoord/internal/store"
)

type key struct {
	typ store.Type
	uid string
}

// Store implements store.Store with a guarded map. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[key][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[key][]byte)}
}

func (s *Store) Write(_ context.Context, typ store.Type, uid string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.data[key{typ, uid}] = stored
	return nil
}

func (s *Store) Read(_ context.Context, typ store.Type, uid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key{typ, uid}]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := make([]byte, len(v))
	copy(result, v)
	return result, nil
}

func (s *Store) Remove(_ context.Context, typ store.Type, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key{typ, uid})
	return nil
}

func (s *Store) List(_ context.Context, typ store.Type) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uids []string
	for k := range s.data {
		if k.typ == typ {
			uids = append(uids, k.uid)
		}
	}
	return uids, nil
}

// Move atomically reclassifies a record. Under the store's single mutex
// there is no window where uid is visible under neither or both types.
func (s *Store) Move(_ context.Context, fromType, toType store.Type, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key{fromType, uid}]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.data, key{fromType, uid})
	s.data[key{toType, uid}] = v
	return nil
}

func (s *Store) Close() error {
	return nil
}
