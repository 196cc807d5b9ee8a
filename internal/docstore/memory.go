package docstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by tests and the channel broker's
// local development mode.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[Key]Document
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[Key]Document)}
}

func (s *MemoryStore) Upsert(_ context.Context, key Key, doc Document) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = doc.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, collection string, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0)
	for k := range s.docs {
		if k.Collection == collection {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ProductCode < keys[j].ProductCode })

	out := make([]Document, 0, len(keys))
	for _, k := range keys {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.docs[k].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close(context.Context) error { return nil }

// Len reports the number of stored documents across all collections.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
