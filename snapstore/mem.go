package snapstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemStore is an in-memory Store. Validate-only runs use it in place of a
// real target; tests use it everywhere.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{objects: map[string][]byte{}}
}

func (s *MemStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.Wrapf(ErrNotExist, "%s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemStore) Write(ctx context.Context, key string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return "mem://" + key, nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Keys returns the stored keys, for test assertions.
func (s *MemStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
