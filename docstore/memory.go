package docstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/gridwise/bundling"
)

// Memory is an in-memory DocumentStore for tests and benchmarks.
type Memory struct {
	mu   sync.RWMutex
	docs map[bundling.ID][]byte
}

var _ bundling.DocumentStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[bundling.ID][]byte)}
}

// Put implements bundling.DocumentStore.
func (s *Memory) Put(ctx context.Context, id bundling.ID, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.docs[id] = data
	s.mu.Unlock()

	return nil
}

// Get implements bundling.DocumentStore.
func (s *Memory) Get(ctx context.Context, id bundling.ID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, bundling.ErrDocumentNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete implements bundling.DocumentStore.
func (s *Memory) Delete(ctx context.Context, id bundling.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()

	return nil
}

// Len reports the number of stored documents.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.docs)
}
