package blobstore

import (
	"context"
	"io"
	"sync"
)

type memBlob struct {
	meta BlobMetadata
	data []byte
}

// InMemoryBlobStore keeps card images in a map. It backs UPLOAD_DRIVER=memory
// and the handler tests; contents are lost on restart.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]memBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]memBlob)}
}

func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := readAll(&meta, content)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.blobs[meta.ID] = memBlob{meta: meta, data: data}
	s.mu.Unlock()
	return &meta, nil
}

func (s *InMemoryBlobStore) lookup(id string) (memBlob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Download serves the stored bytes. Stored slices are never mutated, so
// readers can share them.
func (s *InMemoryBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	b, ok := s.lookup(id)
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	return nopCloser(b.data), &b.meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

// Len reports how many blobs are stored.
func (s *InMemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
