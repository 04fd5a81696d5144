// ABOUTME: In-memory BlobStore for tests with fault injection
// ABOUTME: Returns stable mem:// URLs and supports prefix listing

package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type memBlob struct {
	data        []byte
	contentType string
}

// MemoryBlobs is a goroutine-safe in-memory BlobStore. Set FailPuts to
// make the next N Put calls fail with a transient error, for retry tests.
type MemoryBlobs struct {
	mu       sync.Mutex
	blobs    map[string]memBlob
	failPuts int
	puts     int
}

// NewMemoryBlobs creates an empty in-memory blob store.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string]memBlob)}
}

// FailPuts makes the next n Put calls fail.
func (b *MemoryBlobs) FailPuts(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPuts = n
}

// PutCount returns how many Put calls were attempted, including failures.
func (b *MemoryBlobs) PutCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

// Put implements BlobStore.
func (b *MemoryBlobs) Put(_ context.Context, path string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.puts++
	if b.failPuts > 0 {
		b.failPuts--
		return fmt.Errorf("memory blobs: injected put failure for %s", path)
	}

	b.blobs[path] = memBlob{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

// Get returns the stored bytes, for test assertions.
func (b *MemoryBlobs) Get(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), blob.data...), true
}

// DownloadURL implements BlobStore.
func (b *MemoryBlobs) DownloadURL(_ context.Context, path string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.blobs[path]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return "mem://" + path, nil
}

// ListChildren implements BlobStore.
func (b *MemoryBlobs) ListChildren(_ context.Context, path string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	var children []string
	for p := range b.blobs {
		if strings.HasPrefix(p, prefix) {
			children = append(children, p)
		}
	}
	return children, nil
}

// Delete implements BlobStore. Absent blobs are not an error.
func (b *MemoryBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, path)
	return nil
}

var _ BlobStore = (*MemoryBlobs)(nil)
