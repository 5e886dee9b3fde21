package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Blob is a transient local copy of downloaded media. It must be closed
// once superseded.
type Blob struct {
	path string

	mu       sync.Mutex
	released bool
}

// NewBlob copies r into a new file under dir.
func NewBlob(dir, ext string, r io.Reader) (*Blob, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	path := filepath.Join(dir, "blob-"+uuid.New().String()+ext)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close blob: %w", err)
	}
	return &Blob{path: path}, nil
}

// Path returns the local file path.
func (b *Blob) Path() string { return b.path }

// Close removes the file. It is safe to call more than once.
func (b *Blob) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	b.released = true
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}
