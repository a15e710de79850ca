// Package thumbs acquires study thumbnails in the background: a fixed pool
// of workers walks the server's preview endpoints per study, downsizes the
// result and installs it on the study list. Thumbnails are scoped
// resources; every acquired handle is released exactly once.
package thumbs

import (
	"os"
	"path/filepath"
	"sync"
)

// Handle is one acquired thumbnail backed by a temp file. Release removes
// the file; calling it more than once is safe.
type Handle struct {
	path string
	once sync.Once
}

// NewHandle writes the thumbnail bytes into dir and returns the owning
// handle.
func NewHandle(dir string, data []byte) (*Handle, error) {
	file, err := os.CreateTemp(dir, "thumb-*.png")
	if err != nil {
		return nil, err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return nil, err
	}
	return &Handle{path: file.Name()}, nil
}

// Path is the absolute location of the backing file.
func (h *Handle) Path() string { return h.path }

// URL is the path the HTTP layer serves the thumbnail under.
func (h *Handle) URL() string {
	return "/thumbnails/" + filepath.Base(h.path)
}

// Release deletes the backing file. Idempotent.
func (h *Handle) Release() {
	h.once.Do(func() {
		os.Remove(h.path)
	})
}
