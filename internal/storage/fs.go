package storage

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalStore writes blobs below a base directory and serves them under
// publicURL.
type LocalStore struct {
	fs        afero.Fs
	baseDir   string
	publicURL string
}

func NewLocalStore(baseDir, publicURL string) *LocalStore {
	return NewLocalStoreWithFs(afero.NewOsFs(), baseDir, publicURL)
}

func NewLocalStoreWithFs(fs afero.Fs, baseDir, publicURL string) *LocalStore {
	return &LocalStore{fs: fs, baseDir: baseDir, publicURL: publicURL}
}

func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", key, err)
	}

	return &Object{Key: key, URL: joinURL(s.publicURL, key)}, nil
}

// FileSystem exposes the stored blobs for static serving. Directories
// cannot be opened, so nothing can be listed.
func (s *LocalStore) FileSystem() http.FileSystem {
	return filesOnlyFS{afero.NewHttpFs(s.fs).Dir(s.baseDir)}
}

type filesOnlyFS struct {
	fs http.FileSystem
}

func (f filesOnlyFS) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
