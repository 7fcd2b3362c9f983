// Package storage persists evidentiary images in a blob store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"traffic-anpr-service/internal/config"
)

var ErrInvalidKey = errors.New("invalid object key")

// Object identifies a stored blob.
type Object struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (*Object, error)
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicURL), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
