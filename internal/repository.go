package internal

import (
	"context"
	"io"
	"time"
)

// Repository is an object store the reconciled tables and processed images
// are written to.
type Repository interface {
	Write(ctx context.Context, key string, reader io.Reader, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns the public address of key.
	URL(key string) string
}

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Lister is implemented by repositories that can enumerate and remove
// objects.
type Lister interface {
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// ArtifactStore adapts a Repository to the engine's upload contract.
type ArtifactStore struct {
	Repository Repository
}

func (s ArtifactStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if err := s.Repository.Write(ctx, key, r, contentType); err != nil {
		return "", err
	}
	return s.Repository.URL(key), nil
}

// Reader is implemented by repositories that can return an object's bytes
// without going through its public URL.
type Reader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}
