package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal"
)

type Option func(*Repository)

// Repository stores objects as files under a base directory.
type Repository struct {
	basePath string
	prefix   string
	baseURL  string
	logger   *zap.Logger
}

var _ internal.Repository = (*Repository)(nil)
var _ internal.Lister = (*Repository)(nil)
var _ internal.Reader = (*Repository)(nil)

func WithPrefix(prefix string) Option {
	return func(r *Repository) {
		r.prefix = prefix
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithBaseURL serves objects from base instead of file:// URLs.
func WithBaseURL(base string) Option {
	return func(r *Repository) {
		r.baseURL = strings.TrimRight(base, "/")
	}
}

func New(basePath string, opts ...Option) *Repository {
	r := &Repository{
		basePath: basePath,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) path(key string) string {
	return filepath.Join(
		r.basePath,
		r.prefix,
		filepath.FromSlash(key),
	)
}

func (r *Repository) Write(ctx context.Context, key string, reader io.Reader, contentType string) error {
	fullPath := r.path(key)
	r.logger.Info("writing file", zap.String("path", fullPath), zap.String("content_type", contentType))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(file, reader)
	return err
}

func (r *Repository) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(r.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (r *Repository) URL(key string) string {
	if r.baseURL != "" {
		return r.baseURL + "/" + filepath.ToSlash(filepath.Join(r.prefix, key))
	}
	p, err := filepath.Abs(r.path(key))
	if err != nil {
		p = r.path(key)
	}
	return "file://" + filepath.ToSlash(p)
}

func (r *Repository) List(ctx context.Context, prefix string) ([]internal.Object, error) {
	root := filepath.Join(r.basePath, r.prefix)
	var objects []internal.Object
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, internal.Object{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	return objects, err
}

func (r *Repository) Delete(ctx context.Context, key string) error {
	r.logger.Info("deleting file", zap.String("key", key))
	if err := os.Remove(r.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (r *Repository) Read(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(r.path(key))
}
