package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const fileSuffix = ".catalog.json"

// FilesystemStore keeps one JSON document per run under a directory.
type FilesystemStore struct {
	baseDir string
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewFilesystemStore(baseDir string, logger *zap.Logger) *FilesystemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilesystemStore{
		baseDir: baseDir,
		logger:  logger,
	}
}

func (f *FilesystemStore) path(runID string) string {
	return filepath.Join(f.baseDir, runID+fileSuffix)
}

func (f *FilesystemStore) Save(ctx context.Context, c Catalog) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c.RunID == "" {
		return errors.New("catalog entry without run id")
	}

	if err := os.MkdirAll(f.baseDir, 0755); err != nil {
		return err
	}

	catalogPath := f.path(c.RunID)
	tempPath := catalogPath + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	if file, err := os.OpenFile(tempPath, os.O_RDWR, 0644); err == nil {
		file.Sync()
		file.Close()
	}

	// Atomic rename
	if err := os.Rename(tempPath, catalogPath); err != nil {
		os.Remove(tempPath)
		return err
	}

	f.logger.Debug("Catalog saved",
		zap.String("run_id", c.RunID),
		zap.Bool("completed", c.Completed),
	)
	return nil
}

func (f *FilesystemStore) Load(ctx context.Context, runID string) (Catalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(f.path(runID))
}

func (f *FilesystemStore) load(p string) (Catalog, error) {
	var c Catalog
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(data, &c)
	return c, err
}

func (f *FilesystemStore) List(ctx context.Context, limit int) ([]Catalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Catalog
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		c, err := f.load(filepath.Join(f.baseDir, e.Name()))
		if err != nil {
			f.logger.Warn("skipping unreadable catalog entry", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
