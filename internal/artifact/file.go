package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
)

// FileStore keeps the model in a JSON file.
type FileStore struct {
	Path   string
	logger *zap.Logger
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{Path: path, logger: logger}
}

// Save writes a temporary file next to Path, syncs it and renames it over Path.
func (s *FileStore) Save(_ context.Context, m *segmentation.Model) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", segmentation.ErrArtifactIO, dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", segmentation.ErrArtifactIO, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing %s: %v", segmentation.ErrArtifactIO, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing %s: %v", segmentation.ErrArtifactIO, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", segmentation.ErrArtifactIO, tmpName, err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", segmentation.ErrArtifactIO, s.Path, err)
	}
	s.logger.Info("model artifact saved", zap.String("path", s.Path), zap.String("model_version", m.Version))
	return nil
}

// Load reads the model. A missing file is ErrModelNotTrained.
func (s *FileStore) Load(_ context.Context) (*segmentation.Model, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no model at %s", segmentation.ErrModelNotTrained, s.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", segmentation.ErrArtifactIO, s.Path, err)
	}
	return Decode(data)
}
