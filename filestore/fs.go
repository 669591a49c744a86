package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rpupo63/blog-backend/errs"
)

// FS stores files flat inside a directory on local disk.
type FS struct {
	baseDir string
}

func NewFS(baseDir string) (*FS, error) {
	if baseDir == "" {
		return nil, errs.NewConfigError("UPLOADS_DIR", errors.New("base directory is required"))
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &FS{baseDir: baseDir}, nil
}

func (s *FS) path(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, name), nil
}

// Write creates the file through a temp file and rename, so readers never see
// a partially written attachment.
func (s *FS) Write(ctx context.Context, name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return errs.NewFileIOError("write", name, err)
	}

	tmp, err := os.CreateTemp(s.baseDir, ".upload-*")
	if err != nil {
		return errs.NewFileIOError("write", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.NewFileIOError("write", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.NewFileIOError("write", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errs.NewFileIOError("write", name, err)
	}
	return nil
}

func (s *FS) Delete(ctx context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return errs.NewFileIOError("delete", name, err)
	}
	if err := os.Remove(path); err != nil {
		return errs.NewFileIOError("delete", name, err)
	}
	return nil
}

func (s *FS) Exists(ctx context.Context, name string) (bool, error) {
	path, err := s.path(name)
	if err != nil {
		return false, errs.NewFileIOError("stat", name, err)
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errs.NewFileIOError("stat", name, err)
	}
	return true, nil
}
