package uploads

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemStore keeps artifacts in a flat directory on local disk.
type FileSystemStore struct {
	rootDir string
}

// NewFileSystemStore creates the store, making the root directory if
// needed.
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &FileSystemStore{rootDir: rootDir}, nil
}

// Save implements FileStore. Writes go through a temp file and rename so
// a retry after a partial write never leaves a torn artifact.
func (s *FileSystemStore) Save(ctx context.Context, itemID int64, originalName string, r io.Reader) (string, error) {
	filename, err := DeriveFilename(itemID, originalName)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.rootDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.rootDir, filename)); err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}
	return filename, nil
}

// Remove implements FileStore. A missing file is not an error.
func (s *FileSystemStore) Remove(ctx context.Context, filename string) error {
	err := os.Remove(filepath.Join(s.rootDir, filepath.Base(filename)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", filename, err)
	}
	return nil
}

// Open implements FileStore.
func (s *FileSystemStore) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.rootDir, filepath.Base(filename)))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	return f, nil
}

// List implements FileStore. Temp files from in-flight writes are
// skipped.
func (s *FileSystemStore) List(ctx context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload directory: %w", err)
	}

	var out []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || len(entry.Name()) == 0 || entry.Name()[0] == '.' {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// File disappeared between ReadDir and Info; the janitor
			// tolerates churn.
			continue
		}
		out = append(out, FileInfo{Name: entry.Name(), ModTime: info.ModTime()})
	}
	return out, nil
}
