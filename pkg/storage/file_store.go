package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sink receives uploaded file bytes before they are forwarded to the
// document processing service. It is a pass-through: the conversational
// server never reads the bytes back.
type Sink interface {
	Save(ctx context.Context, threadKey, filename string, r io.Reader, size int64) error
}

// FileStore saves uploaded files to disk under a base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Save writes an uploaded file under a thread-specific folder.
func (f *FileStore) Save(_ context.Context, threadKey, filename string, r io.Reader, _ int64) error {
	targetDir := filepath.Join(f.basePath, safeFilename(threadKey))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create thread dir: %w", err)
	}
	target := filepath.Join(targetDir, safeFilename(filename))

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func safeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	return name
}
