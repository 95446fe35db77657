/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Storage abstracts where exported output lands.
type Storage interface {
	Store(ctx context.Context, key string, file io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// FilesystemStorage implements Storage using the local filesystem.
type FilesystemStorage struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage backend.
func NewFilesystemStorage(rootDir string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "fs_storage").Logger(),
	}
}

// Store saves a file under the root directory and returns its path.
func (fs *FilesystemStorage) Store(ctx context.Context, key string, file io.Reader) (string, error) {
	fullPath := filepath.Join(fs.rootDir, key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create directories: %w", err)
	}

	dest, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, file); err != nil {
		os.Remove(fullPath) // Clean up on failure
		return "", fmt.Errorf("write file: %w", err)
	}

	fs.logger.Debug().Str("path", fullPath).Msg("stored output")
	return fullPath, nil
}

// Delete removes a stored file.
func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	if err := os.Remove(filepath.Join(fs.rootDir, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// URL returns the local path for a stored key.
func (fs *FilesystemStorage) URL(key string) string {
	return filepath.Join(fs.rootDir, key)
}
