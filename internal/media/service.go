/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/config"
)

// Service manages storage of exported output files.
type Service struct {
	storage Storage
	logger  zerolog.Logger
}

// NewService creates a media service using filesystem or S3 storage based on config.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	var storage Storage

	if cfg.S3Bucket != "" {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
		}

		if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, some operations may fail")
		}

		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		storage = s3Storage
	} else {
		storage = NewFilesystemStorage(cfg.OutputDir, logger)
	}

	return &Service{storage: storage, logger: logger}, nil
}

// Store saves an exported file and returns its reference.
func (s *Service) Store(ctx context.Context, key string, file io.Reader) (string, error) {
	ref, err := s.storage.Store(ctx, key, file)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("output store failed")
		return "", err
	}
	return ref, nil
}

// Delete removes a stored export.
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, key)
}

// URL resolves a stored key to its reference.
func (s *Service) URL(key string) string {
	return s.storage.URL(key)
}
