/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package merge combines an ordered segment list into a single exported
// media reference.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/media"
	"github.com/friendsincode/cliploop/internal/segment"
	"github.com/friendsincode/cliploop/internal/telemetry"
)

// ErrMergeFailed indicates the merge produced no output reference.
var ErrMergeFailed = errors.New("merge produced no output")

// Service merges an ordered segment list into one media reference. It may be
// invoked repeatedly for the same list (retry); calls are never overlapped by
// the export trigger but implementations should tolerate it.
type Service interface {
	Merge(ctx context.Context, segments []segment.Segment) (segment.Ref, error)
}

// PipelineMerger implements Service by driving an external encoder process
// over a concat manifest, then storing the result through the media service.
type PipelineMerger struct {
	bin           string
	workDir       string
	frameInterval time.Duration
	store         *media.Service
	logger        zerolog.Logger
}

// NewPipelineMerger creates a merger using bin (typically ffmpeg). The frame
// interval gives still-image segments their display duration in the merged
// output, matching preview playback.
func NewPipelineMerger(bin, workDir string, frameInterval time.Duration, store *media.Service, logger zerolog.Logger) *PipelineMerger {
	return &PipelineMerger{
		bin:           bin,
		workDir:       workDir,
		frameInterval: frameInterval,
		store:         store,
		logger:        logger.With().Str("component", "merger").Logger(),
	}
}

// Merge concatenates the segments into a single video file.
func (m *PipelineMerger) Merge(ctx context.Context, segments []segment.Segment) (segment.Ref, error) {
	if err := segment.ValidateList(segments); err != nil {
		return "", err
	}

	ctx, span := telemetry.StartSpan(ctx, "merge", "merge.concat")
	defer span.End()

	start := time.Now()

	if err := os.MkdirAll(m.workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	manifest := concatManifest(segments, m.frameInterval)
	manifestPath := filepath.Join(m.workDir, fmt.Sprintf("concat-%s.txt", uuid.NewString()))
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		return "", fmt.Errorf("write concat manifest: %w", err)
	}
	defer os.Remove(manifestPath)

	outName := fmt.Sprintf("export-%s.mp4", uuid.NewString())
	outPath := filepath.Join(m.workDir, outName)

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-fps_mode", "vfr",
		"-pix_fmt", "yuv420p",
		outPath,
	}

	cmd := exec.CommandContext(ctx, m.bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		span.RecordError(err)
		m.logger.Error().Err(err).Str("output", tail(string(out), 512)).Msg("merge process failed")
		return "", fmt.Errorf("%w: %v", ErrMergeFailed, err)
	}

	file, err := os.Open(outPath)
	if err != nil {
		return "", fmt.Errorf("open merged output: %w", err)
	}
	defer file.Close()
	defer os.Remove(outPath)

	ref, err := m.store.Store(ctx, outName, file)
	if err != nil {
		return "", fmt.Errorf("store merged output: %w", err)
	}

	telemetry.MergeDuration.Observe(time.Since(start).Seconds())
	m.logger.Info().
		Int("segments", len(segments)).
		Str("ref", ref).
		Dur("elapsed", time.Since(start)).
		Msg("merge complete")

	return segment.Ref(ref), nil
}

// concatManifest renders the encoder concat list. Image segments get an
// explicit per-frame duration; the trailing repeat of the last file works
// around concat demuxers dropping the final duration directive.
func concatManifest(segments []segment.Segment, frameInterval time.Duration) string {
	var b strings.Builder
	var last segment.Ref

	for _, seg := range segments {
		switch {
		case seg.IsImage():
			fmt.Fprintf(&b, "file '%s'\n", seg.ImageRef)
			fmt.Fprintf(&b, "duration %.3f\n", frameInterval.Seconds())
			last = seg.ImageRef
		default:
			fmt.Fprintf(&b, "file '%s'\n", seg.VideoRef)
			last = seg.VideoRef
		}
	}

	if len(segments) > 0 && segments[len(segments)-1].IsImage() {
		fmt.Fprintf(&b, "file '%s'\n", last)
	}

	return b.String()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
