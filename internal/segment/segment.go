/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package segment

import "errors"

var (
	// ErrMissingReference indicates a segment with neither image nor video reference.
	ErrMissingReference = errors.New("segment has no media reference")

	// ErrAmbiguousReference indicates a segment with both references set.
	ErrAmbiguousReference = errors.New("segment has both image and video references")

	// ErrEmptyList indicates a segment list without any members.
	ErrEmptyList = errors.New("segment list is empty")
)

// Ref is an opaque media reference (local path or URL).
type Ref string

// Kind discriminates segment media types.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Segment describes one playable unit of captured media. Segments are
// immutable values; exactly one of ImageRef/VideoRef is set, matching Kind.
// An image segment may additionally carry a MotionRef, the co-located video
// representation of the still capture.
type Segment struct {
	Kind      Kind
	ImageRef  Ref
	VideoRef  Ref
	MotionRef Ref
}

// NewImage creates a still-image segment.
func NewImage(ref Ref) Segment {
	return Segment{Kind: KindImage, ImageRef: ref}
}

// NewImageWithMotion creates a still-image segment with a companion video
// representation.
func NewImageWithMotion(ref, motion Ref) Segment {
	return Segment{Kind: KindImage, ImageRef: ref, MotionRef: motion}
}

// NewVideo creates a video-clip segment.
func NewVideo(ref Ref) Segment {
	return Segment{Kind: KindVideo, VideoRef: ref}
}

// IsImage reports whether the segment is a still image.
func (s Segment) IsImage() bool { return s.Kind == KindImage }

// IsVideo reports whether the segment is a video clip.
func (s Segment) IsVideo() bool { return s.Kind == KindVideo }

// Validate checks the kind/reference invariant.
func (s Segment) Validate() error {
	if s.ImageRef != "" && s.VideoRef != "" {
		return ErrAmbiguousReference
	}

	switch s.Kind {
	case KindImage:
		if s.ImageRef == "" {
			return ErrMissingReference
		}
	case KindVideo:
		if s.VideoRef == "" {
			return ErrMissingReference
		}
	default:
		return ErrMissingReference
	}

	return nil
}

// ValidateList rejects an invalid segment list before playback starts.
// A broken segment is a construction-time failure, never silently skipped.
func ValidateList(segments []Segment) error {
	if len(segments) == 0 {
		return ErrEmptyList
	}
	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			return err
		}
	}
	return nil
}
