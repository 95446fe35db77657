/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/cliploop/internal/events"
	"github.com/friendsincode/cliploop/internal/export"
	"github.com/friendsincode/cliploop/internal/media"
	"github.com/friendsincode/cliploop/internal/merge"
	"github.com/friendsincode/cliploop/internal/player"
	"github.com/friendsincode/cliploop/internal/scheduler"
	"github.com/friendsincode/cliploop/internal/segment"
)

var playManifestPath string

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a segment manifest locally",
	Long: `Play an ordered segment list in a loop on this machine, without the
HTTP server or a database. The manifest is a YAML file:

  frame_interval_ms: 500
  segments:
    - kind: video
      video: clips/intro.mp4
    - kind: image
      image: photos/frame.jpg
      motion: photos/frame.mov

Playback loops until interrupted with Ctrl-C.`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVarP(&playManifestPath, "manifest", "m", "", "Path to the YAML segment manifest (required)")
	_ = playCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(playCmd)
}

type playManifest struct {
	FrameIntervalMS int `yaml:"frame_interval_ms"`
	Segments        []struct {
		Kind   string `yaml:"kind"`
		Image  string `yaml:"image"`
		Video  string `yaml:"video"`
		Motion string `yaml:"motion"`
	} `yaml:"segments"`
}

func loadManifest(path string) ([]segment.Segment, time.Duration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read manifest: %w", err)
	}

	var m playManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, 0, fmt.Errorf("parse manifest: %w", err)
	}

	segments := make([]segment.Segment, 0, len(m.Segments))
	for i, s := range m.Segments {
		switch s.Kind {
		case "image":
			if s.Motion != "" {
				segments = append(segments, segment.NewImageWithMotion(segment.Ref(s.Image), segment.Ref(s.Motion)))
			} else {
				segments = append(segments, segment.NewImage(segment.Ref(s.Image)))
			}
		case "video":
			segments = append(segments, segment.NewVideo(segment.Ref(s.Video)))
		default:
			return nil, 0, fmt.Errorf("segment %d: unknown kind %q", i, s.Kind)
		}
	}
	if err := segment.ValidateList(segments); err != nil {
		return nil, 0, err
	}

	return segments, time.Duration(m.FrameIntervalMS) * time.Millisecond, nil
}

// logDelegate reports export outcomes on the console.
type logDelegate struct{}

func (logDelegate) OnVideoExported(ref *segment.Ref) {
	if ref == nil {
		fmt.Println("export cancelled")
		return
	}
	fmt.Printf("exported video: %s\n", *ref)
}

func (logDelegate) OnImageExported(ref *segment.Ref) {
	if ref != nil {
		fmt.Printf("exported image: %s\n", *ref)
	}
}

func (logDelegate) OnDismissed() {
	fmt.Println("session dismissed")
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	segments, frameInterval, err := loadManifest(playManifestPath)
	if err != nil {
		return err
	}
	if frameInterval <= 0 {
		frameInterval = cfg.StopMotionFrameInterval
	}

	store, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize media storage: %w", err)
	}

	bus := events.NewBus()
	driver := player.NewProcessDriver(cfg.GStreamerBin, logger)
	pool := player.NewPool(driver, logger)
	merger := merge.NewPipelineMerger(cfg.MergeBin, cfg.OutputDir, frameInterval, store, logger)
	trigger := export.NewTrigger(merger, logDelegate{}, bus, cfg.MergeTimeout, logger)

	sched, err := scheduler.New(segments, pool, trigger, bus, frameInterval, logger)
	if err != nil {
		return err
	}
	if cfg.StallWatchdog > 0 {
		sched.EnableStallWatchdog(cfg.StallWatchdog)
	}

	if err := sched.Start(); err != nil {
		return err
	}
	logger.Info().Int("segments", len(segments)).Msg("playback started, Ctrl-C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := sched.Close(); err != nil {
		logger.Error().Err(err).Msg("playback shutdown failed")
	}
	return nil
}
