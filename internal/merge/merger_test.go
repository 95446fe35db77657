package merge

import (
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/cliploop/internal/segment"
)

func TestConcatManifestOrdersSegments(t *testing.T) {
	segs := []segment.Segment{
		segment.NewVideo("a.mov"),
		segment.NewImage("b.jpg"),
		segment.NewVideo("c.mov"),
	}

	manifest := concatManifest(segs, 500*time.Millisecond)
	lines := strings.Split(strings.TrimSpace(manifest), "\n")

	want := []string{
		"file 'a.mov'",
		"file 'b.jpg'",
		"duration 0.500",
		"file 'c.mov'",
	}
	if len(lines) != len(want) {
		t.Fatalf("manifest has %d lines, want %d:\n%s", len(lines), len(want), manifest)
	}
	for i, line := range want {
		if lines[i] != line {
			t.Errorf("line %d = %q, want %q", i, lines[i], line)
		}
	}
}

func TestConcatManifestRepeatsTrailingImage(t *testing.T) {
	segs := []segment.Segment{
		segment.NewVideo("a.mov"),
		segment.NewImage("b.jpg"),
	}

	manifest := concatManifest(segs, 250*time.Millisecond)
	lines := strings.Split(strings.TrimSpace(manifest), "\n")

	if lines[len(lines)-1] != "file 'b.jpg'" {
		t.Errorf("trailing image not repeated, last line %q", lines[len(lines)-1])
	}
	if !strings.Contains(manifest, "duration 0.250") {
		t.Errorf("image duration missing:\n%s", manifest)
	}
}
