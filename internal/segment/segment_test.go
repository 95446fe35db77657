package segment

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		seg     Segment
		wantErr error
	}{
		{"image ok", NewImage("photo.jpg"), nil},
		{"video ok", NewVideo("clip.mov"), nil},
		{"image with motion ok", NewImageWithMotion("photo.jpg", "photo.mov"), nil},
		{"image missing ref", Segment{Kind: KindImage}, ErrMissingReference},
		{"video missing ref", Segment{Kind: KindVideo}, ErrMissingReference},
		{"both refs set", Segment{Kind: KindImage, ImageRef: "a.jpg", VideoRef: "b.mov"}, ErrAmbiguousReference},
		{"unknown kind", Segment{ImageRef: "a.jpg"}, ErrMissingReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.seg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateList(t *testing.T) {
	if err := ValidateList(nil); !errors.Is(err, ErrEmptyList) {
		t.Fatalf("empty list: got %v, want ErrEmptyList", err)
	}

	segs := []Segment{NewVideo("a.mov"), NewImage("b.jpg")}
	if err := ValidateList(segs); err != nil {
		t.Fatalf("valid list rejected: %v", err)
	}

	segs = append(segs, Segment{Kind: KindVideo})
	if err := ValidateList(segs); !errors.Is(err, ErrMissingReference) {
		t.Fatalf("broken segment accepted: got %v", err)
	}
}
