package storage

import (
	"testing"

	"github.com/google/uuid"
)

func TestObjectKeyLayout(t *testing.T) {
	s := &Storage{}
	reelID := uuid.MustParse("0b5e7c7e-6a3f-4b84-9d21-3a5a0d1f9f10")

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"source", s.SourcePath(reelID, 3, "clip.mp4"), reelID.String() + "/source/03_clip.mp4"},
		{"music", s.MusicPath(reelID, "track.mp3"), reelID.String() + "/music/track.mp3"},
		{"artifact", s.ArtifactPath(reelID, "final.mp4"), reelID.String() + "/final.mp4"},
	}

	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s key = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}
