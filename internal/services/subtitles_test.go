package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobarin/reelforge/internal/models"
)

func captionPlan(entries ...models.Segment) *models.EditPlan {
	plan := &models.EditPlan{Captions: true}
	for _, seg := range entries {
		plan.Entries = append(plan.Entries, models.PlanEntry{Segment: seg})
	}
	return plan
}

func TestReelWordsMapping(t *testing.T) {
	plan := captionPlan(
		models.Segment{SourceIndex: 0, Start: 10, End: 20, Class: models.SegmentKeep},
		models.Segment{SourceIndex: 1, Start: 5, End: 10, Class: models.SegmentKeep},
	)

	wordsByClip := map[int][]models.WordTimestamp{
		0: {
			{Word: "early", Start: 9.0, End: 9.5},   // before the kept span
			{Word: "hello", Start: 12.0, End: 12.5}, // inside
			{Word: "edge", Start: 19.8, End: 20.6},  // starts inside, runs past the cut
			{Word: "late", Start: 20.0, End: 20.4},  // starts at the cut boundary
		},
		1: {
			{Word: "world", Start: 6.0, End: 6.5},
		},
	}

	words := reelWords(plan, wordsByClip)
	if len(words) != 3 {
		t.Fatalf("expected 3 mapped words, got %d: %+v", len(words), words)
	}

	if words[0].Word != "hello" || !closeTo(words[0].Start, 2.0) || !closeTo(words[0].End, 2.5) {
		t.Errorf("hello mapped wrong: %+v", words[0])
	}

	// A word running past the segment end is clamped to the entry bound.
	if words[1].Word != "edge" || !closeTo(words[1].Start, 9.8) || !closeTo(words[1].End, 10.0) {
		t.Errorf("edge mapped wrong: %+v", words[1])
	}

	// Second entry starts at 10s of reel time.
	if words[2].Word != "world" || !closeTo(words[2].Start, 11.0) || !closeTo(words[2].End, 11.5) {
		t.Errorf("world mapped wrong: %+v", words[2])
	}
}

func TestReelWordsSkipsUnselectedSpans(t *testing.T) {
	plan := captionPlan(
		models.Segment{SourceIndex: 0, Start: 0, End: 5, Class: models.SegmentKeep},
	)
	wordsByClip := map[int][]models.WordTimestamp{
		0: {{Word: "cut", Start: 7.0, End: 7.3}},
	}

	if words := reelWords(plan, wordsByClip); len(words) != 0 {
		t.Fatalf("expected no words from an unselected span, got %+v", words)
	}
}

func TestWriteReelCaptionsNoWords(t *testing.T) {
	plan := captionPlan(models.Segment{SourceIndex: 0, Start: 0, End: 5, Class: models.SegmentKeep})
	outputPath := filepath.Join(t.TempDir(), "captions.ass")

	n, err := WriteReelCaptions(plan, map[int][]models.WordTimestamp{}, outputPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 words, got %d", n)
	}
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Fatal("expected no caption file for an empty transcript")
	}
}

func TestWriteReelCaptionsFile(t *testing.T) {
	plan := captionPlan(models.Segment{SourceIndex: 0, Start: 0, End: 10, Class: models.SegmentKeep})
	wordsByClip := map[int][]models.WordTimestamp{
		0: {
			{Word: "hello", Start: 1.0, End: 1.5},
			{Word: "there", Start: 1.5, End: 2.0},
		},
	}
	outputPath := filepath.Join(t.TempDir(), "captions.ass")

	n, err := WriteReelCaptions(plan, wordsByClip, outputPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 words, got %d", n)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("failed to read caption file: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"[Script Info]",
		"PlayResX: 1080",
		"PlayResY: 1920",
		"Style: Default,Noto Sans,62",
		"[Events]",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("caption file missing %q", want)
		}
	}

	// First dialogue highlights the first word and ends when the next
	// word starts.
	if !strings.Contains(content, "Dialogue: 0,0:00:01.00,0:00:01.50,Default,,0,0,0,,{\\3c&H00CC3299\\bord8}HELLO{\\r} THERE") {
		t.Errorf("missing first highlight line in:\n%s", content)
	}
	if !strings.Contains(content, "Dialogue: 0,0:00:01.50,0:00:02.00,Default,,0,0,0,,HELLO {\\3c&H00CC3299\\bord8}THERE{\\r}") {
		t.Errorf("missing second highlight line in:\n%s", content)
	}
}

func TestChunkWords(t *testing.T) {
	words := func(ws ...string) []models.WordTimestamp {
		out := make([]models.WordTimestamp, len(ws))
		for i, w := range ws {
			out[i] = models.WordTimestamp{Word: w}
		}
		return out
	}

	chunks := chunkWords(words("a", "b", "c", "d", "e", "f"), 4)
	if len(chunks) != 2 || len(chunks[0]) != 4 || len(chunks[1]) != 2 {
		t.Fatalf("plain chunking wrong: %v", chunkSizes(chunks))
	}

	// A sentence end after at least two words breaks the chunk early.
	chunks = chunkWords(words("a", "b.", "c", "d", "e", "f"), 4)
	if len(chunks) != 2 || len(chunks[0]) != 2 || len(chunks[1]) != 4 {
		t.Fatalf("sentence-end chunking wrong: %v", chunkSizes(chunks))
	}

	// A sentence end on the very first word does not strand it alone.
	chunks = chunkWords(words("end.", "x", "y", "z", "w"), 4)
	if len(chunks) != 2 || len(chunks[0]) != 4 || len(chunks[1]) != 1 {
		t.Fatalf("leading sentence-end chunking wrong: %v", chunkSizes(chunks))
	}
}

func chunkSizes(chunks [][]models.WordTimestamp) []int {
	sizes := make([]int, len(chunks))
	for i, c := range chunks {
		sizes[i] = len(c)
	}
	return sizes
}

func TestFormatASSTime(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00:00.00"},
		{1.25, "0:00:01.25"},
		{65.5, "0:01:05.50"},
		{3725.75, "1:02:05.75"},
		{-3, "0:00:00.00"},
	}

	for _, tc := range cases {
		if got := formatASSTime(tc.seconds); got != tc.want {
			t.Errorf("formatASSTime(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func closeTo(got, want float64) bool {
	diff := got - want
	return diff < 1e-9 && diff > -1e-9
}
