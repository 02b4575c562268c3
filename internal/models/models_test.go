package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"theme":  "cinematic",
		"onsets": []float64{0.5, 1.2},
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	if data == nil {
		t.Fatal("expected non-nil data")
	}

	// Verify it's valid JSON
	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["theme"] != "cinematic" {
		t.Errorf("expected theme=cinematic, got %v", result["theme"])
	}
}

func TestJSONBScan(t *testing.T) {
	jsonData := []byte(`{"transition": "crossfade", "target": 30}`)

	var j JSONB
	if err := j.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["transition"] != "crossfade" {
		t.Errorf("expected transition=crossfade, got %v", j["transition"])
	}

	if j["target"].(float64) != 30 {
		t.Errorf("expected target=30, got %v", j["target"])
	}
}

func TestReelStatus(t *testing.T) {
	statuses := []ReelStatus{
		ReelStatusPending,
		ReelStatusIngesting,
		ReelStatusAnalyzing,
		ReelStatusPlanning,
		ReelStatusRendering,
		ReelStatusCompleted,
		ReelStatusFailed,
		ReelStatusCancelled,
	}

	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}
}

func TestSegmentDuration(t *testing.T) {
	s := Segment{Start: 10.5, End: 15.0}
	if got := s.Duration(); got != 4.5 {
		t.Errorf("expected duration 4.5, got %v", got)
	}
}

func TestThemeCatalog(t *testing.T) {
	ids := []string{ThemeNone, ThemeBlackWhite, ThemeVibrant, ThemeCinematic, ThemeVintage}
	for _, id := range ids {
		spec, ok := ThemeByID(id)
		if !ok {
			t.Errorf("theme %q missing from catalog", id)
		}
		if spec.ID != id {
			t.Errorf("theme lookup returned %q for %q", spec.ID, id)
		}
	}

	if _, ok := ThemeByID("sepia"); ok {
		t.Error("unknown theme id should not resolve")
	}

	if spec, _ := ThemeByID(ThemeNone); spec.Filter != "" {
		t.Errorf("theme none should have no filter, got %q", spec.Filter)
	}
	if spec, _ := ThemeByID(ThemeBlackWhite); spec.Filter != "hue=s=0" {
		t.Errorf("unexpected blackwhite filter: %q", spec.Filter)
	}
}

func TestTransitionCatalog(t *testing.T) {
	spec, ok := TransitionByID(TransitionCrossfade)
	if !ok {
		t.Fatal("crossfade missing from catalog")
	}
	if spec.Duration != 0.5 {
		t.Errorf("expected 0.5s crossfade, got %v", spec.Duration)
	}

	spec, ok = TransitionByID(TransitionNone)
	if !ok {
		t.Fatal("none missing from catalog")
	}
	if spec.Duration != 0 {
		t.Errorf("hard cut should have zero duration, got %v", spec.Duration)
	}

	if _, ok := TransitionByID("wipe"); ok {
		t.Error("unknown transition id should not resolve")
	}
}

func TestCatalogCopies(t *testing.T) {
	themes := Themes()
	themes[0].ID = "mutated"
	if themeCatalog[0].ID == "mutated" {
		t.Error("Themes() must return a copy, not the backing catalog")
	}

	transitions := Transitions()
	transitions[0].ID = "mutated"
	if transitionCatalog[0].ID == "mutated" {
		t.Error("Transitions() must return a copy, not the backing catalog")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"empty input", ErrEmptyInput, "empty_input"},
		{"wrapped empty input", errors.Join(errors.New("outer"), ErrEmptyInput), "empty_input"},
		{"unsupported media", &UnsupportedMediaError{Filename: "x.bin", Reason: "no video stream"}, "unsupported_media"},
		{"clip analysis", &ClipAnalysisError{SourceIndex: 2, Err: errors.New("corrupt frames")}, "clip_analysis"},
		{"insufficient content", &InsufficientContentError{UsableSeconds: 12, RequiredSeconds: 60}, "insufficient_content"},
		{"render", &RenderError{Stage: "concat", Err: errors.New("encoder died")}, "render_failed"},
		{"unknown", errors.New("boom"), "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ErrorCode(tc.err); got != tc.want {
				t.Errorf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestClipAnalysisErrorUnwrap(t *testing.T) {
	inner := errors.New("decode stalled")
	err := &ClipAnalysisError{ClipID: uuid.New(), SourceIndex: 1, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("ClipAnalysisError should unwrap to its cause")
	}

	var target *ClipAnalysisError
	wrapped := errors.Join(errors.New("run failed"), err)
	if !errors.As(wrapped, &target) {
		t.Error("errors.As should find ClipAnalysisError through wrapping")
	}
	if target.SourceIndex != 1 {
		t.Errorf("expected source index 1, got %d", target.SourceIndex)
	}
}

func TestInsufficientContentErrorMessage(t *testing.T) {
	err := &InsufficientContentError{UsableSeconds: 12, RequiredSeconds: 60}
	want := "insufficient content: 12.0s usable, 60.0s required"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
