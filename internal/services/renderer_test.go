package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/models"
)

func rendererForTest() *RenderService {
	cfg := &config.Config{
		RenderPreset:  "medium",
		RenderCRF:     23,
		RenderThreads: 4,
		MusicVolume:   0.2,
	}
	return NewRenderService(nil, cfg, zerolog.Nop())
}

func renderEntry(sourceIndex int, start, end float64) models.PlanEntry {
	return models.PlanEntry{Segment: models.Segment{
		SourceIndex: sourceIndex,
		Start:       start,
		End:         end,
		Class:       models.SegmentKeep,
	}}
}

// renderInputs builds inputs with one local clip per source index, all
// with audio.
func renderInputs(transition string, entries ...models.PlanEntry) RenderInputs {
	plan := &models.EditPlan{
		Theme:      models.ThemeNone,
		Transition: transition,
		Entries:    entries,
	}

	seen := make(map[int]bool)
	var clips []*models.Clip
	for _, e := range entries {
		idx := e.Segment.SourceIndex
		if seen[idx] {
			continue
		}
		seen[idx] = true
		clips = append(clips, &models.Clip{
			SourceIndex: idx,
			LocalPath:   fmt.Sprintf("/work/source_%02d.mp4", idx),
			HasAudio:    true,
		})
	}

	return RenderInputs{
		Plan:       plan,
		Clips:      clips,
		WorkDir:    "/work",
		OutputPath: "/work/final.mp4",
	}
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func hasArgPair(args []string, flag, value string) bool {
	for i, a := range args {
		if a == flag && i+1 < len(args) && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestBuildStepsConcatPipeline(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionNone,
		renderEntry(0, 2, 6),
		renderEntry(1, 0, 3),
	)

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, "cut", steps[0].Stage)
	assert.Equal(t, "cut", steps[1].Stage)
	assert.Equal(t, "assemble", steps[2].Stage)

	assert.Equal(t, "/work/entry_000.mp4", steps[0].Output)
	assert.Equal(t, "/work/entry_001.mp4", steps[1].Output)
	assert.Equal(t, "/work/final.mp4", steps[2].Output)

	// Cuts seek into the source and keep its audio.
	assert.True(t, hasArgPair(steps[0].Args, "-ss", "2.000"))
	assert.True(t, hasArgPair(steps[0].Args, "-t", "4.000"))
	assert.True(t, hasArgPair(steps[0].Args, "-i", "/work/source_00.mp4"))
	assert.True(t, hasArgPair(steps[0].Args, "-map", "0:a"))

	// Uniform intermediates concat without re-encoding.
	assert.True(t, hasArgPair(steps[2].Args, "-f", "concat"))
	assert.True(t, hasArgPair(steps[2].Args, "-c", "copy"))
	assert.False(t, hasArgPair(steps[2].Args, "-c:v", "libx264"))
}

func TestBuildStepsNormalizesEveryEntry(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionNone, renderEntry(0, 0, 5))

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)

	vf := argValue(t, steps[0].Args, "-vf")
	assert.Contains(t, vf, "crop=w=min(iw\\,ih*1080/1920):h=min(ih\\,iw*1920/1080)")
	assert.Contains(t, vf, "scale=1080:1920")
	assert.Contains(t, vf, "setsar=1")
	assert.Contains(t, vf, "fps=24")
	assert.Contains(t, vf, "format=yuv420p")
}

func TestBuildStepsThemeFilterAndFades(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionNone, renderEntry(0, 0, 4))
	in.Plan.Theme = models.ThemeBlackWhite
	in.Plan.Entries[0].FadeIn = true
	in.Plan.Entries[0].FadeOut = true

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)

	vf := argValue(t, steps[0].Args, "-vf")
	assert.Contains(t, vf, "hue=s=0")
	assert.Contains(t, vf, "fade=t=in:st=0:d=0.500")
	assert.Contains(t, vf, "fade=t=out:st=3.500:d=0.500")
}

func TestBuildStepsFadeTransitionFadesEveryCut(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionFade,
		renderEntry(0, 0, 4),
		renderEntry(1, 0, 4),
	)

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)

	// The fade style fades at every cut point, not only the reel edges.
	for _, step := range steps[:2] {
		vf := argValue(t, step.Args, "-vf")
		assert.Contains(t, vf, "fade=t=in")
		assert.Contains(t, vf, "fade=t=out")
	}
	// Fade still assembles through concat.
	assert.True(t, hasArgPair(steps[2].Args, "-f", "concat"))
}

func TestBuildStepsSilentClipGetsAudioTrack(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionNone, renderEntry(0, 0, 3))
	in.Clips[0].HasAudio = false

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)

	cut := steps[0].Args
	assert.True(t, hasArgPair(cut, "-f", "lavfi"))
	assert.True(t, hasArgPair(cut, "-i", "anullsrc=channel_layout=stereo:sample_rate=48000"))
	// Audio maps to the generated track, not the source.
	assert.True(t, hasArgPair(cut, "-map", "1:a"))
	assert.False(t, hasArgPair(cut, "-map", "0:a"))
}

func TestBuildStepsCrossfadeGraph(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionCrossfade,
		renderEntry(0, 0, 4),
		renderEntry(1, 0, 6),
	)

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assemble := steps[2]
	assert.Equal(t, "assemble", assemble.Stage)

	graph := argValue(t, assemble.Args, "-filter_complex")
	assert.Equal(t,
		"[0:v][1:v]xfade=transition=fade:duration=0.500:offset=3.500[v1];[0:a][1:a]acrossfade=d=0.500[a1]",
		graph)

	assert.True(t, hasArgPair(assemble.Args, "-map", "[v1]"))
	assert.True(t, hasArgPair(assemble.Args, "-map", "[a1]"))
	assert.True(t, hasArgPair(assemble.Args, "-c:v", "libx264"))
}

func TestBuildStepsCrossfadeChainsOffsets(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionCrossfade,
		renderEntry(0, 0, 4),
		renderEntry(1, 0, 6),
		renderEntry(2, 0, 2),
	)

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)

	graph := argValue(t, steps[3].Args, "-filter_complex")
	// Second boundary sits at 4 + 6 - 2*0.5 overlap.
	assert.Contains(t, graph, "offset=3.500")
	assert.Contains(t, graph, "offset=9.000")
	assert.True(t, hasArgPair(steps[3].Args, "-map", "[v2]"))
	assert.True(t, hasArgPair(steps[3].Args, "-map", "[a2]"))
}

func TestBuildStepsCrossfadeSingleEntryUsesConcat(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionCrossfade, renderEntry(0, 0, 5))

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	// Nothing to blend with one entry.
	assert.True(t, hasArgPair(steps[1].Args, "-f", "concat"))
}

func TestCrossfadeOverlapCappedByShortNeighbor(t *testing.T) {
	assert.InDelta(t, 0.5, crossfadeOverlap(4, 6), 1e-9)
	assert.InDelta(t, 0.3, crossfadeOverlap(0.6, 6), 1e-9)
	assert.InDelta(t, 0.2, crossfadeOverlap(6, 0.4), 1e-9)
}

func TestBuildStepsCaptionsForceReencode(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionNone,
		renderEntry(0, 0, 4),
		renderEntry(1, 0, 4),
	)
	in.CaptionsPath = "/work/captions.ass"

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)

	assemble := steps[2].Args
	vf := argValue(t, assemble, "-vf")
	assert.Contains(t, vf, "ass='/work/captions.ass'")
	assert.True(t, hasArgPair(assemble, "-c:v", "libx264"))
	assert.True(t, hasArgPair(assemble, "-c:a", "copy"))
	assert.False(t, hasArgPair(assemble, "-c", "copy"))
}

func TestBuildStepsCrossfadeBurnsCaptionsLast(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionCrossfade,
		renderEntry(0, 0, 4),
		renderEntry(1, 0, 6),
	)
	in.CaptionsPath = "/work/captions.ass"

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)

	assemble := steps[2].Args
	graph := argValue(t, assemble, "-filter_complex")
	assert.True(t, strings.HasSuffix(graph, "[vout]"), "captions should end the graph: %s", graph)
	assert.Contains(t, graph, "[v1]ass='/work/captions.ass'[vout]")
	assert.True(t, hasArgPair(assemble, "-map", "[vout]"))
	assert.True(t, hasArgPair(assemble, "-map", "[a1]"))
}

func TestBuildStepsMusicMixesAfterAssembly(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionNone,
		renderEntry(0, 0, 4),
		renderEntry(1, 0, 4),
	)
	in.Music = &models.AudioTrack{LocalPath: "/work/music.mp3", Duration: 30}

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)
	require.Len(t, steps, 4)

	// Assembly targets an intermediate so the mix can produce the final.
	assert.Equal(t, "/work/assembled.mp4", steps[2].Output)

	music := steps[3]
	assert.Equal(t, "music", music.Stage)
	assert.Equal(t, "/work/final.mp4", music.Output)
	assert.True(t, hasArgPair(music.Args, "-i", "/work/music.mp3"))
	assert.True(t, hasArgPair(music.Args, "-stream_loop", "-1"))
	assert.True(t, hasArgPair(music.Args, "-c:v", "copy"))
	assert.Contains(t, music.Args, "-shortest")

	graph := argValue(t, music.Args, "-filter_complex")
	assert.Contains(t, graph, "volume=0.20[music]")
	assert.Contains(t, graph, "amix=inputs=2:duration=first")
}

func TestBuildStepsThumbnailTiming(t *testing.T) {
	svc := rendererForTest()

	in := renderInputs(models.TransitionNone,
		renderEntry(0, 0, 4),
		renderEntry(1, 0, 6),
	)
	in.ThumbnailPath = "/work/thumbnail.jpg"

	steps, err := svc.BuildSteps(in)
	require.NoError(t, err)

	thumb := steps[len(steps)-1]
	assert.Equal(t, "thumbnail", thumb.Stage)
	assert.Equal(t, "/work/thumbnail.jpg", thumb.Output)
	assert.True(t, hasArgPair(thumb.Args, "-ss", "1.000"))
	assert.True(t, hasArgPair(thumb.Args, "-i", "/work/final.mp4"))
	assert.True(t, hasArgPair(thumb.Args, "-frames:v", "1"))

	// A reel shorter than two seconds grabs its midpoint instead.
	short := renderInputs(models.TransitionNone, renderEntry(0, 0, 1.2))
	short.ThumbnailPath = "/work/thumbnail.jpg"

	steps, err = svc.BuildSteps(short)
	require.NoError(t, err)
	assert.True(t, hasArgPair(steps[len(steps)-1].Args, "-ss", "0.600"))
}

func TestBuildStepsDeterministic(t *testing.T) {
	svc := rendererForTest()
	in := renderInputs(models.TransitionCrossfade,
		renderEntry(0, 0, 4),
		renderEntry(1, 2, 8),
	)
	in.CaptionsPath = "/work/captions.ass"
	in.Music = &models.AudioTrack{LocalPath: "/work/music.mp3", Duration: 30}
	in.ThumbnailPath = "/work/thumbnail.jpg"

	first, err := svc.BuildSteps(in)
	require.NoError(t, err)
	second, err := svc.BuildSteps(in)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestBuildStepsValidation(t *testing.T) {
	svc := rendererForTest()

	_, err := svc.BuildSteps(RenderInputs{})
	assert.ErrorContains(t, err, "no entries")

	in := renderInputs(models.TransitionNone, renderEntry(0, 0, 4))
	in.WorkDir = ""
	_, err = svc.BuildSteps(in)
	assert.ErrorContains(t, err, "required")

	in = renderInputs(models.TransitionNone, renderEntry(0, 0, 4))
	in.Plan.Theme = "sepia"
	_, err = svc.BuildSteps(in)
	assert.ErrorContains(t, err, "unknown theme")

	in = renderInputs(models.TransitionNone, renderEntry(0, 0, 4))
	in.Clips = nil
	_, err = svc.BuildSteps(in)
	assert.ErrorContains(t, err, "no local file")
}
