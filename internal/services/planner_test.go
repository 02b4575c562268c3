package services

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/models"
)

func plannerForTest() *PlannerService {
	cfg := &config.Config{
		MinTargetSeconds:     15,
		MaxTargetSeconds:     60,
		DefaultTargetSeconds: 30,
		MinReelSeconds:       15,
	}
	return NewPlannerService(cfg, zerolog.Nop())
}

func keepSeg(sourceIndex int, start, end, score float64) models.Segment {
	return models.Segment{
		SourceIndex: sourceIndex,
		Start:       start,
		End:         end,
		Score:       score,
		Class:       models.SegmentKeep,
	}
}

func TestBuildPlanInsufficientContent(t *testing.T) {
	planner := plannerForTest()

	// Four clips with 3 usable seconds each cannot make a 60s reel.
	var segments []models.Segment
	for i := 0; i < 4; i++ {
		segments = append(segments, keepSeg(i, 0, 3, 0.8))
	}

	theme, _ := models.ThemeByID(models.ThemeNone)
	transition, _ := models.TransitionByID(models.TransitionNone)

	_, err := planner.BuildPlan(segments, theme, transition, 60, RoundRobinPacing{})
	require.Error(t, err)

	var insufficient *models.InsufficientContentError
	require.True(t, errors.As(err, &insufficient))
	assert.InDelta(t, 12.0, insufficient.UsableSeconds, 1e-9)
	assert.InDelta(t, 15.0, insufficient.RequiredSeconds, 1e-9)
}

func TestBuildPlanIgnoresDiscards(t *testing.T) {
	planner := plannerForTest()

	segments := []models.Segment{
		keepSeg(0, 0, 10, 0.9),
		{SourceIndex: 0, Start: 10, End: 100, Score: 0.0, Class: models.SegmentDiscardDeadtime},
		{SourceIndex: 0, Start: 100, End: 200, Score: 0.1, Class: models.SegmentDiscardMistake},
	}

	theme, _ := models.ThemeByID(models.ThemeNone)
	transition, _ := models.TransitionByID(models.TransitionNone)

	// Only 10 keep seconds exist, so the plan must fail even though the
	// discard spans would cover the target many times over.
	_, err := planner.BuildPlan(segments, theme, transition, 30, RoundRobinPacing{})

	var insufficient *models.InsufficientContentError
	require.True(t, errors.As(err, &insufficient))
	assert.InDelta(t, 10.0, insufficient.UsableSeconds, 1e-9)
}

func TestBuildPlanTrimsOvershootingTail(t *testing.T) {
	planner := plannerForTest()

	segments := []models.Segment{
		keepSeg(0, 0, 12, 0.9),
		keepSeg(0, 20, 32, 0.8),
		keepSeg(0, 40, 52, 0.7),
	}

	theme, _ := models.ThemeByID(models.ThemeCinematic)
	transition, _ := models.TransitionByID(models.TransitionNone)

	plan, err := planner.BuildPlan(segments, theme, transition, 30, SequentialPacing{})
	require.NoError(t, err)

	assert.InDelta(t, 30.0, plan.TotalDuration, 1e-9)
	require.Len(t, plan.Entries, 3)

	// The lowest-ranked accepted segment is trimmed from its tail, never
	// its head.
	last := plan.Entries[2].Segment
	assert.InDelta(t, 40.0, last.Start, 1e-9)
	assert.InDelta(t, 46.0, last.End, 1e-9)
}

func TestBuildPlanStopsWithinEpsilon(t *testing.T) {
	planner := plannerForTest()

	segments := []models.Segment{
		keepSeg(0, 0, 20, 0.9),
		keepSeg(1, 0, 9.8, 0.8),
		keepSeg(2, 0, 5, 0.7),
	}

	theme, _ := models.ThemeByID(models.ThemeNone)
	transition, _ := models.TransitionByID(models.TransitionNone)

	plan, err := planner.BuildPlan(segments, theme, transition, 30, SequentialPacing{})
	require.NoError(t, err)

	// 20 + 9.8 = 29.8 is within 0.5 of the target; the third segment
	// must not be pulled in for the last 0.2s.
	require.Len(t, plan.Entries, 2)
	assert.InDelta(t, 29.8, plan.TotalDuration, 1e-9)
}

func TestBuildPlanShorterReelWhenContentRunsOut(t *testing.T) {
	planner := plannerForTest()

	segments := []models.Segment{
		keepSeg(0, 0, 10, 0.9),
		keepSeg(1, 0, 10, 0.8),
	}

	theme, _ := models.ThemeByID(models.ThemeNone)
	transition, _ := models.TransitionByID(models.TransitionNone)

	// 20 usable seconds clears the floor but cannot reach 60; the plan
	// comes out shorter rather than failing.
	plan, err := planner.BuildPlan(segments, theme, transition, 60, RoundRobinPacing{})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, plan.TotalDuration, 1e-9)
}

func TestBuildPlanPreservesClipChronology(t *testing.T) {
	planner := plannerForTest()

	// Later spans score higher, so rank order inverts chronology within
	// the clip. The plan must still play them in source order.
	segments := []models.Segment{
		keepSeg(0, 0, 8, 0.5),
		keepSeg(0, 10, 18, 0.9),
		keepSeg(0, 20, 28, 0.7),
	}

	theme, _ := models.ThemeByID(models.ThemeNone)
	transition, _ := models.TransitionByID(models.TransitionNone)

	plan, err := planner.BuildPlan(segments, theme, transition, 30, SequentialPacing{})
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)

	var lastStart float64 = -1
	for _, entry := range plan.Entries {
		require.Greater(t, entry.Segment.Start, lastStart)
		lastStart = entry.Segment.Start
	}
}

func TestBuildPlanRoundRobinInterleaves(t *testing.T) {
	planner := plannerForTest()

	segments := []models.Segment{
		keepSeg(0, 0, 6, 0.9),
		keepSeg(0, 10, 16, 0.9),
		keepSeg(1, 0, 6, 0.9),
		keepSeg(1, 10, 16, 0.9),
	}

	theme, _ := models.ThemeByID(models.ThemeNone)
	transition, _ := models.TransitionByID(models.TransitionNone)

	plan, err := planner.BuildPlan(segments, theme, transition, 24, RoundRobinPacing{})
	require.NoError(t, err)
	require.Len(t, plan.Entries, 4)

	order := []int{
		plan.Entries[0].Segment.SourceIndex,
		plan.Entries[1].Segment.SourceIndex,
		plan.Entries[2].Segment.SourceIndex,
		plan.Entries[3].Segment.SourceIndex,
	}
	assert.Equal(t, []int{0, 1, 0, 1}, order)
}

func TestBuildPlanTransitionsAndFades(t *testing.T) {
	planner := plannerForTest()

	segments := []models.Segment{
		keepSeg(0, 0, 10, 0.9),
		keepSeg(1, 0, 10, 0.8),
		keepSeg(2, 0, 10, 0.7),
	}

	theme, _ := models.ThemeByID(models.ThemeVintage)
	transition, _ := models.TransitionByID(models.TransitionCrossfade)

	plan, err := planner.BuildPlan(segments, theme, transition, 30, SequentialPacing{})
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)

	assert.Equal(t, models.ThemeVintage, plan.Theme)
	assert.Equal(t, models.TransitionCrossfade, plan.Transition)

	assert.Equal(t, models.TransitionCrossfade, plan.Entries[0].Transition)
	assert.Equal(t, models.TransitionCrossfade, plan.Entries[1].Transition)
	assert.Equal(t, models.TransitionNone, plan.Entries[2].Transition)

	assert.True(t, plan.Entries[0].FadeIn)
	assert.False(t, plan.Entries[0].FadeOut)
	assert.True(t, plan.Entries[2].FadeOut)
}

func TestBuildPlanClampsTarget(t *testing.T) {
	planner := plannerForTest()

	segments := []models.Segment{
		keepSeg(0, 0, 90, 0.9),
	}

	theme, _ := models.ThemeByID(models.ThemeNone)
	transition, _ := models.TransitionByID(models.TransitionNone)

	// Zero falls back to the default target.
	plan, err := planner.BuildPlan(segments, theme, transition, 0, SequentialPacing{})
	require.NoError(t, err)
	assert.InDelta(t, 30.0, plan.TargetDuration, 1e-9)

	// Requests beyond the window are pulled back inside it.
	plan, err = planner.BuildPlan(segments, theme, transition, 300, SequentialPacing{})
	require.NoError(t, err)
	assert.InDelta(t, 60.0, plan.TargetDuration, 1e-9)
	assert.InDelta(t, 60.0, plan.TotalDuration, 1e-9)
}
