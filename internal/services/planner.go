package services

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/models"
)

// planEpsilon is the tolerance on hitting the target duration. A plan
// stops filling once it is within this of the target.
const planEpsilon = 0.5

// PlannerService selects and orders keep segments into an edit plan.
type PlannerService struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func NewPlannerService(cfg *config.Config, logger zerolog.Logger) *PlannerService {
	return &PlannerService{
		cfg:    cfg,
		logger: logger,
	}
}

// BuildPlan runs the selection policy over all surviving clips' segments:
// rank keeps by score, greedily accept (trimming the overshooting tail),
// then interleave per the pacing strategy while preserving each clip's
// internal chronology. Fails with InsufficientContentError when the keep
// content can't make a viable reel.
func (s *PlannerService) BuildPlan(segments []models.Segment, theme models.ThemeSpec, transition models.TransitionSpec, targetSeconds float64, pacing PacingStrategy) (*models.EditPlan, error) {
	target := s.clampTarget(targetSeconds)

	var keeps []models.Segment
	var usable float64
	for _, seg := range segments {
		if seg.Class != models.SegmentKeep {
			continue
		}
		keeps = append(keeps, seg)
		usable += seg.Duration()
	}

	if usable < s.cfg.MinReelSeconds {
		return nil, &models.InsufficientContentError{
			UsableSeconds:   usable,
			RequiredSeconds: s.cfg.MinReelSeconds,
		}
	}

	chosen := selectSegments(keeps, target)
	ordered := pacing.Order(groupByClip(chosen))
	if len(ordered) == 0 {
		return nil, &models.InsufficientContentError{
			UsableSeconds:   usable,
			RequiredSeconds: s.cfg.MinReelSeconds,
		}
	}

	entries := make([]models.PlanEntry, len(ordered))
	var total float64
	for i, seg := range ordered {
		entries[i] = models.PlanEntry{Segment: seg}
		if i < len(ordered)-1 {
			entries[i].Transition = transition.ID
		} else {
			entries[i].Transition = models.TransitionNone
		}
		total += seg.Duration()
	}
	entries[0].FadeIn = true
	entries[len(entries)-1].FadeOut = true

	plan := &models.EditPlan{
		Entries:        entries,
		Theme:          theme.ID,
		Transition:     transition.ID,
		TargetDuration: target,
		TotalDuration:  total,
	}

	s.logger.Info().
		Int("candidates", len(keeps)).
		Int("entries", len(entries)).
		Float64("usable", usable).
		Float64("target", target).
		Float64("total", total).
		Str("pacing", pacing.Name()).
		Msg("edit plan built")

	return plan, nil
}

// clampTarget bounds the requested duration to the configured window.
func (s *PlannerService) clampTarget(target float64) float64 {
	if target <= 0 {
		target = s.cfg.DefaultTargetSeconds
	}
	if target < s.cfg.MinTargetSeconds {
		target = s.cfg.MinTargetSeconds
	}
	if target > s.cfg.MaxTargetSeconds {
		target = s.cfg.MaxTargetSeconds
	}
	return target
}

// selectSegments is the greedy fill: walk candidates in rank order,
// trim the tail of the one that would overshoot, stop once within
// planEpsilon of the target or out of candidates.
func selectSegments(keeps []models.Segment, target float64) []models.Segment {
	ranked := make([]models.Segment, len(keeps))
	copy(ranked, keeps)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].SourceIndex != ranked[j].SourceIndex {
			return ranked[i].SourceIndex < ranked[j].SourceIndex
		}
		return ranked[i].Start < ranked[j].Start
	})

	var chosen []models.Segment
	var total float64
	for _, seg := range ranked {
		remaining := target - total
		if remaining <= planEpsilon {
			break
		}
		if seg.Duration() > remaining {
			seg.End = seg.Start + remaining
		}
		chosen = append(chosen, seg)
		total += seg.Duration()
	}

	return chosen
}

// groupByClip buckets accepted segments per source clip, each bucket in
// chronological order, buckets in source order.
func groupByClip(segments []models.Segment) [][]models.Segment {
	buckets := make(map[int][]models.Segment)
	var indexes []int
	for _, seg := range segments {
		if _, ok := buckets[seg.SourceIndex]; !ok {
			indexes = append(indexes, seg.SourceIndex)
		}
		buckets[seg.SourceIndex] = append(buckets[seg.SourceIndex], seg)
	}

	sort.Ints(indexes)
	byClip := make([][]models.Segment, 0, len(indexes))
	for _, idx := range indexes {
		clip := buckets[idx]
		sort.SliceStable(clip, func(i, j int) bool {
			return clip[i].Start < clip[j].Start
		})
		byClip = append(byClip, clip)
	}

	return byClip
}
