package services

import (
	"github.com/bobarin/reelforge/internal/models"
)

// PacingStrategy orders accepted segments across clips. Input is one
// chronologically-sorted segment list per surviving clip, in source
// order; output is the final reel order. Implementations must never
// reorder two segments from the same clip.
type PacingStrategy interface {
	Name() string
	Order(byClip [][]models.Segment) []models.Segment
}

const (
	PacingRoundRobin = "round_robin"
	PacingSequential = "sequential"
)

// PacingStrategyFor maps a configured strategy name to an
// implementation. Unknown names fall back to round-robin; config
// validation rejects them before this point.
func PacingStrategyFor(name string) PacingStrategy {
	switch name {
	case PacingSequential:
		return SequentialPacing{}
	default:
		return RoundRobinPacing{}
	}
}

// RoundRobinPacing cycles across clips, taking each clip's next segment
// in turn. Long unbroken runs from a single source read as raw footage;
// alternating sources keeps the reel moving.
type RoundRobinPacing struct{}

func (RoundRobinPacing) Name() string { return PacingRoundRobin }

func (RoundRobinPacing) Order(byClip [][]models.Segment) []models.Segment {
	var ordered []models.Segment
	cursors := make([]int, len(byClip))

	for {
		advanced := false
		for i, clip := range byClip {
			if cursors[i] < len(clip) {
				ordered = append(ordered, clip[cursors[i]])
				cursors[i]++
				advanced = true
			}
		}
		if !advanced {
			return ordered
		}
	}
}

// SequentialPacing plays each clip's segments to completion before
// moving to the next clip.
type SequentialPacing struct{}

func (SequentialPacing) Name() string { return PacingSequential }

func (SequentialPacing) Order(byClip [][]models.Segment) []models.Segment {
	var ordered []models.Segment
	for _, clip := range byClip {
		ordered = append(ordered, clip...)
	}
	return ordered
}
