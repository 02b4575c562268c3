package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/bobarin/reelforge/internal/models"
)

// GenerateEDL renders the edit plan as a CMX3600 edit decision list so
// the cut can be reopened in an NLE. Events reference source clips by
// filename; record times accumulate along the reel timeline.
func GenerateEDL(plan *models.EditPlan, clips []*models.Clip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	byIndex := make(map[int]*models.Clip, len(clips))
	for _, c := range clips {
		byIndex[c.SourceIndex] = c
	}

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordOffsetMs := 0
	for i, entry := range plan.Entries {
		seg := entry.Segment
		startMs := int(math.Round(seg.Start * 1000))
		endMs := int(math.Round(seg.End * 1000))
		durationMs := endMs - startMs

		srcIn := msToTimecode(startMs, fps)
		srcOut := msToTimecode(endMs, fps)
		recIn := msToTimecode(recordOffsetMs, fps)
		recOut := msToTimecode(recordOffsetMs+durationMs, fps)

		clipName := fmt.Sprintf("clip_%02d", seg.SourceIndex)
		if c, ok := byIndex[seg.SourceIndex]; ok && c.Filename != "" {
			clipName = c.Filename
		}

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clipName),
		)

		recordOffsetMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// msToTimecode converts milliseconds to HH:MM:SS:FF at the given frame
// rate.
func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
