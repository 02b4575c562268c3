package services

import (
	"fmt"
	"os"
	"strings"

	"github.com/bobarin/reelforge/internal/models"
)

// ---------------------------------------------------------------------------
// ASS Caption Generator
//
// Burns word-by-word highlighted captions in ASS (Advanced SubStation
// Alpha) format. Words are shown in small chunks (3-4 at a time) with
// the currently spoken word highlighted in a purple "pill" border.
//
// Transcripts are per source clip; caption timing is remapped onto the
// reel timeline entry by entry, so only words inside selected segments
// appear, at their position in the final cut.
// ---------------------------------------------------------------------------

const (
	// How many words to show at once.
	wordsPerChunk = 4

	// Font must exist in the render container; Noto Sans ships there.
	captionFontName = "Noto Sans"
	captionFontSize = 62 // scaled for the 1920-height canvas

	// ASS colors are in &HAABBGGRR format (hex, BGR not RGB).
	assColorWhite     = "&H00FFFFFF"
	assColorBlack     = "&H00000000"
	assColorPurple    = "&H00CC3299" // #9932CC in BGR
	assColorSemiBlack = "&H80000000" // 50% transparent black

	outlineNormal    = 3
	outlineHighlight = 8

	// Distance from the bottom edge on a 1920-height canvas.
	captionMarginV = 220
)

// WriteReelCaptions maps each clip's transcript onto the reel timeline
// and writes the ASS caption file. Returns the number of words placed;
// zero words writes no file.
func WriteReelCaptions(plan *models.EditPlan, wordsByClip map[int][]models.WordTimestamp, outputPath string) (int, error) {
	words := reelWords(plan, wordsByClip)
	if len(words) == 0 {
		return 0, nil
	}

	content := buildASS(words)
	if err := os.WriteFile(outputPath, []byte(content), 0644); err != nil {
		return 0, fmt.Errorf("failed to write caption file: %w", err)
	}

	return len(words), nil
}

// reelWords projects source-clip word times into reel time. A word
// belongs to the entry whose source span contains its start; its reel
// position is the entry's start plus the word's offset into the span.
func reelWords(plan *models.EditPlan, wordsByClip map[int][]models.WordTimestamp) []models.WordTimestamp {
	var out []models.WordTimestamp
	var elapsed float64

	for _, entry := range plan.Entries {
		seg := entry.Segment
		for _, w := range wordsByClip[seg.SourceIndex] {
			if w.Start < seg.Start || w.Start >= seg.End {
				continue
			}
			start := elapsed + (w.Start - seg.Start)
			end := elapsed + (w.End - seg.Start)
			if limit := elapsed + seg.Duration(); end > limit {
				end = limit
			}
			out = append(out, models.WordTimestamp{Word: w.Word, Start: start, End: end})
		}
		elapsed += seg.Duration()
	}

	return out
}

// buildASS renders the caption file: header, one style, and a dialogue
// line per word with its chunk context.
func buildASS(words []models.WordTimestamp) string {
	chunks := chunkWords(words, wordsPerChunk)

	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	sb.WriteString("PlayResX: 1080\n")
	sb.WriteString("PlayResY: 1920\n")
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n")
	sb.WriteString("\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	sb.WriteString(fmt.Sprintf(
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,1,0,1,%d,0,2,40,40,%d,1\n",
		captionFontName, captionFontSize,
		assColorWhite,     // PrimaryColour (text)
		assColorWhite,     // SecondaryColour
		assColorBlack,     // OutlineColour
		assColorSemiBlack, // BackColour (shadow)
		outlineNormal,
		captionMarginV,
	))
	sb.WriteString("\n")

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	for _, chunk := range chunks {
		for wordIdx, word := range chunk {
			startTime := word.Start
			var endTime float64
			if wordIdx < len(chunk)-1 {
				// End when the next word starts so the highlight moves
				// without a gap.
				endTime = chunk[wordIdx+1].Start
			} else {
				endTime = word.End
			}

			sb.WriteString(fmt.Sprintf(
				"Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
				formatASSTime(startTime),
				formatASSTime(endTime),
				buildHighlightedChunkText(chunk, wordIdx),
			))
		}
	}

	return sb.String()
}

// chunkWords groups words into display chunks, breaking early at
// sentence-ending punctuation so chunks read naturally.
func chunkWords(words []models.WordTimestamp, chunkSize int) [][]models.WordTimestamp {
	var chunks [][]models.WordTimestamp
	var current []models.WordTimestamp

	for _, word := range words {
		current = append(current, word)

		isSentenceEnd := strings.ContainsAny(word.Word, ".!?")
		if len(current) >= chunkSize || (isSentenceEnd && len(current) >= 2) {
			chunks = append(chunks, current)
			current = nil
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

// buildHighlightedChunkText builds the ASS text for a chunk with the
// word at activeIdx wrapped in a purple pill border.
//
// Output example: "THE {\3c&H00CC3299\bord8}HISTORY{\r} OF COFFEE"
func buildHighlightedChunkText(chunk []models.WordTimestamp, activeIdx int) string {
	var parts []string

	for i, word := range chunk {
		cleanWord := strings.ToUpper(strings.TrimSpace(word.Word))
		if cleanWord == "" {
			continue
		}

		if i == activeIdx {
			// \3c sets outline color, \bord sets outline thickness, \r
			// resets to the default style after this word.
			parts = append(parts, fmt.Sprintf(
				"{\\3c%s\\bord%d}%s{\\r}",
				assColorPurple, outlineHighlight, cleanWord,
			))
		} else {
			parts = append(parts, cleanWord)
		}
	}

	return strings.Join(parts, " ")
}

// formatASSTime converts seconds to ASS timestamp format: H:MM:SS.CC.
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	centiseconds := int((seconds - float64(int(seconds))) * 100)

	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}
