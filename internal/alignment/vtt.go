package alignment

import (
	"fmt"
	"io"
	"math"
)

// WriteVTT writes a WebVTT caption track with one cue per group of
// wordsPerCue words.
func WriteVTT(w io.Writer, words []Word, wordsPerCue int) error {
	if wordsPerCue <= 0 {
		wordsPerCue = 4
	}
	if _, err := fmt.Fprint(w, "WEBVTT\n\n"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	cue := 1
	for i := 0; i < len(words); i += wordsPerCue {
		end := min(i+wordsPerCue, len(words))
		group := words[i:end]

		text := group[0].Text
		for _, word := range group[1:] {
			text += " " + word.Text
		}

		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			cue, formatVTTTime(group[0].StartTime), formatVTTTime(group[len(group)-1].EndTime), text)
		if err != nil {
			return fmt.Errorf("failed to write cue %d: %w", cue, err)
		}
		cue++
	}
	return nil
}

// formatVTTTime formats seconds as HH:MM:SS.mmm.
func formatVTTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
