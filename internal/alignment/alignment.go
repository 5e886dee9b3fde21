// Package alignment turns character-level speech timing into word timing.
package alignment

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrMalformed is returned by Validate when the payload's parallel arrays
// are missing or disagree in length.
var ErrMalformed = errors.New("malformed alignment payload")

// Characters is the character list of an alignment payload. On the wire it
// is either a JSON array of one-character strings (ElevenLabs) or a single
// string; both decode to one entry per character.
type Characters []string

// UnmarshalJSON accepts either a string or an array of strings.
func (c *Characters) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		out := make(Characters, 0, len(s))
		for _, r := range s {
			out = append(out, string(r))
		}
		*c = out
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	*c = arr
	return nil
}

// Payload is the character-level alignment returned by speech synthesis.
// All three slices are index-aligned.
type Payload struct {
	Characters Characters `json:"characters"`
	StartTimes []float64  `json:"character_start_times_seconds"`
	EndTimes   []float64  `json:"character_end_times_seconds"`
}

// Word is a run of non-whitespace characters with its narration timing.
type Word struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Validate reports whether the payload can be processed.
func (p *Payload) Validate() error {
	if p == nil || p.Characters == nil || p.StartTimes == nil || p.EndTimes == nil {
		return fmt.Errorf("%w: missing field", ErrMalformed)
	}
	if len(p.Characters) != len(p.StartTimes) || len(p.Characters) != len(p.EndTimes) {
		return fmt.Errorf("%w: lengths differ (characters=%d, starts=%d, ends=%d)",
			ErrMalformed, len(p.Characters), len(p.StartTimes), len(p.EndTimes))
	}
	return nil
}

// Process derives the ordered word list. Malformed payloads yield an empty
// list; words whose start is after their end are dropped.
func Process(p *Payload, logger *slog.Logger) []Word {
	if logger == nil {
		logger = slog.Default()
	}
	if err := p.Validate(); err != nil {
		logger.Warn("ignoring alignment", "error", err)
		return []Word{}
	}

	words := make([]Word, 0, len(p.Characters)/5+1)
	var (
		current []byte
		first   int
	)
	flush := func(last int) {
		if len(current) == 0 {
			return
		}
		w := Word{Text: string(current), StartTime: p.StartTimes[first], EndTime: p.EndTimes[last]}
		current = current[:0]
		if w.StartTime > w.EndTime {
			logger.Warn("skipping word with inverted timing",
				"word", w.Text, "start", w.StartTime, "end", w.EndTime)
			return
		}
		words = append(words, w)
	}

	for i, ch := range p.Characters {
		if isSpace(ch) {
			flush(i - 1)
			continue
		}
		if len(current) == 0 {
			first = i
		}
		current = append(current, ch...)
	}
	flush(len(p.Characters) - 1)

	return words
}

func isSpace(ch string) bool {
	return ch == " " || ch == "\t" || ch == "\n"
}
