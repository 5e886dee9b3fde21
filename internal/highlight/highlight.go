// Package highlight tracks the word under the playhead and the group of
// words shown around it.
package highlight

import "github.com/jackzampolin/audiodoc/internal/alignment"

// DefaultWindowSize is the number of words shown at once.
const DefaultWindowSize = 4

// View is what the overlay shows for one position.
type View struct {
	ActiveIndex int              `json:"active_index"`
	WindowStart int              `json:"window_start"`
	Window      []alignment.Word `json:"window,omitempty"`
}

// ActiveIndex returns the index of the word whose [start, end) contains t,
// or -1.
func ActiveIndex(words []alignment.Word, t float64) int {
	for i, w := range words {
		if w.StartTime <= t && t < w.EndTime {
			return i
		}
	}
	return -1
}

// Tracker keeps the displayed window stable between words of the same group.
type Tracker struct {
	size int
	view View
}

// NewTracker creates a tracker. A size below 1 uses DefaultWindowSize.
func NewTracker(size int) *Tracker {
	if size < 1 {
		size = DefaultWindowSize
	}
	return &Tracker{size: size, view: View{ActiveIndex: -1, WindowStart: -1}}
}

// Update resolves the view for the segment time. While playing through a
// gap between words the previous window stays up; when stopped with no
// active word it is cleared.
func (t *Tracker) Update(segmentTime float64, words []alignment.Word, playing bool) View {
	idx := ActiveIndex(words, segmentTime)
	t.view.ActiveIndex = idx

	switch {
	case idx >= 0:
		start := (idx / t.size) * t.size
		if start != t.view.WindowStart || t.view.Window == nil {
			end := min(start+t.size, len(words))
			t.view.WindowStart = start
			t.view.Window = words[start:end:end]
		}
	case !playing:
		t.view.WindowStart = -1
		t.view.Window = nil
	}
	return t.view
}

// Reset clears the view for a new result.
func (t *Tracker) Reset() {
	t.view = View{ActiveIndex: -1, WindowStart: -1}
}

// View returns the last resolved view.
func (t *Tracker) View() View { return t.view }
