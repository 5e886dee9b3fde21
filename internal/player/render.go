package player

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/jackzampolin/audiodoc/internal/playback"
)

// Renderer draws the overlay line for each published state, skipping
// deliveries older than the last one drawn.
type Renderer struct {
	w     io.Writer
	width int

	mu   sync.Mutex
	last uint64
}

// NewRenderer creates a renderer with a progress bar of width cells.
func NewRenderer(w io.Writer, width int) *Renderer {
	if width <= 0 {
		width = 30
	}
	return &Renderer{w: w, width: width}
}

// Render draws st unless a newer state has already been drawn.
func (r *Renderer) Render(st playback.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.Version != 0 && st.Version <= r.last {
		return
	}
	r.last = st.Version
	fmt.Fprintf(r.w, "\r\033[K%s", FormatState(st, r.width))
}

// FormatState renders one overlay line: play state, progress, time and the
// word window with the active word bracketed.
func FormatState(st playback.State, width int) string {
	icon := "||"
	switch {
	case st.Phase == playback.Idle:
		icon = ".."
	case st.IsPlaying:
		icon = ">"
	}

	filled := 0
	if st.SegmentDuration > 0 {
		filled = int(st.SegmentTime / st.SegmentDuration * float64(width))
	}
	filled = min(max(filled, 0), width)
	bar := strings.Repeat("=", filled) + strings.Repeat("-", width-filled)

	var words []string
	for i, w := range st.Window {
		if st.WindowStart+i == st.ActiveWordIndex {
			words = append(words, "["+w.Text+"]")
			continue
		}
		words = append(words, w.Text)
	}

	line := fmt.Sprintf("%s [%s] %s/%s x%s  %s",
		icon, bar, clock(st.SegmentTime), clock(st.SegmentDuration),
		strconv.FormatFloat(st.Rate, 'f', -1, 64), strings.Join(words, " "))
	if st.Error != "" {
		line += "  (" + st.Error + ")"
	}
	return line
}

func clock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
