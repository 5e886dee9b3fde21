package player

import (
	"fmt"
	"io"
	"sync"
)

// TerminalDisplay switches the terminal's alternate screen in place of a
// fullscreen mode.
type TerminalDisplay struct {
	w        io.Writer
	onChange func(bool)

	mu sync.Mutex
	on bool
}

// NewTerminalDisplay creates a display writing to w. onChange receives
// every confirmed change.
func NewTerminalDisplay(w io.Writer, onChange func(bool)) *TerminalDisplay {
	return &TerminalDisplay{w: w, onChange: onChange}
}

// RequestFullscreen enters the alternate screen.
func (d *TerminalDisplay) RequestFullscreen() error {
	return d.set(true, "\033[?1049h\033[H")
}

// ExitFullscreen leaves the alternate screen.
func (d *TerminalDisplay) ExitFullscreen() error {
	return d.set(false, "\033[?1049l")
}

func (d *TerminalDisplay) set(on bool, seq string) error {
	d.mu.Lock()
	if d.on == on {
		d.mu.Unlock()
		return nil
	}
	if _, err := fmt.Fprint(d.w, seq); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to switch screen: %w", err)
	}
	d.on = on
	d.mu.Unlock()

	if d.onChange != nil {
		d.onChange(on)
	}
	return nil
}
