// Package player is the user-facing surface over the playback coordinator.
package player

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jackzampolin/audiodoc/internal/playback"
)

// ErrControlsDisabled is returned by intents issued before the segment plan
// is ready.
var ErrControlsDisabled = errors.New("controls disabled until media is ready")

// SpeedOptions are the selectable playback rates.
var SpeedOptions = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}

// Display is the host capability behind the fullscreen toggle. The host
// reports actual changes through the surface's FullscreenChanged.
type Display interface {
	RequestFullscreen() error
	ExitFullscreen() error
}

// Coordinator is the part of the playback coordinator the surface drives.
type Coordinator interface {
	Toggle() error
	Seek(fraction float64) error
	SetSpeed(rate float64) error
	State() playback.State
	Subscribe(fn func(playback.State)) func()
}

// Surface maps user input to coordinator intents. Volume is applied to the
// elements directly.
type Surface struct {
	coord   Coordinator
	media   playback.Media
	display Display

	mu              sync.Mutex
	fullscreen      bool
	narrationVolume float64
	musicVolume     float64
}

// NewSurface creates a surface. display may be nil when the host has no
// fullscreen capability.
func NewSurface(coord Coordinator, media playback.Media, display Display) *Surface {
	return &Surface{
		coord:           coord,
		media:           media,
		display:         display,
		narrationVolume: 1,
		musicVolume:     1,
	}
}

// ControlsEnabled reports whether the segment plan is ready.
func (s *Surface) ControlsEnabled() bool {
	return s.coord.State().Phase != playback.Idle
}

// TogglePlay plays or pauses.
func (s *Surface) TogglePlay() error {
	if !s.ControlsEnabled() {
		return ErrControlsDisabled
	}
	return s.coord.Toggle()
}

// ClickSeek seeks to the point clicked on a progress bar of the given width.
func (s *Surface) ClickSeek(x, width float64) error {
	if !s.ControlsEnabled() {
		return ErrControlsDisabled
	}
	if width <= 0 {
		return fmt.Errorf("invalid progress width %v", width)
	}
	return s.coord.Seek(math.Min(1, math.Max(0, x/width)))
}

// SetNarrationVolume sets the narration gain in [0, 1].
func (s *Surface) SetNarrationVolume(v float64) {
	v = clampUnit(v)
	s.mu.Lock()
	s.narrationVolume = v
	s.mu.Unlock()
	if s.media.Narration != nil {
		s.media.Narration.SetVolume(v)
	}
}

// SetMusicVolume sets the music gain in [0, 1]. Without music it only
// records the value.
func (s *Surface) SetMusicVolume(v float64) {
	v = clampUnit(v)
	s.mu.Lock()
	s.musicVolume = v
	s.mu.Unlock()
	if s.media.Music != nil {
		s.media.Music.SetVolume(v)
	}
}

// SetSpeed applies a playback rate to narration and video.
func (s *Surface) SetSpeed(rate float64) error {
	return s.coord.SetSpeed(rate)
}

// NextSpeed cycles through SpeedOptions.
func (s *Surface) NextSpeed() (float64, error) {
	current := s.coord.State().Rate
	next := SpeedOptions[0]
	for i, opt := range SpeedOptions {
		if opt == current {
			next = SpeedOptions[(i+1)%len(SpeedOptions)]
			break
		}
	}
	return next, s.coord.SetSpeed(next)
}

// ToggleFullscreen asks the host to enter or leave fullscreen. The tracked
// flag changes only when the host confirms through FullscreenChanged.
func (s *Surface) ToggleFullscreen() error {
	if s.display == nil {
		return errors.New("fullscreen not supported")
	}
	if s.Fullscreen() {
		return s.display.ExitFullscreen()
	}
	return s.display.RequestFullscreen()
}

// FullscreenChanged is the host's change notification.
func (s *Surface) FullscreenChanged(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullscreen = on
}

// Fullscreen reports the last state confirmed by the host.
func (s *Surface) Fullscreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullscreen
}

// Volumes returns the narration and music gains.
func (s *Surface) Volumes() (narration, music float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.narrationVolume, s.musicVolume
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
