package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/jackzampolin/audiodoc/internal/playback"
	"github.com/jackzampolin/audiodoc/internal/segment"
)

// DefaultInterval is how often a running element reports its position.
const DefaultInterval = 50 * time.Millisecond

// ErrClosed is returned by Play on a closed element.
var ErrClosed = errors.New("media element closed")

// Output renders an element audibly. Start begins output at a position;
// Stop silences it.
type Output interface {
	Start(position, rate, volume float64) error
	Stop()
}

// ElementConfig configures an Element.
type ElementConfig struct {
	Source   segment.Source
	Duration float64
	// Sink receives the element's events from its Run loop.
	Sink     func(playback.Event)
	Interval time.Duration
	Now      func() time.Time
	// Output is optional; without it the element is silent.
	Output Output
	// Resource is released when the element is closed.
	Resource io.Closer
}

// Element is a clock-driven media element. Its position advances with wall
// time while playing, scaled by the rate.
type Element struct {
	source   segment.Source
	sink     func(playback.Event)
	interval time.Duration
	now      func() time.Time
	output   Output
	resource io.Closer

	mu       sync.Mutex
	duration float64
	base     float64
	anchor   time.Time
	playing  bool
	rate     float64
	volume   float64
	closed   bool
	// failed holds an output restart error until Run reports it.
	failed error
}

var _ playback.Element = (*Element)(nil)

// NewElement creates a paused element at position 0.
func NewElement(cfg ElementConfig) *Element {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sink == nil {
		cfg.Sink = func(playback.Event) {}
	}
	return &Element{
		source:   cfg.Source,
		sink:     cfg.Sink,
		interval: cfg.Interval,
		now:      cfg.Now,
		output:   cfg.Output,
		resource: cfg.Resource,
		duration: cfg.Duration,
		rate:     1,
		volume:   1,
	}
}

// Play starts the clock and the output, if any.
func (e *Element) Play() <-chan error {
	result := make(chan error, 1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		result <- ErrClosed
		return result
	}
	if e.playing {
		result <- nil
		return result
	}
	pos := e.positionLocked()
	if e.duration > 0 && pos >= e.duration {
		pos = 0
	}
	if e.output != nil {
		if err := e.output.Start(pos, e.rate, e.volume); err != nil {
			result <- err
			return result
		}
	}
	e.base = pos
	e.anchor = e.now()
	e.playing = true
	result <- nil
	return result
}

// Pause freezes the position.
func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseLocked()
}

// Seek moves the position, restarting output when playing.
func (e *Element) Seek(position float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	position = math.Max(0, position)
	if e.duration > 0 {
		position = math.Min(position, e.duration)
	}
	e.base = position
	e.anchor = e.now()
	e.restartLocked()
}

// Position returns the current position in seconds.
func (e *Element) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

// Duration returns the natural length in seconds.
func (e *Element) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// SetRate changes the playback rate.
func (e *Element) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.base = e.positionLocked()
	e.anchor = e.now()
	e.rate = rate
	e.restartLocked()
}

// SetVolume sets the gain in [0, 1].
func (e *Element) SetVolume(volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = math.Min(1, math.Max(0, volume))
	e.base = e.positionLocked()
	e.anchor = e.now()
	e.restartLocked()
}

// SetDuration records a duration learned after creation, such as from a
// probe. The caller reports it to the coordinator.
func (e *Element) SetDuration(d float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.duration = d
}

// Volume returns the current gain.
func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Playing reports whether the clock is running.
func (e *Element) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Run reports metadata, then position updates until ctx is done. The end of
// the media pauses the element and raises Ended.
func (e *Element) Run(ctx context.Context) {
	e.emit(playback.EventLoadedMetadata, e.Duration())

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			if failed := e.failed; failed != nil {
				e.failed = nil
				e.mu.Unlock()
				e.sink(playback.Event{Source: e.source, Kind: playback.EventError, Err: failed, From: e})
				continue
			}
			if !e.playing || e.closed {
				e.mu.Unlock()
				continue
			}
			kind := playback.EventTimeUpdate
			if e.duration > 0 && e.positionLocked() >= e.duration {
				e.pauseLocked()
				e.base = e.duration
				kind = playback.EventEnded
			}
			e.mu.Unlock()
			e.emit(kind, 0)
		}
	}
}

// Close stops output and releases the backing resource.
func (e *Element) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.pauseLocked()
	resource := e.resource
	e.mu.Unlock()

	if resource != nil {
		return resource.Close()
	}
	return nil
}

func (e *Element) emit(kind playback.EventKind, duration float64) {
	e.sink(playback.Event{Source: e.source, Kind: kind, Duration: duration, From: e})
}

func (e *Element) positionLocked() float64 {
	if !e.playing {
		return e.base
	}
	pos := e.base + e.now().Sub(e.anchor).Seconds()*e.rate
	if e.duration > 0 {
		pos = math.Min(pos, e.duration)
	}
	return pos
}

func (e *Element) pauseLocked() {
	if !e.playing {
		return
	}
	e.base = e.positionLocked()
	e.playing = false
	if e.output != nil {
		e.output.Stop()
	}
}

// restartLocked restarts audible output from the current base after a
// position, rate or volume change. A failed restart stops the clock and is
// reported as an Error event on the next tick.
func (e *Element) restartLocked() {
	if !e.playing || e.output == nil {
		return
	}
	e.output.Stop()
	if err := e.output.Start(e.base, e.rate, e.volume); err != nil {
		e.playing = false
		e.failed = fmt.Errorf("restart output: %w", err)
	}
}
