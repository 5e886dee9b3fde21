// Package playback keeps narration, background video and background music
// locked to one segment-relative clock.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jackzampolin/audiodoc/internal/alignment"
	"github.com/jackzampolin/audiodoc/internal/highlight"
	"github.com/jackzampolin/audiodoc/internal/segment"
)

// DefaultThrottle is the minimum wall time between two ticks.
const DefaultThrottle = 150 * time.Millisecond

var (
	// ErrNotReady is returned by intents that need a segment plan.
	ErrNotReady = errors.New("playback not ready")
	// ErrInvalidRate is returned by SetSpeed for non-positive rates.
	ErrInvalidRate = errors.New("invalid playback rate")
	// ErrClosed is returned by intents after Close.
	ErrClosed = errors.New("coordinator closed")
)

// Config configures a Coordinator.
type Config struct {
	Logger     *slog.Logger
	Planner    *segment.Planner
	Throttle   time.Duration
	WindowSize int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result is one generated narration and its word timing.
type Result struct {
	ID    string
	Words []alignment.Word
}

// Coordinator owns the playback state and the three media elements.
// Intents and events may arrive from any goroutine; each runs to completion
// under the coordinator's lock, and subscribers are notified after it is
// released.
type Coordinator struct {
	logger   *slog.Logger
	planner  *segment.Planner
	throttle time.Duration
	now      func() time.Time

	mu        sync.Mutex
	result    Result
	media     Media
	gate      *segment.Gate
	plan      segment.Plan
	planned   bool
	tracker   *highlight.Tracker
	state     State
	published State
	lastTick  time.Time
	attempt   uint64
	closed    bool

	subMu     sync.Mutex
	subs      map[int]func(State)
	nextSubID int
}

// New creates an idle coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Planner == nil {
		cfg.Planner = segment.NewPlanner(nil)
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		logger:   cfg.Logger,
		planner:  cfg.Planner,
		throttle: cfg.Throttle,
		now:      cfg.Now,
		gate:     segment.NewGate(false),
		tracker:  highlight.NewTracker(cfg.WindowSize),
		state:    State{Phase: Idle, ActiveWordIndex: -1, WindowStart: -1, Rate: 1},
		subs:     make(map[int]func(State)),
	}
}

// Load replaces the current result. The state resets to idle, the duration
// gate is re-armed and the previous narration is released. Durations the
// elements already know are reported immediately.
func (c *Coordinator) Load(res Result, media Media) error {
	if media.Narration == nil || media.Video == nil {
		return fmt.Errorf("narration and video elements are required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.media
	prev.each(func(e Element) { e.Pause() })

	c.result = res
	c.media = media
	c.gate.Reset(media.Music != nil)
	c.plan = segment.Plan{}
	c.planned = false
	c.tracker.Reset()
	c.lastTick = time.Time{}
	c.attempt++
	rate := c.state.Rate
	c.state = State{Version: c.state.Version, Phase: Idle, ActiveWordIndex: -1, WindowStart: -1, Rate: rate}
	media.Narration.SetRate(rate)
	media.Video.SetRate(rate)

	for _, src := range []segment.Source{segment.Narration, segment.Video, segment.Music} {
		if e := media.get(src); e != nil {
			c.reportDurationLocked(src, e.Duration())
		}
	}
	st, changed := c.commitLocked()
	c.mu.Unlock()

	if prev.Narration != nil && prev.Narration != media.Narration {
		release(prev.Narration, c.logger)
	}
	c.publish(st, changed)
	return nil
}

// HandleEvent applies an element notification.
func (c *Coordinator) HandleEvent(ev Event) {
	c.mu.Lock()
	if c.closed || (ev.From != nil && ev.From != c.media.get(ev.Source)) {
		c.mu.Unlock()
		return
	}

	switch ev.Kind {
	case EventLoadedMetadata:
		d := ev.Duration
		if d == 0 && ev.From != nil {
			d = ev.From.Duration()
		}
		c.reportDurationLocked(ev.Source, d)
	case EventTimeUpdate:
		if ev.Source == segment.Narration || ev.Source == segment.Video {
			c.tickLocked(false)
		}
	case EventEnded:
		c.handleEndedLocked(ev.Source)
	case EventError:
		if c.state.Phase == Playing {
			c.failLocked(fmt.Sprintf("%s output failed: %v", ev.Source, ev.Err), ev.Err)
		}
	}

	st, changed := c.commitLocked()
	c.mu.Unlock()
	c.publish(st, changed)
}

// Play starts all sources from the current segment time. Starting from
// Ended rewinds first. A source that rejects the start moves playback to
// Paused and the error is recorded in the state.
func (c *Coordinator) Play() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.planned {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.state.Phase == Playing {
		c.mu.Unlock()
		return nil
	}
	if c.state.Phase == Ended {
		c.rewindLocked()
		c.state.SegmentTime = 0
	}

	c.state.Phase = Playing
	c.state.IsPlaying = true
	c.state.Error = ""
	c.lastTick = time.Time{}
	c.attempt++
	attempt := c.attempt

	var pending []<-chan error
	c.media.each(func(e Element) { pending = append(pending, e.Play()) })
	c.updateHighlightLocked()

	st, changed := c.commitLocked()
	c.mu.Unlock()

	go c.awaitStart(attempt, pending)
	c.publish(st, changed)
	return nil
}

// Pause stops all sources and freezes the segment time.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	if c.state.Phase != Playing {
		c.mu.Unlock()
		return
	}
	c.pauseLocked()
	c.state.SegmentTime = c.narrationTimeLocked()
	c.updateHighlightLocked()
	st, changed := c.commitLocked()
	c.mu.Unlock()
	c.publish(st, changed)
}

// Toggle plays when stopped and pauses when playing.
func (c *Coordinator) Toggle() error {
	c.mu.Lock()
	playing := c.state.Phase == Playing
	c.mu.Unlock()
	if playing {
		c.Pause()
		return nil
	}
	return c.Play()
}

// Seek moves every source to the given fraction of the segment and
// resolves the active word right away. It does not start or stop playback.
func (c *Coordinator) Seek(fraction float64) error {
	if math.IsNaN(fraction) {
		return fmt.Errorf("invalid seek fraction %v", fraction)
	}
	fraction = math.Min(1, math.Max(0, fraction))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.planned {
		c.mu.Unlock()
		return ErrNotReady
	}

	target := fraction * c.plan.SegmentDuration
	c.media.Narration.Seek(target)
	c.media.Video.Seek(clampTo(c.plan.VideoStart+target, c.media.Video.Duration()))
	if c.media.Music != nil {
		c.media.Music.Seek(musicPosition(c.plan, target, c.media.Music.Duration()))
	}

	c.state.SegmentTime = target
	if c.state.Phase == Ready || c.state.Phase == Ended {
		c.state.Phase = Paused
	}
	c.updateHighlightLocked()

	st, changed := c.commitLocked()
	c.mu.Unlock()
	c.publish(st, changed)
	return nil
}

// SetSpeed sets the playback rate of narration and video. Music keeps its
// natural rate.
func (c *Coordinator) SetSpeed(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.Rate = rate
	if c.media.Narration != nil {
		c.media.Narration.SetRate(rate)
		c.media.Video.SetRate(rate)
	}
	st, changed := c.commitLocked()
	c.mu.Unlock()
	c.publish(st, changed)
	return nil
}

// State returns a snapshot of the playback state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Plan returns the segment plan once computed.
func (c *Coordinator) Plan() (segment.Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan, c.planned
}

// Words returns the word list of the current result.
func (c *Coordinator) Words() []alignment.Word {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.Words
}

// Subscribe registers fn to receive every state change. The returned
// function removes it.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Close pauses everything and releases the narration. Later intents
// return ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	media := c.media
	if c.state.Phase == Playing {
		c.pauseLocked()
		c.state.SegmentTime = c.narrationTimeLocked()
	} else {
		c.attempt++
		media.each(func(e Element) { e.Pause() })
	}
	st, changed := c.commitLocked()
	c.mu.Unlock()

	if media.Narration != nil {
		release(media.Narration, c.logger)
	}
	c.publish(st, changed)
	return nil
}

func (c *Coordinator) reportDurationLocked(src segment.Source, d float64) {
	durations, ok := c.gate.Report(src, d)
	if !ok {
		return
	}
	plan, err := c.planner.Plan(durations)
	if err != nil {
		c.logger.Warn("failed to plan segment", "result", c.result.ID, "error", err)
		return
	}

	c.plan = plan
	c.planned = true
	c.rewindLocked()
	c.state.Phase = Ready
	c.state.IsPlaying = false
	c.state.SegmentTime = 0
	c.state.SegmentDuration = plan.SegmentDuration
	c.logger.Debug("segment planned",
		"result", c.result.ID,
		"video_start", plan.VideoStart,
		"music_start", plan.MusicStart,
		"duration", plan.SegmentDuration)
}

// tickLocked recomputes the segment time, loops the background layers and
// detects the end of the segment. Ticks closer together than the throttle
// interval are dropped unless force is set.
func (c *Coordinator) tickLocked(force bool) {
	if c.state.Phase != Playing {
		return
	}
	now := c.now()
	if !force && !c.lastTick.IsZero() && now.Sub(c.lastTick) < c.throttle {
		return
	}
	c.lastTick = now

	if c.media.Narration.Position() >= c.plan.SegmentDuration {
		c.endLocked()
		return
	}
	c.state.SegmentTime = c.narrationTimeLocked()

	if c.media.Video.Position() >= c.plan.VideoEnd() {
		c.media.Video.Seek(c.plan.VideoStart)
	}
	if c.media.Music != nil && c.media.Music.Position() >= c.plan.MusicEnd() {
		c.media.Music.Seek(c.plan.MusicStart)
	}
	c.updateHighlightLocked()
}

func (c *Coordinator) handleEndedLocked(src segment.Source) {
	if c.state.Phase != Playing {
		return
	}
	switch src {
	case segment.Narration:
		c.endLocked()
	case segment.Video:
		// Background shorter than its window: loop and keep going.
		c.media.Video.Seek(c.plan.VideoStart)
		c.awaitBackground(c.media.Video.Play())
	case segment.Music:
		if c.media.Music != nil {
			c.media.Music.Seek(c.plan.MusicStart)
			c.awaitBackground(c.media.Music.Play())
		}
	}
}

// endLocked stops everything and rewinds all sources to their segment start.
func (c *Coordinator) endLocked() {
	c.pauseLocked()
	c.rewindLocked()
	c.state.Phase = Ended
	c.state.SegmentTime = c.plan.SegmentDuration
	c.state.ActiveWordIndex = -1
	c.state.WindowStart = -1
	c.state.Window = nil
	c.tracker.Reset()
	c.logger.Debug("segment ended", "result", c.result.ID)
}

func (c *Coordinator) pauseLocked() {
	c.media.each(func(e Element) { e.Pause() })
	c.state.Phase = Paused
	c.state.IsPlaying = false
	c.attempt++
}

func (c *Coordinator) rewindLocked() {
	c.media.Narration.Seek(0)
	c.media.Video.Seek(c.plan.VideoStart)
	if c.media.Music != nil {
		c.media.Music.Seek(c.plan.MusicStart)
	}
}

func (c *Coordinator) narrationTimeLocked() float64 {
	return math.Min(c.plan.SegmentDuration, math.Max(0, c.media.Narration.Position()))
}

func (c *Coordinator) updateHighlightLocked() {
	view := c.tracker.Update(c.state.SegmentTime, c.result.Words, c.state.IsPlaying)
	c.state.ActiveWordIndex = view.ActiveIndex
	c.state.WindowStart = view.WindowStart
	c.state.Window = view.Window
}

// commitLocked bumps the version when the state differs from the last
// published one.
func (c *Coordinator) commitLocked() (State, bool) {
	c.state.IsPlaying = c.state.Phase == Playing
	if c.published.Version != 0 && c.published.sameAs(c.state) {
		return c.state, false
	}
	c.state.Version++
	c.published = c.state
	return c.state, true
}

func (c *Coordinator) publish(st State, changed bool) {
	if !changed {
		return
	}
	c.subMu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// awaitStart waits for every start request of one play attempt. The first
// rejection pauses playback if that attempt is still current.
func (c *Coordinator) awaitStart(attempt uint64, pending []<-chan error) {
	for _, ch := range pending {
		if ch == nil {
			continue
		}
		if err := <-ch; err != nil {
			c.rejectPlay(attempt, err)
			return
		}
	}
}

func (c *Coordinator) awaitBackground(ch <-chan error) {
	attempt := c.attempt
	go c.awaitStart(attempt, []<-chan error{ch})
}

func (c *Coordinator) rejectPlay(attempt uint64, err error) {
	c.mu.Lock()
	if attempt != c.attempt || c.state.Phase != Playing {
		c.mu.Unlock()
		return
	}
	c.failLocked(fmt.Sprintf("playback failed to start: %v", err), err)
	st, changed := c.commitLocked()
	c.mu.Unlock()
	c.publish(st, changed)
}

// failLocked pauses every source and records msg as the state error.
func (c *Coordinator) failLocked(msg string, err error) {
	c.pauseLocked()
	c.state.SegmentTime = c.narrationTimeLocked()
	c.updateHighlightLocked()
	c.state.Error = msg
	c.logger.Warn("playback stopped", "result", c.result.ID, "error", err)
}

func clampTo(pos, duration float64) float64 {
	if duration > 0 && pos > duration {
		return duration
	}
	return pos
}

// musicPosition maps a segment time onto the music track, wrapping inside
// the track when it is shorter than the segment.
func musicPosition(plan segment.Plan, target, duration float64) float64 {
	pos := plan.MusicStart + target
	if duration <= 0 || pos < duration {
		return pos
	}
	span := duration - plan.MusicStart
	if span <= 0 {
		return plan.MusicStart
	}
	return plan.MusicStart + math.Mod(target, span)
}

func release(e Element, logger *slog.Logger) {
	closer, ok := e.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to release narration", "error", err)
	}
}
