package playback

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/audiodoc/internal/alignment"
	"github.com/jackzampolin/audiodoc/internal/segment"
)

type fakeElement struct {
	mu       sync.Mutex
	pos      float64
	dur      float64
	rate     float64
	volume   float64
	playing  bool
	playErr  error
	seeks    []float64
	closed   bool
	playHits int
}

func newFake(dur float64) *fakeElement {
	return &fakeElement{dur: dur, rate: 1, volume: 1}
}

func (f *fakeElement) Play() <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playHits++
	ch := make(chan error, 1)
	f.playing = f.playErr == nil
	ch <- f.playErr
	return ch
}

func (f *fakeElement) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
}

func (f *fakeElement) Seek(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = p
	f.seeks = append(f.seeks, p)
}

func (f *fakeElement) Position() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakeElement) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dur
}

func (f *fakeElement) SetRate(r float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = r
}

func (f *fakeElement) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

func (f *fakeElement) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeElement) isPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeElement) setPos(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = p
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	c         *Coordinator
	clock     *fakeClock
	narration *fakeElement
	video     *fakeElement
	music     *fakeElement
}

func testWords() []alignment.Word {
	return []alignment.Word{
		{Text: "one", StartTime: 0, EndTime: 1},
		{Text: "two", StartTime: 1, EndTime: 2},
		{Text: "three", StartTime: 2, EndTime: 3},
		{Text: "four", StartTime: 3, EndTime: 4},
		{Text: "five", StartTime: 4, EndTime: 5},
		{Text: "six", StartTime: 6, EndTime: 7},
	}
}

// newFixture loads a 30s narration over a 120s video and 60s music track.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:     &fakeClock{t: time.Unix(1000, 0)},
		narration: newFake(30),
		video:     newFake(120),
		music:     newFake(60),
	}
	f.c = New(Config{
		Planner: segment.NewPlanner(rand.New(rand.NewPCG(7, 7))),
		Now:     f.clock.Now,
	})
	err := f.c.Load(Result{ID: "r1", Words: testWords()},
		Media{Narration: f.narration, Video: f.video, Music: f.music})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return f
}

func (f *fixture) tick(pos float64) {
	f.clock.Advance(200 * time.Millisecond)
	f.narration.setPos(pos)
	f.c.HandleEvent(Event{Source: segment.Narration, Kind: EventTimeUpdate, From: f.narration})
}

func waitFor(t *testing.T, c *Coordinator, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := c.State(); cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met, state = %+v", c.State())
	return State{}
}

func TestCoordinatorReady(t *testing.T) {
	f := newFixture(t)

	st := f.c.State()
	if st.Phase != Ready {
		t.Fatalf("phase = %v, want ready", st.Phase)
	}
	plan, ok := f.c.Plan()
	if !ok {
		t.Fatal("expected plan")
	}
	if plan.VideoStart < 0 || plan.VideoStart > 90 {
		t.Errorf("video start %v out of range", plan.VideoStart)
	}
	if plan.MusicStart < 0 || plan.MusicStart > 30 {
		t.Errorf("music start %v out of range", plan.MusicStart)
	}
	if f.video.Position() != plan.VideoStart || f.music.Position() != plan.MusicStart || f.narration.Position() != 0 {
		t.Errorf("sources not at segment start: n=%v v=%v m=%v",
			f.narration.Position(), f.video.Position(), f.music.Position())
	}
}

func TestCoordinatorWaitsForDurations(t *testing.T) {
	narration, video, music := newFake(0), newFake(0), newFake(0)
	c := New(Config{})
	if err := c.Load(Result{ID: "r"}, Media{Narration: narration, Video: video, Music: music}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := c.Play(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Play() error = %v, want ErrNotReady", err)
	}
	if err := c.Seek(0.5); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Seek() error = %v, want ErrNotReady", err)
	}

	c.HandleEvent(Event{Source: segment.Music, Kind: EventLoadedMetadata, Duration: 50, From: music})
	c.HandleEvent(Event{Source: segment.Narration, Kind: EventLoadedMetadata, Duration: 20, From: narration})
	if c.State().Phase != Idle {
		t.Fatal("planned before video duration was known")
	}
	video.dur = 90
	c.HandleEvent(Event{Source: segment.Video, Kind: EventLoadedMetadata, From: video})
	if c.State().Phase != Ready {
		t.Fatalf("phase = %v, want ready", c.State().Phase)
	}

	first, _ := c.Plan()
	c.HandleEvent(Event{Source: segment.Video, Kind: EventLoadedMetadata, Duration: 500, From: video})
	second, _ := c.Plan()
	if first != second {
		t.Errorf("plan changed after freeze: %+v -> %+v", first, second)
	}
}

func TestCoordinatorPlayTickEnd(t *testing.T) {
	f := newFixture(t)
	plan, _ := f.c.Plan()

	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if !f.narration.isPlaying() || !f.video.isPlaying() || !f.music.isPlaying() {
		t.Fatal("not all sources started")
	}

	f.tick(2.5)
	st := f.c.State()
	if st.SegmentTime != 2.5 || st.ActiveWordIndex != 2 {
		t.Errorf("after tick: %+v", st)
	}
	if st.WindowStart != 0 || len(st.Window) != 4 {
		t.Errorf("window = %d/%d", st.WindowStart, len(st.Window))
	}

	f.tick(30.1)
	st = f.c.State()
	if st.Phase != Ended || st.IsPlaying {
		t.Fatalf("phase = %v playing=%v, want ended", st.Phase, st.IsPlaying)
	}
	if st.ActiveWordIndex != -1 || st.Window != nil {
		t.Errorf("highlight not cleared: %+v", st)
	}
	if st.SegmentTime != plan.SegmentDuration {
		t.Errorf("segment time = %v, want %v", st.SegmentTime, plan.SegmentDuration)
	}
	if f.narration.isPlaying() || f.video.isPlaying() || f.music.isPlaying() {
		t.Error("sources still playing after end")
	}
	if f.narration.Position() != 0 || f.video.Position() != plan.VideoStart || f.music.Position() != plan.MusicStart {
		t.Errorf("sources not rewound: n=%v v=%v m=%v",
			f.narration.Position(), f.video.Position(), f.music.Position())
	}

	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() after end error = %v", err)
	}
	if st := f.c.State(); st.Phase != Playing || st.SegmentTime != 0 {
		t.Errorf("replay state = %+v", st)
	}
}

func TestCoordinatorNarrationEndedEvent(t *testing.T) {
	f := newFixture(t)
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	f.c.HandleEvent(Event{Source: segment.Narration, Kind: EventEnded, From: f.narration})
	if st := f.c.State(); st.Phase != Ended || st.ActiveWordIndex != -1 {
		t.Errorf("state = %+v, want ended", st)
	}
}

func TestCoordinatorThrottle(t *testing.T) {
	f := newFixture(t)
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	f.tick(1.5)
	f.narration.setPos(2.5)
	f.clock.Advance(50 * time.Millisecond)
	f.c.HandleEvent(Event{Source: segment.Narration, Kind: EventTimeUpdate, From: f.narration})
	if st := f.c.State(); st.SegmentTime != 1.5 {
		t.Errorf("throttled tick applied: segment time = %v", st.SegmentTime)
	}

	f.clock.Advance(150 * time.Millisecond)
	f.c.HandleEvent(Event{Source: segment.Video, Kind: EventTimeUpdate, From: f.video})
	if st := f.c.State(); st.SegmentTime != 2.5 {
		t.Errorf("segment time = %v, want 2.5", st.SegmentTime)
	}
}

func TestCoordinatorLoopsBackground(t *testing.T) {
	f := newFixture(t)
	plan, _ := f.c.Plan()
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	f.video.setPos(plan.VideoEnd() + 0.1)
	f.music.setPos(plan.MusicEnd() + 0.1)
	f.tick(10)
	if f.video.Position() != plan.VideoStart {
		t.Errorf("video at %v, want loop to %v", f.video.Position(), plan.VideoStart)
	}
	if f.music.Position() != plan.MusicStart {
		t.Errorf("music at %v, want loop to %v", f.music.Position(), plan.MusicStart)
	}
	if st := f.c.State(); st.Phase != Playing {
		t.Errorf("phase = %v, want playing", st.Phase)
	}

	f.c.HandleEvent(Event{Source: segment.Music, Kind: EventEnded, From: f.music})
	if f.music.Position() != plan.MusicStart || !f.music.isPlaying() {
		t.Errorf("music not restarted after end")
	}
}

func TestCoordinatorPauseAndSeek(t *testing.T) {
	f := newFixture(t)
	plan, _ := f.c.Plan()
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	f.tick(3.5)
	f.c.Pause()

	st := f.c.State()
	if st.Phase != Paused || st.IsPlaying || st.SegmentTime != 3.5 {
		t.Fatalf("paused state = %+v", st)
	}
	if st.ActiveWordIndex != 3 {
		t.Errorf("active word while paused = %d, want 3", st.ActiveWordIndex)
	}

	if err := f.c.Seek(0.5); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	st = f.c.State()
	if st.SegmentTime != 15 || st.IsPlaying {
		t.Errorf("after seek: %+v", st)
	}
	if f.narration.Position() != 15 || f.video.Position() != plan.VideoStart+15 || f.music.Position() != plan.MusicStart+15 {
		t.Errorf("seek targets: n=%v v=%v m=%v", f.narration.Position(), f.video.Position(), f.music.Position())
	}
	if st.ActiveWordIndex != -1 || st.Window != nil {
		t.Errorf("expected no active word past the text, got %+v", st)
	}

	if err := f.c.Seek(0.5 / 30); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	a := f.c.State().ActiveWordIndex
	if err := f.c.Seek(0.5 / 30); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if b := f.c.State().ActiveWordIndex; a != b || a != 0 {
		t.Errorf("repeated seek active = %d then %d, want 0", a, b)
	}
}

func TestCoordinatorSeekWhilePlaying(t *testing.T) {
	f := newFixture(t)
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := f.c.Seek(0.1); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	st := f.c.State()
	if !st.IsPlaying || st.Phase != Playing {
		t.Errorf("seek changed play state: %+v", st)
	}
	if st.ActiveWordIndex != 3 {
		t.Errorf("active = %d, want 3", st.ActiveWordIndex)
	}
}

func TestCoordinatorSeekClampsShortSources(t *testing.T) {
	narration, video, music := newFake(30), newFake(10), newFake(8)
	c := New(Config{})
	if err := c.Load(Result{ID: "r"}, Media{Narration: narration, Video: video, Music: music}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := c.Seek(0.5); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if video.Position() != 10 {
		t.Errorf("video seek = %v, want clamp to 10", video.Position())
	}
	if music.Position() != 7 {
		t.Errorf("music seek = %v, want wrap to 7", music.Position())
	}
}

func TestCoordinatorPlayRejected(t *testing.T) {
	f := newFixture(t)
	f.video.playErr = errors.New("autoplay blocked")

	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	st := waitFor(t, f.c, func(s State) bool { return s.Phase == Paused })
	if st.IsPlaying || st.Error == "" {
		t.Errorf("rejected state = %+v", st)
	}
	if f.narration.isPlaying() || f.music.isPlaying() {
		t.Error("sources left playing after rejection")
	}

	f.video.playErr = nil
	if err := f.c.Play(); err != nil {
		t.Fatalf("retry Play() error = %v", err)
	}
	if st := f.c.State(); st.Phase != Playing || st.Error != "" {
		t.Errorf("retry state = %+v", st)
	}
}

func TestCoordinatorSpeed(t *testing.T) {
	f := newFixture(t)
	if err := f.c.SetSpeed(1.5); err != nil {
		t.Fatalf("SetSpeed() error = %v", err)
	}
	if f.narration.rate != 1.5 || f.video.rate != 1.5 {
		t.Errorf("rates n=%v v=%v, want 1.5", f.narration.rate, f.video.rate)
	}
	if f.music.rate != 1 {
		t.Errorf("music rate = %v, want 1", f.music.rate)
	}
	if err := f.c.SetSpeed(0); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("SetSpeed(0) error = %v", err)
	}
}

func TestCoordinatorSubscribe(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var got []State
	unsubscribe := f.c.Subscribe(func(s State) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	f.tick(0.5)
	f.tick(0.6)
	f.tick(0.6)

	mu.Lock()
	n := len(got)
	for i := 1; i < n; i++ {
		if got[i].Version <= got[i-1].Version {
			t.Errorf("versions not increasing: %d then %d", got[i-1].Version, got[i].Version)
		}
	}
	mu.Unlock()
	if n != 3 {
		t.Errorf("expected 3 publications (play, two ticks), got %d", n)
	}

	unsubscribe()
	f.c.Pause()
	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Errorf("received state after unsubscribe")
	}
}

func TestCoordinatorLoadReleasesNarration(t *testing.T) {
	f := newFixture(t)
	next := newFake(10)
	if err := f.c.Load(Result{ID: "r2"}, Media{Narration: next, Video: f.video}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !f.narration.closed {
		t.Error("previous narration not released")
	}
	if st := f.c.State(); st.Phase != Ready || st.SegmentTime != 0 || st.ActiveWordIndex != -1 {
		t.Errorf("state after reload = %+v", st)
	}

	f.c.HandleEvent(Event{Source: segment.Narration, Kind: EventEnded, From: f.narration})
	if st := f.c.State(); st.Phase != Ready {
		t.Errorf("stale event changed phase to %v", st.Phase)
	}

	if err := f.c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !next.closed {
		t.Error("narration not released on close")
	}
}

func TestCoordinatorIntentsAfterClose(t *testing.T) {
	f := newFixture(t)
	if err := f.c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	before := f.c.State()
	seeks := len(f.video.seeks)

	if err := f.c.Play(); !errors.Is(err, ErrClosed) {
		t.Errorf("Play() = %v, want ErrClosed", err)
	}
	if err := f.c.Seek(0.5); !errors.Is(err, ErrClosed) {
		t.Errorf("Seek() = %v, want ErrClosed", err)
	}
	if err := f.c.SetSpeed(1.5); !errors.Is(err, ErrClosed) {
		t.Errorf("SetSpeed() = %v, want ErrClosed", err)
	}
	if err := f.c.Toggle(); !errors.Is(err, ErrClosed) {
		t.Errorf("Toggle() = %v, want ErrClosed", err)
	}

	if f.narration.playHits != 0 || f.narration.isPlaying() {
		t.Errorf("narration started after close: hits=%d", f.narration.playHits)
	}
	if len(f.video.seeks) != seeks {
		t.Errorf("video seeked after close: %v", f.video.seeks)
	}
	if st := f.c.State(); st.IsPlaying || st.Version != before.Version || st.Rate != before.Rate {
		t.Errorf("state changed after close: %+v", st)
	}
	if !f.narration.closed {
		t.Error("narration not released")
	}
}

func TestCoordinatorOutputError(t *testing.T) {
	f := newFixture(t)
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	f.tick(2)

	f.narration.Pause()
	f.c.HandleEvent(Event{Source: segment.Narration, Kind: EventError, Err: errors.New("device gone"), From: f.narration})

	st := f.c.State()
	if st.Phase != Paused || st.IsPlaying {
		t.Fatalf("phase = %v playing = %v, want paused", st.Phase, st.IsPlaying)
	}
	if st.Error == "" {
		t.Error("expected state error")
	}
	if st.SegmentTime != 2 {
		t.Errorf("segment time = %v, want 2", st.SegmentTime)
	}
	if f.video.isPlaying() || f.music.isPlaying() {
		t.Error("background still playing after output error")
	}

	// A later play clears the error.
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if st := f.c.State(); st.Error != "" || !st.IsPlaying {
		t.Errorf("after replay: %+v", st)
	}
}

func TestCoordinatorCloseWhilePlaying(t *testing.T) {
	f := newFixture(t)
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	f.tick(3)

	var last State
	f.c.Subscribe(func(st State) { last = st })
	if err := f.c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if last.IsPlaying || last.Phase != Paused || last.SegmentTime != 3 {
		t.Errorf("published after close = %+v", last)
	}
	if f.narration.isPlaying() || f.video.isPlaying() || f.music.isPlaying() {
		t.Error("sources still playing after close")
	}
}
