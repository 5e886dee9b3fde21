package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/audiodoc/internal/alignment"
	"github.com/jackzampolin/audiodoc/internal/media"
	"github.com/jackzampolin/audiodoc/internal/playback"
	"github.com/jackzampolin/audiodoc/internal/segment"
)

// ProbeFunc reads a media duration in seconds.
type ProbeFunc func(ctx context.Context, path string) (float64, error)

// Track is one media input of a session.
type Track struct {
	Path string
	// Resource is released with the element, e.g. a downloaded blob.
	Resource io.Closer
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Logger    *slog.Logger
	ResultID  string
	Alignment *alignment.Payload
	Narration Track
	Video     Track
	// Music is optional.
	Music *Track

	// Audible plays narration and music through ffplay.
	Audible    bool
	Autoplay   bool
	Throttle   time.Duration
	WindowSize int
	Interval   time.Duration
	BarWidth   int
	Out        io.Writer
	Probe      ProbeFunc
}

// Session wires elements, coordinator, surface and renderer for one result
// and drives them from line commands.
type Session struct {
	cfg     SessionConfig
	logger  *slog.Logger
	coord   *playback.Coordinator
	surface *Surface
	elems   elements
	events  chan playback.Event
	done    chan struct{}
}

type elements struct {
	narration, video, music *media.Element
}

func (e elements) media() playback.Media {
	m := playback.Media{Narration: e.narration, Video: e.video}
	if e.music != nil {
		m.Music = e.music
	}
	return m
}

func (e elements) each(fn func(*media.Element)) {
	for _, el := range []*media.Element{e.narration, e.video, e.music} {
		if el != nil {
			fn(el)
		}
	}
}

// NewSession builds a session. Durations are probed when Run starts.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Probe == nil {
		cfg.Probe = media.ProbeDuration
	}

	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		events: make(chan playback.Event, 64),
		done:   make(chan struct{}),
	}
	s.coord = playback.New(playback.Config{
		Logger:     cfg.Logger,
		Throttle:   cfg.Throttle,
		WindowSize: cfg.WindowSize,
	})

	sink := func(ev playback.Event) {
		select {
		case s.events <- ev:
		case <-s.done:
		}
	}
	element := func(src segment.Source, t Track, audible bool) *media.Element {
		ec := media.ElementConfig{Source: src, Sink: sink, Interval: cfg.Interval, Resource: t.Resource}
		if audible {
			ec.Output = media.NewFFplayOutput(t.Path, cfg.Logger)
		}
		return media.NewElement(ec)
	}

	s.elems.narration = element(segment.Narration, cfg.Narration, cfg.Audible)
	s.elems.video = element(segment.Video, cfg.Video, false)
	if cfg.Music != nil {
		s.elems.music = element(segment.Music, *cfg.Music, cfg.Audible)
	}

	display := NewTerminalDisplay(cfg.Out, nil)
	s.surface = NewSurface(s.coord, s.elems.media(), display)
	display.onChange = s.surface.FullscreenChanged
	return s
}

// Surface returns the session's surface.
func (s *Session) Surface() *Surface { return s.surface }

// Coordinator returns the session's coordinator.
func (s *Session) Coordinator() *playback.Coordinator { return s.coord }

// Run plays until ctx is done, a quit command is read or input ends.
// It can be called once.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		close(s.done)
		wg.Wait()
		s.coord.Close()
		s.elems.each(func(e *media.Element) { e.Close() })
	}()

	words := alignment.Process(s.cfg.Alignment, s.logger)
	if err := s.coord.Load(playback.Result{ID: s.cfg.ResultID, Words: words}, s.elems.media()); err != nil {
		return fmt.Errorf("failed to load result: %w", err)
	}

	renderer := NewRenderer(s.cfg.Out, s.cfg.BarWidth)
	var autoplay sync.Once
	unsubscribe := s.coord.Subscribe(func(st playback.State) {
		renderer.Render(st)
		if s.cfg.Autoplay && st.Phase == playback.Ready {
			autoplay.Do(func() {
				go func() {
					if err := s.surface.TogglePlay(); err != nil && !errors.Is(err, playback.ErrClosed) {
						s.logger.Warn("autoplay failed", "error", err)
					}
				}()
			})
		}
	})
	defer unsubscribe()

	s.elems.each(func(e *media.Element) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Run(ctx)
		}()
	})
	s.probeAll(ctx)

	commands := make(chan string)
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case commands <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			s.coord.HandleEvent(ev)
		case line, ok := <-commands:
			if !ok {
				return nil
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				fmt.Fprintf(s.cfg.Out, "\n%v\n", err)
				continue
			}
			if cmd.Kind == CmdQuit {
				return nil
			}
			if err := s.surface.Apply(cmd); err != nil {
				fmt.Fprintf(s.cfg.Out, "\n%v\n", err)
			}
		}
	}
}

// probeAll probes each track concurrently; results arrive in any order.
func (s *Session) probeAll(ctx context.Context) {
	probe := func(src segment.Source, e *media.Element, path string) {
		go func() {
			d, err := s.cfg.Probe(ctx, path)
			if err != nil {
				s.logger.Warn("failed to probe duration", "source", src, "path", path, "error", err)
				return
			}
			e.SetDuration(d)
			select {
			case s.events <- playback.Event{Source: src, Kind: playback.EventLoadedMetadata, Duration: d, From: e}:
			case <-s.done:
			}
		}()
	}

	probe(segment.Narration, s.elems.narration, s.cfg.Narration.Path)
	probe(segment.Video, s.elems.video, s.cfg.Video.Path)
	if s.elems.music != nil {
		probe(segment.Music, s.elems.music, s.cfg.Music.Path)
	}
}
