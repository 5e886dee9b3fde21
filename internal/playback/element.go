package playback

import "github.com/jackzampolin/audiodoc/internal/segment"

// Element is one media handle (narration, video or music).
//
// Control calls return immediately. Play reports the outcome of the start
// request on the returned channel, which receives exactly one value (nil on
// success). Elements deliver LoadedMetadata, TimeUpdate and Ended events to
// the host, never from inside a control call.
type Element interface {
	Play() <-chan error
	Pause()
	Seek(position float64)
	Position() float64
	// Duration returns the natural length, or 0 while unknown.
	Duration() float64
	SetRate(rate float64)
	SetVolume(volume float64)
}

// Media groups the three elements of one result. Music may be nil.
type Media struct {
	Narration Element
	Video     Element
	Music     Element
}

func (m Media) get(src segment.Source) Element {
	switch src {
	case segment.Narration:
		return m.Narration
	case segment.Video:
		return m.Video
	case segment.Music:
		return m.Music
	}
	return nil
}

func (m Media) each(fn func(Element)) {
	for _, e := range []Element{m.Narration, m.Video, m.Music} {
		if e != nil {
			fn(e)
		}
	}
}

// EventKind is the kind of notification an element raises.
type EventKind int

const (
	EventLoadedMetadata EventKind = iota
	EventTimeUpdate
	EventEnded
	// EventError reports that a playing element lost its output.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventLoadedMetadata:
		return "loadedmetadata"
	case EventTimeUpdate:
		return "timeupdate"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a notification from an element. From identifies the element so
// events from a superseded result can be dropped; Duration is set for
// LoadedMetadata and Err for Error.
type Event struct {
	Source   segment.Source
	Kind     EventKind
	Duration float64
	Err      error
	From     Element
}
