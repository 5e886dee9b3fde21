package playback

import "github.com/jackzampolin/audiodoc/internal/alignment"

// Phase is the coordinator's position in its lifecycle.
type Phase int

const (
	Idle Phase = iota
	Ready
	Playing
	Paused
	Ended
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// State is the published playback state. Version increases with every
// change so subscribers can drop stale deliveries.
type State struct {
	Version         uint64           `json:"version"`
	Phase           Phase            `json:"phase"`
	IsPlaying       bool             `json:"is_playing"`
	SegmentTime     float64          `json:"segment_time"`
	SegmentDuration float64          `json:"segment_duration"`
	ActiveWordIndex int              `json:"active_word_index"`
	WindowStart     int              `json:"window_start"`
	Window          []alignment.Word `json:"window,omitempty"`
	Rate            float64          `json:"rate"`
	Error           string           `json:"error,omitempty"`
}

// sameAs compares everything but Version.
func (s State) sameAs(o State) bool {
	return s.Phase == o.Phase &&
		s.IsPlaying == o.IsPlaying &&
		s.SegmentTime == o.SegmentTime &&
		s.SegmentDuration == o.SegmentDuration &&
		s.ActiveWordIndex == o.ActiveWordIndex &&
		s.WindowStart == o.WindowStart &&
		len(s.Window) == len(o.Window) &&
		s.Rate == o.Rate &&
		s.Error == o.Error
}
