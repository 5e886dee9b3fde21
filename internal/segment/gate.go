package segment

// Source identifies one of the three synchronized media sources.
type Source int

const (
	Narration Source = iota
	Video
	Music
)

func (s Source) String() string {
	switch s {
	case Narration:
		return "narration"
	case Video:
		return "video"
	case Music:
		return "music"
	default:
		return "unknown"
	}
}

// Gate collects durations as sources report them and opens exactly once,
// when every required source has a usable duration. It stays shut after
// opening until Reset.
type Gate struct {
	withMusic bool
	durations Durations
	reported  [3]bool
	fired     bool
}

// NewGate creates a gate that waits for narration, video and, if withMusic,
// music.
func NewGate(withMusic bool) *Gate {
	g := &Gate{}
	g.Reset(withMusic)
	return g
}

// Reset re-arms the gate for a new result.
func (g *Gate) Reset(withMusic bool) {
	*g = Gate{withMusic: withMusic, durations: Durations{HasMusic: withMusic}}
}

// Report records a duration. It returns the complete set and true on the
// single call that completes the gate. Unusable durations, unexpected
// sources and reports after the gate fired are ignored.
func (g *Gate) Report(src Source, d float64) (Durations, bool) {
	if g.fired || !usable(d) {
		return Durations{}, false
	}

	switch src {
	case Narration:
		g.durations.Narration = d
	case Video:
		g.durations.Video = d
	case Music:
		if !g.withMusic {
			return Durations{}, false
		}
		g.durations.Music = d
	default:
		return Durations{}, false
	}
	g.reported[src] = true

	if !g.reported[Narration] || !g.reported[Video] || (g.withMusic && !g.reported[Music]) {
		return Durations{}, false
	}
	g.fired = true
	return g.durations, true
}

// Fired reports whether the gate has opened since the last Reset.
func (g *Gate) Fired() bool { return g.fired }
