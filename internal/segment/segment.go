// Package segment chooses the window of each background source that plays
// under the narration.
package segment

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrNotReady is returned when a required duration is not yet known.
var ErrNotReady = errors.New("durations not ready")

// Durations are the natural lengths of the three sources in seconds.
// Music is only considered when HasMusic is set.
type Durations struct {
	Narration float64
	Video     float64
	Music     float64
	HasMusic  bool
}

// Plan is the frozen window chosen for one result.
type Plan struct {
	VideoStart      float64 `json:"video_start"`
	MusicStart      float64 `json:"music_start"`
	SegmentDuration float64 `json:"segment_duration"`
	HasMusic        bool    `json:"has_music"`
}

// VideoEnd is the video position at which the segment ends.
func (p Plan) VideoEnd() float64 { return p.VideoStart + p.SegmentDuration }

// MusicEnd is the music position at which the segment ends.
func (p Plan) MusicEnd() float64 { return p.MusicStart + p.SegmentDuration }

// Planner picks uniformly random start offsets.
type Planner struct {
	rnd func() float64
}

// NewPlanner creates a planner. A nil r uses the global source.
func NewPlanner(r *rand.Rand) *Planner {
	if r == nil {
		return &Planner{rnd: rand.Float64}
	}
	return &Planner{rnd: r.Float64}
}

// Plan computes offsets so each background source contributes a window as
// long as the narration when it can. A source shorter than the narration
// starts at 0.
func (p *Planner) Plan(d Durations) (Plan, error) {
	if !usable(d.Narration) {
		return Plan{}, fmt.Errorf("%w: narration duration %v", ErrNotReady, d.Narration)
	}
	if !usable(d.Video) {
		return Plan{}, fmt.Errorf("%w: video duration %v", ErrNotReady, d.Video)
	}
	if d.HasMusic && !usable(d.Music) {
		return Plan{}, fmt.Errorf("%w: music duration %v", ErrNotReady, d.Music)
	}

	plan := Plan{
		SegmentDuration: d.Narration,
		VideoStart:      p.offset(d.Video, d.Narration),
		HasMusic:        d.HasMusic,
	}
	if d.HasMusic {
		plan.MusicStart = p.offset(d.Music, d.Narration)
	}
	return plan, nil
}

func (p *Planner) offset(source, narration float64) float64 {
	slack := math.Max(0, source-narration)
	if slack == 0 {
		return 0
	}
	return p.rnd() * slack
}

// usable reports whether a duration is finite and positive.
func usable(d float64) bool {
	return d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}
