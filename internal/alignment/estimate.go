package alignment

import "unicode/utf8"

// Estimate builds a payload for providers that return audio without timing.
// Each character gets an equal share of the duration.
func Estimate(text string, duration float64) *Payload {
	n := utf8.RuneCountInString(text)
	p := &Payload{
		Characters: make(Characters, 0, n),
		StartTimes: make([]float64, 0, n),
		EndTimes:   make([]float64, 0, n),
	}
	if n == 0 || duration <= 0 {
		return p
	}

	step := duration / float64(n)
	i := 0
	for _, r := range text {
		p.Characters = append(p.Characters, string(r))
		p.StartTimes = append(p.StartTimes, float64(i)*step)
		p.EndTimes = append(p.EndTimes, float64(i+1)*step)
		i++
	}
	return p
}
