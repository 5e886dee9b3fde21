package alignment

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func hiThere() *Payload {
	return &Payload{
		Characters: Characters{"H", "i", " ", "t", "h", "e", "r", "e"},
		StartTimes: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7},
		EndTimes:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
	}
}

func TestProcess(t *testing.T) {
	t.Run("hi there", func(t *testing.T) {
		got := Process(hiThere(), nil)
		want := []Word{
			{Text: "Hi", StartTime: 0, EndTime: 0.2},
			{Text: "there", StartTime: 0.3, EndTime: 0.8},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Process() = %+v, want %+v", got, want)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		p := hiThere()
		a := Process(p, nil)
		b := Process(p, nil)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("two passes differ: %+v vs %+v", a, b)
		}
	})

	t.Run("tabs newlines and repeated whitespace", func(t *testing.T) {
		p := &Payload{
			Characters: Characters{"a", "\t", "\n", "b", "c", " "},
			StartTimes: []float64{0, 1, 2, 3, 4, 5},
			EndTimes:   []float64{1, 2, 3, 4, 5, 6},
		}
		got := Process(p, nil)
		want := []Word{
			{Text: "a", StartTime: 0, EndTime: 1},
			{Text: "bc", StartTime: 3, EndTime: 5},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Process() = %+v, want %+v", got, want)
		}
	})

	t.Run("skips inverted word", func(t *testing.T) {
		p := &Payload{
			Characters: Characters{"x", " ", "y"},
			StartTimes: []float64{2, 0, 0},
			EndTimes:   []float64{1, 0, 1},
		}
		got := Process(p, nil)
		if len(got) != 1 || got[0].Text != "y" {
			t.Errorf("expected only y, got %+v", got)
		}
	})

	t.Run("empty and malformed", func(t *testing.T) {
		cases := map[string]*Payload{
			"nil":            nil,
			"empty":          {Characters: Characters{}, StartTimes: []float64{}, EndTimes: []float64{}},
			"missing ends":   {Characters: Characters{"a"}, StartTimes: []float64{0}},
			"length differs": {Characters: Characters{"a", "b"}, StartTimes: []float64{0}, EndTimes: []float64{1}},
		}
		for name, p := range cases {
			t.Run(name, func(t *testing.T) {
				got := Process(p, nil)
				if got == nil || len(got) != 0 {
					t.Errorf("expected empty non-nil list, got %#v", got)
				}
			})
		}
	})

	t.Run("every word ordered", func(t *testing.T) {
		words := Process(Estimate("the quick brown fox jumps over the lazy dog", 9), nil)
		if len(words) != 9 {
			t.Fatalf("expected 9 words, got %d", len(words))
		}
		for i, w := range words {
			if w.StartTime > w.EndTime {
				t.Errorf("word %d start %v > end %v", i, w.StartTime, w.EndTime)
			}
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("array characters", func(t *testing.T) {
		data := []byte(`{"characters":["H","i"],"character_start_times_seconds":[0,0.1],"character_end_times_seconds":[0.1,0.2]}`)
		p, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if len(p.Characters) != 2 || p.Characters[1] != "i" {
			t.Errorf("unexpected characters %v", p.Characters)
		}
	})

	t.Run("string characters", func(t *testing.T) {
		data := []byte(`{"characters":"Hé","character_start_times_seconds":[0,0.1],"character_end_times_seconds":[0.1,0.2]}`)
		p, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if !reflect.DeepEqual(p.Characters, Characters{"H", "é"}) {
			t.Errorf("unexpected characters %v", p.Characters)
		}
	})

	t.Run("rejects", func(t *testing.T) {
		cases := map[string]string{
			"not json":       `{`,
			"missing field":  `{"characters":["a"],"character_start_times_seconds":[0]}`,
			"wrong type":     `{"characters":["a"],"character_start_times_seconds":["x"],"character_end_times_seconds":[1]}`,
			"negative time":  `{"characters":["a"],"character_start_times_seconds":[-1],"character_end_times_seconds":[1]}`,
			"length differs": `{"characters":["a","b"],"character_start_times_seconds":[0],"character_end_times_seconds":[1]}`,
		}
		for name, data := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := Decode([]byte(data))
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("expected ErrMalformed, got %v", err)
				}
			})
		}
	})
}

func TestEstimate(t *testing.T) {
	p := Estimate("ab", 2)
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if p.StartTimes[1] != 1 || p.EndTimes[1] != 2 {
		t.Errorf("unexpected timing %v %v", p.StartTimes, p.EndTimes)
	}

	if got := Estimate("", 3); len(got.Characters) != 0 {
		t.Errorf("expected empty payload, got %v", got.Characters)
	}
}

func TestWriteVTT(t *testing.T) {
	words := []Word{
		{Text: "one", StartTime: 0, EndTime: 0.5},
		{Text: "two", StartTime: 0.5, EndTime: 1},
		{Text: "three", StartTime: 1, EndTime: 1.5},
		{Text: "four", StartTime: 1.5, EndTime: 2},
		{Text: "five", StartTime: 3661.25, EndTime: 3661.75},
	}

	var buf bytes.Buffer
	if err := WriteVTT(&buf, words, 4); err != nil {
		t.Fatalf("WriteVTT() error = %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "WEBVTT\n\n") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "1\n00:00:00.000 --> 00:00:02.000\none two three four\n") {
		t.Errorf("missing first cue: %q", out)
	}
	if !strings.Contains(out, "2\n01:01:01.250 --> 01:01:01.750\nfive\n") {
		t.Errorf("missing second cue: %q", out)
	}
}
