package providers

import (
	"context"
	"sync"
	"time"

	"github.com/jackzampolin/audiodoc/internal/alignment"
)

// MockExtractor returns canned text.
type MockExtractor struct {
	Text  string
	Pages int
	Err   error

	mu    sync.Mutex
	calls int
}

func (m *MockExtractor) Name() string                  { return "mock-extractor" }
func (m *MockExtractor) RequestsPerSecond() float64    { return 1000 }
func (m *MockExtractor) MaxRetries() int               { return 0 }
func (m *MockExtractor) RetryDelayBase() time.Duration { return time.Millisecond }

// ExtractDocument returns the canned text or error.
func (m *MockExtractor) ExtractDocument(_ context.Context, req *DocumentRequest) (*DocumentResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return &DocumentResult{ErrorMessage: m.Err.Error()}, m.Err
	}
	return &DocumentResult{Success: true, Text: m.Text, Pages: m.Pages}, nil
}

// Calls returns how many extractions ran.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockTTS returns fixed audio. With Timed set it also returns an alignment
// spreading the text evenly over Duration seconds.
type MockTTS struct {
	Audio    []byte
	Duration float64
	Timed    bool
	Err      error

	mu       sync.Mutex
	requests []TTSRequest
}

func (m *MockTTS) Name() string                      { return "mock-tts" }
func (m *MockTTS) HealthCheck(context.Context) error { return nil }
func (m *MockTTS) RequestsPerSecond() float64        { return 1000 }
func (m *MockTTS) MaxRetries() int                   { return 0 }
func (m *MockTTS) RetryDelayBase() time.Duration     { return time.Millisecond }

// Generate records the request and returns the canned result.
func (m *MockTTS) Generate(_ context.Context, req *TTSRequest) (*TTSResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, *req)
	m.mu.Unlock()
	if m.Err != nil {
		return &TTSResult{ErrorMessage: m.Err.Error()}, m.Err
	}
	res := &TTSResult{
		Success:    true,
		Audio:      m.Audio,
		Format:     "mp3",
		DurationMS: int(m.Duration * 1000),
		CharCount:  len(req.Text),
	}
	if m.Timed {
		res.Alignment = alignment.Estimate(req.Text, m.Duration)
	}
	return res, nil
}

// Requests returns the recorded requests.
func (m *MockTTS) Requests() []TTSRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TTSRequest(nil), m.requests...)
}

var (
	_ DocumentExtractor = (*MockExtractor)(nil)
	_ TTSProvider       = (*MockTTS)(nil)
)
