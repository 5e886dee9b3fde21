package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestElevenLabsGenerateWithTimestamps(t *testing.T) {
	var payload elevenLabsTTSRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-1/with-timestamps" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "mp3_44100_128" {
			t.Errorf("unexpected output_format: %s", got)
		}
		if key := r.Header.Get("xi-api-key"); key != "test-key" {
			t.Errorf("unexpected api key: %s", key)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode body: %v", err)
		}

		w.Header().Set("request-id", "req-42")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"audio_base64": "` + base64.StdEncoding.EncodeToString([]byte("mp3-bytes")) + `",
			"alignment": {
				"characters": ["h", "i"],
				"character_start_times_seconds": [0, 0.1],
				"character_end_times_seconds": [0.1, 0.25]
			}
		}`))
	}))
	defer server.Close()

	client := NewElevenLabsTTSClient(ElevenLabsTTSConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Voice:   "voice-1",
	})

	result, err := client.Generate(context.Background(), &TTSRequest{Text: " hi "})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !result.Success || string(result.Audio) != "mp3-bytes" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Alignment == nil || len(result.Alignment.Characters) != 2 {
		t.Fatalf("expected alignment with 2 characters, got %+v", result.Alignment)
	}
	if result.DurationMS != 250 {
		t.Errorf("DurationMS = %d, want 250", result.DurationMS)
	}
	if result.RequestID != "req-42" {
		t.Errorf("RequestID = %q", result.RequestID)
	}
	if result.Format != "mp3" || result.SampleRate != 44100 {
		t.Errorf("format = %s/%d", result.Format, result.SampleRate)
	}
	if payload.Text != "hi" || payload.ModelID != "eleven_flash_v2_5" {
		t.Errorf("unexpected request body: %+v", payload)
	}
	if payload.VoiceSettings.Stability != 0.5 || payload.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("unexpected voice settings: %+v", payload.VoiceSettings)
	}
}

func TestElevenLabsMalformedAlignmentIsDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"audio_base64": "` + base64.StdEncoding.EncodeToString([]byte("a")) + `",
			"alignment": {"characters": ["a"], "character_start_times_seconds": [], "character_end_times_seconds": [0.1]}
		}`))
	}))
	defer server.Close()

	client := NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: "k", BaseURL: server.URL, Voice: "v"})
	result, err := client.Generate(context.Background(), &TTSRequest{Text: "a"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Alignment != nil {
		t.Errorf("expected malformed alignment to be dropped, got %+v", result.Alignment)
	}
}

func TestElevenLabsErrors(t *testing.T) {
	t.Run("rate limit", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"detail":{"status":"too_many","message":"slow down"}}`))
		}))
		defer server.Close()

		client := NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: "k", BaseURL: server.URL, Voice: "v"})
		_, err := client.Generate(context.Background(), &TTSRequest{Text: "hello"})
		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("expected RateLimitError, got %T: %v", err, err)
		}
		if rle.RetryAfter != 3*time.Second {
			t.Errorf("RetryAfter = %v, want 3s", rle.RetryAfter)
		}
	})

	t.Run("unprocessable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":{"message":"text too long"}}`))
		}))
		defer server.Close()

		client := NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: "k", BaseURL: server.URL, Voice: "v"})
		_, err := client.Generate(context.Background(), &TTSRequest{Text: "hello"})
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("expected StatusError, got %T: %v", err, err)
		}
		if se.StatusCode != http.StatusUnprocessableEntity || se.Message != "text too long" {
			t.Errorf("unexpected status error: %+v", se)
		}
	})

	t.Run("validation", func(t *testing.T) {
		client := NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: "k"})
		if _, err := client.Generate(context.Background(), &TTSRequest{Text: "  "}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("empty text error = %v", err)
		}
		if _, err := client.Generate(context.Background(), &TTSRequest{Text: "hi"}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("missing voice error = %v", err)
		}
	})
}

func TestElevenLabsListVoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voices" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"a1","name":"Ana"}]}`))
	}))
	defer server.Close()

	client := NewElevenLabsTTSClient(ElevenLabsTTSConfig{APIKey: "k", BaseURL: server.URL})
	voices, err := client.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices() error = %v", err)
	}
	if len(voices) != 1 || voices[0].VoiceID != "a1" {
		t.Errorf("unexpected voices: %+v", voices)
	}
}

func TestMistralExtractDocument(t *testing.T) {
	var body mistralOCRRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocr" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization: %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(mistralOCRResponse{
			Model: MistralOCRModel,
			Pages: []mistralOCRPage{
				{Index: 0, Markdown: "# Title"},
				{Index: 1, Markdown: "Body text."},
			},
			UsageInfo: &mistralUsageInfo{PagesProcessed: 2},
		})
	}))
	defer server.Close()

	client := NewMistralOCRClient(MistralOCRConfig{APIKey: "test-key", BaseURL: server.URL})
	result, err := client.ExtractDocument(context.Background(), &DocumentRequest{Data: []byte("%PDF-1.4"), Filename: "doc.pdf"})
	if err != nil {
		t.Fatalf("ExtractDocument() error = %v", err)
	}
	if result.Text != "# Title\n\nBody text." {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Pages != 2 {
		t.Errorf("Pages = %d, want 2", result.Pages)
	}
	if result.CostUSD != 2*MistralOCRCostPerPage {
		t.Errorf("CostUSD = %v", result.CostUSD)
	}
	if body.Document.Type != "document_url" || !strings.HasPrefix(body.Document.DocumentURL, "data:application/pdf;base64,") {
		t.Errorf("unexpected document: %+v", body.Document)
	}
	if body.Model != MistralOCRModel {
		t.Errorf("Model = %q", body.Model)
	}

	t.Run("api error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"bad document"}`))
		}))
		defer server.Close()

		client := NewMistralOCRClient(MistralOCRConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.ExtractDocument(context.Background(), &DocumentRequest{Data: []byte("x")})
		var se *StatusError
		if !errors.As(err, &se) || se.Message != "bad document" {
			t.Fatalf("expected StatusError with message, got %v", err)
		}
	})

	t.Run("empty document", func(t *testing.T) {
		_, err := client.ExtractDocument(context.Background(), &DocumentRequest{})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest, got %v", err)
		}
	})
}

func TestOpenAITTSGenerate(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	client := NewOpenAITTSClient(OpenAITTSConfig{APIKey: "test-key", BaseURL: server.URL})
	result, err := client.Generate(context.Background(), &TTSRequest{Text: "Hello world."})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if string(result.Audio) != "mp3-bytes" || result.Format != "mp3" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Alignment != nil {
		t.Error("openai returns no alignment")
	}
	if result.DurationMS <= 0 {
		t.Errorf("expected a duration estimate, got %d", result.DurationMS)
	}
	if got, _ := payload["voice"].(string); got != "onyx" {
		t.Errorf("voice = %q, want onyx", got)
	}
}

func TestOpenAITTSRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit","type":"rate_limit_error","param":"","code":"rate_limit"}}`))
	}))
	defer server.Close()

	client := NewOpenAITTSClient(OpenAITTSConfig{APIKey: "k", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), &TTSRequest{Text: "hello"})
	rle, ok := IsRateLimitError(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if rle.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", rle.RetryAfter)
	}
}

func TestEstimateSpeechMS(t *testing.T) {
	// 750 characters at 150 wpm and 5 chars per word is one minute.
	text := strings.Repeat("a", 750)
	if got := EstimateSpeechMS(text, 1); got != 60000 {
		t.Errorf("EstimateSpeechMS() = %d, want 60000", got)
	}
	if got := EstimateSpeechMS(text, 2); got != 30000 {
		t.Errorf("EstimateSpeechMS(speed 2) = %d, want 30000", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 {
		t.Errorf("parseRetryAfter(date) = %v, want > 0", got)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	l := newRateLimiter(2, clock)

	if !l.TryConsume() || !l.TryConsume() {
		t.Fatal("expected initial burst of 2")
	}
	if l.TryConsume() {
		t.Fatal("expected bucket to be empty")
	}

	now = now.Add(500 * time.Millisecond)
	if !l.TryConsume() {
		t.Fatal("expected one token after half a second")
	}

	l.Record429(10 * time.Second)
	now = now.Add(5 * time.Second)
	if l.TryConsume() {
		t.Fatal("expected limiter to hold during Retry-After")
	}
	now = now.Add(6 * time.Second)
	if !l.TryConsume() {
		t.Fatal("expected tokens after Retry-After passed")
	}

	if st := l.Status(); st.TotalConsumed != 4 || st.Last429Time.IsZero() {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	l := NewRateLimiter(0.001)
	if !l.TryConsume() {
		t.Fatal("expected initial token")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestCallRetries(t *testing.T) {
	t.Run("retries transient failures", func(t *testing.T) {
		var n atomic.Int32
		got, err := Call(context.Background(), Policy{MaxRetries: 3, RetryDelay: time.Millisecond}, func(context.Context) (string, error) {
			if n.Add(1) < 3 {
				return "", &StatusError{Provider: "x", StatusCode: http.StatusBadGateway}
			}
			return "ok", nil
		})
		if err != nil || got != "ok" {
			t.Fatalf("Call() = %q, %v", got, err)
		}
		if n.Load() != 3 {
			t.Errorf("attempts = %d, want 3", n.Load())
		}
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var n atomic.Int32
		_, err := Call(context.Background(), Policy{MaxRetries: 3, RetryDelay: time.Millisecond}, func(context.Context) (int, error) {
			n.Add(1)
			return 0, &StatusError{Provider: "x", StatusCode: http.StatusUnprocessableEntity, Message: "bad"}
		})
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("expected StatusError, got %v", err)
		}
		if n.Load() != 1 {
			t.Errorf("attempts = %d, want 1", n.Load())
		}
	})

	t.Run("records rate limits", func(t *testing.T) {
		limiter := NewRateLimiter(1000)
		_, err := Call(context.Background(), Policy{Limiter: limiter, MaxRetries: 0}, func(context.Context) (int, error) {
			return 0, &RateLimitError{Message: "slow", StatusCode: 429}
		})
		if _, ok := IsRateLimitError(err); !ok {
			t.Fatalf("expected RateLimitError, got %v", err)
		}
		if limiter.Status().Last429Time.IsZero() {
			t.Error("expected limiter to record the 429")
		}
	})
}

func TestRegistryReload(t *testing.T) {
	r := NewRegistry(nil)
	cfg := RegistryConfig{
		Extractors: map[string]ExtractorConfig{
			"mistral": {Type: "mistral-ocr", APIKey: "k1", Enabled: true},
		},
		TTS: map[string]TTSConfig{
			"elevenlabs": {Type: ElevenLabsTTSName, APIKey: "k2", Voice: "v", Enabled: true},
			"openai":     {Type: OpenAITTSName, APIKey: "", Enabled: true},
			"bogus":      {Type: "nope", APIKey: "k3", Enabled: true},
		},
	}
	r.Reload(cfg)

	if got := r.ListExtractors(); len(got) != 1 || got[0] != "mistral" {
		t.Errorf("ListExtractors() = %v", got)
	}
	if got := r.ListTTS(); len(got) != 1 || got[0] != "elevenlabs" {
		t.Errorf("ListTTS() = %v", got)
	}

	first, policy, err := r.TTS("elevenlabs")
	if err != nil {
		t.Fatalf("TTS() error = %v", err)
	}
	if policy.Limiter == nil || policy.MaxRetries != 3 {
		t.Errorf("unexpected policy: %+v", policy)
	}

	r.Reload(cfg)
	second, _, _ := r.TTS("elevenlabs")
	if first != second {
		t.Error("unchanged config should keep the client")
	}

	cfg.TTS["elevenlabs"] = TTSConfig{Type: ElevenLabsTTSName, APIKey: "k2", Voice: "other", Enabled: true}
	r.Reload(cfg)
	third, _, _ := r.TTS("elevenlabs")
	if third == first {
		t.Error("changed config should replace the client")
	}

	delete(cfg.Extractors, "mistral")
	r.Reload(cfg)
	if _, _, err := r.Extractor("mistral"); err == nil {
		t.Error("expected removed extractor to be unregistered")
	}
	if _, ok := r.LimiterStatus()["extractor/mistral"]; ok {
		t.Error("expected removed extractor limiter to be dropped")
	}
}

func TestLiveProviders(t *testing.T) {
	cfg := LoadTestConfig()
	if !cfg.HasElevenLabs() && !cfg.HasMistral() {
		t.Skip("no provider keys configured")
	}
	r := NewRegistryFromConfig(cfg.RegistryConfig(), nil)
	if cfg.HasElevenLabs() {
		p, _, err := r.TTS("elevenlabs")
		if err != nil {
			t.Fatalf("TTS() error = %v", err)
		}
		if err := p.HealthCheck(context.Background()); err != nil {
			t.Fatalf("HealthCheck() error = %v", err)
		}
	}
}
