package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/audiodoc/internal/alignment"
)

const (
	ElevenLabsTTSName      = "elevenlabs"
	ElevenLabsAPIBaseURL   = "https://api.elevenlabs.io/v1"
	ElevenLabsDefaultModel = "eleven_flash_v2_5"

	// Flash models bill at half a credit per character.
	elevenLabsCostPerChar = 0.00015
)

// ElevenLabsTTSConfig configures ElevenLabsTTSClient. Zero values fall back
// to the flash model, mp3_44100_128 output, stability 0.5, similarity 0.75
// and 2 requests per second.
type ElevenLabsTTSConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Voice      string // default voice ID
	Format     string // output_format, e.g. mp3_44100_128 or pcm_16000
	Stability  float64
	Similarity float64
	Timeout    time.Duration
	RateLimit  float64
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// ElevenLabsTTSClient narrates through the with-timestamps endpoint, which
// returns the audio together with per-character timing.
type ElevenLabsTTSClient struct {
	cfg    ElevenLabsTTSConfig
	client *http.Client
}

// NewElevenLabsTTSClient creates the client.
func NewElevenLabsTTSClient(cfg ElevenLabsTTSConfig) *ElevenLabsTTSClient {
	cfg.BaseURL = strings.TrimRight(cmpOr(cfg.BaseURL, ElevenLabsAPIBaseURL), "/")
	cfg.Model = cmpOr(cfg.Model, ElevenLabsDefaultModel)
	cfg.Format = cmpOr(cfg.Format, "mp3_44100_128")
	cfg.Stability = cmpOrFloat(cfg.Stability, 0.5)
	cfg.Similarity = cmpOrFloat(cfg.Similarity, 0.75)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ElevenLabsTTSClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (c *ElevenLabsTTSClient) Name() string                  { return ElevenLabsTTSName }
func (c *ElevenLabsTTSClient) RequestsPerSecond() float64    { return c.cfg.RateLimit }
func (c *ElevenLabsTTSClient) MaxRetries() int               { return c.cfg.MaxRetries }
func (c *ElevenLabsTTSClient) RetryDelayBase() time.Duration { return c.cfg.RetryDelay }

// Model returns the configured model.
func (c *ElevenLabsTTSClient) Model() string { return c.cfg.Model }

// Voice returns the default voice ID.
func (c *ElevenLabsTTSClient) Voice() string { return c.cfg.Voice }

// HealthCheck verifies the API key against the user endpoint.
func (c *ElevenLabsTTSClient) HealthCheck(ctx context.Context) error {
	if _, err := c.call(ctx, http.MethodGet, "/user", nil, nil); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("ElevenLabs rejected the API key")
		}
		return fmt.Errorf("ElevenLabs health check: %w", err)
	}
	return nil
}

// Generate narrates req.Text. A malformed alignment is logged and dropped
// so the generation job can fall back to an estimate.
func (c *ElevenLabsTTSClient) Generate(ctx context.Context, req *TTSRequest) (*TTSResult, error) {
	start := time.Now()
	res := &TTSResult{}
	fail := func(err error) (*TTSResult, error) {
		res.ErrorMessage = err.Error()
		res.ExecutionTime = time.Since(start)
		return res, err
	}

	if req == nil || strings.TrimSpace(req.Text) == "" {
		return fail(fmt.Errorf("%w: text is required", ErrInvalidRequest))
	}
	text := strings.TrimSpace(req.Text)
	res.CharCount = len(text)

	voice := cmpOr(strings.TrimSpace(req.Voice), c.cfg.Voice)
	if voice == "" {
		return fail(fmt.Errorf("%w: voice is required", ErrInvalidRequest))
	}
	format := strings.TrimSpace(req.Format)
	if format == "" || format == "mp3" {
		format = c.cfg.Format
	}

	body := elevenLabsTTSRequest{
		Text:    text,
		ModelID: c.cfg.Model,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       c.cfg.Stability,
			SimilarityBoost: c.cfg.Similarity,
		},
	}
	path := fmt.Sprintf("/text-to-speech/%s/with-timestamps?output_format=%s",
		url.PathEscape(voice), url.QueryEscape(format))

	var out elevenLabsTimestampsResponse
	requestID, err := c.call(ctx, http.MethodPost, path, body, &out)
	if err != nil {
		return fail(err)
	}
	res.RequestID = requestID

	if res.Audio, err = base64.StdEncoding.DecodeString(out.AudioBase64); err != nil {
		return fail(fmt.Errorf("decode narration audio: %w", err))
	}
	if len(res.Audio) == 0 {
		return fail(errors.New("ElevenLabs returned no audio"))
	}

	res.Success = true
	res.Format, res.SampleRate = parseOutputFormat(format)
	res.CostUSD = float64(len(text)) * elevenLabsCostPerChar

	if len(out.Alignment) > 0 && string(out.Alignment) != "null" {
		payload, err := alignment.Decode(out.Alignment)
		if err != nil {
			c.cfg.Logger.Warn("dropping malformed alignment", "request_id", requestID, "error", err)
		} else {
			res.Alignment = payload
			if n := len(payload.EndTimes); n > 0 {
				res.DurationMS = int(payload.EndTimes[n-1] * 1000)
			}
		}
	}
	res.ExecutionTime = time.Since(start)
	return res, nil
}

// ListVoices returns the voices on the account.
func (c *ElevenLabsTTSClient) ListVoices(ctx context.Context) ([]Voice, error) {
	var out elevenLabsVoicesResponse
	if _, err := c.call(ctx, http.MethodGet, "/voices", nil, &out); err != nil {
		return nil, fmt.Errorf("list ElevenLabs voices: %w", err)
	}
	voices := make([]Voice, len(out.Voices))
	for i, v := range out.Voices {
		voices[i] = Voice{VoiceID: v.VoiceID, Name: v.Name, Description: v.Description}
	}
	return voices, nil
}

// call sends one authenticated request. Non-200 answers become a
// RateLimitError or StatusError; out, when set, receives the JSON body.
func (c *ElevenLabsTTSClient) call(ctx context.Context, method, path string, in, out any) (string, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		var e elevenLabsErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Detail.Message != "" {
			msg = e.Detail.Message
		}
		return "", responseError(ElevenLabsTTSName, resp, msg)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
	}
	return cmpOr(resp.Header.Get("request-id"), resp.Header.Get("x-request-id")), nil
}

type elevenLabsTTSRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsTimestampsResponse struct {
	AudioBase64 string          `json:"audio_base64"`
	Alignment   json.RawMessage `json:"alignment"`
}

type elevenLabsErrorResponse struct {
	Detail struct {
		Message string `json:"message"`
	} `json:"detail"`
}

type elevenLabsVoicesResponse struct {
	Voices []struct {
		VoiceID     string `json:"voice_id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	} `json:"voices"`
}

// parseOutputFormat splits output_format into container and sample rate:
// mp3_44100_128 -> (mp3, 44100), pcm_16000 -> (wav, 16000).
func parseOutputFormat(format string) (string, int) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(format)), "_")
	container := cmpOr(parts[0], "mp3")
	switch container {
	case "pcm", "ulaw", "alaw":
		container = "wav"
	}
	var rate int
	if len(parts) > 1 {
		rate, _ = strconv.Atoi(parts[1])
	}
	return container, rate
}

var (
	_ TTSProvider  = (*ElevenLabsTTSClient)(nil)
	_ VoicesLister = (*ElevenLabsTTSClient)(nil)
)
