package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAITTSName is the provider type for OpenAI speech.
const OpenAITTSName = "openai"

// The speech endpoint returns audio only. Durations are guessed from a
// reading pace until the file can be probed.
const (
	narrationWordsPerMinute = 150
	narrationCharsPerWord   = 5
)

var openAIVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable", "nova",
	"onyx", "sage", "shimmer", "verse", "marin", "cedar",
}

// USD per 1k input characters.
var openAIPricePer1K = map[string]float64{
	"tts-1":    0.015,
	"tts-1-hd": 0.03,
}

var openAIFormats = map[string]openai.AudioSpeechNewParamsResponseFormat{
	"mp3":  openai.AudioSpeechNewParamsResponseFormatMP3,
	"opus": openai.AudioSpeechNewParamsResponseFormatOpus,
	"aac":  openai.AudioSpeechNewParamsResponseFormatAAC,
	"flac": openai.AudioSpeechNewParamsResponseFormatFLAC,
	"wav":  openai.AudioSpeechNewParamsResponseFormatWAV,
}

// OpenAITTSConfig configures OpenAITTSClient. Zero values fall back to
// tts-1-hd, the onyx voice, normal speed and 8 requests per second.
type OpenAITTSConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Voice        string
	Speed        float64
	Instructions string // honored by gpt-4o-mini-tts only
	RateLimit    float64
	MaxRetries   int
	RetryDelay   time.Duration
	HTTPClient   *http.Client
}

// OpenAITTSClient narrates with the OpenAI speech endpoint. It returns no
// character timing; the generation job estimates it from the audio length.
type OpenAITTSClient struct {
	cfg    OpenAITTSConfig
	client openai.Client
}

// NewOpenAITTSClient creates the client. The SDK's own retries are off;
// Call drives them.
func NewOpenAITTSClient(cfg OpenAITTSConfig) *OpenAITTSClient {
	cfg.Model = cmpOr(cfg.Model, string(openai.SpeechModelTTS1HD))
	cfg.Voice = cmpOr(cfg.Voice, "onyx")
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 8
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAITTSClient{cfg: cfg, client: openai.NewClient(opts...)}
}

func (c *OpenAITTSClient) Name() string                  { return OpenAITTSName }
func (c *OpenAITTSClient) RequestsPerSecond() float64    { return c.cfg.RateLimit }
func (c *OpenAITTSClient) MaxRetries() int               { return c.cfg.MaxRetries }
func (c *OpenAITTSClient) RetryDelayBase() time.Duration { return c.cfg.RetryDelay }

// HealthCheck lists models to verify the key.
func (c *OpenAITTSClient) HealthCheck(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai health check: %w", mapOpenAIError(err))
	}
	return nil
}

// Generate narrates req.Text. The result carries an estimated DurationMS
// and a nil Alignment.
func (c *OpenAITTSClient) Generate(ctx context.Context, req *TTSRequest) (*TTSResult, error) {
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

	format := strings.ToLower(strings.TrimSpace(req.Format))
	wire, ok := openAIFormats[format]
	if !ok {
		format, wire = "mp3", openai.AudioSpeechNewParamsResponseFormatMP3
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.cfg.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(cmpOr(strings.TrimSpace(req.Voice), c.cfg.Voice)),
		ResponseFormat: wire,
		Speed:          openai.Float(c.cfg.Speed),
	}
	if strings.HasPrefix(c.cfg.Model, "gpt-4o-mini-tts") {
		if ins := cmpOr(strings.TrimSpace(req.Instructions), c.cfg.Instructions); ins != "" {
			params.Instructions = openai.String(ins)
		}
	}

	resp, err := c.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fail(mapOpenAIError(err))
	}
	defer resp.Body.Close()

	if res.Audio, err = io.ReadAll(resp.Body); err != nil {
		return fail(fmt.Errorf("read openai audio: %w", err))
	}
	res.Success = true
	res.Format = format
	res.DurationMS = EstimateSpeechMS(text, c.cfg.Speed)
	res.CostUSD = float64(len(text)) / 1000 * cmpOrFloat(openAIPricePer1K[c.cfg.Model], openAIPricePer1K["tts-1"])
	res.ExecutionTime = time.Since(start)
	return res, nil
}

// EstimateSpeechMS guesses how long text takes to read aloud at speed.
func EstimateSpeechMS(text string, speed float64) int {
	if speed <= 0 {
		speed = 1
	}
	chars := len([]rune(text))
	return int(float64(chars*60*1000) / float64(narrationWordsPerMinute*narrationCharsPerWord) / speed)
}

// ListVoices returns the built-in voices.
func (c *OpenAITTSClient) ListVoices(context.Context) ([]Voice, error) {
	voices := make([]Voice, len(openAIVoices))
	for i, name := range openAIVoices {
		voices[i] = Voice{VoiceID: name, Name: name}
	}
	return voices, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		return &StatusError{Provider: "OpenAI TTS", StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	rle := &RateLimitError{
		Message:    "OpenAI rate limited: " + apiErr.Message,
		StatusCode: apiErr.StatusCode,
	}
	if apiErr.Response != nil {
		rle.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return rle
}

func cmpOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func cmpOrFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

var (
	_ TTSProvider  = (*OpenAITTSClient)(nil)
	_ VoicesLister = (*OpenAITTSClient)(nil)
)
