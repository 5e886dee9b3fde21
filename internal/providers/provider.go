// Package providers holds the external text extraction and speech synthesis
// clients.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/audiodoc/internal/alignment"
)

// ErrInvalidRequest marks requests a provider call cannot serve; they are
// never retried.
var ErrInvalidRequest = errors.New("invalid request")

// DocumentExtractor turns a whole document into markdown text.
type DocumentExtractor interface {
	Name() string
	ExtractDocument(ctx context.Context, req *DocumentRequest) (*DocumentResult, error)
	RequestsPerSecond() float64
	MaxRetries() int
	RetryDelayBase() time.Duration
}

// DocumentRequest is one document to extract.
type DocumentRequest struct {
	Data     []byte
	MIMEType string // defaults to application/pdf
	Filename string
}

// DocumentResult is the extracted text of a document.
type DocumentResult struct {
	Success       bool
	Text          string // page markdown joined by blank lines
	Pages         int
	CostUSD       float64
	ExecutionTime time.Duration
	ErrorMessage  string
}

// TTSProvider synthesizes narration audio.
type TTSProvider interface {
	Name() string
	Generate(ctx context.Context, req *TTSRequest) (*TTSResult, error)
	HealthCheck(ctx context.Context) error
	RequestsPerSecond() float64
	MaxRetries() int
	RetryDelayBase() time.Duration
}

// TTSRequest is one synthesis request.
type TTSRequest struct {
	Text         string
	Voice        string // provider default when empty
	Format       string
	Instructions string
}

// TTSResult is synthesized audio plus optional character timing.
type TTSResult struct {
	Success    bool
	Audio      []byte
	Format     string
	SampleRate int
	DurationMS int
	// Alignment is nil when the provider returns no timing.
	Alignment     *alignment.Payload
	CostUSD       float64
	CharCount     int
	ExecutionTime time.Duration
	RequestID     string
	ErrorMessage  string
}

// Voice is one selectable voice.
type Voice struct {
	VoiceID     string `json:"voice_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// VoicesLister is implemented by providers that can enumerate voices.
type VoicesLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}

// RateLimitError is returned when a provider answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError unwraps a RateLimitError.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// StatusError is a non-success answer from a provider. The API layer relays
// StatusCode to its caller.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// responseError turns a non-success answer into a RateLimitError (429) or a
// StatusError carrying msg.
func responseError(provider string, resp *http.Response, msg string) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Message:    provider + " rate limited: " + msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	}
	return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
}
