package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	MistralOCRName    = "mistral-ocr"
	MistralOCRBaseURL = "https://api.mistral.ai/v1"
	MistralOCRModel   = "mistral-ocr-latest"

	// Averaged over pages with and without images.
	MistralOCRCostPerPage = 0.0012
)

// MistralOCRConfig configures MistralOCRClient. Zero values fall back to
// mistral-ocr-latest and 6 requests per second.
type MistralOCRConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RateLimit  float64
	MaxRetries int
	RetryDelay time.Duration
}

// MistralOCRClient turns an uploaded document into page markdown.
type MistralOCRClient struct {
	cfg    MistralOCRConfig
	client *http.Client
}

// NewMistralOCRClient creates the client.
func NewMistralOCRClient(cfg MistralOCRConfig) *MistralOCRClient {
	cfg.BaseURL = strings.TrimRight(cmpOr(cfg.BaseURL, MistralOCRBaseURL), "/")
	cfg.Model = cmpOr(cfg.Model, MistralOCRModel)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 6
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &MistralOCRClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (c *MistralOCRClient) Name() string                  { return MistralOCRName }
func (c *MistralOCRClient) RequestsPerSecond() float64    { return c.cfg.RateLimit }
func (c *MistralOCRClient) MaxRetries() int               { return c.cfg.MaxRetries }
func (c *MistralOCRClient) RetryDelayBase() time.Duration { return c.cfg.RetryDelay }

// ExtractDocument sends the whole document inline as a base64 data URL and
// joins the markdown of every page with a blank line.
func (c *MistralOCRClient) ExtractDocument(ctx context.Context, req *DocumentRequest) (*DocumentResult, error) {
	start := time.Now()
	if req == nil || len(req.Data) == 0 {
		err := fmt.Errorf("%w: document data is required", ErrInvalidRequest)
		return &DocumentResult{ErrorMessage: err.Error()}, err
	}

	ocr, err := c.ocr(ctx, mistralOCRRequest{
		Model: c.cfg.Model,
		Document: mistralDocument{
			Type:         "document_url",
			DocumentURL:  dataURL(cmpOr(req.MIMEType, "application/pdf"), req.Data),
			DocumentName: req.Filename,
		},
	})
	if err != nil {
		return &DocumentResult{ErrorMessage: err.Error(), ExecutionTime: time.Since(start)}, err
	}

	var text strings.Builder
	for i, p := range ocr.Pages {
		if i > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(p.Markdown)
	}
	billed := len(ocr.Pages)
	if ocr.UsageInfo != nil && ocr.UsageInfo.PagesProcessed > 0 {
		billed = ocr.UsageInfo.PagesProcessed
	}

	return &DocumentResult{
		Success:       true,
		Text:          text.String(),
		Pages:         len(ocr.Pages),
		CostUSD:       float64(billed) * MistralOCRCostPerPage,
		ExecutionTime: time.Since(start),
	}, nil
}

func (c *MistralOCRClient) ocr(ctx context.Context, body mistralOCRRequest) (*mistralOCRResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ocr request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/ocr", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		var e mistralErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Message() != "" {
			msg = e.Message()
		}
		return nil, responseError("Mistral OCR", resp, msg)
	}

	var out mistralOCRResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return &out, nil
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

type mistralOCRRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type         string `json:"type"`
	DocumentURL  string `json:"document_url"`
	DocumentName string `json:"document_name,omitempty"`
}

type mistralOCRResponse struct {
	Model     string            `json:"model"`
	Pages     []mistralOCRPage  `json:"pages"`
	UsageInfo *mistralUsageInfo `json:"usage_info,omitempty"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type mistralUsageInfo struct {
	PagesProcessed int `json:"pages_processed"`
}

// Mistral reports errors either nested under "error" or flat.
type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Msg string `json:"message"`
}

func (e mistralErrorResponse) Message() string {
	return cmpOr(e.Error.Message, e.Msg)
}

var _ DocumentExtractor = (*MistralOCRClient)(nil)
