// Package generate implements the narration job: it extracts text from
// a PDF or takes it as given, synthesizes speech with word timing and
// picks the background media the result is played over.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jackzampolin/audiodoc/internal/alignment"
	"github.com/jackzampolin/audiodoc/internal/catalog"
	"github.com/jackzampolin/audiodoc/internal/home"
	"github.com/jackzampolin/audiodoc/internal/jobs"
	"github.com/jackzampolin/audiodoc/internal/providers"
	"github.com/jackzampolin/audiodoc/internal/textclean"
)

// JobType identifies narration jobs.
const JobType = "generate"

var (
	// ErrNoText is returned when nothing readable remains after cleanup.
	ErrNoText = errors.New("no text to narrate")

	// ErrTooManyPages is returned for PDFs above the configured page limit.
	ErrTooManyPages = errors.New("document has too many pages")
)

// Input is what a client submits.
type Input struct {
	Text        string `json:"text,omitempty"`
	Document    string `json:"document,omitempty"` // stored upload path
	Filename    string `json:"filename,omitempty"`
	VideoID     string `json:"video_id,omitempty"`
	MusicID     string `json:"music_id,omitempty"`
	TTSProvider string `json:"tts_provider,omitempty"`
	Voice       string `json:"voice,omitempty"`
}

// Validate checks that exactly one text source is present.
func (in Input) Validate() error {
	switch {
	case in.Document == "" && strings.TrimSpace(in.Text) == "":
		return fmt.Errorf("either text or a PDF document is required")
	case in.Document != "" && in.Text != "":
		return fmt.Errorf("text and document are mutually exclusive")
	}
	return nil
}

// Result is stored on completed jobs and served to players.
type Result struct {
	AudioURL    string             `json:"audio_url"`
	AudioFormat string             `json:"audio_format"`
	Alignment   *alignment.Payload `json:"alignment"`
	Estimated   bool               `json:"alignment_estimated,omitempty"`
	VideoID     string             `json:"video_id"`
	VideoURL    string             `json:"video_url"`
	MusicID     string             `json:"music_id,omitempty"`
	MusicURL    string             `json:"music_url,omitempty"`
	Pages       int                `json:"pages,omitempty"`
	Characters  int                `json:"characters"`
	CostUSD     float64            `json:"cost_usd,omitempty"`
}

// AudioURL is where the server serves a job's narration.
func AudioURL(jobID string) string {
	return "/api/jobs/" + jobID + "/audio"
}

// Settings are read at the start of every job so config reloads apply.
type Settings struct {
	OCRProvider string
	TTSProvider string
	MaxPDFPages int
}

// ProbeFunc reads a media duration in seconds.
type ProbeFunc func(ctx context.Context, path string) (float64, error)

// Config holds the generator's dependencies.
type Config struct {
	Registry *providers.Registry
	Catalog  *catalog.Catalog
	Home     *home.Dir
	Settings func() Settings
	// Probe measures synthesized audio when the provider returns no timing.
	Probe ProbeFunc
	// Rand picks background videos. Defaults to a randomly seeded source.
	Rand   *rand.Rand
	Logger *slog.Logger
}

// Generator builds narration jobs.
type Generator struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a generator.
func New(cfg Config) *Generator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{cfg: cfg, rng: rng}
}

// Factory returns the jobs.Factory for JobType.
func (g *Generator) Factory() jobs.Factory {
	return func(rec *jobs.Record) (jobs.Job, error) {
		var in Input
		if err := json.Unmarshal(rec.Input, &in); err != nil {
			return nil, fmt.Errorf("invalid job input: %w", err)
		}
		if err := in.Validate(); err != nil {
			return nil, err
		}
		return &Job{gen: g, id: rec.ID, input: in}, nil
	}
}

func (g *Generator) pickVideo(id string) (catalog.Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.Catalog.PickVideo(id, g.rng)
}

// Job is one narration run.
type Job struct {
	gen   *Generator
	id    string
	input Input

	mu    sync.Mutex
	stage string
}

func (j *Job) Type() string { return JobType }

// Status reports the current stage.
func (j *Job) Status(context.Context) (map[string]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return map[string]string{"stage": j.stage}, nil
}

// Execute runs every stage. It starts over from extraction when resumed.
// The uploaded document is removed once the job completes or fails; a job
// cut short by shutdown keeps it for the resumed run.
func (j *Job) Execute(ctx context.Context) (err error) {
	deps := jobs.DepsFromContext(ctx)
	if deps.Manager == nil {
		return fmt.Errorf("job manager missing from context")
	}
	logger := deps.Logger
	if logger == nil {
		logger = j.gen.cfg.Logger
	}
	defer func() {
		if err == nil || ctx.Err() == nil {
			j.removeUpload(logger)
		}
	}()
	settings := j.gen.cfg.Settings()
	meta := map[string]any{}

	text, pages, cost, err := j.extract(ctx, deps.Manager, settings)
	if err != nil {
		return err
	}
	clean := textclean.StripMarkdown(text)
	if textclean.IsBlank(clean) {
		return ErrNoText
	}
	meta["characters"] = len([]rune(clean))
	if pages > 0 {
		meta["pages"] = pages
	}
	if err := j.advance(ctx, deps.Manager, jobs.StatusTextReady, meta); err != nil {
		return err
	}
	logger.Info("text ready", "characters", meta["characters"], "pages", pages)

	if err := j.advance(ctx, deps.Manager, jobs.StatusSynthesizingAudio, nil); err != nil {
		return err
	}
	speech, err := j.synthesize(ctx, clean, settings, logger)
	if err != nil {
		return err
	}
	cost += speech.cost
	meta["tts_provider"] = speech.provider
	meta["audio_bytes"] = speech.bytes

	if err := j.advance(ctx, deps.Manager, jobs.StatusMixing, meta); err != nil {
		return err
	}
	video, err := j.gen.pickVideo(j.input.VideoID)
	if err != nil {
		return err
	}
	music, err := j.gen.cfg.Catalog.PickMusic(j.input.MusicID)
	if err != nil {
		return err
	}

	res := Result{
		AudioURL:    AudioURL(j.id),
		AudioFormat: speech.format,
		Alignment:   speech.alignment,
		Estimated:   speech.estimated,
		VideoID:     video.ID,
		VideoURL:    catalog.URL(catalog.KindVideo, video.ID),
		Pages:       pages,
		Characters:  len([]rune(clean)),
		CostUSD:     cost,
	}
	if music != nil {
		res.MusicID = music.ID
		res.MusicURL = catalog.URL(catalog.KindMusic, music.ID)
	}
	if err := deps.Manager.SetResult(ctx, j.id, res); err != nil {
		return err
	}
	if err := deps.Manager.UpdateStatus(ctx, j.id, jobs.StatusCompleted, ""); err != nil {
		return err
	}

	logger.Info("narration ready", "video", video.ID, "music", res.MusicID, "estimated_alignment", speech.estimated)
	return nil
}

func (j *Job) removeUpload(logger *slog.Logger) {
	if j.input.Document == "" {
		return
	}
	if err := os.Remove(j.input.Document); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove upload", "path", j.input.Document, "error", err)
	}
}

func (j *Job) advance(ctx context.Context, m *jobs.Manager, status jobs.Status, meta map[string]any) error {
	j.mu.Lock()
	j.stage = string(status)
	j.mu.Unlock()
	if err := m.UpdateStatus(ctx, j.id, status, ""); err != nil {
		return err
	}
	if meta != nil {
		return m.UpdateMetadata(ctx, j.id, meta)
	}
	return nil
}

func (j *Job) extract(ctx context.Context, m *jobs.Manager, settings Settings) (string, int, float64, error) {
	if err := j.advance(ctx, m, jobs.StatusExtractingText, nil); err != nil {
		return "", 0, 0, err
	}
	if j.input.Document == "" {
		return j.input.Text, 0, 0, nil
	}

	data, err := os.ReadFile(j.input.Document)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to read upload: %w", err)
	}
	pages, err := CountPagesFile(j.input.Document)
	if err != nil {
		return "", 0, 0, err
	}
	if settings.MaxPDFPages > 0 && pages > settings.MaxPDFPages {
		return "", 0, 0, fmt.Errorf("%w: %d (limit %d)", ErrTooManyPages, pages, settings.MaxPDFPages)
	}

	extractor, policy, err := j.gen.cfg.Registry.Extractor(settings.OCRProvider)
	if err != nil {
		return "", 0, 0, err
	}
	filename := j.input.Filename
	if filename == "" {
		filename = filepath.Base(j.input.Document)
	}
	res, err := providers.Call(ctx, policy, func(ctx context.Context) (*providers.DocumentResult, error) {
		return extractor.ExtractDocument(ctx, &providers.DocumentRequest{
			Data:     data,
			MIMEType: "application/pdf",
			Filename: filename,
		})
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("text extraction failed: %w", err)
	}
	if res.Pages > 0 {
		pages = res.Pages
	}
	return res.Text, pages, res.CostUSD, nil
}

type speech struct {
	provider  string
	format    string
	bytes     int
	alignment *alignment.Payload
	estimated bool
	cost      float64
}

func (j *Job) synthesize(ctx context.Context, text string, settings Settings, logger *slog.Logger) (*speech, error) {
	name := j.input.TTSProvider
	if name == "" {
		name = settings.TTSProvider
	}
	tts, policy, err := j.gen.cfg.Registry.TTS(name)
	if err != nil {
		return nil, err
	}

	res, err := providers.Call(ctx, policy, func(ctx context.Context) (*providers.TTSResult, error) {
		return tts.Generate(ctx, &providers.TTSRequest{Text: text, Voice: j.input.Voice})
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	if len(res.Audio) == 0 {
		return nil, fmt.Errorf("speech synthesis returned no audio")
	}

	format := res.Format
	if format == "" {
		format = "mp3"
	}
	path := j.gen.cfg.Home.AudioPath(j.id, format)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, res.Audio, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save audio: %w", err)
	}

	out := &speech{provider: name, format: format, bytes: len(res.Audio), alignment: res.Alignment, cost: res.CostUSD}
	if out.alignment == nil {
		out.alignment = alignment.Estimate(text, j.audioDuration(ctx, path, res, text, logger))
		out.estimated = true
	} else if err := out.alignment.Validate(); err != nil {
		logger.Warn("provider alignment rejected, estimating", "error", err)
		out.alignment = alignment.Estimate(text, j.audioDuration(ctx, path, res, text, logger))
		out.estimated = true
	}
	return out, nil
}

// audioDuration prefers the measured file length, then the provider's
// figure, then a reading-speed estimate.
func (j *Job) audioDuration(ctx context.Context, path string, res *providers.TTSResult, text string, logger *slog.Logger) float64 {
	if probe := j.gen.cfg.Probe; probe != nil {
		d, err := probe(ctx, path)
		if err == nil && d > 0 {
			return d
		}
		logger.Warn("could not probe narration length", "error", err)
	}
	if res.DurationMS > 0 {
		return float64(res.DurationMS) / 1000
	}
	return float64(providers.EstimateSpeechMS(text, 1)) / 1000
}
