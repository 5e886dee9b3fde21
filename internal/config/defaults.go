package config

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// Entry documents one scalar config key and its default.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns the documented scalar keys, sorted by key.
func DefaultEntries() []Entry {
	d := DefaultConfig()
	entries := []Entry{
		{"ocr.mistral.type", d.OCR["mistral"].Type, "Document extractor type for Mistral"},
		{"ocr.mistral.api_key", d.OCR["mistral"].APIKey, "Mistral API key (uses environment variable)"},
		{"ocr.mistral.rate_limit", d.OCR["mistral"].RateLimit, "Requests per second sent to Mistral OCR"},
		{"tts.elevenlabs.api_key", d.TTS["elevenlabs"].APIKey, "ElevenLabs API key (uses environment variable)"},
		{"tts.elevenlabs.voice", d.TTS["elevenlabs"].Voice, "ElevenLabs voice id"},
		{"tts.elevenlabs.model", d.TTS["elevenlabs"].Model, "ElevenLabs model"},
		{"tts.elevenlabs.rate_limit", d.TTS["elevenlabs"].RateLimit, "Requests per second sent to ElevenLabs"},
		{"tts.openai.enabled", d.TTS["openai"].Enabled, "Whether the OpenAI speech provider is enabled"},
		{"tts.openai.voice", d.TTS["openai"].Voice, "OpenAI voice"},
		{"defaults.ocr_provider", d.Defaults.OCRProvider, "Extractor used for PDF uploads"},
		{"defaults.tts_provider", d.Defaults.TTSProvider, "Speech provider used when a job does not name one"},
		{"defaults.max_workers", d.Defaults.MaxWorkers, "Jobs generated concurrently"},
		{"defaults.max_pdf_pages", d.Defaults.MaxPDFPages, "Largest accepted PDF in pages (0 = unlimited)"},
		{"defaults.max_upload_mb", d.Defaults.MaxUploadMB, "Largest accepted upload in megabytes"},
		{"defaults.poll_interval", d.Defaults.PollInterval.String(), "How often clients poll job status"},
		{"server.host", d.Server.Host, "Host the server binds to"},
		{"server.port", d.Server.Port, "Port the server listens on"},
		{"store.backend", d.Store.Backend, "Job store: sqlite, defra or memory"},
		{"defra.container_name", d.Defra.ContainerName, "DefraDB container name"},
		{"defra.image", d.Defra.Image, "DefraDB image"},
		{"defra.port", d.Defra.Port, "DefraDB host port"},
		{"catalog.dir", d.Catalog.Dir, "Directory of background media (empty = {home}/media)"},
		{"player.tick_interval", durationString(d.Player.TickInterval), "Player clock resolution"},
		{"player.throttle_interval", durationString(d.Player.ThrottleInterval), "Minimum time between overlay updates"},
		{"player.window_size", d.Player.WindowSize, "Words shown in the caption window"},
		{"player.audible", d.Player.Audible, "Play narration and music through ffplay"},
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// GetDefault returns the documented default for key.
func GetDefault(key string) (*Entry, error) {
	for _, e := range DefaultEntries() {
		if e.Key == key {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%w for key %q", ErrNoDefault, key)
}

func durationString(d time.Duration) string { return d.String() }
