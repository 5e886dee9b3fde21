package config

import (
	"time"

	"github.com/jackzampolin/audiodoc/internal/catalog"
)

// Config holds audiodoc configuration.
// Stored at: {home}/config.yaml
type Config struct {
	OCR      map[string]OCRProviderCfg `mapstructure:"ocr" yaml:"ocr"`
	TTS      map[string]TTSProviderCfg `mapstructure:"tts" yaml:"tts"`
	Defaults DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Server   ServerCfg                 `mapstructure:"server" yaml:"server"`
	Store    StoreCfg                  `mapstructure:"store" yaml:"store"`
	Defra    DefraConfig               `mapstructure:"defra" yaml:"defra"`
	Catalog  catalog.Config            `mapstructure:"catalog" yaml:"catalog"`
	Player   PlayerCfg                 `mapstructure:"player" yaml:"player"`
}

// OCRProviderCfg configures a document extractor.
type OCRProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`       // "mistral-ocr"
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR}
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// TTSProviderCfg configures a speech provider.
type TTSProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"` // "elevenlabs", "openai"
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model     string  `mapstructure:"model" yaml:"model"`
	Voice     string  `mapstructure:"voice" yaml:"voice"` // voice id; supports ${ENV_VAR}
	Format    string  `mapstructure:"format" yaml:"format,omitempty"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg holds pipeline and client defaults.
type DefaultsCfg struct {
	OCRProvider  string        `mapstructure:"ocr_provider" yaml:"ocr_provider"`
	TTSProvider  string        `mapstructure:"tts_provider" yaml:"tts_provider"`
	MaxWorkers   int           `mapstructure:"max_workers" yaml:"max_workers"`
	MaxPDFPages  int           `mapstructure:"max_pdf_pages" yaml:"max_pdf_pages"` // 0 = unlimited
	MaxUploadMB  int           `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ServerCfg is where `audiodoc serve` listens and clients connect.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// StoreCfg selects the job store.
type StoreCfg struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "sqlite", "defra" or "memory"
}

// DefraConfig holds DefraDB container configuration.
type DefraConfig struct {
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Image         string `mapstructure:"image" yaml:"image"`
	Port          string `mapstructure:"port" yaml:"port"`
}

// PlayerCfg tunes the headless player.
type PlayerCfg struct {
	TickInterval     time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	ThrottleInterval time.Duration `mapstructure:"throttle_interval" yaml:"throttle_interval"`
	WindowSize       int           `mapstructure:"window_size" yaml:"window_size"`
	Audible          bool          `mapstructure:"audible" yaml:"audible"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OCR: map[string]OCRProviderCfg{
			"mistral": {
				Type:      "mistral-ocr",
				APIKey:    "${MISTRAL_API_KEY}",
				RateLimit: 6.0,
				Enabled:   true,
			},
		},
		TTS: map[string]TTSProviderCfg{
			"elevenlabs": {
				Type:      "elevenlabs",
				APIKey:    "${ELEVENLABS_API_KEY}",
				Model:     "eleven_flash_v2_5",
				Voice:     "${ELEVENLABS_VOICE_ID}",
				Format:    "mp3_44100_128",
				RateLimit: 2.0,
				Enabled:   true,
			},
			"openai": {
				Type:      "openai",
				APIKey:    "${OPENAI_API_KEY}",
				Model:     "gpt-4o-mini-tts",
				Voice:     "alloy",
				Format:    "mp3",
				RateLimit: 5.0,
				Enabled:   false,
			},
		},
		Defaults: DefaultsCfg{
			OCRProvider:  "mistral",
			TTSProvider:  "elevenlabs",
			MaxWorkers:   2,
			MaxPDFPages:  50,
			MaxUploadMB:  15,
			PollInterval: 5 * time.Second,
		},
		Server: ServerCfg{Host: "127.0.0.1", Port: "5001"},
		Store:  StoreCfg{Backend: "sqlite"},
		Defra: DefraConfig{
			ContainerName: "audiodoc-defra",
			Image:         "sourcenetwork/defradb:latest",
			Port:          "9181",
		},
		Catalog: catalog.DefaultConfig(),
		Player: PlayerCfg{
			TickInterval:     50 * time.Millisecond,
			ThrottleInterval: 150 * time.Millisecond,
			WindowSize:       4,
		},
	}
}

// ServerURL is the base URL clients use to reach the server.
func (c *Config) ServerURL() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + host + ":" + c.Server.Port
}
