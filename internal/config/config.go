// Package config loads audiodoc configuration with viper and reloads it
// when the file changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/audiodoc/internal/providers"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager loads configuration from cfgFile, or from config.yaml in the
// working directory or homeDir when cfgFile is empty. A missing file is
// not an error.
func NewManager(cfgFile, homeDir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cm := &Manager{v: viper.New(), logger: logger}

	if err := cm.initViper(cfgFile, homeDir); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg
	return cm, nil
}

func (cm *Manager) initViper(cfgFile, homeDir string) error {
	v := cm.v
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return err
	}

	// AUDIODOC_DEFAULTS_MAX_WORKERS overrides defaults.max_workers
	v.SetEnvPrefix("AUDIODOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if homeDir != "" {
			v.AddConfigPath(homeDir)
		}
		v.AddConfigPath("$HOME/.audiodoc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// setDefaults registers every leaf of cfg as a viper default, so a file
// that sets one key of a section keeps the defaults of its siblings.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[any]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to read defaults: %w", err)
	}
	var walk func(prefix string, node map[any]any)
	walk = func(prefix string, node map[any]any) {
		for k, val := range node {
			key := fmt.Sprint(k)
			if prefix != "" {
				key = prefix + "." + key
			}
			if child, ok := val.(map[any]any); ok {
				walk(key, child)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// load parses the current viper state into a Config.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration.
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// File returns the config file in use, or "" when running on defaults.
func (cm *Manager) File() string {
	return cm.v.ConfigFileUsed()
}

// Lookup returns the effective value of a dotted key.
func (cm *Manager) Lookup(key string) (any, bool) {
	if !cm.v.IsSet(key) {
		return nil, false
	}
	return cm.v.Get(key), true
}

// OnChange registers a callback run after each successful reload.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig reloads configuration when the file changes. Invalid edits
// are logged and the previous configuration stays in effect.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cm.reload(e.Name)
	})
	cm.v.WatchConfig()
}

func (cm *Manager) reload(source string) {
	cfg, err := cm.load()
	if err != nil {
		cm.logger.Warn("config reload rejected", "file", source, "error", err)
		return
	}

	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	cm.logger.Info("config reloaded", "file", source)
	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "defra", "memory":
	default:
		return fmt.Errorf("store.backend must be sqlite, defra or memory, got %q", c.Store.Backend)
	}
	if c.Defaults.MaxWorkers < 1 {
		return fmt.Errorf("defaults.max_workers must be at least 1")
	}
	if c.Defaults.MaxUploadMB < 1 {
		return fmt.Errorf("defaults.max_upload_mb must be at least 1")
	}
	if c.Defaults.MaxPDFPages < 0 {
		return fmt.Errorf("defaults.max_pdf_pages cannot be negative")
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// ToProviderRegistryConfig converts the config for providers.Registry,
// resolving ${ENV_VAR} references in keys and voices.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Extractors: make(map[string]providers.ExtractorConfig, len(c.OCR)),
		TTS:        make(map[string]providers.TTSConfig, len(c.TTS)),
	}
	for name, ocr := range c.OCR {
		cfg.Extractors[name] = providers.ExtractorConfig{
			Type:      ocr.Type,
			APIKey:    ResolveEnvVars(ocr.APIKey),
			BaseURL:   ocr.BaseURL,
			RateLimit: ocr.RateLimit,
			Enabled:   ocr.Enabled,
		}
	}
	for name, tts := range c.TTS {
		cfg.TTS[name] = providers.TTSConfig{
			Type:      tts.Type,
			APIKey:    ResolveEnvVars(tts.APIKey),
			BaseURL:   tts.BaseURL,
			Model:     tts.Model,
			Voice:     ResolveEnvVars(tts.Voice),
			Format:    tts.Format,
			RateLimit: tts.RateLimit,
			Enabled:   tts.Enabled,
		}
	}
	return cfg
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# audiodoc configuration
# API keys use ${ENV_VAR} syntax to reference environment variables:
#   export MISTRAL_API_KEY=xxx ELEVENLABS_API_KEY=xxx ELEVENLABS_VOICE_ID=xxx
# Durations are nanoseconds or Go syntax ("5s", "150ms").

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
