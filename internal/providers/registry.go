package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the configured extractors and speech providers, each with
// its own rate limiter. It is safe for concurrent use and can be reloaded
// when configuration changes.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]DocumentExtractor
	tts        map[string]TTSProvider
	limiters   map[string]*RateLimiter
	configs    map[string]any
	logger     *slog.Logger
}

// RegistryConfig lists the providers to instantiate.
type RegistryConfig struct {
	Extractors map[string]ExtractorConfig
	TTS        map[string]TTSConfig
}

// ExtractorConfig configures one document extractor.
type ExtractorConfig struct {
	Type      string // "mistral-ocr"
	APIKey    string
	BaseURL   string
	RateLimit float64
	Enabled   bool
}

// TTSConfig configures one speech provider.
type TTSConfig struct {
	Type      string // "elevenlabs", "openai"
	APIKey    string
	BaseURL   string
	Model     string
	Voice     string
	Format    string
	RateLimit float64
	Enabled   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		extractors: make(map[string]DocumentExtractor),
		tts:        make(map[string]TTSProvider),
		limiters:   make(map[string]*RateLimiter),
		configs:    make(map[string]any),
		logger:     logger,
	}
}

// NewRegistryFromConfig creates a registry with every enabled provider
// that has an API key.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Reload(cfg)
	return r
}

// RegisterExtractor adds or replaces an extractor.
func (r *Registry) RegisterExtractor(name string, e DocumentExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[name] = e
	r.limiters["extractor/"+name] = NewRateLimiter(e.RequestsPerSecond())
}

// RegisterTTS adds or replaces a speech provider.
func (r *Registry) RegisterTTS(name string, p TTSProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = p
	r.limiters["tts/"+name] = NewRateLimiter(p.RequestsPerSecond())
}

// Extractor returns a named extractor.
func (r *Registry) Extractor(name string) (DocumentExtractor, Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[name]
	if !ok {
		return nil, Policy{}, fmt.Errorf("extractor %q not registered", name)
	}
	return e, Policy{
		Limiter:    r.limiters["extractor/"+name],
		MaxRetries: e.MaxRetries(),
		RetryDelay: e.RetryDelayBase(),
		Logger:     r.logger,
		Name:       e.Name(),
	}, nil
}

// TTS returns a named speech provider.
func (r *Registry) TTS(name string) (TTSProvider, Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tts[name]
	if !ok {
		return nil, Policy{}, fmt.Errorf("tts provider %q not registered", name)
	}
	return p, Policy{
		Limiter:    r.limiters["tts/"+name],
		MaxRetries: p.MaxRetries(),
		RetryDelay: p.RetryDelayBase(),
		Logger:     r.logger,
		Name:       p.Name(),
	}, nil
}

// ListExtractors returns registered extractor names, sorted.
func (r *Registry) ListExtractors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.extractors)
}

// ListTTS returns registered speech provider names, sorted.
func (r *Registry) ListTTS() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.tts)
}

// LimiterStatus reports every limiter keyed by kind/name.
func (r *Registry) LimiterStatus() map[string]RateLimiterStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]RateLimiterStatus, len(r.limiters))
	for name, l := range r.limiters {
		out[name] = l.Status()
	}
	return out
}

// Reload brings the registry in line with cfg. Unchanged providers keep
// their client and limiter; removed or disabled ones are dropped.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantExtractors := make(map[string]bool)
	for name, c := range cfg.Extractors {
		if !c.Enabled || c.APIKey == "" {
			continue
		}
		wantExtractors[name] = true
		key := "extractor/" + name
		if prev, ok := r.configs[key]; ok && prev == any(c) {
			continue
		}
		e := createExtractor(c)
		if e == nil {
			r.logger.Warn("unknown extractor type", "name", name, "type", c.Type)
			delete(wantExtractors, name)
			continue
		}
		_, existed := r.extractors[name]
		r.extractors[name] = e
		r.limiters[key] = NewRateLimiter(e.RequestsPerSecond())
		r.configs[key] = c
		r.logRegistered("extractor", name, c.Type, existed)
	}

	wantTTS := make(map[string]bool)
	for name, c := range cfg.TTS {
		if !c.Enabled || c.APIKey == "" {
			continue
		}
		wantTTS[name] = true
		key := "tts/" + name
		if prev, ok := r.configs[key]; ok && prev == any(c) {
			continue
		}
		p := createTTS(c, r.logger)
		if p == nil {
			r.logger.Warn("unknown tts type", "name", name, "type", c.Type)
			delete(wantTTS, name)
			continue
		}
		_, existed := r.tts[name]
		r.tts[name] = p
		r.limiters[key] = NewRateLimiter(p.RequestsPerSecond())
		r.configs[key] = c
		r.logRegistered("tts provider", name, c.Type, existed)
	}

	for name := range r.extractors {
		if !wantExtractors[name] {
			r.drop("extractor/" + name)
			delete(r.extractors, name)
			r.logger.Info("unregistered extractor", "name", name)
		}
	}
	for name := range r.tts {
		if !wantTTS[name] {
			r.drop("tts/" + name)
			delete(r.tts, name)
			r.logger.Info("unregistered tts provider", "name", name)
		}
	}
}

func (r *Registry) drop(key string) {
	delete(r.limiters, key)
	delete(r.configs, key)
}

func (r *Registry) logRegistered(kind, name, typ string, existed bool) {
	if existed {
		r.logger.Info("updated "+kind, "name", name, "type", typ)
		return
	}
	r.logger.Info("registered "+kind, "name", name, "type", typ)
}

func createExtractor(c ExtractorConfig) DocumentExtractor {
	switch c.Type {
	case "mistral-ocr", "mistral":
		return NewMistralOCRClient(MistralOCRConfig{
			APIKey:    c.APIKey,
			BaseURL:   c.BaseURL,
			RateLimit: c.RateLimit,
		})
	}
	return nil
}

func createTTS(c TTSConfig, logger *slog.Logger) TTSProvider {
	switch c.Type {
	case ElevenLabsTTSName:
		return NewElevenLabsTTSClient(ElevenLabsTTSConfig{
			APIKey:    c.APIKey,
			BaseURL:   c.BaseURL,
			Model:     c.Model,
			Voice:     c.Voice,
			Format:    c.Format,
			RateLimit: c.RateLimit,
			Logger:    logger,
		})
	case OpenAITTSName:
		return NewOpenAITTSClient(OpenAITTSConfig{
			APIKey:    c.APIKey,
			BaseURL:   c.BaseURL,
			Model:     c.Model,
			Voice:     c.Voice,
			RateLimit: c.RateLimit,
		})
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
