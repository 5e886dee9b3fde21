package providers

import (
	"os"
)

// TestConfig holds provider keys read from the environment so live tests
// can run when keys are present.
type TestConfig struct {
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	MistralAPIKey    string
	OpenAIAPIKey     string
}

// LoadTestConfig reads provider keys from the environment.
func LoadTestConfig() TestConfig {
	return TestConfig{
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoice:  os.Getenv("ELEVENLABS_VOICE_ID"),
		MistralAPIKey:    os.Getenv("MISTRAL_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}
}

// HasElevenLabs reports whether a key and voice are configured.
func (c TestConfig) HasElevenLabs() bool {
	return c.ElevenLabsAPIKey != "" && c.ElevenLabsVoice != ""
}

// HasMistral reports whether a Mistral key is configured.
func (c TestConfig) HasMistral() bool {
	return c.MistralAPIKey != ""
}

// HasOpenAI reports whether an OpenAI key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// RegistryConfig builds a registry config from whatever keys are present.
func (c TestConfig) RegistryConfig() RegistryConfig {
	return RegistryConfig{
		Extractors: map[string]ExtractorConfig{
			"mistral": {Type: "mistral-ocr", APIKey: c.MistralAPIKey, Enabled: c.HasMistral()},
		},
		TTS: map[string]TTSConfig{
			"elevenlabs": {Type: ElevenLabsTTSName, APIKey: c.ElevenLabsAPIKey, Voice: c.ElevenLabsVoice, Enabled: c.HasElevenLabs()},
			"openai":     {Type: OpenAITTSName, APIKey: c.OpenAIAPIKey, Enabled: c.HasOpenAI()},
		},
	}
}
