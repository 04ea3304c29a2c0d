package llm

import "fmt"

const defaultMaxTokens = 8000

// OpenAI-compatible providers and their base URLs
var openAICompatibleProviders = map[string]string{
	"mistral":    "https://api.mistral.ai/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"together":   "https://api.together.xyz/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"fireworks":  "https://api.fireworks.ai/inference/v1",
	"perplexity": "https://api.perplexity.ai",
}

func New(cfg Config) (Provider, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	switch cfg.Provider {
	case "claude":
		return newClaude(cfg), nil
	case "openai":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		return newOpenAICompatible("openai", cfg), nil
	case "kimi":
		if cfg.Model == "" {
			cfg.Model = "kimi-k2-0711-preview"
		}
		cfg.BaseURL = "https://api.moonshot.ai/v1"
		return newOpenAICompatible("kimi", cfg), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if cfg.Model == "" {
			cfg.Model = "qwen2:0.5b"
		}
		cfg.APIKey = "ollama"
		// Ollama's OpenAI-compatible endpoint
		cfg.BaseURL = baseURL + "/v1"
		return newOpenAICompatible("ollama", cfg), nil
	default:
		if baseURL, ok := openAICompatibleProviders[cfg.Provider]; ok {
			if cfg.BaseURL == "" {
				cfg.BaseURL = baseURL
			}
			return newOpenAICompatible(cfg.Provider, cfg), nil
		}
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// IsKnownProvider checks if a provider is recognized
func IsKnownProvider(provider string) bool {
	switch provider {
	case "claude", "openai", "kimi", "ollama":
		return true
	default:
		_, ok := openAICompatibleProviders[provider]
		return ok
	}
}
