package embedder

import (
	"fmt"

	"github.com/bowerhall/mira/internal/config"
)

type Config struct {
	Provider      string
	BaseURL       string
	Model         string
	ModelPath     string
	TokenizerPath string
	Library       string
	Dimension     int
}

// FromConfig maps the application config onto the embedder's.
func FromConfig(c config.EmbedderConfig) Config {
	return Config{
		Provider:      c.Provider,
		BaseURL:       c.BaseURL,
		Model:         c.Model,
		ModelPath:     c.ModelPath,
		TokenizerPath: c.TokenizerPath,
		Library:       c.ONNXLibrary,
		Dimension:     c.Dimension,
	}
}

// New builds the shared embedding service. The model itself is not loaded
// until the first Embed call.
func New(cfg Config) (*Service, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedder dimension must be positive, got %d", cfg.Dimension)
	}

	switch cfg.Provider {
	case "hash", "":
		return NewService(hashLoader(cfg.Dimension), cfg.Dimension), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewService(ollamaLoader(baseURL, model), cfg.Dimension), nil
	case "onnx":
		loader, err := onnxLoader(cfg)
		if err != nil {
			return nil, err
		}
		return NewService(loader, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", cfg.Provider)
	}
}
