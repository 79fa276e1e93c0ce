package classifier

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Config параметры провайдера из секции ai конфигурации
type Config struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	CostPer1KTokens   float64
}

// New создаёт классификатор по имени провайдера
func New(cfg Config, logger *slog.Logger) (Classifier, error) {
	if cfg.Provider == "fake" || cfg.Provider == "keyword" {
		return NewKeyword(), nil
	}
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewLLM(model, Options{
		Provider:          cfg.Provider,
		Model:             cfg.Model,
		Timeout:           cfg.Timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
		CostPer1KTokens:   cfg.CostPer1KTokens,
	}, logger), nil
}

// NewModel клиент langchaingo для провайдера
func NewModel(cfg Config) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai: api key is not set")
		}
		opts := []openai.Option{openai.WithToken(apiKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic: api key is not set")
		}
		opts := []anthropic.Option{anthropic.WithToken(apiKey)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		return anthropic.New(opts...)
	case "ollama":
		serverURL := cfg.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:11434"
		}
		opts := []ollama.Option{ollama.WithServerURL(serverURL)}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
