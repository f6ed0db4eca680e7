package llm

import (
	"fmt"
	"strings"

	"neurodeep/internal/config"
)

const (
	ProviderOpenAI = "openai"
	ProviderYandex = "yandex"
)

// Factory creates LLM clients with consistent logic
type Factory struct {
	OpenaiAPIKey       string
	OpenaiBaseURL      string
	OpenRouterReferrer string
	OpenRouterTitle    string
	YandexOAuthToken   string
	YandexFolderID     string
	MaxTokens          int
	Temperature        float32
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
		MaxTokens:          cfg.CompletionMaxTokens,
		Temperature:        cfg.CompletionTemperature,
	}
}

func (f *Factory) CreateClient(provider, model string) (Client, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return NewOpenAI(OpenAIOptions{
			APIKey:      f.OpenaiAPIKey,
			BaseURL:     f.OpenaiBaseURL,
			Model:       model,
			Referrer:    f.OpenRouterReferrer,
			Title:       f.OpenRouterTitle,
			MaxTokens:   f.MaxTokens,
			Temperature: f.Temperature,
		}), nil
	case ProviderYandex:
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

// Tuned returns a copy of the factory with different sampling limits.
// Only the OpenAI-compatible provider honours them; see YandexClient.
func (f *Factory) Tuned(maxTokens int, temperature float32) *Factory {
	c := *f
	c.MaxTokens = maxTokens
	c.Temperature = temperature
	return &c
}
