package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	BotName          string `env:"BOT_NAME" envDefault:"NeuroDeep"`

	// Lowercase prefixes that count as addressing the bot in a group.
	// Empty means "use the phrase book".
	AddressTokens []string `env:"ADDRESS_TOKENS" envSeparator:","`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	CompletionTimeout     time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"30s"`
	CompletionMaxTokens   int           `env:"COMPLETION_MAX_TOKENS" envDefault:"300"`
	CompletionTemperature float32       `env:"COMPLETION_TEMPERATURE" envDefault:"0.9"`
	HumorCheckTimeout     time.Duration `env:"HUMOR_CHECK_TIMEOUT" envDefault:"10s"`
	HumorMinLength        int           `env:"HUMOR_MIN_LENGTH" envDefault:"30"`

	// Whether canned fallback replies are written into chat memory.
	PersistFallbacks bool `env:"PERSIST_FALLBACKS" envDefault:"false"`

	// Prompts and phrase tables
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`
	PhrasesPath      string `env:"PHRASES_PATH"`

	// Memory and trigger counter
	MemoryLimit int `env:"MEMORY_LIMIT" envDefault:"20"`
	TriggerMin  int `env:"TRIGGER_MIN" envDefault:"10"`
	TriggerMax  int `env:"TRIGGER_MAX" envDefault:"15"`

	PartyIncludeSender bool `env:"PARTY_INCLUDE_SENDER" envDefault:"true"`

	// Storage
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/neurodeep.db"`
	LogFilePath string `env:"LOG_FILE_PATH" envDefault:"logs/log.jsonl"`

	// Admin surface
	AdminHTTPAddr string `env:"ADMIN_HTTP_ADDR" envDefault:":8080"`
	AdminToken    string `env:"ADMIN_TOKEN"`
	AdminChatID   int64  `env:"ADMIN_CHAT_ID"`
	FeedSize      int    `env:"FEED_SIZE" envDefault:"200"`

	// Scheduled jobs (UTC)
	ReportSchedule      string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`
	MemorySweepSchedule string `env:"MEMORY_SWEEP_SCHEDULE" envDefault:"@hourly"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment and validates cross-field constraints.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.MemoryLimit <= 0 {
		return fmt.Errorf("MEMORY_LIMIT must be positive, got %d", c.MemoryLimit)
	}
	if c.TriggerMin <= 0 || c.TriggerMax < c.TriggerMin {
		return fmt.Errorf("invalid trigger range [%d,%d]", c.TriggerMin, c.TriggerMax)
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT must be positive")
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderYandex:
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLMProvider)
	}
	return nil
}
