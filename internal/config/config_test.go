package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MemoryLimit != 20 {
		t.Fatalf("memory limit: want 20, got %d", cfg.MemoryLimit)
	}
	if cfg.TriggerMin != 10 || cfg.TriggerMax != 15 {
		t.Fatalf("trigger range: got [%d,%d]", cfg.TriggerMin, cfg.TriggerMax)
	}
	if cfg.CompletionTimeout != 30*time.Second {
		t.Fatalf("completion timeout: got %v", cfg.CompletionTimeout)
	}
	if cfg.HumorMinLength != 30 {
		t.Fatalf("humor min length: got %d", cfg.HumorMinLength)
	}
	if cfg.PersistFallbacks {
		t.Fatalf("fallbacks must not be persisted by default")
	}
	if cfg.LLMProvider != ProviderOpenAI {
		t.Fatalf("provider: got %s", cfg.LLMProvider)
	}
}

func TestLoadAddressTokens(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADDRESS_TOKENS", "нейродип,deep")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.AddressTokens) != 2 || cfg.AddressTokens[1] != "deep" {
		t.Fatalf("unexpected tokens: %#v", cfg.AddressTokens)
	}
}

func TestLoadRejectsBadTriggerRange(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TRIGGER_MIN", "15")
	t.Setenv("TRIGGER_MAX", "10")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for inverted trigger range")
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "placeholder")
	os.Unsetenv("TELEGRAM_BOT_TOKEN")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without bot token")
	}
}
