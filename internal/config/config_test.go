package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValidWithToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiscordToken = "token"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRequiresToken(t *testing.T) {
	if err := Validate(DefaultConfig()); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestValidateRejectsBadSimilarity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiscordToken = "token"
	cfg.Spam.Similarity = 1.5
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "Similarity") {
		t.Fatalf("expected similarity error, got %v", err)
	}
}

func TestLoadYAMLAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("discord_token: from-file\nspam:\n  messages: 4\nraid:\n  denied_bots: [\"111\", \"222\"]\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("STORAGE_DRIVER", "bbolt")
	t.Setenv("STORAGE_DSN", filepath.Join(dir, "guard.db"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "from-env" {
		t.Fatalf("expected env token, got %q", cfg.DiscordToken)
	}
	if cfg.Spam.Messages != 4 {
		t.Fatalf("expected yaml spam messages, got %d", cfg.Spam.Messages)
	}
	if cfg.Spam.WindowSeconds != 10 {
		t.Fatalf("expected default window kept, got %d", cfg.Spam.WindowSeconds)
	}
	if cfg.Storage.Driver != "bolt" {
		t.Fatalf("expected bolt driver, got %q", cfg.Storage.Driver)
	}
	if len(cfg.Raid.DeniedBots) != 2 {
		t.Fatalf("expected denied bots from yaml, got %v", cfg.Raid.DeniedBots)
	}
}

func TestGuildDefaultsAndDurations(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Defaults.GifDetector || cfg.Defaults.ImageURLScan || !cfg.Defaults.InsultFilter {
		t.Fatalf("unexpected guild defaults %+v", cfg.Defaults)
	}
	if cfg.Photosensitive.MuteFor().Seconds() != 5 || cfg.Photosensitive.WarningTTL().Seconds() != 15 {
		t.Fatalf("unexpected photosensitive durations")
	}
	if cfg.Insult.DeleteDelay().Seconds() != 3 {
		t.Fatalf("unexpected insult delay %s", cfg.Insult.DeleteDelay())
	}
}
