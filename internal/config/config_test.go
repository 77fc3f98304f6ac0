package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

// clearEnv isolates a test from the developer's environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TERMGPT_PROVIDER", "TERMGPT_MODEL", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"LLM_API_KEY", "LLM_BASE_URL", "LOG_LEVEL", "TERMGPT_HOME",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Style != StyleMarkdown || cfg.Storage != "file" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.RateLimitWait != 10*time.Second {
		t.Errorf("RateLimitWait = %s", cfg.RateLimitWait)
	}
	if cfg.Accounting.MessageOverhead != 4 || cfg.Accounting.NameAdjustment != -1 || cfg.Accounting.ReplyPriming != 2 {
		t.Errorf("Accounting = %+v", cfg.Accounting)
	}
	if !strings.HasSuffix(cfg.BaseDir, ".termgpt") {
		t.Errorf("BaseDir = %q", cfg.BaseDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
provider: anthropic
model: claude-sonnet-4-20250514
token_limit: 1000
style: plain
storage: sqlite
rate_limit_wait: 3s
accounting:
  reply_priming: 3
models:
  my-local-model: 32000
providers:
  anthropic:
    api_key: sk-ant
base_dir: /tmp/termgpt-test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "anthropic" || cfg.Model != "claude-sonnet-4-20250514" {
		t.Errorf("provider/model = %s/%s", cfg.Provider, cfg.Model)
	}
	if cfg.TokenLimit != 1000 || cfg.Style != StylePlain || cfg.Storage != "sqlite" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RateLimitWait != 3*time.Second {
		t.Errorf("RateLimitWait = %s", cfg.RateLimitWait)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Accounting.ReplyPriming != 3 || cfg.Accounting.MessageOverhead != 4 {
		t.Errorf("Accounting = %+v", cfg.Accounting)
	}
	if cfg.GetProviderConfig("anthropic").APIKey != "sk-ant" {
		t.Error("provider api key not loaded")
	}
	if cfg.ContextWindow("my-local-model") != 32000 {
		t.Error("custom model window not loaded")
	}
	if cfg.BaseDir != "/tmp/termgpt-test" {
		t.Errorf("BaseDir = %q", cfg.BaseDir)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing --config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	if _, err := Load(writeConfig(t, "provider: [unclosed")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TERMGPT_PROVIDER", "deepseek")
	t.Setenv("TERMGPT_MODEL", "deepseek-chat")
	t.Setenv("LLM_API_KEY", "sk-ds")
	t.Setenv("LLM_BASE_URL", "https://api.deepseek.com/v1")
	t.Setenv("OPENAI_API_KEY", "sk-oa")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(writeConfig(t, "provider: openai\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "deepseek" || cfg.ResolveModel() != "deepseek-chat" {
		t.Errorf("provider/model = %s/%s", cfg.Provider, cfg.ResolveModel())
	}
	ds := cfg.GetProviderConfig("deepseek")
	if ds.APIKey != "sk-ds" || ds.BaseURL != "https://api.deepseek.com/v1" {
		t.Errorf("deepseek = %+v", ds)
	}
	if cfg.GetProviderConfig("openai").APIKey != "sk-oa" {
		t.Error("OPENAI_API_KEY not applied")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestContextWindow(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		model string
		want  int
	}{
		{"gpt-3.5-turbo", 4097},
		{"gpt-4", 8192},
		{"gpt-4-32k", 32768},
		{"gpt-4-0613", 8192},
		{"gpt-4o-mini-2024-07-18", 128000},
		{"totally-unknown", DefaultContextWindow},
	}
	for _, tt := range tests {
		if got := cfg.ContextWindow(tt.model); got != tt.want {
			t.Errorf("ContextWindow(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestResolveTokenLimit(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ResolveTokenLimit("gpt-4"); got != 6144 {
		t.Errorf("derived limit = %d, want 6144", got)
	}
	cfg.TokenLimit = 2000
	if got := cfg.ResolveTokenLimit("gpt-4"); got != 2000 {
		t.Errorf("explicit limit = %d, want 2000", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad style", func(c *Config) { c.Style = "fancy" }},
		{"bad storage", func(c *Config) { c.Storage = "redis" }},
		{"negative limit", func(c *Config) { c.TokenLimit = -1 }},
		{"limit over window", func(c *Config) { c.Model = "gpt-4"; c.TokenLimit = 9000 }},
		{"limit under overhead", func(c *Config) { c.TokenLimit = 2 }},
		{"buffer 100", func(c *Config) { c.SafetyBufferPercent = 100 }},
		{"threshold over 1", func(c *Config) { c.SaveThreshold = 1.5 }},
		{"zero rate limit wait", func(c *Config) { c.RateLimitWait = 0 }},
		{"negative rate limit wait", func(c *Config) { c.RateLimitWait = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(LoggingConfig{Level: "debug", Format: "json"}, dir)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level not enabled")
	}
	log.Info("hello")
	_ = log.Sync()
	if _, err := os.Stat(filepath.Join(dir, "termgpt.log")); err != nil {
		t.Errorf("log file not created: %v", err)
	}

	if _, err := NewLogger(LoggingConfig{Level: "loud"}, dir); err == nil {
		t.Error("expected error for bad level")
	}
	if _, err := NewLogger(LoggingConfig{Level: "info", Format: "xml"}, dir); err == nil {
		t.Error("expected error for bad format")
	}
}
