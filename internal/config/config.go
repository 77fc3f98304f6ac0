// Package config 负责加载和管理 termgpt 的配置。
// 配置来源优先级（从高到低）：
// 1. 命令行 flag（在 cmd/root.go 中覆盖）
// 2. 环境变量（OPENAI_API_KEY, LLM_API_KEY, LLM_BASE_URL, TERMGPT_MODEL 等）
// 3. --config flag 指定的配置文件，或 ~/.termgpt/config.yaml
// 4. DefaultConfig
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/termgpt/termgpt/internal/budget"
	"github.com/termgpt/termgpt/internal/session"
	"github.com/termgpt/termgpt/internal/tokenizer"
)

// AppName 也是数据目录名（~/.termgpt）
const AppName = "termgpt"

// 输出样式
const (
	StylePlain    = "plain"
	StyleMarkdown = "markdown"
)

// DefaultContextWindow 用于模型表中没有的模型
const DefaultContextWindow = 8192

// DefaultModels 已知模型的 context window 大小
var DefaultModels = map[string]int{
	"gpt-3.5-turbo":            4097,
	"gpt-3.5-turbo-16k":        16385,
	"gpt-4":                    8192,
	"gpt-4-32k":                32768,
	"gpt-4-1106-preview":       128000,
	"gpt-4-turbo":              128000,
	"gpt-4o":                   128000,
	"gpt-4o-mini":              128000,
	"deepseek-chat":            64000,
	"claude-sonnet-4-20250514": 200000,
	"claude-3-5-haiku-latest":  200000,
}

// ProviderConfig 单个 provider 的配置
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AccountingConfig token 计数常量，可根据 provider 实际返回的 usage 校准
type AccountingConfig struct {
	MessageOverhead int `yaml:"message_overhead"`
	NameAdjustment  int `yaml:"name_adjustment"`
	ReplyPriming    int `yaml:"reply_priming"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// Level: debug | info | warn | error
	Level string `yaml:"level"`
	// Format: console | json
	Format string `yaml:"format"`
	// File 日志文件路径，空则写到 <base dir>/termgpt.log
	File string `yaml:"file"`
}

// Config 是 termgpt 的完整配置结构
type Config struct {
	// Provider 当前使用的 provider 名称（如 "openai", "anthropic", "deepseek"）
	Provider string `yaml:"provider"`

	// Model 当前使用的模型（覆盖 provider 默认模型）
	Model string `yaml:"model"`

	// Providers 各 provider 的具体配置
	Providers map[string]*ProviderConfig `yaml:"providers"`

	// Models 额外的模型 context window，合并到 DefaultModels 之上
	Models map[string]int `yaml:"models"`

	// TokenLimit 发送给模型的最大 prompt token 数，0 = 由 context window 推导
	TokenLimit int `yaml:"token_limit"`

	// SafetyBufferPercent 推导 TokenLimit 时预留的 context window 百分比
	SafetyBufferPercent int `yaml:"safety_buffer_percent"`

	// SaveThreshold 未命名对话在 usage 超过 TokenLimit*SaveThreshold 后才保存
	SaveThreshold float64 `yaml:"save_threshold"`

	// Style: plain | markdown
	Style string `yaml:"style"`

	// TUI 使用全屏 bubbletea 界面
	TUI bool `yaml:"tui"`

	// Storage: file | sqlite
	Storage string `yaml:"storage"`

	// Encoding 模型未知时使用的 tiktoken encoding
	Encoding string `yaml:"encoding"`

	Accounting AccountingConfig `yaml:"accounting"`

	// RateLimitWait 被限流后重试前的等待时间
	RateLimitWait time.Duration `yaml:"rate_limit_wait"`

	// SystemPrompt 自定义 system prompt（空则使用默认）
	SystemPrompt string `yaml:"system_prompt"`

	Logging LoggingConfig `yaml:"logging"`

	// BaseDir 数据目录（对话、密钥、日志），默认 ~/.termgpt
	BaseDir string `yaml:"base_dir"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Provider:            "openai",
		Providers:           make(map[string]*ProviderConfig),
		Models:              make(map[string]int),
		SafetyBufferPercent: budget.DefaultSafetyBufferPercent,
		SaveThreshold:       0.1,
		Style:               StyleMarkdown,
		Storage:             session.BackendFile,
		Encoding:            tokenizer.DefaultEncoding,
		Accounting: AccountingConfig{
			MessageOverhead: budget.MessageOverhead,
			NameAdjustment:  budget.NameAdjustment,
			ReplyPriming:    budget.ReplyPriming,
		},
		RateLimitWait: 10 * time.Second,
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// DefaultBaseDir 返回 ~/.termgpt
func DefaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, "."+AppName), nil
}

// Load 加载配置文件，合并环境变量覆盖
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := configPath != ""
	if !explicit {
		if dir, err := DefaultBaseDir(); err == nil {
			configPath = filepath.Join(dir, "config.yaml")
		}
	}

	// 读取配置文件（默认路径不存在时使用默认配置）
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}
	if cfg.Models == nil {
		cfg.Models = make(map[string]int)
	}

	applyEnvOverrides(cfg)

	if cfg.BaseDir == "" {
		dir, err := DefaultBaseDir()
		if err != nil {
			return nil, err
		}
		cfg.BaseDir = dir
	}
	return cfg, nil
}

// GetProviderConfig 获取指定 provider 的配置，不存在时返回空配置
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok && pc != nil {
		return pc
	}
	return &ProviderConfig{}
}

// ensureProvider 返回可写的 provider 配置
func (c *Config) ensureProvider(name string) *ProviderConfig {
	if c.Providers[name] == nil {
		c.Providers[name] = &ProviderConfig{}
	}
	return c.Providers[name]
}

// ResolveModel 返回最终使用的模型：flag/env/配置 > provider 配置 > ""（由 provider 决定）
func (c *Config) ResolveModel() string {
	if c.Model != "" {
		return c.Model
	}
	return c.GetProviderConfig(c.Provider).Model
}

// ContextWindow 返回模型的 context window。
// 精确匹配优先，其次最长前缀匹配（如 "gpt-4-0613" → "gpt-4"）。
func (c *Config) ContextWindow(model string) int {
	if n, ok := c.Models[model]; ok && n > 0 {
		return n
	}
	if n, ok := DefaultModels[model]; ok {
		return n
	}

	best, window := "", 0
	for _, table := range []map[string]int{DefaultModels, c.Models} {
		for name, n := range table {
			if strings.HasPrefix(model, name) && len(name) > len(best) && n > 0 {
				best, window = name, n
			}
		}
	}
	if window > 0 {
		return window
	}
	return DefaultContextWindow
}

// ResolveTokenLimit 返回对话的 token 上限：显式配置优先，否则由 context window 推导
func (c *Config) ResolveTokenLimit(model string) int {
	if c.TokenLimit > 0 {
		return c.TokenLimit
	}
	return budget.DeriveTokenLimit(c.ContextWindow(model), c.SafetyBufferPercent)
}

// KnownModels 返回所有已知模型名（排序后）
func (c *Config) KnownModels() []string {
	seen := make(map[string]bool)
	for name := range DefaultModels {
		seen[name] = true
	}
	for name := range c.Models {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	switch c.Style {
	case StylePlain, StyleMarkdown:
	default:
		return fmt.Errorf("invalid style %q: must be %q or %q", c.Style, StylePlain, StyleMarkdown)
	}
	switch c.Storage {
	case session.BackendFile, session.BackendSQLite:
	default:
		return fmt.Errorf("invalid storage %q: must be %q or %q", c.Storage, session.BackendFile, session.BackendSQLite)
	}
	if c.TokenLimit < 0 {
		return fmt.Errorf("token_limit must not be negative, got %d", c.TokenLimit)
	}
	model := c.ResolveModel()
	if window := c.ContextWindow(model); c.TokenLimit > window {
		return fmt.Errorf("token_limit %d exceeds the context window of %s (%d)", c.TokenLimit, model, window)
	}
	if c.TokenLimit > 0 && c.TokenLimit < c.Accounting.MessageOverhead {
		return fmt.Errorf("token_limit %d is smaller than the per-message overhead %d", c.TokenLimit, c.Accounting.MessageOverhead)
	}
	if c.SafetyBufferPercent < 0 || c.SafetyBufferPercent >= 100 {
		return fmt.Errorf("safety_buffer_percent must be in [0, 100), got %d", c.SafetyBufferPercent)
	}
	if c.SaveThreshold < 0 || c.SaveThreshold > 1 {
		return fmt.Errorf("save_threshold must be in [0, 1], got %g", c.SaveThreshold)
	}
	if c.RateLimitWait <= 0 {
		return fmt.Errorf("rate_limit_wait must be positive, got %s", c.RateLimitWait)
	}
	return nil
}

// applyEnvOverrides 将环境变量覆盖到配置中
func applyEnvOverrides(cfg *Config) {
	// Provider 选择
	if v := os.Getenv("TERMGPT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("TERMGPT_MODEL"); v != "" {
		cfg.Model = v
	}

	// OpenAI / Anthropic 专用
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.ensureProvider("openai").APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.ensureProvider("anthropic").APIKey = v
	}

	// 通用覆盖，作用于当前 provider
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.ensureProvider(cfg.Provider).APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.ensureProvider(cfg.Provider).BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TERMGPT_HOME"); v != "" {
		cfg.BaseDir = v
	}
}
