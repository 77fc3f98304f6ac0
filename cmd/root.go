package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/termgpt/termgpt/internal/budget"
	"github.com/termgpt/termgpt/internal/config"
	"github.com/termgpt/termgpt/internal/provider"
	"github.com/termgpt/termgpt/internal/secrets"
	"github.com/termgpt/termgpt/internal/session"
	"github.com/termgpt/termgpt/internal/tokenizer"
)

var (
	cfgFile        string
	modelFlag      string
	providerFlag   string
	styleFlag      string
	tokenLimitFlag int
	debugFlag      bool
	useTUI         bool
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	if err := newRootCmd(version, commit, date).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   config.AppName,
		Short: "Chat with an LLM from your terminal",
		Long: "termgpt is a terminal chat client that keeps the conversation inside the model's\n" +
			"token budget and saves it so you can pick it up later.",
		// Running termgpt with no subcommand starts a new conversation.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.termgpt/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "override provider")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override model")
	rootCmd.PersistentFlags().IntVar(&tokenLimitFlag, "token-limit", 0, "max prompt tokens sent to the model (0 = derived from the context window)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "write debug logs (token accounting, retries) to the log file")
	rootCmd.PersistentFlags().StringVar(&styleFlag, "style", "", "reply style: plain or markdown")
	rootCmd.PersistentFlags().BoolVar(&useTUI, "tui", false, "use the full-screen bubbletea interface")

	// Subcommands
	rootCmd.AddCommand(newNewCmd())
	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newOneShotCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	return rootCmd
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config values
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if tokenLimitFlag > 0 {
		cfg.TokenLimit = tokenLimitFlag
	}
	if styleFlag != "" {
		cfg.Style = styleFlag
	}
	if debugFlag {
		cfg.Logging.Level = "debug"
	}
	if cmd.Root().PersistentFlags().Changed("tui") {
		cfg.TUI = useTUI
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// providerBaseURLs maps OpenAI-compatible provider names to their base URLs.
var providerBaseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"deepseek": "https://api.deepseek.com",
	"kimi":     "https://api.moonshot.cn/v1",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"groq":     "https://api.groq.com/openai/v1",
}

// resolveAPIKey prefers the environment and config file over the key saved
// by "termgpt install".
func resolveAPIKey(cfg *config.Config) (string, error) {
	if key := cfg.GetProviderConfig(cfg.Provider).APIKey; key != "" {
		return key, nil
	}
	key, err := secrets.Load(cfg.BaseDir)
	if err == nil {
		return key, nil
	}
	if errors.Is(err, secrets.ErrNotInstalled) {
		return "", fmt.Errorf(
			"API key not configured for provider %q.\n"+
				"Set it via:\n"+
				"  - config file: providers.%s.api_key\n"+
				"  - environment: OPENAI_API_KEY or LLM_API_KEY\n"+
				"  - run: termgpt install",
			cfg.Provider, cfg.Provider,
		)
	}
	return "", err
}

// buildProvider creates a Provider instance based on configuration.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	apiKey, err := resolveAPIKey(cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.Provider
	pc := cfg.GetProviderConfig(name)
	model := cfg.ResolveModel()

	switch name {
	case "anthropic":
		return provider.NewAnthropicProvider(apiKey, model), nil
	default:
		// All other providers use OpenAI-compatible API
		baseURL := pc.BaseURL
		if baseURL == "" {
			u, ok := providerBaseURLs[name]
			if !ok {
				return nil, fmt.Errorf("unknown provider %q; set providers.%s.base_url in config", name, name)
			}
			baseURL = u
		}
		return provider.NewOpenAIProvider(apiKey, baseURL, model), nil
	}
}

// app holds everything a command needs to run a conversation.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	store      session.Store
	provider   provider.Provider
	acct       *budget.Accountant
	model      string
	tokenLimit int
}

// newApp loads the configuration and opens the logger, the conversation
// store and, when withProvider is set, the provider and tokenizer.
func newApp(cmd *cobra.Command, withProvider bool) (*app, error) {
	cfg, err := initConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := config.NewLogger(cfg.Logging, cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	a.store, err = session.Open(cfg.Storage, cfg.BaseDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening conversation store: %w", err)
	}

	if !withProvider {
		return a, nil
	}
	a.provider, err = buildProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.model = cfg.ResolveModel()
	if a.model == "" {
		a.model = a.provider.DefaultModel()
	}
	a.tokenLimit = cfg.ResolveTokenLimit(a.model)

	tok, err := tokenizer.New(a.model, cfg.Encoding)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.acct = budget.NewAccountant(tok)
	a.acct.MessageOverhead = cfg.Accounting.MessageOverhead
	a.acct.NameAdjustment = cfg.Accounting.NameAdjustment
	a.acct.ReplyPriming = cfg.Accounting.ReplyPriming

	log.Debug("starting",
		zap.String("provider", a.provider.Name()),
		zap.String("model", a.model),
		zap.String("encoding", tok.Name()),
		zap.Int("token_limit", a.tokenLimit),
		zap.String("storage", cfg.Storage))
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing conversation store", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func (a *app) promptDir() string {
	return filepath.Join(a.cfg.BaseDir, "prompts")
}
