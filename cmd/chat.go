package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/termgpt/termgpt/internal/chat"
	"github.com/termgpt/termgpt/internal/session"
	"github.com/termgpt/termgpt/internal/tui"
)

// slashCommands are offered by tab completion in the plain interface.
var slashCommands = []string{"/help", "/usage", "/history", "/save", "/quit"}

func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// newSession builds a chat session on ui. store may be nil.
func (a *app) newSession(ui tui.IO, store session.Store) *chat.Session {
	prompts := chat.LoadPrompts(a.promptDir())
	if a.cfg.SystemPrompt != "" {
		prompts.System = a.cfg.SystemPrompt
	}
	return chat.New(a.provider, a.acct, store, ui, a.log.Named("chat"), chat.Options{
		Model:         a.model,
		TokenLimit:    a.tokenLimit,
		SaveThreshold: a.cfg.SaveThreshold,
		RateLimitWait: a.cfg.RateLimitWait,
		Prompts:       prompts,
	})
}

// isInteractive reports whether both stdin and stdout are terminals.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		return w
	}
	return 0
}

// newPlainIO creates the line-mode interface for the configured style.
func (a *app) newPlainIO(interactive bool) *tui.PlainIO {
	return tui.NewPlainIO(tui.PlainOptions{
		Style:       a.cfg.Style,
		Interactive: interactive,
		HistoryFile: filepath.Join(a.cfg.BaseDir, "history"),
		Width:       terminalWidth(),
	})
}

// runChat runs the interactive loop in the configured interface. begin
// prepares the session (new or loaded conversation) and greets the user.
func (a *app) runChat(title string, begin func(ctx context.Context, s *chat.Session) error) error {
	if a.cfg.TUI {
		return tui.RunTUI(tui.TUIConfig{Model: a.model, Conversation: title}, func(ui tui.IO) error {
			return a.chat(ui, begin)
		})
	}

	ui := a.newPlainIO(isInteractive())
	defer ui.Close()
	ui.SetCompleter(completeSlash)
	return a.chat(ui, begin)
}

func (a *app) chat(ui tui.IO, begin func(ctx context.Context, s *chat.Session) error) error {
	// SIGINT is handled per turn by the IO; SIGTERM ends the session.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	s := a.newSession(ui, a.store)
	if err := begin(ctx, s); err != nil {
		// The greeting error is already on screen; the chat can go on.
		a.log.Debug("greeting failed", zap.Error(err))
	}

	err := s.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
