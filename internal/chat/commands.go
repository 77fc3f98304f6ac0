package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/termgpt/termgpt/internal/provider"
	"github.com/termgpt/termgpt/internal/session"
)

const helpText = `Available commands:
  /help              Show this help message
  /usage             Show token usage against the limit
  /history           Show the conversation so far
  /save [name]       Save the conversation (optionally under a new name)
  /quit              Exit (also: exit, quit, /exit, /q, Ctrl+D)`

// handleSlashCommand processes built-in commands.
// Returns (handled, shouldQuit). Unknown commands go to the model as text.
func (s *Session) handleSlashCommand(ctx context.Context, input string) (bool, bool) {
	parts := strings.SplitN(strings.TrimSpace(input), " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, true
	case "/help":
		s.io.SystemMessage(helpText)
		return true, false
	case "/usage":
		s.io.SystemMessage(s.formatUsage())
		return true, false
	case "/history":
		s.io.SystemMessage(formatHistory(s.conv))
		return true, false
	case "/save":
		s.handleSave(ctx, arg)
		return true, false
	default:
		return false, false
	}
}

func (s *Session) formatUsage() string {
	return fmt.Sprintf("API total usage:     %d tokens\nCounter total usage: %d tokens\nToken limit:         %d tokens",
		s.budget.TotalUsage, s.acct.Count(s.conv), s.budget.TokenLimit)
}

func (s *Session) handleSave(ctx context.Context, arg string) {
	if s.store == nil {
		s.io.Error("this session has no conversation store")
		return
	}
	name := s.name
	if arg != "" {
		name = arg
		if session.ValidateName(name) != nil {
			name = session.SanitizeName(arg)
		}
		if name == "" {
			s.io.Error(fmt.Sprintf("invalid conversation name %q", arg))
			return
		}
	}
	if name == "" {
		name = s.generateName(ctx)
	}
	if err := s.store.Save(name, s.conv); err != nil {
		s.io.Error(fmt.Sprintf("save conversation: %v", err))
		return
	}
	s.name = name
	s.io.SystemMessage(fmt.Sprintf("Conversation saved as %q (%d messages).", name, len(s.conv)))
}

func formatHistory(conv provider.Conversation) string {
	if len(conv) == 0 {
		return "No history."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== History (%d messages) ===\n", len(conv))
	for i, msg := range conv {
		speaker := string(msg.Role)
		if msg.Name != "" {
			speaker += " (" + msg.Name + ")"
		}
		fmt.Fprintf(&sb, "[%d] %s: %s\n", i, speaker, truncate(strings.ReplaceAll(msg.Content, "\n", " "), 100))
	}
	sb.WriteString("===")
	return sb.String()
}
