package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/termgpt/termgpt/internal/provider"
	"github.com/termgpt/termgpt/internal/session"
)

// persist saves a named conversation every turn. An unnamed one is named and
// saved once its usage passes the save threshold, so throwaway questions
// leave nothing behind.
func (s *Session) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	name, first := s.name, s.name == ""
	if first {
		if !s.budget.ShouldPersist(s.opts.SaveThreshold) {
			return
		}
		name = s.generateName(ctx)
	}
	if err := s.store.Save(name, s.conv); err != nil {
		s.io.Error(fmt.Sprintf("save conversation: %v", err))
		return
	}
	if first {
		s.name = name
		s.io.SystemMessage(fmt.Sprintf("Conversation saved as %q.", name))
	}
}

// generateName asks the model for a title and turns it into a unique storage
// name. Any failure falls back to a random name.
func (s *Session) generateName(ctx context.Context) string {
	taken, err := session.Names(s.store)
	if err != nil {
		s.log.Warn("list conversations", zap.Error(err))
	}

	instruction := s.opts.Prompts.Title
	if len(taken) > 0 {
		instruction += "\n- Keep it unique amongst these existing names: " + strings.Join(taken, ", ")
	}
	msgs := append(s.conv.Clone(), provider.SystemMessage(instruction))

	name := ""
	title, err := provider.Ask(ctx, s.provider, s.opts.Model, msgs)
	if err != nil {
		s.log.Warn("title request failed", zap.Error(err))
	} else {
		name = session.SanitizeName(title)
	}
	if name == "" {
		name = session.FallbackName()
	}
	return session.UniqueName(name, taken)
}
