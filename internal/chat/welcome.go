package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/termgpt/termgpt/internal/budget"
	"github.com/termgpt/termgpt/internal/provider"
)

// Welcome greets a new conversation. The instruction and the greeting are
// shown only; neither becomes part of the conversation.
func (s *Session) Welcome(ctx context.Context) error {
	return s.greet(ctx, s.opts.Prompts.Welcome)
}

// WelcomeBack greets a loaded conversation with a summary of where it left
// off. An oversized conversation is reduced first.
func (s *Session) WelcomeBack(ctx context.Context) error {
	return s.greet(ctx, s.opts.Prompts.WelcomeBack)
}

func (s *Session) greet(ctx context.Context, instruction string) error {
	if instruction == "" {
		return nil
	}
	msgs := s.conv
	usage := s.acct.Count(msgs)
	if budget.Exceeding(usage, s.budget.TokenLimit) {
		reduced, newUsage, err := s.reducer.Reduce(msgs, usage, s.budget.TokenLimit)
		if err != nil {
			s.io.Error(err.Error())
			return err
		}
		// The loaded conversation is kept trimmed so the first turn fits.
		s.conv, s.budget.TotalUsage = reduced, newUsage
		s.io.SetTokens(newUsage, s.budget.TokenLimit)
		msgs = reduced
	}

	req := append(msgs.Clone(), provider.SystemMessage(instruction))
	_, _, err := s.complete(ctx, req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	default:
		s.log.Debug("greeting failed", zap.Error(err))
		s.io.Error(err.Error())
		return err
	}
}

// OneShot answers a single question with the system prompt and nothing
// else. Nothing is appended or saved.
func (s *Session) OneShot(ctx context.Context, question string) error {
	conv := provider.Conversation{
		provider.SystemMessage(s.opts.Prompts.System),
		provider.UserMessage(question),
	}
	usage := s.acct.Count(conv)
	if budget.Exceeding(usage, s.budget.TokenLimit) {
		reduced, _, err := s.reducer.Reduce(conv, usage, s.budget.TokenLimit)
		if err == nil && !endsWithUser(reduced) {
			err = budget.ErrReductionExhausted
		}
		if err != nil {
			s.io.Error(fmt.Sprintf("%v: shorten your question or raise the token limit", err))
			return err
		}
		conv = reduced
	}

	_, _, err := s.complete(ctx, conv)
	if err != nil {
		s.io.Error(err.Error())
	}
	return err
}
