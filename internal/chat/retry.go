package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/termgpt/termgpt/internal/budget"
	"github.com/termgpt/termgpt/internal/provider"
)

// complete streams a reply for conv to the IO. Rate limits are retried after
// RateLimitWait for as long as it takes; a context overflow drops the oldest
// non-system message and retries. The returned conversation is what was
// finally sent.
func (s *Session) complete(ctx context.Context, conv provider.Conversation) (*provider.Completion, provider.Conversation, error) {
	req := &provider.ChatRequest{Model: s.opts.Model}
	for attempt := 1; ; attempt++ {
		req.Messages = conv
		s.io.ThinkingStart()
		c, err := provider.Complete(ctx, s.provider, req, s.io.TextDelta)
		if err == nil {
			s.io.TextDone(c.Content)
			return c, conv, nil
		}
		if ctx.Err() != nil {
			return nil, conv, ctx.Err()
		}

		switch {
		case provider.IsRetryable(err):
			s.log.Warn("rate limited", zap.Int("attempt", attempt), zap.Error(err))
			s.io.Error(err.Error())
			s.io.SystemMessage(fmt.Sprintf("Trying again in %s...", s.opts.RateLimitWait.Round(time.Second)))
			if err := sleepWithContext(ctx, s.opts.RateLimitWait); err != nil {
				return nil, conv, err
			}

		case errors.Is(err, provider.ErrContextLengthExceeded):
			trimmed, ok := dropOldest(conv)
			if !ok {
				return nil, conv, budget.ErrReductionExhausted
			}
			s.log.Info("context length exceeded, dropped oldest message",
				zap.Int("attempt", attempt),
				zap.Int("messages", len(trimmed)))
			conv = trimmed

		default:
			return nil, conv, err
		}
	}
}

// dropOldest removes the oldest message after the system prompt. The newest
// message is the one being answered and is never dropped.
func dropOldest(conv provider.Conversation) (provider.Conversation, bool) {
	first := conv.FirstRemovable()
	if len(conv)-first <= 1 {
		return conv, false
	}
	out := make(provider.Conversation, 0, len(conv)-1)
	out = append(out, conv[:first]...)
	out = append(out, conv[first+1:]...)
	return out, true
}

// sleepWithContext waits for d or until ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
