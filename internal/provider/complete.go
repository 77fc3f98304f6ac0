package provider

import (
	"context"
	"fmt"
	"strings"
)

// Completion is a fully assembled reply.
type Completion struct {
	Content string
	Usage   Usage
}

// Complete sends req and drains the stream into a Completion. onDelta, when
// non-nil, is called for every text chunk as it arrives.
func Complete(ctx context.Context, p Provider, req *ChatRequest, onDelta func(string)) (*Completion, error) {
	events, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		text      strings.Builder
		usage     Usage
		streamErr error
	)
	for event := range events {
		switch event.Type {
		case EventTextDelta:
			text.WriteString(event.TextDelta)
			if onDelta != nil {
				onDelta(event.TextDelta)
			}
		case EventDone:
			if event.Usage != nil {
				usage = *event.Usage
			}
		case EventError:
			// Keep draining so the adapter goroutine can exit.
			if streamErr == nil {
				streamErr = event.Error
			}
		}
	}
	if streamErr != nil {
		return nil, streamErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Completion{Content: text.String(), Usage: usage}, nil
}

// Ask is a convenience wrapper for single-shot questions that do not need
// streaming, such as conversation titles.
func Ask(ctx context.Context, p Provider, model string, msgs Conversation) (string, error) {
	c, err := Complete(ctx, p, &ChatRequest{Model: model, Messages: msgs}, nil)
	if err != nil {
		return "", fmt.Errorf("ask %s: %w", p.Name(), err)
	}
	return c.Content, nil
}
