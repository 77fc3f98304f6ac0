package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicProvider implements Provider using the Anthropic native API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(0),
		),
		model: model,
	}
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.model }

func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	system, msgs := buildAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	ch := make(chan Event, 16)
	go p.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the Anthropic SSE stream and emits unified events.
//
// Input tokens are reported once in message_start, output tokens in the
// final message_delta.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], ch chan<- Event) {
	defer close(ch)
	defer stream.Close()

	usage := &Usage{}
	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- Event{Type: EventError, Error: ctx.Err()}
			return
		default:
		}

		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.PromptTokens = int(variant.Message.Usage.InputTokens)

		case anthropic.ContentBlockDeltaEvent:
			if d, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
				ch <- Event{Type: EventTextDelta, TextDelta: d.Text}
			}

		case anthropic.MessageDeltaEvent:
			usage.CompletionTokens = int(variant.Usage.OutputTokens)
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			ch <- Event{Type: EventError, Error: ctx.Err()}
			return
		}
		ch <- Event{Type: EventError, Error: p.classify(err)}
		return
	}

	ch <- Event{Type: EventDone, Usage: usage}
}

func (p *AnthropicProvider) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(p.Name(), apiErr.StatusCode, "", apiErr.Error(), err)
	}
	return &Error{Provider: p.Name(), Message: fmt.Sprintf("streaming error: %v", err), Err: err}
}

// buildAnthropicMessages hoists system messages into the system prompt and
// converts the rest. Anthropic has no speaker names, so Name is prefixed to
// the text instead.
func buildAnthropicMessages(msgs Conversation) (string, []anthropic.MessageParam) {
	var system []string
	var params []anthropic.MessageParam

	for _, msg := range msgs {
		text := msg.Content
		if msg.Name != "" && msg.Role != RoleSystem {
			text = msg.Name + ": " + text
		}
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleUser:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		case RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		}
	}

	// The API rejects requests without a user turn (e.g. the welcome request).
	if len(params) == 0 {
		params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock("Hello")))
	}
	return strings.Join(system, "\n\n"), params
}
