package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIProvider implements Provider for all OpenAI-compatible APIs,
// including OpenAI, DeepSeek, Groq, Kimi, Qwen, etc.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	name    string
	baseURL string
}

func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	name := "openai"
	if baseURL != "" {
		switch {
		case strings.Contains(baseURL, "deepseek"):
			name = "deepseek"
		case strings.Contains(baseURL, "groq"):
			name = "groq"
		case strings.Contains(baseURL, "moonshot"):
			name = "kimi"
		case strings.Contains(baseURL, "dashscope"):
			name = "qwen"
		}
	}

	return &OpenAIProvider{
		// Retries are owned by the chat session (unbounded on 429).
		client:  openai.NewClient(append(opts, option.WithMaxRetries(0))...),
		model:   model,
		name:    name,
		baseURL: baseURL,
	}
}

func (p *OpenAIProvider) Name() string        { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.model }

func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: buildOpenAIMessages(req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan Event, 16)
	go p.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the SSE stream and emits unified events. With
// include_usage set, the usage figures arrive in a trailing chunk that has no
// choices, after the chunk carrying finish_reason.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], ch chan<- Event) {
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

		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 {
			usage = &Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			ch <- Event{Type: EventTextDelta, TextDelta: delta}
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

// classify maps openai-go API errors onto the provider error taxonomy.
func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(p.name, apiErr.StatusCode, apiErr.Code, apiErr.Message, err)
	}
	return &Error{Provider: p.name, Message: fmt.Sprintf("streaming error: %v", err), Err: err}
}

// buildOpenAIMessages converts the conversation to OpenAI message params.
func buildOpenAIMessages(msgs Conversation) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			m := openai.SystemMessage(msg.Content)
			if msg.Name != "" {
				m.OfSystem.Name = openai.String(msg.Name)
			}
			params = append(params, m)
		case RoleUser:
			m := openai.UserMessage(msg.Content)
			if msg.Name != "" {
				m.OfUser.Name = openai.String(msg.Name)
			}
			params = append(params, m)
		case RoleAssistant:
			m := openai.AssistantMessage(msg.Content)
			if msg.Name != "" {
				m.OfAssistant.Name = openai.String(msg.Name)
			}
			params = append(params, m)
		}
	}
	return params
}
