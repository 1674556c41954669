package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casualjim/chatstream/conversation"
	"github.com/casualjim/chatstream/digest"
	"github.com/casualjim/chatstream/pkg/slogx"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// SummaryPrompt is the system prompt used by Summarize.
const SummaryPrompt = "Summarize the following user messages as one short sentence in the language they are written in."

var _ digest.Summarizer = (*Provider)(nil)

// Settings are the completion parameters sent with every request.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Provider talks to an OpenAI compatible API for the non-streaming calls.
type Provider struct {
	client   openai.Client
	settings Settings
	logger   *slog.Logger
}

// New creates a provider. The request options carry the base URL, API key and HTTP client.
func New(settings Settings, options ...option.RequestOption) *Provider {
	return &Provider{
		client:   openai.NewClient(options...),
		settings: settings,
		logger:   slog.Default().With(slogx.LoggerName("chatstream.provider.openai")),
	}
}

// Ping tests the connection and the credential by listing the available models.
func (p *Provider) Ping(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	p.logger.Debug("connection ok", slog.Int("models", len(ids)))
	return ids, nil
}

// Complete runs one non-streaming completion over the history and returns the reply text.
func (p *Provider) Complete(ctx context.Context, systemPrompt string, history []conversation.Message) (string, error) {
	params, err := p.buildRequest(systemPrompt, history)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Summarize condenses a group of messages into one sentence.
func (p *Provider) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(m.Content)
	}
	summary, err := p.Complete(ctx, SummaryPrompt, []conversation.Message{{Content: b.String(), Sender: conversation.SenderUser}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

func (p *Provider) buildRequest(systemPrompt string, history []conversation.Message) (openai.ChatCompletionNewParams, error) {
	msgs := messagesToOpenAI(systemPrompt, history)
	if len(msgs) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("no messages to send")
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    p.settings.Model,
	}
	if p.settings.Temperature > 0 {
		params.Temperature = openai.Float(p.settings.Temperature)
	}
	if p.settings.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.settings.MaxTokens))
	}
	return params, nil
}

func messagesToOpenAI(systemPrompt string, history []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		result = append(result, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		switch m.Sender {
		case conversation.SenderAssistant:
			result = append(result, openai.AssistantMessage(m.Content))
		case conversation.SenderSystem:
			result = append(result, openai.SystemMessage(m.Content))
		default:
			result = append(result, openai.UserMessage(m.Content))
		}
	}
	return result
}
