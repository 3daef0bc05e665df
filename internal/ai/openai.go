package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/imagerender"
)

const deepSeekBaseURL = "https://api.deepseek.com/v1"

// OpenAIProvider talks to the OpenAI chat completions API. DeepSeek speaks the
// same protocol and reuses it with a different endpoint and replay shape.
type OpenAIProvider struct {
	base
	client *openai.Client
	// flatten sends history as one text block instead of a message list.
	flatten bool
}

func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	return &OpenAIProvider{base: base{cfg: cfg}}
}

// NewDeepSeekProvider uses the OpenAI protocol against api.deepseek.com.
func NewDeepSeekProvider(cfg ProviderConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = deepSeekBaseURL
	}
	return &OpenAIProvider{base: base{cfg: cfg}, flatten: true}
}

func (p *OpenAIProvider) Initialize(ctx context.Context, proxyURL string) error {
	if p.cfg.APIKey == "" {
		return p.initError(fmt.Errorf("missing api key %q", p.cfg.Vendor.KeyName()))
	}
	if proxyURL == "" {
		proxyURL = p.cfg.ProxyURL
	}
	hc, err := httpClient(proxyURL)
	if err != nil {
		return p.initError(err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(p.cfg.APIKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if p.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	p.client = &client

	if _, err := p.client.Models.List(ctx); err != nil {
		p.client = nil
		return p.initError(err)
	}
	log.Info().Str("vendor", string(p.cfg.Vendor)).Str("model", p.cfg.Model).Msg("provider ready")
	return nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, task Task, timeout time.Duration) (string, error) {
	if p.client == nil {
		return p.finish("", ErrNotInitialized)
	}
	parts, err := UserParts(prompt, task, p.cfg.Images)
	if err != nil {
		return p.finish("", err)
	}
	msgs := []openai.ChatCompletionMessageParamUnion{openAIUserMessage(parts)}
	return p.finish(p.complete(ctx, msgs, timeout))
}

// StartChat keeps the history client-side; the API is stateless.
func (p *OpenAIProvider) StartChat(ctx context.Context, history []Turn) (SessionHandle, error) {
	if p.client == nil {
		return nil, &CallError{Kind: CallVendor, Vendor: p.cfg.Vendor, Err: ErrNotInitialized}
	}
	return SimulatedHandle{History: cloneTurns(history)}, nil
}

// Replay resends the whole conversation. history ends with the new question.
func (p *OpenAIProvider) Replay(ctx context.Context, history []Turn, timeout time.Duration) (string, error) {
	if p.client == nil {
		return p.finish("", ErrNotInitialized)
	}
	var msgs []openai.ChatCompletionMessageParamUnion
	if p.flatten {
		msgs = []openai.ChatCompletionMessageParamUnion{openai.UserMessage(FlattenTranscript(history))}
	} else {
		msgs = make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
		for _, t := range history {
			if t.Role == RoleModel {
				msgs = append(msgs, openai.AssistantMessage(t.Text()))
				continue
			}
			msgs = append(msgs, openAIUserMessage(t.Parts))
		}
	}
	return p.finish(p.complete(ctx, msgs, timeout))
}

func (p *OpenAIProvider) complete(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion, timeout time.Duration) (string, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(p.cfg.Model),
		Messages:  msgs,
		MaxTokens: openai.Int(int64(p.cfg.maxTokens())),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// openAIUserMessage keeps the part order: text blocks as text, images as
// data URLs.
func openAIUserMessage(parts []Part) openai.ChatCompletionMessageParamUnion {
	content := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		if part.IsImage() {
			content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: imagerender.DataURL(part.Image.MIME, part.Image.Data),
			}))
			continue
		}
		if part.Text == "" {
			continue
		}
		content = append(content, openai.TextContentPart(part.Text))
	}
	return openai.UserMessage(content)
}

// FlattenTranscript renders a conversation as a single text block for vendors
// that only take one message. Images become placeholders.
func FlattenTranscript(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	last := history[len(history)-1]
	prior := history[:len(history)-1]

	var b strings.Builder
	if len(prior) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range prior {
			label := "User"
			if t.Role == RoleModel {
				label = "Assistant"
			}
			fmt.Fprintf(&b, "\n%s: %s", label, t.Text())
			if n := len(t.Images()); n > 0 {
				fmt.Fprintf(&b, " [%d image(s) omitted]", n)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n---\nNew question:\n")
	}
	b.WriteString(last.Text())
	return b.String()
}

func cloneTurns(history []Turn) []Turn {
	out := make([]Turn, len(history))
	for i, t := range history {
		out[i] = Turn{Role: t.Role, Parts: append([]Part(nil), t.Parts...)}
	}
	return out
}
