package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

// ClaudeProvider uses the Anthropic messages API. The background section of a
// prompt goes to the system field; images precede the request text.
type ClaudeProvider struct {
	base
	client *anthropic.Client
}

func NewClaudeProvider(cfg ProviderConfig) *ClaudeProvider {
	return &ClaudeProvider{base: base{cfg: cfg}}
}

func (p *ClaudeProvider) Initialize(ctx context.Context, proxyURL string) error {
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
	client := anthropic.NewClient(opts...)
	p.client = &client

	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		p.client = nil
		return p.initError(err)
	}
	log.Info().Str("vendor", string(p.cfg.Vendor)).Str("model", p.cfg.Model).Msg("provider ready")
	return nil
}

func (p *ClaudeProvider) Generate(ctx context.Context, prompt string, task Task, timeout time.Duration) (string, error) {
	if p.client == nil {
		return p.finish("", ErrNotInitialized)
	}
	parts, err := UserParts(prompt, task, p.cfg.Images)
	if err != nil {
		return p.finish("", err)
	}
	system, msgs := claudeMessages([]Turn{{Role: RoleUser, Parts: parts}})
	return p.finish(p.send(ctx, system, msgs, timeout))
}

func (p *ClaudeProvider) StartChat(ctx context.Context, history []Turn) (SessionHandle, error) {
	if p.client == nil {
		return nil, &CallError{Kind: CallVendor, Vendor: p.cfg.Vendor, Err: ErrNotInitialized}
	}
	return SimulatedHandle{History: cloneTurns(history)}, nil
}

func (p *ClaudeProvider) Replay(ctx context.Context, history []Turn, timeout time.Duration) (string, error) {
	if p.client == nil {
		return p.finish("", ErrNotInitialized)
	}
	system, msgs := claudeMessages(history)
	return p.finish(p.send(ctx, system, msgs, timeout))
}

func (p *ClaudeProvider) send(ctx context.Context, system string, msgs []anthropic.MessageParam, timeout time.Duration) (string, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(p.cfg.maxTokens()),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// claudeMessages converts history to messages. The background of the first
// user turn becomes the system prompt; images go before the text blocks.
func claudeMessages(history []Turn) (string, []anthropic.MessageParam) {
	var system string
	msgs := make([]anthropic.MessageParam, 0, len(history))
	for i, t := range history {
		if t.Role == RoleModel {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text())))
			continue
		}
		parts := t.Parts
		if i == 0 {
			system, parts = splitParts(parts)
		}
		var images, texts []anthropic.ContentBlockParamUnion
		for _, part := range parts {
			switch {
			case part.IsImage():
				images = append(images, anthropic.NewImageBlockBase64(part.Image.MIME, base64.StdEncoding.EncodeToString(part.Image.Data)))
			case part.Text != "":
				texts = append(texts, anthropic.NewTextBlock(part.Text))
			}
		}
		msgs = append(msgs, anthropic.NewUserMessage(append(images, texts...)...))
	}
	return system, msgs
}
