package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// GeminiProvider uses the Gemini API. It is the only vendor with native chat
// sessions, so it does not implement Replayer.
type GeminiProvider struct {
	base
	client *genai.Client
}

func NewGeminiProvider(cfg ProviderConfig) *GeminiProvider {
	return &GeminiProvider{base: base{cfg: cfg}}
}

func (p *GeminiProvider) Initialize(ctx context.Context, proxyURL string) error {
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

	cc := &genai.ClientConfig{
		APIKey:     p.cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
	}
	if p.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return p.initError(err)
	}

	// A token count is the cheapest call that proves key, model and network.
	if _, err := client.Models.CountTokens(ctx, p.cfg.Model, genai.Text("test"), nil); err != nil {
		return p.initError(err)
	}
	p.client = client
	log.Info().Str("vendor", string(p.cfg.Vendor)).Str("model", p.cfg.Model).Msg("provider ready")
	return nil
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, task Task, timeout time.Duration) (string, error) {
	if p.client == nil {
		return p.finish("", ErrNotInitialized)
	}
	parts, err := UserParts(prompt, task, p.cfg.Images)
	if err != nil {
		return p.finish("", err)
	}

	system, parts := splitParts(parts)

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model,
		[]*genai.Content{genai.NewContentFromParts(geminiParts(parts), genai.RoleUser)}, p.generateConfig(system))
	if err != nil {
		return p.finish("", err)
	}
	return p.finish(resp.Text(), nil)
}

// StartChat opens a vendor-side chat seeded with history.
func (p *GeminiProvider) StartChat(ctx context.Context, history []Turn) (SessionHandle, error) {
	if p.client == nil {
		return nil, &CallError{Kind: CallVendor, Vendor: p.cfg.Vendor, Err: ErrNotInitialized}
	}
	var system string
	seed := make([]*genai.Content, 0, len(history))
	for i, t := range history {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		parts := t.Parts
		if i == 0 && t.Role == RoleUser {
			system, parts = splitParts(parts)
		}
		seed = append(seed, genai.NewContentFromParts(geminiParts(parts), role))
	}
	chat, err := p.client.Chats.Create(ctx, p.cfg.Model, p.generateConfig(system), seed)
	if err != nil {
		return nil, classify(p.cfg.Vendor, err)
	}
	return NativeHandle{Chat: &geminiChat{p: p, chat: chat}}, nil
}

func (p *GeminiProvider) generateConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(p.cfg.maxTokens())}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

type geminiChat struct {
	p    *GeminiProvider
	chat *genai.Chat
}

func (c *geminiChat) Send(ctx context.Context, parts []Part, timeout time.Duration) (string, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	gp := geminiParts(parts)
	msg := make([]genai.Part, 0, len(gp))
	for _, part := range gp {
		msg = append(msg, *part)
	}
	resp, err := c.chat.SendMessage(ctx, msg...)
	if err != nil {
		return c.p.finish("", err)
	}
	return c.p.finish(resp.Text(), nil)
}

func geminiParts(parts []Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.IsImage():
			out = append(out, genai.NewPartFromBytes(part.Image.Data, part.Image.MIME))
		case part.Text != "":
			out = append(out, genai.NewPartFromText(part.Text))
		}
	}
	return out
}
