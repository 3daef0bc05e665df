package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/local/aihelper/internal/imagerender"
)

const defaultMaxTokens = 2048

// ProviderConfig is the immutable identity of one provider instance.
type ProviderConfig struct {
	Vendor    Vendor
	Model     string
	APIKey    string
	ProxyURL  string
	// BaseURL overrides the vendor endpoint; empty uses the SDK default.
	BaseURL   string
	MaxTokens int
	Images    imagerender.Options
}

func (c ProviderConfig) maxTokens() int {
	if c.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return c.MaxTokens
}

// Provider is implemented once per vendor.
type Provider interface {
	// FriendlyName is the display label; it defaults to the model name.
	FriendlyName() string
	Vendor() Vendor
	// Initialize builds the client and performs one live check. It is called
	// exactly once, before any other method.
	Initialize(ctx context.Context, proxyURL string) error
	// Generate builds the vendor request from (prompt, task), runs it and
	// returns the trimmed reply. Text and error are mutually exclusive.
	Generate(ctx context.Context, prompt string, task Task, timeout time.Duration) (string, error)
	// StartChat returns a handle for follow-ups seeded with history
	// (user request + model reply).
	StartChat(ctx context.Context, history []Turn) (SessionHandle, error)
}

// Replayer is implemented by stateless vendors: history ends with the new
// user turn and is sent in full.
type Replayer interface {
	Replay(ctx context.Context, history []Turn, timeout time.Duration) (string, error)
}

// SessionHandle is NativeHandle or SimulatedHandle.
type SessionHandle interface{ sessionHandle() }

// NativeChat is a vendor-side stateful conversation.
type NativeChat interface {
	Send(ctx context.Context, parts []Part, timeout time.Duration) (string, error)
}

// NativeHandle wraps a vendor chat object that keeps history server-side.
type NativeHandle struct{ Chat NativeChat }

// SimulatedHandle carries the history a stateless vendor needs replayed.
type SimulatedHandle struct{ History []Turn }

func (NativeHandle) sessionHandle()    {}
func (SimulatedHandle) sessionHandle() {}

// New returns the provider for cfg.Vendor. Initialize must still be called.
func New(cfg ProviderConfig) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("no model configured for %s", cfg.Vendor)
	}
	switch cfg.Vendor {
	case VendorGemini:
		return NewGeminiProvider(cfg), nil
	case VendorOpenAI:
		return NewOpenAIProvider(cfg), nil
	case VendorClaude:
		return NewClaudeProvider(cfg), nil
	case VendorDeepSeek:
		return NewDeepSeekProvider(cfg), nil
	}
	return nil, fmt.Errorf("unsupported vendor %q", cfg.Vendor)
}

// base holds what every vendor shares.
type base struct {
	cfg ProviderConfig
}

func (b *base) FriendlyName() string { return b.cfg.Model }
func (b *base) Vendor() Vendor       { return b.cfg.Vendor }

// finish trims the reply and maps errors so callers never see both.
func (b *base) finish(text string, err error) (string, error) {
	if err != nil {
		return "", classify(b.cfg.Vendor, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &CallError{Kind: CallVendor, Vendor: b.cfg.Vendor, Err: ErrEmptyResponse}
	}
	return text, nil
}

func (b *base) initError(err error) error {
	return &InitError{Vendor: b.cfg.Vendor, Model: b.cfg.Model, Err: err}
}

// httpClient routes through proxyURL when given, otherwise through the
// environment's proxy settings.
func httpClient(proxyURL string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", proxyURL, err)
		}
		tr.Proxy = http.ProxyURL(u)
	} else {
		tr.Proxy = http.ProxyFromEnvironment
	}
	return &http.Client{Transport: tr}, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
