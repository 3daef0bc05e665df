package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/credential"
)

const sample = `{
  "selected_provider": "claude",
  "selected_model": "claude-3-5-sonnet-latest",
  "api_keys": {"anthropic": "sk-ant-file", "openai": "sk-oa"},
  "proxy_url": "127.0.0.1:7890",
  "actions": {
    "screenshot": {"hotkey": "ctrl+alt+s", "prompt": "Explain this screenshot"},
    "clipboard_text": {"hotkey": "ctrl+alt+c", "prompt": ""}
  },
  "drop_handlers": {
    ".pdf": {"prompt": "Summarize this PDF"},
    ".PY": {"prompt": "Review this code"}
  },
  "timeouts": {"image": "30s"}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	t.Setenv("AIHELPER_HTTP_ADDR", "127.0.0.1:9999")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.SelectedProvider)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Image)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Text)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.PDF)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.FollowUp)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTPAddr)
	assert.Equal(t, 90, cfg.Image.JPEGQuality)
	assert.Equal(t, 20, cfg.Extractor.MaxPDFPages)

	assert.Equal(t, "Explain this screenshot", cfg.ActionPrompt("screenshot", "x"))
	assert.Equal(t, "fallback", cfg.ActionPrompt("clipboard_text", "fallback"))

	p, ok := cfg.DropPrompt(".pdf")
	assert.True(t, ok)
	assert.Equal(t, "Summarize this PDF", p)
	p, ok = cfg.DropPrompt("py")
	assert.True(t, ok)
	assert.Equal(t, "Review this code", p)
	_, ok = cfg.DropPrompt(".docx")
	assert.False(t, ok)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.SelectedProvider)
	assert.Equal(t, 12*time.Second, cfg.Timeouts.Image)
}

func TestLoadInvalidJSON(t *testing.T) {
	_, err := Load(writeConfig(t, "{not json"))
	assert.Error(t, err)
}

func TestProviderConfigPrefersKeyring(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	pc, err := cfg.ProviderConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, ai.VendorClaude, pc.Vendor)
	assert.Equal(t, "claude-3-5-sonnet-latest", pc.Model)
	assert.Equal(t, "sk-ant-file", pc.APIKey)
	assert.Equal(t, "http://127.0.0.1:7890", pc.ProxyURL)
	assert.Equal(t, 2048, pc.MaxTokens)

	store := credential.NewStore(keyring.NewArrayKeyring([]keyring.Item{{Key: "anthropic", Data: []byte("sk-ant-ring")}}))
	pc, err = cfg.ProviderConfig(store)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-ring", pc.APIKey)
}

func TestProviderConfigErrors(t *testing.T) {
	cfg := &Config{SelectedProvider: "mistral", SelectedModel: "m"}
	_, err := cfg.ProviderConfig(nil)
	assert.Error(t, err)

	cfg = &Config{SelectedProvider: "openai"}
	_, err = cfg.ProviderConfig(nil)
	assert.Error(t, err)

	cfg = &Config{SelectedProvider: "deepseek", SelectedModel: "deepseek-chat"}
	_, err = cfg.ProviderConfig(nil)
	assert.ErrorContains(t, err, "no API key")

	cfg = &Config{SelectedProvider: "google_gemini", SelectedModel: "gemini-2.0-flash", APIKeys: map[string]string{"google_gemini": "g"}}
	pc, err := cfg.ProviderConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, ai.VendorGemini, pc.Vendor)
}

func TestResolveProxy(t *testing.T) {
	for _, k := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy", "ALL_PROXY", "all_proxy"} {
		t.Setenv(k, "")
	}
	assert.Equal(t, "", ResolveProxy(""))
	assert.Equal(t, "http://proxy:8080", ResolveProxy(" proxy:8080 "))
	assert.Equal(t, "socks5://proxy:1080", ResolveProxy("socks5://proxy:1080"))

	t.Setenv("HTTP_PROXY", "10.0.0.1:3128")
	assert.Equal(t, "http://10.0.0.1:3128", ResolveProxy(""))
	assert.Equal(t, "http://mine:1", ResolveProxy("mine:1"))
}
