package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/extractor"
	"github.com/local/aihelper/internal/imagerender"
)

// DefaultPath is config.json next to the working directory.
const DefaultPath = "config.json"

// Action is a hotkey-bound task. The hotkey is parsed by the shell.
type Action struct {
	Hotkey string `mapstructure:"hotkey"`
	Prompt string `mapstructure:"prompt"`
}

type DropHandler struct {
	Prompt string `mapstructure:"prompt"`
}

// Timeouts are the watchdog windows per task weight.
type Timeouts struct {
	Text     time.Duration `mapstructure:"text"`
	Image    time.Duration `mapstructure:"image"`
	PDF      time.Duration `mapstructure:"pdf"`
	FollowUp time.Duration `mapstructure:"follow_up"`
}

type ImageConfig struct {
	MaxDimension int `mapstructure:"max_dimension"`
	JPEGQuality  int `mapstructure:"jpeg_quality"`
}

type ExtractorConfig struct {
	MaxPDFPages int     `mapstructure:"max_pdf_pages"`
	DPI         float64 `mapstructure:"dpi"`
}

// ArchiveConfig enables the Redis transcript mirror and the S3 archive when
// their endpoints are set.
type ArchiveConfig struct {
	RedisURL   string        `mapstructure:"redis_url"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	S3Bucket   string        `mapstructure:"s3_bucket"`
	S3Region   string        `mapstructure:"s3_region"`
	S3Endpoint string        `mapstructure:"s3_endpoint"`
	AccessKey  string        `mapstructure:"access_key"`
	SecretKey  string        `mapstructure:"secret_key"`
	Password   string        `mapstructure:"password"`
}

// Config is config.json plus environment overrides.
type Config struct {
	SelectedProvider string                 `mapstructure:"selected_provider"`
	SelectedModel    string                 `mapstructure:"selected_model"`
	APIKeys          map[string]string      `mapstructure:"api_keys"`
	ProxyURL         string                 `mapstructure:"proxy_url"`
	Actions          map[string]Action      `mapstructure:"actions"`
	DropHandlers     map[string]DropHandler `mapstructure:"drop_handlers"`

	Timeouts   Timeouts        `mapstructure:"timeouts"`
	MemoryFile string          `mapstructure:"memory_file"`
	MaxTokens  int             `mapstructure:"max_tokens"`
	Image      ImageConfig     `mapstructure:"image"`
	Extractor  ExtractorConfig `mapstructure:"extractor"`
	Archive    ArchiveConfig   `mapstructure:"archive"`
	HTTPAddr   string          `mapstructure:"http_addr"`

	Logging LoggingConfig `mapstructure:"-"`
	Axiom   AxiomConfig   `mapstructure:"-"`
}

// Load reads .env (if any), then the JSON config at path, then environment
// overrides. A missing config file yields defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("cannot read .env")
	}
	if path == "" {
		path = DefaultPath
	}

	// Extensions such as ".pdf" are map keys, so "." cannot be the key delimiter.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		log.Warn().Str("file", path).Msg("config file not found, using defaults")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("selected_provider", "gemini")
	v.SetDefault("timeouts::text", "20s")
	v.SetDefault("timeouts::image", "12s")
	v.SetDefault("timeouts::pdf", "60s")
	v.SetDefault("timeouts::follow_up", "15s")
	v.SetDefault("memory_file", "memory.txt")
	v.SetDefault("max_tokens", 2048)
	v.SetDefault("image::jpeg_quality", 90)
	v.SetDefault("image::max_dimension", 2048)
	v.SetDefault("extractor::max_pdf_pages", 20)
	v.SetDefault("extractor::dpi", 110)
	v.SetDefault("archive::session_ttl", "24h")
	v.SetDefault("http_addr", "127.0.0.1:8765")
}

// SecretSource looks up API keys outside config.json.
type SecretSource interface {
	Get(key string) (string, error)
}

// ProviderConfig resolves the selected vendor, model, key and proxy. The
// keyring wins over api_keys.
func (c *Config) ProviderConfig(secrets SecretSource) (ai.ProviderConfig, error) {
	vendor, err := ai.ParseVendor(c.SelectedProvider)
	if err != nil {
		return ai.ProviderConfig{}, err
	}
	model := strings.TrimSpace(c.SelectedModel)
	if model == "" {
		return ai.ProviderConfig{}, fmt.Errorf("selected_model is empty")
	}

	key := ""
	if secrets != nil {
		if k, err := secrets.Get(vendor.KeyName()); err == nil {
			key = strings.TrimSpace(k)
		} else {
			log.Debug().Err(err).Str("key", vendor.KeyName()).Msg("no keyring entry, using config.json")
		}
	}
	if key == "" {
		key = strings.TrimSpace(c.APIKeys[vendor.KeyName()])
	}
	if key == "" {
		key = strings.TrimSpace(c.APIKeys[string(vendor)])
	}
	if key == "" {
		return ai.ProviderConfig{}, fmt.Errorf("no API key for %s: set api_keys.%s or store it in the keyring", vendor, vendor.KeyName())
	}

	return ai.ProviderConfig{
		Vendor:    vendor,
		Model:     model,
		APIKey:    key,
		ProxyURL:  ResolveProxy(c.ProxyURL),
		MaxTokens: c.MaxTokens,
		Images:    c.ImageOptions(),
	}, nil
}

func (c *Config) ImageOptions() imagerender.Options {
	return imagerender.Options{MaxDimension: c.Image.MaxDimension, Quality: c.Image.JPEGQuality}
}

func (c *Config) ExtractorOptions() extractor.Options {
	return extractor.Options{MaxPDFPages: c.Extractor.MaxPDFPages, DPI: c.Extractor.DPI, Images: c.ImageOptions()}
}

// ActionPrompt returns the prompt configured for action, or def.
func (c *Config) ActionPrompt(action, def string) string {
	if a, ok := c.Actions[action]; ok && strings.TrimSpace(a.Prompt) != "" {
		return a.Prompt
	}
	return def
}

// DropPrompt returns the prompt for a dropped file extension such as ".pdf".
func (c *Config) DropPrompt(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	h, ok := c.DropHandlers[ext]
	if !ok || strings.TrimSpace(h.Prompt) == "" {
		return "", false
	}
	return h.Prompt, true
}

// ResolveProxy returns the configured proxy, else the one from the
// environment, with a scheme added when it is missing.
func ResolveProxy(configured string) string {
	p := strings.TrimSpace(configured)
	if p == "" {
		for _, k := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy", "ALL_PROXY", "all_proxy"} {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				p = v
				break
			}
		}
	}
	if p == "" {
		return ""
	}
	if !strings.Contains(p, "://") {
		p = "http://" + p
	}
	return p
}
