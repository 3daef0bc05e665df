package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/aihelper/internal/ai"
	cfgpkg "github.com/local/aihelper/internal/config"
	"github.com/local/aihelper/internal/credential"
	"github.com/local/aihelper/internal/dispatcher"
	"github.com/local/aihelper/internal/executor"
	logpkg "github.com/local/aihelper/internal/logger"
	"github.com/local/aihelper/internal/metrics"
	"github.com/local/aihelper/internal/session"
	"github.com/local/aihelper/internal/statuscheck"
	"github.com/local/aihelper/internal/storage"
	"github.com/local/aihelper/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "aihelper",
	Short:         "Capture-and-ask helper for Gemini, OpenAI, Claude and DeepSeek",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("AIHELPER_CONFIG")
	if def == "" {
		def = cfgpkg.DefaultPath
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", def, "config file")
	rootCmd.AddCommand(serveCmd, askCmd, keyCmd, archiveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app is everything serve and ask share.
type app struct {
	cfg      *cfgpkg.Config
	provider ai.Provider
	sessions *session.Registry
	disp     *dispatcher.Dispatcher
	checks   statuscheck.Options
	closers  []func()
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.disp != nil {
		a.disp.Close(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	logpkg.Close()
}

func initLogging(cfg *cfgpkg.Config, console io.Writer) {
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		Console:      console,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
}

// openKeyring is optional; headless machines often have no backend.
func openKeyring() cfgpkg.SecretSource {
	ks, err := credential.Open()
	if err != nil {
		log.Debug().Err(err).Msg("keyring unavailable, using config.json keys")
		return nil
	}
	return ks
}

// setup loads config, starts logging and brings the provider up. A provider
// that fails its live check is fatal.
func setup(ctx context.Context, console io.Writer, withArchive bool) (*app, error) {
	cfg, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	initLogging(cfg, console)
	metrics.Init()

	a := &app{cfg: cfg}
	pc, err := cfg.ProviderConfig(openKeyring())
	if err != nil {
		a.Close()
		return nil, err
	}
	p, err := ai.New(pc)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := p.Initialize(ctx, pc.ProxyURL); err != nil {
		a.Close()
		return nil, fmt.Errorf("%s", ai.UserMessage(err))
	}
	a.provider = p
	log.Info().Str("vendor", string(pc.Vendor)).Str("model", pc.Model).Bool("proxy", pc.ProxyURL != "").Msg("provider ready")

	var opts []session.Option
	if withArchive {
		opts = a.archiveOptions(ctx)
	}
	exec := executor.New(pc.Vendor, pc.Model)
	a.sessions = session.NewRegistry(p, exec, opts...)
	a.disp = dispatcher.New(dispatcher.Deps{
		Config:   cfg,
		Provider: p,
		Executor: exec,
		Sessions: a.sessions,
	})
	return a, nil
}

// archiveOptions wires the Redis mirror and the S3 archive when configured.
// Either failing to start only disables that feature.
func (a *app) archiveOptions(ctx context.Context) []session.Option {
	var opts []session.Option
	arc := a.cfg.Archive
	if arc.RedisURL != "" {
		ts, err := store.NewTranscriptStore(arc.RedisURL, arc.SessionTTL)
		if err != nil {
			log.Error().Err(err).Msg("transcript store disabled")
		} else {
			a.closers = append(a.closers, func() { _ = ts.Close() })
			opts = append(opts, session.WithTurnSink(ts))
			a.checks.Transcripts = ts
			log.Info().Dur("ttl", arc.SessionTTL).Msg("mirroring sessions to redis")
		}
	}
	if arc.S3Bucket != "" {
		archiver, err := newArchiver(ctx, a.cfg)
		if err != nil {
			log.Error().Err(err).Msg("transcript archive disabled")
		} else {
			opts = append(opts, session.WithArchiver(archiver))
			a.checks.Archive = archiver
			log.Info().Str("bucket", arc.S3Bucket).Bool("encrypted", arc.Password != "").Msg("archiving transcripts to s3")
		}
	}
	return opts
}

func newArchiver(ctx context.Context, cfg *cfgpkg.Config) (*storage.Archiver, error) {
	arc := cfg.Archive
	return storage.NewArchiver(ctx, storage.Options{
		Bucket:          arc.S3Bucket,
		Region:          arc.S3Region,
		Endpoint:        arc.S3Endpoint,
		AccessKeyID:     arc.AccessKey,
		SecretAccessKey: arc.SecretKey,
		Password:        arc.Password,
	})
}
