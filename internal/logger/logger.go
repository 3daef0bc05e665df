package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	serviceName    = "aihelper"
	defaultDataset = "dev_aihelper"

	axiomBuffer    = 1000
	axiomBatchSize = 200
	axiomTimeout   = 15 * time.Second
)

// Options defines logger initialization parameters.
type Options struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console receives the console stream; nil means stdout. The ask command
	// points it at stderr so stdout carries only the answer.
	Console io.Writer

	// Axiom
	SendToAxiom  bool
	AxiomAPIKey  string
	AxiomOrgID   string
	AxiomDataset string
	AxiomFlush   time.Duration
}

var (
	global zerolog.Logger
	ax     *axiomBatcher
)

// Init builds the global logger. Console output is always on; the rotated
// file and Axiom forwarding are added when configured. An Axiom failure only
// disables forwarding.
func Init(opts Options) error {
	writers := []io.Writer{consoleWriter(opts)}

	if opts.File != "" {
		fw, err := fileWriter(opts)
		if err != nil {
			return err
		}
		writers = append(writers, fw)
	}

	if opts.SendToAxiom && opts.AxiomAPIKey != "" {
		b, err := dialAxiom(opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
		} else {
			ax = b
			writers = append(writers, &axiomWriter{sink: b})
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	global = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(opts.Level)).
		With().Timestamp().Str("service", serviceName).
		Logger()
	log.Logger = global
	return nil
}

// Close stops Axiom forwarding after a final flush.
func Close() {
	if ax != nil {
		_ = ax.Close()
		ax = nil
	}
}

// Get returns the global logger.
func Get() *zerolog.Logger { return &global }

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func consoleWriter(opts Options) io.Writer {
	out := opts.Console
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

func fileWriter(opts Options) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}, nil
}

type eventSink interface {
	Send(ev axiom.Event)
}

// axiomWriter turns zerolog lines into Axiom events. Debug and trace stay local.
type axiomWriter struct{ sink eventSink }

func (w *axiomWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w *axiomWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != zerolog.NoLevel && level < zerolog.InfoLevel {
		return len(p), nil
	}
	ev := axiom.Event{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = axiom.Event{"message": strings.TrimSpace(string(p)), "level": zerolog.InfoLevel.String()}
	}
	ev["service"] = serviceName
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	w.sink.Send(ev)
	return len(p), nil
}

type ingestFunc func(ctx context.Context, events []axiom.Event) error

// axiomBatcher buffers events and ingests them in batches, on a timer or when
// a batch fills. A full buffer drops events rather than block logging.
type axiomBatcher struct {
	ingest  ingestFunc
	every   time.Duration
	events  chan axiom.Event
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

func dialAxiom(opts Options) (*axiomBatcher, error) {
	clientOpts := []axiom.Option{axiom.SetToken(opts.AxiomAPIKey)}
	if opts.AxiomOrgID != "" {
		clientOpts = append(clientOpts, axiom.SetOrganizationID(opts.AxiomOrgID))
	}
	client, err := axiom.NewClient(clientOpts...)
	if err != nil {
		return nil, err
	}
	dataset := opts.AxiomDataset
	if dataset == "" {
		dataset = defaultDataset
	}
	return newAxiomBatcher(func(ctx context.Context, events []axiom.Event) error {
		_, err := client.IngestEvents(ctx, dataset, events)
		return err
	}, opts.AxiomFlush), nil
}

func newAxiomBatcher(fn ingestFunc, every time.Duration) *axiomBatcher {
	if every <= 0 {
		every = 10 * time.Second
	}
	b := &axiomBatcher{
		ingest: fn,
		every:  every,
		events: make(chan axiom.Event, axiomBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *axiomBatcher) Send(ev axiom.Event) {
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
	}
}

func (b *axiomBatcher) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.every)
	defer ticker.Stop()

	batch := make([]axiom.Event, 0, axiomBatchSize)
	for {
		select {
		case ev := <-b.events:
			batch = b.add(batch, ev)
		case <-ticker.C:
			batch = b.flush(batch)
		case <-b.stop:
			for {
				select {
				case ev := <-b.events:
					batch = b.add(batch, ev)
				default:
					b.flush(batch)
					return
				}
			}
		}
	}
}

func (b *axiomBatcher) add(batch []axiom.Event, ev axiom.Event) []axiom.Event {
	batch = append(batch, ev)
	if len(batch) >= axiomBatchSize {
		return b.flush(batch)
	}
	return batch
}

// flush ingests batch and returns it emptied for reuse. Errors go to stderr;
// logging them through zerolog would feed back into this writer.
func (b *axiomBatcher) flush(batch []axiom.Event) []axiom.Event {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), axiomTimeout)
	defer cancel()
	if err := b.ingest(ctx, batch); err != nil {
		fmt.Fprintf(os.Stderr, "axiom ingest of %d events failed: %v\n", len(batch), err)
	}
	return batch[:0]
}

func (b *axiomBatcher) Close() error {
	close(b.stop)
	<-b.done
	if n := b.dropped.Load(); n > 0 {
		fmt.Fprintf(os.Stderr, "axiom: dropped %d events on a full buffer\n", n)
	}
	return nil
}
