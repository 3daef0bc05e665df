package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/capture"
	"github.com/local/aihelper/internal/clipboard"
	"github.com/local/aihelper/internal/config"
	"github.com/local/aihelper/internal/executor"
	"github.com/local/aihelper/internal/extractor"
	"github.com/local/aihelper/internal/filetype"
	"github.com/local/aihelper/internal/limiter"
	"github.com/local/aihelper/internal/memory"
	"github.com/local/aihelper/internal/metrics"
	"github.com/local/aihelper/internal/session"
)

const (
	defaultScreenshotPrompt = "Describe this image:"
	defaultTextPrompt       = "Please process this text:"
	newChatPrompt           = "Hello!"

	// finished tickets stay queryable this long
	ticketRetention = 10 * time.Minute
)

var defaultDropPrompts = map[filetype.Kind]string{
	filetype.KindImage:        defaultScreenshotPrompt,
	filetype.KindText:         defaultTextPrompt,
	filetype.KindWord:         "Summarize this document:",
	filetype.KindPresentation: "Summarize this presentation:",
	filetype.KindPDF:          "Summarize this PDF:",
}

// Extractor turns a dropped file into task content.
type Extractor interface {
	Extract(ctx context.Context, path string) (*extractor.Content, error)
}

// Deps are the collaborators a Dispatcher drives.
type Deps struct {
	Config    *config.Config
	Provider  ai.Provider
	Executor  *executor.Executor
	Sessions  *session.Registry
	Memory    *memory.Store
	Extractor Extractor
	Clipboard clipboard.Source
}

// Dispatcher maps triggers to tasks and enforces that at most one top-level
// task runs at a time. Follow-ups bypass the gate; sessions serialize them.
type Dispatcher struct {
	cfg       *config.Config
	provider  ai.Provider
	exec      *executor.Executor
	sessions  *session.Registry
	memory    *memory.Store
	extractor Extractor
	clip      clipboard.Source
	gate      *limiter.Gate

	// ctx outlives the requests that start tasks and ends at Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tickets map[string]*Ticket
}

func New(d Deps) *Dispatcher {
	if d.Config == nil {
		d.Config = &config.Config{}
	}
	if d.Memory == nil {
		d.Memory = memory.New(d.Config.MemoryFile)
	}
	if d.Clipboard == nil {
		d.Clipboard = clipboard.System{}
	}
	if d.Extractor == nil {
		d.Extractor = extractor.New(d.Config.ExtractorOptions())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:       d.Config,
		provider:  d.Provider,
		exec:      d.Executor,
		sessions:  d.Sessions,
		memory:    d.Memory,
		extractor: d.Extractor,
		clip:      d.Clipboard,
		gate:      limiter.NewGate("top-level"),
		ctx:       ctx,
		cancel:    cancel,
		tickets:   map[string]*Ticket{},
	}
}

// Busy reports whether a top-level task is in flight.
func (d *Dispatcher) Busy() bool { return d.gate.Busy() }

func (d *Dispatcher) Memory() *memory.Store { return d.memory }

// Task returns a tracked ticket by id.
func (d *Dispatcher) Task(id string) (*Ticket, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tickets[id]
	return t, ok
}

// prepareFunc produces the task on the background worker. It may block on
// capture or extraction.
type prepareFunc func(ctx context.Context) (prompt string, task ai.Task, timeout time.Duration, err error)

func (d *Dispatcher) acquire(trigger Trigger) (func(), error) {
	release, ok := d.gate.TryAcquire(string(trigger))
	if !ok {
		holder, since := d.gate.Holder()
		metrics.IncBusy(string(trigger))
		log.Warn().Str("trigger", string(trigger)).Str("running", holder).Dur("running_for", time.Since(since)).
			Msg("task already running, trigger ignored")
		return nil, ErrBusy
	}
	return release, nil
}

// submit runs prepare and the provider call on a worker goroutine. The gate
// is released before the outcome is delivered so the receiver can trigger
// the next task right away.
func (d *Dispatcher) submit(trigger Trigger, release func(), prepare prepareFunc) *Ticket {
	t := newTicket(trigger)
	d.track(t)
	log.Info().Str("task_id", t.ID).Str("trigger", string(trigger)).Msg("task started")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		out := d.run(t, prepare)
		release()
		t.deliver(out)
		metrics.IncOutcome(string(trigger), outcomeLabel(out.Err))
		if out.Err != nil {
			log.Info().Err(out.Err).Str("task_id", t.ID).Str("trigger", string(trigger)).Msg("task finished without answer")
		} else {
			log.Info().Str("task_id", t.ID).Str("session_id", out.SessionID).Msg("task finished")
		}
	}()
	return t
}

func (d *Dispatcher) run(t *Ticket, prepare prepareFunc) Outcome {
	prompt, task, timeout, err := prepare(d.ctx)
	if err != nil {
		return Outcome{Err: err}
	}
	composed := d.memory.Compose(prompt)

	// The seed turn is built up front so a payload problem surfaces before
	// anything is sent. The provider reuses the same encoded parts.
	task, parts, err := ai.Prepare(composed, task, d.cfg.ImageOptions())
	if err != nil {
		return Outcome{Err: err}
	}

	pc := d.exec.Dispatch(d.ctx, string(t.Trigger), timeout, func(ctx context.Context) (string, error) {
		return d.provider.Generate(ctx, composed, task, timeout)
	})
	res := <-pc.Done()
	if res.Err != nil {
		return Outcome{Err: res.Err}
	}

	out := Outcome{Text: res.Text}
	if d.sessions == nil {
		return out
	}
	s, err := d.sessions.Create(d.ctx, []ai.Turn{
		{Role: ai.RoleUser, Parts: parts},
		{Role: ai.RoleModel, Parts: []ai.Part{ai.TextPart(res.Text)}},
	})
	if err != nil {
		// The answer is still shown; only follow-ups are lost.
		log.Error().Err(err).Str("task_id", t.ID).Msg("cannot open session for follow-ups")
		return out
	}
	out.SessionID = s.ID
	return out
}

func (d *Dispatcher) track(t *Ticket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, old := range d.tickets {
		if o, ok := old.Outcome(); ok && time.Since(old.StartedAt.Add(o.Elapsed)) > ticketRetention {
			delete(d.tickets, id)
		}
	}
	d.tickets[t.ID] = t
}

// Screenshot captures a region through c and asks about the image. A
// cancelled capture (escape) ends the task with capture.ErrCancelled.
func (d *Dispatcher) Screenshot(ctx context.Context, c capture.Capturer, r capture.Rect) (*Ticket, error) {
	release, err := d.acquire(TriggerScreenshot)
	if err != nil {
		return nil, err
	}
	prompt := d.cfg.ActionPrompt(string(TriggerScreenshot), defaultScreenshotPrompt)
	return d.submit(TriggerScreenshot, release, func(ctx context.Context) (string, ai.Task, time.Duration, error) {
		path, err := c.Capture(ctx, r)
		if err != nil {
			return "", ai.Task{}, 0, err
		}
		return prompt, ai.NewImageTask(prompt, path), d.cfg.Timeouts.Image, nil
	}), nil
}

// Clipboard sends the clipboard text. An empty clipboard is rejected before
// any task exists.
func (d *Dispatcher) Clipboard(ctx context.Context) (*Ticket, error) {
	release, err := d.acquire(TriggerClipboard)
	if err != nil {
		return nil, err
	}
	text, err := clipboard.Text(d.clip)
	if err != nil {
		release()
		if errors.Is(err, clipboard.ErrEmpty) {
			return nil, fmt.Errorf("%w: %w", ErrEmptyInput, err)
		}
		return nil, err
	}
	prompt := d.cfg.ActionPrompt(string(TriggerClipboard), defaultTextPrompt)
	return d.submit(TriggerClipboard, release, fixed(prompt, ai.NewTextTask(prompt, text), d.cfg.Timeouts.Text)), nil
}

// AskText sends text with an explicit prompt.
func (d *Dispatcher) AskText(ctx context.Context, prompt, text string) (*Ticket, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	release, err := d.acquire(TriggerText)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultTextPrompt
	}
	return d.submit(TriggerText, release, fixed(prompt, ai.NewTextTask(prompt, text), d.cfg.Timeouts.Text)), nil
}

// NewChat starts a conversation with no content, from the floating control.
func (d *Dispatcher) NewChat(ctx context.Context) (*Ticket, error) {
	release, err := d.acquire(TriggerNewChat)
	if err != nil {
		return nil, err
	}
	return d.submit(TriggerNewChat, release, fixed(newChatPrompt, ai.NewTextTask(newChatPrompt, ""), d.cfg.Timeouts.Text)), nil
}

// Drop asks about a dropped file. prompt overrides drop_handlers when set.
func (d *Dispatcher) Drop(ctx context.Context, path, prompt string) (*Ticket, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyInput
	}
	release, err := d.acquire(TriggerDrop)
	if err != nil {
		return nil, err
	}
	return d.submit(TriggerDrop, release, func(ctx context.Context) (string, ai.Task, time.Duration, error) {
		return d.dropTask(ctx, path, prompt)
	}), nil
}

func (d *Dispatcher) dropTask(ctx context.Context, path, prompt string) (string, ai.Task, time.Duration, error) {
	c, err := d.extractor.Extract(ctx, path)
	if err != nil {
		return "", ai.Task{}, 0, err
	}
	if strings.TrimSpace(prompt) == "" {
		if p, ok := d.cfg.DropPrompt(filepath.Ext(path)); ok {
			prompt = p
		} else {
			prompt = defaultDropPrompts[c.Kind]
		}
	}

	switch {
	case c.Path != "":
		return prompt, ai.NewImageFromPathTask(prompt, c.Path), d.cfg.Timeouts.Image, nil
	case len(c.Images) > 0:
		return prompt, ai.NewPDFTask(prompt, c.Text, c.Images), d.cfg.Timeouts.PDF, nil
	case strings.TrimSpace(c.Text) == "":
		return "", ai.Task{}, 0, &extractor.ExtractionError{Path: path, Reason: "no text found"}
	case c.Kind == filetype.KindPDF:
		return prompt, ai.NewPDFTask(prompt, c.Text, nil), d.cfg.Timeouts.PDF, nil
	default:
		return prompt, ai.NewTextTask(prompt, c.Text), d.cfg.Timeouts.Text, nil
	}
}

func fixed(prompt string, task ai.Task, timeout time.Duration) prepareFunc {
	return func(context.Context) (string, ai.Task, time.Duration, error) {
		return prompt, task, timeout, nil
	}
}

// FollowUp asks question in an open session and blocks until its outcome.
func (d *Dispatcher) FollowUp(ctx context.Context, sessionID, question string) Outcome {
	out := Outcome{Trigger: TriggerFollowUp, SessionID: sessionID}
	s, err := d.sessions.Get(sessionID)
	if err != nil {
		out.Err, out.Message = err, Message(err)
		return out
	}
	res := s.Ask(ctx, question, d.cfg.Timeouts.FollowUp)
	out.Elapsed = res.Elapsed
	if res.Err != nil {
		out.Err, out.Message = res.Err, Message(res.Err)
		metrics.IncOutcome(string(TriggerFollowUp), outcomeLabel(res.Err))
		return out
	}
	out.Text = res.Text
	metrics.IncOutcome(string(TriggerFollowUp), "success")
	return out
}

// CloseSession is called when a result window closes.
func (d *Dispatcher) CloseSession(ctx context.Context, sessionID string) error {
	return d.sessions.Close(ctx, sessionID)
}

// Session exposes an open session, mostly for its history.
func (d *Dispatcher) Session(id string) (*session.Session, error) {
	return d.sessions.Get(id)
}

// Close stops in-flight work and closes every session.
func (d *Dispatcher) Close(ctx context.Context) {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("tasks still running at shutdown")
	}
	if d.sessions != nil {
		d.sessions.CloseAll(ctx)
	}
}
