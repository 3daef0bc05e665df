// Package aitest provides an in-memory ai.Provider that records what it was
// sent and echoes it back.
package aitest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/local/aihelper/internal/ai"
)

const DefaultReply = "A blue circle."

// Provider is a scriptable vendor. With Native set it hands out native chat
// handles that keep history on the "server"; otherwise sessions are simulated
// and every follow-up arrives through Replay.
type Provider struct {
	VendorName ai.Vendor
	Native     bool

	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	gate    chan struct{}
	prompts []string
	tasks   []ai.Task
	replays [][]ai.Turn
	sent    [][]ai.Part
	started int
}

func New(vendor ai.Vendor, native bool) *Provider {
	return &Provider{VendorName: vendor, Native: native, reply: DefaultReply}
}

func (p *Provider) SetReply(s string) {
	p.mu.Lock()
	p.reply = s
	p.mu.Unlock()
}

func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// SetDelay makes every call sleep d first, ignoring its context like a hung
// SDK call would.
func (p *Provider) SetDelay(d time.Duration) {
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

// Hold blocks every call until the returned func is called.
func (p *Provider) Hold() func() {
	ch := make(chan struct{})
	p.mu.Lock()
	p.gate = ch
	p.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (p *Provider) FriendlyName() string { return "test-" + string(p.VendorName) }
func (p *Provider) Vendor() ai.Vendor    { return p.VendorName }

func (p *Provider) Initialize(ctx context.Context, proxyURL string) error { return nil }

func (p *Provider) Generate(ctx context.Context, prompt string, task ai.Task, timeout time.Duration) (string, error) {
	if err := task.Validate(); err != nil {
		return "", &ai.CallError{Kind: ai.CallPayload, Vendor: p.VendorName, Err: err}
	}
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.tasks = append(p.tasks, task)
	reply, err := p.reply, p.err
	p.mu.Unlock()

	p.wait()
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (p *Provider) StartChat(ctx context.Context, history []ai.Turn) (ai.SessionHandle, error) {
	p.mu.Lock()
	p.started++
	p.mu.Unlock()
	if p.Native {
		return ai.NativeHandle{Chat: &chat{p: p, turns: len(history)}}, nil
	}
	return ai.SimulatedHandle{History: append([]ai.Turn(nil), history...)}, nil
}

// Replay answers with the number of turns received and the last question.
func (p *Provider) Replay(ctx context.Context, history []ai.Turn, timeout time.Duration) (string, error) {
	p.mu.Lock()
	p.replays = append(p.replays, append([]ai.Turn(nil), history...))
	err := p.err
	p.mu.Unlock()

	p.wait()
	if err != nil {
		return "", err
	}
	return echo(len(history), history[len(history)-1].Text()), nil
}

func (p *Provider) wait() {
	p.mu.Lock()
	delay, gate := p.delay, p.gate
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if gate != nil {
		<-gate
	}
}

func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

func (p *Provider) Tasks() []ai.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ai.Task(nil), p.tasks...)
}

// Replays returns every history received by Replay.
func (p *Provider) Replays() [][]ai.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]ai.Turn(nil), p.replays...)
}

// Sent returns what native chats received, one entry per follow-up.
func (p *Provider) Sent() [][]ai.Part {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]ai.Part(nil), p.sent...)
}

func (p *Provider) ChatsStarted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// chat keeps the turn count server-side, like a native vendor session.
type chat struct {
	p     *Provider
	mu    sync.Mutex
	turns int
}

func (c *chat) Send(ctx context.Context, parts []ai.Part, timeout time.Duration) (string, error) {
	c.p.mu.Lock()
	c.p.sent = append(c.p.sent, append([]ai.Part(nil), parts...))
	err := c.p.err
	c.p.mu.Unlock()

	c.p.wait()
	if err != nil {
		return "", err
	}

	var q []string
	for _, part := range parts {
		if !part.IsImage() {
			q = append(q, part.Text)
		}
	}
	c.mu.Lock()
	c.turns++
	n := c.turns
	c.turns++
	c.mu.Unlock()
	return echo(n, strings.Join(q, " ")), nil
}

func echo(turns int, question string) string {
	return fmt.Sprintf("echo(%d): %s", turns, question)
}
