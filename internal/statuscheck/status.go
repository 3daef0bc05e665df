package statuscheck

import (
	"context"
	"errors"
	"time"

	"github.com/atotto/clipboard"
)

// Pinger is any optional backend that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the optional backends.
type Checker struct {
	transcripts Pinger
	archive     Pinger
	clipboardOK func() bool
}

// Options configures the Checker. Nil backends are reported as disabled.
type Options struct {
	Transcripts Pinger
	Archive     Pinger
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses for /healthz.
type Summary struct {
	Transcripts Status `json:"transcripts"`
	Archive     Status `json:"archive"`
	Clipboard   Status `json:"clipboard"`
}

// OK is false when an enabled backend is down.
func (s Summary) OK() bool { return s.Transcripts.OK && s.Archive.OK && s.Clipboard.OK }

func New(opts Options) *Checker {
	return &Checker{
		transcripts: opts.Transcripts,
		archive:     opts.Archive,
		clipboardOK: func() bool { return !clipboard.Unsupported },
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Transcripts: ping(ctx, c.transcripts, 2*time.Second),
		Archive:     ping(ctx, c.archive, 5*time.Second),
		Clipboard:   c.checkClipboard(),
	}
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{OK: true, Message: "Disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkClipboard() Status {
	if !c.clipboardOK() {
		return Status{OK: false, Message: "No clipboard utility found"}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
