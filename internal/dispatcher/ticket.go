package dispatcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trigger names what started a task. The values double as action names in
// config.json.
type Trigger string

const (
	TriggerScreenshot Trigger = "screenshot"
	TriggerClipboard  Trigger = "clipboard_text"
	TriggerDrop       Trigger = "drop"
	TriggerText       Trigger = "text"
	TriggerNewChat    Trigger = "new_chat"
	TriggerFollowUp   Trigger = "follow_up"
)

// Outcome is the single result delivered for a task or follow-up. Text and
// Err are mutually exclusive; Message is the user-facing rendering of Err.
type Outcome struct {
	TaskID    string
	Trigger   Trigger
	Text      string
	Err       error
	Message   string
	SessionID string
	Elapsed   time.Duration
}

func (o Outcome) Cancelled() bool { return outcomeLabel(o.Err) == "cancelled" }

// Ticket tracks one top-level task from acceptance to its outcome.
type Ticket struct {
	ID        string
	Trigger   Trigger
	StartedAt time.Time

	done chan Outcome

	mu      sync.Mutex
	outcome *Outcome
}

func newTicket(trigger Trigger) *Ticket {
	return &Ticket{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
		done:      make(chan Outcome, 1),
	}
}

// Done yields the outcome once and is then closed.
func (t *Ticket) Done() <-chan Outcome { return t.done }

// Outcome returns the delivered outcome, if any, without consuming Done.
func (t *Ticket) Outcome() (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcome == nil {
		return Outcome{}, false
	}
	return *t.outcome, true
}

func (t *Ticket) deliver(o Outcome) {
	t.mu.Lock()
	if t.outcome != nil {
		t.mu.Unlock()
		return
	}
	o.TaskID, o.Trigger = t.ID, t.Trigger
	o.Elapsed = time.Since(t.StartedAt)
	if o.Err != nil {
		o.Text = ""
		o.Message = Message(o.Err)
	}
	t.outcome = &o
	t.mu.Unlock()

	t.done <- o
	close(t.done)
}
