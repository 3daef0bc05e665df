package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/metrics"
)

const defaultTimeout = 60 * time.Second

// Result is the single outcome of a dispatched call. Text and Err are
// mutually exclusive.
type Result struct {
	Text    string
	Err     error
	Elapsed time.Duration
}

// CallFunc is the blocking provider call run on the worker goroutine.
type CallFunc func(ctx context.Context) (string, error)

// Executor runs provider calls off the caller's goroutine under a watchdog
// deadline that does not depend on the call honoring its context.
type Executor struct {
	vendor ai.Vendor
	model  string
	late   atomic.Int64
}

func New(vendor ai.Vendor, model string) *Executor {
	return &Executor{vendor: vendor, model: model}
}

// PendingCall is the in-flight state of one call. Done yields exactly one
// Result and is then closed.
type PendingCall struct {
	ID        string
	Label     string
	StartedAt time.Time
	Deadline  time.Time

	done    chan Result
	settled atomic.Bool
	timer   *time.Timer
}

func (pc *PendingCall) Done() <-chan Result { return pc.done }

// Pending reports whether neither path has delivered yet.
func (pc *PendingCall) Pending() bool { return !pc.settled.Load() }

// settle delivers res if nothing was delivered before. The loser of the race
// between deadline and worker gets false and must not report anything.
func (pc *PendingCall) settle(res Result) bool {
	if !pc.settled.CompareAndSwap(false, true) {
		return false
	}
	res.Elapsed = time.Since(pc.StartedAt)
	if res.Err != nil {
		res.Text = ""
	}
	pc.done <- res
	close(pc.done)
	return true
}

// Dispatch starts call on a new goroutine and arms the deadline. The returned
// PendingCall delivers the first of {worker result, timeout}. A worker that
// loses is left to finish; its result is dropped.
func (e *Executor) Dispatch(ctx context.Context, label string, timeout time.Duration, call CallFunc) *PendingCall {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := time.Now()
	pc := &PendingCall{
		ID:        uuid.NewString(),
		Label:     label,
		StartedAt: now,
		Deadline:  now.Add(timeout),
		done:      make(chan Result, 1),
	}

	log.Debug().Str("call_id", pc.ID).Str("label", label).Dur("timeout", timeout).Msg("dispatching call")

	pc.timer = time.AfterFunc(timeout, func() {
		if pc.settle(Result{Err: ai.NewTimeoutError(e.vendor)}) {
			metrics.IncDeadline(label)
			log.Warn().Str("call_id", pc.ID).Str("label", label).Dur("timeout", timeout).Msg("deadline fired before vendor answered")
		}
	})

	go e.run(ctx, pc, call)
	return pc
}

func (e *Executor) run(ctx context.Context, pc *PendingCall, call CallFunc) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	text, err := safeCall(callCtx, call)
	elapsed := time.Since(pc.StartedAt)

	result := "success"
	if err != nil {
		result = ai.KindOf(err).String()
	}

	if !pc.settle(Result{Text: text, Err: err}) {
		e.late.Add(1)
		metrics.IncLateCompletion(pc.Label)
		metrics.ObserveProvider(string(e.vendor), e.model, "late", elapsed)
		log.Info().Str("call_id", pc.ID).Str("label", pc.Label).Dur("elapsed", elapsed).
			Str("result", result).Msg("discarding completion that arrived after the deadline")
		return
	}

	pc.timer.Stop()
	metrics.ObserveProvider(string(e.vendor), e.model, result, elapsed)
	if err != nil {
		log.Warn().Err(err).Str("call_id", pc.ID).Str("label", pc.Label).Dur("elapsed", elapsed).Msg("call failed")
		return
	}
	log.Info().Str("call_id", pc.ID).Str("label", pc.Label).Dur("elapsed", elapsed).Int("chars", len(text)).Msg("call completed")
}

// LateCompletions counts worker results dropped because the deadline won.
func (e *Executor) LateCompletions() int64 { return e.late.Load() }

// safeCall turns a panic in the provider path into a payload error so the
// call still produces an outcome.
func safeCall(ctx context.Context, call CallFunc) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ai.CallError{Kind: ai.CallPayload, Err: fmt.Errorf("panic in provider call: %v", r)}
		}
	}()
	return call(ctx)
}
