package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/executor"
)

var (
	// ErrFollowUpInFlight rejects a follow-up while the previous one is running.
	ErrFollowUpInFlight = errors.New("a follow-up is already in flight for this session")
	// ErrClosed is returned for sessions whose window was closed.
	ErrClosed = errors.New("session closed")
	// ErrEmptyQuestion means the follow-up was blank; nothing is dispatched.
	ErrEmptyQuestion = errors.New("empty question")
)

// Session is one conversation window. Follow-ups are serialized: a second
// Ask while one is outstanding is rejected, never queued.
type Session struct {
	ID        string
	Vendor    ai.Vendor
	CreatedAt time.Time

	provider ai.Provider
	exec     *executor.Executor
	sink     TurnSink

	mu     sync.Mutex
	handle ai.SessionHandle
	turns  []ai.Turn
	closed bool

	inFlight atomic.Bool
}

// Turns returns a copy of the client-side history.
func (s *Session) Turns() []ai.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ai.Turn(nil), s.turns...)
}

// Native reports whether the vendor keeps the history server-side.
func (s *Session) Native() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handle.(ai.NativeHandle)
	return ok
}

func (s *Session) Busy() bool { return s.inFlight.Load() }

// Ask sends one follow-up and blocks until its single outcome. On success the
// user and model turns are appended in that order; on any error (including
// the deadline) the history is left untouched.
func (s *Session) Ask(ctx context.Context, question string, timeout time.Duration) executor.Result {
	question = strings.TrimSpace(question)
	if question == "" {
		return executor.Result{Err: ErrEmptyQuestion}
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return executor.Result{Err: ErrFollowUpInFlight}
	}
	held := true
	defer func() {
		if held {
			s.inFlight.Store(false)
		}
	}()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return executor.Result{Err: ErrClosed}
	}
	handle := s.handle
	history := append([]ai.Turn(nil), s.turns...)
	s.mu.Unlock()

	userTurn := ai.Turn{Role: ai.RoleUser, Parts: []ai.Part{ai.TextPart(question)}}
	call, err := s.callFor(handle, history, userTurn, timeout)
	if err != nil {
		return executor.Result{Err: err}
	}

	pc := s.exec.Dispatch(ctx, "followup", timeout, call)
	var res executor.Result
	select {
	case res = <-pc.Done():
	case <-ctx.Done():
		// The caller left. The slot stays taken until the watchdog or the
		// worker settles the call, so no second send overlaps this one.
		held = false
		go func() {
			<-pc.Done()
			s.inFlight.Store(false)
		}()
		return executor.Result{Err: ctx.Err()}
	}
	if res.Err != nil {
		return res
	}

	modelTurn := ai.Turn{Role: ai.RoleModel, Parts: []ai.Part{ai.TextPart(res.Text)}}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return executor.Result{Err: ErrClosed}
	}
	s.turns = append(s.turns, userTurn, modelTurn)
	if sim, ok := s.handle.(ai.SimulatedHandle); ok {
		sim.History = append(sim.History, userTurn, modelTurn)
		s.handle = sim
	}
	s.mu.Unlock()

	s.persist(ctx, userTurn, modelTurn)
	return res
}

// callFor is the one place that branches on the handle variant.
func (s *Session) callFor(handle ai.SessionHandle, history []ai.Turn, userTurn ai.Turn, timeout time.Duration) (executor.CallFunc, error) {
	switch h := handle.(type) {
	case ai.NativeHandle:
		return func(ctx context.Context) (string, error) {
			return h.Chat.Send(ctx, userTurn.Parts, timeout)
		}, nil
	case ai.SimulatedHandle:
		replayer, ok := s.provider.(ai.Replayer)
		if !ok {
			return nil, fmt.Errorf("%s cannot replay a simulated session", s.Vendor)
		}
		full := append(append([]ai.Turn(nil), h.History...), userTurn)
		return func(ctx context.Context) (string, error) {
			return replayer.Replay(ctx, full, timeout)
		}, nil
	default:
		return nil, fmt.Errorf("unknown session handle %T", handle)
	}
}

func (s *Session) persist(ctx context.Context, turns ...ai.Turn) {
	if s.sink == nil {
		return
	}
	for _, t := range turns {
		if err := s.sink.AppendTurn(ctx, s.ID, t); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("failed to persist turn")
			return
		}
	}
}

func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}
