package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/executor"
	"github.com/local/aihelper/internal/metrics"
)

// TurnSink mirrors session history outside the process.
type TurnSink interface {
	AppendTurn(ctx context.Context, sessionID string, turn ai.Turn) error
	Delete(ctx context.Context, sessionID string) error
}

// Archiver keeps a transcript after its window closes.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, turns []ai.Turn) error
}

// Registry owns the open sessions, one per result window.
type Registry struct {
	provider ai.Provider
	exec     *executor.Executor
	sink     TurnSink
	archiver Archiver

	mu       sync.Mutex
	sessions map[string]*Session
}

type Option func(*Registry)

func WithTurnSink(s TurnSink) Option { return func(r *Registry) { r.sink = s } }
func WithArchiver(a Archiver) Option { return func(r *Registry) { r.archiver = a } }

func NewRegistry(provider ai.Provider, exec *executor.Executor, opts ...Option) *Registry {
	r := &Registry{provider: provider, exec: exec, sessions: map[string]*Session{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create opens a session seeded with the first exchange (user request and
// model reply).
func (r *Registry) Create(ctx context.Context, history []ai.Turn) (*Session, error) {
	if len(history) != 2 || history[0].Role != ai.RoleUser || history[1].Role != ai.RoleModel {
		return nil, fmt.Errorf("session must start with one user and one model turn, got %d turns", len(history))
	}
	handle, err := r.provider.StartChat(ctx, history)
	if err != nil {
		return nil, err
	}
	if _, ok := handle.(ai.SimulatedHandle); ok {
		if _, ok := r.provider.(ai.Replayer); !ok {
			return nil, fmt.Errorf("%s returned a simulated session but cannot replay it", r.provider.Vendor())
		}
	}

	s := &Session{
		ID:        uuid.NewString(),
		Vendor:    r.provider.Vendor(),
		CreatedAt: time.Now(),
		provider:  r.provider,
		exec:      r.exec,
		sink:      r.sink,
		handle:    handle,
		turns:     append([]ai.Turn(nil), history...),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	metrics.SessionOpened()

	s.persist(ctx, history...)
	log.Info().Str("session_id", s.ID).Str("vendor", string(s.Vendor)).Bool("native", s.Native()).Msg("session created")
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrClosed)
	}
	return s, nil
}

// Close destroys the session. The transcript is archived and the mirror
// deleted; failures there are logged, the session is gone either way.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok || !s.close() {
		return fmt.Errorf("session %s: %w", id, ErrClosed)
	}
	metrics.SessionClosed()

	if r.archiver != nil {
		if err := r.archiver.Archive(ctx, id, s.Turns()); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("archive failed")
		}
	}
	if r.sink != nil {
		if err := r.sink.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to delete stored turns")
		}
	}
	log.Info().Str("session_id", id).Int("turns", len(s.Turns())).Msg("session closed")
	return nil
}

// CloseAll is used at shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.Close(ctx, id)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
