package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/aihelper/internal/ai"
)

// StoredPart is the persisted form of an ai.Part. Images are not kept, only
// their MIME type and size.
type StoredPart struct {
	Text       string `json:"text,omitempty"`
	ImageMIME  string `json:"image_mime,omitempty"`
	ImageBytes int    `json:"image_bytes,omitempty"`
}

// StoredTurn is one list entry under session:<id>:turns.
type StoredTurn struct {
	Role  ai.Role      `json:"role"`
	Parts []StoredPart `json:"parts"`
	At    time.Time    `json:"at"`
}

// Text renders the turn with image placeholders.
func (t StoredTurn) Text() string {
	out := ""
	for _, p := range t.Parts {
		s := p.Text
		if p.ImageMIME != "" {
			s = fmt.Sprintf("[image %s, %d bytes]", p.ImageMIME, p.ImageBytes)
		}
		if s == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += s
	}
	return out
}

// TranscriptStore mirrors session history into Redis lists.
type TranscriptStore struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewTranscriptStore(redisURL string, ttl time.Duration) (*TranscriptStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return NewTranscriptStoreWithClient(c, ttl), nil
}

// NewTranscriptStoreWithClient wraps an existing client. A zero ttl keeps
// keys until Delete.
func NewTranscriptStoreWithClient(c *redis.Client, ttl time.Duration) *TranscriptStore {
	return &TranscriptStore{client: c, keyNS: "session", ttl: ttl}
}

func (s *TranscriptStore) Close() error { return s.client.Close() }

func (s *TranscriptStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *TranscriptStore) key(sessionID string) string {
	return fmt.Sprintf("%s:%s:turns", s.keyNS, sessionID)
}

func (s *TranscriptStore) AppendTurn(ctx context.Context, sessionID string, turn ai.Turn) error {
	st := StoredTurn{Role: turn.Role, At: time.Now().UTC()}
	for _, p := range turn.Parts {
		if p.IsImage() {
			st.Parts = append(st.Parts, StoredPart{ImageMIME: p.Image.MIME, ImageBytes: len(p.Image.Data)})
			continue
		}
		st.Parts = append(st.Parts, StoredPart{Text: p.Text})
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	key := s.key(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, b)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn %s: %w", sessionID, err)
	}
	return nil
}

// Turns returns the stored history, oldest first. Unknown sessions yield nil.
func (s *TranscriptStore) Turns(ctx context.Context, sessionID string) ([]StoredTurn, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]StoredTurn, 0, len(raw))
	for i, r := range raw {
		var st StoredTurn
		if err := json.Unmarshal([]byte(r), &st); err != nil {
			return out, fmt.Errorf("decode turn %d of %s: %w", i, sessionID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *TranscriptStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
