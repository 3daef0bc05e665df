package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/aihelper/internal/ai"
)

func newStore(t *testing.T, ttl time.Duration) (*TranscriptStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewTranscriptStore("redis://"+mr.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestTranscriptStoreRoundTrip(t *testing.T) {
	s, mr := newStore(t, time.Hour)
	ctx := context.Background()

	user := ai.Turn{Role: ai.RoleUser, Parts: []ai.Part{
		ai.TextPart("Describe this"),
		ai.ImagePart(ai.Image{Data: make([]byte, 1234), MIME: "image/jpeg"}),
	}}
	model := ai.Turn{Role: ai.RoleModel, Parts: []ai.Part{ai.TextPart("A blue circle.")}}
	require.NoError(t, s.AppendTurn(ctx, "abc", user))
	require.NoError(t, s.AppendTurn(ctx, "abc", model))

	turns, err := s.Turns(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, ai.RoleUser, turns[0].Role)
	assert.Equal(t, "Describe this\n\n[image image/jpeg, 1234 bytes]", turns[0].Text())
	assert.Equal(t, "A blue circle.", turns[1].Text())

	assert.True(t, mr.Exists("session:abc:turns"))
	assert.Equal(t, time.Hour, mr.TTL("session:abc:turns"))

	require.NoError(t, s.Delete(ctx, "abc"))
	assert.False(t, mr.Exists("session:abc:turns"))
	turns, err = s.Turns(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestTranscriptStoreExpires(t *testing.T) {
	s, mr := newStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.AppendTurn(ctx, "x", ai.Turn{Role: ai.RoleUser, Parts: []ai.Part{ai.TextPart("hi")}}))
	mr.FastForward(2 * time.Minute)
	turns, err := s.Turns(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestTranscriptStoreNoTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewTranscriptStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	require.NoError(t, s.AppendTurn(context.Background(), "y", ai.Turn{Role: ai.RoleUser, Parts: []ai.Part{ai.TextPart("hi")}}))
	assert.Equal(t, time.Duration(0), mr.TTL("session:y:turns"))
}

func TestNewTranscriptStoreBadURL(t *testing.T) {
	_, err := NewTranscriptStore("not-a-url", 0)
	assert.Error(t, err)
}
