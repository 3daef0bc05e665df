package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/aihelper/internal/ai"
)

func collect(t *testing.T, pc *PendingCall, wait time.Duration) []Result {
	t.Helper()
	var out []Result
	timeout := time.After(wait)
	for {
		select {
		case r, ok := <-pc.Done():
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatalf("Done not closed after %v", wait)
		}
	}
}

func TestWorkerWinsDeliversText(t *testing.T) {
	e := New(ai.VendorGemini, "m")
	pc := e.Dispatch(context.Background(), "image", time.Second, func(ctx context.Context) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "A blue circle.", nil
	})

	results := collect(t, pc, 2*time.Second)
	require.Len(t, results, 1)
	assert.Equal(t, "A blue circle.", results[0].Text)
	assert.NoError(t, results[0].Err)
	assert.False(t, pc.Pending())
	assert.NotEmpty(t, pc.ID)
}

func TestDeadlineWinsAndLateCompletionIsDiscarded(t *testing.T) {
	e := New(ai.VendorGemini, "m")
	finished := make(chan struct{})
	pc := e.Dispatch(context.Background(), "image", 30*time.Millisecond, func(ctx context.Context) (string, error) {
		// ignores ctx on purpose, like a hung SDK call
		time.Sleep(150 * time.Millisecond)
		defer close(finished)
		return "A blue circle.", nil
	})

	results := collect(t, pc, time.Second)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Text)
	assert.True(t, ai.IsTimeout(results[0].Err))
	assert.ErrorIs(t, results[0].Err, ai.ErrDeadline)

	<-finished
	assert.Eventually(t, func() bool { return e.LateCompletions() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := <-pc.Done()
	assert.False(t, ok, "no second outcome after the late completion")
}

func TestErrorAndTextAreExclusive(t *testing.T) {
	e := New(ai.VendorOpenAI, "m")
	boom := errors.New("quota exceeded")
	pc := e.Dispatch(context.Background(), "text", time.Second, func(ctx context.Context) (string, error) {
		return "partial", boom
	})

	results := collect(t, pc, time.Second)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Text)
	assert.ErrorIs(t, results[0].Err, boom)
}

func TestPanicBecomesPayloadError(t *testing.T) {
	e := New(ai.VendorClaude, "m")
	pc := e.Dispatch(context.Background(), "pdf", time.Second, func(ctx context.Context) (string, error) {
		panic("nil image")
	})

	results := collect(t, pc, time.Second)
	require.Len(t, results, 1)
	assert.Equal(t, ai.CallPayload, ai.KindOf(results[0].Err))
}

func TestCallSeesParentCancellation(t *testing.T) {
	e := New(ai.VendorClaude, "m")
	ctx, cancel := context.WithCancel(context.Background())
	pc := e.Dispatch(ctx, "text", time.Second, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cancel()

	results := collect(t, pc, time.Second)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestManyCallsEachProduceOneOutcome(t *testing.T) {
	e := New(ai.VendorGemini, "m")
	calls := make([]*PendingCall, 0, 40)
	for i := 0; i < 40; i++ {
		d := time.Duration(i%4) * 10 * time.Millisecond
		calls = append(calls, e.Dispatch(context.Background(), "race", 15*time.Millisecond, func(ctx context.Context) (string, error) {
			time.Sleep(d)
			return "ok", nil
		}))
	}
	for _, pc := range calls {
		assert.Len(t, collect(t, pc, time.Second), 1)
	}
}
