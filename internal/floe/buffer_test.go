package floe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonunix/floe/internal/backend"
)

func TestWrite_FlushesAtThreshold(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(t, eng, func(s *Settings) { s.BatchSize = 3 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, c.Write(ctx, event{ID: fmt.Sprint(i), Message: "m"}))
	}
	assert.Equal(t, 0, eng.roundTrips())
	assert.Equal(t, 2, c.Buffered())

	require.NoError(t, c.Write(ctx, event{ID: "2", Message: "m"}))
	assert.Equal(t, 1, eng.roundTrips())
	assert.Equal(t, 3, eng.submitted())
	assert.Equal(t, 0, c.Buffered())
	assert.Equal(t, "logs", eng.bulkCalls[0].index)
	assert.Equal(t, "0", eng.bulkCalls[0].items[0].ID)
	assert.JSONEq(t, `{"message":"m"}`, string(eng.bulkCalls[0].items[0].Source))
}

func TestWrite_ZeroBatchSizeFlushesEveryWrite(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(t, eng, func(s *Settings) { s.BatchSize = 0 })

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Write(context.Background(), event{ID: fmt.Sprint(i)}))
	}
	assert.Equal(t, 3, eng.roundTrips())
	assert.Equal(t, 0, c.Buffered())
}

func TestFlushRemaining_EmptyBufferSkipsEngine(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(t, eng, nil)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, event{ID: "a"}))
	require.NoError(t, c.Write(ctx, event{ID: "b"}))
	require.NoError(t, c.FlushRemaining(ctx))
	assert.Equal(t, 1, eng.roundTrips())
	assert.Equal(t, 2, eng.submitted())

	require.NoError(t, c.FlushRemaining(ctx))
	assert.Equal(t, 1, eng.roundTrips())
}

func TestFlush_SuppressesDuplicates(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(t, eng, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Write(ctx, Doc{ID: "same", Source: []byte(`{"a": 1}`)}))
	}
	// Same ID with different content is a distinct document.
	require.NoError(t, c.Write(ctx, Doc{ID: "same", Source: []byte(`{"a":2}`)}))
	require.NoError(t, c.FlushRemaining(ctx))

	require.Len(t, eng.bulkCalls, 1)
	items := eng.bulkCalls[0].items
	require.Len(t, items, 2)
	assert.JSONEq(t, `{"a":1}`, string(items[0].Source))
	assert.JSONEq(t, `{"a":2}`, string(items[1].Source))
}

func TestFlush_AllowDuplicates(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(t, eng, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Write(ctx, Doc{Source: []byte(`{"a":1}`)}))
	}
	require.NoError(t, c.FlushRemaining(ctx, AllowDuplicates()))
	assert.Equal(t, 5, eng.submitted())
}

func TestFlush_EngineRejectionKeepsBuffer(t *testing.T) {
	eng := &fakeEngine{bulkErr: &backend.HTTPStatusError{StatusCode: 400, Body: `{"error":"bad"}`}}
	c := newTestClient(t, eng, func(s *Settings) { s.BatchSize = 2 })
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, event{ID: "a"}))
	err := c.Write(ctx, event{ID: "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBulkWriteFailed))
	assert.Contains(t, err.Error(), `{"error":"bad"}`)
	assert.Equal(t, 2, c.Buffered())

	eng.bulkErr = nil
	require.NoError(t, c.FlushRemaining(ctx))
	assert.Equal(t, 2, eng.submitted())
	assert.Equal(t, 0, c.Buffered())
}

func TestFlush_ItemFailuresAreReported(t *testing.T) {
	eng := &fakeEngine{bulkReject: map[string]string{"b": "mapper_parsing_exception"}}
	c := newTestClient(t, eng, nil)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, event{ID: "a"}))
	require.NoError(t, c.Write(ctx, event{ID: "b"}))
	err := c.FlushRemaining(ctx)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.ErrorIs(t, err, ErrBulkWriteFailed)
	require.Len(t, opErr.Items, 1)
	assert.Equal(t, "b", opErr.Items[0].ID)
	assert.Contains(t, opErr.Diagnostic, "mapper_parsing_exception")
	assert.Equal(t, 2, c.Buffered())
}

func TestFlush_TransportFailureIsEngineUnavailable(t *testing.T) {
	eng := &fakeEngine{bulkErr: errors.New("connection refused")}
	c := newTestClient(t, eng, nil)

	require.NoError(t, c.Write(context.Background(), event{ID: "a"}))
	err := c.FlushRemaining(context.Background())
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Equal(t, 1, c.Buffered())
}

func TestFlush_CancellationKeepsBuffer(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(t, eng, nil)
	require.NoError(t, c.Write(context.Background(), event{ID: "a"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.FlushRemaining(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.Buffered())
	assert.Equal(t, 0, eng.roundTrips())
}

func TestWrite_Concurrent(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(t, eng, func(s *Settings) { s.BatchSize = 10 })
	ctx := context.Background()

	const workers, perWorker = 20, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, c.Write(ctx, event{ID: fmt.Sprintf("%d-%d", w, i)}))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, c.FlushRemaining(ctx))

	seen := make(map[string]bool)
	for _, call := range eng.bulkCalls {
		assert.LessOrEqual(t, len(call.items), 10)
		for _, it := range call.items {
			assert.False(t, seen[it.ID], "document %s submitted twice", it.ID)
			seen[it.ID] = true
		}
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, 0, c.Buffered())
}

func TestWrite_RollingIndexAcrossMidnight(t *testing.T) {
	eng := &fakeEngine{}
	now := time.Date(2024, 3, 14, 23, 59, 59, 900e6, time.UTC)
	c := newTestClient(t, eng, func(s *Settings) {
		s.RollingDate = true
		s.BatchSize = 1
	}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, event{ID: "before"}))
	now = now.Add(200 * time.Millisecond)
	require.NoError(t, c.Write(ctx, event{ID: "after"}))

	require.Len(t, eng.bulkCalls, 2)
	assert.Equal(t, "logs-2024.03.14", eng.bulkCalls[0].index)
	assert.Equal(t, "logs-2024.03.15", eng.bulkCalls[1].index)
	assert.Equal(t, "logs*", c.Namer().ReadIndex(""))
}

func TestWrite_ToIndexOverride(t *testing.T) {
	eng := &fakeEngine{}
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, eng, func(s *Settings) { s.RollingDate = true },
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, event{ID: "a"}))
	require.NoError(t, c.FlushRemaining(ctx, ToIndex("audit")))
	require.Len(t, eng.bulkCalls, 1)
	assert.Equal(t, "audit-2024.01.02", eng.bulkCalls[0].index)
}

func TestWrite_UnencodableDocument(t *testing.T) {
	c := newTestClient(t, &fakeEngine{}, nil)
	err := c.Write(context.Background(), map[string]interface{}{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrBulkWriteFailed)
	assert.Equal(t, 0, c.Buffered())
}
