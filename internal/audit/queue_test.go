package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CharterXO/CXO-App-Directory/internal/store"
)

// recordingSink collects events and can be told to fail. Like a real database
// client it refuses to write under a cancelled context.
type recordingSink struct {
	mu     sync.Mutex
	events []store.AuditEvent
	err    error
}

func (s *recordingSink) RecordAudit(ctx context.Context, e store.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) snapshot() []store.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.AuditEvent(nil), s.events...)
}

func (s *recordingSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func newTestQueue(t *testing.T, maxSize int64) (*QueuedSink, *recordingSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	inner := &recordingSink{}
	return NewQueuedSink(inner, rdb, maxSize), inner, mr
}

func TestQueuedSinkEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes to redis without touching inner", func(t *testing.T) {
		q, inner, mr := newTestQueue(t, 10)
		require.NoError(t, q.RecordAudit(ctx, store.AuditEvent{Action: "logout", EntityType: "auth"}))

		items, err := mr.List(QueueKey)
		require.NoError(t, err)
		assert.Len(t, items, 1)
		assert.Contains(t, items[0], `"action":"logout"`)
		assert.Empty(t, inner.snapshot())
	})

	t.Run("stamps created_at", func(t *testing.T) {
		q, _, mr := newTestQueue(t, 10)
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		q.now = func() time.Time { return fixed }
		require.NoError(t, q.RecordAudit(ctx, store.AuditEvent{Action: "logout"}))

		items, err := mr.List(QueueKey)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Contains(t, items[0], "2026-01-02T03:04:05Z")
	})

	t.Run("full queue writes synchronously", func(t *testing.T) {
		q, inner, _ := newTestQueue(t, 1)
		require.NoError(t, q.RecordAudit(ctx, store.AuditEvent{Action: "first"}))
		require.NoError(t, q.RecordAudit(ctx, store.AuditEvent{Action: "second"}))

		got := inner.snapshot()
		require.Len(t, got, 1)
		assert.Equal(t, "second", got[0].Action)
	})

	t.Run("redis down writes synchronously", func(t *testing.T) {
		q, inner, mr := newTestQueue(t, 10)
		mr.Close()
		require.NoError(t, q.RecordAudit(ctx, store.AuditEvent{Action: "login_failed"}))
		assert.Len(t, inner.snapshot(), 1)
	})

	t.Run("fallback error is returned", func(t *testing.T) {
		q, inner, mr := newTestQueue(t, 10)
		mr.Close()
		inner.setErr(errors.New("db down"))
		assert.Error(t, q.RecordAudit(ctx, store.AuditEvent{Action: "login_failed"}))
	})
}

func TestQueuedSinkWorker(t *testing.T) {
	t.Run("drains in order", func(t *testing.T) {
		q, inner, _ := newTestQueue(t, 0)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		actor := store.AuditEvent{Action: "a"}
		require.NoError(t, q.RecordAudit(ctx, actor))
		require.NoError(t, q.RecordAudit(ctx, store.AuditEvent{Action: "b"}))

		done := make(chan struct{})
		go func() {
			q.StartWorker(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool { return len(inner.snapshot()) == 2 }, 3*time.Second, 10*time.Millisecond)
		got := inner.snapshot()
		assert.Equal(t, "a", got[0].Action)
		assert.Equal(t, "b", got[1].Action)

		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop after cancel")
		}
	})

	t.Run("skips malformed payloads", func(t *testing.T) {
		q, inner, mr := newTestQueue(t, 0)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mr.RPush(QueueKey, "not json")
		require.NoError(t, q.RecordAudit(ctx, store.AuditEvent{Action: "good"}))
		go q.StartWorker(ctx)

		require.Eventually(t, func() bool { return len(inner.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
		assert.Equal(t, "good", inner.snapshot()[0].Action)
	})

	t.Run("requeues on write failure", func(t *testing.T) {
		q, inner, _ := newTestQueue(t, 0)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		inner.setErr(errors.New("db down"))
		require.NoError(t, q.RecordAudit(ctx, store.AuditEvent{Action: "retry_me"}))
		go q.StartWorker(ctx)

		time.Sleep(100 * time.Millisecond)
		inner.setErr(nil)

		require.Eventually(t, func() bool { return len(inner.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
		assert.Equal(t, "retry_me", inner.snapshot()[0].Action)
	})

	t.Run("popped event is written after cancel", func(t *testing.T) {
		q, inner, mr := newTestQueue(t, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		q.write(ctx, store.AuditEvent{Action: "in_flight"}, `{"action":"in_flight"}`)

		got := inner.snapshot()
		require.Len(t, got, 1)
		assert.Equal(t, "in_flight", got[0].Action)
		assert.False(t, mr.Exists(QueueKey), "nothing should be requeued")
	})
}
