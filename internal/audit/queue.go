// queue.go
//
// Redis-backed async audit queue. QueuedSink enqueues events instead of writing
// them inline; StartWorker drains the queue in a background goroutine and hands
// each event to the inner Sink (PostgresStore). If the queue is full or Redis is
// unreachable the event is written synchronously, so no event is dropped on the
// producer side.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CharterXO/CXO-App-Directory/internal/store"
)

// QueueKey is the Redis list used as the audit queue.
const QueueKey = "cxo:audit:queue"

// writeTimeout bounds the durable write of an event already popped from the queue.
const writeTimeout = 5 * time.Second

// ErrQueueFull is returned by enqueue when the queue has reached its size cap.
var ErrQueueFull = errors.New("audit queue full")

// Sink persists audit events. Implemented by store.PostgresStore.
type Sink interface {
	RecordAudit(ctx context.Context, e store.AuditEvent) error
}

// QueuedSink implements Sink on top of a Redis list.
type QueuedSink struct {
	inner        Sink
	rdb          *redis.Client
	maxQueueSize int64
	now          func() time.Time
}

// NewQueuedSink wraps inner with a Redis-backed queue.
// maxSize caps the queue length (0 = unlimited).
func NewQueuedSink(inner Sink, rdb *redis.Client, maxSize int64) *QueuedSink {
	return &QueuedSink{inner: inner, rdb: rdb, maxQueueSize: maxSize, now: time.Now}
}

// enqueueScript atomically checks the queue length and pushes only if under the cap.
// KEYS[1] = queue key, ARGV[1] = max size (0 = skip check), ARGV[2] = payload.
// Returns 1 if enqueued, 0 if full.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// RecordAudit stamps the event and enqueues it, falling back to a direct write.
func (q *QueuedSink) RecordAudit(ctx context.Context, e store.AuditEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.now()
	}
	err := q.enqueue(ctx, e)
	if err == nil {
		return nil
	}
	slog.WarnContext(ctx, "audit queue unavailable, writing directly", "action", e.Action, "error", err)
	return q.inner.RecordAudit(ctx, e)
}

func (q *QueuedSink) enqueue(ctx context.Context, e store.AuditEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.maxQueueSize, data).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing audit event: %w", err)
	}
	if ok == 0 {
		return ErrQueueFull
	}
	return nil
}

// StartWorker drains the queue into inner until ctx is cancelled. Call in a goroutine.
// It returns only after the event it is writing, if any, has been persisted or requeued.
func (q *QueuedSink) StartWorker(ctx context.Context) {
	for {
		// BLPop blocks up to 2s then returns redis.Nil, which keeps the loop
		// responsive to ctx cancellation without busy-spinning.
		res, err := q.rdb.BLPop(ctx, 2*time.Second, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Error("audit worker: queue pop failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		// res[0] = key name, res[1] = payload
		var e store.AuditEvent
		if err := json.Unmarshal([]byte(res[1]), &e); err != nil {
			slog.Error("audit worker: bad payload", "error", err)
			continue
		}
		q.write(ctx, e, res[1])
	}
}

// write persists one event. A popped event is written even if ctx is cancelled
// meanwhile, bounded by writeTimeout. On failure the payload goes back to the head
// of the queue so ordering is preserved and the worker retries after a pause.
func (q *QueuedSink) write(ctx context.Context, e store.AuditEvent, payload string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := q.inner.RecordAudit(wctx, e); err != nil {
		slog.Error("audit worker: write failed, requeueing", "action", e.Action, "error", err)
		if err := q.rdb.LPush(context.WithoutCancel(ctx), QueueKey, payload).Err(); err != nil {
			slog.Error("audit worker: requeue failed, event lost", "action", e.Action, "error", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
}
