package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Queues is the per-auction event queue view: one main list per auction plus
// retry and dead-letter sub-queues. Producers push via the admission script;
// only the consumer and the backoffice touch this type.
type Queues struct {
	rdb       *redis.Client
	scanCount int64
}

// NewQueues creates a queue view. scanCount is the SCAN count hint used when
// discovering active queues.
func NewQueues(rdb *redis.Client, scanCount int) *Queues {
	if scanCount <= 0 {
		scanCount = 200
	}
	return &Queues{rdb: rdb, scanCount: int64(scanCount)}
}

// ScanAuctionIDs discovers every auction with pending work, via SCAN so the
// sweep never blocks the server. Main and retry keys both count; dead-letter
// keys are excluded because nothing drains them automatically.
func (q *Queues) ScanAuctionIDs(ctx context.Context) ([]int64, error) {
	var (
		ids    []int64
		seen   = map[int64]struct{}{}
		cursor uint64
	)
	for {
		keys, next, err := q.rdb.Scan(ctx, cursor, QueueScanPattern, q.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("cache.ScanAuctionIDs: %w", err)
		}
		for _, k := range keys {
			id, kind, ok := ParseQueueKey(k)
			if !ok || kind == QueueDead {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// PopMain removes and returns the oldest event on an auction's main queue.
// Returns ("", false, nil) when the queue is empty.
func (q *Queues) PopMain(ctx context.Context, auctionID int64) (string, bool, error) {
	return q.pop(ctx, QueueKey(auctionID))
}

// PopRetry removes and returns the oldest event on the retry sub-queue.
func (q *Queues) PopRetry(ctx context.Context, auctionID int64) (string, bool, error) {
	return q.pop(ctx, RetryKey(auctionID))
}

func (q *Queues) pop(ctx context.Context, key string) (string, bool, error) {
	v, err := q.rdb.LPop(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache.pop %s: %w", key, err)
	}
	return v, true, nil
}

// PushRetry re-queues an event that failed with a retryable error. The retry
// key itself matches the SCAN pattern, so the auction stays discoverable
// until the retry drains.
func (q *Queues) PushRetry(ctx context.Context, auctionID int64, payload string) error {
	if err := q.rdb.RPush(ctx, RetryKey(auctionID), payload).Err(); err != nil {
		return fmt.Errorf("cache.PushRetry: %w", err)
	}
	return nil
}

// PushDead moves an event to the dead-letter sub-queue for operator review.
func (q *Queues) PushDead(ctx context.Context, auctionID int64, payload string) error {
	if err := q.rdb.RPush(ctx, DeadKey(auctionID), payload).Err(); err != nil {
		return fmt.Errorf("cache.PushDead: %w", err)
	}
	return nil
}

// Depths reports the three queue lengths for an auction. Backoffice view.
func (q *Queues) Depths(ctx context.Context, auctionID int64) (main, retry, dead int64, err error) {
	pipe := q.rdb.Pipeline()
	mc := pipe.LLen(ctx, QueueKey(auctionID))
	rc := pipe.LLen(ctx, RetryKey(auctionID))
	dc := pipe.LLen(ctx, DeadKey(auctionID))
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("cache.Depths: %w", err)
	}
	return mc.Val(), rc.Val(), dc.Val(), nil
}

// PeekDead returns up to limit dead-letter payloads without removing them.
func (q *Queues) PeekDead(ctx context.Context, auctionID int64, limit int64) ([]string, error) {
	vals, err := q.rdb.LRange(ctx, DeadKey(auctionID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache.PeekDead: %w", err)
	}
	return vals, nil
}

// RequeueDead moves every dead-letter payload back onto the retry sub-queue.
// Admin recovery after fixing whatever made them fatal. Returns the count.
func (q *Queues) RequeueDead(ctx context.Context, auctionID int64) (int, error) {
	moved := 0
	for {
		_, err := q.rdb.LMove(ctx, DeadKey(auctionID), RetryKey(auctionID), "LEFT", "RIGHT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, fmt.Errorf("cache.RequeueDead: %w", err)
		}
		moved++
	}
}
