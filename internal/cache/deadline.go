package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deadlines is the sorted-set index of open auction end times, scored by
// epoch milliseconds. The deadline worker reads it; the apply step and the
// reconciler keep it current. It is an acceleration structure only: losing
// it delays finalization until the next reconcile, never corrupts state.
type Deadlines struct {
	rdb *redis.Client
}

// NewDeadlines creates a deadline index view.
func NewDeadlines(rdb *redis.Client) *Deadlines {
	return &Deadlines{rdb: rdb}
}

// Upsert records (or moves) an auction's deadline.
func (d *Deadlines) Upsert(ctx context.Context, auctionID int64, endAt time.Time) error {
	err := d.rdb.ZAdd(ctx, DeadlineIndexKey, redis.Z{
		Score:  float64(endAt.UTC().UnixMilli()),
		Member: memberForAuction(auctionID),
	}).Err()
	if err != nil {
		return fmt.Errorf("cache.Deadlines.Upsert: %w", err)
	}
	return nil
}

// Remove drops an auction from the index after it closes.
func (d *Deadlines) Remove(ctx context.Context, auctionID int64) error {
	if err := d.rdb.ZRem(ctx, DeadlineIndexKey, memberForAuction(auctionID)).Err(); err != nil {
		return fmt.Errorf("cache.Deadlines.Remove: %w", err)
	}
	return nil
}

// Due returns up to limit auction ids whose deadline is at or before now,
// soonest first.
func (d *Deadlines) Due(ctx context.Context, now time.Time, limit int64) ([]int64, error) {
	members, err := d.rdb.ZRangeByScore(ctx, DeadlineIndexKey, &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(now.UTC().UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("cache.Deadlines.Due: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, perr := strconv.ParseInt(m, 10, 64)
		if perr != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Size reports how many deadlines the index holds. Backoffice view.
func (d *Deadlines) Size(ctx context.Context) (int64, error) {
	n, err := d.rdb.ZCard(ctx, DeadlineIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("cache.Deadlines.Size: %w", err)
	}
	return n, nil
}
