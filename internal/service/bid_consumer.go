package service

import (
	"context"
	"log/slog"

	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into BidConsumer so ticks are testable without Redis
// ──────────────────────────────────────────────────────────────────────────────

// QueueSource is the minimal queue surface the consumer needs.
// Implemented by cache.Queues.
type QueueSource interface {
	ScanAuctionIDs(ctx context.Context) ([]int64, error)
	PopMain(ctx context.Context, auctionID int64) (string, bool, error)
	PopRetry(ctx context.Context, auctionID int64) (string, bool, error)
	PushRetry(ctx context.Context, auctionID int64, payload string) error
	PushDead(ctx context.Context, auctionID int64, payload string) error
}

// EventApplier is the apply step as seen by the consumer.
// Implemented by BidApplyService.
type EventApplier interface {
	Apply(ctx context.Context, ev domain.BidEvent) error
	RecordFailure(ctx context.Context, ev domain.BidEvent, cause error)
}

// ──────────────────────────────────────────────────────────────────────────────
// BidConsumer
// ──────────────────────────────────────────────────────────────────────────────

// BidConsumer drains per-auction bid queues and routes each event through the
// apply step. Within one auction, events apply strictly in queue order:
// retries first (bounded per tick), then the main queue to empty. A retryable
// failure sends the event to the retry sub-queue; a permanent one sends it to
// dead-letter, records a FAILED row, and forces a price resync so the cache
// stops advertising a price that never landed.
type BidConsumer struct {
	queues  QueueSource
	applier EventApplier
	cfg     *config.Config
	logger  *slog.Logger
}

// NewBidConsumer creates a BidConsumer.
func NewBidConsumer(queues QueueSource, applier EventApplier, cfg *config.Config, logger *slog.Logger) *BidConsumer {
	return &BidConsumer{queues: queues, applier: applier, cfg: cfg, logger: logger}
}

// Tick runs one full sweep over every auction with pending work. The
// scheduler calls this on a short interval; errors abort only the current
// auction, never the sweep.
func (c *BidConsumer) Tick(ctx context.Context) {
	ids, err := c.queues.ScanAuctionIDs(ctx)
	if err != nil {
		c.logger.Error("queue scan failed", "error", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		c.drainAuction(ctx, id)
	}
}

// drainAuction processes one auction's retry backlog (up to the batch bound)
// and then its main queue until empty.
func (c *BidConsumer) drainAuction(ctx context.Context, auctionID int64) {
	for i := 0; i < c.cfg.Consumer.RetryBatch; i++ {
		payload, ok, err := c.queues.PopRetry(ctx, auctionID)
		if err != nil {
			c.logger.Error("retry pop failed", "auction_id", auctionID, "error", err)
			return
		}
		if !ok {
			break
		}
		c.handle(ctx, auctionID, payload)
	}

	for {
		payload, ok, err := c.queues.PopMain(ctx, auctionID)
		if err != nil {
			c.logger.Error("main pop failed", "auction_id", auctionID, "error", err)
			return
		}
		if !ok {
			return
		}
		c.handle(ctx, auctionID, payload)
	}
}

// handle applies one payload and routes the outcome.
func (c *BidConsumer) handle(ctx context.Context, auctionID int64, payload string) {
	ev, err := domain.ParseBidEvent(payload)
	if err != nil {
		// unparseable events can never succeed; straight to dead-letter
		c.logger.Warn("malformed bid event", "auction_id", auctionID, "error", err)
		if derr := c.queues.PushDead(ctx, auctionID, payload); derr != nil {
			c.logger.Error("dead-letter push failed", "auction_id", auctionID, "error", derr)
		}
		return
	}

	err = c.applier.Apply(ctx, ev)
	if err == nil {
		return
	}

	switch domain.ClassifyApply(err) {
	case domain.FailureRetryable:
		c.logger.Warn("apply failed, retrying",
			"auction_id", auctionID, "event_id", ev.EventID, "error", err)
		if rerr := c.queues.PushRetry(ctx, auctionID, payload); rerr != nil {
			c.logger.Error("retry push failed, event lost to dead-letter",
				"auction_id", auctionID, "event_id", ev.EventID, "error", rerr)
			_ = c.queues.PushDead(ctx, auctionID, payload)
		}
	default:
		c.logger.Error("apply failed permanently",
			"auction_id", auctionID, "event_id", ev.EventID, "error", err)
		if derr := c.queues.PushDead(ctx, auctionID, payload); derr != nil {
			c.logger.Error("dead-letter push failed", "auction_id", auctionID, "error", derr)
		}
		c.applier.RecordFailure(ctx, ev, err)
	}
}
