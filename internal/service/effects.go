package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cardhaus/auction/internal/domain"
	"github.com/shopspring/decimal"
)

// SnapshotSyncer is the slice of the cache store the post-commit effects
// touch.
type SnapshotSyncer interface {
	ApplyPrice(ctx context.Context, auctionID int64, price decimal.Decimal) (bool, error)
	ExtendEndTs(ctx context.Context, auctionID int64, endTs int64) error
	MarkEnded(ctx context.Context, auctionID int64) error
}

// DeadlineIndex is the due-time index as the services see it.
type DeadlineIndex interface {
	Upsert(ctx context.Context, auctionID int64, endAt time.Time) error
	Remove(ctx context.Context, auctionID int64) error
}

// applyEffects collects the post-commit work decided inside a bid or close
// transaction. Side effects never run unless the commit succeeded.
type applyEffects struct {
	priceUpdate *decimal.Decimal
	newEndTs    *time.Time
	closed      *domain.CloseReason
	acceptedBid *domain.AuctionBid
	sold        *domain.AuctionSoldEvent
	unsold      *domain.AuctionUnsoldEvent
}

// effectRunner mirrors committed transactions into the cache, the deadline
// index, live subscribers and downstream consumers. Failures here only delay
// convergence (the reconciler repairs them), so they are logged, not
// returned.
type effectRunner struct {
	store       SnapshotSyncer
	deadlines   DeadlineIndex
	publisher   EventPublisher
	logger      *slog.Logger
	broadcaster Broadcaster // injected after WS Hub is built
}

func newEffectRunner(store SnapshotSyncer, deadlines DeadlineIndex, publisher EventPublisher, logger *slog.Logger) *effectRunner {
	return &effectRunner{store: store, deadlines: deadlines, publisher: publisher, logger: logger}
}

func (r *effectRunner) setBroadcaster(b Broadcaster) { r.broadcaster = b }

func (r *effectRunner) run(auctionID int64, eff applyEffects) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if eff.priceUpdate != nil {
		if _, err := r.store.ApplyPrice(ctx, auctionID, *eff.priceUpdate); err != nil {
			r.logger.Warn("cache price update failed", "auction_id", auctionID, "error", err)
		}
		if r.broadcaster != nil {
			r.broadcaster.BroadcastPriceUpdate(auctionID, eff.priceUpdate.String())
		}
	}

	if eff.newEndTs != nil {
		ts := eff.newEndTs.UTC()
		if err := r.store.ExtendEndTs(ctx, auctionID, ts.Unix()); err != nil {
			r.logger.Warn("cache end_ts update failed", "auction_id", auctionID, "error", err)
		}
		if err := r.deadlines.Upsert(ctx, auctionID, ts); err != nil {
			r.logger.Warn("deadline upsert failed", "auction_id", auctionID, "error", err)
		}
		if r.broadcaster != nil {
			r.broadcaster.BroadcastEndTsUpdate(auctionID, ts.Unix())
		}
	}

	if eff.acceptedBid != nil && r.broadcaster != nil {
		r.broadcaster.BroadcastBidAccepted(auctionID, eff.acceptedBid.BidderMemberID, eff.acceptedBid.BidPrice.String())
	}

	if eff.closed != nil {
		if err := r.store.MarkEnded(ctx, auctionID); err != nil {
			r.logger.Warn("cache mark-ended failed", "auction_id", auctionID, "error", err)
		}
		if err := r.deadlines.Remove(ctx, auctionID); err != nil {
			r.logger.Warn("deadline remove failed", "auction_id", auctionID, "error", err)
		}
		if r.broadcaster != nil {
			r.broadcaster.BroadcastClosed(auctionID, string(*eff.closed))
		}
	}

	if eff.sold != nil {
		if err := r.publisher.PublishSold(*eff.sold); err != nil {
			r.logger.Warn("sold event publish failed", "auction_id", auctionID, "error", err)
		}
	}
	if eff.unsold != nil {
		if err := r.publisher.PublishUnsold(*eff.unsold); err != nil {
			r.logger.Warn("unsold event publish failed", "auction_id", auctionID, "error", err)
		}
	}
}
