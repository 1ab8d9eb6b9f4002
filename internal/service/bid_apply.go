package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ApplyAuctionStore is the slice of the auction repository the apply step
// drives.
type ApplyAuctionStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Auction, error)
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*domain.Auction, error)
	UpdateCurrentPrice(ctx context.Context, tx *sqlx.Tx, id int64, price decimal.Decimal) error
	ExtendEnd(ctx context.Context, tx *sqlx.Tx, id int64, newEnd time.Time) error
	CloseNow(ctx context.Context, tx *sqlx.Tx, id int64, reason domain.CloseReason, now time.Time) (bool, error)
	SetWinner(ctx context.Context, tx *sqlx.Tx, id int64, memberID, bidID int64, amount decimal.Decimal) error
}

// ApplyBidStore is the slice of the bid repository the apply step drives.
type ApplyBidStore interface {
	ExistsByEventID(ctx context.Context, eventID string) (bool, error)
	Create(ctx context.Context, tx *sqlx.Tx, b *domain.AuctionBid) error
	AuctionExists(ctx context.Context, auctionID int64) (bool, error)
	MemberExists(ctx context.Context, memberID int64) (bool, error)
}

// ApplyCache is the cache surface the apply step needs: the effect sync
// methods plus the forced price overwrite used when an event dead-letters.
type ApplyCache interface {
	SnapshotSyncer
	ForceResyncPrice(ctx context.Context, auctionID int64, price decimal.Decimal) error
}

// BidApplyService is the durable half of the queued bid path. It turns queue
// events into bid history rows and price updates under a row lock, exactly
// once per event id. Every error it returns carries a FailureClass so the
// consumer can route the event to retry or dead-letter.
type BidApplyService struct {
	tx          txRunner
	auctionRepo ApplyAuctionStore
	bidRepo     ApplyBidStore
	store       ApplyCache
	cfg         *config.Config
	logger      *slog.Logger
	effects     *effectRunner
}

// NewBidApplyService creates a BidApplyService.
func NewBidApplyService(
	db *sqlx.DB,
	auctionRepo ApplyAuctionStore,
	bidRepo ApplyBidStore,
	store ApplyCache,
	deadlines DeadlineIndex,
	cfg *config.Config,
	logger *slog.Logger,
	publisher EventPublisher,
) *BidApplyService {
	return &BidApplyService{
		tx:          dbTxRunner{db: db},
		auctionRepo: auctionRepo,
		bidRepo:     bidRepo,
		store:       store,
		cfg:         cfg,
		logger:      logger,
		effects:     newEffectRunner(store, deadlines, publisher, logger),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *BidApplyService) SetBroadcaster(b Broadcaster) { s.effects.setBroadcaster(b) }

// Apply processes one queue event to completion. It is idempotent on the
// event id: a redelivered event that already has a row is a no-op. A nil
// return means the event is finished (including "finished as a duplicate" and
// "dropped as unpersistable reject"); any error carries a FailureClass.
func (s *BidApplyService) Apply(ctx context.Context, ev domain.BidEvent) error {
	done, err := s.bidRepo.ExistsByEventID(ctx, ev.EventID)
	if err != nil {
		return domain.Retryable(domain.ReasonDBConstraint, err)
	}
	if done {
		return nil
	}

	amount, err := ev.AmountDecimal()
	if err != nil {
		return domain.Permanent(domain.ReasonPrecheck, err)
	}

	var eff applyEffects
	if err = s.applyInTx(ctx, ev, amount, &eff); err != nil {
		return err
	}

	s.effects.run(ev.AuctionID, eff)
	return nil
}

// applyInTx runs the whole apply step inside one transaction and fills eff
// with the side effects to run after the commit. eff is only honored when the
// commit went through.
func (s *BidApplyService) applyInTx(ctx context.Context, ev domain.BidEvent, amount decimal.Decimal, eff *applyEffects) error {
	return s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		auction, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, ev.AuctionID)
		if err != nil {
			if errors.Is(err, domain.ErrAuctionNotFound) {
				if ev.Intended == domain.IntendedReject {
					// nothing to audit against; drop silently
					return errTxAbort
				}
				return domain.Permanent(domain.ReasonMissing, err)
			}
			return domain.Retryable(domain.ReasonDBConstraint, err)
		}

		now := time.Now().UTC()
		bid := &domain.AuctionBid{
			AuctionID:      ev.AuctionID,
			BidderMemberID: ev.MemberID,
			BidPrice:       amount,
			CreatedAt:      now,
			EventID:        &ev.EventID,
		}

		if ev.Intended == domain.IntendedReject {
			bid.Status = domain.BidStatusRejected
			reason := ev.Reason
			bid.ReasonCode = &reason
			return s.createBid(ctx, tx, bid)
		}

		// ── Accept path ──────────────────────────────────────────────────────
		bid.Status = domain.BidStatusValid

		if ev.IsBuyNow() && auction.BuyNowFlag && auction.BuyNowPrice.Valid {
			return s.applyBuyNow(ctx, tx, auction, bid, now, eff)
		}

		if err = s.createBid(ctx, tx, bid); err != nil {
			return err
		}

		// the row lock serializes price writes; only raise, never lower
		if amount.GreaterThan(auction.CurrentPrice) {
			if err = s.auctionRepo.UpdateCurrentPrice(ctx, tx, auction.ID, amount); err != nil {
				return domain.Retryable(domain.ReasonDBConstraint, err)
			}
			eff.priceUpdate = &amount
		}

		// anti-sniping: a late bid near the deadline pushes the end out
		if s.cfg.Bid.ExtensionEnabled && auction.ExtensionFlag && !auction.IsEnd {
			remaining := auction.EndDatetime.Sub(now)
			if remaining > 0 && remaining <= s.cfg.Bid.ExtensionThreshold {
				newEnd := now.Add(s.cfg.Bid.ExtensionBy)
				if newEnd.After(auction.EndDatetime) {
					if err = s.auctionRepo.ExtendEnd(ctx, tx, auction.ID, newEnd); err != nil {
						return domain.Retryable(domain.ReasonDBConstraint, err)
					}
					eff.newEndTs = &newEnd
				}
			}
		}

		eff.acceptedBid = bid
		return nil
	})
}

// applyBuyNow settles a buy-now acceptance: the bid is recorded at the
// buy-now price, the auction closes immediately, and the bidder wins.
func (s *BidApplyService) applyBuyNow(ctx context.Context, tx *sqlx.Tx, auction *domain.Auction, bid *domain.AuctionBid, now time.Time, eff *applyEffects) error {
	price := auction.BuyNowPrice.Decimal
	bid.BidPrice = price
	reason := domain.ReasonBuyNow
	bid.ReasonCode = &reason

	if err := s.createBid(ctx, tx, bid); err != nil {
		return err
	}
	if err := s.auctionRepo.UpdateCurrentPrice(ctx, tx, auction.ID, price); err != nil {
		return domain.Retryable(domain.ReasonDBConstraint, err)
	}
	closed, err := s.auctionRepo.CloseNow(ctx, tx, auction.ID, domain.CloseReasonBuyNow, now)
	if err != nil {
		return domain.Retryable(domain.ReasonDBConstraint, err)
	}
	if !closed {
		// raced a finalizer; the bid row stands, the close does not
		eff.acceptedBid = bid
		return nil
	}
	if err = s.auctionRepo.SetWinner(ctx, tx, auction.ID, bid.BidderMemberID, bid.ID, price); err != nil {
		return domain.Retryable(domain.ReasonDBConstraint, err)
	}

	cr := domain.CloseReasonBuyNow
	eff.acceptedBid = bid
	eff.priceUpdate = &price
	eff.closed = &cr
	eff.sold = &domain.AuctionSoldEvent{
		AuctionID:      auction.ID,
		AuctionCode:    auction.Code,
		SellerMemberID: auction.OwnerMemberID,
		WinnerMemberID: bid.BidderMemberID,
		WinnerBidID:    bid.ID,
		Amount:         price,
		CloseReason:    domain.CloseReasonBuyNow,
		ClosedAt:       now,
	}
	return nil
}

// createBid inserts the bid row, translating storage errors into apply
// classifications. A duplicate event id means another worker already applied
// this event, which counts as success.
func (s *BidApplyService) createBid(ctx context.Context, tx *sqlx.Tx, bid *domain.AuctionBid) error {
	err := s.bidRepo.Create(ctx, tx, bid)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDuplicateEvent) {
		return nil
	}
	if errors.Is(err, domain.ErrAuctionNotFound) {
		return domain.Permanent(domain.ReasonMissing, err)
	}
	return domain.Retryable(domain.ReasonDBConstraint, err)
}

// RecordFailure writes a FAILED audit row for an event the consumer gave up
// on, then forces the cached price back to the DB truth since the gate may
// have advanced it for a bid that will never land. Only a confirmed-missing
// auction skips the resync; every other exit runs it, row or no row.
func (s *BidApplyService) RecordFailure(ctx context.Context, ev domain.BidEvent, cause error) {
	auctionOK, err := s.bidRepo.AuctionExists(ctx, ev.AuctionID)
	if err == nil && !auctionOK {
		s.logger.Warn("skipping FAILED row, auction missing",
			"auction_id", ev.AuctionID, "event_id", ev.EventID)
		return
	}
	defer s.ResyncPrice(ctx, ev.AuctionID)
	if err != nil {
		s.logger.Warn("FAILED row auction check failed",
			"auction_id", ev.AuctionID, "event_id", ev.EventID, "error", err)
		return
	}

	memberOK, err := s.bidRepo.MemberExists(ctx, ev.MemberID)
	if err != nil || !memberOK {
		s.logger.Warn("skipping FAILED row, member missing",
			"member_id", ev.MemberID, "event_id", ev.EventID, "error", err)
		return
	}

	reason := domain.ReasonDBConstraint
	var applyErr *domain.ApplyError
	if errors.As(cause, &applyErr) && applyErr.Code != "" {
		reason = applyErr.Code
	}
	amount, aerr := ev.AmountDecimal()
	if aerr != nil {
		amount = decimal.Zero
	}

	bid := &domain.AuctionBid{
		AuctionID:      ev.AuctionID,
		BidderMemberID: ev.MemberID,
		BidPrice:       amount,
		Status:         domain.BidStatusFailed,
		ReasonCode:     &reason,
		EventID:        &ev.EventID,
		CreatedAt:      time.Now().UTC(),
	}
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		return s.bidRepo.Create(ctx, tx, bid)
	})
	if err != nil {
		s.logger.Warn("FAILED row write failed", "event_id", ev.EventID, "error", err)
	}
}

// ResyncPrice overwrites the cached price with the DB value, bypassing the
// monotonic guard. Called after dead-lettering and from the backoffice.
func (s *BidApplyService) ResyncPrice(ctx context.Context, auctionID int64) {
	a, err := s.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		s.logger.Warn("price resync load failed", "auction_id", auctionID, "error", err)
		return
	}
	if err := s.store.ForceResyncPrice(ctx, auctionID, a.CurrentPrice); err != nil {
		s.logger.Warn("price resync write failed", "auction_id", auctionID, "error", err)
	}
}
