package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardhaus/auction/internal/cache"
	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/cardhaus/auction/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// BidDirectService is the synchronous bid path: everything the queued path
// spreads across gate, queue and apply happens here inside one transaction
// under the auction's row lock. Strongly consistent, lower throughput. Used
// for last-second bids and as a fallback when the cache is degraded.
type BidDirectService struct {
	db          *sqlx.DB
	auctionRepo *repository.AuctionRepository
	bidRepo     *repository.BidRepository
	cfg         *config.Config
	logger      *slog.Logger
	effects     *effectRunner
}

// NewBidDirectService creates a BidDirectService.
func NewBidDirectService(
	db *sqlx.DB,
	auctionRepo *repository.AuctionRepository,
	bidRepo *repository.BidRepository,
	store *cache.Store,
	deadlines *cache.Deadlines,
	cfg *config.Config,
	logger *slog.Logger,
	publisher EventPublisher,
) *BidDirectService {
	return &BidDirectService{
		db:          db,
		auctionRepo: auctionRepo,
		bidRepo:     bidRepo,
		cfg:         cfg,
		logger:      logger,
		effects:     newEffectRunner(store, deadlines, publisher, logger),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *BidDirectService) SetBroadcaster(b Broadcaster) { s.effects.setBroadcaster(b) }

// PlaceBid validates and records one bid under the auction row lock. All the
// admission rules of the queued path apply identically: running window,
// no self-bids, minimum increment, buy-now settlement, anti-sniping
// extension. Returns the committed bid state.
func (s *BidDirectService) PlaceBid(ctx context.Context, req domain.PlaceBidRequest) (*domain.BidResult, error) {
	if req.BidPrice.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrBidTooLow
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.DB.LockTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(lockCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("bid_direct.PlaceBid: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	auction, err := s.auctionRepo.GetByIDForUpdate(lockCtx, tx, req.AuctionID)
	if err != nil {
		if lockCtx.Err() != nil {
			err = domain.ErrLockTimeout
		}
		return nil, err
	}

	now := time.Now().UTC()
	if !auction.IsRunningAt(now) {
		err = domain.ErrAuctionNotRunning
		return nil, err
	}
	if auction.OwnerMemberID == req.MemberID {
		err = domain.ErrSelfBid
		return nil, err
	}

	var eff applyEffects
	bid := &domain.AuctionBid{
		AuctionID:      req.AuctionID,
		BidderMemberID: req.MemberID,
		BidPrice:       req.BidPrice,
		Status:         domain.BidStatusValid,
		CreatedAt:      now,
	}

	if price, hit := auction.MeetsBuyNow(req.BidPrice); hit {
		reason := domain.ReasonBuyNow
		bid.BidPrice = price
		bid.ReasonCode = &reason
		if err = s.settleBuyNow(lockCtx, tx, auction, bid, now, &eff); err != nil {
			return nil, err
		}
	} else {
		if req.BidPrice.LessThan(auction.MinAllowedBid()) {
			err = domain.ErrBidTooLow
			return nil, err
		}
		if err = s.bidRepo.Create(lockCtx, tx, bid); err != nil {
			return nil, err
		}
		if err = s.auctionRepo.UpdateCurrentPrice(lockCtx, tx, auction.ID, req.BidPrice); err != nil {
			return nil, err
		}
		eff.priceUpdate = &bid.BidPrice

		if s.cfg.Bid.ExtensionEnabled && auction.ExtensionFlag {
			remaining := auction.EndDatetime.Sub(now)
			if remaining > 0 && remaining <= s.cfg.Bid.ExtensionThreshold {
				newEnd := now.Add(s.cfg.Bid.ExtensionBy)
				if newEnd.After(auction.EndDatetime) {
					if err = s.auctionRepo.ExtendEnd(lockCtx, tx, auction.ID, newEnd); err != nil {
						return nil, err
					}
					eff.newEndTs = &newEnd
				}
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("bid_direct.PlaceBid: commit: %w", err)
	}
	eff.acceptedBid = bid
	s.effects.run(req.AuctionID, eff)

	return &domain.BidResult{
		BidID:        bid.ID,
		AuctionID:    req.AuctionID,
		CurrentPrice: bid.BidPrice,
		PlacedAt:     now,
		Outcome:      "ACCEPTED",
	}, nil
}

// settleBuyNow records the bid at the buy-now price and closes the auction
// with the bidder as winner, all inside the caller's transaction.
func (s *BidDirectService) settleBuyNow(ctx context.Context, tx *sqlx.Tx, auction *domain.Auction, bid *domain.AuctionBid, now time.Time, eff *applyEffects) error {
	if err := s.bidRepo.Create(ctx, tx, bid); err != nil {
		return err
	}
	if err := s.auctionRepo.UpdateCurrentPrice(ctx, tx, auction.ID, bid.BidPrice); err != nil {
		return err
	}
	closed, err := s.auctionRepo.CloseNow(ctx, tx, auction.ID, domain.CloseReasonBuyNow, now)
	if err != nil {
		return err
	}
	if !closed {
		return domain.ErrAuctionEnded
	}
	if err := s.auctionRepo.SetWinner(ctx, tx, auction.ID, bid.BidderMemberID, bid.ID, bid.BidPrice); err != nil {
		return err
	}

	cr := domain.CloseReasonBuyNow
	eff.priceUpdate = &bid.BidPrice
	eff.closed = &cr
	eff.sold = &domain.AuctionSoldEvent{
		AuctionID:      auction.ID,
		AuctionCode:    auction.Code,
		SellerMemberID: auction.OwnerMemberID,
		WinnerMemberID: bid.BidderMemberID,
		WinnerBidID:    bid.ID,
		Amount:         bid.BidPrice,
		CloseReason:    domain.CloseReasonBuyNow,
		ClosedAt:       now,
	}
	return nil
}
