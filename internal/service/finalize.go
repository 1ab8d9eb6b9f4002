package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// FinalizeAuctionStore is the slice of the auction repository the finalizer
// drives.
type FinalizeAuctionStore interface {
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*domain.Auction, error)
	CloseIfDue(ctx context.Context, tx *sqlx.Tx, id int64, reason domain.CloseReason, now time.Time) (bool, error)
	SetWinner(ctx context.Context, tx *sqlx.Tx, id int64, memberID, bidID int64, amount decimal.Decimal) error
	FindOpenEndingBefore(ctx context.Context, horizon time.Time) ([]*domain.Auction, error)
}

// WinnerPicker selects the winning bid at close time.
type WinnerPicker interface {
	TopValidBid(ctx context.Context, tx *sqlx.Tx, auctionID int64) (*domain.AuctionBid, error)
}

// DueIndex is the deadline index with its sweep read.
type DueIndex interface {
	DeadlineIndex
	Due(ctx context.Context, now time.Time, limit int64) ([]int64, error)
}

// FinalizeService closes due auctions and selects winners. Finalization is
// guarded by both the row lock and an atomic conditional close, so a due
// auction finalizes exactly once no matter how many workers race on it.
type FinalizeService struct {
	tx          txRunner
	auctionRepo FinalizeAuctionStore
	bidRepo     WinnerPicker
	deadlines   DueIndex
	cfg         *config.Config
	logger      *slog.Logger
	effects     *effectRunner
}

// NewFinalizeService creates a FinalizeService.
func NewFinalizeService(
	db *sqlx.DB,
	auctionRepo FinalizeAuctionStore,
	bidRepo WinnerPicker,
	store SnapshotSyncer,
	deadlines DueIndex,
	cfg *config.Config,
	logger *slog.Logger,
	publisher EventPublisher,
) *FinalizeService {
	return &FinalizeService{
		tx:          dbTxRunner{db: db},
		auctionRepo: auctionRepo,
		bidRepo:     bidRepo,
		deadlines:   deadlines,
		cfg:         cfg,
		logger:      logger,
		effects:     newEffectRunner(store, deadlines, publisher, logger),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *FinalizeService) SetBroadcaster(b Broadcaster) { s.effects.setBroadcaster(b) }

// FinalizeDue sweeps the deadline index once and finalizes every auction
// whose end time has passed. Returns how many auctions it closed.
func (s *FinalizeService) FinalizeDue(ctx context.Context, now time.Time) int {
	ids, err := s.deadlines.Due(ctx, now, int64(s.cfg.Deadline.BatchLimit))
	if err != nil {
		s.logger.Error("deadline sweep failed", "error", err)
		return 0
	}

	closed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return closed
		}
		ok, err := s.FinalizeIfDue(ctx, id, now)
		if err != nil {
			s.logger.Error("finalize failed", "auction_id", id, "error", err)
			continue
		}
		if ok {
			closed++
		}
	}
	return closed
}

// FinalizeIfDue closes one auction if it is open and past its end time.
// The winner is the valid bid with the highest price, earliest winning ties.
// Returns whether this call performed the close.
func (s *FinalizeService) FinalizeIfDue(ctx context.Context, auctionID int64, now time.Time) (bool, error) {
	var eff applyEffects

	closed, err := s.finalizeInTx(ctx, auctionID, now, &eff)
	if err != nil {
		return false, err
	}
	if closed {
		s.effects.run(auctionID, eff)
	}
	return closed, nil
}

func (s *FinalizeService) finalizeInTx(ctx context.Context, auctionID int64, now time.Time, eff *applyEffects) (bool, error) {
	closed := false
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		auction, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, auctionID)
		if err != nil {
			if errors.Is(err, domain.ErrAuctionNotFound) {
				// stale index entry; drop it
				s.dropDeadline(auctionID)
				return errTxAbort
			}
			return err
		}

		if !auction.IsClosableNow(now) {
			if auction.IsEnd {
				// already closed by buy-now or cancel; index entry is stale
				s.dropDeadline(auctionID)
			}
			return errTxAbort
		}

		winner, err := s.bidRepo.TopValidBid(ctx, tx, auctionID)
		if err != nil {
			return err
		}

		reason := domain.CloseReasonNoBids
		if winner != nil {
			reason = domain.CloseReasonSold
		}

		ok, err := s.auctionRepo.CloseIfDue(ctx, tx, auctionID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return errTxAbort
		}

		if winner != nil {
			if err = s.auctionRepo.SetWinner(ctx, tx, auctionID, winner.BidderMemberID, winner.ID, winner.BidPrice); err != nil {
				return err
			}
		}

		eff.closed = &reason
		if winner != nil {
			eff.sold = &domain.AuctionSoldEvent{
				AuctionID:      auction.ID,
				AuctionCode:    auction.Code,
				SellerMemberID: auction.OwnerMemberID,
				WinnerMemberID: winner.BidderMemberID,
				WinnerBidID:    winner.ID,
				Amount:         winner.BidPrice,
				CloseReason:    reason,
				ClosedAt:       now,
			}
		} else {
			eff.unsold = &domain.AuctionUnsoldEvent{
				AuctionID:   auction.ID,
				AuctionCode: auction.Code,
				ClosedAt:    now,
			}
		}

		s.logger.Info("auction finalized",
			"auction_id", auctionID,
			"reason", reason,
			"had_winner", winner != nil)
		closed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("finalize.finalizeInTx: %w", err)
	}
	return closed, nil
}

// ReconcileDeadlines repairs the deadline index from the DB: every open
// auction ending within the horizon gets (re-)indexed. Run periodically and
// at startup, it bounds how long a lost index entry can delay finalization.
func (s *FinalizeService) ReconcileDeadlines(ctx context.Context, now time.Time) error {
	horizon := now.Add(s.cfg.Deadline.BootstrapHorizon)
	open, err := s.auctionRepo.FindOpenEndingBefore(ctx, horizon)
	if err != nil {
		return fmt.Errorf("finalize.ReconcileDeadlines: %w", err)
	}
	for _, a := range open {
		if err := s.deadlines.Upsert(ctx, a.ID, a.EndDatetime); err != nil {
			return fmt.Errorf("finalize.ReconcileDeadlines upsert: %w", err)
		}
	}
	s.logger.Debug("deadline index reconciled", "indexed", len(open))
	return nil
}

func (s *FinalizeService) dropDeadline(auctionID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deadlines.Remove(ctx, auctionID); err != nil {
		s.logger.Warn("stale deadline removal failed", "auction_id", auctionID, "error", err)
	}
}
