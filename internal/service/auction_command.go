package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cardhaus/auction/internal/cache"
	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/cardhaus/auction/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CreateAuctionRequest carries everything needed to list a new auction.
type CreateAuctionRequest struct {
	Title         string
	OwnerMemberID int64
	StartPrice    decimal.Decimal
	BidUnit       string
	StartDatetime time.Time
	EndDatetime   time.Time
	ExtensionFlag bool
	BuyNowFlag    bool
	BuyNowPrice   *decimal.Decimal
}

// AuctionCommandService owns the auction lifecycle outside of bidding:
// creation, cancellation, and the admin recovery operations.
type AuctionCommandService struct {
	db          *sqlx.DB
	auctionRepo *repository.AuctionRepository
	bidRepo     *repository.BidRepository
	store       *cache.Store
	deadlines   *cache.Deadlines
	cfg         *config.Config
	logger      *slog.Logger
	effects     *effectRunner
}

// NewAuctionCommandService creates an AuctionCommandService.
func NewAuctionCommandService(
	db *sqlx.DB,
	auctionRepo *repository.AuctionRepository,
	bidRepo *repository.BidRepository,
	store *cache.Store,
	deadlines *cache.Deadlines,
	cfg *config.Config,
	logger *slog.Logger,
	publisher EventPublisher,
) *AuctionCommandService {
	return &AuctionCommandService{
		db:          db,
		auctionRepo: auctionRepo,
		bidRepo:     bidRepo,
		store:       store,
		deadlines:   deadlines,
		cfg:         cfg,
		logger:      logger,
		effects:     newEffectRunner(store, deadlines, publisher, logger),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *AuctionCommandService) SetBroadcaster(b Broadcaster) { s.effects.setBroadcaster(b) }

// ──────────────────────────────────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────────────────────────────────

// Create validates and persists a new auction, then warms its cache snapshot
// and deadline index entry so bidding can start without a lazy load.
func (s *AuctionCommandService) Create(ctx context.Context, req CreateAuctionRequest) (*domain.Auction, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: empty title", domain.ErrInvalidWindow)
	}
	unit, err := domain.ParseBidUnit(req.BidUnit)
	if err != nil {
		return nil, err
	}
	start := req.StartDatetime.UTC()
	end := req.EndDatetime.UTC()
	if !end.After(start) {
		return nil, domain.ErrInvalidWindow
	}
	if req.StartPrice.LessThan(decimal.Zero) {
		return nil, domain.ErrInvalidWindow
	}
	if req.BuyNowFlag {
		if req.BuyNowPrice == nil || !req.BuyNowPrice.GreaterThan(req.StartPrice) {
			return nil, domain.ErrInvalidBuyNowPrice
		}
	}

	now := time.Now().UTC()
	a := &domain.Auction{
		Code:          newAuctionCode(),
		Title:         strings.TrimSpace(req.Title),
		OwnerMemberID: req.OwnerMemberID,
		StartPrice:    req.StartPrice,
		CurrentPrice:  req.StartPrice,
		BidUnit:       unit,
		StartDatetime: start,
		EndDatetime:   end,
		ExtensionFlag: req.ExtensionFlag,
		BuyNowFlag:    req.BuyNowFlag,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.BuyNowFlag {
		a.BuyNowPrice = decimal.NewNullDecimal(*req.BuyNowPrice)
	}

	if err := s.auctionRepo.Create(ctx, a); err != nil {
		return nil, err
	}

	if err := s.store.LoadSnapshot(ctx, domain.SnapshotOf(a)); err != nil {
		s.logger.Warn("snapshot warm failed on create", "auction_id", a.ID, "error", err)
	}
	if err := s.deadlines.Upsert(ctx, a.ID, a.EndDatetime); err != nil {
		s.logger.Warn("deadline upsert failed on create", "auction_id", a.ID, "error", err)
	}

	s.logger.Info("auction created", "auction_id", a.ID, "code", a.Code, "owner", a.OwnerMemberID)
	return a, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────────────────────────────────

// CanSellerCancel reports whether the owner may still cancel: the auction is
// open, its end time has not passed, and no valid bid has landed.
func (s *AuctionCommandService) CanSellerCancel(ctx context.Context, auctionID, memberID int64) error {
	a, err := s.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.OwnerMemberID != memberID {
		return domain.ErrNotOwner
	}
	if a.IsEnd || a.IsEndedAt(time.Now().UTC()) {
		return domain.ErrAuctionEnded
	}
	n, err := s.bidRepo.CountValidByAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.ErrAuctionHasBids
	}
	return nil
}

// SellerCancel closes an auction at the owner's request. The bid count is
// re-checked inside the transaction under the row lock, so a racing bid
// either lands before the cancel (blocking it) or is refused by the gate
// after the cache marks the auction ended.
func (s *AuctionCommandService) SellerCancel(ctx context.Context, auctionID, memberID int64) error {
	return s.cancel(ctx, auctionID, domain.CloseReasonSellerCancel, func(a *domain.Auction) error {
		if a.OwnerMemberID != memberID {
			return domain.ErrNotOwner
		}
		if a.IsEnd || a.IsEndedAt(time.Now().UTC()) {
			return domain.ErrAuctionEnded
		}
		return nil
	}, true)
}

// AdminCancel force-closes an auction unconditionally. Live bids become
// moot; the audit trail keeps them.
func (s *AuctionCommandService) AdminCancel(ctx context.Context, auctionID int64) error {
	return s.cancel(ctx, auctionID, domain.CloseReasonAdminCancel, func(a *domain.Auction) error {
		if a.IsEnd {
			return domain.ErrAuctionEnded
		}
		return nil
	}, false)
}

// cancel runs the shared close-early flow: lock, guard, conditional close,
// post-commit cache/broadcast/unsold-event work.
func (s *AuctionCommandService) cancel(ctx context.Context, auctionID int64, reason domain.CloseReason, guard func(*domain.Auction) error, requireNoBids bool) error {
	var eff applyEffects
	var code string

	err := func() (err error) {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("auction_command.cancel: begin tx: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()

		a, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if err = guard(a); err != nil {
			return err
		}
		if requireNoBids {
			var winner *domain.AuctionBid
			winner, err = s.bidRepo.TopValidBid(ctx, tx, auctionID)
			if err != nil {
				return err
			}
			if winner != nil {
				err = domain.ErrAuctionHasBids
				return err
			}
		}

		now := time.Now().UTC()
		closed, err := s.auctionRepo.CloseNow(ctx, tx, auctionID, reason, now)
		if err != nil {
			return err
		}
		if !closed {
			err = domain.ErrAuctionEnded
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("auction_command.cancel: commit: %w", err)
		}

		eff.closed = &reason
		eff.unsold = &domain.AuctionUnsoldEvent{
			AuctionID:   a.ID,
			AuctionCode: a.Code,
			ClosedAt:    now,
		}
		code = a.Code
		return nil
	}()
	if err != nil {
		return err
	}

	s.effects.run(auctionID, eff)
	s.logger.Info("auction cancelled", "auction_id", auctionID, "code", code, "reason", reason)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Admin recovery
// ──────────────────────────────────────────────────────────────────────────────

// AdminExtend pushes an open auction's end time out to newEnd.
func (s *AuctionCommandService) AdminExtend(ctx context.Context, auctionID int64, newEnd time.Time) error {
	newEnd = newEnd.UTC()
	var eff applyEffects

	err := func() (err error) {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("auction_command.AdminExtend: begin tx: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()

		a, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if a.IsEnd {
			return domain.ErrAuctionEnded
		}
		if !newEnd.After(a.EndDatetime) {
			return domain.ErrInvalidWindow
		}
		if err = s.auctionRepo.ExtendEnd(ctx, tx, auctionID, newEnd); err != nil {
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("auction_command.AdminExtend: commit: %w", err)
		}
		eff.newEndTs = &newEnd
		return nil
	}()
	if err != nil {
		return err
	}

	s.effects.run(auctionID, eff)
	return nil
}

// AdminReopen restores a closed auction to open with a fresh end time,
// clearing winner bookkeeping. Recovery tool for operator mistakes; any
// previously published settlement event must be compensated downstream.
func (s *AuctionCommandService) AdminReopen(ctx context.Context, auctionID int64, newEnd time.Time) error {
	newEnd = newEnd.UTC()
	if !newEnd.After(time.Now().UTC()) {
		return domain.ErrInvalidWindow
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auction_command.AdminReopen: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	reopened, err := s.auctionRepo.Reopen(ctx, tx, auctionID, newEnd)
	if err != nil {
		return err
	}
	if !reopened {
		err = domain.ErrAuctionConflict
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("auction_command.AdminReopen: commit: %w", err)
	}

	sideCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := s.store.ReopenUntil(sideCtx, auctionID, newEnd.Unix()); cerr != nil {
		s.logger.Warn("cache reopen failed", "auction_id", auctionID, "error", cerr)
	}
	if derr := s.deadlines.Upsert(sideCtx, auctionID, newEnd); derr != nil {
		s.logger.Warn("deadline upsert failed on reopen", "auction_id", auctionID, "error", derr)
	}

	s.logger.Info("auction reopened", "auction_id", auctionID, "new_end", newEnd)
	return nil
}

// newAuctionCode mints the external auction identifier: 12 hex chars with a
// fixed prefix. Collisions are caught by the unique index on code.
func newAuctionCode() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("AU%d", time.Now().UTC().UnixNano())
	}
	return "AU" + strings.ToUpper(hex.EncodeToString(b))
}
