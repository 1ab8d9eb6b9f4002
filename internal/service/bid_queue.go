package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdmissionGate is the cache-side gate the queued path submits through.
type AdmissionGate interface {
	Admit(ctx context.Context, auctionID, memberID int64, amount decimal.Decimal, eventID string, now time.Time, idemTTL time.Duration) (domain.AdmissionResult, error)
	Loaded(ctx context.Context, auctionID int64) (bool, error)
	EnsureLoaded(ctx context.Context, snap domain.Snapshot) error
}

// AuctionReader is the slice of the auction repository the queued path needs.
type AuctionReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Auction, error)
}

// BidQueueService is the queued submission path. It runs the atomic cache
// admission gate, which leaves the decided event (accept or reject) on the
// auction's queue for the consumer. The caller gets an answer from the cache
// alone; the DB write happens asynchronously in the apply step.
type BidQueueService struct {
	gate        AdmissionGate
	auctionRepo AuctionReader
	cfg         *config.Config
	logger      *slog.Logger
}

// NewBidQueueService creates a BidQueueService.
func NewBidQueueService(
	gate AdmissionGate,
	auctionRepo AuctionReader,
	cfg *config.Config,
	logger *slog.Logger,
) *BidQueueService {
	return &BidQueueService{
		gate:        gate,
		auctionRepo: auctionRepo,
		cfg:         cfg,
		logger:      logger,
	}
}

// SubmitBid pushes one bid through the admission gate. A fresh event id is
// minted per submission unless the caller supplies one for client-side retry
// safety. The snapshot is verified complete, and repaired from the DB when it
// is not, before the gate runs, so a gate MISSING means the auction is gone.
func (s *BidQueueService) SubmitBid(ctx context.Context, auctionID, memberID int64, amount decimal.Decimal, eventID string) (domain.AdmissionResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.AdmissionResult{}, domain.ErrBidTooLow
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}
	now := time.Now().UTC()

	if err := s.ensureLoaded(ctx, auctionID); err != nil {
		return domain.AdmissionResult{}, err
	}

	res, err := s.gate.Admit(ctx, auctionID, memberID, amount, eventID, now, s.cfg.Bid.IdemTTL)
	if err != nil {
		return domain.AdmissionResult{}, fmt.Errorf("bid_queue.SubmitBid: %w", err)
	}

	s.logger.Debug("bid admission",
		"auction_id", auctionID,
		"member_id", memberID,
		"code", res.Code,
		"event_id", eventID)
	return res, nil
}

// ensureLoaded makes the auction's snapshot hash complete before admission,
// pulling it from the DB when the cache holds nothing or a partial hash (a
// reopen or resync write that raced an eviction).
func (s *BidQueueService) ensureLoaded(ctx context.Context, auctionID int64) error {
	loaded, err := s.gate.Loaded(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("bid_queue.ensureLoaded: %w", err)
	}
	if loaded {
		return nil
	}

	a, err := s.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			return domain.ErrAuctionNotFound
		}
		return fmt.Errorf("bid_queue.ensureLoaded: %w", err)
	}
	if err = s.gate.EnsureLoaded(ctx, domain.SnapshotOf(a)); err != nil {
		return fmt.Errorf("bid_queue.ensureLoaded: %w", err)
	}
	return nil
}
