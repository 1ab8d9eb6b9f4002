package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cardhaus/auction/internal/cache"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/cardhaus/auction/internal/repository"
)

// AuctionQueryService is the read side: list views come from the DB, live
// detail views overlay the cached price so readers see admissions the apply
// step has not confirmed yet.
type AuctionQueryService struct {
	auctionRepo *repository.AuctionRepository
	bidRepo     *repository.BidRepository
	store       *cache.Store
	logger      *slog.Logger
}

// NewAuctionQueryService creates an AuctionQueryService.
func NewAuctionQueryService(
	auctionRepo *repository.AuctionRepository,
	bidRepo *repository.BidRepository,
	store *cache.Store,
	logger *slog.Logger,
) *AuctionQueryService {
	return &AuctionQueryService{
		auctionRepo: auctionRepo,
		bidRepo:     bidRepo,
		store:       store,
		logger:      logger,
	}
}

// GetAuction returns one auction with the live cached price overlaid when it
// runs ahead of the DB row. The overlay never lowers the price.
func (s *AuctionQueryService) GetAuction(ctx context.Context, auctionID int64) (*domain.Auction, error) {
	a, err := s.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.Snapshot(ctx, auctionID)
	if err != nil {
		if !errors.Is(err, domain.ErrSnapshotMissing) {
			s.logger.Warn("snapshot read failed", "auction_id", auctionID, "error", err)
		}
		return a, nil
	}
	if snap.CurrentPrice.GreaterThan(a.CurrentPrice) {
		a.CurrentPrice = snap.CurrentPrice
	}
	return a, nil
}

// GetSnapshot returns the cache-resident live view, lazily loading it from
// the DB when absent.
func (s *AuctionQueryService) GetSnapshot(ctx context.Context, auctionID int64) (*domain.Snapshot, error) {
	snap, err := s.store.Snapshot(ctx, auctionID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, domain.ErrSnapshotMissing) {
		return nil, err
	}

	a, err := s.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	fresh := domain.SnapshotOf(a)
	if lerr := s.store.EnsureLoaded(ctx, fresh); lerr != nil {
		s.logger.Warn("lazy snapshot load failed", "auction_id", auctionID, "error", lerr)
	}
	return &fresh, nil
}

// GetSnapshots returns the live views for up to 50 auctions at once, the
// polling fallback for clients without a WS connection. Unknown ids are
// omitted, not errored.
func (s *AuctionQueryService) GetSnapshots(ctx context.Context, auctionIDs []int64) ([]*domain.Snapshot, error) {
	if len(auctionIDs) > 50 {
		auctionIDs = auctionIDs[:50]
	}
	snaps := make([]*domain.Snapshot, 0, len(auctionIDs))
	for _, id := range auctionIDs {
		snap, err := s.GetSnapshot(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrAuctionNotFound) {
				continue
			}
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// ListAuctions returns a page of auctions. state is "", "open" or "closed".
func (s *AuctionQueryService) ListAuctions(ctx context.Context, limit, offset int, state string) ([]*domain.Auction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	auctions, total, err := s.auctionRepo.List(ctx, limit, offset, state)
	if err != nil {
		return nil, 0, fmt.Errorf("auction_query.ListAuctions: %w", err)
	}
	return auctions, total, nil
}

// BidHistory returns a page of an auction's recorded bids, newest first.
func (s *AuctionQueryService) BidHistory(ctx context.Context, auctionID int64, limit, offset int) ([]*domain.AuctionBid, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.auctionRepo.GetByID(ctx, auctionID); err != nil {
		return nil, 0, err
	}
	bids, total, err := s.bidRepo.ListByAuction(ctx, auctionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("auction_query.BidHistory: %w", err)
	}
	return bids, total, nil
}

// MyBids returns a member's bids across auctions, newest first.
func (s *AuctionQueryService) MyBids(ctx context.Context, memberID int64, limit, offset int) ([]*domain.AuctionBid, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	bids, err := s.bidRepo.ListByMember(ctx, memberID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("auction_query.MyBids: %w", err)
	}
	return bids, nil
}
