package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cardhaus/auction/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// BidRepository handles all database operations for auction bids.
type BidRepository struct {
	db *sqlx.DB
}

// NewBidRepository creates a new BidRepository.
func NewBidRepository(db *sqlx.DB) *BidRepository {
	return &BidRepository{db: db}
}

// Create inserts a new bid row inside an existing transaction and populates
// its generated ID. A foreign-key violation surfaces as ErrAuctionNotFound so
// the apply step can classify it as permanent.
func (r *BidRepository) Create(ctx context.Context, tx *sqlx.Tx, b *domain.AuctionBid) error {
	query := `
		INSERT INTO auction_bids
			(auction_id, bidder_member_id, bid_price, status, reason_code, event_id, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := tx.QueryRowxContext(ctx, query,
		b.AuctionID, b.BidderMemberID, b.BidPrice, b.Status, b.ReasonCode, b.EventID, b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case "23503": // foreign_key_violation
				return domain.ErrAuctionNotFound
			case "23505": // unique_violation on event_id
				return domain.ErrDuplicateEvent
			}
		}
		return fmt.Errorf("bid_repo.Create: %w", err)
	}
	return nil
}

// ExistsByEventID reports whether a bid row for this event has already been
// written. The apply step's idempotency check.
func (r *BidRepository) ExistsByEventID(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM auction_bids WHERE event_id = $1)`, eventID)
	if err != nil {
		return false, fmt.Errorf("bid_repo.ExistsByEventID: %w", err)
	}
	return exists, nil
}

// TopValidBid returns the winning candidate for an auction: the valid bid with
// the highest price, earliest (lowest id) winning ties. Returns nil, nil when
// the auction received no valid bids.
func (r *BidRepository) TopValidBid(ctx context.Context, tx *sqlx.Tx, auctionID int64) (*domain.AuctionBid, error) {
	var b domain.AuctionBid
	err := tx.GetContext(ctx, &b, `
		SELECT * FROM auction_bids
		WHERE auction_id = $1 AND status = 'VALID'
		ORDER BY bid_price DESC, id ASC
		LIMIT 1`,
		auctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("bid_repo.TopValidBid: %w", err)
	}
	return &b, nil
}

// CountValidByAuction returns the number of valid bids an auction holds.
// The seller-cancel path uses this to refuse cancellation once bidding started.
func (r *BidRepository) CountValidByAuction(ctx context.Context, auctionID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM auction_bids WHERE auction_id = $1 AND status = 'VALID'`,
		auctionID)
	if err != nil {
		return 0, fmt.Errorf("bid_repo.CountValidByAuction: %w", err)
	}
	return n, nil
}

// ListByAuction returns an auction's bid history, newest first, paginated.
// Returns (bids, totalCount, error).
func (r *BidRepository) ListByAuction(ctx context.Context, auctionID int64, limit, offset int) ([]*domain.AuctionBid, int, error) {
	var bids []*domain.AuctionBid
	var total int

	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM auction_bids WHERE auction_id = $1`, auctionID); err != nil {
		return nil, 0, fmt.Errorf("bid_repo.ListByAuction count: %w", err)
	}
	if err := r.db.SelectContext(ctx, &bids, `
		SELECT * FROM auction_bids
		WHERE auction_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		auctionID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("bid_repo.ListByAuction select: %w", err)
	}
	return bids, total, nil
}

// ListByMember returns a bidder's history across auctions, newest first.
func (r *BidRepository) ListByMember(ctx context.Context, memberID int64, limit, offset int) ([]*domain.AuctionBid, error) {
	var bids []*domain.AuctionBid
	err := r.db.SelectContext(ctx, &bids, `
		SELECT * FROM auction_bids
		WHERE bidder_member_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		memberID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("bid_repo.ListByMember: %w", err)
	}
	return bids, nil
}

// MemberExists reports whether the bidder exists. Used before writing FAILED
// audit rows so a missing parent never aborts failure recording.
func (r *BidRepository) MemberExists(ctx context.Context, memberID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM members WHERE id = $1)`, memberID)
	if err != nil {
		return false, fmt.Errorf("bid_repo.MemberExists: %w", err)
	}
	return exists, nil
}

// AuctionExists reports whether the auction row exists, without loading it.
func (r *BidRepository) AuctionExists(ctx context.Context, auctionID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)`, auctionID)
	if err != nil {
		return false, fmt.Errorf("bid_repo.AuctionExists: %w", err)
	}
	return exists, nil
}
