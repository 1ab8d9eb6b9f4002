package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cardhaus/auction/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// AuctionRepository handles all database operations for Auctions.
type AuctionRepository struct {
	db *sqlx.DB
}

// NewAuctionRepository creates a new AuctionRepository.
func NewAuctionRepository(db *sqlx.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

// Create inserts a new auction row and populates its generated ID.
func (r *AuctionRepository) Create(ctx context.Context, a *domain.Auction) error {
	query := `
		INSERT INTO auctions
			(code, title, owner_member_id, start_price, current_price, bid_unit,
			 start_datetime, end_datetime, is_end, extension_flag, buy_now_flag,
			 buy_now_price, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`
	err := r.db.QueryRowxContext(ctx, query,
		a.Code, a.Title, a.OwnerMemberID, a.StartPrice, a.CurrentPrice, a.BidUnit,
		a.StartDatetime, a.EndDatetime, a.IsEnd, a.ExtensionFlag, a.BuyNowFlag,
		a.BuyNowPrice, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("auction_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches an auction by its primary key.
func (r *AuctionRepository) GetByID(ctx context.Context, id int64) (*domain.Auction, error) {
	var a domain.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("auction_repo.GetByID: %w", err)
	}
	return &a, nil
}

// GetByIDForUpdate fetches an auction inside tx with a FOR UPDATE row lock.
// Every write to the auction's price or end time must go through this lock.
func (r *AuctionRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*domain.Auction, error) {
	var a domain.Auction
	err := tx.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("auction_repo.GetByIDForUpdate: %w", err)
	}
	return &a, nil
}

// UpdateCurrentPrice persists a new current price within tx.
func (r *AuctionRepository) UpdateCurrentPrice(ctx context.Context, tx *sqlx.Tx, id int64, price decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE auctions SET current_price = $1, updated_at = now() WHERE id = $2`,
		price, id)
	if err != nil {
		return fmt.Errorf("auction_repo.UpdateCurrentPrice: %w", err)
	}
	return nil
}

// ExtendEnd pushes the end time out within tx. Used by the anti-sniping rule.
func (r *AuctionRepository) ExtendEnd(ctx context.Context, tx *sqlx.Tx, id int64, newEnd time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE auctions SET end_datetime = $1, updated_at = now() WHERE id = $2`,
		newEnd, id)
	if err != nil {
		return fmt.Errorf("auction_repo.ExtendEnd: %w", err)
	}
	return nil
}

// CloseIfDue atomically marks the auction ended with the given reason, but only
// if it is still open and its end time has passed. Returns false when the guard
// did not match (already closed, or not yet due), which makes concurrent
// finalize attempts safe: exactly one caller observes true.
func (r *AuctionRepository) CloseIfDue(ctx context.Context, tx *sqlx.Tx, id int64, reason domain.CloseReason, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE auctions
		SET is_end = true, close_reason = $1, closed_at = $2, updated_at = now()
		WHERE id = $3 AND is_end = false AND end_datetime <= $2`,
		reason, now, id)
	if err != nil {
		return false, fmt.Errorf("auction_repo.CloseIfDue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("auction_repo.CloseIfDue rows: %w", err)
	}
	return n == 1, nil
}

// CloseNow marks an open auction ended with the given reason regardless of its
// end time. Used by buy-now and by seller/admin cancellation. Returns false
// when the auction was already closed.
func (r *AuctionRepository) CloseNow(ctx context.Context, tx *sqlx.Tx, id int64, reason domain.CloseReason, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE auctions
		SET is_end = true, close_reason = $1, closed_at = $2, updated_at = now()
		WHERE id = $3 AND is_end = false`,
		reason, now, id)
	if err != nil {
		return false, fmt.Errorf("auction_repo.CloseNow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("auction_repo.CloseNow rows: %w", err)
	}
	return n == 1, nil
}

// SetWinner records winner identity and winning amount within tx.
func (r *AuctionRepository) SetWinner(ctx context.Context, tx *sqlx.Tx, id int64, memberID, bidID int64, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE auctions
		SET winner_member_id = $1, winner_bid_id = $2, winning_amount = $3, updated_at = now()
		WHERE id = $4`,
		memberID, bidID, amount, id)
	if err != nil {
		return fmt.Errorf("auction_repo.SetWinner: %w", err)
	}
	return nil
}

// Reopen clears the ended state and close bookkeeping, restoring the auction to
// open with the supplied new end time. Admin-only recovery operation.
func (r *AuctionRepository) Reopen(ctx context.Context, tx *sqlx.Tx, id int64, newEnd time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE auctions
		SET is_end = false, close_reason = NULL, closed_at = NULL,
		    winner_member_id = NULL, winner_bid_id = NULL, winning_amount = NULL,
		    end_datetime = $1, updated_at = now()
		WHERE id = $2 AND is_end = true`,
		newEnd, id)
	if err != nil {
		return false, fmt.Errorf("auction_repo.Reopen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("auction_repo.Reopen rows: %w", err)
	}
	return n == 1, nil
}

// FindOpenEndingBefore returns open auctions whose end time falls before the
// horizon, ordered soonest first. Feeds the deadline index reconciler.
func (r *AuctionRepository) FindOpenEndingBefore(ctx context.Context, horizon time.Time) ([]*domain.Auction, error) {
	var auctions []*domain.Auction
	err := r.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions
		WHERE is_end = false AND end_datetime < $1
		ORDER BY end_datetime ASC`,
		horizon)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.FindOpenEndingBefore: %w", err)
	}
	return auctions, nil
}

// FindAllOpen returns every open auction. Used by the cache warmer at startup.
func (r *AuctionRepository) FindAllOpen(ctx context.Context) ([]*domain.Auction, error) {
	var auctions []*domain.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT * FROM auctions WHERE is_end = false ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.FindAllOpen: %w", err)
	}
	return auctions, nil
}

// List returns a paginated slice of auctions filtered by optional open/closed
// state. state="" returns everything, "open" and "closed" filter on is_end.
// Returns (auctions, totalCount, error).
func (r *AuctionRepository) List(ctx context.Context, limit, offset int, state string) ([]*domain.Auction, int, error) {
	var auctions []*domain.Auction
	var total int

	where := ""
	switch state {
	case "open":
		where = "WHERE is_end = false"
	case "closed":
		where = "WHERE is_end = true"
	}

	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM auctions `+where); err != nil {
		return nil, 0, fmt.Errorf("auction_repo.List count: %w", err)
	}
	if err := r.db.SelectContext(ctx, &auctions,
		`SELECT * FROM auctions `+where+` ORDER BY end_datetime ASC LIMIT $1 OFFSET $2`,
		limit, offset); err != nil {
		return nil, 0, fmt.Errorf("auction_repo.List select: %w", err)
	}
	return auctions, total, nil
}

// GetByCode fetches an auction by its unique external code.
func (r *AuctionRepository) GetByCode(ctx context.Context, code string) (*domain.Auction, error) {
	var a domain.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("auction_repo.GetByCode: %w", err)
	}
	return &a, nil
}
