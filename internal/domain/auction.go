// Package domain defines the core business entities and types for the
// cardhaus auction marketplace.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// CloseReason records why an auction left the running state. Set exactly once.
type CloseReason string

const (
	CloseReasonSold         CloseReason = "SOLD"          // due time passed with at least one valid bid
	CloseReasonNoBids       CloseReason = "NO_BIDS"       // due time passed with zero valid bids
	CloseReasonSellerCancel CloseReason = "SELLER_CANCEL" // owner cancelled before any bid
	CloseReasonAdminCancel  CloseReason = "ADMIN_CANCEL"  // forced close by an operator
	CloseReasonBuyNow       CloseReason = "BUY_NOW"       // buy-now price met, closed mid-flight
	CloseReasonDueTime      CloseReason = "DUE_TIME"      // compensation tooling only
	CloseReasonSystemError  CloseReason = "SYSTEM_ERROR"  // closed defensively after an unrecoverable fault
)

// ──────────────────────────────────────────────────────────────────────────────
// BidUnit
// ──────────────────────────────────────────────────────────────────────────────

// BidUnit is the minimum increment an accepted bid must add on top of the
// current price. Values are drawn from a fixed enumerated set and stored as
// their decimal string form.
type BidUnit string

// The allowed increments, smallest to largest.
const (
	Unit00001 BidUnit = "0.0001"
	Unit00005 BidUnit = "0.0005"
	Unit0001  BidUnit = "0.001"
	Unit0005  BidUnit = "0.005"
	Unit001   BidUnit = "0.01"
	Unit005   BidUnit = "0.05"
	Unit01    BidUnit = "0.1"
	Unit05    BidUnit = "0.5"
	Unit1     BidUnit = "1"
	Unit5     BidUnit = "5"
	Unit10    BidUnit = "10"
	Unit50    BidUnit = "50"
	Unit100   BidUnit = "100"
	Unit500   BidUnit = "500"
	Unit1000  BidUnit = "1000"
	Unit5000  BidUnit = "5000"
)

var bidUnits = map[BidUnit]struct{}{
	Unit00001: {}, Unit00005: {}, Unit0001: {}, Unit0005: {},
	Unit001: {}, Unit005: {}, Unit01: {}, Unit05: {},
	Unit1: {}, Unit5: {}, Unit10: {}, Unit50: {},
	Unit100: {}, Unit500: {}, Unit1000: {}, Unit5000: {},
}

// ParseBidUnit maps a stored string to a BidUnit.
// Returns ErrInvalidBidUnit for anything outside the enumerated set.
func ParseBidUnit(s string) (BidUnit, error) {
	u := BidUnit(s)
	if _, ok := bidUnits[u]; !ok {
		return "", ErrInvalidBidUnit
	}
	return u, nil
}

// Decimal returns the increment as a decimal. The enumerated values always
// parse; an invalid unit yields zero.
func (u BidUnit) Decimal() decimal.Decimal {
	d, err := decimal.NewFromString(string(u))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ──────────────────────────────────────────────────────────────────────────────
// Auction
// ──────────────────────────────────────────────────────────────────────────────

// Auction is the authoritative listing record. currentPrice is monotonically
// non-decreasing; the closing fields are written exactly once.
type Auction struct {
	ID            int64               `json:"id"              db:"id"`
	Code          string              `json:"code"            db:"code"`
	Title         string              `json:"title"           db:"title"`
	OwnerMemberID int64               `json:"owner_member_id" db:"owner_member_id"`
	StartPrice    decimal.Decimal     `json:"start_price"     db:"start_price"`
	CurrentPrice  decimal.Decimal     `json:"current_price"   db:"current_price"`
	BidUnit       BidUnit             `json:"bid_unit"        db:"bid_unit"`
	StartDatetime time.Time           `json:"start_datetime"  db:"start_datetime"`
	EndDatetime   time.Time           `json:"end_datetime"    db:"end_datetime"`
	IsEnd         bool                `json:"is_end"          db:"is_end"`
	ExtensionFlag bool                `json:"extension_flag"  db:"extension_flag"`
	BuyNowFlag    bool                `json:"buy_now_flag"    db:"buy_now_flag"`
	BuyNowPrice   decimal.NullDecimal `json:"buy_now_price"   db:"buy_now_price"`

	CloseReason    *CloseReason        `json:"close_reason,omitempty"     db:"close_reason"`
	ClosedAt       *time.Time          `json:"closed_at,omitempty"        db:"closed_at"`
	WinnerMemberID *int64              `json:"winner_member_id,omitempty" db:"winner_member_id"`
	WinnerBidID    *int64              `json:"winner_bid_id,omitempty"    db:"winner_bid_id"`
	WinningAmount  decimal.NullDecimal `json:"winning_amount,omitempty"   db:"winning_amount"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsRunningAt reports whether the auction accepts bids at the given instant:
// not ended, and startDatetime <= when <= endDatetime.
func (a *Auction) IsRunningAt(when time.Time) bool {
	if a.IsEnd {
		return false
	}
	if when.Before(a.StartDatetime) {
		return false
	}
	if when.After(a.EndDatetime) {
		return false
	}
	return true
}

// IsEndedAt reports whether the auction is over at the given instant,
// either explicitly (isEnd) or because its end time has passed.
func (a *Auction) IsEndedAt(when time.Time) bool {
	if a.IsEnd {
		return true
	}
	return when.After(a.EndDatetime)
}

// IsClosableNow reports whether the Finalizer may close the auction:
// not already ended AND the end time has passed.
func (a *Auction) IsClosableNow(now time.Time) bool {
	return !a.IsEnd && !now.Before(a.EndDatetime)
}

// MinAllowedBid is the lowest price an incoming bid may carry:
// currentPrice + bidUnit.
func (a *Auction) MinAllowedBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.BidUnit.Decimal())
}

// ChangeCurrentPrice advances currentPrice to p. A value below the current
// price is rejected with ErrPriceRegression — the monotonic-price invariant
// is enforced here regardless of which ingestion path calls it.
func (a *Auction) ChangeCurrentPrice(p decimal.Decimal) error {
	if p.LessThan(a.CurrentPrice) {
		return ErrPriceRegression
	}
	a.CurrentPrice = p
	return nil
}

// MeetsBuyNow reports whether a bid of the given amount triggers the
// buy-now terms, and the price the sale then settles at.
func (a *Auction) MeetsBuyNow(amount decimal.Decimal) (decimal.Decimal, bool) {
	if !a.BuyNowFlag || !a.BuyNowPrice.Valid {
		return decimal.Zero, false
	}
	if amount.LessThan(a.BuyNowPrice.Decimal) {
		return decimal.Zero, false
	}
	return a.BuyNowPrice.Decimal, true
}

// ──────────────────────────────────────────────────────────────────────────────
// Snapshot — read model mirrored into the shared cache
// ──────────────────────────────────────────────────────────────────────────────

// Snapshot is the denormalized per-auction view held in the cache hash and
// served to live readers. It is strictly derived from the Auction row.
type Snapshot struct {
	AuctionID    int64           `json:"auction_id"`
	IsEnd        bool            `json:"is_end"`
	StartTs      int64           `json:"start_ts"` // epoch seconds, UTC
	EndTs        int64           `json:"end_ts"`   // epoch seconds, UTC
	CurrentPrice decimal.Decimal `json:"current_price"`
	BidUnit      BidUnit         `json:"bid_unit"`
	OwnerID      int64           `json:"owner_id"`
	BuyNowFlag   bool            `json:"buy_now_flag"`
	BuyNowPrice  decimal.Decimal `json:"buy_now_price"`
}

// SnapshotOf projects an Auction row into its cached form.
func SnapshotOf(a *Auction) Snapshot {
	s := Snapshot{
		AuctionID:    a.ID,
		IsEnd:        a.IsEnd,
		StartTs:      a.StartDatetime.UTC().Unix(),
		EndTs:        a.EndDatetime.UTC().Unix(),
		CurrentPrice: a.CurrentPrice,
		BidUnit:      a.BidUnit,
		OwnerID:      a.OwnerMemberID,
		BuyNowFlag:   a.BuyNowFlag,
	}
	if a.BuyNowPrice.Valid {
		s.BuyNowPrice = a.BuyNowPrice.Decimal
	}
	return s
}
