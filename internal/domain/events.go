package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Emitted domain events — consumed by external collaborators
// (settlement/escrow, notification). Published after the closing
// transaction commits; publishing failures never roll the close back.
// ──────────────────────────────────────────────────────────────────────────────

// AuctionSoldEvent is emitted once when an auction closes with a winner,
// either at due time or through buy-now.
type AuctionSoldEvent struct {
	AuctionID      int64           `json:"auction_id"`
	AuctionCode    string          `json:"auction_code"`
	SellerMemberID int64           `json:"seller_member_id"`
	WinnerMemberID int64           `json:"winner_member_id"`
	WinnerBidID    int64           `json:"winner_bid_id"`
	Amount         decimal.Decimal `json:"amount"`
	CloseReason    CloseReason     `json:"close_reason"` // SOLD or BUY_NOW
	ClosedAt       time.Time       `json:"closed_at"`
}

// AuctionUnsoldEvent is emitted once when an auction closes with zero valid
// bids.
type AuctionUnsoldEvent struct {
	AuctionID   int64     `json:"auction_id"`
	AuctionCode string    `json:"auction_code"`
	ClosedAt    time.Time `json:"closed_at"`
}
