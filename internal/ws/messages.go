// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected clients.
package ws

import (
	"time"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypePriceUpdate   MsgType = "price_update"
	MsgTypeBidAccepted   MsgType = "bid_accepted"
	MsgTypeEndTsUpdate   MsgType = "end_ts_update"
	MsgTypeAuctionClosed MsgType = "auction_closed"
	MsgTypeError         MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// PriceUpdateMessage — sent whenever an auction's price moves.
// ──────────────────────────────────────────────────────────────────────────────

// PriceUpdateMessage carries the new current price of one auction. Prices
// travel as decimal strings to preserve scale.
type PriceUpdateMessage struct {
	Type         MsgType   `json:"type"`
	AuctionID    int64     `json:"auction_id"`
	CurrentPrice string    `json:"current_price"`
	Timestamp    time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// BidAcceptedMessage — broadcast after a bid lands so live views refresh.
// ──────────────────────────────────────────────────────────────────────────────

// BidAcceptedMessage notifies clients that a bid was accepted.
type BidAcceptedMessage struct {
	Type      MsgType   `json:"type"`
	AuctionID int64     `json:"auction_id"`
	MemberID  int64     `json:"member_id"`
	BidPrice  string    `json:"bid_price"`
	Timestamp time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// EndTsUpdateMessage — broadcast when the anti-sniping rule moves a deadline.
// ──────────────────────────────────────────────────────────────────────────────

// EndTsUpdateMessage carries an auction's new end time (epoch seconds, UTC).
type EndTsUpdateMessage struct {
	Type      MsgType   `json:"type"`
	AuctionID int64     `json:"auction_id"`
	EndTs     int64     `json:"end_ts"`
	Timestamp time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// AuctionClosedMessage — broadcast when an auction leaves the running state.
// ──────────────────────────────────────────────────────────────────────────────

// AuctionClosedMessage tells clients why an auction closed.
type AuctionClosedMessage struct {
	Type      MsgType   `json:"type"`
	AuctionID int64     `json:"auction_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage — sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
