package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Bid status & reason codes
// ──────────────────────────────────────────────────────────────────────────────

// BidStatus is the terminal state of a recorded bid row. Rows are never
// updated after insert.
type BidStatus string

const (
	BidStatusValid    BidStatus = "VALID"    // accepted; counted for winner selection
	BidStatusRejected BidStatus = "REJECTED" // validation rejection, kept for audit
	BidStatusFailed   BidStatus = "FAILED"   // apply step gave up; kept for inspection
)

// Reason codes carried on REJECTED/FAILED rows and on queue events.
const (
	ReasonLowPrice     = "LOW_PRICE"
	ReasonNotRunning   = "NOT_RUNNING"
	ReasonMissing      = "MISSING"
	ReasonSelfBid      = "SELF_BID"
	ReasonPrecheck     = "PRECHECK"
	ReasonBuyNow       = "BUY_NOW"
	ReasonDBConstraint = "DB_CONSTRAINT"
)

// ──────────────────────────────────────────────────────────────────────────────
// AuctionBid
// ──────────────────────────────────────────────────────────────────────────────

// AuctionBid is one immutable row of bid history. EventID is the idempotency
// key for queue-ingested bids; direct-path bids carry none. At most one row
// exists per event id.
type AuctionBid struct {
	ID             int64           `json:"id"               db:"id"`
	AuctionID      int64           `json:"auction_id"       db:"auction_id"`
	BidderMemberID int64           `json:"bidder_member_id" db:"bidder_member_id"`
	BidPrice       decimal.Decimal `json:"bid_price"        db:"bid_price"`
	Status         BidStatus       `json:"status"           db:"status"`
	ReasonCode     *string         `json:"reason_code,omitempty" db:"reason_code"`
	EventID        *string         `json:"event_id,omitempty"    db:"event_id"`
	TxHash         *string         `json:"tx_hash,omitempty"     db:"tx_hash"`
	CreatedAt      time.Time       `json:"created_at"       db:"created_at"`
}

// WinnerLess orders valid bids for winner selection: highest price first,
// then lowest id (earliest submission) on a tie. Mirrors the SQL
// `ORDER BY bid_price DESC, id ASC` used by the winner query.
func WinnerLess(a, b *AuctionBid) bool {
	if !a.BidPrice.Equal(b.BidPrice) {
		return a.BidPrice.GreaterThan(b.BidPrice)
	}
	return a.ID < b.ID
}

// SortForWinner sorts bids in winner-selection order, in place.
func SortForWinner(bids []*AuctionBid) {
	sort.SliceStable(bids, func(i, j int) bool { return WinnerLess(bids[i], bids[j]) })
}

// ──────────────────────────────────────────────────────────────────────────────
// Pending bid event — queue message between Admission Gate and Apply step
// ──────────────────────────────────────────────────────────────────────────────

// Intended outcome of a queued event, decided by the Admission Gate.
const (
	IntendedAccept = "ACCEPT"
	IntendedReject = "REJECT"
)

// BidEvent is the message appended to a per-auction queue by the Admission
// Gate and consumed exactly-effectively-once by the Event Consumer
// (deduplicated at apply time via EventID).
type BidEvent struct {
	Event     string `json:"event"` // always "BID"
	Intended  string `json:"intended"`
	Reason    string `json:"reason,omitempty"`
	AuctionID int64  `json:"auctionId"`
	MemberID  int64  `json:"memberId"`
	Amount    string `json:"amount"` // decimal string, preserves scale
	EventID   string `json:"eventId"`
	Ts        int64  `json:"ts"` // epoch seconds at admission
}

// NewBidEvent builds an ACCEPT or REJECT event for the given submission.
func NewBidEvent(intended, reason string, auctionID, memberID int64, amount decimal.Decimal, eventID string, now time.Time) BidEvent {
	return BidEvent{
		Event:     "BID",
		Intended:  intended,
		Reason:    reason,
		AuctionID: auctionID,
		MemberID:  memberID,
		Amount:    amount.String(),
		EventID:   eventID,
		Ts:        now.UTC().Unix(),
	}
}

// Marshal renders the event as the queue wire form.
func (e BidEvent) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("domain.BidEvent.Marshal: %w", err)
	}
	return string(b), nil
}

// ParseBidEvent decodes and validates a queue payload. Missing mandatory
// fields are a permanent (non-retryable) defect in the message, reported as
// ErrMalformedEvent.
func ParseBidEvent(payload string) (BidEvent, error) {
	var e BidEvent
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return BidEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.AuctionID == 0 || e.MemberID == 0 || e.Amount == "" || e.EventID == "" {
		return BidEvent{}, fmt.Errorf("%w: missing required fields", ErrMalformedEvent)
	}
	if e.Intended == "" {
		e.Intended = IntendedAccept
	}
	return e, nil
}

// AmountDecimal parses the carried amount. Fails with ErrMalformedEvent on
// a non-decimal payload.
func (e BidEvent) AmountDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(e.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad amount %q", ErrMalformedEvent, e.Amount)
	}
	return d, nil
}

// IsBuyNow reports whether the admission tagged this accept as a buy-now.
func (e BidEvent) IsBuyNow() bool {
	return e.Intended == IntendedAccept && e.Reason == ReasonBuyNow
}

// ──────────────────────────────────────────────────────────────────────────────
// Admission result — returned by the queued submission path
// ──────────────────────────────────────────────────────────────────────────────

// AdmissionCode is the typed outcome of the atomic Admission Gate.
type AdmissionCode string

const (
	AdmissionOK         AdmissionCode = "OK"
	AdmissionDuplicate  AdmissionCode = "DUPLICATE"
	AdmissionMissing    AdmissionCode = "MISSING"
	AdmissionNotRunning AdmissionCode = "NOT_RUNNING"
	AdmissionLowPrice   AdmissionCode = "LOW_PRICE"
	AdmissionSelfBid    AdmissionCode = "SELF_BID"
)

// Accepted reports whether the gate admitted the bid.
func (c AdmissionCode) Accepted() bool { return c == AdmissionOK }

// AdmissionResult is what the queued submission path returns immediately:
// the gate's decision and the cache-visible price after it.
type AdmissionResult struct {
	Code       AdmissionCode   `json:"code"`
	PriceAfter decimal.Decimal `json:"price_after"`
	EventID    string          `json:"event_id"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Direct-path request/response
// ──────────────────────────────────────────────────────────────────────────────

// PlaceBidRequest is the input to the direct (lock-serialized) bid path.
type PlaceBidRequest struct {
	AuctionID int64
	MemberID  int64
	BidPrice  decimal.Decimal
}

// BidResult is the direct path's response after commit.
type BidResult struct {
	BidID        int64           `json:"bid_id"`
	AuctionID    int64           `json:"auction_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PlacedAt     time.Time       `json:"placed_at"`
	Outcome      string          `json:"outcome"` // "ACCEPTED"
}
