package domain

import (
	"errors"
	"testing"
	"time"
)

func TestWinnerLess(t *testing.T) {
	higher := &AuctionBid{ID: 5, BidPrice: dec("200")}
	lower := &AuctionBid{ID: 1, BidPrice: dec("150")}
	tieEarly := &AuctionBid{ID: 2, BidPrice: dec("200")}

	if !WinnerLess(higher, lower) {
		t.Error("higher price must win")
	}
	if WinnerLess(lower, higher) {
		t.Error("lower price must lose")
	}
	// Equal price: earlier row (lower id) wins.
	if !WinnerLess(tieEarly, higher) {
		t.Error("on a price tie the earlier bid must win")
	}
}

func TestSortForWinner(t *testing.T) {
	bids := []*AuctionBid{
		{ID: 1, BidPrice: dec("150")},
		{ID: 4, BidPrice: dec("200")},
		{ID: 2, BidPrice: dec("200")},
		{ID: 3, BidPrice: dec("175")},
	}
	SortForWinner(bids)

	wantOrder := []int64{2, 4, 3, 1}
	for i, want := range wantOrder {
		if bids[i].ID != want {
			t.Fatalf("position %d: got id %d, want %d", i, bids[i].ID, want)
		}
	}
}

func TestBidEventRoundTrip(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ev := NewBidEvent(IntendedAccept, "", 42, 7, dec("123.4500"), "evt-abc", now)

	payload, err := ev.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := ParseBidEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.AuctionID != 42 || got.MemberID != 7 || got.EventID != "evt-abc" {
		t.Errorf("fields lost: %+v", got)
	}
	if got.Ts != now.Unix() {
		t.Errorf("ts = %d, want %d", got.Ts, now.Unix())
	}
	// Amount keeps its submitted scale through the wire.
	if got.Amount != "123.45" && got.Amount != "123.4500" {
		t.Errorf("amount = %q", got.Amount)
	}
	amt, err := got.AmountDecimal()
	if err != nil {
		t.Fatalf("amount decimal: %v", err)
	}
	if !amt.Equal(dec("123.45")) {
		t.Errorf("amount = %s, want 123.45", amt)
	}
}

func TestParseBidEventRejectsGarbage(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", "{nope"},
		{"empty object", "{}"},
		{"missing event id", `{"event":"BID","auctionId":1,"memberId":2,"amount":"10"}`},
		{"missing amount", `{"event":"BID","auctionId":1,"memberId":2,"eventId":"e1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseBidEvent(tc.payload); !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("got %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestParseBidEventDefaultsIntended(t *testing.T) {
	ev, err := ParseBidEvent(`{"event":"BID","auctionId":1,"memberId":2,"amount":"10","eventId":"e1"}`)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Intended != IntendedAccept {
		t.Errorf("intended = %q, want ACCEPT", ev.Intended)
	}
}

func TestBidEventIsBuyNow(t *testing.T) {
	buyNow := BidEvent{Intended: IntendedAccept, Reason: ReasonBuyNow}
	if !buyNow.IsBuyNow() {
		t.Error("tagged accept must read as buy-now")
	}
	reject := BidEvent{Intended: IntendedReject, Reason: ReasonBuyNow}
	if reject.IsBuyNow() {
		t.Error("reject must never read as buy-now")
	}
	plain := BidEvent{Intended: IntendedAccept}
	if plain.IsBuyNow() {
		t.Error("untagged accept must not read as buy-now")
	}
}

func TestClassifyApply(t *testing.T) {
	if got := ClassifyApply(nil); got != FailureNone {
		t.Errorf("nil: got %v", got)
	}
	if got := ClassifyApply(Retryable("LOCK_CONTENTION", ErrLockTimeout)); got != FailureRetryable {
		t.Errorf("retryable: got %v", got)
	}
	if got := ClassifyApply(Permanent("AUCTION_NOT_FOUND", ErrAuctionNotFound)); got != FailurePermanent {
		t.Errorf("permanent: got %v", got)
	}
	if got := ClassifyApply(ErrMalformedEvent); got != FailurePermanent {
		t.Errorf("malformed: got %v", got)
	}
	// Unclassified faults are assumed transient.
	if got := ClassifyApply(errors.New("connection reset")); got != FailureRetryable {
		t.Errorf("unknown: got %v", got)
	}
}

func TestApplyErrorUnwrap(t *testing.T) {
	ae := Permanent("AUCTION_NOT_FOUND", ErrAuctionNotFound)
	if !errors.Is(ae, ErrAuctionNotFound) {
		t.Error("Unwrap must expose the cause")
	}
}
