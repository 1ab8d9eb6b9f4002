package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb), mr
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func openSnap(auctionID int64, now time.Time) domain.Snapshot {
	return domain.Snapshot{
		AuctionID:    auctionID,
		IsEnd:        false,
		StartTs:      now.Add(-time.Hour).Unix(),
		EndTs:        now.Add(time.Hour).Unix(),
		CurrentPrice: decimal.NewFromInt(100),
		BidUnit:      domain.Unit1,
		OwnerID:      5,
	}
}

func admit(t *testing.T, s *Store, auctionID, memberID int64, amount string, eventID string) domain.AdmissionResult {
	t.Helper()
	res, err := s.Admit(context.Background(), auctionID, memberID, dec(t, amount), eventID, time.Now().UTC(), time.Hour)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return res
}

func TestLoadedRequiresEveryField(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := s.Loaded(ctx, 1)
	if err != nil || ok {
		t.Fatalf("absent hash: Loaded = %v, %v; want false, nil", ok, err)
	}

	// a price-only hash, as a forced resync against an evicted key leaves
	if err := s.ForceResyncPrice(ctx, 1, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("ForceResyncPrice: %v", err)
	}
	ok, err = s.Loaded(ctx, 1)
	if err != nil || ok {
		t.Fatalf("partial hash: Loaded = %v, %v; want false, nil", ok, err)
	}

	if err := s.LoadSnapshot(ctx, openSnap(1, now)); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	ok, err = s.Loaded(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("full hash: Loaded = %v, %v; want true, nil", ok, err)
	}
}

func TestEnsureLoadedRepairsPartialHash(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// a reopen that lands after the hash was evicted creates a two-field hash
	if err := s.ReopenUntil(ctx, 1, now.Add(time.Hour).Unix()); err != nil {
		t.Fatalf("ReopenUntil: %v", err)
	}
	if err := s.EnsureLoaded(ctx, openSnap(1, now)); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}

	res := admit(t, s, 1, 7, "101", "ev-1")
	if res.Code != domain.AdmissionOK {
		t.Fatalf("admission after repair = %s, want OK", res.Code)
	}
}

func TestEnsureLoadedKeepsAdvancedPrice(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.LoadSnapshot(ctx, openSnap(1, now)); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if _, err := s.ApplyPrice(ctx, 1, decimal.NewFromInt(120)); err != nil {
		t.Fatalf("ApplyPrice: %v", err)
	}

	// a lazy load carrying the stale DB price must leave the hash alone
	if err := s.EnsureLoaded(ctx, openSnap(1, now)); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	snap, err := s.Snapshot(ctx, 1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.CurrentPrice.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("current price = %s, want 120", snap.CurrentPrice)
	}
}

func TestAdmitAcceptEnqueuesAndRaisesPrice(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.LoadSnapshot(ctx, openSnap(1, now)); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	res := admit(t, s, 1, 7, "101", "ev-1")
	if res.Code != domain.AdmissionOK {
		t.Fatalf("code = %s, want OK", res.Code)
	}
	if !res.PriceAfter.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("price after = %s, want 101", res.PriceAfter)
	}

	items, err := mr.List(QueueKey(1))
	if err != nil || len(items) != 1 {
		t.Fatalf("queue = %v, %v; want one event", items, err)
	}
	ev, err := domain.ParseBidEvent(items[0])
	if err != nil {
		t.Fatalf("ParseBidEvent: %v", err)
	}
	if ev.Intended != domain.IntendedAccept || ev.EventID != "ev-1" {
		t.Fatalf("queued event = %+v, want ACCEPT ev-1", ev)
	}
}

func TestAdmitRejectionLandsOnQueueAtomically(t *testing.T) {
	tests := []struct {
		name     string
		memberID int64
		amount   string
		want     domain.AdmissionCode
	}{
		{"below minimum increment", 7, "100.5", domain.AdmissionLowPrice},
		{"owner bidding", 5, "101", domain.AdmissionSelfBid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mr := newTestStore(t)
			ctx := context.Background()
			now := time.Now().UTC()
			if err := s.LoadSnapshot(ctx, openSnap(1, now)); err != nil {
				t.Fatalf("LoadSnapshot: %v", err)
			}

			res := admit(t, s, 1, tt.memberID, tt.amount, "ev-1")
			if res.Code != tt.want {
				t.Fatalf("code = %s, want %s", res.Code, tt.want)
			}

			items, err := mr.List(QueueKey(1))
			if err != nil || len(items) != 1 {
				t.Fatalf("queue = %v, %v; want the reject event", items, err)
			}
			ev, perr := domain.ParseBidEvent(items[0])
			if perr != nil {
				t.Fatalf("ParseBidEvent: %v", perr)
			}
			if ev.Intended != domain.IntendedReject || ev.Reason != string(tt.want) {
				t.Fatalf("queued event = %+v, want REJECT/%s", ev, tt.want)
			}
		})
	}
}

func TestAdmitEndedAuctionRejectsNotRunning(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	snap := openSnap(1, now)
	snap.EndTs = now.Add(-time.Minute).Unix()
	if err := s.LoadSnapshot(ctx, snap); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	res := admit(t, s, 1, 7, "101", "ev-1")
	if res.Code != domain.AdmissionNotRunning {
		t.Fatalf("code = %s, want NOT_RUNNING", res.Code)
	}
	items, _ := mr.List(QueueKey(1))
	if len(items) != 1 {
		t.Fatalf("queue length = %d, want the reject event", len(items))
	}
}

func TestAdmitDuplicateReturnsCurrentPrice(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.LoadSnapshot(ctx, openSnap(1, now)); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	first := admit(t, s, 1, 7, "101", "ev-1")
	if first.Code != domain.AdmissionOK {
		t.Fatalf("first code = %s, want OK", first.Code)
	}

	second := admit(t, s, 1, 7, "102", "ev-1")
	if second.Code != domain.AdmissionDuplicate {
		t.Fatalf("second code = %s, want DUPLICATE", second.Code)
	}
	if !second.PriceAfter.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("duplicate price = %s, want 101", second.PriceAfter)
	}
}

func TestAdmitBuyNowClosesSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	snap := openSnap(1, now)
	snap.BuyNowFlag = true
	snap.BuyNowPrice = decimal.NewFromInt(500)
	if err := s.LoadSnapshot(ctx, snap); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	res := admit(t, s, 1, 7, "600", "ev-1")
	if res.Code != domain.AdmissionOK {
		t.Fatalf("code = %s, want OK", res.Code)
	}
	if !res.PriceAfter.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("settle price = %s, want buy-now 500", res.PriceAfter)
	}

	after, err := s.Snapshot(ctx, 1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !after.IsEnd {
		t.Fatal("snapshot still open after buy-now")
	}
	next := admit(t, s, 1, 8, "700", "ev-2")
	if next.Code != domain.AdmissionNotRunning {
		t.Fatalf("post-buy-now code = %s, want NOT_RUNNING", next.Code)
	}
}
