package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/shopspring/decimal"
)

// finalizeFixture wires a FinalizeService against the in-memory fakes.
type finalizeFixture struct {
	auctions  *fakeAuctionStore
	bids      *fakeBidStore
	cache     *fakeSnapshotCache
	deadlines *fakeDeadlines
	publisher *fakePublisher
	svc       *FinalizeService
}

func newFinalizeFixture(t *testing.T) *finalizeFixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Deadline.BatchLimit = 100
	cfg.Deadline.BootstrapHorizon = 24 * time.Hour
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &finalizeFixture{
		auctions:  &fakeAuctionStore{closeOK: true},
		bids:      &fakeBidStore{},
		cache:     &fakeSnapshotCache{},
		deadlines: &fakeDeadlines{},
		publisher: &fakePublisher{},
	}
	f.svc = &FinalizeService{
		tx:          &passTxRunner{},
		auctionRepo: f.auctions,
		bidRepo:     f.bids,
		deadlines:   f.deadlines,
		cfg:         cfg,
		logger:      logger,
		effects:     newEffectRunner(f.cache, f.deadlines, f.publisher, logger),
	}
	return f
}

func dueAuctionRow() *domain.Auction {
	a := openAuctionRow()
	a.EndDatetime = time.Now().UTC().Add(-time.Minute)
	return a
}

func TestFinalizeDueAuctionWithWinner(t *testing.T) {
	f := newFinalizeFixture(t)
	f.auctions.auction = dueAuctionRow()
	f.bids.top = &domain.AuctionBid{
		ID:             9,
		AuctionID:      1,
		BidderMemberID: 7,
		BidPrice:       decimal.NewFromInt(120),
		Status:         domain.BidStatusValid,
	}

	ok, err := f.svc.FinalizeIfDue(context.Background(), 1, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("FinalizeIfDue() = (%v, %v), want (true, nil)", ok, err)
	}
	if len(f.auctions.closes) != 1 || f.auctions.closes[0] != domain.CloseReasonSold {
		t.Errorf("closes = %v, want [SOLD]", f.auctions.closes)
	}
	if len(f.auctions.winnerIDs) != 1 || f.auctions.winnerIDs[0] != 9 {
		t.Errorf("winner bid ids = %v, want [9]", f.auctions.winnerIDs)
	}
	if len(f.publisher.sold) != 1 {
		t.Fatalf("sold events = %d, want 1", len(f.publisher.sold))
	}
	ev := f.publisher.sold[0]
	if ev.WinnerMemberID != 7 || ev.WinnerBidID != 9 || !ev.Amount.Equal(decimal.NewFromInt(120)) {
		t.Errorf("sold event = %+v, want winner 7 bid 9 amount 120", ev)
	}
	if len(f.cache.ended) != 1 {
		t.Error("the cached snapshot must be marked ended")
	}
	if len(f.deadlines.removes) != 1 || f.deadlines.removes[0] != 1 {
		t.Errorf("deadline removes = %v, want [1]", f.deadlines.removes)
	}
}

func TestFinalizeDueAuctionWithoutBids(t *testing.T) {
	f := newFinalizeFixture(t)
	f.auctions.auction = dueAuctionRow()

	ok, err := f.svc.FinalizeIfDue(context.Background(), 1, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("FinalizeIfDue() = (%v, %v), want (true, nil)", ok, err)
	}
	if len(f.auctions.closes) != 1 || f.auctions.closes[0] != domain.CloseReasonNoBids {
		t.Errorf("closes = %v, want [NO_BIDS]", f.auctions.closes)
	}
	if len(f.auctions.winnerIDs) != 0 {
		t.Error("no winner without valid bids")
	}
	if len(f.publisher.unsold) != 1 || len(f.publisher.sold) != 0 {
		t.Errorf("events = %d sold / %d unsold, want 0 / 1",
			len(f.publisher.sold), len(f.publisher.unsold))
	}
}

func TestFinalizeNotDueLeavesAuctionOpen(t *testing.T) {
	f := newFinalizeFixture(t)
	f.auctions.auction = openAuctionRow() // ends an hour from now

	ok, err := f.svc.FinalizeIfDue(context.Background(), 1, time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("FinalizeIfDue() = (%v, %v), want (false, nil)", ok, err)
	}
	if len(f.auctions.closes) != 0 {
		t.Error("an auction before its end time must stay open")
	}
	if len(f.deadlines.removes) != 0 {
		t.Error("a live deadline entry must stay indexed")
	}
}

func TestFinalizeAlreadyEndedDropsStaleDeadline(t *testing.T) {
	f := newFinalizeFixture(t)
	a := dueAuctionRow()
	a.IsEnd = true
	f.auctions.auction = a

	ok, err := f.svc.FinalizeIfDue(context.Background(), 1, time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("FinalizeIfDue() = (%v, %v), want (false, nil)", ok, err)
	}
	if len(f.auctions.closes) != 0 {
		t.Error("an ended auction must not close twice")
	}
	if len(f.deadlines.removes) != 1 || f.deadlines.removes[0] != 1 {
		t.Errorf("deadline removes = %v, want [1] (stale entry dropped)", f.deadlines.removes)
	}
}

func TestFinalizeMissingAuctionDropsDeadline(t *testing.T) {
	f := newFinalizeFixture(t)
	f.auctions.getErr = domain.ErrAuctionNotFound

	ok, err := f.svc.FinalizeIfDue(context.Background(), 99, time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("FinalizeIfDue() = (%v, %v), want (false, nil)", ok, err)
	}
	if len(f.deadlines.removes) != 1 || f.deadlines.removes[0] != 99 {
		t.Errorf("deadline removes = %v, want [99]", f.deadlines.removes)
	}
}

func TestFinalizeLostCloseRaceEmitsNothing(t *testing.T) {
	f := newFinalizeFixture(t)
	f.auctions.auction = dueAuctionRow()
	f.auctions.closeOK = false

	ok, err := f.svc.FinalizeIfDue(context.Background(), 1, time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("FinalizeIfDue() = (%v, %v), want (false, nil)", ok, err)
	}
	if len(f.auctions.winnerIDs) != 0 {
		t.Error("a lost close race must not assign a winner")
	}
	if len(f.publisher.sold) != 0 || len(f.publisher.unsold) != 0 {
		t.Error("a lost close race must not publish settlement events")
	}
	if len(f.cache.ended) != 0 {
		t.Error("a lost close race must not touch the cache")
	}
}

func TestFinalizeDueSweepsIndex(t *testing.T) {
	f := newFinalizeFixture(t)
	f.auctions.auction = dueAuctionRow()
	f.deadlines.due = []int64{1}

	if got := f.svc.FinalizeDue(context.Background(), time.Now().UTC()); got != 1 {
		t.Errorf("FinalizeDue() = %d, want 1", got)
	}
	if len(f.auctions.closes) != 1 {
		t.Errorf("closes = %d, want 1", len(f.auctions.closes))
	}
}

func TestReconcileDeadlinesIndexesOpenAuctions(t *testing.T) {
	f := newFinalizeFixture(t)
	a1 := openAuctionRow()
	a2 := openAuctionRow()
	a2.ID = 2
	f.auctions.open = []*domain.Auction{a1, a2}

	if err := f.svc.ReconcileDeadlines(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ReconcileDeadlines() = %v, want nil", err)
	}
	if len(f.deadlines.upserts) != 2 || f.deadlines.upserts[0] != 1 || f.deadlines.upserts[1] != 2 {
		t.Errorf("deadline upserts = %v, want [1 2]", f.deadlines.upserts)
	}
}
