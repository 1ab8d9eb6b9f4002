package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// passTxRunner runs the transaction body directly, no database involved.
// The fakes below ignore the nil *sqlx.Tx they receive.
type passTxRunner struct {
	runs     int
	beginErr error
}

func (r *passTxRunner) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if r.beginErr != nil {
		return r.beginErr
	}
	r.runs++
	if err := fn(nil); err != nil {
		if errors.Is(err, errTxAbort) {
			return nil
		}
		return err
	}
	return nil
}

// fakeAuctionStore records the writes the apply and finalize steps issue.
// It serves both ApplyAuctionStore and FinalizeAuctionStore.
type fakeAuctionStore struct {
	auction   *domain.Auction
	getErr    error
	priceSets []decimal.Decimal
	extends   []time.Time
	closeOK   bool
	closes    []domain.CloseReason
	winnerIDs []int64
	open      []*domain.Auction
}

func (f *fakeAuctionStore) GetByID(ctx context.Context, id int64) (*domain.Auction, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.auction, nil
}

func (f *fakeAuctionStore) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*domain.Auction, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeAuctionStore) UpdateCurrentPrice(ctx context.Context, tx *sqlx.Tx, id int64, price decimal.Decimal) error {
	f.priceSets = append(f.priceSets, price)
	return nil
}

func (f *fakeAuctionStore) ExtendEnd(ctx context.Context, tx *sqlx.Tx, id int64, newEnd time.Time) error {
	f.extends = append(f.extends, newEnd)
	return nil
}

func (f *fakeAuctionStore) CloseNow(ctx context.Context, tx *sqlx.Tx, id int64, reason domain.CloseReason, now time.Time) (bool, error) {
	if !f.closeOK {
		return false, nil
	}
	f.closes = append(f.closes, reason)
	return true, nil
}

func (f *fakeAuctionStore) CloseIfDue(ctx context.Context, tx *sqlx.Tx, id int64, reason domain.CloseReason, now time.Time) (bool, error) {
	return f.CloseNow(ctx, tx, id, reason, now)
}

func (f *fakeAuctionStore) SetWinner(ctx context.Context, tx *sqlx.Tx, id int64, memberID, bidID int64, amount decimal.Decimal) error {
	f.winnerIDs = append(f.winnerIDs, bidID)
	return nil
}

func (f *fakeAuctionStore) FindOpenEndingBefore(ctx context.Context, horizon time.Time) ([]*domain.Auction, error) {
	return f.open, nil
}

// fakeBidStore serves ApplyBidStore and WinnerPicker.
type fakeBidStore struct {
	exists     bool
	existsErr  error
	createErr  error
	created    []*domain.AuctionBid
	top        *domain.AuctionBid
	auctionOK  bool
	auctionErr error
	memberOK   bool
}

func (f *fakeBidStore) ExistsByEventID(ctx context.Context, eventID string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeBidStore) Create(ctx context.Context, tx *sqlx.Tx, b *domain.AuctionBid) error {
	if f.createErr != nil {
		return f.createErr
	}
	b.ID = int64(len(f.created) + 1)
	f.created = append(f.created, b)
	return nil
}

func (f *fakeBidStore) AuctionExists(ctx context.Context, auctionID int64) (bool, error) {
	return f.auctionOK, f.auctionErr
}

func (f *fakeBidStore) MemberExists(ctx context.Context, memberID int64) (bool, error) {
	return f.memberOK, nil
}

func (f *fakeBidStore) TopValidBid(ctx context.Context, tx *sqlx.Tx, auctionID int64) (*domain.AuctionBid, error) {
	return f.top, nil
}

// fakeSnapshotCache records cache writes. Serves ApplyCache and SnapshotSyncer.
type fakeSnapshotCache struct {
	prices  []decimal.Decimal
	endTs   []int64
	ended   []int64
	resyncs []decimal.Decimal
}

func (f *fakeSnapshotCache) ApplyPrice(ctx context.Context, auctionID int64, price decimal.Decimal) (bool, error) {
	f.prices = append(f.prices, price)
	return true, nil
}

func (f *fakeSnapshotCache) ExtendEndTs(ctx context.Context, auctionID int64, endTs int64) error {
	f.endTs = append(f.endTs, endTs)
	return nil
}

func (f *fakeSnapshotCache) MarkEnded(ctx context.Context, auctionID int64) error {
	f.ended = append(f.ended, auctionID)
	return nil
}

func (f *fakeSnapshotCache) ForceResyncPrice(ctx context.Context, auctionID int64, price decimal.Decimal) error {
	f.resyncs = append(f.resyncs, price)
	return nil
}

// fakeDeadlines serves DueIndex.
type fakeDeadlines struct {
	due     []int64
	upserts []int64
	removes []int64
}

func (f *fakeDeadlines) Upsert(ctx context.Context, auctionID int64, endAt time.Time) error {
	f.upserts = append(f.upserts, auctionID)
	return nil
}

func (f *fakeDeadlines) Remove(ctx context.Context, auctionID int64) error {
	f.removes = append(f.removes, auctionID)
	return nil
}

func (f *fakeDeadlines) Due(ctx context.Context, now time.Time, limit int64) ([]int64, error) {
	return f.due, nil
}

// fakePublisher records settlement events.
type fakePublisher struct {
	sold   []domain.AuctionSoldEvent
	unsold []domain.AuctionUnsoldEvent
}

func (f *fakePublisher) PublishSold(ev domain.AuctionSoldEvent) error {
	f.sold = append(f.sold, ev)
	return nil
}

func (f *fakePublisher) PublishUnsold(ev domain.AuctionUnsoldEvent) error {
	f.unsold = append(f.unsold, ev)
	return nil
}

// applyFixture wires a BidApplyService against the in-memory fakes.
type applyFixture struct {
	auctions  *fakeAuctionStore
	bids      *fakeBidStore
	cache     *fakeSnapshotCache
	deadlines *fakeDeadlines
	publisher *fakePublisher
	tx        *passTxRunner
	svc       *BidApplyService
}

func newApplyFixture(t *testing.T) *applyFixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Bid.ExtensionEnabled = true
	cfg.Bid.ExtensionThreshold = 2 * time.Minute
	cfg.Bid.ExtensionBy = 5 * time.Minute
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &applyFixture{
		auctions:  &fakeAuctionStore{closeOK: true},
		bids:      &fakeBidStore{auctionOK: true, memberOK: true},
		cache:     &fakeSnapshotCache{},
		deadlines: &fakeDeadlines{},
		publisher: &fakePublisher{},
		tx:        &passTxRunner{},
	}
	f.svc = &BidApplyService{
		tx:          f.tx,
		auctionRepo: f.auctions,
		bidRepo:     f.bids,
		store:       f.cache,
		cfg:         cfg,
		logger:      logger,
		effects:     newEffectRunner(f.cache, f.deadlines, f.publisher, logger),
	}
	return f
}

func openAuctionRow() *domain.Auction {
	now := time.Now().UTC()
	return &domain.Auction{
		ID:            1,
		Code:          "AU20260901",
		OwnerMemberID: 5,
		StartPrice:    decimal.NewFromInt(100),
		CurrentPrice:  decimal.NewFromInt(100),
		BidUnit:       domain.Unit1,
		StartDatetime: now.Add(-time.Hour),
		EndDatetime:   now.Add(time.Hour),
	}
}

func acceptEvent(eventID string, amount int64) domain.BidEvent {
	return domain.NewBidEvent(domain.IntendedAccept, "", 1, 7,
		decimal.NewFromInt(amount), eventID, time.Now().UTC())
}

func TestApplyShortCircuitsAppliedEvent(t *testing.T) {
	f := newApplyFixture(t)
	f.bids.exists = true

	if err := f.svc.Apply(context.Background(), acceptEvent("ev-1", 110)); err != nil {
		t.Fatalf("Apply() = %v, want nil", err)
	}
	if f.tx.runs != 0 {
		t.Error("a redelivered event must not open a transaction")
	}
	if len(f.bids.created) != 0 {
		t.Error("a redelivered event must not write a second row")
	}
}

func TestApplyBadAmountIsPermanent(t *testing.T) {
	f := newApplyFixture(t)
	ev := acceptEvent("ev-1", 110)
	ev.Amount = "not-a-number"

	err := f.svc.Apply(context.Background(), ev)
	if domain.ClassifyApply(err) != domain.FailurePermanent {
		t.Fatalf("ClassifyApply(%v) = %v, want FailurePermanent", err, domain.ClassifyApply(err))
	}
	if f.tx.runs != 0 {
		t.Error("a malformed amount must fail before the transaction")
	}
}

func TestApplyAcceptRecordsRowAndRaisesPrice(t *testing.T) {
	f := newApplyFixture(t)
	f.auctions.auction = openAuctionRow()

	if err := f.svc.Apply(context.Background(), acceptEvent("ev-1", 110)); err != nil {
		t.Fatalf("Apply() = %v, want nil", err)
	}
	if len(f.bids.created) != 1 {
		t.Fatalf("created %d rows, want 1", len(f.bids.created))
	}
	row := f.bids.created[0]
	if row.Status != domain.BidStatusValid {
		t.Errorf("row status = %s, want VALID", row.Status)
	}
	if len(f.auctions.priceSets) != 1 || !f.auctions.priceSets[0].Equal(decimal.NewFromInt(110)) {
		t.Errorf("DB price writes = %v, want [110]", f.auctions.priceSets)
	}
	if len(f.cache.prices) != 1 || !f.cache.prices[0].Equal(decimal.NewFromInt(110)) {
		t.Errorf("cache price writes = %v, want [110]", f.cache.prices)
	}
	if len(f.auctions.extends) != 0 {
		t.Error("an auction far from its deadline must not be extended")
	}
}

func TestApplyLowerAmountKeepsPrice(t *testing.T) {
	f := newApplyFixture(t)
	f.auctions.auction = openAuctionRow()

	// An event carrying less than the current price still gets its history
	// row, but the price never moves down.
	if err := f.svc.Apply(context.Background(), acceptEvent("ev-1", 50)); err != nil {
		t.Fatalf("Apply() = %v, want nil", err)
	}
	if len(f.bids.created) != 1 {
		t.Fatalf("created %d rows, want 1", len(f.bids.created))
	}
	if len(f.auctions.priceSets) != 0 || len(f.cache.prices) != 0 {
		t.Error("a lower amount must not touch the price")
	}
}

func TestApplyAcceptExtendsNearDeadline(t *testing.T) {
	f := newApplyFixture(t)
	a := openAuctionRow()
	a.ExtensionFlag = true
	a.EndDatetime = time.Now().UTC().Add(time.Minute)
	f.auctions.auction = a

	if err := f.svc.Apply(context.Background(), acceptEvent("ev-1", 110)); err != nil {
		t.Fatalf("Apply() = %v, want nil", err)
	}
	if len(f.auctions.extends) != 1 {
		t.Fatalf("DB extends = %d, want 1", len(f.auctions.extends))
	}
	if !f.auctions.extends[0].After(a.EndDatetime) {
		t.Error("the new end must be after the previous end")
	}
	if len(f.cache.endTs) != 1 {
		t.Error("the cache end_ts must follow the extension")
	}
	if len(f.deadlines.upserts) != 1 || f.deadlines.upserts[0] != 1 {
		t.Errorf("deadline upserts = %v, want [1]", f.deadlines.upserts)
	}
}

func TestApplyRejectPersistsAuditRow(t *testing.T) {
	f := newApplyFixture(t)
	f.auctions.auction = openAuctionRow()
	ev := domain.NewBidEvent(domain.IntendedReject, domain.ReasonLowPrice, 1, 7,
		decimal.NewFromInt(50), "ev-1", time.Now().UTC())

	if err := f.svc.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply() = %v, want nil", err)
	}
	if len(f.bids.created) != 1 {
		t.Fatalf("created %d rows, want 1", len(f.bids.created))
	}
	row := f.bids.created[0]
	if row.Status != domain.BidStatusRejected {
		t.Errorf("row status = %s, want REJECTED", row.Status)
	}
	if row.ReasonCode == nil || *row.ReasonCode != domain.ReasonLowPrice {
		t.Errorf("row reason = %v, want LOW_PRICE", row.ReasonCode)
	}
	if len(f.auctions.priceSets) != 0 {
		t.Error("a reject must not touch the price")
	}
}

func TestApplyRejectForMissingAuctionIsDropped(t *testing.T) {
	f := newApplyFixture(t)
	f.auctions.getErr = domain.ErrAuctionNotFound
	ev := domain.NewBidEvent(domain.IntendedReject, domain.ReasonMissing, 99, 7,
		decimal.NewFromInt(50), "ev-1", time.Now().UTC())

	if err := f.svc.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply() = %v, want nil (reject against a gone auction drops)", err)
	}
	if len(f.bids.created) != 0 {
		t.Error("no row must be written for a gone auction")
	}
}

func TestApplyAcceptMissingAuctionIsPermanent(t *testing.T) {
	f := newApplyFixture(t)
	f.auctions.getErr = domain.ErrAuctionNotFound

	err := f.svc.Apply(context.Background(), acceptEvent("ev-1", 110))
	if domain.ClassifyApply(err) != domain.FailurePermanent {
		t.Fatalf("ClassifyApply(%v) = %v, want FailurePermanent", err, domain.ClassifyApply(err))
	}
	if !errors.Is(err, domain.ErrAuctionNotFound) {
		t.Errorf("err = %v, want ErrAuctionNotFound in chain", err)
	}
}

func TestApplyBuyNowClosesAndPublishesSold(t *testing.T) {
	f := newApplyFixture(t)
	a := openAuctionRow()
	a.BuyNowFlag = true
	a.BuyNowPrice = decimal.NewNullDecimal(decimal.NewFromInt(500))
	f.auctions.auction = a
	ev := domain.NewBidEvent(domain.IntendedAccept, domain.ReasonBuyNow, 1, 7,
		decimal.NewFromInt(600), "ev-1", time.Now().UTC())

	if err := f.svc.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply() = %v, want nil", err)
	}
	if len(f.bids.created) != 1 {
		t.Fatalf("created %d rows, want 1", len(f.bids.created))
	}
	row := f.bids.created[0]
	if !row.BidPrice.Equal(decimal.NewFromInt(500)) {
		t.Errorf("row price = %s, want the buy-now price 500", row.BidPrice)
	}
	if len(f.auctions.closes) != 1 || f.auctions.closes[0] != domain.CloseReasonBuyNow {
		t.Errorf("closes = %v, want [BUY_NOW]", f.auctions.closes)
	}
	if len(f.auctions.winnerIDs) != 1 || f.auctions.winnerIDs[0] != row.ID {
		t.Errorf("winner bid ids = %v, want [%d]", f.auctions.winnerIDs, row.ID)
	}
	if len(f.publisher.sold) != 1 {
		t.Fatalf("sold events = %d, want 1", len(f.publisher.sold))
	}
	if !f.publisher.sold[0].Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("sold amount = %s, want 500", f.publisher.sold[0].Amount)
	}
	if len(f.cache.ended) != 1 {
		t.Error("the cached snapshot must be marked ended")
	}
}

func TestRecordFailureWritesRowAndResyncs(t *testing.T) {
	f := newApplyFixture(t)
	f.auctions.auction = openAuctionRow()
	cause := domain.Permanent(domain.ReasonDBConstraint, errors.New("insert blew up"))

	f.svc.RecordFailure(context.Background(), acceptEvent("ev-1", 110), cause)

	if len(f.bids.created) != 1 {
		t.Fatalf("created %d rows, want 1", len(f.bids.created))
	}
	row := f.bids.created[0]
	if row.Status != domain.BidStatusFailed {
		t.Errorf("row status = %s, want FAILED", row.Status)
	}
	if row.ReasonCode == nil || *row.ReasonCode != domain.ReasonDBConstraint {
		t.Errorf("row reason = %v, want DB_CONSTRAINT", row.ReasonCode)
	}
	if len(f.cache.resyncs) != 1 || !f.cache.resyncs[0].Equal(decimal.NewFromInt(100)) {
		t.Errorf("price resyncs = %v, want [100] (the DB truth)", f.cache.resyncs)
	}
}

func TestRecordFailureResyncsWhenRowWriteFails(t *testing.T) {
	f := newApplyFixture(t)
	f.auctions.auction = openAuctionRow()
	f.bids.createErr = errors.New("constraint violation")

	f.svc.RecordFailure(context.Background(), acceptEvent("ev-1", 110), errors.New("apply failed"))

	if len(f.cache.resyncs) != 1 {
		t.Error("the cache must be resynced even when the FAILED row cannot be written")
	}
}

func TestRecordFailureResyncsWhenMemberMissing(t *testing.T) {
	f := newApplyFixture(t)
	f.auctions.auction = openAuctionRow()
	f.bids.memberOK = false

	f.svc.RecordFailure(context.Background(), acceptEvent("ev-1", 110), errors.New("apply failed"))

	if len(f.bids.created) != 0 {
		t.Error("no FAILED row without a member to attribute it to")
	}
	if len(f.cache.resyncs) != 1 {
		t.Error("a skipped row must still resync the cached price")
	}
}

func TestRecordFailureSkipsMissingAuction(t *testing.T) {
	f := newApplyFixture(t)
	f.bids.auctionOK = false

	f.svc.RecordFailure(context.Background(), acceptEvent("ev-1", 110), errors.New("apply failed"))

	if len(f.bids.created) != 0 {
		t.Error("no FAILED row for a gone auction")
	}
	if len(f.cache.resyncs) != 0 {
		t.Error("a gone auction has no snapshot left to resync")
	}
}
