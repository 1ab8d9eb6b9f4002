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
	"github.com/shopspring/decimal"
)

// fakeGate scripts the admission gate's answers and records what reached it.
type fakeGate struct {
	code      domain.AdmissionCode
	price     decimal.Decimal
	admitErr  error
	loaded    bool
	loadedErr error
	ensureErr error
	admits    []string // event ids handed to Admit
	ensured   []domain.Snapshot
}

func (f *fakeGate) Admit(ctx context.Context, auctionID, memberID int64, amount decimal.Decimal, eventID string, now time.Time, idemTTL time.Duration) (domain.AdmissionResult, error) {
	if f.admitErr != nil {
		return domain.AdmissionResult{}, f.admitErr
	}
	f.admits = append(f.admits, eventID)
	return domain.AdmissionResult{Code: f.code, PriceAfter: f.price, EventID: eventID}, nil
}

func (f *fakeGate) Loaded(ctx context.Context, auctionID int64) (bool, error) {
	return f.loaded, f.loadedErr
}

func (f *fakeGate) EnsureLoaded(ctx context.Context, snap domain.Snapshot) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured = append(f.ensured, snap)
	return nil
}

// fakeAuctionReader serves the lazy snapshot load.
type fakeAuctionReader struct {
	auction *domain.Auction
	err     error
	gets    int
}

func (f *fakeAuctionReader) GetByID(ctx context.Context, id int64) (*domain.Auction, error) {
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	return f.auction, nil
}

func testQueueService(t *testing.T, gate *fakeGate, reader *fakeAuctionReader) *BidQueueService {
	t.Helper()
	cfg := &config.Config{}
	cfg.Bid.IdemTTL = time.Hour
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBidQueueService(gate, reader, cfg, logger)
}

func TestSubmitBidReturnsGateDecision(t *testing.T) {
	codes := []domain.AdmissionCode{
		domain.AdmissionOK,
		domain.AdmissionDuplicate,
		domain.AdmissionMissing,
		domain.AdmissionNotRunning,
		domain.AdmissionLowPrice,
		domain.AdmissionSelfBid,
	}
	for _, code := range codes {
		t.Run(string(code), func(t *testing.T) {
			gate := &fakeGate{code: code, price: decimal.NewFromInt(101), loaded: true}
			svc := testQueueService(t, gate, &fakeAuctionReader{})

			res, err := svc.SubmitBid(context.Background(), 1, 7, decimal.NewFromInt(101), "ev-1")
			if err != nil {
				t.Fatalf("SubmitBid() = %v, want nil", err)
			}
			if res.Code != code {
				t.Errorf("code = %s, want %s", res.Code, code)
			}
			if res.Code.Accepted() != (code == domain.AdmissionOK) {
				t.Errorf("Accepted() = %v for %s", res.Code.Accepted(), code)
			}
		})
	}
}

func TestSubmitBidRejectsNonPositiveAmount(t *testing.T) {
	gate := &fakeGate{loaded: true}
	svc := testQueueService(t, gate, &fakeAuctionReader{})

	_, err := svc.SubmitBid(context.Background(), 1, 7, decimal.Zero, "ev-1")
	if !errors.Is(err, domain.ErrBidTooLow) {
		t.Fatalf("SubmitBid(0) = %v, want ErrBidTooLow", err)
	}
	if len(gate.admits) != 0 {
		t.Error("a non-positive amount must not reach the gate")
	}
}

func TestSubmitBidMintsEventID(t *testing.T) {
	gate := &fakeGate{code: domain.AdmissionOK, loaded: true}
	svc := testQueueService(t, gate, &fakeAuctionReader{})

	res, err := svc.SubmitBid(context.Background(), 1, 7, decimal.NewFromInt(101), "")
	if err != nil {
		t.Fatalf("SubmitBid() = %v, want nil", err)
	}
	if res.EventID == "" {
		t.Error("a submission without an event id must get a minted one")
	}
	if len(gate.admits) != 1 || gate.admits[0] != res.EventID {
		t.Errorf("gate saw %v, want the minted id %q", gate.admits, res.EventID)
	}
}

func TestSubmitBidSkipsLoadWhenCached(t *testing.T) {
	gate := &fakeGate{code: domain.AdmissionOK, loaded: true}
	reader := &fakeAuctionReader{}
	svc := testQueueService(t, gate, reader)

	if _, err := svc.SubmitBid(context.Background(), 1, 7, decimal.NewFromInt(101), "ev-1"); err != nil {
		t.Fatalf("SubmitBid() = %v, want nil", err)
	}
	if reader.gets != 0 {
		t.Error("a complete snapshot must not hit the DB")
	}
}

func TestSubmitBidLoadsSnapshotOnDemand(t *testing.T) {
	gate := &fakeGate{code: domain.AdmissionOK, loaded: false}
	reader := &fakeAuctionReader{auction: openAuctionRow()}
	svc := testQueueService(t, gate, reader)

	if _, err := svc.SubmitBid(context.Background(), 1, 7, decimal.NewFromInt(101), "ev-1"); err != nil {
		t.Fatalf("SubmitBid() = %v, want nil", err)
	}
	if reader.gets != 1 {
		t.Fatalf("DB reads = %d, want 1", reader.gets)
	}
	if len(gate.ensured) != 1 {
		t.Fatalf("snapshot loads = %d, want 1", len(gate.ensured))
	}
	snap := gate.ensured[0]
	if snap.AuctionID != 1 || !snap.CurrentPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("loaded snapshot = %+v, want auction 1 at price 100", snap)
	}
	if len(gate.admits) != 1 {
		t.Error("admission must run after the snapshot load")
	}
}

func TestSubmitBidUnknownAuction(t *testing.T) {
	gate := &fakeGate{loaded: false}
	reader := &fakeAuctionReader{err: domain.ErrAuctionNotFound}
	svc := testQueueService(t, gate, reader)

	_, err := svc.SubmitBid(context.Background(), 1, 7, decimal.NewFromInt(101), "ev-1")
	if !errors.Is(err, domain.ErrAuctionNotFound) {
		t.Fatalf("SubmitBid() = %v, want ErrAuctionNotFound", err)
	}
	if len(gate.admits) != 0 {
		t.Error("an unknown auction must not reach the gate")
	}
}
