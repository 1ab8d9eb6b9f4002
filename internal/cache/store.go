package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cardhaus/auction/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Store is the cache-side bid engine: snapshot hashes, the atomic admission
// gate, and monotonic price maintenance. One Store is shared by all services.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a Store over an existing Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Client exposes the underlying connection for the queue and deadline views.
func (s *Store) Client() *redis.Client { return s.rdb }

// ──────────────────────────────────────────────────────────────────────────────
// Admission gate
// ──────────────────────────────────────────────────────────────────────────────

// Admit runs the atomic admission script for one bid submission. On OK the
// price is already raised in the hash and the accept event sits on the
// auction's queue; on a validation rejection the matching REJECT event sits
// there instead, pushed by the same script execution. The caller only reports
// the result. idemTTL bounds how long the event id is remembered for
// duplicate suppression.
func (s *Store) Admit(ctx context.Context, auctionID, memberID int64, amount decimal.Decimal, eventID string, now time.Time, idemTTL time.Duration) (domain.AdmissionResult, error) {
	accept := domain.NewBidEvent(domain.IntendedAccept, "", auctionID, memberID, amount, eventID, now)
	payload, err := accept.Marshal()
	if err != nil {
		return domain.AdmissionResult{}, fmt.Errorf("cache.Admit: %w", err)
	}
	buyNow := domain.NewBidEvent(domain.IntendedAccept, domain.ReasonBuyNow, auctionID, memberID, amount, eventID, now)
	buyNowPayload, err := buyNow.Marshal()
	if err != nil {
		return domain.AdmissionResult{}, fmt.Errorf("cache.Admit: %w", err)
	}
	rejects := make([]string, 0, 4)
	for _, reason := range []string{domain.ReasonMissing, domain.ReasonNotRunning, domain.ReasonSelfBid, domain.ReasonLowPrice} {
		ev := domain.NewBidEvent(domain.IntendedReject, reason, auctionID, memberID, amount, eventID, now)
		p, perr := ev.Marshal()
		if perr != nil {
			return domain.AdmissionResult{}, fmt.Errorf("cache.Admit: %w", perr)
		}
		rejects = append(rejects, p)
	}

	keys := []string{AuctionKey(auctionID), QueueKey(auctionID), IdemKey(eventID)}
	argv := []interface{}{
		strconv.FormatInt(memberID, 10),
		amount.String(),
		now.UTC().Unix(),
		int(idemTTL.Seconds()),
		payload,
		buyNowPayload,
		rejects[0],
		rejects[1],
		rejects[2],
		rejects[3],
	}

	raw, err := admissionScript.Run(ctx, s.rdb, keys, argv...).Slice()
	if err != nil {
		return domain.AdmissionResult{}, fmt.Errorf("cache.Admit run: %w", err)
	}
	if len(raw) != 2 {
		return domain.AdmissionResult{}, fmt.Errorf("cache.Admit: unexpected reply shape %v", raw)
	}

	code, _ := raw[0].(string)
	res := domain.AdmissionResult{
		Code:    domain.AdmissionCode(code),
		EventID: eventID,
	}
	if priceStr, _ := raw[1].(string); priceStr != "" {
		p, perr := decimal.NewFromString(priceStr)
		if perr == nil {
			res.PriceAfter = p
		}
	}
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Snapshot maintenance
// ──────────────────────────────────────────────────────────────────────────────

// LoadSnapshot writes the full snapshot hash for an auction, overwriting any
// stale fields. Used by the startup warmer and by forced resyncs.
func (s *Store) LoadSnapshot(ctx context.Context, snap domain.Snapshot) error {
	fields := map[string]interface{}{
		fieldIsEnd:        boolField(snap.IsEnd),
		fieldStartTs:      snap.StartTs,
		fieldEndTs:        snap.EndTs,
		fieldCurrentPrice: snap.CurrentPrice.String(),
		fieldBidUnit:      string(snap.BidUnit),
		fieldOwnerID:      snap.OwnerID,
		fieldBuyNowFlag:   boolField(snap.BuyNowFlag),
		fieldBuyNowPrice:  buyNowField(snap),
	}
	if err := s.rdb.HSet(ctx, AuctionKey(snap.AuctionID), fields).Err(); err != nil {
		return fmt.Errorf("cache.LoadSnapshot: %w", err)
	}
	return nil
}

// requiredFields are the hash fields the admission gate cannot run without.
// A partial hash counts as unloaded: a reopen or price resync that ran after
// an eviction leaves one behind, and it must be repairable.
var requiredFields = []string{fieldIsEnd, fieldStartTs, fieldEndTs, fieldCurrentPrice, fieldBidUnit, fieldOwnerID}

// Loaded reports whether a complete snapshot hash exists for the auction.
func (s *Store) Loaded(ctx context.Context, auctionID int64) (bool, error) {
	vals, err := s.rdb.HMGet(ctx, AuctionKey(auctionID), requiredFields...).Result()
	if err != nil {
		return false, fmt.Errorf("cache.Loaded: %w", err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok || str == "" {
			return false, nil
		}
	}
	return true, nil
}

// EnsureLoaded writes the snapshot only when the hash is absent or missing
// required fields, so a lazy load can never clobber a price the gate already
// advanced. The gate refuses partial hashes, so one it could have advanced is
// always complete and left alone here.
func (s *Store) EnsureLoaded(ctx context.Context, snap domain.Snapshot) error {
	loaded, err := s.Loaded(ctx, snap.AuctionID)
	if err != nil {
		return fmt.Errorf("cache.EnsureLoaded: %w", err)
	}
	if loaded {
		return nil
	}
	return s.LoadSnapshot(ctx, snap)
}

// Snapshot reads the cached view of an auction. Returns ErrSnapshotMissing
// when no hash exists.
func (s *Store) Snapshot(ctx context.Context, auctionID int64) (*domain.Snapshot, error) {
	m, err := s.rdb.HGetAll(ctx, AuctionKey(auctionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache.Snapshot: %w", err)
	}
	if len(m) == 0 {
		return nil, domain.ErrSnapshotMissing
	}

	snap := &domain.Snapshot{AuctionID: auctionID}
	snap.IsEnd = m[fieldIsEnd] == "1"
	snap.StartTs, _ = strconv.ParseInt(m[fieldStartTs], 10, 64)
	snap.EndTs, _ = strconv.ParseInt(m[fieldEndTs], 10, 64)
	snap.OwnerID, _ = strconv.ParseInt(m[fieldOwnerID], 10, 64)
	snap.BuyNowFlag = m[fieldBuyNowFlag] == "1"
	snap.BidUnit = domain.BidUnit(m[fieldBidUnit])
	if p, perr := decimal.NewFromString(m[fieldCurrentPrice]); perr == nil {
		snap.CurrentPrice = p
	}
	if v := m[fieldBuyNowPrice]; v != "" {
		if p, perr := decimal.NewFromString(v); perr == nil {
			snap.BuyNowPrice = p
		}
	}
	return snap, nil
}

// ApplyPrice raises the cached current price if and only if the new value is
// strictly higher than what the hash holds. Returns whether a write happened.
func (s *Store) ApplyPrice(ctx context.Context, auctionID int64, price decimal.Decimal) (bool, error) {
	n, err := applyPriceScript.Run(ctx, s.rdb,
		[]string{AuctionKey(auctionID)}, price.String()).Int()
	if err != nil {
		return false, fmt.Errorf("cache.ApplyPrice: %w", err)
	}
	return n == 1, nil
}

// ForceResyncPrice overwrites the cached price with the DB truth, bypassing
// the monotonic guard. Only the dead-letter path and admin resync use this.
func (s *Store) ForceResyncPrice(ctx context.Context, auctionID int64, price decimal.Decimal) error {
	err := s.rdb.HSet(ctx, AuctionKey(auctionID), fieldCurrentPrice, price.String()).Err()
	if err != nil {
		return fmt.Errorf("cache.ForceResyncPrice: %w", err)
	}
	return nil
}

// MarkEnded flips the cached is_end flag so the gate starts refusing bids
// immediately, before any queue drain.
func (s *Store) MarkEnded(ctx context.Context, auctionID int64) error {
	if err := s.rdb.HSet(ctx, AuctionKey(auctionID), fieldIsEnd, "1").Err(); err != nil {
		return fmt.Errorf("cache.MarkEnded: %w", err)
	}
	return nil
}

// ReopenUntil clears the ended flag and installs the new end time. Admin
// reopen only.
func (s *Store) ReopenUntil(ctx context.Context, auctionID int64, endTs int64) error {
	err := s.rdb.HSet(ctx, AuctionKey(auctionID), fieldIsEnd, "0", fieldEndTs, endTs).Err()
	if err != nil {
		return fmt.Errorf("cache.ReopenUntil: %w", err)
	}
	return nil
}

// ExtendEndTs pushes the cached end time out. The anti-sniping rule calls
// this after commit so the gate window matches the DB.
func (s *Store) ExtendEndTs(ctx context.Context, auctionID int64, endTs int64) error {
	if err := s.rdb.HSet(ctx, AuctionKey(auctionID), fieldEndTs, endTs).Err(); err != nil {
		return fmt.Errorf("cache.ExtendEndTs: %w", err)
	}
	return nil
}

// Remove deletes an auction's snapshot hash. Used after terminal cleanup.
func (s *Store) Remove(ctx context.Context, auctionID int64) error {
	if err := s.rdb.Del(ctx, AuctionKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("cache.Remove: %w", err)
	}
	return nil
}

// Ping verifies connectivity at startup.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache.Ping: %w", err)
	}
	return nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func buyNowField(snap domain.Snapshot) string {
	if !snap.BuyNowFlag || snap.BuyNowPrice.IsZero() {
		return ""
	}
	return snap.BuyNowPrice.String()
}
