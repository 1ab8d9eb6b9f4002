// Package cache holds the Redis-resident side of the bidding engine: the
// authoritative admission gate, per-auction event queues, and the deadline
// index that drives finalization.
package cache

import (
	"strconv"
	"strings"
)

// Key layout. The auction hash is the hot-path source of truth for admission;
// everything else hangs off the auction id.
const (
	auctionKeyPrefix = "auction:"
	queueSuffix      = ":bidq"
	retrySuffix      = ":bidq:retry"
	deadSuffix       = ":bidq:dead"
	idemKeyPrefix    = "bid:idem:"

	// DeadlineIndexKey is the sorted set mapping auction id -> end time millis.
	DeadlineIndexKey = "auction:deadlines"
)

// Auction hash field names, shared between Go code and the admission script.
const (
	fieldIsEnd        = "is_end"
	fieldStartTs      = "start_ts"
	fieldEndTs        = "end_ts"
	fieldCurrentPrice = "current_price"
	fieldBidUnit      = "bid_unit"
	fieldOwnerID      = "owner_id"
	fieldBuyNowFlag   = "buy_now_flag"
	fieldBuyNowPrice  = "buy_now_price"
)

// AuctionKey returns the snapshot hash key for an auction.
func AuctionKey(auctionID int64) string {
	return auctionKeyPrefix + strconv.FormatInt(auctionID, 10)
}

// QueueKey returns the main bid-event queue key for an auction.
func QueueKey(auctionID int64) string {
	return AuctionKey(auctionID) + queueSuffix
}

// RetryKey returns the retry sub-queue key for an auction.
func RetryKey(auctionID int64) string {
	return AuctionKey(auctionID) + retrySuffix
}

// DeadKey returns the dead-letter sub-queue key for an auction.
func DeadKey(auctionID int64) string {
	return AuctionKey(auctionID) + deadSuffix
}

// IdemKey returns the idempotency marker key for a bid event.
func IdemKey(eventID string) string {
	return idemKeyPrefix + eventID
}

// QueueScanPattern matches every bid queue key (main, retry and dead) for
// SCAN-based discovery. ParseQueueKey classifies what SCAN returns; scanning
// retry keys too keeps an auction discoverable when only retries remain.
const QueueScanPattern = auctionKeyPrefix + "*" + queueSuffix + "*"

// QueueKind distinguishes the three bid queue key shapes.
type QueueKind int

const (
	QueueMain QueueKind = iota
	QueueRetry
	QueueDead
)

// ParseQueueKey extracts the auction id and queue kind from a queue key.
// Returns ok=false for anything that is not "auction:{id}:bidq" or one of
// its ":retry"/":dead" sub-queues with a numeric id.
func ParseQueueKey(key string) (auctionID int64, kind QueueKind, ok bool) {
	if !strings.HasPrefix(key, auctionKeyPrefix) {
		return 0, 0, false
	}
	var mid string
	switch {
	case strings.HasSuffix(key, retrySuffix):
		kind = QueueRetry
		mid = key[len(auctionKeyPrefix) : len(key)-len(retrySuffix)]
	case strings.HasSuffix(key, deadSuffix):
		kind = QueueDead
		mid = key[len(auctionKeyPrefix) : len(key)-len(deadSuffix)]
	case strings.HasSuffix(key, queueSuffix):
		kind = QueueMain
		mid = key[len(auctionKeyPrefix) : len(key)-len(queueSuffix)]
	default:
		return 0, 0, false
	}
	id, err := strconv.ParseInt(mid, 10, 64)
	if err != nil || id <= 0 {
		return 0, 0, false
	}
	return id, kind, true
}

// memberForAuction renders the deadline ZSET member for an auction id.
func memberForAuction(auctionID int64) string {
	return strconv.FormatInt(auctionID, 10)
}
