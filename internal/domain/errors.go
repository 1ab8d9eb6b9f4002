package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Auction errors
var (
	// ErrAuctionNotFound is returned when no auction matches the given id.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrAuctionNotRunning is returned when a bid arrives outside the
	// start/end window or after the auction ended.
	ErrAuctionNotRunning = errors.New("auction is not running")

	// ErrAuctionEnded is returned when a state change is attempted on an
	// auction whose isEnd flag is already set.
	ErrAuctionEnded = errors.New("auction is already ended")

	// ErrAuctionConflict is returned when a concurrent state change won the
	// race (e.g. a close landed between validation and update).
	ErrAuctionConflict = errors.New("auction state changed concurrently")

	// ErrAuctionHasBids blocks a seller cancel once any bid exists.
	ErrAuctionHasBids = errors.New("auction has bids and cannot be cancelled")

	// ErrNotOwner is returned when a seller-scoped operation is attempted by
	// someone else.
	ErrNotOwner = errors.New("not the auction owner")

	// ErrInvalidWindow is returned when end datetime is not strictly after
	// start datetime.
	ErrInvalidWindow = errors.New("auction end must be after start")

	// ErrInvalidBidUnit is returned for a bid unit outside the enumerated set.
	ErrInvalidBidUnit = errors.New("invalid bid unit")

	// ErrInvalidBuyNowPrice is returned when a buy-now price does not exceed
	// the start price.
	ErrInvalidBuyNowPrice = errors.New("buy-now price must exceed start price")
)

// Bid errors
var (
	// ErrBidTooLow is returned when the bid does not reach
	// currentPrice + bidUnit.
	ErrBidTooLow = errors.New("bid price below minimum allowed")

	// ErrSelfBid is returned when the auction owner bids on their own listing.
	ErrSelfBid = errors.New("owner cannot bid on own auction")

	// ErrDuplicateEvent is returned when an idempotency key has already been
	// admitted or applied.
	ErrDuplicateEvent = errors.New("duplicate bid event")

	// ErrPriceRegression is returned by a write that would lower currentPrice.
	ErrPriceRegression = errors.New("current price cannot decrease")

	// ErrMalformedEvent marks a queue payload that cannot be decoded or is
	// missing mandatory fields; it is never retried.
	ErrMalformedEvent = errors.New("malformed bid event payload")
)

// Infrastructure errors surfaced to callers
var (
	// ErrLockTimeout is returned when the auction row lock could not be
	// acquired within the lock-wait timeout; safe to retry.
	ErrLockTimeout = errors.New("auction lock wait timed out")

	// ErrSnapshotMissing is returned when the cached snapshot is absent and
	// could not be ensured.
	ErrSnapshotMissing = errors.New("auction snapshot missing from cache")
)

// Auth errors (thin identity shim)
var (
	// ErrUnauthorized is returned when no valid identity token is present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsNotFound reports whether err is an "entity not found" error, for
// translation to HTTP 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAuctionNotFound)
}

// IsConflict reports whether err represents a state conflict (HTTP 409):
// races with a concurrent close, terminal-state violations, duplicates.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrAuctionConflict,
		ErrAuctionEnded,
		ErrAuctionHasBids,
		ErrDuplicateEvent,
		ErrPriceRegression,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidationRejection reports whether err is an expected, user-facing bid
// rejection — returned as a typed code, never retried.
func IsValidationRejection(err error) bool {
	rejections := []error{
		ErrBidTooLow,
		ErrSelfBid,
		ErrAuctionNotRunning,
		ErrDuplicateEvent,
		ErrInvalidBidUnit,
	}
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Apply-step failure classification
// ──────────────────────────────────────────────────────────────────────────────

// FailureClass is the closed set of outcomes the Event Consumer routes on.
// The apply step returns one of these instead of an open error hierarchy so
// routing is a pure decision.
type FailureClass int

const (
	// FailureNone: the event was applied (or was a safe no-op).
	FailureNone FailureClass = iota
	// FailureRetryable: transient (lock contention, transient storage error);
	// the event goes to the retry sub-queue.
	FailureRetryable
	// FailurePermanent: the event can never apply (malformed payload, auction
	// missing on ACCEPT); it goes to the dead-letter sub-queue and the cache
	// is force-resynced.
	FailurePermanent
)

// ApplyError pairs a failure class with its cause, preserving errors.Is/As
// through Unwrap.
type ApplyError struct {
	Class FailureClass
	Code  string // short machine code, e.g. "LOCK_CONTENTION", "AUCTION_NOT_FOUND"
	Err   error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

// Unwrap exposes the cause for errors.Is/As.
func (e *ApplyError) Unwrap() error { return e.Err }

// Retryable builds a transient apply failure.
func Retryable(code string, err error) *ApplyError {
	return &ApplyError{Class: FailureRetryable, Code: code, Err: err}
}

// Permanent builds a non-retryable apply failure.
func Permanent(code string, err error) *ApplyError {
	return &ApplyError{Class: FailurePermanent, Code: code, Err: err}
}

// ClassifyApply extracts the routing class from an apply-step error.
// nil → FailureNone; an unclassified error is treated as retryable, on the
// assumption that unknown faults are more often environmental than
// structural (a poisoned message still drains to dead-letter once it is
// classified on a later delivery).
func ClassifyApply(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	var ae *ApplyError
	if errors.As(err, &ae) {
		return ae.Class
	}
	if errors.Is(err, ErrMalformedEvent) {
		return FailurePermanent
	}
	if errors.Is(err, ErrLockTimeout) {
		return FailureRetryable
	}
	return FailureRetryable
}
