package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cardhaus/auction/internal/config"
	"github.com/cardhaus/auction/internal/domain"
	"github.com/shopspring/decimal"
)

// fakeQueues is an in-memory QueueSource.
type fakeQueues struct {
	main    map[int64][]string
	retry   map[int64][]string
	dead    map[int64][]string
	scanErr error
}

func newFakeQueues() *fakeQueues {
	return &fakeQueues{
		main:  make(map[int64][]string),
		retry: make(map[int64][]string),
		dead:  make(map[int64][]string),
	}
}

func (f *fakeQueues) ScanAuctionIDs(ctx context.Context) ([]int64, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	seen := make(map[int64]bool)
	var ids []int64
	for id, q := range f.main {
		if len(q) > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id, q := range f.retry {
		if len(q) > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func pop(m map[int64][]string, id int64) (string, bool, error) {
	q := m[id]
	if len(q) == 0 {
		return "", false, nil
	}
	m[id] = q[1:]
	return q[0], true, nil
}

func (f *fakeQueues) PopMain(ctx context.Context, id int64) (string, bool, error) {
	return pop(f.main, id)
}

func (f *fakeQueues) PopRetry(ctx context.Context, id int64) (string, bool, error) {
	return pop(f.retry, id)
}

func (f *fakeQueues) PushRetry(ctx context.Context, id int64, payload string) error {
	f.retry[id] = append(f.retry[id], payload)
	return nil
}

func (f *fakeQueues) PushDead(ctx context.Context, id int64, payload string) error {
	f.dead[id] = append(f.dead[id], payload)
	return nil
}

// fakeApplier records applied events and fails per scripted event id.
type fakeApplier struct {
	applied  []string
	failures map[string]error // event id -> error to return
	recorded []string         // event ids handed to RecordFailure
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{failures: make(map[string]error)}
}

func (f *fakeApplier) Apply(ctx context.Context, ev domain.BidEvent) error {
	if err, bad := f.failures[ev.EventID]; bad {
		return err
	}
	f.applied = append(f.applied, ev.EventID)
	return nil
}

func (f *fakeApplier) RecordFailure(ctx context.Context, ev domain.BidEvent, cause error) {
	f.recorded = append(f.recorded, ev.EventID)
}

func testConsumer(t *testing.T, queues QueueSource, applier EventApplier) *BidConsumer {
	t.Helper()
	cfg := &config.Config{}
	cfg.Consumer.RetryBatch = 10
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBidConsumer(queues, applier, cfg, logger)
}

func eventPayload(t *testing.T, auctionID int64, eventID string) string {
	t.Helper()
	ev := domain.NewBidEvent(domain.IntendedAccept, "", auctionID, 7,
		decimal.NewFromInt(100), eventID, time.Now().UTC())
	payload, err := ev.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestConsumerAppliesInQueueOrder(t *testing.T) {
	queues := newFakeQueues()
	applier := newFakeApplier()
	c := testConsumer(t, queues, applier)

	// A retry backlog must drain before the main queue.
	queues.retry[1] = []string{eventPayload(t, 1, "r1"), eventPayload(t, 1, "r2")}
	queues.main[1] = []string{eventPayload(t, 1, "m1"), eventPayload(t, 1, "m2")}

	c.Tick(context.Background())

	want := []string{"r1", "r2", "m1", "m2"}
	if len(applier.applied) != len(want) {
		t.Fatalf("applied %v, want %v", applier.applied, want)
	}
	for i := range want {
		if applier.applied[i] != want[i] {
			t.Fatalf("applied %v, want %v", applier.applied, want)
		}
	}
	if len(queues.main[1]) != 0 || len(queues.retry[1]) != 0 {
		t.Error("queues not drained")
	}
}

func TestConsumerRoutesRetryableToRetry(t *testing.T) {
	queues := newFakeQueues()
	applier := newFakeApplier()
	applier.failures["flaky"] = domain.Retryable("LOCK_CONTENTION", domain.ErrLockTimeout)
	c := testConsumer(t, queues, applier)

	queues.main[1] = []string{eventPayload(t, 1, "flaky")}
	c.Tick(context.Background())

	if len(queues.retry[1]) != 1 {
		t.Fatalf("retry queue has %d events, want 1", len(queues.retry[1]))
	}
	if len(queues.dead[1]) != 0 {
		t.Error("retryable event must not reach dead-letter")
	}
	if len(applier.recorded) != 0 {
		t.Error("retryable failure must not record a FAILED row")
	}
}

func TestConsumerRoutesPermanentToDead(t *testing.T) {
	queues := newFakeQueues()
	applier := newFakeApplier()
	applier.failures["doomed"] = domain.Permanent("AUCTION_NOT_FOUND", domain.ErrAuctionNotFound)
	c := testConsumer(t, queues, applier)

	queues.main[1] = []string{eventPayload(t, 1, "doomed")}
	c.Tick(context.Background())

	if len(queues.dead[1]) != 1 {
		t.Fatalf("dead queue has %d events, want 1", len(queues.dead[1]))
	}
	if len(queues.retry[1]) != 0 {
		t.Error("permanent event must not be retried")
	}
	if len(applier.recorded) != 1 || applier.recorded[0] != "doomed" {
		t.Errorf("RecordFailure calls = %v, want [doomed]", applier.recorded)
	}
}

func TestConsumerDeadLettersMalformedPayloads(t *testing.T) {
	queues := newFakeQueues()
	applier := newFakeApplier()
	c := testConsumer(t, queues, applier)

	queues.main[1] = []string{"{not-json", eventPayload(t, 1, "good")}
	c.Tick(context.Background())

	if len(queues.dead[1]) != 1 {
		t.Fatalf("dead queue has %d events, want 1", len(queues.dead[1]))
	}
	// A poisoned message must not block the rest of the queue.
	if len(applier.applied) != 1 || applier.applied[0] != "good" {
		t.Errorf("applied = %v, want [good]", applier.applied)
	}
}

func TestConsumerRetryBatchBound(t *testing.T) {
	queues := newFakeQueues()
	applier := newFakeApplier()
	c := testConsumer(t, queues, applier)

	// 15 retry events against a batch bound of 10: one tick drains 10.
	for i := 0; i < 15; i++ {
		queues.retry[1] = append(queues.retry[1], eventPayload(t, 1, fmt.Sprintf("r%d", i)))
	}
	c.Tick(context.Background())

	if len(applier.applied) != 10 {
		t.Errorf("applied %d events, want 10 (batch bound)", len(applier.applied))
	}
	if len(queues.retry[1]) != 5 {
		t.Errorf("retry backlog = %d, want 5", len(queues.retry[1]))
	}

	// The next tick picks up the remainder.
	c.Tick(context.Background())
	if len(applier.applied) != 15 {
		t.Errorf("applied %d events after second tick, want 15", len(applier.applied))
	}
}

func TestConsumerScanFailureAbortsTick(t *testing.T) {
	queues := newFakeQueues()
	queues.scanErr = errors.New("redis down")
	applier := newFakeApplier()
	c := testConsumer(t, queues, applier)

	queues.main[1] = []string{eventPayload(t, 1, "e1")}
	c.Tick(context.Background())

	if len(applier.applied) != 0 {
		t.Error("nothing should apply when the scan fails")
	}
	if len(queues.main[1]) != 1 {
		t.Error("events must stay queued when the scan fails")
	}
}
