package cache

import "testing"

func TestKeyBuilders(t *testing.T) {
	if got := AuctionKey(42); got != "auction:42" {
		t.Errorf("AuctionKey = %q", got)
	}
	if got := QueueKey(42); got != "auction:42:bidq" {
		t.Errorf("QueueKey = %q", got)
	}
	if got := RetryKey(42); got != "auction:42:bidq:retry" {
		t.Errorf("RetryKey = %q", got)
	}
	if got := DeadKey(42); got != "auction:42:bidq:dead" {
		t.Errorf("DeadKey = %q", got)
	}
	if got := IdemKey("evt-1"); got != "bid:idem:evt-1" {
		t.Errorf("IdemKey = %q", got)
	}
}

func TestParseQueueKey(t *testing.T) {
	cases := []struct {
		key      string
		wantID   int64
		wantKind QueueKind
		wantOK   bool
	}{
		{"auction:42:bidq", 42, QueueMain, true},
		{"auction:42:bidq:retry", 42, QueueRetry, true},
		{"auction:42:bidq:dead", 42, QueueDead, true},
		{"auction:9000000000:bidq", 9000000000, QueueMain, true},
		{"auction:42", 0, 0, false},
		{"auction:deadlines", 0, 0, false},
		{"auction:abc:bidq", 0, 0, false},
		{"auction:-1:bidq", 0, 0, false},
		{"auction:0:bidq", 0, 0, false},
		{"bid:idem:evt-1", 0, 0, false},
		{"auction::bidq", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			id, kind, ok := ParseQueueKey(tc.key)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if id != tc.wantID || kind != tc.wantKind {
				t.Errorf("got (%d, %v), want (%d, %v)", id, kind, tc.wantID, tc.wantKind)
			}
		})
	}
}

// Round trip: every builder output must parse back to its inputs.
func TestParseQueueKeyRoundTrip(t *testing.T) {
	for _, id := range []int64{1, 77, 123456789} {
		for kind, key := range map[QueueKind]string{
			QueueMain:  QueueKey(id),
			QueueRetry: RetryKey(id),
			QueueDead:  DeadKey(id),
		} {
			gotID, gotKind, ok := ParseQueueKey(key)
			if !ok || gotID != id || gotKind != kind {
				t.Errorf("round trip %q: got (%d, %v, %v)", key, gotID, gotKind, ok)
			}
		}
	}
}
