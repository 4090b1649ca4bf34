package eventlog

import (
	"testing"

	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

var testNS = key.Namespace{Tenant: "acme", App: "bot", Agent: "a1", Run: key.DefaultRunID}

func newTestLog(t *testing.T) (*Store, *txn.Engine) {
	t.Helper()
	w, err := wal.Open(wal.Options{Durability: wal.InMemory})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	st := store.New(4)
	return New(st, value.DefaultLimits()), txn.NewEngine(st, w)
}

func payload(i int64) value.Value {
	return value.Object(map[string]value.Value{"i": value.Int(i)})
}

func TestSequencesAreStrictlyIncreasing(t *testing.T) {
	el, e := newTestLog(t)

	var seqs []version.Version
	for i := int64(0); i < 3; i++ {
		tx := e.Begin(key.DefaultRunID)
		seq, err := el.Append(tx, testNS, "stream", payload(i))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		seqs = append(seqs, seq)
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i].Kind != version.KindSequence {
			t.Fatalf("seq kind = %v", seqs[i].Kind)
		}
		if seqs[i].Value <= seqs[i-1].Value {
			t.Fatalf("sequence not increasing: %d then %d", seqs[i-1].Value, seqs[i].Value)
		}
	}
}

func TestConcurrentAppendsConflict(t *testing.T) {
	el, e := newTestLog(t)

	t1 := e.Begin(key.DefaultRunID)
	t2 := e.Begin(key.DefaultRunID)

	if _, err := el.Append(t1, testNS, "s", payload(1)); err != nil {
		t.Fatalf("t1 append: %v", err)
	}
	if _, err := el.Append(t2, testNS, "s", payload(2)); err != nil {
		t.Fatalf("t2 append: %v", err)
	}

	if _, err := t1.Commit(); err != nil {
		t.Fatalf("t1 commit: %v", err)
	}
	if _, err := t2.Commit(); !errs.Is(err, errs.CodeConflict) {
		t.Fatalf("expected Conflict for concurrent append, got %v", err)
	}
}

func TestRangeFiltersAndOrders(t *testing.T) {
	el, e := newTestLog(t)

	for i := int64(1); i <= 5; i++ {
		tx := e.Begin(key.DefaultRunID)
		if _, err := el.Append(tx, testNS, "s", payload(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	tx := e.Begin(key.DefaultRunID)
	defer tx.Abort()
	events, err := el.Range(tx, testNS, "s", 2, 4, 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("range length = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+2) {
			t.Fatalf("events out of order: %v", events)
		}
	}

	n, err := el.Len(tx, testNS, "s")
	if err != nil || n != 5 {
		t.Fatalf("len = %d err=%v", n, err)
	}
}

func TestAppendRequiresObjectPayload(t *testing.T) {
	el, e := newTestLog(t)

	tx := e.Begin(key.DefaultRunID)
	defer tx.Abort()
	if _, err := el.Append(tx, testNS, "s", value.Int(1)); !errs.Is(err, errs.CodeWrongType) {
		t.Fatalf("expected WrongType, got %v", err)
	}
}

func TestStreamsAreIndependent(t *testing.T) {
	el, e := newTestLog(t)

	tx := e.Begin(key.DefaultRunID)
	s1, err := el.Append(tx, testNS, "first", payload(1))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	s2, err := el.Append(tx, testNS, "second", payload(2))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if s1.Value != 1 || s2.Value != 1 {
		t.Fatalf("per-stream sequences should start at 1: %v %v", s1, s2)
	}
}
