package trace

import (
	"testing"

	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/wal"
)

var testNS = key.Namespace{Tenant: "acme", App: "bot", Agent: "a1", Run: key.DefaultRunID}

func newTestTraces(t *testing.T) (*Store, *txn.Engine) {
	t.Helper()
	w, err := wal.Open(wal.Options{Durability: wal.InMemory})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	st := store.New(4)
	return New(st, value.DefaultLimits()), txn.NewEngine(st, w)
}

func record(step int64) value.Value {
	return value.Object(map[string]value.Value{"step": value.Int(step)})
}

func TestAppendAssignsDenseSequences(t *testing.T) {
	ts, e := newTestTraces(t)

	for i := int64(1); i <= 3; i++ {
		tx := e.Begin(key.DefaultRunID)
		seq, err := ts.Append(tx, testNS, "tool_call", record(i))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if seq != uint64(i) {
			t.Fatalf("seq = %d, want %d", seq, i)
		}
		if _, err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
}

func TestQueryByTypeAndTime(t *testing.T) {
	ts, e := newTestTraces(t)

	tx := e.Begin(key.DefaultRunID)
	if _, err := ts.Append(tx, testNS, "tool_call", record(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := ts.Append(tx, testNS, "llm_call", record(2)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx = e.Begin(key.DefaultRunID)
	defer tx.Abort()

	got, err := ts.Query(tx, testNS, "tool_call", 0, 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("type filter leaked: %+v", got)
	}
	data, _ := got[0].Data.AsObject()
	if n, _ := data["step"].AsInt(); n != 1 {
		t.Fatalf("wrong record: %+v", got[0])
	}

	// A time window in the far past matches nothing.
	got, err = ts.Query(tx, testNS, "tool_call", 1, 2, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("time filter leaked: %+v", got)
	}
}

func TestAppendRequiresObject(t *testing.T) {
	ts, e := newTestTraces(t)
	tx := e.Begin(key.DefaultRunID)
	defer tx.Abort()
	if _, err := ts.Append(tx, testNS, "tool_call", value.String("nope")); !errs.Is(err, errs.CodeWrongType) {
		t.Fatalf("expected WrongType, got %v", err)
	}
}
