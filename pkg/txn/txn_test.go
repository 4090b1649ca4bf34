package txn

import (
	"testing"

	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	w, err := wal.Open(wal.Options{Durability: wal.InMemory})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	return NewEngine(store.New(4), w)
}

func testKey(user string) key.Key {
	ns := key.Namespace{Tenant: "acme", App: "bot", Agent: "a1", Run: key.DefaultRunID}
	return key.New(ns, key.TypeKV, []byte(user))
}

func stagePut(t *Txn, k key.Key, v value.Value) {
	t.Stage(k, wal.EntryPut, nil, func(ver version.Version, ts uint64) {
		t.engine.store.Put(k, v, ver, ts, 0)
	})
}

func TestCommitAppliesStagedWrites(t *testing.T) {
	e := newTestEngine(t)
	txn := e.Begin(key.DefaultRunID)

	k := testKey("x")
	stagePut(txn, k, value.Int(42))

	ver, err := txn.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ver.Value == 0 {
		t.Fatal("expected a nonzero commit version")
	}

	entry, ok := e.store.GetLatest(k)
	if !ok {
		t.Fatal("expected key to be visible after commit")
	}
	if i, _ := entry.Value.AsInt(); i != 42 {
		t.Fatalf("expected 42, got %d", i)
	}
}

func TestConcurrentWriteConflict(t *testing.T) {
	e := newTestEngine(t)
	k := testKey("x")

	seed := e.Begin(key.DefaultRunID)
	stagePut(seed, k, value.Int(1))
	if _, err := seed.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	txnA := e.Begin(key.DefaultRunID)
	txnA.Read(k)

	txnB := e.Begin(key.DefaultRunID)
	txnB.Read(k)
	stagePut(txnB, k, value.Int(2))
	if _, err := txnB.Commit(); err != nil {
		t.Fatalf("txnB commit: %v", err)
	}

	stagePut(txnA, k, value.Int(3))
	_, err := txnA.Commit()
	if err == nil {
		t.Fatal("expected a conflict error")
	}
	if !errs.Is(err, errs.CodeConflict) {
		t.Fatalf("expected CodeConflict, got %v", err)
	}
}

func TestAbortDiscardsStagedWrites(t *testing.T) {
	e := newTestEngine(t)
	k := testKey("x")

	txn := e.Begin(key.DefaultRunID)
	stagePut(txn, k, value.Int(1))
	if err := txn.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	if _, ok := e.store.GetLatest(k); ok {
		t.Fatal("expected no write to be visible after abort")
	}
}

func TestJSONPathDisjointWritesDoNotConflict(t *testing.T) {
	e := newTestEngine(t)
	jsonKey := testKey("doc")

	seed := e.Begin(key.DefaultRunID)
	stagePut(seed, jsonKey, value.Object(map[string]value.Value{
		"a": value.Int(1),
		"b": value.Int(2),
	}))
	if _, err := seed.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	txnA := e.Begin(key.DefaultRunID)
	txnA.ReadPaths(jsonKey, []string{"/a"})

	txnB := e.Begin(key.DefaultRunID)
	txnB.StageJSONWrite(jsonKey, []string{"/b"}, wal.EntryJsonPatch, nil, func(ver version.Version, ts uint64) {
		e.store.Put(jsonKey, value.Object(map[string]value.Value{"a": value.Int(1), "b": value.Int(99)}), ver, ts, 0)
	})
	if _, err := txnB.Commit(); err != nil {
		t.Fatalf("txnB commit: %v", err)
	}

	txnA.StageJSONWrite(jsonKey, []string{"/a"}, wal.EntryJsonPatch, nil, func(ver version.Version, ts uint64) {
		e.store.Put(jsonKey, value.Object(map[string]value.Value{"a": value.Int(100), "b": value.Int(99)}), ver, ts, 0)
	})
	if _, err := txnA.Commit(); err != nil {
		t.Fatalf("expected disjoint-path commit to succeed, got %v", err)
	}
}

func TestMinActiveVersionTracksOpenTransactions(t *testing.T) {
	e := newTestEngine(t)
	if _, ok := e.registry.MinActiveVersion(); ok {
		t.Fatal("expected no floor with no active transactions")
	}

	txn := e.Begin(key.DefaultRunID)
	if _, ok := e.registry.MinActiveVersion(); !ok {
		t.Fatal("expected a floor once a transaction is active")
	}

	txn.Abort()
	if _, ok := e.registry.MinActiveVersion(); ok {
		t.Fatal("expected no floor once the transaction ends")
	}
}
