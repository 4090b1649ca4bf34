package engine

import (
	"os"
	"testing"

	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

func strictOptions() Options {
	opts := DefaultOptions()
	opts.Durability = wal.Strict
	return opts
}

func openTestDB(t *testing.T, dir string, opts Options) *DB {
	t.Helper()
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func TestSetGetDeleteLifecycle(t *testing.T) {
	db := openTestDB(t, t.TempDir(), strictOptions())
	defer db.Close()

	if _, err := db.Set("default", "greeting", value.String("hello")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, found, err := db.Get("default", "greeting")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if s, _ := got.Value.AsString(); s != "hello" {
		t.Fatalf("value = %q", s)
	}

	if _, err := db.Delete("default", "greeting"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := db.Get("default", "greeting"); found {
		t.Fatal("deleted key still visible")
	}
}

func TestRecoveryReproducesLiveState(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, strictOptions())

	if _, err := db.Set("default", "x", value.Int(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := db.Set("default", "x", value.Int(2)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := db.EventAppend("default", "log", value.Object(map[string]value.Value{"n": value.Int(1)})); err != nil {
		t.Fatalf("event append: %v", err)
	}
	liveVersion := db.CurrentVersion()
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2 := openTestDB(t, dir, strictOptions())
	defer db2.Close()

	got, found, err := db2.Get("default", "x")
	if err != nil || !found {
		t.Fatalf("get after recovery: found=%v err=%v", found, err)
	}
	if i, _ := got.Value.AsInt(); i != 2 {
		t.Fatalf("recovered value = %d, want 2", i)
	}
	if db2.CurrentVersion().Value < liveVersion.Value {
		t.Fatalf("commit version went backwards: %v < %v", db2.CurrentVersion(), liveVersion)
	}

	events, err := db2.EventRange("default", "log", 0, 0, 0)
	if err != nil || len(events) != 1 {
		t.Fatalf("recovered events = %v err=%v", events, err)
	}

	// History survives recovery too.
	err = db2.View("default", func(tx *txn.Txn, ns key.Namespace) error {
		old, err := db2.KV().GetAt(tx, ns, "x", version.Txn(1))
		if err != nil {
			return err
		}
		if i, _ := old.Value.AsInt(); i != 1 {
			t.Fatalf("recovered history = %d, want 1", i)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestPartialTrailingCommitIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, strictOptions())

	for i := 0; i < 10; i++ {
		if _, err := db.Set("default", "k", value.Int(int64(i))); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash mid-append: a torn frame at the tail.
	walPath := db.walPath()
	durable := fileSize(walPath)
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x00, 0x01}); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	f.Close()

	db2 := openTestDB(t, dir, strictOptions())
	defer db2.Close()

	got, found, err := db2.Get("default", "k")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if i, _ := got.Value.AsInt(); i != 9 {
		t.Fatalf("recovered value = %d, want 9", i)
	}
	if fileSize(walPath) != durable {
		t.Fatalf("torn tail not truncated: %d != %d", fileSize(walPath), durable)
	}
}

func TestSnapshotPlusTailRecovery(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, strictOptions())

	if _, err := db.Set("default", "before", value.Int(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Snapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := db.Set("default", "after", value.Int(2)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2 := openTestDB(t, dir, strictOptions())
	defer db2.Close()

	for _, tc := range []struct {
		key  string
		want int64
	}{{"before", 1}, {"after", 2}} {
		got, found, err := db2.Get("default", tc.key)
		if err != nil || !found {
			t.Fatalf("get %s: found=%v err=%v", tc.key, found, err)
		}
		if i, _ := got.Value.AsInt(); i != tc.want {
			t.Fatalf("%s = %d, want %d", tc.key, i, tc.want)
		}
	}
}

func TestReplayRunIsScopedAndDeterministic(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, strictOptions())
	defer db.Close()

	var expID string
	_, err := db.Update("default", func(tx *txn.Txn, ns key.Namespace) error {
		id, err := db.Runs().Create(tx, "experiment", value.Object(nil))
		if err != nil {
			return err
		}
		expID = id.String()
		return nil
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	_ = expID

	if _, err := db.Set("default", "shared", value.Int(1)); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if _, err := db.Set("experiment", "shared", value.Int(2)); err != nil {
		t.Fatalf("set experiment: %v", err)
	}

	view, err := db.ReplayRun("experiment")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	e, ok := view.Get(key.TypeKV, []byte("shared"))
	if !ok {
		t.Fatal("replayed run missing its key")
	}
	if i, _ := e.Value.AsInt(); i != 2 {
		t.Fatalf("replayed value = %d, want 2", i)
	}

	// The view must not contain the other run's state.
	for _, p := range view.Pairs() {
		if p.Key.Namespace.Run == key.DefaultRunID {
			t.Fatal("replay leaked another run")
		}
	}
}

func TestDiffRuns(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, strictOptions())
	defer db.Close()

	_, err := db.Update("default", func(tx *txn.Txn, ns key.Namespace) error {
		_, err := db.Runs().Create(tx, "a", value.Object(nil))
		if err != nil {
			return err
		}
		_, err = db.Runs().Create(tx, "b", value.Object(nil))
		return err
	})
	if err != nil {
		t.Fatalf("create runs: %v", err)
	}

	if _, err := db.Set("a", "same", value.Int(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := db.Set("b", "same", value.Int(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := db.Set("a", "changed", value.Int(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := db.Set("b", "changed", value.Int(2)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := db.Set("a", "only-a", value.Int(1)); err != nil {
		t.Fatalf("set: %v", err)
	}

	diff, err := db.DiffRuns("a", "b")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diff.OnlyA) != 1 || diff.OnlyA[0].UserKey != "only-a" {
		t.Fatalf("OnlyA = %+v", diff.OnlyA)
	}
	if len(diff.OnlyB) != 0 {
		t.Fatalf("OnlyB = %+v", diff.OnlyB)
	}
	if len(diff.Changed) != 1 || diff.Changed[0].UserKey != "changed" {
		t.Fatalf("Changed = %+v", diff.Changed)
	}
}

func TestClosedRunRejectsWritesAcceptsReads(t *testing.T) {
	db := openTestDB(t, t.TempDir(), strictOptions())
	defer db.Close()

	_, err := db.Update("default", func(tx *txn.Txn, ns key.Namespace) error {
		_, err := db.Runs().Create(tx, "short", value.Object(nil))
		return err
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	if _, err := db.Set("short", "k", value.Int(1)); err != nil {
		t.Fatalf("set: %v", err)
	}

	_, err = db.Update("default", func(tx *txn.Txn, ns key.Namespace) error {
		return db.Runs().Close(tx, "short")
	})
	if err != nil {
		t.Fatalf("close run: %v", err)
	}

	if _, err := db.Set("short", "k", value.Int(2)); !errs.Is(err, errs.CodeRunClosed) {
		t.Fatalf("expected RunClosed, got %v", err)
	}

	got, found, err := db.Get("short", "k")
	if err != nil || !found {
		t.Fatalf("closed run should serve reads: found=%v err=%v", found, err)
	}
	if i, _ := got.Value.AsInt(); i != 1 {
		t.Fatalf("read = %d, want 1", i)
	}
}

func TestIdenticalSequencesProduceIdenticalState(t *testing.T) {
	apply := func(db *DB) {
		if _, err := db.Set("default", "a", value.Int(1)); err != nil {
			panic(err)
		}
		if _, err := db.Set("default", "b", value.Float(2.5)); err != nil {
			panic(err)
		}
		if _, err := db.Delete("default", "a"); err != nil {
			panic(err)
		}
		if _, err := db.Incr("default", "n", 7); err != nil {
			panic(err)
		}
	}

	db1 := openTestDB(t, t.TempDir(), strictOptions())
	defer db1.Close()
	db2 := openTestDB(t, t.TempDir(), strictOptions())
	defer db2.Close()

	apply(db1)
	apply(db2)

	pairs1 := db1.Store().ScanByRun(key.DefaultRunID, db1.CurrentVersion(), 0)
	pairs2 := db2.Store().ScanByRun(key.DefaultRunID, db2.CurrentVersion(), 0)
	if len(pairs1) != len(pairs2) {
		t.Fatalf("state sizes differ: %d vs %d", len(pairs1), len(pairs2))
	}
	for i := range pairs1 {
		p1, p2 := pairs1[i], pairs2[i]
		if string(p1.Key.User) != string(p2.Key.User) || p1.Key.Type != p2.Key.Type {
			t.Fatalf("key order differs at %d", i)
		}
		if p1.Entry.Tombstone != p2.Entry.Tombstone {
			t.Fatalf("tombstone state differs for %s", p1.Key.User)
		}
		if !p1.Entry.Tombstone && !p1.Entry.Value.Equal(p2.Entry.Value) {
			t.Fatalf("values differ for %s", p1.Key.User)
		}
		if p1.Entry.Version != p2.Entry.Version {
			t.Fatalf("versions differ for %s", p1.Key.User)
		}
	}
}

func TestInMemoryModeNeedsNoFiles(t *testing.T) {
	opts := DefaultOptions()
	opts.Durability = wal.InMemory
	db := openTestDB(t, t.TempDir(), opts)
	defer db.Close()

	if _, err := db.Set("default", "k", value.Int(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	view, err := db.ReplayRun("default")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if _, ok := view.Get(key.TypeKV, []byte("k")); !ok {
		t.Fatal("in-memory replay lost the key")
	}
}
