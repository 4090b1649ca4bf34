package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
)

var testNS = key.Namespace{Tenant: "acme", App: "bot", Agent: "a1", Run: key.DefaultRunID}

func populate(st *store.Store) {
	st.Put(key.New(testNS, key.TypeKV, []byte("a")), value.Int(1), version.Txn(1), 10, 0)
	st.Put(key.New(testNS, key.TypeKV, []byte("a")), value.Int(2), version.Txn(2), 20, 0)
	st.Delete(key.New(testNS, key.TypeKV, []byte("b")), version.Txn(3), 30)
	st.PutAssigned(key.New(testNS, key.TypeEvent, []byte("e1")), value.Object(map[string]value.Value{"x": value.Int(1)}), version.Sequence(1), 4, 40, 0)
	st.Put(key.New(testNS, key.TypeVector, []byte("v1")), value.Object(map[string]value.Value{"vec": value.Bytes([]byte{0, 0, 128, 63})}), version.Txn(5), 50, 0)
}

func TestWriteReadRoundTrip(t *testing.T) {
	st := store.New(4)
	populate(st)

	path := filepath.Join(t.TempDir(), "snapshot.strata")
	meta := Meta{CreatedUs: 123, WALOffset: 456, SnapshotVersion: 5}
	if err := Write(path, st, meta); err != nil {
		t.Fatalf("write: %v", err)
	}

	gotMeta, chains, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if gotMeta != meta {
		t.Fatalf("meta changed: %+v", gotMeta)
	}

	restored := store.New(4)
	for _, c := range chains {
		restored.LoadChain(c.Key, c.Entries, c.TrimmedBelow)
	}

	e, ok := restored.GetLatest(key.New(testNS, key.TypeKV, []byte("a")))
	if !ok {
		t.Fatal("key a missing after restore")
	}
	if i, _ := e.Value.AsInt(); i != 2 {
		t.Fatalf("a = %d, want 2", i)
	}
	old, ok := restored.GetAt(key.New(testNS, key.TypeKV, []byte("a")), version.Txn(1))
	if !ok {
		t.Fatal("history lost in snapshot")
	}
	if i, _ := old.Value.AsInt(); i != 1 {
		t.Fatalf("a@1 = %d, want 1", i)
	}

	tomb, ok := restored.GetLatest(key.New(testNS, key.TypeKV, []byte("b")))
	if !ok || !tomb.Tombstone {
		t.Fatal("tombstone lost in snapshot")
	}

	ev, ok := restored.GetLatest(key.New(testNS, key.TypeEvent, []byte("e1")))
	if !ok || ev.Version.Kind != version.KindSequence || ev.CommitValue != 4 {
		t.Fatalf("event entry mangled: %+v", ev)
	}
}

func TestCorruptedFileIsRejected(t *testing.T) {
	st := store.New(4)
	populate(st)

	path := filepath.Join(t.TempDir(), "snapshot.strata")
	if err := Write(path, st, Meta{SnapshotVersion: 5}); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	buf[len(buf)/2] ^= 0xff
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, _, err := Read(path); err == nil {
		t.Fatal("expected a checksum error for a corrupted snapshot")
	}
}

func TestTruncatedFileIsRejected(t *testing.T) {
	st := store.New(4)
	populate(st)

	path := filepath.Join(t.TempDir(), "snapshot.strata")
	if err := Write(path, st, Meta{SnapshotVersion: 5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, _ := os.Stat(path)
	if err := os.Truncate(path, info.Size()/2); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, _, err := Read(path); err == nil {
		t.Fatal("expected an error for a truncated snapshot")
	}
}

func TestVectorRegionUsesKindSeven(t *testing.T) {
	if regionKind(key.TypeVector) != 7 {
		t.Fatalf("vector region kind = %d, want 7", regionKind(key.TypeVector))
	}
	tag, ok := typeTagOf(7)
	if !ok || tag != key.TypeVector {
		t.Fatalf("kind 7 maps to %v", tag)
	}
	if _, ok := typeTagOf(5); ok {
		t.Fatal("raw tag 5 must not be a valid region kind")
	}
}
