package vector

import (
	"math"
	"testing"

	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/wal"
)

var testNS = key.Namespace{Tenant: "acme", App: "bot", Agent: "a1", Run: key.DefaultRunID}

func newTestVectors(t *testing.T) (*Store, *txn.Engine) {
	t.Helper()
	w, err := wal.Open(wal.Options{Durability: wal.InMemory})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	st := store.New(4)
	return New(st, value.DefaultLimits()), txn.NewEngine(st, w)
}

func setupCollection(t *testing.T, vs *Store, e *txn.Engine, cfg Config) {
	t.Helper()
	tx := e.Begin(key.DefaultRunID)
	if err := vs.CreateCollection(tx, testNS, "docs", cfg); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func upsert(t *testing.T, vs *Store, e *txn.Engine, k string, vec []float32, meta value.Value) {
	t.Helper()
	tx := e.Begin(key.DefaultRunID)
	if err := vs.Upsert(tx, testNS, "docs", k, vec, meta); err != nil {
		t.Fatalf("upsert %s: %v", k, err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestCollectionShapeIsFrozen(t *testing.T) {
	vs, e := newTestVectors(t)
	setupCollection(t, vs, e, Config{Dim: 3, Metric: MetricCosine, DType: DTypeF32})

	tx := e.Begin(key.DefaultRunID)
	defer tx.Abort()
	if err := vs.CreateCollection(tx, testNS, "docs", Config{Dim: 4, Metric: MetricL2, DType: DTypeF32}); !errs.Is(err, errs.CodeConstraintViolation) {
		t.Fatalf("expected ConstraintViolation for duplicate collection, got %v", err)
	}
	if err := vs.Upsert(tx, testNS, "docs", "bad", []float32{1, 2}, value.Null()); !errs.Is(err, errs.CodeConstraintViolation) {
		t.Fatalf("expected vector_dim_mismatch, got %v", err)
	}
}

func TestUpsertGetDelete(t *testing.T) {
	vs, e := newTestVectors(t)
	setupCollection(t, vs, e, Config{Dim: 2, Metric: MetricDot, DType: DTypeF32})
	upsert(t, vs, e, "a", []float32{1, 2}, value.Object(map[string]value.Value{"tag": value.String("x")}))

	tx := e.Begin(key.DefaultRunID)
	got, found, err := vs.Get(tx, testNS, "docs", "a")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.Vector[0] != 1 || got.Vector[1] != 2 {
		t.Fatalf("vector = %v", got.Vector)
	}
	tx.Abort()

	tx = e.Begin(key.DefaultRunID)
	if err := vs.Delete(tx, testNS, "docs", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx = e.Begin(key.DefaultRunID)
	defer tx.Abort()
	if _, found, _ := vs.Get(tx, testNS, "docs", "a"); found {
		t.Fatal("deleted vector still visible")
	}
}

func TestSearchRanksAndFilters(t *testing.T) {
	vs, e := newTestVectors(t)
	setupCollection(t, vs, e, Config{Dim: 2, Metric: MetricCosine, DType: DTypeF32})
	upsert(t, vs, e, "east", []float32{1, 0}, value.Object(map[string]value.Value{"zone": value.String("a")}))
	upsert(t, vs, e, "north", []float32{0, 1}, value.Object(map[string]value.Value{"zone": value.String("a")}))
	upsert(t, vs, e, "northeast", []float32{1, 1}, value.Object(map[string]value.Value{"zone": value.String("b")}))

	tx := e.Begin(key.DefaultRunID)
	defer tx.Abort()

	matches, err := vs.Search(tx, testNS, "docs", []float32{1, 0.1}, 2, nil, Budget{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 || matches[0].Key != "east" {
		t.Fatalf("ranking wrong: %+v", matches)
	}

	filtered, err := vs.Search(tx, testNS, "docs", []float32{1, 0.1}, 5,
		map[string]value.Value{"zone": value.String("b")}, Budget{})
	if err != nil {
		t.Fatalf("filtered search: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Key != "northeast" {
		t.Fatalf("filter wrong: %+v", filtered)
	}

	bounded, err := vs.Search(tx, testNS, "docs", []float32{1, 0.1}, 5, nil, Budget{MaxCandidates: 1})
	if err != nil {
		t.Fatalf("bounded search: %v", err)
	}
	if len(bounded) != 1 {
		t.Fatalf("budget ignored: %+v", bounded)
	}
}

func TestL2RanksLowerScoresFirst(t *testing.T) {
	vs, e := newTestVectors(t)
	setupCollection(t, vs, e, Config{Dim: 1, Metric: MetricL2, DType: DTypeF32})
	upsert(t, vs, e, "near", []float32{1}, value.Null())
	upsert(t, vs, e, "far", []float32{100}, value.Null())

	tx := e.Begin(key.DefaultRunID)
	defer tx.Abort()
	matches, err := vs.Search(tx, testNS, "docs", []float32{0}, 2, nil, Budget{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if matches[0].Key != "near" {
		t.Fatalf("l2 ranking wrong: %+v", matches)
	}
}

func TestHalfPrecisionRoundTrip(t *testing.T) {
	cases := []float32{0, 1, -1, 0.5, 65504, float32(math.Inf(1))}
	for _, f := range cases {
		got := halfToFloat32(float32ToHalf(f))
		if got != f {
			t.Fatalf("f16 round trip changed %v to %v", f, got)
		}
	}
	if !math.IsNaN(float64(halfToFloat32(float32ToHalf(float32(math.NaN()))))) {
		t.Fatal("NaN should survive f16 conversion")
	}
}

func TestF16StorageQuantizes(t *testing.T) {
	vs, e := newTestVectors(t)
	setupCollection(t, vs, e, Config{Dim: 1, Metric: MetricDot, DType: DTypeF16})
	upsert(t, vs, e, "q", []float32{0.5}, value.Null())

	tx := e.Begin(key.DefaultRunID)
	defer tx.Abort()
	got, found, err := vs.Get(tx, testNS, "docs", "q")
	if err != nil || !found {
		t.Fatalf("get: %v", err)
	}
	if got.Vector[0] != 0.5 {
		t.Fatalf("0.5 is exactly representable in f16, got %v", got.Vector[0])
	}
}
