// Package vector is the vector-store primitive: named collections with a
// dimension, metric, and storage dtype fixed at creation, per-key upserts,
// and budget-bounded brute-force similarity search.
package vector

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/metrics"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

const collectionPrefix = "_strata/collection/"

// Store is the VectorStore façade.
type Store struct {
	store  *store.Store
	limits value.Limits
}

func New(st *store.Store, limits value.Limits) *Store {
	return &Store{store: st, limits: limits}
}

// Config is a collection's frozen shape.
type Config struct {
	Dim    int
	Metric Metric
	DType  DType
}

func configKey(ns key.Namespace, collection string) key.Key {
	return key.New(ns, key.TypeVector, []byte(collectionPrefix+collection))
}

func vecUser(collection, userKey string) []byte {
	buf := make([]byte, 0, 4+len(collection)+len(userKey))
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(collection)))
	buf = append(buf, n[:]...)
	buf = append(buf, collection...)
	return append(buf, userKey...)
}

func collectionScanPrefix(collection string) []byte {
	buf := make([]byte, 0, 4+len(collection))
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(collection)))
	buf = append(buf, n[:]...)
	return append(buf, collection...)
}

func configToValue(cfg Config) value.Value {
	return value.Object(map[string]value.Value{
		"dim":    value.Int(int64(cfg.Dim)),
		"metric": value.String(string(cfg.Metric)),
		"dtype":  value.String(string(cfg.DType)),
	})
}

func configFromValue(v value.Value) (Config, bool) {
	obj, ok := v.AsObject()
	if !ok {
		return Config{}, false
	}
	dim, ok1 := obj["dim"].AsInt()
	metric, ok2 := obj["metric"].AsString()
	dtype, ok3 := obj["dtype"].AsString()
	if !ok1 || !ok2 || !ok3 {
		return Config{}, false
	}
	return Config{Dim: int(dim), Metric: Metric(metric), DType: DType(dtype)}, true
}

// CreateCollection stages a new collection. Dimension, metric, and storage
// dtype are frozen for the collection's lifetime.
func (s *Store) CreateCollection(t *txn.Txn, ns key.Namespace, collection string, cfg Config) error {
	if err := value.ValidateKey([]byte(collection), s.limits); err != nil {
		return errs.FromValidation(err)
	}
	if cfg.Dim <= 0 || cfg.Dim > s.limits.MaxVectorDim {
		return errs.ConstraintViolation("vector_dim_exceeded")
	}
	if !cfg.Metric.valid() || !cfg.DType.valid() {
		return errs.ConstraintViolation("vector_config_invalid")
	}
	k := configKey(ns, collection)
	if e, ok := t.Read(k); ok && !e.Tombstone {
		return errs.ConstraintViolation("collection_exists")
	}
	cfgValue := configToValue(cfg)
	cfgBytes, err := codec.EncodeValue(cfgValue)
	if err != nil {
		return errs.Internal(err)
	}

	t.Stage(k, wal.EntryVectorCollectionCreate,
		func(ver version.Version, ts uint64) ([]byte, error) {
			return codec.Marshal(codec.VectorCollectionCreate{
				TxnID:       t.IDBytes(),
				Key:         k.Encode(),
				Config:      cfgBytes,
				TimestampUs: int64(ts),
			})
		},
		func(ver version.Version, ts uint64) {
			s.store.Put(k, cfgValue, ver, ts, 0)
		})
	return nil
}

// GetCollection returns a collection's config.
func (s *Store) GetCollection(t *txn.Txn, ns key.Namespace, collection string) (Config, error) {
	if err := value.ValidateKey([]byte(collection), s.limits); err != nil {
		return Config{}, errs.FromValidation(err)
	}
	e, ok := t.Read(configKey(ns, collection))
	if !ok || e.Tombstone {
		return Config{}, errs.NotFound(collection)
	}
	cfg, ok := configFromValue(e.Value)
	if !ok {
		return Config{}, errs.Internal(nil)
	}
	return cfg, nil
}

// Upsert stages vec (with optional metadata, which must be an Object or
// Null) under userKey. The vector's dimension must equal the collection's.
func (s *Store) Upsert(t *txn.Txn, ns key.Namespace, collection, userKey string, vec []float32, meta value.Value) error {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return errs.FromValidation(err)
	}
	if meta.Kind() != value.KindNull && meta.Kind() != value.KindObject {
		return errs.WrongType("object", meta.TypeName())
	}
	if err := value.ValidateValue(meta, s.limits); err != nil {
		return errs.FromValidation(err)
	}
	if len(vec) > s.limits.MaxVectorDim {
		return errs.ConstraintViolation("vector_dim_exceeded")
	}
	cfg, err := s.GetCollection(t, ns, collection)
	if err != nil {
		return err
	}
	if len(vec) != cfg.Dim {
		return errs.ConstraintViolation("vector_dim_mismatch")
	}

	record := value.Object(map[string]value.Value{
		"vec":  value.Bytes(encodeVector(vec, cfg.DType)),
		"meta": meta,
	})
	recBytes, err := codec.EncodeValue(record)
	if err != nil {
		return errs.Internal(err)
	}
	k := key.New(ns, key.TypeVector, vecUser(collection, userKey))

	t.Stage(k, wal.EntryVectorSet,
		func(ver version.Version, ts uint64) ([]byte, error) {
			return codec.Marshal(codec.VectorSet{
				TxnID:       t.IDBytes(),
				Key:         k.Encode(),
				Record:      recBytes,
				TimestampUs: int64(ts),
			})
		},
		func(ver version.Version, ts uint64) {
			s.store.Put(k, record, ver, ts, 0)
		})
	return nil
}

// Entry is one stored vector.
type Entry struct {
	Key         string
	Vector      []float32
	Meta        value.Value
	Version     version.Version
	TimestampUs uint64
}

// Get returns the vector stored under userKey.
func (s *Store) Get(t *txn.Txn, ns key.Namespace, collection, userKey string) (Entry, bool, error) {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return Entry{}, false, errs.FromValidation(err)
	}
	cfg, err := s.GetCollection(t, ns, collection)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := t.Read(key.New(ns, key.TypeVector, vecUser(collection, userKey)))
	if !ok || e.Tombstone {
		return Entry{}, false, nil
	}
	ent, ok := decodeRecord(userKey, e, cfg)
	if !ok {
		return Entry{}, false, errs.Internal(nil)
	}
	return ent, true, nil
}

// Delete stages a tombstone for userKey's vector.
func (s *Store) Delete(t *txn.Txn, ns key.Namespace, collection, userKey string) error {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return errs.FromValidation(err)
	}
	if _, err := s.GetCollection(t, ns, collection); err != nil {
		return err
	}
	k := key.New(ns, key.TypeVector, vecUser(collection, userKey))

	t.Stage(k, wal.EntryDelete,
		func(ver version.Version, ts uint64) ([]byte, error) {
			vk, vv := codec.VersionToWire(ver)
			return codec.Marshal(codec.Delete{
				TxnID:       t.IDBytes(),
				Key:         k.Encode(),
				VersionKind: vk,
				Version:     vv,
				TimestampUs: int64(ts),
			})
		},
		func(ver version.Version, ts uint64) {
			s.store.Delete(k, ver, ts)
		})
	return nil
}

func decodeRecord(userKey string, e store.Entry, cfg Config) (Entry, bool) {
	obj, ok := e.Value.AsObject()
	if !ok {
		return Entry{}, false
	}
	raw, ok := obj["vec"].AsBytes()
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Key:         userKey,
		Vector:      decodeVector(raw, cfg.DType),
		Meta:        obj["meta"],
		Version:     e.Version,
		TimestampUs: e.TimestampUs,
	}, true
}

// Budget bounds a search: stop after MaxCandidates vectors have been
// scored or MaxDuration has elapsed, whichever comes first. Zero fields
// are unbounded.
type Budget struct {
	MaxCandidates int
	MaxDuration   time.Duration
}

// Match is one search result.
type Match struct {
	Key   string
	Score float64
	Meta  value.Value
}

// Search scores every live vector in the collection against query under
// the collection's metric, bounded by budget, and returns the top k. A
// non-nil filter keeps only vectors whose metadata contains every
// filter field with a structurally equal value.
func (s *Store) Search(t *txn.Txn, ns key.Namespace, collection string, query []float32, k int, filter map[string]value.Value, budget Budget) ([]Match, error) {
	started := time.Now()
	defer func() {
		metrics.VectorSearchDuration.Observe(time.Since(started).Seconds())
	}()

	cfg, err := s.GetCollection(t, ns, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != cfg.Dim {
		return nil, errs.ConstraintViolation("vector_dim_mismatch")
	}
	if k <= 0 {
		return nil, nil
	}

	pairs := s.store.ScanPrefix(ns, key.TypeVector, collectionScanPrefix(collection), t.Snapshot(), 0)

	var matches []Match
	scanned := 0
	for _, p := range pairs {
		if p.Entry.Tombstone {
			continue
		}
		if budget.MaxCandidates > 0 && scanned >= budget.MaxCandidates {
			break
		}
		if budget.MaxDuration > 0 && time.Since(started) > budget.MaxDuration {
			break
		}
		userKey := string(p.Key.User[4+len(collection):])
		ent, ok := decodeRecord(userKey, p.Entry, cfg)
		if !ok {
			continue
		}
		if !metaMatches(ent.Meta, filter) {
			continue
		}
		scanned++
		matches = append(matches, Match{
			Key:   ent.Key,
			Score: cfg.Metric.score(query, ent.Vector),
			Meta:  ent.Meta,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if cfg.Metric.higherIsBetter() {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Score < matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func metaMatches(meta value.Value, filter map[string]value.Value) bool {
	if len(filter) == 0 {
		return true
	}
	obj, ok := meta.AsObject()
	if !ok {
		return false
	}
	for f, want := range filter {
		got, ok := obj[f]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}
