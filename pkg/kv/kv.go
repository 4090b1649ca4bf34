// Package kv is the key/value primitive: a stateless façade over the
// unified store. Every method takes an explicit namespace and transaction;
// the façade holds no state of its own beyond the store reference and the
// configured limits, which it re-checks on every ingress even when a layer
// above already validated.
package kv

import (
	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
	"github.com/stratadb/stratadb/pkg/wire"
)

// Store is the KV façade.
type Store struct {
	store  *store.Store
	limits value.Limits
}

func New(st *store.Store, limits value.Limits) *Store {
	return &Store{store: st, limits: limits}
}

func (s *Store) keyFor(ns key.Namespace, userKey string) key.Key {
	return key.New(ns, key.TypeKV, []byte(userKey))
}

func (s *Store) validate(userKey string, v value.Value) error {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return errs.FromValidation(err)
	}
	if err := value.ValidateValue(v, s.limits); err != nil {
		return errs.FromValidation(err)
	}
	if value.EncodedSizeEstimate(v) > s.limits.MaxEncodedValue {
		return errs.ConstraintViolation(string(value.ViolationValueTooLarge))
	}
	return nil
}

// Put stages a latest-wins overwrite of userKey.
func (s *Store) Put(t *txn.Txn, ns key.Namespace, userKey string, v value.Value) error {
	return s.put(t, ns, userKey, v, 0)
}

// PutTTL is Put with a per-value expiry timestamp (microseconds since
// epoch); the TTL worker deletes the value once the expiry passes.
func (s *Store) PutTTL(t *txn.Txn, ns key.Namespace, userKey string, v value.Value, expiresAtUs uint64) error {
	return s.put(t, ns, userKey, v, expiresAtUs)
}

func (s *Store) put(t *txn.Txn, ns key.Namespace, userKey string, v value.Value, expiresAtUs uint64) error {
	if err := s.validate(userKey, v); err != nil {
		return err
	}
	k := s.keyFor(ns, userKey)

	valBytes, err := codec.EncodeValue(v)
	if err != nil {
		return errs.Internal(err)
	}

	t.Stage(k, wal.EntryPut,
		func(ver version.Version, ts uint64) ([]byte, error) {
			vk, vv := codec.VersionToWire(ver)
			return codec.Marshal(codec.Put{
				TxnID:       t.IDBytes(),
				Key:         k.Encode(),
				Value:       valBytes,
				VersionKind: vk,
				Version:     vv,
				TimestampUs: int64(ts),
				ExpiresAtUs: int64(expiresAtUs),
			})
		},
		func(ver version.Version, ts uint64) {
			s.store.Put(k, v, ver, ts, expiresAtUs)
		})
	return nil
}

// Get returns the value visible at the transaction's snapshot. A tombstone
// or an absent key both report found=false.
func (s *Store) Get(t *txn.Txn, ns key.Namespace, userKey string) (version.Versioned[value.Value], bool, error) {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return version.Versioned[value.Value]{}, false, errs.FromValidation(err)
	}
	k := s.keyFor(ns, userKey)
	e, ok := t.Read(k)
	if !ok || e.Tombstone {
		return version.Versioned[value.Value]{}, false, nil
	}
	return version.Versioned[value.Value]{Value: e.Value, Version: e.Version, TimestampUs: e.TimestampUs}, true, nil
}

// GetAt returns the newest version of userKey at or below ver. Asking for
// history below the retention floor fails with HistoryTrimmed.
func (s *Store) GetAt(t *txn.Txn, ns key.Namespace, userKey string, ver version.Version) (version.Versioned[value.Value], error) {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return version.Versioned[value.Value]{}, errs.FromValidation(err)
	}
	k := s.keyFor(ns, userKey)
	e, ok := s.store.GetAt(k, ver)
	if !ok || e.Tombstone {
		if earliest, trimmed, exists := s.store.TrimInfo(k); exists && trimmed && ver.Value < earliest.Value {
			return version.Versioned[value.Value]{}, errs.HistoryTrimmed(ver.Value, earliest.Value)
		}
		return version.Versioned[value.Value]{}, errs.NotFound(userKey)
	}
	return version.Versioned[value.Value]{Value: e.Value, Version: e.Version, TimestampUs: e.TimestampUs}, nil
}

// Delete stages a tombstone for userKey. Prior versions remain addressable
// via GetAt until retention trims them.
func (s *Store) Delete(t *txn.Txn, ns key.Namespace, userKey string) error {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return errs.FromValidation(err)
	}
	k := s.keyFor(ns, userKey)

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

// History lists userKey's versions newest-first, without recording a read —
// a history listing is an audit view, not a conflict domain.
func (s *Store) History(t *txn.Txn, ns key.Namespace, userKey string, limit int, before version.Version) ([]version.Versioned[value.Value], error) {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return nil, errs.FromValidation(err)
	}
	k := s.keyFor(ns, userKey)
	entries := s.store.History(k, limit, before)
	out := make([]version.Versioned[value.Value], 0, len(entries))
	for _, e := range entries {
		if e.Tombstone {
			continue
		}
		out = append(out, version.Versioned[value.Value]{Value: e.Value, Version: e.Version, TimestampUs: e.TimestampUs})
	}
	return out, nil
}

// CASByVersion stages an overwrite that only commits if the key's current
// version equals expected at validation time.
func (s *Store) CASByVersion(t *txn.Txn, ns key.Namespace, userKey string, expected version.Version, v value.Value) error {
	if err := s.validate(userKey, v); err != nil {
		return err
	}
	k := s.keyFor(ns, userKey)
	e, ok := t.Read(k)
	if !ok || e.Tombstone {
		return errs.Conflict(expected, nil)
	}
	if e.Version.Kind != expected.Kind || e.Version.Value != expected.Value {
		return errs.Conflict(expected, e.Version)
	}
	return s.put(t, ns, userKey, v, 0)
}

// CASByValue swaps userKey to v only if the current value structurally
// equals expected (type included: comparing against a value of a different
// kind is WrongType, not a failed swap). The absent predicate succeeds only
// when no live value exists. Returns whether the swap was staged.
func (s *Store) CASByValue(t *txn.Txn, ns key.Namespace, userKey string, expected wire.Expected, v value.Value) (bool, error) {
	if err := s.validate(userKey, v); err != nil {
		return false, err
	}
	k := s.keyFor(ns, userKey)
	e, ok := t.Read(k)
	live := ok && !e.Tombstone

	if expected.IsAbsent() {
		if live {
			return false, nil
		}
	} else {
		want, _ := expected.Value()
		if !live {
			return false, nil
		}
		if e.Value.Kind() != want.Kind() {
			return false, errs.WrongType(want.TypeName(), e.Value.TypeName())
		}
		if !e.Value.Equal(want) {
			return false, nil
		}
	}
	if err := s.put(t, ns, userKey, v, 0); err != nil {
		return false, err
	}
	return true, nil
}

// Incr atomically adds delta to the integer at userKey inside the caller's
// transaction — one staged read-modify-write, not a retry loop. An absent
// key starts at zero; a non-Int value is WrongType; signed overflow is a
// hard Overflow failure, not wraparound.
func (s *Store) Incr(t *txn.Txn, ns key.Namespace, userKey string, delta int64) (int64, error) {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return 0, errs.FromValidation(err)
	}
	k := s.keyFor(ns, userKey)
	e, ok := t.Read(k)

	var cur int64
	if ok && !e.Tombstone {
		i, isInt := e.Value.AsInt()
		if !isInt {
			return 0, errs.WrongType("int", e.Value.TypeName())
		}
		cur = i
	}

	next, overflow := addChecked(cur, delta)
	if overflow {
		return 0, errs.Overflow("incr")
	}
	if err := s.put(t, ns, userKey, value.Int(next), 0); err != nil {
		return 0, err
	}
	return next, nil
}

func addChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, true
	}
	return sum, false
}

// Scan returns the live keys under userPrefix at the transaction's
// snapshot, in deterministic composite-key order.
func (s *Store) Scan(t *txn.Txn, ns key.Namespace, userPrefix string, limit int) ([]version.Versioned[value.Value], []string, error) {
	pairs := s.store.ScanPrefix(ns, key.TypeKV, []byte(userPrefix), t.Snapshot(), 0)
	var vals []version.Versioned[value.Value]
	var keys []string
	for _, p := range pairs {
		if p.Entry.Tombstone {
			continue
		}
		vals = append(vals, version.Versioned[value.Value]{Value: p.Entry.Value, Version: p.Entry.Version, TimestampUs: p.Entry.TimestampUs})
		keys = append(keys, string(p.Key.User))
		if limit > 0 && len(vals) >= limit {
			break
		}
	}
	return vals, keys, nil
}
