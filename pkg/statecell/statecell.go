// Package statecell is the CAS state-cell primitive: every write goes
// through compare-and-swap under structural value equality, and each
// successful swap advances the cell's own Counter version.
package statecell

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

// Store is the StateCell façade.
type Store struct {
	store  *store.Store
	limits value.Limits
}

func New(st *store.Store, limits value.Limits) *Store {
	return &Store{store: st, limits: limits}
}

func (s *Store) keyFor(ns key.Namespace, userKey string) key.Key {
	return key.New(ns, key.TypeStateMachine, []byte(userKey))
}

// CAS swaps the cell to newValue iff its current value matches expected
// under structural equality — type included, IEEE-754 float rules included.
// The absent predicate matches only a cell with no live value. A mismatch
// on value returns false; a mismatch on type is WrongType, because a caller
// comparing Int(1) against a cell holding Float(1.0) has a bug, not a race.
// A concurrent winning CAS surfaces as Conflict at commit.
func (s *Store) CAS(t *txn.Txn, ns key.Namespace, userKey string, expected wire.Expected, newValue value.Value) (bool, error) {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return false, errs.FromValidation(err)
	}
	if err := value.ValidateValue(newValue, s.limits); err != nil {
		return false, errs.FromValidation(err)
	}
	k := s.keyFor(ns, userKey)

	e, ok := t.Read(k)
	live := ok && !e.Tombstone

	var lastCounter uint64
	if ok && e.Version.Kind == version.KindCounter {
		lastCounter = e.Version.Value
	}

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

	counter := lastCounter + 1
	valBytes, err := codec.EncodeValue(newValue)
	if err != nil {
		return false, errs.Internal(err)
	}

	t.Stage(k, wal.EntryStateCas,
		func(ver version.Version, ts uint64) ([]byte, error) {
			return codec.Marshal(codec.StateCas{
				TxnID:       t.IDBytes(),
				Key:         k.Encode(),
				Counter:     int64(counter),
				Value:       valBytes,
				TimestampUs: int64(ts),
			})
		},
		func(ver version.Version, ts uint64) {
			s.store.PutAssigned(k, newValue, version.Counter(counter), ver.Value, ts, 0)
		})
	return true, nil
}

// Get returns the cell's current value at the transaction's snapshot.
func (s *Store) Get(t *txn.Txn, ns key.Namespace, userKey string) (value.Value, bool, error) {
	v, ok, err := s.GetVersioned(t, ns, userKey)
	return v.Value, ok, err
}

// GetVersioned is Get plus the cell's Counter version and timestamp.
func (s *Store) GetVersioned(t *txn.Txn, ns key.Namespace, userKey string) (version.Versioned[value.Value], bool, error) {
	if err := value.ValidateKey([]byte(userKey), s.limits); err != nil {
		return version.Versioned[value.Value]{}, false, errs.FromValidation(err)
	}
	e, ok := t.Read(s.keyFor(ns, userKey))
	if !ok || e.Tombstone {
		return version.Versioned[value.Value]{}, false, nil
	}
	return version.Versioned[value.Value]{Value: e.Value, Version: e.Version, TimestampUs: e.TimestampUs}, true, nil
}
