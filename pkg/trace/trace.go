// Package trace is the trace-index primitive: append-only records indexed
// by (run, type, time). Record identity is (type, per-type sequence) — the
// timestamp is metadata, so time-ranged lookups filter on it but replay
// never depends on it.
package trace

import (
	"encoding/binary"

	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

const headPrefix = "_strata/trace/"

// Store is the TraceStore façade.
type Store struct {
	store  *store.Store
	limits value.Limits
}

func New(st *store.Store, limits value.Limits) *Store {
	return &Store{store: st, limits: limits}
}

func headKey(ns key.Namespace, traceType string) key.Key {
	return key.New(ns, key.TypeTrace, []byte(headPrefix+traceType))
}

func traceUser(traceType string, seq uint64) []byte {
	buf := make([]byte, 0, 4+len(traceType)+8)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(traceType)))
	buf = append(buf, n[:]...)
	buf = append(buf, traceType...)
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seq)
	return append(buf, s[:]...)
}

func typePrefix(traceType string) []byte {
	buf := make([]byte, 0, 4+len(traceType))
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(traceType)))
	buf = append(buf, n[:]...)
	return append(buf, traceType...)
}

func seqOf(user []byte) uint64 {
	return binary.BigEndian.Uint64(user[len(user)-8:])
}

// Record is one appended trace entry.
type Record struct {
	Type        string
	Seq         uint64
	Data        value.Value
	Version     version.Version
	TimestampUs uint64
}

// Append stages a trace record of the given type. Like event appends, the
// per-type head read makes two concurrent appends of one type conflict so
// sequences stay dense and strictly increasing.
func (s *Store) Append(t *txn.Txn, ns key.Namespace, traceType string, data value.Value) (uint64, error) {
	if err := value.ValidateKey([]byte(traceType), s.limits); err != nil {
		return 0, errs.FromValidation(err)
	}
	if data.Kind() != value.KindObject {
		return 0, errs.WrongType("object", data.TypeName())
	}
	if err := value.ValidateValue(data, s.limits); err != nil {
		return 0, errs.FromValidation(err)
	}

	head := headKey(ns, traceType)
	var lastSeq uint64
	if e, ok := t.Read(head); ok && !e.Tombstone {
		n, isInt := e.Value.AsInt()
		if !isInt {
			return 0, errs.Internal(nil)
		}
		lastSeq = uint64(n)
	}
	seq := lastSeq + 1
	recKey := key.New(ns, key.TypeTrace, traceUser(traceType, seq))

	s.stagePut(t, head, value.Int(int64(seq)))
	s.stagePut(t, recKey, data)
	return seq, nil
}

func (s *Store) stagePut(t *txn.Txn, k key.Key, v value.Value) {
	t.Stage(k, wal.EntryPut,
		func(ver version.Version, ts uint64) ([]byte, error) {
			valBytes, err := codec.EncodeValue(v)
			if err != nil {
				return nil, err
			}
			vk, vv := codec.VersionToWire(ver)
			return codec.Marshal(codec.Put{
				TxnID:       t.IDBytes(),
				Key:         k.Encode(),
				Value:       valBytes,
				VersionKind: vk,
				Version:     vv,
				TimestampUs: int64(ts),
			})
		},
		func(ver version.Version, ts uint64) {
			s.store.Put(k, v, ver, ts, 0)
		})
}

// Query returns type-matching records whose timestamps fall in
// [fromUs, toUs] (zero bounds are open), in sequence order.
func (s *Store) Query(t *txn.Txn, ns key.Namespace, traceType string, fromUs, toUs uint64, limit int) ([]Record, error) {
	if err := value.ValidateKey([]byte(traceType), s.limits); err != nil {
		return nil, errs.FromValidation(err)
	}
	pairs := s.store.ScanPrefix(ns, key.TypeTrace, typePrefix(traceType), t.Snapshot(), 0)
	var out []Record
	for _, p := range pairs {
		if p.Entry.Tombstone {
			continue
		}
		if fromUs != 0 && p.Entry.TimestampUs < fromUs {
			continue
		}
		if toUs != 0 && p.Entry.TimestampUs > toUs {
			continue
		}
		out = append(out, Record{
			Type:        traceType,
			Seq:         seqOf(p.Key.User),
			Data:        p.Entry.Value,
			Version:     p.Entry.Version,
			TimestampUs: p.Entry.TimestampUs,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
