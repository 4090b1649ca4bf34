// Package eventlog is the append-only event primitive: per-stream strictly
// increasing sequence numbers, range reads, no deletes. Each stream keeps a
// head record carrying the last assigned sequence; appends read it, so two
// concurrent appends to one stream conflict and exactly one commits —
// sequence monotonicity falls out of OCC validation, not a special lock.
package eventlog

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

// headPrefix is the reserved-key prefix of per-stream head records.
const headPrefix = "_strata/stream/"

// Store is the EventLog façade.
type Store struct {
	store  *store.Store
	limits value.Limits
}

func New(st *store.Store, limits value.Limits) *Store {
	return &Store{store: st, limits: limits}
}

func headKey(ns key.Namespace, stream string) key.Key {
	return key.New(ns, key.TypeEvent, []byte(headPrefix+stream))
}

// eventUser encodes (stream, seq) as a user key that scans in stream-then-
// sequence order: a 4-byte big-endian stream length, the stream bytes, and
// the 8-byte big-endian sequence.
func eventUser(stream string, seq uint64) []byte {
	buf := make([]byte, 0, 4+len(stream)+8)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(stream)))
	buf = append(buf, n[:]...)
	buf = append(buf, stream...)
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seq)
	return append(buf, s[:]...)
}

// streamPrefix is eventUser without the sequence suffix — the scan prefix
// covering every event of one stream.
func streamPrefix(stream string) []byte {
	buf := make([]byte, 0, 4+len(stream))
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(stream)))
	buf = append(buf, n[:]...)
	return append(buf, stream...)
}

func seqOf(user []byte) uint64 {
	return binary.BigEndian.Uint64(user[len(user)-8:])
}

// Event is one appended record.
type Event struct {
	Stream      string
	Seq         uint64
	Payload     value.Value
	TimestampUs uint64
}

// Append stages an event at the stream's next sequence and returns the
// Sequence version the event will carry once the transaction commits.
func (s *Store) Append(t *txn.Txn, ns key.Namespace, stream string, payload value.Value) (version.Version, error) {
	if err := value.ValidateKey([]byte(stream), s.limits); err != nil {
		return version.Version{}, errs.FromValidation(err)
	}
	if payload.Kind() != value.KindObject {
		return version.Version{}, errs.WrongType("object", payload.TypeName())
	}
	if err := value.ValidateValue(payload, s.limits); err != nil {
		return version.Version{}, errs.FromValidation(err)
	}

	head := headKey(ns, stream)
	var lastSeq uint64
	if e, ok := t.Read(head); ok && !e.Tombstone {
		n, isInt := e.Value.AsInt()
		if !isInt {
			return version.Version{}, errs.Internal(nil)
		}
		lastSeq = uint64(n)
	}
	seq := lastSeq + 1
	eventKey := key.New(ns, key.TypeEvent, eventUser(stream, seq))

	payloadBytes, err := codec.EncodeValue(payload)
	if err != nil {
		return version.Version{}, errs.Internal(err)
	}

	// The head record is an ordinary Txn-versioned put; the event itself
	// carries its Sequence version.
	t.Stage(head, wal.EntryPut,
		func(ver version.Version, ts uint64) ([]byte, error) {
			headVal, err := codec.EncodeValue(value.Int(int64(seq)))
			if err != nil {
				return nil, err
			}
			vk, vv := codec.VersionToWire(ver)
			return codec.Marshal(codec.Put{
				TxnID:       t.IDBytes(),
				Key:         head.Encode(),
				Value:       headVal,
				VersionKind: vk,
				Version:     vv,
				TimestampUs: int64(ts),
			})
		},
		func(ver version.Version, ts uint64) {
			s.store.Put(head, value.Int(int64(seq)), ver, ts, 0)
		})

	t.Stage(eventKey, wal.EntryEvent,
		func(ver version.Version, ts uint64) ([]byte, error) {
			return codec.Marshal(codec.EventAppend{
				TxnID:       t.IDBytes(),
				Key:         eventKey.Encode(),
				Stream:      []byte(stream),
				Seq:         int64(seq),
				Payload:     payloadBytes,
				TimestampUs: int64(ts),
			})
		},
		func(ver version.Version, ts uint64) {
			s.store.PutAssigned(eventKey, payload, version.Sequence(seq), ver.Value, ts, 0)
		})

	return version.Sequence(seq), nil
}

// Range returns the stream's events with start <= seq <= end (end 0 means
// unbounded), at the transaction's snapshot, in sequence order.
func (s *Store) Range(t *txn.Txn, ns key.Namespace, stream string, start, end uint64, limit int) ([]Event, error) {
	if err := value.ValidateKey([]byte(stream), s.limits); err != nil {
		return nil, errs.FromValidation(err)
	}
	pairs := s.store.ScanPrefix(ns, key.TypeEvent, streamPrefix(stream), t.Snapshot(), 0)
	var out []Event
	for _, p := range pairs {
		if p.Entry.Tombstone || p.Entry.Version.Kind != version.KindSequence {
			continue
		}
		seq := seqOf(p.Key.User)
		if seq < start || (end != 0 && seq > end) {
			continue
		}
		out = append(out, Event{
			Stream:      stream,
			Seq:         seq,
			Payload:     p.Entry.Value,
			TimestampUs: p.Entry.TimestampUs,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Len reports the last assigned sequence of stream at the transaction's
// snapshot — 0 for a stream that has never been appended to.
func (s *Store) Len(t *txn.Txn, ns key.Namespace, stream string) (uint64, error) {
	if err := value.ValidateKey([]byte(stream), s.limits); err != nil {
		return 0, errs.FromValidation(err)
	}
	e, ok := t.Peek(headKey(ns, stream))
	if !ok || e.Tombstone {
		return 0, nil
	}
	n, isInt := e.Value.AsInt()
	if !isInt {
		return 0, errs.Internal(nil)
	}
	return uint64(n), nil
}
