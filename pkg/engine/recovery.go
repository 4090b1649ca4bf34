package engine

import (
	"io"
	"os"

	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/jsondoc"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/log"
	"github.com/stratadb/stratadb/pkg/snapshot"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

type recoveredState struct {
	commitVersion uint64
	appliedTxns   int
}

// recover loads the newest valid snapshot, then forward-scans the WAL tail
// applying only fully committed transactions. A torn trailing transaction
// is treated as aborted and its bytes are truncated away so new appends
// start at a clean frame boundary.
func (db *DB) recover() (recoveredState, error) {
	var rs recoveredState
	if db.opts.Durability == wal.InMemory {
		return rs, nil
	}
	logger := log.WithComponent("recovery")

	startOffset := int64(0)
	snapPath := db.snapshotPath()
	if _, err := os.Stat(snapPath); err == nil {
		meta, chains, err := snapshot.Read(snapPath)
		if err != nil {
			return rs, errs.Wrap(err, "snapshot load")
		}
		for _, c := range chains {
			db.store.LoadChain(c.Key, c.Entries, c.TrimmedBelow)
		}
		rs.commitVersion = meta.SnapshotVersion
		startOffset = meta.WALOffset
		logger.Info().
			Uint64("snapshot_version", meta.SnapshotVersion).
			Int64("wal_offset", meta.WALOffset).
			Int("chains", len(chains)).
			Msg("snapshot loaded")
	}

	walPath := db.walPath()
	if _, err := os.Stat(walPath); os.IsNotExist(err) {
		db.rebuildLivePaths()
		return rs, nil
	}

	r, err := wal.NewReader(walPath)
	if err != nil {
		return rs, err
	}
	defer r.Close()

	if startOffset > fileSize(walPath) {
		// The WAL shrank below the snapshot's recorded offset — every
		// snapshot-covered entry is already applied, nothing to scan.
		db.rebuildLivePaths()
		return rs, nil
	}
	if err := r.SeekTo(startOffset); err != nil {
		return rs, err
	}

	pending := make(map[string][]*wal.WALEntry)
	lastGood := startOffset

scan:
	for {
		entry, err := r.ReadEntry()
		switch {
		case err == io.EOF:
			break scan
		case err != nil:
			if ce, ok := err.(*wal.CorruptionError); ok {
				logger.Warn().Int64("offset", ce.Offset).Err(ce.Err).Msg("wal scan halted at corruption")
				break scan
			}
			return rs, err
		}

		switch entry.Type {
		case wal.EntryBegin:
			var begin codec.Begin
			if err := codec.Unmarshal(entry.Payload, &begin); err != nil {
				return rs, err
			}
			pending[string(begin.TxnID)] = nil

		case wal.EntryCommit:
			var commit codec.Commit
			if err := codec.Unmarshal(entry.Payload, &commit); err != nil {
				return rs, err
			}
			txnKey := string(commit.TxnID)
			for _, e := range pending[txnKey] {
				if err := applyRecovered(db.store, e, uint64(commit.CommitVersion)); err != nil {
					return rs, err
				}
			}
			delete(pending, txnKey)
			if v := uint64(commit.CommitVersion); v > rs.commitVersion {
				rs.commitVersion = v
			}
			rs.appliedTxns++
			lastGood = r.Offset()

		case wal.EntryAbort:
			var abort codec.Abort
			if err := codec.Unmarshal(entry.Payload, &abort); err != nil {
				return rs, err
			}
			delete(pending, string(abort.TxnID))
			lastGood = r.Offset()

		case wal.EntryCheckpoint:
			lastGood = r.Offset()

		default:
			txnID, err := effectTxnID(entry)
			if err != nil {
				return rs, err
			}
			clone := &wal.WALEntry{Type: entry.Type, Payload: append([]byte(nil), entry.Payload...)}
			pending[txnID] = append(pending[txnID], clone)
		}
		wal.ReleaseEntry(entry)
	}

	// Entries after the last commit belong to transactions that never
	// completed; drop their bytes so the writer resumes at a clean boundary.
	if size := fileSize(walPath); lastGood < size {
		logger.Info().Int64("from", size).Int64("to", lastGood).Msg("truncating torn wal tail")
		if err := os.Truncate(walPath, lastGood); err != nil {
			return rs, err
		}
	}

	db.rebuildLivePaths()
	logger.Info().Int("applied_txns", rs.appliedTxns).Uint64("commit_version", rs.commitVersion).Msg("wal replay complete")
	return rs, nil
}

// effectTxnID pulls the txn id shared by every effect payload.
func effectTxnID(entry *wal.WALEntry) (string, error) {
	var probe struct {
		TxnID []byte `bson:"txn"`
	}
	if err := codec.Unmarshal(entry.Payload, &probe); err != nil {
		return "", err
	}
	return string(probe.TxnID), nil
}

// applyRecovered applies one committed effect entry to st — the same
// transforms the live apply closures perform, driven from the log. It is
// shared by open-time recovery and per-run replay, which target different
// stores.
func applyRecovered(st *store.Store, entry *wal.WALEntry, commitVer uint64) error {
	switch entry.Type {
	case wal.EntryPut:
		var p codec.Put
		if err := codec.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		k, err := key.Decode(p.Key)
		if err != nil {
			return err
		}
		v, err := codec.DecodeValue(p.Value)
		if err != nil {
			return err
		}
		ver, err := codec.VersionFromWire(p.VersionKind, p.Version)
		if err != nil {
			return err
		}
		st.Put(k, v, ver, uint64(p.TimestampUs), uint64(p.ExpiresAtUs))

	case wal.EntryDelete:
		var d codec.Delete
		if err := codec.Unmarshal(entry.Payload, &d); err != nil {
			return err
		}
		k, err := key.Decode(d.Key)
		if err != nil {
			return err
		}
		ver, err := codec.VersionFromWire(d.VersionKind, d.Version)
		if err != nil {
			return err
		}
		st.Delete(k, ver, uint64(d.TimestampUs))

	case wal.EntryEvent:
		var ev codec.EventAppend
		if err := codec.Unmarshal(entry.Payload, &ev); err != nil {
			return err
		}
		k, err := key.Decode(ev.Key)
		if err != nil {
			return err
		}
		payload, err := codec.DecodeValue(ev.Payload)
		if err != nil {
			return err
		}
		// Visibility follows the committing transaction; the event keeps
		// its own Sequence version.
		st.PutAssigned(k, payload, version.Sequence(uint64(ev.Seq)), commitVer, uint64(ev.TimestampUs), 0)

	case wal.EntryStateCas:
		var cas codec.StateCas
		if err := codec.Unmarshal(entry.Payload, &cas); err != nil {
			return err
		}
		k, err := key.Decode(cas.Key)
		if err != nil {
			return err
		}
		v, err := codec.DecodeValue(cas.Value)
		if err != nil {
			return err
		}
		st.PutAssigned(k, v, version.Counter(uint64(cas.Counter)), commitVer, uint64(cas.TimestampUs), 0)

	case wal.EntryVectorSet:
		var vs codec.VectorSet
		if err := codec.Unmarshal(entry.Payload, &vs); err != nil {
			return err
		}
		k, err := key.Decode(vs.Key)
		if err != nil {
			return err
		}
		record, err := codec.DecodeValue(vs.Record)
		if err != nil {
			return err
		}
		st.Put(k, record, version.Txn(commitVer), uint64(vs.TimestampUs), 0)

	case wal.EntryVectorCollectionCreate:
		var vc codec.VectorCollectionCreate
		if err := codec.Unmarshal(entry.Payload, &vc); err != nil {
			return err
		}
		k, err := key.Decode(vc.Key)
		if err != nil {
			return err
		}
		cfg, err := codec.DecodeValue(vc.Config)
		if err != nil {
			return err
		}
		st.Put(k, cfg, version.Txn(commitVer), uint64(vc.TimestampUs), 0)

	case wal.EntryJsonPatch:
		var jp codec.JsonPatch
		if err := codec.Unmarshal(entry.Payload, &jp); err != nil {
			return err
		}
		k, err := key.Decode(jp.Key)
		if err != nil {
			return err
		}
		var patchVal value.Value
		if len(jp.Value) > 0 {
			patchVal, err = codec.DecodeValue(jp.Value)
			if err != nil {
				return err
			}
		}
		base := value.Null()
		if cur, ok := st.GetLatestLocked(k); ok && !cur.Tombstone {
			base = cur.Value
		}
		doc, err := jsondoc.ApplyPatch(base, jp.Op, jp.Path, patchVal)
		if err != nil {
			return errs.Wrap(err, "replay json patch")
		}
		st.Put(k, doc, version.Txn(commitVer), uint64(jp.TimestampUs), 0)
	}
	return nil
}

// rebuildLivePaths repopulates the JSON path index from restored documents.
// Recovery is single-threaded, so the locked variants are safe to call
// directly.
func (db *DB) rebuildLivePaths() {
	for _, dump := range db.store.DumpByType(key.TypeKV) {
		if len(dump.Entries) == 0 {
			continue
		}
		head := dump.Entries[0]
		if head.Tombstone || head.Value.Kind() != value.KindObject {
			continue
		}
		db.store.SetLivePathsLocked(dump.Key, jsondoc.CollectPaths(head.Value))
	}
}
