package engine

import (
	"time"

	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/log"
	"github.com/stratadb/stratadb/pkg/metrics"
	"github.com/stratadb/stratadb/pkg/snapshot"
	"github.com/stratadb/stratadb/pkg/wal"
)

func (db *DB) snapshotTo(path string) error {
	started := time.Now()

	var meta snapshot.Meta
	err := db.engine.BlockCommits(func() error {
		meta = snapshot.Meta{
			CreatedUs:       uint64(time.Now().UnixMicro()),
			WALOffset:       db.wal.Offset(),
			SnapshotVersion: db.engine.CurrentVersion().Value,
		}
		if err := snapshot.Write(path, db.store, meta); err != nil {
			return err
		}
		// Everything at or before the recorded offset is now redundant;
		// recovery seeks past it. Truncating to the offset also clears any
		// buffered partial tail.
		return db.wal.Truncate(meta.WALOffset)
	})
	if err != nil {
		return errs.Wrap(err, "snapshot")
	}

	if err := db.appendCheckpoint(meta); err != nil {
		return errs.Wrap(err, "snapshot: checkpoint entry")
	}

	metrics.SnapshotsTotal.Inc()
	metrics.SnapshotDuration.Observe(time.Since(started).Seconds())
	logger := log.WithComponent("snapshot")
	logger.Info().
		Str("path", path).
		Uint64("version", meta.SnapshotVersion).
		Int64("wal_offset", meta.WALOffset).
		Msg("snapshot written")
	return nil
}

// appendCheckpoint logs the Checkpoint(active_runs, snapshot_id) marker so
// a forward WAL scan can tell where a snapshot landed.
func (db *DB) appendCheckpoint(meta snapshot.Meta) error {
	var activeRuns [][]byte
	for _, info := range db.runs.List() {
		if !info.Closed {
			id := info.ID
			activeRuns = append(activeRuns, id[:])
		}
	}
	payload, err := codec.Marshal(codec.Checkpoint{
		ActiveRuns:      activeRuns,
		SnapshotID:      snapshotFileName,
		SnapshotVersion: int64(meta.SnapshotVersion),
	})
	if err != nil {
		return errs.Internal(err)
	}
	e := wal.AcquireEntry()
	e.Type = wal.EntryCheckpoint
	e.Payload = append(e.Payload, payload...)
	_, err = db.wal.Append(e)
	wal.ReleaseEntry(e)
	return err
}
