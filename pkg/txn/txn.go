package txn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/metrics"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

type state uint8

const (
	stateActive state = iota
	stateCommitted
	stateAborted
)

// readRecord is what Validate needs to recheck a read: the key and the
// version the transaction saw there (the zero Version, found=false, means
// the transaction observed no live entry at all — the absent case).
type readRecord struct {
	key     key.Key
	version version.Version
	found   bool
}

// stagedWrite is one write a transaction has queued: the WAL frame that
// must be durable before the write is visible, and the closure that applies
// it to the store once validation passes and a commit version exists. The
// payload is encoded lazily because several fields (the commit version, the
// commit timestamp) do not exist until validation has passed.
type stagedWrite struct {
	key    key.Key
	entry  wal.EntryType
	encode func(commitVer version.Version, timestampUs uint64) ([]byte, error)
	apply  func(commitVer version.Version, timestampUs uint64)
}

// Txn is one optimistic transaction: reads are served from a fixed
// snapshot, writes are staged in memory, and nothing outside this struct is
// touched until Commit validates and applies everything at once.
type Txn struct {
	mu sync.Mutex

	engine   *Engine
	id       uuid.UUID
	run      uuid.UUID
	snapshot version.Version
	state    state

	readSet   map[string]readRecord
	readPaths map[string][]string // encoded json key -> paths read
	pathKeys  map[string]key.Key  // encoded json key -> key, for both path reads and writes

	staged        []stagedWrite
	writeKeys     map[string]key.Key
	writePaths    map[string][]string // encoded json key -> paths staged for write
	pathWriteKeys map[string]bool     // keys whose staged writes are path-granular
}

// ID returns the transaction's unique id, minted at Begin.
func (t *Txn) ID() uuid.UUID { return t.id }

// IDBytes returns the transaction id as the 16-byte slice WAL payloads carry.
func (t *Txn) IDBytes() []byte { return t.id[:] }

// Run returns the run this transaction's operations are scoped to.
func (t *Txn) Run() uuid.UUID { return t.run }

// Snapshot returns the version this transaction reads as of.
func (t *Txn) Snapshot() version.Version { return t.snapshot }

// Read returns the entry visible at this transaction's snapshot and records
// it in the read set for validation at commit time.
func (t *Txn) Read(k key.Key) (store.Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.engine.store.GetAt(k, t.snapshot)
	rec := readRecord{key: k}
	if ok {
		rec.version = e.Version
		rec.found = true
	}
	t.readSet[string(k.Encode())] = rec
	return e, ok
}

// Peek reads at the snapshot without recording into the read set — for
// accessors that must not create conflict domains, like history listings.
func (t *Txn) Peek(k key.Key) (store.Entry, bool) {
	return t.engine.store.GetAt(k, t.snapshot)
}

// ReadPaths records that this transaction's logic inspected paths of the
// JSON document at jsonKey, for path-level conflict checking at commit.
func (t *Txn) ReadPaths(jsonKey key.Key, paths []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	enc := string(jsonKey.Encode())
	t.readPaths[enc] = append(t.readPaths[enc], paths...)
	t.pathKeys[enc] = jsonKey
}

// Stage queues a write. walType/encode describe the frame this write will
// be logged as at commit; apply is invoked under the destination shard's
// lock once the commit version is known.
func (t *Txn) Stage(k key.Key, walType wal.EntryType, encode func(v version.Version, ts uint64) ([]byte, error), apply func(v version.Version, ts uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged = append(t.staged, stagedWrite{key: k, entry: walType, encode: encode, apply: apply})
	t.writeKeys[string(k.Encode())] = k
}

// StageJSONWrite is Stage plus bookkeeping of which paths this write
// touches. Path-granular writes are exempt from the whole-key first-
// committer-wins check and conflict only under path containment.
func (t *Txn) StageJSONWrite(jsonKey key.Key, touchedPaths []string, walType wal.EntryType, encode func(v version.Version, ts uint64) ([]byte, error), apply func(v version.Version, ts uint64)) {
	t.Stage(jsonKey, walType, encode, apply)
	t.mu.Lock()
	defer t.mu.Unlock()
	enc := string(jsonKey.Encode())
	t.writePaths[enc] = append(t.writePaths[enc], touchedPaths...)
	t.pathWriteKeys[enc] = true
	t.pathKeys[enc] = jsonKey
}

// HasWrites reports whether any write has been staged.
func (t *Txn) HasWrites() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.staged) > 0
}

// Abort discards every staged write without touching the store. If the
// transaction had staged writes and a WAL is attached, an AbortTxn entry is
// appended for audit.
func (t *Txn) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateActive {
		return nil
	}
	t.state = stateAborted
	t.engine.registry.unregister(t)
	metrics.AbortsTotal.Inc()

	if len(t.staged) > 0 && t.engine.wal != nil {
		payload, err := codec.Marshal(codec.Abort{TxnID: t.id[:]})
		if err != nil {
			return errs.Internal(err)
		}
		e := wal.AcquireEntry()
		e.Type = wal.EntryAbort
		e.Payload = append(e.Payload, payload...)
		_, err = t.engine.wal.Append(e)
		wal.ReleaseEntry(e)
		if err != nil {
			return errs.Wrap(err, "abort audit entry")
		}
	}
	return nil
}

// Commit validates the transaction's read set against current store state
// and, if nothing it read has changed, durably logs and applies every
// staged write under a single fixed-order shard lock acquisition.
func (t *Txn) Commit() (version.Version, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateActive {
		return version.Version{}, errs.Internal(nil)
	}

	if len(t.staged) > 0 && t.engine.runGate != nil {
		if err := t.engine.runGate(t.run); err != nil {
			t.state = stateAborted
			t.engine.registry.unregister(t)
			return version.Version{}, err
		}
	}

	touched := make([]key.Key, 0, len(t.readSet)+len(t.writeKeys))
	for _, rec := range t.readSet {
		touched = append(touched, rec.key)
	}
	for _, k := range t.writeKeys {
		touched = append(touched, k)
	}

	t.engine.commitGate.RLock()
	defer t.engine.commitGate.RUnlock()

	var commitVer version.Version
	err := t.engine.store.WithShardLocks(touched, func() error {
		if conflict := t.validateLocked(); conflict != nil {
			return conflict
		}

		// A read-only transaction validates but neither logs nor mints a
		// commit version; its "commit version" is the snapshot it read at.
		if len(t.staged) == 0 {
			commitVer = t.snapshot
			return nil
		}

		commitVer = t.engine.versions.next()
		ts := t.engine.clock.NowMicros()

		if err := t.writeWALLocked(commitVer, ts); err != nil {
			return err
		}

		for _, sw := range t.staged {
			sw.apply(commitVer, ts)
		}

		for enc, paths := range t.writePaths {
			t.engine.jsonLog.record(enc, commitVer, paths)
		}

		return nil
	})

	if err != nil {
		t.state = stateAborted
		t.engine.registry.unregister(t)
		if errs.Is(err, errs.CodeConflict) {
			metrics.ConflictsTotal.Inc()
		}
		return version.Version{}, err
	}

	t.state = stateCommitted
	t.engine.registry.unregister(t)
	metrics.CommitsTotal.Inc()

	if floor, ok := t.engine.registry.MinActiveVersion(); ok {
		t.engine.jsonLog.prune(floor)
	}

	return commitVer, nil
}

// validateLocked re-checks every read this transaction made against the
// store's current state, then applies first-committer-wins to the write
// set. Must run while every touched shard's lock is held.
func (t *Txn) validateLocked() error {
	for _, rec := range t.readSet {
		latest, ok := t.engine.store.GetLatestLocked(rec.key)
		switch {
		case rec.found && !ok:
			return errs.Conflict(rec.version, nil)
		case !rec.found && ok:
			return errs.Conflict(nil, latest.Version)
		case rec.found && ok && latest.Version.Compare(rec.version) != 0:
			return errs.Conflict(rec.version, latest.Version)
		}
	}

	// A key this transaction writes whole must not have grown a new commit
	// since the snapshot, or one of two overlapping writers would silently
	// lose its update. Path-granular JSON writes are exempt here and
	// checked below at path granularity.
	for enc, k := range t.writeKeys {
		if t.pathWriteKeys[enc] {
			continue
		}
		latest, ok := t.engine.store.GetLatestLocked(k)
		if ok && latest.CommitValue > t.snapshot.Value {
			return errs.Conflict(t.snapshot, latest.Version)
		}
	}

	// Path reads conflict with committed path writes under containment, and
	// with any whole-key commit the path log has no record of.
	for enc, paths := range t.readPaths {
		if t.engine.jsonLog.conflictsSince(enc, t.snapshot, paths) {
			return errs.Conflict(paths, enc)
		}
		k := t.pathKeys[enc]
		chainCommits := t.engine.store.CountCommitsSinceLocked(k, t.snapshot)
		if chainCommits > t.engine.jsonLog.countSince(enc, t.snapshot) {
			return errs.Conflict(paths, "whole-document overwrite")
		}
	}

	// Path-granular writes conflict with committed path writes under
	// containment, and with any whole-key commit the path log has no record
	// of (a scalar overwrite of the document conflicts with every path op).
	for enc, paths := range t.writePaths {
		if t.engine.jsonLog.conflictsSince(enc, t.snapshot, paths) {
			return errs.Conflict(paths, enc)
		}
		k := t.writeKeys[enc]
		chainCommits := t.engine.store.CountCommitsSinceLocked(k, t.snapshot)
		if chainCommits > t.engine.jsonLog.countSince(enc, t.snapshot) {
			return errs.Conflict(paths, "whole-document overwrite")
		}
	}

	return nil
}

func (t *Txn) writeWALLocked(commitVer version.Version, timestampUs uint64) error {
	if t.engine.wal == nil || len(t.staged) == 0 {
		return nil
	}

	beginPayload, err := codec.Marshal(codec.Begin{TxnID: t.id[:], Run: t.run[:]})
	if err != nil {
		return errs.Internal(err)
	}
	if err := t.appendWAL(wal.EntryBegin, beginPayload); err != nil {
		return err
	}

	for _, sw := range t.staged {
		var payload []byte
		if sw.encode != nil {
			payload, err = sw.encode(commitVer, timestampUs)
			if err != nil {
				return errs.Internal(err)
			}
		}
		if err := t.appendWAL(sw.entry, payload); err != nil {
			return err
		}
	}

	commitPayload, err := codec.Marshal(codec.Commit{TxnID: t.id[:], CommitVersion: int64(commitVer.Value)})
	if err != nil {
		return errs.Internal(err)
	}
	return t.appendWAL(wal.EntryCommit, commitPayload)
}

func (t *Txn) appendWAL(typ wal.EntryType, payload []byte) error {
	e := wal.AcquireEntry()
	e.Type = typ
	e.Payload = append(e.Payload, payload...)
	_, err := t.engine.wal.Append(e)
	wal.ReleaseEntry(e)
	return err
}
