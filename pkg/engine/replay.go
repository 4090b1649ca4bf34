package engine

import (
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/snapshot"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

// RunView is the deterministically reconstructed, read-only state of one
// run: a private store populated from the snapshot and WAL, untouched by
// live writers.
type RunView struct {
	run   uuid.UUID
	asOf  version.Version
	store *store.Store
}

// Run returns the run id the view reconstructs.
func (v *RunView) Run() uuid.UUID { return v.run }

// AsOf returns the commit version the reconstruction reached.
func (v *RunView) AsOf() version.Version { return v.asOf }

// Get resolves one key in the reconstructed state.
func (v *RunView) Get(typ key.TypeTag, user []byte) (store.Entry, bool) {
	pairs := v.Pairs()
	for _, p := range pairs {
		if p.Key.Type == typ && string(p.Key.User) == string(user) {
			return p.Entry, true
		}
	}
	return store.Entry{}, false
}

// Pairs lists the run's live keys in deterministic composite-key order.
func (v *RunView) Pairs() []store.Pair {
	var out []store.Pair
	for _, p := range v.store.ScanByRun(v.run, v.asOf, 0) {
		if p.Entry.Tombstone {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ReplayRun deterministically reconstructs the named run's state from the
// durable artifacts — replay(run) = f(Snapshot, WAL, EventLog). The result
// depends only on those inputs, never on wall-clock or unrelated runs.
// Under in-memory durability (no artifacts exist) the view is rebuilt from
// the live store's version chains, which hold the same information.
func (db *DB) ReplayRun(runName string) (*RunView, error) {
	id, err := db.runs.Resolve(runName)
	if err != nil {
		return nil, err
	}

	fresh := store.New(4)
	view := &RunView{run: id, store: fresh}

	if db.opts.Durability == wal.InMemory {
		for _, k := range db.store.KeysOfRun(id) {
			entries := db.store.History(k, 0, version.Version{})
			fresh.LoadChain(k, entries, 0)
		}
		view.asOf = db.engine.CurrentVersion()
		return view, nil
	}

	// Everything committed must be on disk before the artifacts are read.
	if err := db.wal.Sync(); err != nil {
		return nil, err
	}

	maxCommit := uint64(0)
	startOffset := int64(0)
	if _, err := os.Stat(db.snapshotPath()); err == nil {
		meta, chains, err := snapshot.Read(db.snapshotPath())
		if err != nil {
			return nil, err
		}
		for _, c := range chains {
			if c.Key.Namespace.Run != id {
				continue
			}
			fresh.LoadChain(c.Key, c.Entries, c.TrimmedBelow)
		}
		maxCommit = meta.SnapshotVersion
		startOffset = meta.WALOffset
	}

	if _, err := os.Stat(db.walPath()); err == nil {
		applied, err := replayWAL(fresh, db.walPath(), startOffset, func(run uuid.UUID) bool {
			return run == id
		})
		if err != nil {
			return nil, err
		}
		if applied > maxCommit {
			maxCommit = applied
		}
	}

	view.asOf = version.Txn(maxCommit)
	return view, nil
}

// replayWAL forward-scans the WAL from startOffset, applying committed
// transactions whose effects pass the run filter. Returns the highest
// commit version applied.
func replayWAL(st *store.Store, path string, startOffset int64, keepRun func(uuid.UUID) bool) (uint64, error) {
	r, err := wal.NewReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	if startOffset > fileSize(path) {
		return 0, nil
	}
	if err := r.SeekTo(startOffset); err != nil {
		return 0, err
	}

	pending := make(map[string][]*wal.WALEntry)
	var maxCommit uint64

	for {
		entry, err := r.ReadEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*wal.CorruptionError); ok {
				break
			}
			return maxCommit, err
		}

		switch entry.Type {
		case wal.EntryBegin, wal.EntryCheckpoint:
			// nothing to buffer
		case wal.EntryCommit:
			var commit codec.Commit
			if err := codec.Unmarshal(entry.Payload, &commit); err != nil {
				return maxCommit, err
			}
			for _, e := range pending[string(commit.TxnID)] {
				if err := applyRecovered(st, e, uint64(commit.CommitVersion)); err != nil {
					return maxCommit, err
				}
			}
			delete(pending, string(commit.TxnID))
			if v := uint64(commit.CommitVersion); v > maxCommit {
				maxCommit = v
			}
		case wal.EntryAbort:
			var abort codec.Abort
			if err := codec.Unmarshal(entry.Payload, &abort); err != nil {
				return maxCommit, err
			}
			delete(pending, string(abort.TxnID))
		default:
			run, txnID, err := effectRunAndTxn(entry)
			if err != nil {
				return maxCommit, err
			}
			if !keepRun(run) {
				wal.ReleaseEntry(entry)
				continue
			}
			clone := &wal.WALEntry{Type: entry.Type, Payload: append([]byte(nil), entry.Payload...)}
			pending[txnID] = append(pending[txnID], clone)
		}
		wal.ReleaseEntry(entry)
	}
	return maxCommit, nil
}

// effectRunAndTxn pulls the run (from the composite key) and txn id every
// effect payload carries.
func effectRunAndTxn(entry *wal.WALEntry) (uuid.UUID, string, error) {
	var probe struct {
		TxnID []byte `bson:"txn"`
		Key   []byte `bson:"key"`
	}
	if err := codec.Unmarshal(entry.Payload, &probe); err != nil {
		return uuid.Nil, "", err
	}
	k, err := key.Decode(probe.Key)
	if err != nil {
		return uuid.Nil, "", err
	}
	return k.Namespace.Run, string(probe.TxnID), nil
}

// DiffKey identifies one differing key in a run diff: the type tag and
// user key (runs share a key universe once the namespace run id is
// stripped), with the terminal values on each side.
type DiffKey struct {
	Type    key.TypeTag
	UserKey string
	A       value.Value
	B       value.Value
}

// RunDiff is the structural diff of two runs' terminal states.
type RunDiff struct {
	OnlyA   []DiffKey
	OnlyB   []DiffKey
	Changed []DiffKey
}

// Empty reports whether the two runs ended structurally identical.
func (d RunDiff) Empty() bool {
	return len(d.OnlyA) == 0 && len(d.OnlyB) == 0 && len(d.Changed) == 0
}

// DiffRuns replays both runs and structurally compares their terminal
// states, keyed by (type tag, user key). Internal bookkeeping keys are
// excluded; user-visible state decides equality.
func (db *DB) DiffRuns(runA, runB string) (RunDiff, error) {
	viewA, err := db.ReplayRun(runA)
	if err != nil {
		return RunDiff{}, err
	}
	viewB, err := db.ReplayRun(runB)
	if err != nil {
		return RunDiff{}, err
	}

	type slot struct {
		typ  key.TypeTag
		user string
	}
	collect := func(v *RunView) map[slot]value.Value {
		out := make(map[slot]value.Value)
		for _, p := range v.Pairs() {
			if strings.HasPrefix(string(p.Key.User), value.ReservedPrefix) {
				continue
			}
			out[slot{p.Key.Type, string(p.Key.User)}] = p.Entry.Value
		}
		return out
	}
	a := collect(viewA)
	b := collect(viewB)

	var diff RunDiff
	for s, av := range a {
		bv, ok := b[s]
		switch {
		case !ok:
			diff.OnlyA = append(diff.OnlyA, DiffKey{Type: s.typ, UserKey: s.user, A: av})
		case !av.Equal(bv):
			diff.Changed = append(diff.Changed, DiffKey{Type: s.typ, UserKey: s.user, A: av, B: bv})
		}
	}
	for s, bv := range b {
		if _, ok := a[s]; !ok {
			diff.OnlyB = append(diff.OnlyB, DiffKey{Type: s.typ, UserKey: s.user, B: bv})
		}
	}
	sortDiff(&diff)
	return diff, nil
}

func sortDiff(d *RunDiff) {
	less := func(a, b DiffKey) bool {
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.UserKey < b.UserKey
	}
	sortKeys := func(ks []DiffKey) {
		for i := 1; i < len(ks); i++ {
			for j := i; j > 0 && less(ks[j], ks[j-1]); j-- {
				ks[j], ks[j-1] = ks[j-1], ks[j]
			}
		}
	}
	sortKeys(d.OnlyA)
	sortKeys(d.OnlyB)
	sortKeys(d.Changed)
}
