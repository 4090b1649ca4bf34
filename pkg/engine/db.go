// Package engine assembles the core: one DB owns the WAL writer, the
// unified store, the transaction engine, the snapshot engine, the
// retention/TTL worker, and the seven primitive façades, with a single
// Open/Close lifecycle. Ownership is strictly one-directional — the DB
// owns everything, transactions hold only a snapshot handle, and nothing
// points back up.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/eventlog"
	"github.com/stratadb/stratadb/pkg/jsondoc"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/kv"
	"github.com/stratadb/stratadb/pkg/log"
	"github.com/stratadb/stratadb/pkg/retention"
	"github.com/stratadb/stratadb/pkg/runs"
	"github.com/stratadb/stratadb/pkg/statecell"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/trace"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/vector"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
	"github.com/stratadb/stratadb/pkg/wire"
)

const (
	walFileName      = "wal.log"
	snapshotFileName = "snapshot.strata"
)

// DB is one open StrataDB instance.
type DB struct {
	dir  string
	opts Options

	store  *store.Store
	wal    *wal.Writer
	engine *txn.Engine
	runs   *runs.Index

	kv        *kv.Store
	jsondoc   *jsondoc.Store
	eventlog  *eventlog.Store
	statecell *statecell.Store
	trace     *trace.Store
	vector    *vector.Store

	retention *retention.Worker

	closed bool
}

// Open recovers (snapshot plus WAL tail) and starts the database at dir.
// In-memory durability uses no files at all; dir may then be empty.
func Open(dir string, opts Options) (*DB, error) {
	opts = opts.normalize()
	logger := log.WithComponent("engine")

	db := &DB{
		dir:   dir,
		opts:  opts,
		store: store.New(opts.ShardCount),
	}

	recovered, err := db.recover()
	if err != nil {
		return nil, errs.Wrap(err, "open: recover")
	}

	w, err := wal.Open(wal.Options{
		DirPath:             dir,
		Durability:          opts.Durability,
		BufferedBatchWrites: opts.BufferedBatchWrites,
		BufferedInterval:    opts.BufferedInterval,
	})
	if err != nil {
		return nil, errs.Wrap(err, "open: wal")
	}
	db.wal = w

	db.engine = txn.NewEngine(db.store, db.wal)
	db.engine.AdvanceCommitVersion(recovered.commitVersion)

	base := key.Namespace{Tenant: opts.Tenant, App: opts.App, Agent: opts.Agent}
	db.runs = runs.New(db.store, opts.Limits, base)
	db.runs.Rebuild(version.Txn(recovered.commitVersion))
	db.engine.SetRunGate(db.runs.Gate)

	db.kv = kv.New(db.store, opts.Limits)
	db.jsondoc = jsondoc.New(db.store, opts.Limits)
	db.eventlog = eventlog.New(db.store, opts.Limits)
	db.statecell = statecell.New(db.store, opts.Limits)
	db.trace = trace.New(db.store, opts.Limits)
	db.vector = vector.New(db.store, opts.Limits)

	db.retention = retention.NewWorker(retention.Config{
		Store:         db.store,
		Registry:      db.engine.Registry(),
		Interval:      opts.RetentionInterval,
		PolicyFor:     db.policyFor,
		DeleteExpired: db.deleteExpired,
	})
	db.retention.Start()

	logger.Info().
		Str("dir", dir).
		Uint64("commit_version", recovered.commitVersion).
		Int("replayed_txns", recovered.appliedTxns).
		Msg("database open")
	return db, nil
}

// Close stops the background workers and flushes and closes the WAL.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	db.retention.Stop()
	if err := db.wal.Close(); err != nil {
		return errs.Wrap(err, "close: wal")
	}
	logger := log.WithComponent("engine")
	logger.Info().Str("dir", db.dir).Msg("database closed")
	return nil
}

// Begin opens a transaction scoped to the named run.
func (db *DB) Begin(run string) (*txn.Txn, key.Namespace, error) {
	ns, err := db.runs.NamespaceFor(run)
	if err != nil {
		return nil, key.Namespace{}, err
	}
	return db.engine.Begin(ns.Run), ns, nil
}

// Primitive façades.
func (db *DB) KV() *kv.Store               { return db.kv }
func (db *DB) JSON() *jsondoc.Store        { return db.jsondoc }
func (db *DB) Events() *eventlog.Store     { return db.eventlog }
func (db *DB) State() *statecell.Store     { return db.statecell }
func (db *DB) Traces() *trace.Store        { return db.trace }
func (db *DB) Vectors() *vector.Store      { return db.vector }
func (db *DB) Runs() *runs.Index           { return db.runs }
func (db *DB) Engine() *txn.Engine         { return db.engine }
func (db *DB) Store() *store.Store         { return db.store }
func (db *DB) CurrentVersion() version.Version { return db.engine.CurrentVersion() }

// Update runs fn inside a fresh transaction on the named run and commits —
// the auto-commit path every single-call façade operation desugars to.
// There is no faster path that skips WAL or validation.
func (db *DB) Update(run string, fn func(t *txn.Txn, ns key.Namespace) error) (version.Version, error) {
	t, ns, err := db.Begin(run)
	if err != nil {
		return version.Version{}, err
	}
	if err := fn(t, ns); err != nil {
		_ = t.Abort()
		return version.Version{}, err
	}
	return t.Commit()
}

// View runs fn inside a read-only transaction on the named run.
func (db *DB) View(run string, fn func(t *txn.Txn, ns key.Namespace) error) error {
	t, ns, err := db.Begin(run)
	if err != nil {
		return err
	}
	defer t.Abort()
	return fn(t, ns)
}

// Auto-commit conveniences: one operation, one transaction.

func (db *DB) Set(run, userKey string, v value.Value) (version.Version, error) {
	return db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		return db.kv.Put(t, ns, userKey, v)
	})
}

func (db *DB) Get(run, userKey string) (version.Versioned[value.Value], bool, error) {
	var out version.Versioned[value.Value]
	var found bool
	err := db.View(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		out, found, err = db.kv.Get(t, ns, userKey)
		return err
	})
	return out, found, err
}

func (db *DB) Delete(run, userKey string) (version.Version, error) {
	return db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		return db.kv.Delete(t, ns, userKey)
	})
}

func (db *DB) Incr(run, userKey string, delta int64) (int64, error) {
	var out int64
	_, err := db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		out, err = db.kv.Incr(t, ns, userKey, delta)
		return err
	})
	return out, err
}

func (db *DB) EventAppend(run, stream string, payload value.Value) (version.Version, error) {
	var seq version.Version
	_, err := db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		seq, err = db.eventlog.Append(t, ns, stream, payload)
		return err
	})
	return seq, err
}

func (db *DB) EventRange(run, stream string, start, end uint64, limit int) ([]eventlog.Event, error) {
	var out []eventlog.Event
	err := db.View(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		out, err = db.eventlog.Range(t, ns, stream, start, end, limit)
		return err
	})
	return out, err
}

func (db *DB) JSONSet(run, userKey, path string, v value.Value) (version.Version, error) {
	return db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		return db.jsondoc.SetPath(t, ns, userKey, path, v)
	})
}

func (db *DB) JSONMerge(run, userKey string, patch value.Value) (version.Version, error) {
	return db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		return db.jsondoc.Merge(t, ns, userKey, patch)
	})
}

func (db *DB) JSONGet(run, userKey, path string) (version.Versioned[value.Value], error) {
	var out version.Versioned[value.Value]
	err := db.View(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		out, err = db.jsondoc.GetPath(t, ns, userKey, path)
		return err
	})
	return out, err
}

func (db *DB) StateCAS(run, userKey string, expected wire.Expected, newValue value.Value) (bool, error) {
	var swapped bool
	_, err := db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		swapped, err = db.statecell.CAS(t, ns, userKey, expected, newValue)
		return err
	})
	return swapped, err
}

func (db *DB) StateGet(run, userKey string) (value.Value, bool, error) {
	var out value.Value
	var found bool
	err := db.View(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		out, found, err = db.statecell.Get(t, ns, userKey)
		return err
	})
	return out, found, err
}

func (db *DB) VectorCreateCollection(run, collection string, cfg vector.Config) (version.Version, error) {
	return db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		return db.vector.CreateCollection(t, ns, collection, cfg)
	})
}

func (db *DB) VectorUpsert(run, collection, userKey string, vec []float32, meta value.Value) (version.Version, error) {
	return db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		return db.vector.Upsert(t, ns, collection, userKey, vec, meta)
	})
}

func (db *DB) VectorSearch(run, collection string, query []float32, k int, filter map[string]value.Value, budget vector.Budget) ([]vector.Match, error) {
	var out []vector.Match
	err := db.View(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		out, err = db.vector.Search(t, ns, collection, query, k, filter, budget)
		return err
	})
	return out, err
}

func (db *DB) TraceAppend(run, traceType string, data value.Value) (uint64, error) {
	var seq uint64
	_, err := db.Update(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		seq, err = db.trace.Append(t, ns, traceType, data)
		return err
	})
	return seq, err
}

func (db *DB) TraceQuery(run, traceType string, fromUs, toUs uint64, limit int) ([]trace.Record, error) {
	var out []trace.Record
	err := db.View(run, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		out, err = db.trace.Query(t, ns, traceType, fromUs, toUs, limit)
		return err
	})
	return out, err
}

func (db *DB) CreateRun(name string, metadata value.Value) (string, error) {
	var id uuid.UUID
	_, err := db.Update(key.DefaultRunName, func(t *txn.Txn, ns key.Namespace) error {
		var err error
		id, err = db.runs.Create(t, name, metadata)
		return err
	})
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (db *DB) CloseRun(name string) error {
	_, err := db.Update(key.DefaultRunName, func(t *txn.Txn, ns key.Namespace) error {
		return db.runs.Close(t, name)
	})
	return err
}

func (db *DB) ListRuns() []runs.Info {
	return db.runs.List()
}

// policyFor resolves a run id to its configured retention policy.
func (db *DB) policyFor(run uuid.UUID) retention.Policy {
	if len(db.opts.Retention) == 0 {
		return retention.KeepAll()
	}
	for name, policy := range db.opts.Retention {
		id, err := db.runs.Resolve(name)
		if err == nil && id == run {
			return policy
		}
	}
	return retention.KeepAll()
}

// deleteExpired is the TTL worker's delete path: an ordinary transactional
// tombstone, WAL-logged like any caller-issued delete.
func (db *DB) deleteExpired(k key.Key) error {
	t := db.engine.Begin(k.Namespace.Run)
	e, ok := t.Read(k)
	if !ok || e.Tombstone {
		_ = t.Abort()
		return nil
	}
	if e.ExpiresAtUs == 0 || e.ExpiresAtUs > uint64(time.Now().UnixMicro()) {
		_ = t.Abort()
		return nil
	}
	if err := db.kv.Delete(t, k.Namespace, string(k.User)); err != nil {
		_ = t.Abort()
		return err
	}
	_, err := t.Commit()
	return err
}

// Snapshot writes a point-in-time image and truncates the WAL tail beyond
// its recorded offset, then logs a Checkpoint entry. Commits are paused for
// the duration of the store dump and offset capture.
func (db *DB) Snapshot() error {
	return db.snapshotTo(filepath.Join(db.dir, snapshotFileName))
}

func (db *DB) walPath() string {
	return filepath.Join(db.dir, walFileName)
}

func (db *DB) snapshotPath() string {
	return filepath.Join(db.dir, snapshotFileName)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (db *DB) String() string {
	return fmt.Sprintf("stratadb(%s)", db.dir)
}
