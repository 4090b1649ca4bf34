// Package txn implements the OCC transaction engine (C5): every write goes
// through a Txn that records what it read, stages what it wants to write,
// and only becomes visible if Validate finds nothing it read has changed
// since its snapshot was taken.
package txn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

// Engine coordinates the transaction lifecycle against one Store and one
// WAL: it assigns commit versions, runs validation, and applies a
// transaction's staged writes atomically once validation passes.
type Engine struct {
	store    *store.Store
	wal      *wal.Writer
	versions *commitVersions
	clock    *version.Clock
	registry *Registry

	jsonLog *jsonWriteLog

	// commitGate lets the snapshot engine hold commits still long enough
	// to dump a consistent image and record the matching WAL offset.
	// Commits hold it shared; BlockCommits holds it exclusively.
	commitGate sync.RWMutex

	// runGate, when set, rejects commits of write transactions scoped to a
	// run that no longer accepts writes. Installed by the run index at
	// database open; a nil gate admits everything (tests, replay).
	runGate func(run uuid.UUID) error
}

func NewEngine(st *store.Store, w *wal.Writer) *Engine {
	return &Engine{
		store:    st,
		wal:      w,
		versions: newCommitVersions(),
		clock:    version.NewClock(),
		registry: NewRegistry(),
		jsonLog:  newJSONWriteLog(),
	}
}

func (e *Engine) Registry() *Registry { return e.registry }

// Store returns the unified store this engine commits into.
func (e *Engine) Store() *store.Store { return e.store }

// SetRunGate installs the closed-run write rejection check.
func (e *Engine) SetRunGate(gate func(run uuid.UUID) error) {
	e.runGate = gate
}

// CurrentVersion returns the engine's current commit version — the snapshot
// a transaction beginning now would read at.
func (e *Engine) CurrentVersion() version.Version {
	return e.versions.current()
}

// AdvanceCommitVersion fast-forwards the commit counter to at least v —
// recovery uses this to resume numbering above everything already on disk.
func (e *Engine) AdvanceCommitVersion(v uint64) {
	e.versions.advance(v)
}

// Clock returns the engine's timestamp source.
func (e *Engine) Clock() *version.Clock { return e.clock }

// BlockCommits runs fn with every commit paused: the store state and the
// WAL end offset cannot move while fn executes. Reads are unaffected.
func (e *Engine) BlockCommits(fn func() error) error {
	e.commitGate.Lock()
	defer e.commitGate.Unlock()
	return fn()
}

// Begin opens a new transaction snapshotted at the engine's current commit
// version. run scopes which namespace the transaction's façade-level
// operations address; the transaction itself is primitive-agnostic.
func (e *Engine) Begin(run uuid.UUID) *Txn {
	t := &Txn{
		engine:        e,
		id:            uuid.Must(uuid.NewV7()),
		run:           run,
		snapshot:      e.versions.current(),
		readSet:       make(map[string]readRecord),
		readPaths:     make(map[string][]string),
		pathKeys:      make(map[string]key.Key),
		writeKeys:     make(map[string]key.Key),
		writePaths:    make(map[string][]string),
		pathWriteKeys: make(map[string]bool),
	}
	e.registry.register(t)
	return t
}
