// Package runs is the run-index primitive: the registry of runs, each the
// top-level isolation unit scoping every key, stream, trace, and vector.
// The "default" run always exists and can never be closed; closed runs
// reject writes but keep serving reads.
package runs

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/errs"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
	"github.com/stratadb/stratadb/pkg/wal"
)

// recordKey is the reserved user key every run's metadata record lives at,
// inside the run's own namespace.
const recordKey = "_strata/run"

const (
	statusOpen   = "open"
	statusClosed = "closed"
)

// Info describes one registered run.
type Info struct {
	ID          uuid.UUID
	Name        string
	Metadata    value.Value
	Closed      bool
	CreatedAtUs uint64
	ClosedAtUs  uint64
}

// Index is the RunIndex façade plus its in-memory registry. The registry
// is a cache over the persisted run records: it is rebuilt from the store
// at open and updated by commit-time apply closures, so WAL replay keeps
// it consistent without special cases.
type Index struct {
	mu     sync.RWMutex
	byName map[string]Info
	byID   map[uuid.UUID]Info

	store  *store.Store
	limits value.Limits
	base   key.Namespace
}

// New builds an Index rooted at base (the tenant/app/agent triple every
// run's namespace shares). The default run is registered immediately.
func New(st *store.Store, limits value.Limits, base key.Namespace) *Index {
	idx := &Index{
		byName: make(map[string]Info),
		byID:   make(map[uuid.UUID]Info),
		store:  st,
		limits: limits,
		base:   base,
	}
	def := Info{ID: key.DefaultRunID, Name: key.DefaultRunName}
	idx.byName[def.Name] = def
	idx.byID[def.ID] = def
	return idx
}

func (x *Index) namespaceOf(id uuid.UUID) key.Namespace {
	ns := x.base
	ns.Run = id
	return ns
}

func (x *Index) recordKeyOf(id uuid.UUID) key.Key {
	return key.New(x.namespaceOf(id), key.TypeRunMetadata, []byte(recordKey))
}

func recordValue(info Info) value.Value {
	status := statusOpen
	if info.Closed {
		status = statusClosed
	}
	meta := info.Metadata
	if meta.Kind() != value.KindObject {
		meta = value.Object(nil)
	}
	return value.Object(map[string]value.Value{
		"name":       value.String(info.Name),
		"status":     value.String(status),
		"created_us": value.Int(int64(info.CreatedAtUs)),
		"closed_us":  value.Int(int64(info.ClosedAtUs)),
		"metadata":   meta,
	})
}

func recordInfo(id uuid.UUID, v value.Value) (Info, bool) {
	obj, ok := v.AsObject()
	if !ok {
		return Info{}, false
	}
	name, ok := obj["name"].AsString()
	if !ok {
		return Info{}, false
	}
	status, _ := obj["status"].AsString()
	created, _ := obj["created_us"].AsInt()
	closed, _ := obj["closed_us"].AsInt()
	return Info{
		ID:          id,
		Name:        name,
		Metadata:    obj["metadata"],
		Closed:      status == statusClosed,
		CreatedAtUs: uint64(created),
		ClosedAtUs:  uint64(closed),
	}, true
}

// Create registers a new run and returns its freshly minted id. The run
// becomes visible (and writable) once the transaction commits.
func (x *Index) Create(t *txn.Txn, name string, metadata value.Value) (uuid.UUID, error) {
	if err := value.ValidateKey([]byte(name), x.limits); err != nil {
		return uuid.Nil, errs.FromValidation(err)
	}
	if metadata.Kind() != value.KindNull && metadata.Kind() != value.KindObject {
		return uuid.Nil, errs.WrongType("object", metadata.TypeName())
	}
	if err := value.ValidateValue(metadata, x.limits); err != nil {
		return uuid.Nil, errs.FromValidation(err)
	}

	x.mu.RLock()
	_, exists := x.byName[name]
	x.mu.RUnlock()
	if exists {
		return uuid.Nil, errs.RunExists(name)
	}

	id := uuid.Must(uuid.NewV7())
	info := Info{ID: id, Name: name, Metadata: metadata}

	// Claim the name under the default run's namespace. Two concurrent
	// creates of the same name write the same claim key, so exactly one
	// commits; the ids-differ case would otherwise never conflict.
	claim := key.New(x.namespaceOf(key.DefaultRunID), key.TypeRunMetadata, []byte("_strata/runname/"+name))
	if e, ok := t.Read(claim); ok && !e.Tombstone {
		return uuid.Nil, errs.RunExists(name)
	}
	claimVal := value.String(id.String())
	t.Stage(claim, wal.EntryPut,
		func(ver version.Version, ts uint64) ([]byte, error) {
			valBytes, err := codec.EncodeValue(claimVal)
			if err != nil {
				return nil, err
			}
			vk, vv := codec.VersionToWire(ver)
			return codec.Marshal(codec.Put{
				TxnID:       t.IDBytes(),
				Key:         claim.Encode(),
				Value:       valBytes,
				VersionKind: vk,
				Version:     vv,
				TimestampUs: int64(ts),
			})
		},
		func(ver version.Version, ts uint64) {
			x.store.Put(claim, claimVal, ver, ts, 0)
		})

	x.stageRecord(t, info, true)
	return id, nil
}

// Close marks a run closed: subsequent write transactions scoped to it are
// rejected, reads keep working. The default run cannot be closed.
func (x *Index) Close(t *txn.Txn, name string) error {
	if name == key.DefaultRunName {
		return errs.ConstraintViolation("default_run_not_closable")
	}
	x.mu.RLock()
	info, ok := x.byName[name]
	x.mu.RUnlock()
	if !ok {
		return errs.RunNotFound(name)
	}
	if info.Closed {
		return errs.RunClosed(name)
	}
	info.Closed = true
	x.stageRecord(t, info, false)
	return nil
}

func (x *Index) stageRecord(t *txn.Txn, info Info, create bool) {
	k := x.recordKeyOf(info.ID)

	t.Stage(k, wal.EntryPut,
		func(ver version.Version, ts uint64) ([]byte, error) {
			stamped := x.stamp(info, create, ts)
			valBytes, err := codec.EncodeValue(recordValue(stamped))
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
			stamped := x.stamp(info, create, ts)
			x.store.Put(k, recordValue(stamped), ver, ts, 0)
			x.mu.Lock()
			x.byName[stamped.Name] = stamped
			x.byID[stamped.ID] = stamped
			x.mu.Unlock()
		})
}

func (x *Index) stamp(info Info, create bool, ts uint64) Info {
	if create {
		info.CreatedAtUs = ts
	}
	if info.Closed && info.ClosedAtUs == 0 {
		info.ClosedAtUs = ts
	}
	return info
}

// Resolve maps an external run name to its internal id.
func (x *Index) Resolve(name string) (uuid.UUID, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	info, ok := x.byName[name]
	if !ok {
		return uuid.Nil, errs.RunNotFound(name)
	}
	return info.ID, nil
}

// NamespaceFor returns the namespace scoping every key of the named run.
func (x *Index) NamespaceFor(name string) (key.Namespace, error) {
	id, err := x.Resolve(name)
	if err != nil {
		return key.Namespace{}, err
	}
	return x.namespaceOf(id), nil
}

// Get returns the named run's info.
func (x *Index) Get(name string) (Info, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	info, ok := x.byName[name]
	if !ok {
		return Info{}, errs.RunNotFound(name)
	}
	return info, nil
}

// List returns every registered run, sorted by name.
func (x *Index) List() []Info {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Info, 0, len(x.byName))
	for _, info := range x.byName {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Gate is the write-admission check the transaction engine consults at
// commit: a run that is closed (or unknown) rejects write transactions.
func (x *Index) Gate(run uuid.UUID) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	info, ok := x.byID[run]
	if !ok {
		return errs.RunNotFound(run.String())
	}
	if info.Closed {
		return errs.RunClosed(info.Name)
	}
	return nil
}

// Rebuild repopulates the registry from the persisted run records — the
// recovery path after snapshot load and WAL replay.
func (x *Index) Rebuild(asOf version.Version) {
	pairs := x.store.ScanByType(key.TypeRunMetadata, asOf, 0)

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, p := range pairs {
		if p.Entry.Tombstone || string(p.Key.User) != recordKey {
			continue
		}
		info, ok := recordInfo(p.Key.Namespace.Run, p.Entry.Value)
		if !ok {
			continue
		}
		x.byName[info.Name] = info
		x.byID[info.ID] = info
	}
}
