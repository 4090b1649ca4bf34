package txn

import (
	"math"
	"sync"

	"github.com/stratadb/stratadb/pkg/metrics"
	"github.com/stratadb/stratadb/pkg/version"
)

// Registry tracks every currently active transaction so retention can find
// the oldest snapshot still in use: a version can only be garbage collected
// once no active transaction could read it, the same role the teacher's
// TransactionRegistry plays for its oldest-visible LSN.
type Registry struct {
	mu       sync.Mutex
	active   map[*Txn]struct{}
	minSnap  uint64
	hasFloor bool
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[*Txn]struct{})}
}

func (r *Registry) register(t *Txn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[t] = struct{}{}
	metrics.ActiveTransactions.Set(float64(len(r.active)))
	if !r.hasFloor || t.snapshot.Value < r.minSnap {
		r.minSnap = t.snapshot.Value
		r.hasFloor = true
	}
}

func (r *Registry) unregister(t *Txn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, t)
	metrics.ActiveTransactions.Set(float64(len(r.active)))

	if len(r.active) == 0 {
		r.hasFloor = false
		r.minSnap = 0
		return
	}
	min := uint64(math.MaxUint64)
	for a := range r.active {
		if a.snapshot.Value < min {
			min = a.snapshot.Value
		}
	}
	r.minSnap = min
}

// MinActiveVersion returns the oldest snapshot version any active
// transaction could still read. ok is false when no transaction is active,
// meaning retention is free to trim everything except the live head.
func (r *Registry) MinActiveVersion() (version.Version, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasFloor {
		return version.Version{}, false
	}
	return version.Txn(r.minSnap), true
}

// ActiveCount reports how many transactions are currently open, for metrics.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
