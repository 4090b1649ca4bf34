package retention

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/log"
	"github.com/stratadb/stratadb/pkg/metrics"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/txn"
	"github.com/stratadb/stratadb/pkg/version"
)

// DefaultInterval is the sweep cadence when the caller does not set one.
const DefaultInterval = time.Second

// Config wires a Worker.
type Config struct {
	Store    *store.Store
	Registry *txn.Registry
	Interval time.Duration

	// PolicyFor resolves the retention policy of a run; nil (or a KeepAll
	// result) exempts the run from version trimming.
	PolicyFor func(run uuid.UUID) Policy

	// DeleteExpired issues the transactional delete for one TTL-expired
	// key. It goes through the normal commit pipeline, so the delete is
	// WAL-logged and replay stays deterministic even though the worker
	// itself is never replayed.
	DeleteExpired func(k key.Key) error
}

// Worker is the background retention/TTL sweeper: one per database, started
// at open, stopped (and drained) at close.
type Worker struct {
	cfg  Config
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWorker builds a stopped worker.
func NewWorker(cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Worker{cfg: cfg, done: make(chan struct{})}
}

// Start launches the sweep goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Sweep(uint64(time.Now().UnixMicro()))
			case <-w.done:
				return
			}
		}
	}()
}

// Stop signals the worker and waits for the in-flight sweep to finish.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}

// Sweep runs one TTL pass and one trim pass. Exposed so tests (and
// explicit maintenance calls) can sweep without waiting a tick.
func (w *Worker) Sweep(nowUs uint64) {
	w.sweepTTL(nowUs)
	w.trim(nowUs)
}

func (w *Worker) sweepTTL(nowUs uint64) {
	if w.cfg.DeleteExpired == nil {
		return
	}
	expired := w.cfg.Store.ExpiredKeys(nowUs)
	for _, k := range expired {
		if err := w.cfg.DeleteExpired(k); err != nil {
			// A conflict just means a racing writer touched the key; the
			// next tick re-evaluates its expiry.
			logger := log.WithComponent("retention")
			logger.Debug().Err(err).Msg("ttl delete skipped")
			continue
		}
		metrics.TTLExpirationsTotal.Inc()
	}
	if len(expired) > 0 {
		logger := log.WithComponent("retention")
		logger.Info().Int("expired", len(expired)).Msg("ttl sweep")
	}
}

func (w *Worker) trim(nowUs uint64) {
	if w.cfg.PolicyFor == nil {
		return
	}
	for _, run := range w.runsWithKeys() {
		policy := w.cfg.PolicyFor(run)
		if policy.Kind == KindKeepAll {
			continue
		}
		trimmed := 0
		for _, k := range w.cfg.Store.KeysOfRun(run) {
			entries := w.cfg.Store.History(k, 0, version.Version{})
			if len(entries) <= 1 {
				continue
			}
			floor := policy.floorFor(entries, nowUs)
			if floor == 0 {
				continue
			}
			// Never trim a version an active transaction could still read.
			// A reader at snapshot S resolves this key to the newest entry
			// with CommitValue <= S, which is almost always strictly below
			// S, so the floor must clamp to that entry's own commit value —
			// clamping to S itself would drop the very entry the reader
			// resolves to. Every younger active snapshot resolves to an
			// entry at or above this one, so one clamp covers them all.
			if minActive, ok := w.cfg.Registry.MinActiveVersion(); ok {
				if vis, visible := w.cfg.Store.GetAt(k, minActive); visible {
					if vis.CommitValue < floor {
						floor = vis.CommitValue
					}
				} else if minActive.Value < floor {
					floor = minActive.Value
				}
			}
			trimmed += w.cfg.Store.TrimBefore(k, version.Txn(floor))
		}
		if trimmed > 0 {
			metrics.RetentionTrimsTotal.Add(float64(trimmed))
			logger := log.WithComponent("retention")
			logger.Info().
				Str("run", run.String()).Int("trimmed", trimmed).Msg("version trim")
		}
	}
}

// runsWithKeys lists the runs that currently own keys, derived from the
// store's run index shards.
func (w *Worker) runsWithKeys() []uuid.UUID {
	return w.cfg.Store.Runs()
}
