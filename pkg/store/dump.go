package store

import (
	"sort"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/key"
)

// ChainDump is one key's full version history, copied out of a shard for
// snapshotting or replay. Entries are newest first, matching Chain order.
type ChainDump struct {
	Key          key.Key
	Entries      []Entry
	TrimmedBelow uint64
}

// DumpByType copies every chain of the given primitive type out of the
// store, sorted in composite-key order — the snapshot engine's per-region
// input. Each shard is walked under its own read lock; writers in other
// shards are not paused.
func (s *Store) DumpByType(typ key.TypeTag) []ChainDump {
	var out []ChainDump
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, k := range sh.typeIndex[typ] {
			if raw, ok := sh.tree.Get(k); ok {
				c := raw.(*Chain)
				out = append(out, ChainDump{
					Key:          k,
					Entries:      append([]Entry(nil), c.Entries...),
					TrimmedBelow: c.TrimmedBelow,
				})
			}
		}
		sh.mu.RUnlock()
	}
	sortDumps(out)
	return out
}

// Runs lists every run that currently owns at least one key.
func (s *Store) Runs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	for _, sh := range s.shards {
		sh.mu.RLock()
		for run := range sh.runIndex {
			seen[run] = struct{}{}
		}
		sh.mu.RUnlock()
	}
	out := make([]uuid.UUID, 0, len(seen))
	for run := range seen {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

// KeysOfRun returns every key belonging to run, across all shards, in
// composite-key order — retention's per-run sweep input.
func (s *Store) KeysOfRun(run uuid.UUID) []key.Key {
	var out []key.Key
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, k := range sh.runIndex[run] {
			out = append(out, k)
		}
		sh.mu.RUnlock()
	}
	sortKeys(out)
	return out
}

// LoadChain installs a full version chain for k, replacing anything already
// present — the snapshot/recovery load path. It maintains the secondary
// indices from the chain's head entry the same way a live write would.
func (s *Store) LoadChain(k key.Key, entries []Entry, trimmedBelow uint64) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c := &Chain{Entries: append([]Entry(nil), entries...), TrimmedBelow: trimmedBelow}
	sh.tree.Upsert(k, func(old any, exists bool) (any, error) {
		return c, nil
	})

	var expiry uint64
	if head, ok := c.Latest(); ok {
		expiry = head.ExpiresAtUs
	}
	sh.indexKey(k, expiry)
}

func sortDumps(dumps []ChainDump) {
	sort.Slice(dumps, func(i, j int) bool {
		return dumps[i].Key.Compare(dumps[j].Key) < 0
	})
}

func sortKeys(keys []key.Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Compare(keys[j]) < 0
	})
}
