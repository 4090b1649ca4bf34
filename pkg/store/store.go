package store

import (
	"hash/fnv"
	"sort"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
)

// DefaultShardCount matches the teacher's default table-shard count; it is a
// power of two so shard selection is a mask, not a modulo.
const DefaultShardCount = 16

// DefaultTreeDegree is the B+Tree minimum degree used for each shard's index.
const DefaultTreeDegree = 32

// Store is the unified store (C4): every primitive's keys live in one
// sharded, version-chained keyspace. Primitive façades never touch a shard
// directly — they go through Store, which owns the fixed shard-locking
// order the transaction engine depends on for deadlock-free multi-key commits.
type Store struct {
	shards []*shard
	mask   uint64
}

// Option configures Store construction.
type Option func(*Store)

// New builds a Store with shardCount shards (rounded up to a power of two).
func New(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	shardCount = nextPowerOfTwo(shardCount)
	s := &Store{
		shards: make([]*shard, shardCount),
		mask:   uint64(shardCount - 1),
	}
	for i := range s.shards {
		s.shards[i] = newShard(DefaultTreeDegree)
	}
	return s
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (s *Store) shardIndexFor(k key.Key) int {
	h := fnv.New64a()
	_, _ = h.Write(k.Encode())
	return int(h.Sum64() & s.mask)
}

func (s *Store) shardFor(k key.Key) *shard {
	return s.shards[s.shardIndexFor(k)]
}

// ShardIndices returns the distinct, ascending-sorted shard indices touched
// by keys. The txn engine locks shards in exactly this order on every
// operation, so two transactions racing over overlapping key sets always
// request locks in the same order and never deadlock.
func (s *Store) ShardIndices(keys []key.Key) []int {
	set := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		set[s.shardIndexFor(k)] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// WithShardLocks acquires the write lock of every shard touched by keys, in
// ascending index order, runs fn, then releases them in reverse. Used by the
// transaction engine to make a multi-key commit's visible effect atomic.
func (s *Store) WithShardLocks(keys []key.Key, fn func() error) error {
	indices := s.ShardIndices(keys)
	for _, i := range indices {
		s.shards[i].mu.Lock()
	}
	defer func() {
		for i := len(indices) - 1; i >= 0; i-- {
			s.shards[indices[i]].mu.Unlock()
		}
	}()
	return fn()
}

// Put appends a new Txn-versioned live value to k's chain, creating the
// chain if this is the first write. Caller must hold k's shard lock
// (directly or via WithShardLocks); Put does not lock internally so the txn
// engine can batch several Puts/Deletes for different keys in one
// shard-lock acquisition.
func (s *Store) Put(k key.Key, v value.Value, ver version.Version, timestampUs uint64, expiresAtUs uint64) {
	s.write(k, Entry{Value: v, Version: ver, CommitValue: ver.Value, TimestampUs: timestampUs, ExpiresAtUs: expiresAtUs})
}

// PutAssigned appends a live value whose assigned version comes from a
// per-primitive counter (Sequence, Counter) rather than the commit counter;
// commitValue records the committing transaction's version for snapshot
// visibility. Same locking contract as Put.
func (s *Store) PutAssigned(k key.Key, v value.Value, assigned version.Version, commitValue uint64, timestampUs uint64, expiresAtUs uint64) {
	s.write(k, Entry{Value: v, Version: assigned, CommitValue: commitValue, TimestampUs: timestampUs, ExpiresAtUs: expiresAtUs})
}

// Delete appends a tombstone version to k's chain.
func (s *Store) Delete(k key.Key, ver version.Version, timestampUs uint64) {
	s.write(k, Entry{Version: ver, CommitValue: ver.Value, TimestampUs: timestampUs, Tombstone: true})
}

func (s *Store) write(k key.Key, e Entry) {
	sh := s.shardFor(k)
	var prevExpiry uint64
	sh.tree.Upsert(k, func(old any, exists bool) (any, error) {
		var c *Chain
		if exists {
			c = old.(*Chain)
			if head, ok := c.Latest(); ok {
				prevExpiry = head.ExpiresAtUs
			}
		} else {
			c = newChain()
		}
		c.prepend(e)
		return c, nil
	})
	if prevExpiry != 0 && prevExpiry != e.ExpiresAtUs {
		sh.unindexTTL(k, prevExpiry)
	}
	sh.indexKey(k, e.ExpiresAtUs)
}

// GetLatest returns the current head entry for k (live or tombstone).
func (s *Store) GetLatest(k key.Key) (Entry, bool) {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return s.GetLatestLocked(k)
}

// GetLatestLocked is GetLatest for callers already holding k's shard lock —
// the validate/apply paths inside a commit, where taking the read lock again
// would self-deadlock against the held write lock.
func (s *Store) GetLatestLocked(k key.Key) (Entry, bool) {
	sh := s.shardFor(k)
	raw, ok := sh.tree.Get(k)
	if !ok {
		return Entry{}, false
	}
	return raw.(*Chain).Latest()
}

// GetAt returns the entry visible as of maxVersion per snapshot-read rules.
func (s *Store) GetAt(k key.Key, maxVersion version.Version) (Entry, bool) {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return s.GetAtLocked(k, maxVersion)
}

// GetAtLocked is GetAt for callers already holding k's shard lock.
func (s *Store) GetAtLocked(k key.Key, maxVersion version.Version) (Entry, bool) {
	sh := s.shardFor(k)
	raw, ok := sh.tree.Get(k)
	if !ok {
		return Entry{}, false
	}
	return raw.(*Chain).At(maxVersion)
}

// CountCommitsSinceLocked reports how many entries on k's chain have a
// commit value above after.Value, whatever their version kind. Caller must
// hold k's shard lock.
func (s *Store) CountCommitsSinceLocked(k key.Key, after version.Version) int {
	sh := s.shardFor(k)
	raw, ok := sh.tree.Get(k)
	if !ok {
		return 0
	}
	return raw.(*Chain).CountSince(after)
}

// EarliestRetained reports the oldest version still retained for k.
func (s *Store) EarliestRetained(k key.Key) (version.Version, bool) {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	raw, ok := sh.tree.Get(k)
	if !ok {
		return version.Version{}, false
	}
	return raw.(*Chain).EarliestRetained()
}

// History returns k's version chain newest-first, skipping entries at or
// above before (pass the zero Version to start from the head) and stopping
// after limit entries (limit <= 0 means unbounded).
func (s *Store) History(k key.Key, limit int, before version.Version) []Entry {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	raw, ok := sh.tree.Get(k)
	if !ok {
		return nil
	}
	var out []Entry
	for _, e := range raw.(*Chain).Entries {
		if before.Value != 0 && e.Version.Kind == before.Kind && e.Version.Value >= before.Value {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// TrimInfo reports whether retention has ever trimmed history from k's
// chain, and if so the oldest version still retained — the inputs a read
// below the retention floor needs to raise HistoryTrimmed accurately.
func (s *Store) TrimInfo(k key.Key) (earliest version.Version, trimmed bool, ok bool) {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	raw, found := sh.tree.Get(k)
	if !found {
		return version.Version{}, false, false
	}
	c := raw.(*Chain)
	e, found := c.EarliestRetained()
	if !found {
		return version.Version{}, false, false
	}
	return e, c.TrimmedBelow > 0, true
}

// TrimBefore applies retention to a single key's chain, returning how many
// versions were dropped.
func (s *Store) TrimBefore(k key.Key, keepFrom version.Version) int {
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	raw, ok := sh.tree.Get(k)
	if !ok {
		return 0
	}
	return raw.(*Chain).TrimBefore(keepFrom)
}

// SetLivePathsLocked records the current set of live JSON paths for k,
// replacing whatever was recorded before. Used by the json façade's apply
// step (under the commit's shard locks) so the path index always reflects
// the latest document shape.
func (s *Store) SetLivePathsLocked(k key.Key, paths map[string]struct{}) {
	sh := s.shardFor(k)
	sh.jsonPaths[string(k.Encode())] = paths
}

// LivePaths returns the current set of live JSON paths for k.
func (s *Store) LivePaths(k key.Key) map[string]struct{} {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.jsonPaths[string(k.Encode())]
}

// DeleteRun drops every key belonging to run from every index and the
// underlying tree outright — used by run deletion, which per spec removes
// the run's data rather than tombstoning it.
func (s *Store) DeleteRun(run uuid.UUID) []key.Key {
	var removed []key.Key
	for _, sh := range s.shards {
		sh.mu.Lock()
		set := sh.runIndex[run]
		for _, k := range set {
			var expiry uint64
			if raw, ok := sh.tree.Get(k); ok {
				if head, ok := raw.(*Chain).Latest(); ok {
					expiry = head.ExpiresAtUs
				}
			}
			sh.tree.Delete(k)
			sh.removeKeyFromIndices(k, expiry)
			removed = append(removed, k)
		}
		sh.mu.Unlock()
	}
	return removed
}

// ExpiredKeys returns every key whose TTL expired at or before nowUs, across
// all shards — the retention worker's per-tick sweep input.
func (s *Store) ExpiredKeys(nowUs uint64) []key.Key {
	var out []key.Key
	for _, sh := range s.shards {
		sh.mu.RLock()
		for expiry, set := range sh.ttlIndex {
			if expiry > nowUs {
				continue
			}
			for _, k := range set {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Lock/RLock/Unlock/RUnlock on shard i, exposed so the txn engine can take
// the single-shard read lock it needs while staging a transaction's reads
// without going through WithShardLocks (which is for the commit path, where
// the whole touched-key set is known up front).
func (s *Store) RLockShard(i int)   { s.shards[i].mu.RLock() }
func (s *Store) RUnlockShard(i int) { s.shards[i].mu.RUnlock() }
func (s *Store) ShardIndex(k key.Key) int { return s.shardIndexFor(k) }

// ShardCount returns the number of shards.
func (s *Store) ShardCount() int { return len(s.shards) }
