package store

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/version"
)

// Pair is one (key, entry) result row from a scan.
type Pair struct {
	Key   key.Key
	Entry Entry
}

// ScanPrefix walks ns/typ's keyspace in key order starting at userPrefix,
// returning every key whose user-key has userPrefix as a byte prefix, each
// resolved to the entry visible as of maxVersion. limit <= 0 means
// unbounded. Scans a single shard's tree at a time — the composite key
// encoding keeps all keys of one (ns, type) contiguous within a shard only
// by coincidence of the hash, so a full scan touches every shard; each
// shard's B+Tree is walked independently under its own read lock.
func (s *Store) ScanPrefix(ns key.Namespace, typ key.TypeTag, userPrefix []byte, maxVersion version.Version, limit int) []Pair {
	lower := key.New(ns, typ, userPrefix)
	var out []Pair
	for _, sh := range s.shards {
		sh.mu.RLock()
		rows := scanShardFrom(sh, lower, func(k key.Key) bool {
			return k.Namespace.Equal(ns) && k.Type == typ && bytes.HasPrefix(k.User, userPrefix)
		}, maxVersion)
		sh.mu.RUnlock()
		out = append(out, rows...)
	}
	sortPairs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// scanShardFrom walks one shard's leaves starting from lower's position,
// applying keep to each candidate key and stopping a leaf's walk early is
// not attempted here since different shards interleave unrelated keys —
// the caller (ScanPrefix et al.) always scans the whole shard and filters.
func scanShardFrom(sh *shard, lower key.Key, keep func(key.Key) bool, maxVersion version.Version) []Pair {
	var out []Pair
	leaf, idx := sh.tree.Root.FindLeafLowerBound(lower)
	for leaf != nil {
		for i := idx; i < leaf.N; i++ {
			k := leaf.Keys[i].(key.Key)
			if !keep(k) {
				continue
			}
			chain := leaf.Values[i].(*Chain)
			if e, ok := chain.At(maxVersion); ok {
				out = append(out, Pair{Key: k, Entry: e})
			}
		}
		leaf = leaf.Next
		idx = 0
	}
	return out
}

// ScanByRun returns every key belonging to run, resolved as of maxVersion.
func (s *Store) ScanByRun(run uuid.UUID, maxVersion version.Version, limit int) []Pair {
	var out []Pair
	for _, sh := range s.shards {
		sh.mu.RLock()
		set := sh.runIndex[run]
		for _, k := range set {
			if raw, ok := sh.tree.Get(k); ok {
				if e, ok := raw.(*Chain).At(maxVersion); ok {
					out = append(out, Pair{Key: k, Entry: e})
				}
			}
		}
		sh.mu.RUnlock()
	}
	sortPairs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ScanByType returns every key of the given primitive type, resolved as of
// maxVersion, across every run.
func (s *Store) ScanByType(typ key.TypeTag, maxVersion version.Version, limit int) []Pair {
	var out []Pair
	for _, sh := range s.shards {
		sh.mu.RLock()
		set := sh.typeIndex[typ]
		for _, k := range set {
			if raw, ok := sh.tree.Get(k); ok {
				if e, ok := raw.(*Chain).At(maxVersion); ok {
					out = append(out, Pair{Key: k, Entry: e})
				}
			}
		}
		sh.mu.RUnlock()
	}
	sortPairs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Key.Compare(pairs[j].Key) < 0
	})
}
