// Package store implements the unified store (C4): a single ordered
// container keyed by (Namespace, TypeTag, user_key), sharded for
// concurrency, with per-key MVCC version chains and the four secondary
// indices that feed run-scoped scans, type-scoped scans, TTL sweeps, and
// JSON path-level conflict detection.
package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/btree"
	"github.com/stratadb/stratadb/pkg/key"
)

// shard owns one slice of the keyspace: its own B+Tree of version chains
// plus the portion of each secondary index whose keys hash to this shard.
// Every mutation to a chain and its secondary-index bookkeeping happens
// inside one critical section under mu, the same discipline the teacher
// uses inside a single B+Tree node latch.
type shard struct {
	mu sync.RWMutex

	tree *btree.BPlusTree // key.Key -> *Chain

	runIndex  map[uuid.UUID]map[string]key.Key       // run -> encoded key -> Key
	typeIndex map[key.TypeTag]map[string]key.Key      // type tag -> encoded key -> Key
	ttlIndex  map[uint64]map[string]key.Key           // expiry micros -> encoded key -> Key
	jsonPaths map[string]map[string]struct{}          // encoded json key -> live path set
}

func newShard(degree int) *shard {
	return &shard{
		tree:      btree.NewUniqueTree(degree),
		runIndex:  make(map[uuid.UUID]map[string]key.Key),
		typeIndex: make(map[key.TypeTag]map[string]key.Key),
		ttlIndex:  make(map[uint64]map[string]key.Key),
		jsonPaths: make(map[string]map[string]struct{}),
	}
}

func (s *shard) indexKey(k key.Key, expiresAtUs uint64) {
	enc := string(k.Encode())

	runSet := s.runIndex[k.Namespace.Run]
	if runSet == nil {
		runSet = make(map[string]key.Key)
		s.runIndex[k.Namespace.Run] = runSet
	}
	runSet[enc] = k

	typeSet := s.typeIndex[k.Type]
	if typeSet == nil {
		typeSet = make(map[string]key.Key)
		s.typeIndex[k.Type] = typeSet
	}
	typeSet[enc] = k

	if expiresAtUs != 0 {
		ttlSet := s.ttlIndex[expiresAtUs]
		if ttlSet == nil {
			ttlSet = make(map[string]key.Key)
			s.ttlIndex[expiresAtUs] = ttlSet
		}
		ttlSet[enc] = k
	}
}

func (s *shard) unindexTTL(k key.Key, expiresAtUs uint64) {
	if expiresAtUs == 0 {
		return
	}
	enc := string(k.Encode())
	if set, ok := s.ttlIndex[expiresAtUs]; ok {
		delete(set, enc)
		if len(set) == 0 {
			delete(s.ttlIndex, expiresAtUs)
		}
	}
}

// removeKeyFromIndices drops a key from every secondary index — used when a
// run is deleted outright, not on an ordinary tombstone write (tombstones
// stay indexed: they are still "keys of that run/type", just with no live
// value).
func (s *shard) removeKeyFromIndices(k key.Key, expiresAtUs uint64) {
	enc := string(k.Encode())
	if set, ok := s.runIndex[k.Namespace.Run]; ok {
		delete(set, enc)
		if len(set) == 0 {
			delete(s.runIndex, k.Namespace.Run)
		}
	}
	if set, ok := s.typeIndex[k.Type]; ok {
		delete(set, enc)
		if len(set) == 0 {
			delete(s.typeIndex, k.Type)
		}
	}
	s.unindexTTL(k, expiresAtUs)
	delete(s.jsonPaths, enc)
}
