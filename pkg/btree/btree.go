package btree

import (
	"errors"
	"sort"
	"sync"

	"github.com/stratadb/stratadb/pkg/types"
)

// ErrDuplicateKey is returned by Insert on a unique-keyed tree when the key
// already has a value. The unified store does not rely on this for its own
// constraint checking (that happens at the txn/OCC layer) and only ever calls
// Upsert; the error exists for Insert callers that want tree-level uniqueness
// enforcement for free.
var ErrDuplicateKey = errors.New("btree: duplicate key")

// BPlusTree is a concurrent B+Tree keyed on types.Comparable, storing an
// arbitrary payload (any) per leaf entry rather than a fixed record pointer.
// Structural mutation uses latch crabbing: a node is locked only long enough
// to determine and lock its child, then released, so readers and writers on
// disjoint subtrees never block each other.
type BPlusTree struct {
	T         int
	Root      *Node
	UniqueKey bool
	mu        sync.RWMutex
}

// NewTree creates a tree that allows multiple leaf entries to share logic
// around a key (duplicates are not actually stored; Upsert always replaces).
func NewTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: false,
	}
}

// NewUniqueTree creates a tree whose Insert rejects a key that already holds a value.
func NewUniqueTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: true,
	}
}

// Insert stores value under key, failing with ErrDuplicateKey if the tree is
// unique-keyed and key already has an entry.
func (b *BPlusTree) Insert(key types.Comparable, value any) error {
	return b.insertHelper(key, value, b.UniqueKey)
}

// Replace unconditionally sets key's value, inserting it if absent.
func (b *BPlusTree) Replace(key types.Comparable, value any) error {
	return b.Upsert(key, func(oldValue any, exists bool) (any, error) {
		return value, nil
	})
}

// Upsert runs fn against the key's current value (nil, false if absent) while
// holding the leaf latch, then stores whatever fn returns. This makes
// read-modify-write sequences — such as appending to a version chain —
// atomic with respect to concurrent Upserts on the same key.
func (b *BPlusTree) Upsert(key types.Comparable, fn func(oldValue any, exists bool) (newValue any, err error)) error {
	return b.upsertHelper(key, fn)
}

func (b *BPlusTree) insertHelper(key types.Comparable, value any, uniqueKey bool) error {
	return b.Upsert(key, func(oldValue any, exists bool) (any, error) {
		if exists && uniqueKey {
			return nil, ErrDuplicateKey
		}
		return value, nil
	})
}

func (b *BPlusTree) upsertHelper(key types.Comparable, fn func(oldValue any, exists bool) (newValue any, err error)) error {
	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.IsFull() {
		newRoot := NewNode(b.T, false)
		newRoot.Children = append(newRoot.Children, root)
		newRoot.SplitChild(0)
		b.Root = newRoot
		b.mu.Unlock()

		newRoot.Lock()
		root.Unlock()

		return b.upsertTopDown(newRoot, key, fn)
	}

	b.mu.Unlock()
	return b.upsertTopDown(root, key, fn)
}

// upsertTopDown descends the tree, splitting full children preventively so
// that by the time it reaches a leaf, that leaf is guaranteed to have room.
// curr must already be locked by the caller.
func (b *BPlusTree) upsertTopDown(curr *Node, key types.Comparable, fn func(oldValue any, exists bool) (newValue any, err error)) error {
	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}

		child := curr.Children[i]
		child.Lock()

		if child.IsFull() {
			curr.SplitChild(i)

			if key.Compare(curr.Keys[i]) >= 0 {
				child.Unlock()
				child = curr.Children[i+1]
				child.Lock()
			}
		}

		// Latch crabbing: release the parent, keep only the child locked.
		curr.Unlock()
		curr = child
	}

	return curr.UpsertNonFull(key, fn)
}

// Search looks up key, returning the leaf that holds it.
func (b *BPlusTree) Search(key types.Comparable) (*Node, bool) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr, true
		}
	}
	return nil, false
}

// Get returns the value stored under key, if any.
func (b *BPlusTree) Get(key types.Comparable) (any, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	curr := b.Root
	if curr == nil {
		b.mu.RUnlock()
		return nil, false
	}
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr.Values[j], true
		}
	}
	return nil, false
}

// FindLeafLowerBound returns the leaf and index at which key would sit (or
// the index of the first key >= key, if key is nil the leftmost leaf at
// index 0), with the leaf's RLock held. The caller must RUnlock it.
func (b *BPlusTree) FindLeafLowerBound(key types.Comparable) (*Node, int) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		var i int
		if key == nil {
			i = 0
		} else {
			i = sort.Search(curr.N, func(i int) bool {
				return curr.Keys[i].Compare(key) >= 0
			})
		}

		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	var idx int
	if key == nil {
		idx = 0
	} else {
		idx = sort.Search(curr.N, func(i int) bool {
			return curr.Keys[i].Compare(key) >= 0
		})
	}

	return curr, idx
}

// findLeafLowerBound is FindLeafLowerBound with the leaf's read latch already
// released, for callers that want the leaf/index pair without managing the
// returned latch themselves.
func (b *BPlusTree) findLeafLowerBound(key types.Comparable) (*Node, int) {
	node, idx := b.FindLeafLowerBound(key)
	if node != nil {
		node.RUnlock()
	}
	return node, idx
}

// Delete removes key from the tree, returning whether it was present.
func (b *BPlusTree) Delete(key types.Comparable) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	root := b.Root
	root.Lock()
	ok := root.Remove(key)
	if !root.Leaf && root.N == 0 && len(root.Children) == 1 {
		b.Root = root.Children[0]
	}
	root.Unlock()
	return ok
}
