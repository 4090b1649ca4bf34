// Package types holds the small set of cross-package contracts shared by
// the ordered on-disk/in-memory structures (the unified store's B+Tree
// shards, cursors, and scans) without pulling those packages into each
// other.
package types

// Comparable is implemented by anything that can be used as a key in the
// adapted B+Tree. key.Key is the only production implementation; tests may
// supply their own to exercise the tree in isolation.
type Comparable interface {
	// Compare returns -1, 0, or 1 as the receiver is less than, equal to,
	// or greater than other. Comparing two values of different concrete
	// types is a programmer error and may panic.
	Compare(other Comparable) int
}
