package store

import (
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
)

// Entry is one version of a key: either a live value or a tombstone, stamped
// with the version that produced it and the wall-clock microsecond timestamp
// it was written at. ExpiresAtUs is 0 when the key carries no TTL.
//
// Version is the assigned version — Txn for KV/JSON/Vector/Run writes,
// Sequence for event appends, Counter for CAS swaps. CommitValue is the
// commit-version value of the transaction that made the entry visible; for
// Txn-versioned entries the two coincide. Snapshot visibility is always
// decided on CommitValue, so a Sequence-versioned event is correctly
// invisible to transactions whose snapshot predates its commit.
type Entry struct {
	Value       value.Value
	Version     version.Version
	CommitValue uint64
	TimestampUs uint64
	Tombstone   bool
	ExpiresAtUs uint64
}

// Chain is the MVCC version history for one key: entries are kept newest
// first so GetLatest is O(1) and GetAt is a short linear scan from the head,
// which is the common case — most reads want the latest or near-latest
// version, not ancient history.
//
// TrimmedBelow is nonzero once retention has dropped history from this
// chain; it distinguishes "the key did not exist at that version" from "the
// version existed but was trimmed" so reads below the floor can raise
// HistoryTrimmed instead of NotFound.
type Chain struct {
	Entries      []Entry
	TrimmedBelow uint64
}

func newChain() *Chain {
	return &Chain{}
}

// prepend adds e as the new head. Callers must already hold the shard lock
// and must ensure e.CommitValue is at least every existing entry's — the
// txn engine only appends in commit order, so this always holds.
func (c *Chain) prepend(e Entry) {
	c.Entries = append(c.Entries, Entry{})
	copy(c.Entries[1:], c.Entries)
	c.Entries[0] = e
}

// Latest returns the chain's head entry.
func (c *Chain) Latest() (Entry, bool) {
	if len(c.Entries) == 0 {
		return Entry{}, false
	}
	return c.Entries[0], true
}

// At returns the newest entry visible at maxVersion. A Txn-kind maxVersion
// is a snapshot read and is checked against CommitValue; a Sequence or
// Counter maxVersion addresses the primitive's own version space and only
// matches entries of the same kind.
func (c *Chain) At(maxVersion version.Version) (Entry, bool) {
	for _, e := range c.Entries {
		if maxVersion.Kind == version.KindTxn {
			if e.CommitValue <= maxVersion.Value {
				return e, true
			}
			continue
		}
		if e.Version.Kind == maxVersion.Kind && e.Version.Value <= maxVersion.Value {
			return e, true
		}
	}
	return Entry{}, false
}

// TrimBefore drops every entry committed before keepFrom (a commit-version
// value), except it always keeps at least one entry (the retained floor) so
// a read against a version older than the floor can still report
// HistoryTrimmed with an accurate earliest-retained version rather than
// silently returning "not found".
func (c *Chain) TrimBefore(keepFrom version.Version) (trimmed int) {
	if len(c.Entries) <= 1 {
		return 0
	}
	cut := len(c.Entries)
	for i, e := range c.Entries {
		if i == 0 {
			continue
		}
		if e.CommitValue < keepFrom.Value {
			cut = i
			break
		}
	}
	if cut >= len(c.Entries) {
		return 0
	}
	trimmed = len(c.Entries) - cut
	c.Entries = c.Entries[:cut]
	if floor := c.Entries[len(c.Entries)-1].CommitValue; floor > c.TrimmedBelow {
		c.TrimmedBelow = floor
	}
	return trimmed
}

// CountSince reports how many entries were committed strictly after the
// given snapshot — the chain growth a validating transaction compares
// against the path log.
func (c *Chain) CountSince(after version.Version) int {
	n := 0
	for _, e := range c.Entries {
		if e.CommitValue > after.Value {
			n++
		}
	}
	return n
}

// EarliestRetained reports the oldest version still present in the chain.
func (c *Chain) EarliestRetained() (version.Version, bool) {
	if len(c.Entries) == 0 {
		return version.Version{}, false
	}
	return c.Entries[len(c.Entries)-1].Version, true
}
