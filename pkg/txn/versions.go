package txn

import "github.com/stratadb/stratadb/pkg/version"

// commitVersions hands out the monotone txn-version every commit is
// stamped with, and lets a new transaction read "current" without minting
// a version of its own — a snapshot is a read, not a write.
type commitVersions struct {
	counter *version.CounterSource
}

func newCommitVersions() *commitVersions {
	return &commitVersions{counter: version.NewCounter(version.KindTxn)}
}

func (c *commitVersions) current() version.Version { return c.counter.Current() }
func (c *commitVersions) next() version.Version     { return c.counter.Next() }
func (c *commitVersions) advance(to uint64)         { c.counter.Advance(to) }
