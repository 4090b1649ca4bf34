// Package retention owns version-history trimming and TTL expiry: a
// per-run policy decides how much history each key keeps, and a background
// worker sweeps expired values and over-budget versions on a fixed cadence.
package retention

import (
	"time"

	"github.com/stratadb/stratadb/pkg/store"
)

// PolicyKind discriminates the policy variants.
type PolicyKind uint8

const (
	KindKeepAll PolicyKind = iota
	KindKeepLastN
	KindKeepFor
	KindComposite
)

// Policy is a per-run retention rule. Composite keeps a version if any
// member keeps it, so composing policies never trims more than the loosest
// member would.
type Policy struct {
	Kind  PolicyKind
	N     int
	For   time.Duration
	Parts []Policy
}

func KeepAll() Policy             { return Policy{Kind: KindKeepAll} }
func KeepLastN(n int) Policy      { return Policy{Kind: KindKeepLastN, N: n} }
func KeepFor(d time.Duration) Policy { return Policy{Kind: KindKeepFor, For: d} }
func Composite(parts ...Policy) Policy {
	return Policy{Kind: KindComposite, Parts: parts}
}

// floorFor computes the commit-value floor below which entries may be
// trimmed: 0 means trim nothing. entries are newest first.
func (p Policy) floorFor(entries []store.Entry, nowUs uint64) uint64 {
	switch p.Kind {
	case KindKeepLastN:
		if p.N < 1 || len(entries) <= p.N {
			return 0
		}
		return entries[p.N-1].CommitValue
	case KindKeepFor:
		if uint64(p.For.Microseconds()) > nowUs {
			return 0
		}
		cutoff := nowUs - uint64(p.For.Microseconds())
		// Keep the newest entry unconditionally; below it, keep everything
		// still inside the window.
		floor := entries[0].CommitValue
		for _, e := range entries[1:] {
			if e.TimestampUs >= cutoff {
				floor = e.CommitValue
			}
		}
		return floor
	case KindComposite:
		var floor uint64
		first := true
		for _, part := range p.Parts {
			f := part.floorFor(entries, nowUs)
			if f == 0 {
				return 0
			}
			if first || f < floor {
				floor = f
				first = false
			}
		}
		return floor
	default: // KeepAll
		return 0
	}
}
