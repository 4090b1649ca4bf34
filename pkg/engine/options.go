package engine

import (
	"time"

	"github.com/stratadb/stratadb/pkg/retention"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/wal"
)

// Options is the full open-time configuration surface. Zero values mean
// "use the default", except for Durability (whose zero value is InMemory)
// and the buffered thresholds: a zero BufferedBatchWrites or BufferedInterval under
// Buffered durability elevates the mode to Strict (a zero threshold means
// fsync immediately either way).
type Options struct {
	// Tenant, App, Agent form the namespace prefix shared by every key.
	Tenant string
	App    string
	Agent  string

	// Durability picks the WAL writer mode.
	Durability wal.Durability

	// BufferedBatchWrites is the N-write fsync threshold in buffered mode.
	BufferedBatchWrites int

	// BufferedInterval is the time fsync threshold in buffered mode.
	BufferedInterval time.Duration

	// ShardCount is the unified-store shard count, rounded up to a power
	// of two.
	ShardCount int

	// Limits bounds every ingress path.
	Limits value.Limits

	// Retention maps run names to their retention policies; absent runs
	// keep everything.
	Retention map[string]retention.Policy

	// RetentionInterval is the TTL/trim sweep cadence.
	RetentionInterval time.Duration
}

// DefaultOptions mirrors the documented configuration defaults.
func DefaultOptions() Options {
	return Options{
		Tenant:              "default",
		App:                 "default",
		Agent:               "default",
		Durability:          wal.Buffered,
		BufferedBatchWrites: 1000,
		BufferedInterval:    100 * time.Millisecond,
		ShardCount:          store.DefaultShardCount,
		Limits:              value.DefaultLimits(),
		RetentionInterval:   retention.DefaultInterval,
	}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.Tenant == "" {
		o.Tenant = d.Tenant
	}
	if o.App == "" {
		o.App = d.App
	}
	if o.Agent == "" {
		o.Agent = d.Agent
	}
	if o.ShardCount <= 0 {
		o.ShardCount = d.ShardCount
	}
	if o.Limits == (value.Limits{}) {
		o.Limits = d.Limits
	}
	if o.RetentionInterval <= 0 {
		o.RetentionInterval = d.RetentionInterval
	}
	return o
}
