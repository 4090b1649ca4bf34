package wal

import "time"

// Durability selects how a commit's WAL record is made durable before
// commit returns.
type Durability int

const (
	// InMemory keeps entries in the process only; a crash loses everything
	// since the last snapshot. No underlying file is even opened.
	InMemory Durability = iota

	// Buffered fsyncs after N writes or T milliseconds, whichever fires
	// first, via a background flusher goroutine started at open.
	Buffered

	// Strict fsyncs on every commit.
	Strict
)

// Options configures a Writer. DefaultOptions mirrors the values named in
// the configuration surface: buffered_batch_writes=1000,
// buffered_interval_ms=100. A zero on either of those elevates Buffered to
// Strict, since a zero threshold means "fsync immediately" either way.
type Options struct {
	DirPath string

	Durability Durability

	// BufferedBatchWrites is the write-count threshold for a buffered fsync.
	BufferedBatchWrites int

	// BufferedInterval is the time threshold for a buffered fsync.
	BufferedInterval time.Duration

	// BufferSize sizes the in-process bufio.Writer sitting in front of the file.
	BufferSize int
}

func DefaultOptions() Options {
	return Options{
		DirPath:             "./wal",
		Durability:          Buffered,
		BufferedBatchWrites: 1000,
		BufferedInterval:    100 * time.Millisecond,
		BufferSize:          64 * 1024,
	}
}

// Normalize applies the zero-elevates-to-strict rule and fills in a zero
// BufferSize with its default; other fields are left as given.
func (o Options) Normalize() Options {
	if o.Durability == Buffered && (o.BufferedBatchWrites <= 0 || o.BufferedInterval <= 0) {
		o.Durability = Strict
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultOptions().BufferSize
	}
	return o
}
