package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stratadb/stratadb/pkg/metrics"
)

// Writer is the single append-only owner of the WAL file. commit returns
// only after the active Durability mode's guarantee is satisfied, per the
// ordering invariant that WAL precedes store visibility.
type Writer struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	buf     *bufio.Writer
	options Options

	offset         int64
	writesSinceFsync int

	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

// Open creates or appends to the WAL file at opts.DirPath/wal.log. In_memory
// mode opens nothing: Append only tracks an offset and never touches disk.
func Open(opts Options) (*Writer, error) {
	opts = opts.Normalize()

	w := &Writer{options: opts}

	if opts.Durability == InMemory {
		return w, nil
	}

	if err := os.MkdirAll(opts.DirPath, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	path := filepath.Join(opts.DirPath, "wal.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w.path = path
	w.file = f
	w.buf = bufio.NewWriterSize(f, opts.BufferSize)
	w.offset = info.Size()
	w.done = make(chan struct{})

	if opts.Durability == Buffered {
		w.ticker = time.NewTicker(opts.BufferedInterval)
		go w.backgroundFlush()
	}

	return w, nil
}

// Append encodes and writes entry, applying the durability policy, and
// returns the byte offset at which the frame starts.
func (w *Writer) Append(entry *WALEntry) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	frameOffset := w.offset

	if w.options.Durability == InMemory {
		w.offset += int64(entry.EncodedSize())
		return frameOffset, nil
	}

	n, err := entry.Encode(w.buf)
	if err != nil {
		return frameOffset, err
	}
	w.offset += n
	w.writesSinceFsync++
	metrics.WALBytesWritten.Add(float64(n))

	switch w.options.Durability {
	case Strict:
		return frameOffset, w.syncLocked()
	case Buffered:
		if w.writesSinceFsync >= w.options.BufferedBatchWrites {
			return frameOffset, w.syncLocked()
		}
	}

	return frameOffset, nil
}

// Offset returns the current end-of-log byte offset.
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Sync forces the durable write of everything appended so far.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if w.options.Durability == InMemory {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.writesSinceFsync = 0
	metrics.WALFsyncsTotal.Inc()
	return nil
}

// Truncate shrinks the WAL file to size, used after a snapshot makes
// everything before wal_offset_at_snapshot redundant. The caller must hold
// no concurrent Append in flight.
func (w *Writer) Truncate(size int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.options.Durability == InMemory {
		w.offset = size
		return nil
	}

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Truncate(size); err != nil {
		return err
	}
	if _, err := w.file.Seek(size, 0); err != nil {
		return err
	}
	w.offset = size
	return nil
}

// Close flushes and fsyncs any pending writes, stops the background
// flusher if one is running, and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}

	if w.options.Durability == InMemory {
		return nil
	}

	if err := w.syncLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *Writer) backgroundFlush() {
	for {
		select {
		case <-w.ticker.C:
			w.Sync()
		case <-w.done:
			return
		}
	}
}
