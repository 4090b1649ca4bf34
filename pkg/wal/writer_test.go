package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterBufferedIntervalFlush(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Options{
		DirPath:             dir,
		Durability:          Buffered,
		BufferedBatchWrites: 1000,
		BufferedInterval:    20 * time.Millisecond,
		BufferSize:          1024,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := w.Append(&WALEntry{Type: EntryPut, Payload: []byte("some data")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	info, err := os.Stat(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected the background flusher to have synced the buffered write")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWriterBufferedBatchFlush(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Options{
		DirPath:             dir,
		Durability:          Buffered,
		BufferedBatchWrites: 2,
		BufferedInterval:    time.Hour, // effectively disabled for this test
		BufferSize:          4096,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entry := &WALEntry{Type: EntryPut, Payload: []byte("12345")}

	if _, err := w.Append(entry); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := w.Append(entry); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected a sync once the batch-write threshold was reached")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWriterStrictSyncsEveryAppend(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Options{DirPath: dir, Durability: Strict})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	entry := &WALEntry{Type: EntryPut, Payload: []byte("data")}
	if _, err := w.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(entry.EncodedSize()) {
		t.Errorf("expected file to contain exactly one synced frame (%d bytes), got %d", entry.EncodedSize(), info.Size())
	}
}

func TestWriterInMemoryNeverTouchesDisk(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Options{DirPath: dir, Durability: InMemory})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entry := &WALEntry{Type: EntryPut, Payload: []byte("data")}
	if _, err := w.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if w.Offset() != int64(entry.EncodedSize()) {
		t.Errorf("in-memory writer should still track offsets, got %d", w.Offset())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("in-memory mode must not create any file, found %v", entries)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOptionsNormalizeZeroIntervalElevatesToStrict(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Options{
		DirPath:             dir,
		Durability:          Buffered,
		BufferedBatchWrites: 1000,
		BufferedInterval:    0,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	entry := &WALEntry{Type: EntryPut, Payload: []byte("data")}
	if _, err := w.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(entry.EncodedSize()) {
		t.Error("a zero buffered_interval_ms must elevate to strict, syncing on every append")
	}
}

func TestWriterTruncate(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Options{DirPath: dir, Durability: Strict})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	entry := &WALEntry{Type: EntryPut, Payload: []byte("data")}
	offsetAtSnapshot, err := w.Append(entry)
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := w.Append(entry); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	if err := w.Truncate(offsetAtSnapshot); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	if w.Offset() != offsetAtSnapshot {
		t.Errorf("expected offset %d after truncate, got %d", offsetAtSnapshot, w.Offset())
	}

	info, err := os.Stat(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != offsetAtSnapshot {
		t.Errorf("expected file size %d after truncate, got %d", offsetAtSnapshot, info.Size())
	}
}
