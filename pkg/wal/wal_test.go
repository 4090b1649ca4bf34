package wal

import (
	"bytes"
	"testing"
)

func TestChecksumIEEE(t *testing.T) {
	data := []byte("hello WAL world")
	crc := ChecksumIEEE(data)

	if !ValidateChecksum(data, crc) {
		t.Error("checksum validation failed for valid data")
	}
	if ValidateChecksum([]byte("corrupted"), crc) {
		t.Error("checksum validation passed for corrupted data")
	}
}

func TestEntryPool(t *testing.T) {
	entry := AcquireEntry()
	if entry == nil {
		t.Fatal("failed to acquire entry")
	}

	entry.Type = EntryPut
	entry.Payload = append(entry.Payload, []byte("test")...)

	ReleaseEntry(entry)

	entry2 := AcquireEntry()
	if len(entry2.Payload) != 0 {
		t.Error("released entry payload length should be 0")
	}
	if entry2.Type != 0 {
		t.Error("released entry type should be zeroed")
	}
}

func TestBufferPool(t *testing.T) {
	bufPtr := AcquireBuffer()
	if bufPtr == nil {
		t.Fatal("AcquireBuffer returned nil")
	}

	*bufPtr = append(*bufPtr, []byte("test")...)
	ReleaseBuffer(bufPtr)

	bufPtr2 := AcquireBuffer()
	if len(*bufPtr2) != 0 {
		t.Errorf("acquired buffer should have length 0, got %d", len(*bufPtr2))
	}
	ReleaseBuffer(bufPtr2)
}

func TestEntryEncodeRoundTrip(t *testing.T) {
	entry := &WALEntry{Type: EntryPut, Payload: []byte("logging data")}

	var buf bytes.Buffer
	n, err := entry.Encode(&buf)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if n != int64(entry.EncodedSize()) {
		t.Errorf("expected to write %d bytes, wrote %d", entry.EncodedSize(), n)
	}

	if buf.Len() != entry.EncodedSize() {
		t.Errorf("buffer length mismatch: got %d, want %d", buf.Len(), entry.EncodedSize())
	}
}

func TestEntryTypeValid(t *testing.T) {
	if !EntryPut.Valid() {
		t.Error("EntryPut should be valid")
	}
	if !EntryJsonPatch.Valid() {
		t.Error("EntryJsonPatch should be valid")
	}
	if EntryType(0xEE).Valid() {
		t.Error("arbitrary unregistered tag should not be valid")
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.BufferSize <= 0 {
		t.Error("expected positive BufferSize")
	}
	if opts.Durability != Buffered {
		t.Error("expected Buffered as the default durability mode")
	}
	if opts.BufferedInterval <= 0 {
		t.Error("expected positive BufferedInterval")
	}
}

func TestOptionsNormalizeElevatesToStrict(t *testing.T) {
	opts := Options{Durability: Buffered, BufferedBatchWrites: 0, BufferedInterval: 0}.Normalize()
	if opts.Durability != Strict {
		t.Error("a zero threshold on buffered mode must elevate to strict")
	}
}
