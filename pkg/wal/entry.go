package wal

import (
	"encoding/binary"
	"io"
)

// LengthPrefixSize is the width of the leading total_len field.
const LengthPrefixSize = 4

// TrailerSize is the width of the trailing CRC-32 field.
const TrailerSize = 4

// MinFrameLen is the smallest legal total_len value: a zero-length payload
// still carries the 1-byte type tag and the 4-byte CRC. Anything smaller is
// the historical length-underflow corruption signal the codec guards against.
const MinFrameLen = 1 + TrailerSize

// EntryType identifies the kind of a WAL entry. Values are stable on disk;
// never renumber an existing tag.
type EntryType uint8

const (
	EntryBegin    EntryType = 1 // BeginTxn(txn_id, run_id)
	EntryCommit   EntryType = 2 // CommitTxn(txn_id, commit_version)
	EntryAbort    EntryType = 3 // AbortTxn(txn_id)
	EntryPut      EntryType = 4 // Put(txn_id, key, value, version, timestamp)
	EntryDelete   EntryType = 5 // Delete(txn_id, key, version)
	EntryEvent    EntryType = 6 // EventAppend(run, stream, seq, payload)
	EntryStateCas EntryType = 7 // StateCas(run, key, counter, value)

	EntryVectorSet              EntryType = 8 // VectorSet(run, collection, key, vector, metadata, version)
	EntryVectorCollectionCreate EntryType = 9 // VectorCollectionCreate(run, collection, dim, metric, storage_dtype)

	// EntryJsonPatch is WAL type tag 0x23. The twin label "JsonDestroy" from
	// the ambiguous source material does not get its own tag: JSON key
	// removal is an ordinary EntryDelete, since JSON documents live in the
	// same unified store as every other primitive.
	EntryJsonPatch EntryType = 0x23

	EntryCheckpoint EntryType = 0x24 // Checkpoint(active_runs, snapshot_id)
)

// Valid reports whether t is one of the registered entry type tags.
func (t EntryType) Valid() bool {
	switch t {
	case EntryBegin, EntryCommit, EntryAbort, EntryPut, EntryDelete, EntryEvent,
		EntryStateCas, EntryVectorSet, EntryVectorCollectionCreate, EntryJsonPatch, EntryCheckpoint:
		return true
	default:
		return false
	}
}

// WALEntry is one decoded frame: its type tag and raw payload bytes. Payload
// encoding is owned by the caller (pkg/store, pkg/txn) — the codec only
// frames and checksums opaque bytes.
type WALEntry struct {
	Type    EntryType
	Payload []byte
}

// Encode writes the full frame — length prefix, type tag, payload, CRC — to w.
func (e *WALEntry) Encode(w io.Writer) (int64, error) {
	// total_len counts the type tag, payload, and CRC — not the length
	// prefix itself.
	totalLen := uint32(1 + len(e.Payload) + TrailerSize)

	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	var lenBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], totalLen)
	*buf = append(*buf, lenBuf[:]...)
	*buf = append(*buf, byte(e.Type))
	*buf = append(*buf, e.Payload...)

	sum := ChecksumIEEE((*buf)[LengthPrefixSize:])
	var crcBuf [TrailerSize]byte
	binary.BigEndian.PutUint32(crcBuf[:], sum)
	*buf = append(*buf, crcBuf[:]...)

	n, err := w.Write(*buf)
	return int64(n), err
}

// EncodedSize returns the number of bytes Encode will write for this entry.
func (e *WALEntry) EncodedSize() int {
	return LengthPrefixSize + 1 + len(e.Payload) + TrailerSize
}
