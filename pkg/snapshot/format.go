// Package snapshot persists point-in-time store state: a fixed header, one
// zstd-compressed CRC-framed region per primitive present, and a whole-file
// CRC trailer. A snapshot plus the WAL tail after its recorded offset is a
// complete recovery input; everything before that offset becomes garbage
// the moment the snapshot is atomically renamed into place.
package snapshot

import (
	"encoding/binary"

	"github.com/stratadb/stratadb/pkg/key"
)

// Magic identifies a StrataDB snapshot file; the trailing "01" is the
// format generation.
const Magic = "STRATA01"

// FormatVersion is bumped only with a new Magic generation.
const FormatVersion = 1

// headerSize is the fixed byte length of the header: magic, version,
// created_us, run_scope, wal_offset, snapshot_version, primitive_count.
const headerSize = 8 + 4 + 8 + 1 + 8 + 8 + 4

// runScopeAll marks a snapshot covering every run; per-run scoped exports
// reuse the same format with a nonzero scope byte.
const (
	runScopeAll uint8 = 0
	runScopeOne uint8 = 1
)

// Region kinds are the TypeTag values, except Vector which is 7.
const regionKindVector = 7

func regionKind(t key.TypeTag) uint8 {
	if t == key.TypeVector {
		return regionKindVector
	}
	return uint8(t)
}

func typeTagOf(kind uint8) (key.TypeTag, bool) {
	switch kind {
	case regionKindVector:
		return key.TypeVector, true
	case uint8(key.TypeKV), uint8(key.TypeEvent), uint8(key.TypeStateMachine),
		uint8(key.TypeTrace), uint8(key.TypeRunMetadata):
		return key.TypeTag(kind), true
	default:
		return 0, false
	}
}

// Meta is the header's variable content.
type Meta struct {
	CreatedUs       uint64
	RunScoped       bool
	WALOffset       int64
	SnapshotVersion uint64
}

func encodeHeader(meta Meta, primitiveCount int) []byte {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, Magic...)
	buf = binary.BigEndian.AppendUint32(buf, FormatVersion)
	buf = binary.BigEndian.AppendUint64(buf, meta.CreatedUs)
	scope := runScopeAll
	if meta.RunScoped {
		scope = runScopeOne
	}
	buf = append(buf, scope)
	buf = binary.BigEndian.AppendUint64(buf, uint64(meta.WALOffset))
	buf = binary.BigEndian.AppendUint64(buf, meta.SnapshotVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(primitiveCount))
	return buf
}

func decodeHeader(buf []byte) (Meta, int, error) {
	if len(buf) < headerSize {
		return Meta{}, 0, errTruncated
	}
	if string(buf[:8]) != Magic {
		return Meta{}, 0, errBadMagic
	}
	if binary.BigEndian.Uint32(buf[8:12]) != FormatVersion {
		return Meta{}, 0, errBadVersion
	}
	var meta Meta
	meta.CreatedUs = binary.BigEndian.Uint64(buf[12:20])
	meta.RunScoped = buf[20] == runScopeOne
	meta.WALOffset = int64(binary.BigEndian.Uint64(buf[21:29]))
	meta.SnapshotVersion = binary.BigEndian.Uint64(buf[29:37])
	count := int(binary.BigEndian.Uint32(buf[37:41]))
	return meta, count, nil
}
