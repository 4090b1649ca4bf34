package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/DataDog/zstd"

	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
	"github.com/stratadb/stratadb/pkg/version"
)

var (
	errTruncated  = errors.New("snapshot: truncated file")
	errBadMagic   = errors.New("snapshot: bad magic")
	errBadVersion = errors.New("snapshot: unsupported format version")
	errBadCRC     = errors.New("snapshot: checksum mismatch")
)

// Read parses and verifies the snapshot at path, returning its header meta
// and every chain it contains. Verification is strict: any truncation or
// CRC mismatch fails the whole read. Recovery returns that error, so a
// damaged snapshot fails the open; there is no fallback to another snapshot
// or to a full WAL replay.
func Read(path string) (Meta, []store.ChainDump, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, err
	}
	if len(buf) < headerSize+4 {
		return Meta{}, nil, errTruncated
	}

	fileCRC := binary.BigEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(buf[:len(buf)-4]) != fileCRC {
		return Meta{}, nil, errBadCRC
	}

	meta, count, err := decodeHeader(buf)
	if err != nil {
		return Meta{}, nil, err
	}

	var chains []store.ChainDump
	rest := buf[headerSize : len(buf)-4]
	for i := 0; i < count; i++ {
		if len(rest) < 1+4 {
			return Meta{}, nil, errTruncated
		}
		kind := rest[0]
		bodyLen := binary.BigEndian.Uint32(rest[1:5])
		if uint32(len(rest)) < 5+bodyLen+4 {
			return Meta{}, nil, errTruncated
		}
		body := rest[5 : 5+bodyLen]
		wantCRC := binary.BigEndian.Uint32(rest[5+bodyLen : 5+bodyLen+4])
		if crc32.ChecksumIEEE(append([]byte{kind}, body...)) != wantCRC {
			return Meta{}, nil, errBadCRC
		}
		rest = rest[5+bodyLen+4:]

		if _, ok := typeTagOf(kind); !ok {
			return Meta{}, nil, fmt.Errorf("snapshot: unknown region kind %d", kind)
		}
		raw, err := zstd.Decompress(nil, body)
		if err != nil {
			return Meta{}, nil, fmt.Errorf("snapshot: decompress region %d: %w", kind, err)
		}
		regionChains, err := decodeRegionBody(raw)
		if err != nil {
			return Meta{}, nil, err
		}
		chains = append(chains, regionChains...)
	}
	return meta, chains, nil
}

func decodeRegionBody(buf []byte) ([]store.ChainDump, error) {
	var out []store.ChainDump
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, errTruncated
		}
		keyLen := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < keyLen+8+4 {
			return nil, errTruncated
		}
		k, err := key.Decode(buf[:keyLen])
		if err != nil {
			return nil, err
		}
		buf = buf[keyLen:]
		trimmedBelow := binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
		entryCount := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]

		dump := store.ChainDump{Key: k, TrimmedBelow: trimmedBelow}
		for j := uint32(0); j < entryCount; j++ {
			if len(buf) < 1+8+8+8+1+8+4 {
				return nil, errTruncated
			}
			var e store.Entry
			e.Version = version.Version{Kind: version.Kind(buf[0]), Value: binary.BigEndian.Uint64(buf[1:9])}
			e.CommitValue = binary.BigEndian.Uint64(buf[9:17])
			e.TimestampUs = binary.BigEndian.Uint64(buf[17:25])
			flags := buf[25]
			e.Tombstone = flags&flagTombstone != 0
			e.ExpiresAtUs = binary.BigEndian.Uint64(buf[26:34])
			valLen := binary.BigEndian.Uint32(buf[34:38])
			buf = buf[38:]
			if uint32(len(buf)) < valLen {
				return nil, errTruncated
			}
			if valLen > 0 {
				v, err := codec.DecodeValue(buf[:valLen])
				if err != nil {
					return nil, err
				}
				e.Value = v
				buf = buf[valLen:]
			}
			dump.Entries = append(dump.Entries, e)
		}
		out = append(out, dump)
	}
	return out, nil
}
