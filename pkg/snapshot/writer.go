package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/DataDog/zstd"

	"github.com/stratadb/stratadb/pkg/codec"
	"github.com/stratadb/stratadb/pkg/key"
	"github.com/stratadb/stratadb/pkg/store"
)

// allTypeTags is the frozen region write order: primitives serialize in
// TypeTag order so the same store state always produces the same file.
var allTypeTags = []key.TypeTag{
	key.TypeKV, key.TypeEvent, key.TypeStateMachine,
	key.TypeTrace, key.TypeRunMetadata, key.TypeVector,
}

const (
	flagTombstone = 1 << 0
)

// Write serializes st into path: header, one region per primitive type
// actually present, whole-file CRC trailer. The file is written to a
// sibling temp name, fsynced, then renamed into place so a crash never
// leaves a half-written snapshot under the final name.
func Write(path string, st *store.Store, meta Meta) error {
	type region struct {
		kind uint8
		body []byte
	}
	var regions []region
	for _, t := range allTypeTags {
		dumps := st.DumpByType(t)
		if len(dumps) == 0 {
			continue
		}
		raw, err := encodeRegionBody(dumps)
		if err != nil {
			return err
		}
		compressed, err := zstd.Compress(nil, raw)
		if err != nil {
			return fmt.Errorf("snapshot: compress region %d: %w", t, err)
		}
		regions = append(regions, region{kind: regionKind(t), body: compressed})
	}

	var buf []byte
	buf = append(buf, encodeHeader(meta, len(regions))...)
	for _, r := range regions {
		buf = append(buf, r.kind)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.body)))
		buf = append(buf, r.body...)
		crc := crc32.ChecksumIEEE(append([]byte{r.kind}, r.body...))
		buf = binary.BigEndian.AppendUint32(buf, crc)
	}
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", tmp, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return syncDir(filepath.Dir(path))
}

// syncDir fsyncs the directory so the rename itself is durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// encodeRegionBody packs a region's chains: per chain a length-prefixed
// composite key, the trim floor, and each entry with its versions,
// timestamp, flags, expiry, and BSON-encoded value.
func encodeRegionBody(dumps []store.ChainDump) ([]byte, error) {
	var buf []byte
	for _, d := range dumps {
		enc := d.Key.Encode()
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
		buf = binary.BigEndian.AppendUint64(buf, d.TrimmedBelow)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(d.Entries)))
		for _, e := range d.Entries {
			buf = append(buf, byte(e.Version.Kind))
			buf = binary.BigEndian.AppendUint64(buf, e.Version.Value)
			buf = binary.BigEndian.AppendUint64(buf, e.CommitValue)
			buf = binary.BigEndian.AppendUint64(buf, e.TimestampUs)
			var flags byte
			if e.Tombstone {
				flags |= flagTombstone
			}
			buf = append(buf, flags)
			buf = binary.BigEndian.AppendUint64(buf, e.ExpiresAtUs)
			if e.Tombstone {
				buf = binary.BigEndian.AppendUint32(buf, 0)
				continue
			}
			val, err := codec.EncodeValue(e.Value)
			if err != nil {
				return nil, err
			}
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(val)))
			buf = append(buf, val...)
		}
	}
	return buf, nil
}
