package codec

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/stratadb/stratadb/pkg/version"
)

// WAL entry payloads. Each struct marshals to one BSON document; uint64
// version values and timestamps ride in int64 fields bit-for-bit (BSON has
// no unsigned integer, and a cast round-trips every bit pattern).

// Begin is the BeginTxn(txn_id, run_id) payload.
type Begin struct {
	TxnID []byte `bson:"txn"`
	Run   []byte `bson:"run"`
}

// Commit is the CommitTxn(txn_id, commit_version) payload.
type Commit struct {
	TxnID         []byte `bson:"txn"`
	CommitVersion int64  `bson:"cv"`
}

// Abort is the AbortTxn(txn_id) payload.
type Abort struct {
	TxnID []byte `bson:"txn"`
}

// Put is the Put(txn_id, key, value, version, timestamp) payload. Key is the
// frozen composite-key encoding; Value is an EncodeValue document.
type Put struct {
	TxnID       []byte `bson:"txn"`
	Key         []byte `bson:"key"`
	Value       []byte `bson:"val"`
	VersionKind int32  `bson:"vk"`
	Version     int64  `bson:"vv"`
	TimestampUs int64  `bson:"ts"`
	ExpiresAtUs int64  `bson:"exp,omitempty"`
}

// Delete is the Delete(txn_id, key, version) payload.
type Delete struct {
	TxnID       []byte `bson:"txn"`
	Key         []byte `bson:"key"`
	VersionKind int32  `bson:"vk"`
	Version     int64  `bson:"vv"`
	TimestampUs int64  `bson:"ts"`
}

// EventAppend is the EventAppend(run, stream, seq, payload) payload. Key is
// the full composite key of the appended event (its namespace carries the
// run); Stream and Seq are duplicated out of the key for direct access.
type EventAppend struct {
	TxnID       []byte `bson:"txn"`
	Key         []byte `bson:"key"`
	Stream      []byte `bson:"stream"`
	Seq         int64  `bson:"seq"`
	Payload     []byte `bson:"val"`
	TimestampUs int64  `bson:"ts"`
}

// StateCas is the StateCas(run, key, counter, value) payload.
type StateCas struct {
	TxnID       []byte `bson:"txn"`
	Key         []byte `bson:"key"`
	Counter     int64  `bson:"ctr"`
	Value       []byte `bson:"val"`
	TimestampUs int64  `bson:"ts"`
}

// VectorSet is the VectorSet(run, collection, key, vector, metadata,
// version) payload. Record is the packed vector-record document the vector
// store keeps in the unified store (dtype-encoded data plus metadata).
type VectorSet struct {
	TxnID       []byte `bson:"txn"`
	Key         []byte `bson:"key"`
	Record      []byte `bson:"val"`
	TimestampUs int64  `bson:"ts"`
}

// VectorCollectionCreate is the VectorCollectionCreate(run, collection, dim,
// metric, storage_dtype) payload. Config is the collection-config document.
type VectorCollectionCreate struct {
	TxnID       []byte `bson:"txn"`
	Key         []byte `bson:"key"`
	Config      []byte `bson:"val"`
	TimestampUs int64  `bson:"ts"`
}

// JsonPatch is the JsonPatch(run, key, patches, version) payload. Op is one
// of "set", "merge", "remove"; Value is empty for "remove". Recovery
// re-applies the patch to the document state it has rebuilt so far, which
// reproduces the committed result deterministically.
type JsonPatch struct {
	TxnID       []byte `bson:"txn"`
	Key         []byte `bson:"key"`
	Op          string `bson:"op"`
	Path        string `bson:"path"`
	Value       []byte `bson:"val,omitempty"`
	TimestampUs int64  `bson:"ts"`
}

// Checkpoint is the Checkpoint(active_runs, snapshot_id) payload.
type Checkpoint struct {
	ActiveRuns      [][]byte `bson:"runs"`
	SnapshotID      string   `bson:"snap"`
	SnapshotVersion int64    `bson:"sv"`
}

// Marshal encodes any payload struct as its BSON document.
func Marshal(payload any) ([]byte, error) {
	data, err := bson.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal payload: %w", err)
	}
	return data, nil
}

// Unmarshal decodes data into the payload struct out points to.
func Unmarshal(data []byte, out any) error {
	if err := bson.Unmarshal(data, out); err != nil {
		return fmt.Errorf("codec: unmarshal payload: %w", err)
	}
	return nil
}

// VersionToWire splits a Version into the (kind, value) pair payload
// structs carry.
func VersionToWire(v version.Version) (int32, int64) {
	return int32(v.Kind), int64(v.Value)
}

// VersionFromWire rebuilds a Version from its wire pair.
func VersionFromWire(kind int32, val int64) (version.Version, error) {
	k := version.Kind(kind)
	switch k {
	case version.KindTxn, version.KindSequence, version.KindCounter:
		return version.Version{Kind: k, Value: uint64(val)}, nil
	default:
		return version.Version{}, fmt.Errorf("codec: unknown version kind %d", kind)
	}
}
