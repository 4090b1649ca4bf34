// Package codec owns the binary encoding of canonical Values and WAL entry
// payloads. BSON is the carrier: its native null/bool/int64/double/string/
// binary/array/document types map onto the eight Value variants one to one,
// doubles are stored as raw IEEE-754 bits (so NaN payloads, subnormals, and
// the -0.0 sign bit survive), and int64 vs double keeps Int and Float
// distinct on disk. Object keys are sorted before encoding so the same
// logical value always produces the same bytes.
package codec

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/stratadb/stratadb/pkg/value"
)

// EncodeValue serializes v as a single-field BSON document {"v": <v>}.
// BSON can only carry a document at top level, so scalars ride inside a
// fixed wrapper field.
func EncodeValue(v value.Value) ([]byte, error) {
	node, err := toBSON(v)
	if err != nil {
		return nil, err
	}
	return bson.Marshal(bson.D{{Key: "v", Value: node}})
}

// DecodeValue parses bytes produced by EncodeValue.
func DecodeValue(data []byte) (value.Value, error) {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return value.Value{}, fmt.Errorf("codec: unmarshal value: %w", err)
	}
	if len(doc) != 1 || doc[0].Key != "v" {
		return value.Value{}, fmt.Errorf("codec: malformed value wrapper document")
	}
	return fromBSON(doc[0].Value)
}

func toBSON(v value.Value) (any, error) {
	switch v.Kind() {
	case value.KindNull:
		return nil, nil
	case value.KindBool:
		b, _ := v.AsBool()
		return b, nil
	case value.KindInt:
		i, _ := v.AsInt()
		return i, nil
	case value.KindFloat:
		f, _ := v.AsFloat()
		return f, nil
	case value.KindString:
		s, _ := v.AsString()
		return s, nil
	case value.KindBytes:
		b, _ := v.AsBytes()
		return bson.Binary{Subtype: 0x00, Data: b}, nil
	case value.KindArray:
		arr, _ := v.AsArray()
		out := make(bson.A, len(arr))
		for i, e := range arr {
			node, err := toBSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = node
		}
		return out, nil
	case value.KindObject:
		obj, _ := v.AsObject()
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(bson.D, 0, len(obj))
		for _, k := range keys {
			node, err := toBSON(obj[k])
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: k, Value: node})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unknown value kind %v", v.Kind())
	}
}

func fromBSON(node any) (value.Value, error) {
	switch t := node.(type) {
	case nil:
		return value.Null(), nil
	case bson.Null:
		return value.Null(), nil
	case bool:
		return value.Bool(t), nil
	case int32:
		return value.Int(int64(t)), nil
	case int64:
		return value.Int(t), nil
	case float64:
		return value.Float(t), nil
	case string:
		return value.String(t), nil
	case bson.Binary:
		return value.Bytes(t.Data), nil
	case bson.A:
		elems := make([]value.Value, len(t))
		for i, e := range t {
			v, err := fromBSON(e)
			if err != nil {
				return value.Value{}, err
			}
			elems[i] = v
		}
		return value.Array(elems...), nil
	case bson.D:
		obj := make(map[string]value.Value, len(t))
		for _, e := range t {
			v, err := fromBSON(e.Value)
			if err != nil {
				return value.Value{}, err
			}
			obj[e.Key] = v
		}
		return value.Object(obj), nil
	default:
		return value.Value{}, fmt.Errorf("codec: unsupported BSON node %T", node)
	}
}
