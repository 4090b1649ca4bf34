// Package wire implements the §6.3 textual formats the core produces for
// collaborators: Value and Version JSON marshaling with the $f64/$bytes/
// $absent markers, built directly on encoding/json.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
)

// MarshalValue encodes v per §6.3: finite floats and ints are plain JSON
// numbers (floats always carry a decimal point or exponent so a finite
// Float(1.0) never collides on the wire with Int(1), preserving type
// identity across encode/decode per V1); non-finite floats and negative
// zero use {"$f64": "..."}; Bytes uses {"$bytes": "<base64>"}.
func MarshalValue(v value.Value) ([]byte, error) {
	tree, err := toJSONTree(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func toJSONTree(v value.Value) (any, error) {
	switch v.Kind() {
	case value.KindNull:
		return nil, nil
	case value.KindBool:
		b, _ := v.AsBool()
		return b, nil
	case value.KindInt:
		i, _ := v.AsInt()
		return json.Number(strconv.FormatInt(i, 10)), nil
	case value.KindFloat:
		f, _ := v.AsFloat()
		if kind := value.SpecialFloat(v); kind != value.NotSpecial {
			return map[string]string{"$f64": specialFloatToken(kind)}, nil
		}
		return json.Number(formatFiniteFloat(f)), nil
	case value.KindString:
		s, _ := v.AsString()
		return s, nil
	case value.KindBytes:
		b, _ := v.AsBytes()
		return map[string]string{"$bytes": base64.StdEncoding.EncodeToString(b)}, nil
	case value.KindArray:
		arr, _ := v.AsArray()
		out := make([]any, len(arr))
		for i, e := range arr {
			t, err := toJSONTree(e)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	case value.KindObject:
		obj, _ := v.AsObject()
		out := make(map[string]any, len(obj))
		for k, e := range obj {
			t, err := toJSONTree(e)
			if err != nil {
				return nil, err
			}
			out[k] = t
		}
		return out, nil
	default:
		return nil, fmt.Errorf("wire: unknown value kind %v", v.Kind())
	}
}

func specialFloatToken(kind value.SpecialFloatKind) string {
	switch kind {
	case value.NaN:
		return "NaN"
	case value.PositiveInf:
		return "+Inf"
	case value.NegativeInf:
		return "-Inf"
	case value.NegativeZero:
		return "-0.0"
	default:
		return ""
	}
}

// formatFiniteFloat renders f so the literal always contains a '.' or an
// exponent marker, distinguishing it from an Int's plain-integer literal.
func formatFiniteFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'E' {
			return s
		}
	}
	return s + ".0"
}

// UnmarshalValue decodes data per the same rules MarshalValue encodes with.
func UnmarshalValue(data []byte) (value.Value, error) {
	dec := json.NewDecoder(jsonReaderFromBytes(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return value.Value{}, err
	}
	return fromJSONTree(tree)
}

func fromJSONTree(tree any) (value.Value, error) {
	switch t := tree.(type) {
	case nil:
		return value.Null(), nil
	case bool:
		return value.Bool(t), nil
	case json.Number:
		s := string(t)
		isFloat := false
		for _, c := range s {
			if c == '.' || c == 'e' || c == 'E' {
				isFloat = true
				break
			}
		}
		if isFloat {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return value.Value{}, err
			}
			return value.Float(f), nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.Int(i), nil
	case string:
		return value.String(t), nil
	case []any:
		elems := make([]value.Value, len(t))
		for i, e := range t {
			v, err := fromJSONTree(e)
			if err != nil {
				return value.Value{}, err
			}
			elems[i] = v
		}
		return value.Array(elems...), nil
	case map[string]any:
		if marker, ok := asMarkerObject(t); ok {
			return decodeMarker(marker)
		}
		obj := make(map[string]value.Value, len(t))
		for k, e := range t {
			v, err := fromJSONTree(e)
			if err != nil {
				return value.Value{}, err
			}
			obj[k] = v
		}
		return value.Object(obj), nil
	default:
		return value.Value{}, fmt.Errorf("wire: unsupported JSON node %T", tree)
	}
}

// asMarkerObject reports whether obj has exactly one key and that key is one
// of the recognized markers — an object with "$bytes" plus other keys is a
// plain object, per §6.3.
func asMarkerObject(obj map[string]any) (map[string]any, bool) {
	if len(obj) != 1 {
		return nil, false
	}
	for k := range obj {
		switch k {
		case "$f64", "$bytes", "$absent":
			return obj, true
		}
	}
	return nil, false
}

func decodeMarker(obj map[string]any) (value.Value, error) {
	if raw, ok := obj["$f64"]; ok {
		s, ok := raw.(string)
		if !ok {
			return value.Value{}, fmt.Errorf("wire: $f64 marker must be a string")
		}
		switch s {
		case "NaN":
			return value.Float(nan()), nil
		case "+Inf":
			return value.Float(posInf()), nil
		case "-Inf":
			return value.Float(negInf()), nil
		case "-0.0":
			return value.Float(negZero()), nil
		default:
			return value.Value{}, fmt.Errorf("wire: unrecognized $f64 token %q", s)
		}
	}
	if raw, ok := obj["$bytes"]; ok {
		s, ok := raw.(string)
		if !ok {
			return value.Value{}, fmt.Errorf("wire: $bytes marker must be a string")
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bytes(b), nil
	}
	if _, ok := obj["$absent"]; ok {
		return value.Value{}, errAbsentIsNotAValue
	}
	return value.Value{}, fmt.Errorf("wire: unrecognized marker object")
}

var errAbsentIsNotAValue = fmt.Errorf("wire: $absent is a CAS predicate, not decodable as a Value")

// MarshalVersion encodes a Version as {"type":"txn|sequence|counter","value":<u64>}.
func MarshalVersion(v version.Version) ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value uint64 `json:"value"`
	}{Type: v.Kind.String(), Value: v.Value})
}

func UnmarshalVersion(data []byte) (version.Version, error) {
	var raw struct {
		Type  string `json:"type"`
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return version.Version{}, err
	}
	switch raw.Type {
	case "txn":
		return version.Txn(raw.Value), nil
	case "sequence":
		return version.Sequence(raw.Value), nil
	case "counter":
		return version.Counter(raw.Value), nil
	default:
		return version.Version{}, fmt.Errorf("wire: unrecognized version type %q", raw.Type)
	}
}
