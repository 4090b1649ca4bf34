package codec

import (
	"math"
	"testing"

	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
)

func roundTrip(t *testing.T, v value.Value) value.Value {
	t.Helper()
	data, err := EncodeValue(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeValue(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestValueRoundTripPreservesKinds(t *testing.T) {
	cases := []value.Value{
		value.Null(),
		value.Bool(true),
		value.Bool(false),
		value.Int(0),
		value.Int(-1),
		value.Int(math.MaxInt64),
		value.Int(math.MinInt64),
		value.Float(3.14),
		value.String(""),
		value.String("héllo"),
		value.Bytes(nil),
		value.Array(value.Int(1), value.String("two"), value.Null()),
		value.Object(map[string]value.Value{
			"nested": value.Object(map[string]value.Value{"x": value.Float(1.5)}),
			"list":   value.Array(value.Bool(false)),
		}),
	}
	for _, v := range cases {
		out := roundTrip(t, v)
		if out.Kind() != v.Kind() {
			t.Fatalf("kind changed: %v -> %v", v.Kind(), out.Kind())
		}
		if !v.Equal(out) && v.Kind() != value.KindFloat {
			t.Fatalf("value changed: %v -> %v", v, out)
		}
	}
}

func TestIntNeverDecodesAsFloat(t *testing.T) {
	out := roundTrip(t, value.Int(1))
	if out.Kind() != value.KindInt {
		t.Fatalf("Int(1) decoded as %v", out.Kind())
	}
	out = roundTrip(t, value.Float(1.0))
	if out.Kind() != value.KindFloat {
		t.Fatalf("Float(1.0) decoded as %v", out.Kind())
	}
}

func TestFloatBitExactRoundTrip(t *testing.T) {
	cases := []float64{
		0.0,
		math.Copysign(0, -1),
		1.0 + 2*math.SmallestNonzeroFloat64,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64, // subnormal
		math.Inf(1),
		math.Inf(-1),
	}
	for _, f := range cases {
		out := roundTrip(t, value.Float(f))
		got, _ := out.AsFloat()
		if math.Float64bits(got) != math.Float64bits(f) {
			t.Fatalf("float bits changed: %x -> %x", math.Float64bits(f), math.Float64bits(got))
		}
	}

	out := roundTrip(t, value.Float(math.NaN()))
	if got, _ := out.AsFloat(); !math.IsNaN(got) {
		t.Fatalf("NaN decoded as %v", got)
	}
}

func TestAllByteValuesRoundTrip(t *testing.T) {
	raw := make([]byte, 256)
	for i := range raw {
		raw[i] = byte(i)
	}
	out := roundTrip(t, value.Bytes(raw))
	got, ok := out.AsBytes()
	if !ok {
		t.Fatalf("Bytes decoded as %v", out.Kind())
	}
	if string(got) != string(raw) {
		t.Fatal("byte payload changed")
	}
}

func TestBytesNeverDecodeAsString(t *testing.T) {
	out := roundTrip(t, value.Bytes([]byte("plain text")))
	if out.Kind() != value.KindBytes {
		t.Fatalf("Bytes decoded as %v", out.Kind())
	}
}

func TestPutPayloadRoundTrip(t *testing.T) {
	in := Put{
		TxnID:       []byte{1, 2, 3},
		Key:         []byte("composite"),
		Value:       []byte{0xca, 0xfe},
		VersionKind: 0,
		Version:     42,
		TimestampUs: 1700000000000000,
		ExpiresAtUs: 1800000000000000,
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Put
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(out.Key) != string(in.Key) || out.Version != in.Version || out.ExpiresAtUs != in.ExpiresAtUs {
		t.Fatalf("payload changed: %+v", out)
	}
}

func TestVersionWireRejectsUnknownKind(t *testing.T) {
	if _, err := VersionFromWire(9, 1); err == nil {
		t.Fatal("expected an error for unknown version kind")
	}
	for _, k := range []version.Kind{version.KindTxn, version.KindSequence, version.KindCounter} {
		v, err := VersionFromWire(int32(k), 7)
		if err != nil {
			t.Fatalf("kind %v: %v", k, err)
		}
		if v.Kind != k || v.Value != 7 {
			t.Fatalf("wire version changed: %v", v)
		}
	}
}
