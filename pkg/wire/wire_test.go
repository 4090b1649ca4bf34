package wire

import (
	"math"
	"strings"
	"testing"

	"github.com/stratadb/stratadb/pkg/value"
	"github.com/stratadb/stratadb/pkg/version"
)

func jsonRoundTrip(t *testing.T, v value.Value) (value.Value, string) {
	t.Helper()
	data, err := MarshalValue(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := UnmarshalValue(data)
	if err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return out, string(data)
}

func TestEncodeIsStableAcrossRoundTrip(t *testing.T) {
	cases := []value.Value{
		value.Null(),
		value.Bool(true),
		value.Int(1),
		value.Float(1.0),
		value.Float(0.5),
		value.String("text"),
		value.Bytes([]byte{1, 2, 3}),
		value.Array(value.Int(1), value.Float(2.0)),
		value.Object(map[string]value.Value{"k": value.Bytes([]byte("b"))}),
	}
	for _, v := range cases {
		once, encoded1 := jsonRoundTrip(t, v)
		_, encoded2 := jsonRoundTrip(t, once)
		if encoded1 != encoded2 {
			t.Fatalf("encoding not stable: %s vs %s", encoded1, encoded2)
		}
		if once.Kind() != v.Kind() {
			t.Fatalf("type identity lost: %v -> %v", v.Kind(), once.Kind())
		}
	}
}

func TestIntAndFloatStayDistinctOnTheWire(t *testing.T) {
	_, intJSON := jsonRoundTrip(t, value.Int(1))
	_, floatJSON := jsonRoundTrip(t, value.Float(1.0))
	if intJSON == floatJSON {
		t.Fatalf("Int(1) and Float(1.0) encode identically: %s", intJSON)
	}
	out, _ := jsonRoundTrip(t, value.Float(1.0))
	if out.Kind() != value.KindFloat {
		t.Fatalf("Float(1.0) decoded as %v", out.Kind())
	}
}

func TestSpecialFloatMarkers(t *testing.T) {
	cases := map[string]float64{
		"NaN":  math.NaN(),
		"+Inf": math.Inf(1),
		"-Inf": math.Inf(-1),
		"-0.0": math.Copysign(0, -1),
	}
	for token, f := range cases {
		out, encoded := jsonRoundTrip(t, value.Float(f))
		if !strings.Contains(encoded, `"$f64"`) || !strings.Contains(encoded, token) {
			t.Fatalf("%s encoded as %s", token, encoded)
		}
		got, _ := out.AsFloat()
		switch token {
		case "NaN":
			if !math.IsNaN(got) {
				t.Fatalf("NaN decoded as %v", got)
			}
		case "-0.0":
			if !math.Signbit(got) || got != 0 {
				t.Fatalf("-0.0 decoded as %v (signbit %v)", got, math.Signbit(got))
			}
		default:
			if got != f {
				t.Fatalf("%s decoded as %v", token, got)
			}
		}
	}
}

func TestFiniteFloatsAreBitExact(t *testing.T) {
	cases := []float64{
		1.0 + 2*2.220446049250313e-16, // 1 + 2ε
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		-123.456e-78,
	}
	for _, f := range cases {
		out, _ := jsonRoundTrip(t, value.Float(f))
		got, _ := out.AsFloat()
		if math.Float64bits(got) != math.Float64bits(f) {
			t.Fatalf("bits changed: %x -> %x", math.Float64bits(f), math.Float64bits(got))
		}
	}
}

func TestMarkerObjectWithExtraKeysIsPlainObject(t *testing.T) {
	data := []byte(`{"$bytes":"AQI=","other":1}`)
	out, err := UnmarshalValue(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Kind() != value.KindObject {
		t.Fatalf("object with extra keys decoded as %v", out.Kind())
	}
	obj, _ := out.AsObject()
	if _, present := obj["$bytes"]; !present {
		t.Fatal("$bytes member lost")
	}
}

func TestExpectedEncoding(t *testing.T) {
	data, err := MarshalExpected(ExpectedAbsent())
	if err != nil {
		t.Fatalf("marshal absent: %v", err)
	}
	if string(data) != `{"$absent":true}` {
		t.Fatalf("absent encodes as %s", data)
	}
	back, err := UnmarshalExpected(data)
	if err != nil || !back.IsAbsent() {
		t.Fatalf("absent round trip: %v %v", back, err)
	}

	data, err = MarshalExpected(ExpectedValue(value.Int(3)))
	if err != nil {
		t.Fatalf("marshal value: %v", err)
	}
	back, err = UnmarshalExpected(data)
	if err != nil || back.IsAbsent() {
		t.Fatalf("value round trip: %v %v", back, err)
	}
	v, _ := back.Value()
	if i, _ := v.AsInt(); i != 3 {
		t.Fatalf("expected value changed: %v", v)
	}
}

func TestVersionWireForm(t *testing.T) {
	for _, v := range []version.Version{version.Txn(1), version.Sequence(2), version.Counter(3)} {
		data, err := MarshalVersion(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		back, err := UnmarshalVersion(data)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != v {
			t.Fatalf("version changed: %v -> %v", v, back)
		}
	}
	if _, err := UnmarshalVersion([]byte(`{"type":"bogus","value":1}`)); err == nil {
		t.Fatal("expected an error for unknown version type")
	}
}
