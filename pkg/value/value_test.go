package value

import (
	"math"
	"testing"
)

func TestNoCoercionAcrossKinds(t *testing.T) {
	if Int(1).Equal(Float(1.0)) {
		t.Fatal("Int(1) must not equal Float(1.0)")
	}
	if Bool(true).Equal(Int(1)) {
		t.Fatal("Bool(true) must not equal Int(1)")
	}
	if String("s").Equal(Bytes([]byte("s"))) {
		t.Fatal("String must not equal Bytes of the same text")
	}
	if Null().Equal(String("")) || Null().Equal(Array()) {
		t.Fatal("Null must not equal empty values")
	}
}

func TestFloatEqualityIsIEEE754(t *testing.T) {
	if Float(math.NaN()).Equal(Float(math.NaN())) {
		t.Fatal("NaN must not equal NaN")
	}
	if !Float(0.0).Equal(Float(math.Copysign(0, -1))) {
		t.Fatal("+0.0 must equal -0.0")
	}
}

func TestObjectEqualityIgnoresOrderArrayRespectsIt(t *testing.T) {
	a := Object(map[string]Value{"x": Int(1), "y": Int(2)})
	b := Object(map[string]Value{"y": Int(2), "x": Int(1)})
	if !a.Equal(b) {
		t.Fatal("object equality must ignore insertion order")
	}
	if Array(Int(1), Int(2)).Equal(Array(Int(2), Int(1))) {
		t.Fatal("array equality must respect order")
	}
}

func TestHashConsistentWithEqual(t *testing.T) {
	a := Object(map[string]Value{"x": Int(1), "y": Float(0.0)})
	b := Object(map[string]Value{"y": Float(math.Copysign(0, -1)), "x": Int(1)})
	if !a.Equal(b) {
		t.Fatal("fixture objects should be equal")
	}
	if a.Hash() != b.Hash() {
		t.Fatal("equal values must hash equal (zero floats normalized)")
	}
}

func TestNegativeZeroKeepsItsSignBit(t *testing.T) {
	v := Float(math.Copysign(0, -1))
	f, _ := v.AsFloat()
	if !math.Signbit(f) {
		t.Fatal("-0.0 lost its sign bit in storage")
	}
	if SpecialFloat(v) != NegativeZero {
		t.Fatalf("classifier says %v", SpecialFloat(v))
	}
}

func TestValidateKeyRules(t *testing.T) {
	limits := DefaultLimits()
	if err := ValidateKey([]byte("ok"), limits); err != nil {
		t.Fatalf("plain key rejected: %v", err)
	}
	if err := ValidateKey([]byte{}, limits); err == nil {
		t.Fatal("empty key accepted")
	}
	if err := ValidateKey([]byte("a\x00b"), limits); err == nil {
		t.Fatal("NUL byte accepted")
	}
	if err := ValidateKey([]byte{0xff, 0xfe}, limits); err == nil {
		t.Fatal("non-UTF-8 accepted")
	}
	if err := ValidateKey([]byte("_strata/x"), limits); err == nil {
		t.Fatal("reserved prefix accepted")
	}
	if err := ValidateKey([]byte("_stratafoo"), limits); err != nil {
		t.Fatalf("_stratafoo should be legal: %v", err)
	}
}

func TestValidateValueDepthGuard(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxNestingDepth = 3

	v := Int(1)
	for i := 0; i < 5; i++ {
		v = Array(v)
	}
	err := ValidateValue(v, limits)
	ve, ok := err.(*ValidationError)
	if !ok || ve.Reason != ViolationNestingTooDeep {
		t.Fatalf("expected nesting_too_deep, got %v", err)
	}
}
