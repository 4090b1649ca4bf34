package key

import (
	"testing"

	"github.com/google/uuid"
)

func sampleKey() Key {
	return New(Namespace{
		Tenant: "tenant",
		App:    "app",
		Agent:  "agent",
		Run:    uuid.MustParse("018f0000-0000-7000-8000-000000000001"),
	}, TypeEvent, []byte("stream/7"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	k := sampleKey()
	out, err := Decode(k.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Namespace.Equal(k.Namespace) || out.Type != k.Type || string(out.User) != string(k.User) {
		t.Fatalf("round trip changed key: %+v", out)
	}
}

func TestDecodeRejectsShortBuffers(t *testing.T) {
	enc := sampleKey().Encode()
	for _, cut := range []int{0, 3, 10, len(enc) - 1} {
		if _, err := Decode(enc[:cut]); err == nil {
			t.Fatalf("decode accepted a %d-byte prefix", cut)
		}
	}
}

func TestCompareOrdersComponentsLexicographically(t *testing.T) {
	ns := Namespace{Tenant: "t", App: "a", Agent: "g", Run: DefaultRunID}

	kv := New(ns, TypeKV, []byte("z"))
	event := New(ns, TypeEvent, []byte("a"))
	if kv.Compare(event) >= 0 {
		t.Fatal("type tag must dominate user key in ordering")
	}

	a := New(ns, TypeKV, []byte("a"))
	b := New(ns, TypeKV, []byte("b"))
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 || a.Compare(a) != 0 {
		t.Fatal("user-key ordering broken")
	}

	otherTenant := New(Namespace{Tenant: "u", App: "a", Agent: "g", Run: DefaultRunID}, TypeKV, []byte("a"))
	if a.Compare(otherTenant) >= 0 {
		t.Fatal("tenant must be the most significant component")
	}
}

func TestTypeTagValuesAreFrozen(t *testing.T) {
	expected := map[TypeTag]uint8{
		TypeKV: 0, TypeEvent: 1, TypeStateMachine: 2,
		TypeTrace: 3, TypeRunMetadata: 4, TypeVector: 5,
	}
	for tag, want := range expected {
		if uint8(tag) != want {
			t.Fatalf("type tag %v renumbered to %d", tag, want)
		}
	}
}
