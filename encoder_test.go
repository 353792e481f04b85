package dbus

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// allowUnexported lets cmp.Diff look inside Variant and Signature, whose
// fields are unexported outside this package but are exactly what these
// encode/decode round-trip tests need to compare.
var cmpOpts = cmp.AllowUnexported(Variant{}, Signature{})

func roundTrip(t *testing.T, order binary.ByteOrder, vs ...interface{}) []interface{} {
	t.Helper()
	buf := new(bytes.Buffer)
	enc := newEncoder(buf, order, nil)
	if err := enc.Encode(vs...); err != nil {
		t.Fatalf("Encode(%v): %v", vs, err)
	}
	dec := newDecoder(buf, order, nil)
	out, err := dec.Decode(SignatureOf(vs...))
	if err != nil {
		t.Fatalf("Decode after Encode(%v): %v", vs, err)
	}
	return out
}

func TestEncodeDecodeArrayOfMaps(t *testing.T) {
	vs := []interface{}{
		"12345",
		[]map[string]Variant{
			{
				"abcdefg": MakeVariant("foo"),
				"cdef":    MakeVariant(uint32(2)),
			},
		},
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		out := roundTrip(t, order, vs...)
		if diff := cmp.Diff(vs, out, cmpOpts); diff != "" {
			t.Errorf("%v: round trip mismatch (-want +got):\n%s", order, diff)
		}
	}
}

func TestEncodeDecodeMapStringInterface(t *testing.T) {
	val := map[string]interface{}{"foo": "bar"}
	out := roundTrip(t, binary.LittleEndian, val)
	var got map[string]interface{}
	if err := Store(out, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(val, got, cmpOpts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeSliceInterface(t *testing.T) {
	val := []interface{}{"foo", "bar"}
	out := roundTrip(t, binary.LittleEndian, val)
	var got []interface{}
	if err := Store(out, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(val, got, cmpOpts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeStruct(t *testing.T) {
	type inner struct {
		A int32
		B string
	}
	val := inner{A: 7, B: "seven"}
	out := roundTrip(t, binary.LittleEndian, val)
	var got inner
	if err := Store(out, &got); err != nil {
		t.Fatal(err)
	}
	if got != val {
		t.Errorf("got %#v, want %#v", got, val)
	}
}

func TestEncodeDecodeVariant(t *testing.T) {
	val := MakeVariant(uint32(42))
	out := roundTrip(t, binary.LittleEndian, val)
	v, ok := out[0].(Variant)
	if !ok {
		t.Fatalf("decoded value is %T, want Variant", out[0])
	}
	if n, ok := v.Value().(uint32); !ok || n != 42 {
		t.Errorf("v.Value() = %#v, want uint32(42)", v.Value())
	}
}

func TestEncodeDecodeBoolBothValues(t *testing.T) {
	vs := []interface{}{true, false}
	out := roundTrip(t, binary.LittleEndian, vs...)
	if diff := cmp.Diff(vs, out, cmpOpts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeAlignment(t *testing.T) {
	// A leading string of odd length perturbs the offset before the
	// following uint64, exercising the 8-byte alignment padding path.
	vs := []interface{}{"12345", uint64(0xdeadbeef)}
	out := roundTrip(t, binary.LittleEndian, vs...)
	if diff := cmp.Diff(vs, out, cmpOpts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
