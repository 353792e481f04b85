package dbus

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func encodedTestMessage(t *testing.T) []byte {
	t.Helper()
	msg, err := NewMethodCall("com.example.Dest", "/com/example", "com.example.Iface", "Ping")
	if err != nil {
		t.Fatalf("NewMethodCall: %v", err)
	}
	msg.SetSerial(7)
	msg.Body = []interface{}{"hello", int32(42)}
	msg.Headers[FieldSignature] = MakeVariant(Signature{"si"})

	var buf bytes.Buffer
	if err := msg.EncodeTo(&buf, binary.LittleEndian); err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	return buf.Bytes()
}

// TestUnmarshallerWholeBuffer decodes a fully buffered message in one Feed
// call, establishing the baseline every byte-at-a-time Feed sequence must
// reproduce.
func TestUnmarshallerWholeBuffer(t *testing.T) {
	raw := encodedTestMessage(t)
	u := NewUnmarshaller()
	msg, err, ok := u.Feed(raw).Done()
	if !ok {
		t.Fatal("Feed of a complete message did not report Done")
	}
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if msg.Serial() != 7 {
		t.Fatalf("Serial = %d, want 7", msg.Serial())
	}
}

// TestUnmarshallerByteAtATime is the spec-mandated resumable-decode check:
// feeding the marshalled bytes one byte at a time must produce the same
// Message as feeding them in one chunk.
func TestUnmarshallerByteAtATime(t *testing.T) {
	raw := encodedTestMessage(t)
	whole := NewUnmarshaller()
	want, err, ok := whole.Feed(raw).Done()
	if !ok || err != nil {
		t.Fatalf("baseline Feed failed: ok=%v err=%v", ok, err)
	}

	u := NewUnmarshaller()
	var got *Message
	for i, b := range raw {
		progress := u.Feed([]byte{b})
		if msg, derr, done := progress.Done(); done {
			if derr != nil {
				t.Fatalf("byte %d: decode error: %v", i, derr)
			}
			if i != len(raw)-1 {
				t.Fatalf("Done reported after byte %d of %d, before all bytes fed", i, len(raw))
			}
			got = msg
		}
	}
	if got == nil {
		t.Fatal("feeding one byte at a time never produced a message")
	}
	if got.Serial() != want.Serial() || got.Type != want.Type {
		t.Fatalf("byte-at-a-time result %+v does not match whole-buffer result %+v", got, want)
	}
	if diff := cmp.Diff(want.Body, got.Body, cmpOpts); diff != "" {
		t.Fatalf("byte-at-a-time body mismatch (-want +got):\n%s", diff)
	}
}

// TestUnmarshallerFeedAcrossTwoMessages confirms a second message left over
// in the buffer after the first Done is picked up by a Feed(nil) call,
// without requiring more bytes from the caller.
func TestUnmarshallerFeedAcrossTwoMessages(t *testing.T) {
	raw := encodedTestMessage(t)
	both := append(append([]byte{}, raw...), raw...)

	u := NewUnmarshaller()
	first, err, ok := u.Feed(both).Done()
	if !ok || err != nil {
		t.Fatalf("first Feed failed: ok=%v err=%v", ok, err)
	}
	second, err, ok := u.Feed(nil).Done()
	if !ok {
		t.Fatal("second message already buffered should decode without new bytes")
	}
	if err != nil {
		t.Fatalf("second Feed: %v", err)
	}
	if first.Serial() != second.Serial() {
		t.Fatalf("serials differ: %d vs %d", first.Serial(), second.Serial())
	}
}

// TestUnmarshallerNeedMore checks the NeedMore contract used by the
// transport read loop: a short feed reports a lower bound instead of
// blocking or panicking.
func TestUnmarshallerNeedMore(t *testing.T) {
	raw := encodedTestMessage(t)
	u := NewUnmarshaller()
	progress := u.Feed(raw[:8])
	if _, _, done := progress.Done(); done {
		t.Fatal("8 bytes of a larger message should not be Done")
	}
	need, ok := progress.NeedMore()
	if !ok || need <= 0 {
		t.Fatalf("NeedMore = (%d, %v), want a positive lower bound", need, ok)
	}
}
