package dbus

import (
	"fmt"
	"strings"
	"testing"
)

func TestNewMethodCallValidates(t *testing.T) {
	if _, err := NewMethodCall("not a bus name", "/", "com.example.Iface", "Member"); err == nil {
		t.Error("expected error for invalid destination")
	}
	if _, err := NewMethodCall("com.example.Dest", "not-a-path", "com.example.Iface", "Member"); err == nil {
		t.Error("expected error for invalid path")
	}
	if _, err := NewMethodCall("com.example.Dest", "/", "not an iface", "Member"); err == nil {
		t.Error("expected error for invalid interface")
	}
	if _, err := NewMethodCall("com.example.Dest", "/", "com.example.Iface", "not a member"); err == nil {
		t.Error("expected error for invalid member")
	}

	msg, err := NewMethodCall("com.example.Dest", "/com/example", "com.example.Iface", "DoThing")
	if err != nil {
		t.Fatalf("NewMethodCall: %v", err)
	}
	if msg.Type != TypeMethodCall {
		t.Errorf("Type = %v, want TypeMethodCall", msg.Type)
	}
	if v := msg.Headers[FieldPath].Value(); v != ObjectPath("/com/example") {
		t.Errorf("path header = %v", v)
	}
	if v := msg.Headers[FieldMember].Value(); v != "DoThing" {
		t.Errorf("member header = %v", v)
	}
}

func TestNewMethodCallOmitsEmptyDestinationAndInterface(t *testing.T) {
	msg, err := NewMethodCall("", "/", "", "Ping")
	if err != nil {
		t.Fatalf("NewMethodCall: %v", err)
	}
	if _, ok := msg.Headers[FieldDestination]; ok {
		t.Error("empty destination should not set a header")
	}
	if _, ok := msg.Headers[FieldInterface]; ok {
		t.Error("empty interface should not set a header")
	}
}

func TestNewSignalSetsSignatureHeader(t *testing.T) {
	msg, err := NewSignal("/com/example", "com.example.Iface", "Changed", "value")
	if err != nil {
		t.Fatalf("NewSignal: %v", err)
	}
	sig, ok := msg.Headers[FieldSignature].Value().(Signature)
	if !ok {
		t.Fatal("signature header missing or wrong type")
	}
	if sig.String() != "s" {
		t.Errorf("signature = %q, want %q", sig.String(), "s")
	}
}

func TestNewSignalNoBodyOmitsSignature(t *testing.T) {
	msg, err := NewSignal("/com/example", "com.example.Iface", "Pinged")
	if err != nil {
		t.Fatalf("NewSignal: %v", err)
	}
	if _, ok := msg.Headers[FieldSignature]; ok {
		t.Error("signal with no body should not set a signature header")
	}
}

func TestNewMethodReplyCarriesReplySerialAndDestination(t *testing.T) {
	call, err := NewMethodCall("com.example.Dest", "/", "com.example.Iface", "Ping")
	if err != nil {
		t.Fatalf("NewMethodCall: %v", err)
	}
	call.SetSerial(42)
	call.Headers[FieldSender] = MakeVariant("com.example.Caller")

	reply, err := NewMethodReply(call, "ok")
	if err != nil {
		t.Fatalf("NewMethodReply: %v", err)
	}
	if got := reply.Headers[FieldReplySerial].Value(); got != uint32(42) {
		t.Errorf("reply serial = %v, want 42", got)
	}
	if got := reply.Headers[FieldDestination].Value(); got != "com.example.Caller" {
		t.Errorf("reply destination = %v, want the original sender", got)
	}
}

func TestMessageGoStringShowsBodyShape(t *testing.T) {
	msg, err := NewSignal("/com/example", "com.example.Iface", "Changed", "value", int32(7))
	if err != nil {
		t.Fatalf("NewSignal: %v", err)
	}
	// %#v on a *Message routes through GoString, which renders the body
	// with kr/pretty instead of String's compact dbus-monitor summary.
	out := fmt.Sprintf("%#v", msg)
	if !strings.Contains(out, "value") || !strings.Contains(out, "7") {
		t.Errorf("GoString output missing body contents: %s", out)
	}
	if out == msg.String() {
		t.Error("GoString should differ from the compact String() form")
	}
}
