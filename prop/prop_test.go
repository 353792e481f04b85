package prop

import (
	"testing"

	"github.com/peerbus/dbus"
)

func TestPropertiesGetSetMust(t *testing.T) {
	conn := &dbus.Conn{}
	spec := map[string]map[string]Prop{
		"com.example.Test": {
			"ReadOnly":  {Value: "initial", Writable: false, Emit: EmitFalse},
			"Writable":  {Value: int32(1), Writable: true, Emit: EmitTrue},
			"Invalidated": {Value: "x", Writable: true, Emit: EmitInvalidates},
		},
	}
	props := New(conn, "/com/example/test", spec)

	if v := props.GetMust("com.example.Test", "ReadOnly"); v != "initial" {
		t.Fatalf("GetMust ReadOnly = %v, want %q", v, "initial")
	}

	props.SetMust("com.example.Test", "Writable", int32(2))
	if v := props.GetMust("com.example.Test", "Writable"); v != int32(2) {
		t.Fatalf("GetMust Writable after SetMust = %v, want 2", v)
	}

	variant, ok := props.Get("com.example.Test", "Writable")
	if !ok {
		t.Fatal("Get: property not found")
	}
	if variant.Value() != int32(2) {
		t.Fatalf("Get Writable = %v, want 2", variant.Value())
	}

	if _, ok := props.Get("com.example.Test", "Missing"); ok {
		t.Fatal("Get: expected missing property to report !ok")
	}
}

func TestPropertiesSetMustPanicsOnUnknownProperty(t *testing.T) {
	conn := &dbus.Conn{}
	spec := map[string]map[string]Prop{
		"com.example.Test": {"Known": {Value: "v"}},
	}
	props := New(conn, "/com/example/test", spec)

	defer func() {
		if recover() == nil {
			t.Fatal("SetMust on unknown property did not panic")
		}
	}()
	props.SetMust("com.example.Test", "Unknown", "v")
}

func TestInterfaceAtRegistersDeclaredProperties(t *testing.T) {
	conn := &dbus.Conn{}
	spec := map[string]map[string]Prop{
		"com.example.Test": {
			"A": {Value: "a", Writable: false},
			"B": {Value: int32(3), Writable: true},
		},
	}
	New(conn, "/com/example/test", spec)

	ifc := conn.InterfaceAt("/com/example/test", "com.example.Test")
	if ifc == nil {
		t.Fatal("InterfaceAt returned nil")
	}
}
