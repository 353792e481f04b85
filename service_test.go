package dbus

import "testing"

func TestInterfaceIntrospectDataSkipsDisabled(t *testing.T) {
	iface := NewInterface("com.example.Calculator").
		AddMethod("Add", "ii", "i", func(sender string, path ObjectPath, args []interface{}) ([]interface{}, *Error) {
			a, _ := args[0].(int32)
			b, _ := args[1].(int32)
			return []interface{}{a + b}, nil
		}).
		AddMethod("Reset", "", "", func(sender string, path ObjectPath, args []interface{}) ([]interface{}, *Error) {
			return nil, nil
		}).
		AddSignal("Overflowed", "i").
		AddProperty("Total", "i", PropReadOnly, func() (interface{}, *Error) { return int32(0), nil }, nil)

	iface.Disable("Reset")

	data := iface.introspectData()
	if data.Name != "com.example.Calculator" {
		t.Errorf("Name = %q", data.Name)
	}
	if len(data.Methods) != 1 || data.Methods[0].Name != "Add" {
		t.Fatalf("Methods = %+v, want only Add (Reset disabled)", data.Methods)
	}
	var inArgs, outArgs int
	for _, a := range data.Methods[0].Args {
		switch a.Direction {
		case "in":
			inArgs++
		case "out":
			outArgs++
		}
	}
	if inArgs != 2 || outArgs != 1 {
		t.Errorf("Add args in=%d out=%d, want in=2 out=1", inArgs, outArgs)
	}
	if len(data.Signals) != 1 || data.Signals[0].Name != "Overflowed" {
		t.Fatalf("Signals = %+v", data.Signals)
	}
	if len(data.Properties) != 1 || data.Properties[0].Access != "read" {
		t.Fatalf("Properties = %+v", data.Properties)
	}
}

func TestConnExportAndInterfaceAt(t *testing.T) {
	conn := &Conn{}
	iface := NewInterface("com.example.Test").
		AddMethod("Ping", "", "", func(sender string, path ObjectPath, args []interface{}) ([]interface{}, *Error) {
			return nil, nil
		})

	if err := conn.Export("/com/example/test", iface); err != nil {
		t.Fatalf("Export: %v", err)
	}

	got := conn.InterfaceAt("/com/example/test", "com.example.Test")
	if got == nil {
		t.Fatal("InterfaceAt returned nil after Export")
	}
	if _, ok := got.methods["Ping"]; !ok {
		t.Error("exported interface is missing its declared method")
	}
}

func TestConnExportPanicsOnInvalidPath(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Export with an invalid object path did not panic")
		}
	}()
	conn := &Conn{}
	conn.Export("not-a-path", NewInterface("com.example.Test"))
}

func TestConnUnexportRemovesEmptyPath(t *testing.T) {
	conn := &Conn{}
	conn.Export("/com/example/test", NewInterface("com.example.Test"))

	conn.Unexport("/com/example/test", "com.example.Test")

	conn.handlersLck.RLock()
	_, ok := conn.handlers["/com/example/test"]
	conn.handlersLck.RUnlock()
	if ok {
		t.Error("path should be removed once its last interface is unexported")
	}
}
