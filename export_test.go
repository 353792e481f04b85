package dbus

import (
	"strings"
	"testing"
)

func newPropertyMsg(body ...interface{}) *Message {
	return &Message{Headers: map[HeaderField]Variant{}, Body: body}
}

func TestHandlePropertiesGetSetGetAll(t *testing.T) {
	conn := &Conn{}
	value := int32(1)
	iface := NewInterface("com.example.Test").
		AddProperty("Count", "i", PropReadWrite,
			func() (interface{}, *Error) { return value, nil },
			func(v Variant) *Error { value = v.Value().(int32); return nil })
	conn.Export("/obj", iface)

	conn.handlersLck.RLock()
	obj := conn.handlers["/obj"]
	conn.handlersLck.RUnlock()

	var gotReply []interface{}
	var gotErr *Error
	reply := func(values ...interface{}) { gotReply = values }
	replyErr := func(e Error) { gotErr = &e }

	conn.handleProperties(obj, "Get", newPropertyMsg("com.example.Test", "Count"), reply, replyErr)
	if gotErr != nil {
		t.Fatalf("Get errored: %+v", gotErr)
	}
	v, ok := gotReply[0].(Variant)
	if !ok || v.Value() != int32(1) {
		t.Fatalf("Get reply = %+v, want variant(1)", gotReply)
	}

	gotReply, gotErr = nil, nil
	conn.handleProperties(obj, "Set", newPropertyMsg("com.example.Test", "Count", MakeVariant(int32(5))), reply, replyErr)
	if gotErr != nil {
		t.Fatalf("Set errored: %+v", gotErr)
	}
	if value != 5 {
		t.Errorf("value after Set = %d, want 5", value)
	}

	gotReply, gotErr = nil, nil
	conn.handleProperties(obj, "GetAll", newPropertyMsg("com.example.Test"), reply, replyErr)
	if gotErr != nil {
		t.Fatalf("GetAll errored: %+v", gotErr)
	}
	all, ok := gotReply[0].(map[string]Variant)
	if !ok || all["Count"].Value() != int32(5) {
		t.Fatalf("GetAll reply = %+v", gotReply)
	}
}

func TestHandlePropertiesUnknownInterfaceAndProperty(t *testing.T) {
	conn := &Conn{}
	conn.Export("/obj", NewInterface("com.example.Test").
		AddProperty("Count", "i", PropReadOnly, func() (interface{}, *Error) { return int32(0), nil }, nil))
	conn.handlersLck.RLock()
	obj := conn.handlers["/obj"]
	conn.handlersLck.RUnlock()

	var gotErr *Error
	reply := func(values ...interface{}) {}
	replyErr := func(e Error) { gotErr = &e }

	conn.handleProperties(obj, "Get", newPropertyMsg("com.example.Missing", "Count"), reply, replyErr)
	if gotErr == nil || gotErr.Name != ErrorUnknownInterface {
		t.Fatalf("Get on unknown interface = %+v, want ErrorUnknownInterface", gotErr)
	}

	gotErr = nil
	conn.handleProperties(obj, "Get", newPropertyMsg("com.example.Test", "Missing"), reply, replyErr)
	if gotErr == nil || gotErr.Name != ErrorUnknownProperty {
		t.Fatalf("Get on unknown property = %+v, want ErrorUnknownProperty", gotErr)
	}
}

func TestHandlePropertiesSetReadOnly(t *testing.T) {
	conn := &Conn{}
	conn.Export("/obj", NewInterface("com.example.Test").
		AddProperty("Count", "i", PropReadOnly, func() (interface{}, *Error) { return int32(0), nil }, nil))
	conn.handlersLck.RLock()
	obj := conn.handlers["/obj"]
	conn.handlersLck.RUnlock()

	var gotErr *Error
	reply := func(values ...interface{}) {}
	replyErr := func(e Error) { gotErr = &e }

	conn.handleProperties(obj, "Set", newPropertyMsg("com.example.Test", "Count", MakeVariant(int32(1))), reply, replyErr)
	if gotErr == nil || gotErr.Name != ErrorPropertyReadOnly {
		t.Fatalf("Set on read-only property = %+v, want ErrorPropertyReadOnly", gotErr)
	}
}

func TestIntrospectPathIncludesStandardInterfacesAndChildren(t *testing.T) {
	conn := &Conn{}
	conn.Export("/com/example", NewInterface("com.example.Root"))
	conn.Export("/com/example/child", NewInterface("com.example.Child"))

	doc := string(conn.introspectPath("/com/example"))
	if !strings.Contains(doc, "org.freedesktop.DBus.Introspectable") {
		t.Error("missing Introspectable interface in introspection data")
	}
	if !strings.Contains(doc, "org.freedesktop.DBus.Peer") {
		t.Error("missing Peer interface in introspection data")
	}
	if !strings.Contains(doc, `<node name="child"`) {
		t.Errorf("missing child node, got:\n%s", doc)
	}
}

func TestManagedObjectsWalksDescendants(t *testing.T) {
	conn := &Conn{}
	conn.Export("/com/example", NewInterface("com.example.Root").
		AddProperty("Name", "s", PropReadOnly, func() (interface{}, *Error) { return "root", nil }, nil))
	conn.Export("/com/example/child", NewInterface("com.example.Child"))

	objs := conn.managedObjects("/com/example")
	if len(objs) != 2 {
		t.Fatalf("managedObjects returned %d paths, want 2", len(objs))
	}
	root, ok := objs["/com/example"]
	if !ok {
		t.Fatal("missing root path in managed objects")
	}
	props, ok := root["com.example.Root"]
	if !ok || props["Name"].Value() != "root" {
		t.Fatalf("root properties = %+v", props)
	}
}
