package dbus

import (
	"testing"

	"github.com/peerbus/dbus/introspect"
)

func TestArgSignatureFiltersByDirection(t *testing.T) {
	args := []introspect.Arg{
		{Name: "a", Type: "i", Direction: "in"},
		{Name: "b", Type: "s", Direction: "in"},
		{Name: "result", Type: "b", Direction: "out"},
	}
	in, err := argSignature(args, "in")
	if err != nil {
		t.Fatalf("argSignature(in): %v", err)
	}
	if in.String() != "is" {
		t.Errorf("in signature = %q, want %q", in.String(), "is")
	}
	out, err := argSignature(args, "out")
	if err != nil {
		t.Fatalf("argSignature(out): %v", err)
	}
	if out.String() != "b" {
		t.Errorf("out signature = %q, want %q", out.String(), "b")
	}
}

func newTestProxy() *ProxyObject {
	conn := &Conn{}
	obj := conn.Object("com.example.Dest", "/com/example")
	return &ProxyObject{
		obj: obj,
		methods: map[string]introspect.Method{
			"com.example.Iface.Add": {
				Name: "Add",
				Args: []introspect.Arg{
					{Type: "i", Direction: "in"},
					{Type: "i", Direction: "in"},
					{Type: "i", Direction: "out"},
				},
			},
		},
		signals:    map[string]introspect.Signal{},
		properties: map[string]introspect.Property{},
	}
}

func TestProxyCallUnknownMethod(t *testing.T) {
	p := newTestProxy()
	if _, err := p.Call("com.example.Iface.Missing", int32(1)); err == nil {
		t.Fatal("expected InterfaceNotFoundError for an undeclared method")
	} else if _, ok := err.(InterfaceNotFoundError); !ok {
		t.Errorf("got %T, want InterfaceNotFoundError", err)
	}
}

func TestProxyCallSignatureMismatch(t *testing.T) {
	p := newTestProxy()
	_, err := p.Call("com.example.Iface.Add", "not", "ints")
	if err == nil {
		t.Fatal("expected a signature mismatch error")
	}
	if _, ok := err.(SignatureBodyMismatchError); !ok {
		t.Errorf("got %T, want SignatureBodyMismatchError", err)
	}
}

func TestProxyGetPropertyUndeclared(t *testing.T) {
	p := newTestProxy()
	if _, err := p.GetProperty("com.example.Iface", "Missing"); err == nil {
		t.Fatal("expected InterfaceNotFoundError for an undeclared property")
	}
}

func TestProxySetPropertyUndeclared(t *testing.T) {
	p := newTestProxy()
	if err := p.SetProperty("com.example.Iface", "Missing", 1); err == nil {
		t.Fatal("expected InterfaceNotFoundError for an undeclared property")
	}
}

func TestProxyAddSignalUndeclared(t *testing.T) {
	p := newTestProxy()
	if err := p.AddSignal("com.example.Iface.Missing", make(chan *Signal, 1)); err == nil {
		t.Fatal("expected InterfaceNotFoundError for an undeclared signal")
	}
}

func TestProxyDestinationAndPath(t *testing.T) {
	p := newTestProxy()
	if p.Destination() != "com.example.Dest" {
		t.Errorf("Destination() = %q", p.Destination())
	}
	if p.Path() != "/com/example" {
		t.Errorf("Path() = %q", p.Path())
	}
}
