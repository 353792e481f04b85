package dbus

import (
	"fmt"
	"sync"

	"github.com/peerbus/dbus/introspect"
)

// MethodHandler implements one exported method. args has already been
// decoded according to the method's declared input signature. A non-nil
// *Error is sent back to the caller as an ERROR reply instead of the
// results.
type MethodHandler func(sender string, path ObjectPath, args []interface{}) ([]interface{}, *Error)

// PropertyAccess describes whether a declared property may be read, written,
// or both, via org.freedesktop.DBus.Properties.
type PropertyAccess int

const (
	PropReadOnly PropertyAccess = iota
	PropWriteOnly
	PropReadWrite
)

func (a PropertyAccess) introspectAccess() string {
	switch a {
	case PropReadOnly:
		return "read"
	case PropWriteOnly:
		return "write"
	default:
		return "readwrite"
	}
}

type exportedMethod struct {
	inSig, outSig Signature
	handler       MethodHandler
}

type exportedSignal struct {
	sig Signature
}

type exportedProperty struct {
	sig    Signature
	access PropertyAccess
	get    func() (interface{}, *Error)
	set    func(Variant) *Error
}

// Interface is a declarative description of one DBus interface: its
// methods, signals and properties, built with AddMethod/AddSignal/
// AddProperty rather than discovered by reflecting over a Go value.
type Interface struct {
	name       string
	methods    map[string]*exportedMethod
	signals    map[string]*exportedSignal
	properties map[string]*exportedProperty
	disabled   map[string]bool
}

// NewInterface begins building a declarative interface description named
// name, e.g. "com.example.Calculator".
func NewInterface(name string) *Interface {
	return &Interface{
		name:       name,
		methods:    make(map[string]*exportedMethod),
		signals:    make(map[string]*exportedSignal),
		properties: make(map[string]*exportedProperty),
		disabled:   make(map[string]bool),
	}
}

// AddMethod declares member as callable with the given argument and return
// signatures, dispatching to handler.
func (i *Interface) AddMethod(member string, inSig, outSig string, handler MethodHandler) *Interface {
	i.methods[member] = &exportedMethod{
		inSig:   ParseSignatureMust(inSig),
		outSig:  ParseSignatureMust(outSig),
		handler: handler,
	}
	return i
}

// AddSignal declares member as a signal this interface may emit, with body
// signature sig.
func (i *Interface) AddSignal(member string, sig string) *Interface {
	i.signals[member] = &exportedSignal{sig: ParseSignatureMust(sig)}
	return i
}

// AddProperty declares member as a property of the given type and access
// mode. get is required; set is required unless access is PropReadOnly.
func (i *Interface) AddProperty(member string, sig string, access PropertyAccess, get func() (interface{}, *Error), set func(Variant) *Error) *Interface {
	i.properties[member] = &exportedProperty{
		sig:    ParseSignatureMust(sig),
		access: access,
		get:    get,
		set:    set,
	}
	return i
}

// Disable marks member (a method, signal or property previously added to
// this interface) as disabled: it is left out of introspection data, and
// method calls and property access for it arriving over the bus are
// refused.
func (i *Interface) Disable(member string) *Interface {
	i.disabled[member] = true
	return i
}

func (i *Interface) introspectData() introspect.Interface {
	data := introspect.Interface{Name: i.name}
	for name, m := range i.methods {
		if i.disabled[name] {
			continue
		}
		md := introspect.Method{Name: name}
		for _, t := range m.inSig.Types() {
			md.Args = append(md.Args, introspect.Arg{Type: t.Raw, Direction: "in"})
		}
		for _, t := range m.outSig.Types() {
			md.Args = append(md.Args, introspect.Arg{Type: t.Raw, Direction: "out"})
		}
		data.Methods = append(data.Methods, md)
	}
	for name, s := range i.signals {
		if i.disabled[name] {
			continue
		}
		sd := introspect.Signal{Name: name}
		for _, t := range s.sig.Types() {
			sd.Args = append(sd.Args, introspect.Arg{Type: t.Raw, Direction: "out"})
		}
		data.Signals = append(data.Signals, sd)
	}
	for name, p := range i.properties {
		if i.disabled[name] {
			continue
		}
		data.Properties = append(data.Properties, introspect.Property{
			Name:   name,
			Type:   p.sig.String(),
			Access: p.access.introspectAccess(),
		})
	}
	return data
}

// exportedObject is the per-path table of interfaces a Conn has exported.
type exportedObject struct {
	mu    sync.RWMutex
	path  ObjectPath
	ifaces map[string]*Interface
}

// Export publishes iface at path so that incoming method calls addressed
// to path/iface.name are dispatched to its handlers. Export panics if path
// is not a valid object path. It emits
// org.freedesktop.DBus.ObjectManager.InterfacesAdded for path.
func (conn *Conn) Export(path ObjectPath, iface *Interface) error {
	if !path.IsValid() {
		panic("dbus: Export: invalid object path " + string(path))
	}
	conn.handlersLck.Lock()
	if conn.handlers == nil {
		conn.handlers = make(map[ObjectPath]*exportedObject)
	}
	obj, ok := conn.handlers[path]
	if !ok {
		obj = &exportedObject{path: path, ifaces: make(map[string]*Interface)}
		conn.handlers[path] = obj
	}
	obj.mu.Lock()
	obj.ifaces[iface.name] = iface
	obj.mu.Unlock()
	conn.handlersLck.Unlock()

	props := make(map[string]Variant)
	for name, p := range iface.properties {
		if iface.disabled[name] || p.access == PropWriteOnly {
			continue
		}
		if v, callErr := p.get(); callErr == nil {
			props[name] = MakeVariant(v)
		}
	}
	conn.EmitSignal(path, ifaceObjectManager, "InterfacesAdded", path, map[string]map[string]Variant{iface.name: props})
	return nil
}

// Unexport removes ifaceName from path. If path then exports no interfaces
// at all, its entry is removed entirely. It emits
// org.freedesktop.DBus.ObjectManager.InterfacesRemoved for path.
func (conn *Conn) Unexport(path ObjectPath, ifaceName string) {
	conn.handlersLck.Lock()
	obj, ok := conn.handlers[path]
	if !ok {
		conn.handlersLck.Unlock()
		return
	}
	obj.mu.Lock()
	delete(obj.ifaces, ifaceName)
	empty := len(obj.ifaces) == 0
	obj.mu.Unlock()
	if empty {
		delete(conn.handlers, path)
	}
	conn.handlersLck.Unlock()

	conn.EmitSignal(path, ifaceObjectManager, "InterfacesRemoved", path, []string{ifaceName})
}

// InterfaceAt returns the Interface already exported at path under name,
// creating and exporting an empty one if none exists yet. Packages like
// prop use this to attach properties to an interface whose methods and
// signals (if any) are declared elsewhere.
func (conn *Conn) InterfaceAt(path ObjectPath, name string) *Interface {
	conn.handlersLck.Lock()
	if conn.handlers == nil {
		conn.handlers = make(map[ObjectPath]*exportedObject)
	}
	obj, ok := conn.handlers[path]
	if !ok {
		obj = &exportedObject{path: path, ifaces: make(map[string]*Interface)}
		conn.handlers[path] = obj
	}
	obj.mu.Lock()
	ifc, ok := obj.ifaces[name]
	if !ok {
		ifc = NewInterface(name)
		obj.ifaces[name] = ifc
	}
	obj.mu.Unlock()
	conn.handlersLck.Unlock()
	return ifc
}

// EmitSignal sends a signal named ifaceName.member, with body args, from
// path to every subscriber whose match rule accepts it.
func (conn *Conn) EmitSignal(path ObjectPath, ifaceName, member string, args ...interface{}) error {
	msg, err := NewSignal(path, ifaceName, member, args...)
	if err != nil {
		return err
	}
	conn.Send(msg, nil)
	return nil
}

// EmitPropertiesChanged sends the standard
// org.freedesktop.DBus.Properties.PropertiesChanged signal for path/
// ifaceName, reporting changed values directly and invalidated ones by
// name only. Callers whose properties are EmitInvalidates or EmitFalse
// (see the prop package's EmitType) pass an empty changed map.
func (conn *Conn) EmitPropertiesChanged(path ObjectPath, ifaceName string, changed map[string]Variant, invalidated []string) error {
	if invalidated == nil {
		invalidated = []string{}
	}
	return conn.EmitSignal(path, ifaceProperties, "PropertiesChanged", ifaceName, changed, invalidated)
}

func (o *exportedObject) interfaceNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.ifaces))
	for n := range o.ifaces {
		names = append(names, n)
	}
	return names
}

func (o *exportedObject) interfaceNamed(name string) (*Interface, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	iface, ok := o.ifaces[name]
	return iface, ok
}

func fmtUnknown(kind, name string) string {
	return fmt.Sprintf("%s %q not found", kind, name)
}
