// Package prop provides the Properties struct, a convenience map-backed
// implementation of the properties for one or more exported interfaces,
// wired into org.freedesktop.DBus.Properties through (*dbus.Conn).Export's
// standard handling rather than a method export of its own.
package prop

import (
	"sync"

	"github.com/peerbus/dbus"
)

// EmitType controls how org.freedesktop.DBus.Properties.PropertiesChanged
// is emitted for a property. If it is EmitTrue, the signal is emitted with
// the new value. If it is EmitInvalidates, the signal is also emitted, but
// the new value of the property is not disclosed.
type EmitType byte

const (
	EmitFalse EmitType = iota
	EmitTrue
	EmitInvalidates
)

// ErrIfaceNotFound is returned to peers who try to access properties on
// interfaces that aren't found.
func ErrIfaceNotFound(iface string) *dbus.Error {
	e := dbus.NewError(dbus.ErrorUnknownInterface, []interface{}{iface})
	return &e
}

// ErrPropNotFound is returned to peers trying to access properties that
// aren't found.
func ErrPropNotFound(name string) *dbus.Error {
	e := dbus.NewError(dbus.ErrorUnknownProperty, []interface{}{name})
	return &e
}

// ErrReadOnly is returned to peers trying to set a read-only property.
func ErrReadOnly(name string) *dbus.Error {
	e := dbus.NewError(dbus.ErrorPropertyReadOnly, []interface{}{name})
	return &e
}

// ErrInvalidType is returned to peers that set a property to a value of
// invalid type.
func ErrInvalidType(name string) *dbus.Error {
	e := dbus.NewError(dbus.ErrorInvalidArgs, []interface{}{"invalid type for property " + name})
	return &e
}

// Prop represents a single property's current value and change behavior.
type Prop struct {
	// Value is the property's current value. Must be a DBus-representable
	// type.
	Value interface{}

	// Writable controls whether Set is allowed to change this property.
	Writable bool

	// Chan, if non-nil, receives the new value whenever this property is
	// changed by a Set call.
	Chan chan interface{}

	// Emit controls how PropertiesChanged is emitted when this property
	// changes.
	Emit EmitType
}

// Properties manages a set of properties across one or more interfaces of
// a single exported object, updating the relevant *dbus.Interface so that
// conn.handleCall's built-in org.freedesktop.DBus.Properties handling
// serves Get/Set/GetAll against them directly. It is safe for concurrent
// use by multiple goroutines.
type Properties struct {
	mut  sync.RWMutex
	m    map[string]map[string]Prop
	conn *dbus.Conn
	path dbus.ObjectPath
}

// New returns a new Properties structure that manages the given
// properties. The key for the first-level map is the interface name; the
// second-level key is the property name. Each property is registered on
// the Interface already (or not yet) exported at path under that name, via
// conn.InterfaceAt, so it participates in introspection and in
// org.freedesktop.DBus.Properties.Get/Set/GetAll for that interface.
func New(conn *dbus.Conn, path dbus.ObjectPath, props map[string]map[string]Prop) *Properties {
	p := &Properties{m: props, conn: conn, path: path}
	for ifaceName, m := range props {
		ifc := conn.InterfaceAt(path, ifaceName)
		for name := range m {
			ifc.AddProperty(name, dbus.SignatureOf(m[name].Value).String(), access(m[name].Writable),
				p.getter(ifaceName, name), p.setter(ifaceName, name))
		}
		conn.Export(path, ifc)
	}
	return p
}

func access(writable bool) dbus.PropertyAccess {
	if writable {
		return dbus.PropReadWrite
	}
	return dbus.PropReadOnly
}

func (p *Properties) getter(iface, name string) func() (interface{}, *dbus.Error) {
	return func() (interface{}, *dbus.Error) {
		p.mut.RLock()
		defer p.mut.RUnlock()
		m, ok := p.m[iface]
		if !ok {
			return nil, ErrIfaceNotFound(iface)
		}
		prop, ok := m[name]
		if !ok {
			return nil, ErrPropNotFound(name)
		}
		return prop.Value, nil
	}
}

func (p *Properties) setter(iface, name string) func(dbus.Variant) *dbus.Error {
	return func(v dbus.Variant) *dbus.Error {
		p.mut.Lock()
		m, ok := p.m[iface]
		if !ok {
			p.mut.Unlock()
			return ErrIfaceNotFound(iface)
		}
		prop, ok := m[name]
		if !ok {
			p.mut.Unlock()
			return ErrPropNotFound(name)
		}
		if !prop.Writable {
			p.mut.Unlock()
			return ErrReadOnly(name)
		}
		p.setLocked(iface, name, v.Value())
		ch := prop.Chan
		p.mut.Unlock()
		if ch != nil {
			ch <- v.Value()
		}
		return nil
	}
}

// Get returns the current value of iface.name and whether it exists.
func (p *Properties) Get(iface, name string) (dbus.Variant, bool) {
	p.mut.RLock()
	defer p.mut.RUnlock()
	prop, ok := p.m[iface][name]
	if !ok {
		return dbus.Variant{}, false
	}
	return dbus.MakeVariant(prop.Value), true
}

// GetMust returns the value of the given property and panics if either the
// interface or the property name are invalid.
func (p *Properties) GetMust(iface, name string) interface{} {
	p.mut.RLock()
	defer p.mut.RUnlock()
	prop, ok := p.m[iface][name]
	if !ok {
		panic(ErrPropNotFound(name))
	}
	return prop.Value
}

// setLocked sets the given property and emits PropertiesChanged if
// appropriate. p.mut must already be held for writing.
func (p *Properties) setLocked(iface, name string, v interface{}) {
	old := p.m[iface][name]
	p.m[iface][name] = Prop{v, old.Writable, old.Chan, old.Emit}
	switch old.Emit {
	case EmitFalse:
	case EmitInvalidates:
		p.conn.EmitPropertiesChanged(p.path, iface, map[string]dbus.Variant{}, []string{name})
	case EmitTrue:
		p.conn.EmitPropertiesChanged(p.path, iface, map[string]dbus.Variant{name: dbus.MakeVariant(v)}, nil)
	default:
		panic("prop: invalid EmitType")
	}
}

// SetMust sets the value of the given property and panics if the interface
// or the property name are invalid.
func (p *Properties) SetMust(iface, name string, v interface{}) {
	p.mut.Lock()
	defer p.mut.Unlock()
	if _, ok := p.m[iface][name]; !ok {
		panic(ErrPropNotFound(name))
	}
	p.setLocked(iface, name, v)
}
