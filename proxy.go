package dbus

import (
	"encoding/xml"
	"fmt"

	"github.com/peerbus/dbus/introspect"
)

// ProxyObject is a remote object's façade built from its introspection
// data: a concrete value whose method, property and signal operations are
// looked up by name against that data, rather than dynamically attached
// per-interface members.
type ProxyObject struct {
	obj  *Object
	node *introspect.Node

	methods    map[string]introspect.Method
	signals    map[string]introspect.Signal
	properties map[string]introspect.Property
}

// NewProxyObject introspects dest/path over conn and returns a ProxyObject
// built from the result. It fails if the peer does not implement
// org.freedesktop.DBus.Introspectable or returns XML that doesn't parse.
func (conn *Conn) NewProxyObject(dest string, path ObjectPath) (*ProxyObject, error) {
	obj := conn.Object(dest, path)

	var data string
	call := obj.Call(ifaceIntrospectable+".Introspect", 0)
	if call.Err != nil {
		return nil, call.Err
	}
	if err := call.Store(&data); err != nil {
		return nil, err
	}

	var node introspect.Node
	if err := xml.Unmarshal([]byte(data), &node); err != nil {
		return nil, InvalidIntrospectionError{Reason: err.Error()}
	}

	p := &ProxyObject{
		obj:        obj,
		node:       &node,
		methods:    make(map[string]introspect.Method),
		signals:    make(map[string]introspect.Signal),
		properties: make(map[string]introspect.Property),
	}
	for _, ifc := range node.Interfaces {
		for _, m := range ifc.Methods {
			p.methods[ifc.Name+"."+m.Name] = m
		}
		for _, s := range ifc.Signals {
			p.signals[ifc.Name+"."+s.Name] = s
		}
		for _, prop := range ifc.Properties {
			p.properties[ifc.Name+"."+prop.Name] = prop
		}
	}
	return p, nil
}

// Destination returns the bus name this proxy is addressed to.
func (p *ProxyObject) Destination() string { return p.obj.Destination() }

// Path returns the object path this proxy is addressed to.
func (p *ProxyObject) Path() ObjectPath { return p.obj.Path() }

// Node returns the parsed introspection document this proxy was built
// from.
func (p *ProxyObject) Node() *introspect.Node { return p.node }

// argSignature concatenates the wire type of every arg in args with the
// given direction, and of every arg that declares no direction at all.
func argSignature(args []introspect.Arg, direction string) (Signature, error) {
	var s string
	for _, a := range args {
		if a.Direction == "" || a.Direction == direction {
			s += a.Type
		}
	}
	return ParseSignature(s)
}

// Call invokes member ("interface.member") on the remote object, raising a
// client-side InterfaceNotFoundError if introspection never declared it and
// a SignatureBodyMismatchError if args don't conform to the method's
// declared in-signature. On success it returns the reply body unwrapped to
// a single value when the method declares exactly one out-arg.
func (p *ProxyObject) Call(member string, args ...interface{}) (interface{}, error) {
	m, ok := p.methods[member]
	if !ok {
		return nil, InterfaceNotFoundError(member)
	}
	inSig, err := argSignature(m.Args, "in")
	if err != nil {
		return nil, err
	}
	if got := SignatureOf(args...); got.String() != inSig.String() {
		return nil, SignatureBodyMismatchError{
			Sig:    inSig,
			Reason: fmt.Sprintf("call to %s passed signature %q", member, got.String()),
		}
	}

	call := p.obj.Call(member, 0, args...)
	if call.Err != nil {
		return nil, call.Err
	}

	outCount := 0
	for _, a := range m.Args {
		if a.Direction == "out" {
			outCount++
		}
	}
	if outCount == 1 && len(call.Body) == 1 {
		return call.Body[0], nil
	}
	return call.Body, nil
}

// GetProperty fetches iface.name via org.freedesktop.DBus.Properties,
// raising InterfaceNotFoundError if introspection never declared the
// property.
func (p *ProxyObject) GetProperty(iface, name string) (Variant, error) {
	if _, ok := p.properties[iface+"."+name]; !ok {
		return Variant{}, InterfaceNotFoundError(iface + "." + name)
	}
	return p.obj.GetProperty(iface, name)
}

// SetProperty sets iface.name via org.freedesktop.DBus.Properties, raising
// InterfaceNotFoundError if introspection never declared the property.
func (p *ProxyObject) SetProperty(iface, name string, value interface{}) error {
	if _, ok := p.properties[iface+"."+name]; !ok {
		return InterfaceNotFoundError(iface + "." + name)
	}
	return p.obj.SetProperty(iface, name, value)
}

// AddSignal subscribes ch to member ("interface.member"), narrowed to this
// proxy's sender and path, raising InterfaceNotFoundError if introspection
// never declared the signal.
func (p *ProxyObject) AddSignal(member string, ch chan<- *Signal) error {
	iface, name, err := splitMethod(member)
	if err != nil {
		return err
	}
	if _, ok := p.signals[member]; !ok {
		return InterfaceNotFoundError(member)
	}
	rule := MatchRule{}.
		WithSender(p.obj.Destination()).
		WithPath(p.obj.Path()).
		WithInterface(iface).
		WithMember(name)
	return p.obj.conn.AddMatchSignal(rule, ch)
}

// RemoveSignal unsubscribes ch from member, previously subscribed with
// AddSignal.
func (p *ProxyObject) RemoveSignal(member string, ch chan<- *Signal) error {
	iface, name, err := splitMethod(member)
	if err != nil {
		return err
	}
	rule := MatchRule{}.
		WithSender(p.obj.Destination()).
		WithPath(p.obj.Path()).
		WithInterface(iface).
		WithMember(name)
	return p.obj.conn.RemoveMatchSignal(rule, ch)
}
