package dbus

import (
	"os"
	"strings"
	"sync"

	"github.com/peerbus/dbus/introspect"
)

const (
	ifacePeer          = "org.freedesktop.DBus.Peer"
	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifaceProperties    = "org.freedesktop.DBus.Properties"
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"
)

var (
	machineIDOnce sync.Once
	machineIDVal  string
)

// machineID returns the contents of /etc/machine-id (falling back to
// /var/lib/dbus/machine-id), read once and cached, for
// org.freedesktop.DBus.Peer.GetMachineId.
func machineID() string {
	machineIDOnce.Do(func() {
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			b, err := os.ReadFile(path)
			if err == nil {
				machineIDVal = strings.TrimSpace(string(b))
				return
			}
		}
	})
	return machineIDVal
}

// handleCall dispatches an incoming method-call message: the four
// standard interfaces (Peer, Introspectable, Properties, ObjectManager) are
// handled directly; anything else is routed to the Interface registered
// for the call's path and interface name via Export.
func (conn *Conn) handleCall(msg *Message) {
	p := path(msg)
	ifaceName := iface(msg)
	memberName := member(msg)
	sender, _ := msg.Headers[FieldSender].value.(string)
	serial := msg.serial

	reply := func(values ...interface{}) {
		if msg.Flags&FlagNoReplyExpected != 0 {
			return
		}
		conn.sendReply(sender, serial, values...)
	}
	replyErr := func(e Error) {
		if msg.Flags&FlagNoReplyExpected != 0 {
			return
		}
		conn.sendError(e, sender, serial)
	}

	conn.handlersLck.RLock()
	obj := conn.handlers[p]
	conn.handlersLck.RUnlock()

	switch ifaceName {
	case ifacePeer:
		switch memberName {
		case "Ping":
			reply()
		case "GetMachineId":
			reply(machineID())
		default:
			replyErr(Error{Name: ErrorUnknownMethod, Body: []interface{}{fmtUnknown("method", memberName)}})
		}
		return
	case ifaceIntrospectable:
		if memberName == "Introspect" {
			reply(string(conn.introspectPath(p)))
			return
		}
	case ifaceProperties:
		conn.handleProperties(obj, memberName, msg, reply, replyErr)
		return
	case ifaceObjectManager:
		if memberName == "GetManagedObjects" {
			reply(conn.managedObjects(p))
			return
		}
	}

	if obj == nil {
		replyErr(Error{Name: ErrorUnknownObject, Body: []interface{}{fmtUnknown("object", string(p))}})
		return
	}
	ifc, ok := obj.interfaceNamed(ifaceName)
	if !ok {
		replyErr(Error{Name: ErrorUnknownInterface, Body: []interface{}{fmtUnknown("interface", ifaceName)}})
		return
	}
	m, ok := ifc.methods[memberName]
	if !ok || ifc.disabled[memberName] {
		replyErr(Error{Name: ErrorUnknownMethod, Body: []interface{}{fmtUnknown("method", memberName)}})
		return
	}
	results, callErr := m.handler(sender, p, msg.Body)
	if callErr != nil {
		replyErr(*callErr)
		return
	}
	reply(results...)
}

// introspectPath builds the introspection document for p: every interface
// exported at p, plus the standard interfaces always implicit on an
// exported object, plus a child <node> entry for every path one segment
// below p that has something exported under it.
func (conn *Conn) introspectPath(p ObjectPath) introspect.Introspectable {
	n := &introspect.Node{Name: string(p)}
	n.Interfaces = append(n.Interfaces, introspect.IntrospectableInterface, introspect.PeerInterface)

	conn.handlersLck.RLock()
	if obj, ok := conn.handlers[p]; ok {
		hasProps := false
		for _, name := range obj.interfaceNames() {
			ifc, _ := obj.interfaceNamed(name)
			n.Interfaces = append(n.Interfaces, ifc.introspectData())
			if len(ifc.properties) > 0 {
				hasProps = true
			}
		}
		if hasProps {
			n.Interfaces = append(n.Interfaces, propertiesInterface)
		}
	}
	seen := make(map[string]bool)
	prefix := string(p)
	if prefix != "/" {
		prefix += "/"
	}
	for other := range conn.handlers {
		s := string(other)
		if !strings.HasPrefix(s, prefix) || s == string(p) {
			continue
		}
		rest := strings.TrimPrefix(s, prefix)
		child := rest
		if i := strings.IndexByte(rest, '/'); i != -1 {
			child = rest[:i]
		}
		if child != "" && !seen[child] {
			seen[child] = true
			n.Children = append(n.Children, introspect.Node{Name: child})
		}
	}
	conn.handlersLck.RUnlock()

	return introspect.NewIntrospectable(n)
}

// propertiesInterface is the static introspection data advertised for
// org.freedesktop.DBus.Properties on any object that exports at least one
// property.
var propertiesInterface = introspect.Interface{
	Name: ifaceProperties,
	Methods: []introspect.Method{
		{Name: "Get", Args: []introspect.Arg{
			{Name: "interface_name", Type: "s", Direction: "in"},
			{Name: "property_name", Type: "s", Direction: "in"},
			{Name: "value", Type: "v", Direction: "out"},
		}},
		{Name: "Set", Args: []introspect.Arg{
			{Name: "interface_name", Type: "s", Direction: "in"},
			{Name: "property_name", Type: "s", Direction: "in"},
			{Name: "value", Type: "v", Direction: "in"},
		}},
		{Name: "GetAll", Args: []introspect.Arg{
			{Name: "interface_name", Type: "s", Direction: "in"},
			{Name: "properties", Type: "a{sv}", Direction: "out"},
		}},
	},
	Signals: []introspect.Signal{
		{Name: "PropertiesChanged", Args: []introspect.Arg{
			{Name: "interface_name", Type: "s", Direction: "out"},
			{Name: "changed_properties", Type: "a{sv}", Direction: "out"},
			{Name: "invalidated_properties", Type: "as", Direction: "out"},
		}},
	},
}

func (conn *Conn) handleProperties(obj *exportedObject, memberName string, msg *Message, reply func(...interface{}), replyErr func(Error)) {
	if obj == nil {
		replyErr(Error{Name: ErrorUnknownObject, Body: []interface{}{fmtUnknown("object", string(path(msg)))}})
		return
	}
	switch memberName {
	case "Get":
		if len(msg.Body) != 2 {
			replyErr(Error{Name: ErrorInvalidArgs, Body: []interface{}{"Get expects (interface_name, property_name)"}})
			return
		}
		ifaceName, _ := msg.Body[0].(string)
		propName, _ := msg.Body[1].(string)
		ifc, ok := obj.interfaceNamed(ifaceName)
		if !ok {
			replyErr(Error{Name: ErrorUnknownInterface, Body: []interface{}{fmtUnknown("interface", ifaceName)}})
			return
		}
		prop, ok := ifc.properties[propName]
		if !ok || ifc.disabled[propName] || prop.access == PropWriteOnly {
			replyErr(Error{Name: ErrorUnknownProperty, Body: []interface{}{fmtUnknown("property", propName)}})
			return
		}
		v, callErr := prop.get()
		if callErr != nil {
			replyErr(*callErr)
			return
		}
		reply(MakeVariant(v))
	case "Set":
		if len(msg.Body) != 3 {
			replyErr(Error{Name: ErrorInvalidArgs, Body: []interface{}{"Set expects (interface_name, property_name, value)"}})
			return
		}
		ifaceName, _ := msg.Body[0].(string)
		propName, _ := msg.Body[1].(string)
		val, _ := msg.Body[2].(Variant)
		ifc, ok := obj.interfaceNamed(ifaceName)
		if !ok {
			replyErr(Error{Name: ErrorUnknownInterface, Body: []interface{}{fmtUnknown("interface", ifaceName)}})
			return
		}
		prop, ok := ifc.properties[propName]
		if !ok || ifc.disabled[propName] {
			replyErr(Error{Name: ErrorUnknownProperty, Body: []interface{}{fmtUnknown("property", propName)}})
			return
		}
		if prop.access == PropReadOnly {
			replyErr(Error{Name: ErrorPropertyReadOnly, Body: []interface{}{propName}})
			return
		}
		if callErr := prop.set(val); callErr != nil {
			replyErr(*callErr)
			return
		}
		reply()
	case "GetAll":
		if len(msg.Body) != 1 {
			replyErr(Error{Name: ErrorInvalidArgs, Body: []interface{}{"GetAll expects (interface_name)"}})
			return
		}
		ifaceName, _ := msg.Body[0].(string)
		ifc, ok := obj.interfaceNamed(ifaceName)
		if !ok {
			replyErr(Error{Name: ErrorUnknownInterface, Body: []interface{}{fmtUnknown("interface", ifaceName)}})
			return
		}
		out := make(map[string]Variant)
		for name, prop := range ifc.properties {
			if ifc.disabled[name] || prop.access == PropWriteOnly {
				continue
			}
			v, callErr := prop.get()
			if callErr != nil {
				continue
			}
			out[name] = MakeVariant(v)
		}
		reply(out)
	default:
		replyErr(Error{Name: ErrorUnknownMethod, Body: []interface{}{fmtUnknown("method", memberName)}})
	}
}

// managedObjects implements org.freedesktop.DBus.ObjectManager.
// GetManagedObjects: every exported path at or below root, with every
// interface's readable properties.
func (conn *Conn) managedObjects(root ObjectPath) map[ObjectPath]map[string]map[string]Variant {
	out := make(map[ObjectPath]map[string]map[string]Variant)
	prefix := string(root)
	if prefix != "/" {
		prefix += "/"
	}

	conn.handlersLck.RLock()
	defer conn.handlersLck.RUnlock()
	for p, obj := range conn.handlers {
		s := string(p)
		if s != string(root) && !strings.HasPrefix(s, prefix) {
			continue
		}
		ifaces := make(map[string]map[string]Variant)
		for _, name := range obj.interfaceNames() {
			ifc, _ := obj.interfaceNamed(name)
			props := make(map[string]Variant)
			for pname, prop := range ifc.properties {
				if ifc.disabled[pname] || prop.access == PropWriteOnly {
					continue
				}
				if v, callErr := prop.get(); callErr == nil {
					props[pname] = MakeVariant(v)
				}
			}
			ifaces[name] = props
		}
		out[p] = ifaces
	}
	return out
}
