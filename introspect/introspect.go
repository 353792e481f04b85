// Package introspect provides the XML data model for
// org.freedesktop.DBus.Introspectable and a ready-made implementation of it.
package introspect

import (
	"encoding/xml"
)

// IntrospectableName is the interface name implemented by Introspectable.
const IntrospectableName = "org.freedesktop.DBus.Introspectable"

// Node is the root of an introspection document: the object at Name (if
// known) and its child object paths.
type Node struct {
	XMLName    xml.Name    `xml:"node"`
	Name       string      `xml:"name,attr,omitempty"`
	Interfaces []Interface `xml:"interface"`
	Children   []Node      `xml:"node"`
}

// Interface describes one DBus interface's methods, signals and
// properties.
type Interface struct {
	Name        string       `xml:"name,attr"`
	Methods     []Method     `xml:"method"`
	Signals     []Signal     `xml:"signal"`
	Properties  []Property   `xml:"property"`
	Annotations []Annotation `xml:"annotation"`
}

// Method describes one method of an interface.
type Method struct {
	Name        string       `xml:"name,attr"`
	Args        []Arg        `xml:"arg"`
	Annotations []Annotation `xml:"annotation"`
}

// Signal describes one signal of an interface.
type Signal struct {
	Name        string       `xml:"name,attr"`
	Args        []Arg        `xml:"arg"`
	Annotations []Annotation `xml:"annotation"`
}

// Property describes one property of an interface. Access is one of
// "read", "write" or "readwrite".
type Property struct {
	Name        string       `xml:"name,attr"`
	Type        string       `xml:"type,attr"`
	Access      string       `xml:"access,attr"`
	Annotations []Annotation `xml:"annotation"`
}

// Arg describes one argument of a method or signal. Direction is "in" or
// "out"; signals only ever have "out" args.
type Arg struct {
	Name      string `xml:"name,attr,omitempty"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr,omitempty"`
}

// Annotation is a well-known key/value annotation, e.g.
// org.freedesktop.DBus.Deprecated.
type Annotation struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// IntrospectableInterface is the static introspection data for
// org.freedesktop.DBus.Introspectable itself.
var IntrospectableInterface = Interface{
	Name: IntrospectableName,
	Methods: []Method{
		{Name: "Introspect", Args: []Arg{{Name: "xml_data", Type: "s", Direction: "out"}}},
	},
}

// PeerInterface is the static introspection data for
// org.freedesktop.DBus.Peer.
var PeerInterface = Interface{
	Name: "org.freedesktop.DBus.Peer",
	Methods: []Method{
		{Name: "Ping"},
		{Name: "GetMachineId", Args: []Arg{{Name: "machine_uuid", Type: "s", Direction: "out"}}},
	},
}

// Introspectable implements org.freedesktop.DBus.Introspectable.Introspect
// by returning pre-rendered XML. Build one with NewIntrospectable from a
// *Node assembled by a service's export table.
type Introspectable string

// NewIntrospectable renders n to its XML introspection document.
func NewIntrospectable(n *Node) Introspectable {
	b, err := xml.MarshalIndent(n, "", "  ")
	if err != nil {
		panic(err)
	}
	return Introspectable(xml.Header + string(b))
}

// String returns the rendered XML document.
func (i Introspectable) String() string {
	return string(i)
}
