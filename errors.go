package dbus

import "fmt"

// InvalidAddressError is returned when a DBus address string cannot be
// parsed. See ParseAddresses.
type InvalidAddressError struct {
	Address string
	Reason  string
}

func (e InvalidAddressError) Error() string {
	return fmt.Sprintf("dbus: invalid address %q: %s", e.Address, e.Reason)
}

// InvalidBusNameError indicates that a string is not a syntactically valid
// bus name.
type InvalidBusNameError string

func (e InvalidBusNameError) Error() string {
	return "dbus: invalid bus name: " + string(e)
}

// InvalidObjectPathError indicates that a string is not a syntactically
// valid object path.
type InvalidObjectPathError string

func (e InvalidObjectPathError) Error() string {
	return "dbus: invalid object path: " + string(e)
}

// InvalidInterfaceNameError indicates that a string is not a syntactically
// valid interface name.
type InvalidInterfaceNameError string

func (e InvalidInterfaceNameError) Error() string {
	return "dbus: invalid interface name: " + string(e)
}

// InvalidMemberNameError indicates that a string is not a syntactically
// valid member (method, signal or property) name.
type InvalidMemberNameError string

func (e InvalidMemberNameError) Error() string {
	return "dbus: invalid member name: " + string(e)
}

// InvalidIntrospectionError indicates malformed introspection XML, or XML
// that does not describe a coherent set of interfaces.
type InvalidIntrospectionError struct {
	Reason string
}

func (e InvalidIntrospectionError) Error() string {
	return "dbus: invalid introspection data: " + e.Reason
}

// SignatureBodyMismatchError indicates that a value does not conform to its
// declared DBus signature.
type SignatureBodyMismatchError struct {
	Sig    Signature
	Reason string
}

func (e SignatureBodyMismatchError) Error() string {
	return fmt.Sprintf("dbus: value does not conform to signature %q: %s", e.Sig.String(), e.Reason)
}

// AuthError is returned when the SASL authentication handshake with the bus
// daemon fails. It is always fatal for the connection attempt.
type AuthError struct {
	Reason string
}

func (e AuthError) Error() string {
	return "dbus: authentication failed: " + e.Reason
}

// Error represents a DBus message of type Error, either received from a
// peer or about to be sent to one. It implements the standard error
// interface and satisfies DBusError.
type Error struct {
	Name string
	Body []interface{}
}

// NewError builds an Error with the given name and body.
func NewError(name string, body []interface{}) Error {
	return Error{Name: name, Body: body}
}

func (e Error) Error() string {
	if len(e.Body) >= 1 {
		if s, ok := e.Body[0].(string); ok {
			return s
		}
	}
	return e.Name
}

// DBusError is implemented by Error; it lets callers recover the structured
// remote error from a call's returned error without a type assertion on the
// concrete Error type, matching the taxonomy's "produced by converting an
// ERROR frame" contract.
type DBusError interface {
	error
	ErrorName() string
}

// ErrorName returns the DBus error name, e.g. "org.freedesktop.DBus.Error.Failed".
func (e Error) ErrorName() string { return e.Name }

// InterfaceNotFoundError is a client-side misuse error: the proxy or service
// table has no record of the named interface.
type InterfaceNotFoundError string

func (e InterfaceNotFoundError) Error() string {
	return "dbus: interface not found: " + string(e)
}

// SignalDisabledError is a client-side misuse error: an attempt was made to
// emit or subscribe to a signal member marked disabled.
type SignalDisabledError string

func (e SignalDisabledError) Error() string {
	return "dbus: signal is disabled: " + string(e)
}

// TransportError wraps a fatal transport-level failure (EOF, OS-level I/O
// error). It is used to fail all pending calls on disconnect.
type TransportError struct {
	Err error
}

func (e TransportError) Error() string {
	return "dbus: transport error: " + e.Err.Error()
}

func (e TransportError) Unwrap() error { return e.Err }

// Standard org.freedesktop.DBus.Error.* names recognized on the wire.
const (
	ErrorFailed               = "org.freedesktop.DBus.Error.Failed"
	ErrorNoMemory             = "org.freedesktop.DBus.Error.NoMemory"
	ErrorServiceUnknown       = "org.freedesktop.DBus.Error.ServiceUnknown"
	ErrorNameHasNoOwner       = "org.freedesktop.DBus.Error.NameHasNoOwner"
	ErrorNoReply              = "org.freedesktop.DBus.Error.NoReply"
	ErrorIOError              = "org.freedesktop.DBus.Error.IOError"
	ErrorBadAddress           = "org.freedesktop.DBus.Error.BadAddress"
	ErrorNotSupported         = "org.freedesktop.DBus.Error.NotSupported"
	ErrorLimitsExceeded       = "org.freedesktop.DBus.Error.LimitsExceeded"
	ErrorAccessDenied         = "org.freedesktop.DBus.Error.AccessDenied"
	ErrorAuthFailed           = "org.freedesktop.DBus.Error.AuthFailed"
	ErrorNoServer             = "org.freedesktop.DBus.Error.NoServer"
	ErrorTimeout              = "org.freedesktop.DBus.Error.Timeout"
	ErrorNoNetwork            = "org.freedesktop.DBus.Error.NoNetwork"
	ErrorAddressInUse         = "org.freedesktop.DBus.Error.AddressInUse"
	ErrorDisconnected         = "org.freedesktop.DBus.Error.Disconnected"
	ErrorInvalidArgs          = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorFileNotFound         = "org.freedesktop.DBus.Error.FileNotFound"
	ErrorFileExists           = "org.freedesktop.DBus.Error.FileExists"
	ErrorUnknownMethod        = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrorUnknownObject        = "org.freedesktop.DBus.Error.UnknownObject"
	ErrorUnknownInterface     = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrorUnknownProperty      = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrorPropertyReadOnly     = "org.freedesktop.DBus.Error.PropertyReadOnly"
	ErrorInvalidSignature     = "org.freedesktop.DBus.Error.InvalidSignature"
	ErrorUnixProcessIdUnknown = "org.freedesktop.DBus.Error.UnixProcessIdUnknown"
)

// vendorError builds the library-internal error names the spec's error
// taxonomy reserves for conditions raised by a service interface method
// handler that did not produce a DBusError itself.
func vendorError(suffix, cause string) Error {
	return Error{
		Name: "com.github.peerbus.dbus." + suffix,
		Body: []interface{}{cause},
	}
}

func serviceError(cause string) Error  { return vendorError("ServiceError", cause) }
func internalError(cause string) Error { return vendorError("InternalError", cause) }
func clientError(cause string) Error   { return vendorError("ClientError", cause) }
