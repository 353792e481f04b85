package dbus

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by Call.Store and by pending calls when the
// connection is closed before a reply arrives.
var ErrClosed = errors.New("dbus: connection closed")

// Call represents a pending or completed method call.
type Call struct {
	Destination string
	Path        ObjectPath
	Method      string
	Args        []interface{}

	// Done receives this Call back once a reply (or transport error)
	// arrives. The channel capacity is always at least 1, so the final
	// send never blocks.
	Done chan *Call

	Err  error
	Body []interface{}
}

// Store decodes the reply body into retvalues, which must be pointers. It
// returns the call's error if the call itself failed or errored on the
// wire.
func (c *Call) Store(retvalues ...interface{}) error {
	if c.Err != nil {
		return c.Err
	}
	return Store(c.Body, retvalues...)
}

// Object represents a remote object exposed by a peer at a given bus name
// and object path.
type Object struct {
	conn *Conn
	dest string
	path ObjectPath
}

// Destination returns the bus name this object is addressed to.
func (o *Object) Destination() string { return o.dest }

// Path returns the object path this object is addressed to.
func (o *Object) Path() ObjectPath { return o.path }

// Call calls a method synchronously, blocking until the reply arrives (or
// the connection is closed). method must be "interface.member", e.g.
// "org.freedesktop.DBus.Peer.Ping".
func (o *Object) Call(method string, flags Flags, args ...interface{}) *Call {
	return <-o.Go(method, flags, make(chan *Call, 1), args...).Done
}

// CallWithContext behaves like Call but aborts (returning ctx.Err() as the
// Call's Err) if ctx is done before a reply arrives. The call itself is
// still in flight on the wire; there is no way to cancel a DBus method call
// once sent.
func (o *Object) CallWithContext(ctx context.Context, method string, flags Flags, args ...interface{}) *Call {
	done := make(chan *Call, 1)
	o.Go(method, flags, done, args...)
	select {
	case <-ctx.Done():
		return &Call{Err: ctx.Err()}
	case c := <-done:
		return c
	}
}

// Go calls a method asynchronously. If ch is nil, a channel is allocated;
// otherwise ch must have capacity for at least one value. The Call is sent
// to ch once its reply arrives.
func (o *Object) Go(method string, flags Flags, ch chan *Call, args ...interface{}) *Call {
	iface, member, err := splitMethod(method)
	if err != nil {
		c := &Call{Err: err, Done: mustChan(ch)}
		c.Done <- c
		return c
	}

	msg, err := NewMethodCall(o.dest, o.path, iface, member)
	if err != nil {
		c := &Call{Err: err, Done: mustChan(ch)}
		c.Done <- c
		return c
	}
	msg.Flags = flags & (FlagNoAutoStart | FlagNoReplyExpected)
	msg.Body = args
	if len(args) > 0 {
		msg.Headers[FieldSignature] = MakeVariant(SignatureOf(args...))
	}

	call := o.conn.Send(msg, ch)
	if call == nil {
		// NoReplyExpected: synthesize an already-done Call so Go's return
		// value is always usable.
		call = &Call{Destination: o.dest, Path: o.path, Method: method, Args: args, Done: mustChan(ch)}
		call.Done <- call
	}
	return call
}

func mustChan(ch chan *Call) chan *Call {
	if ch == nil {
		return make(chan *Call, 1)
	}
	if cap(ch) == 0 {
		panic("dbus: Go: unbuffered channel")
	}
	return ch
}

func splitMethod(method string) (iface, member string, err error) {
	i := strings.LastIndexByte(method, '.')
	if i == -1 {
		return "", "", errors.New("dbus: method name " + method + " missing interface")
	}
	return method[:i], method[i+1:], nil
}

// GetProperty fetches a single property via the standard
// org.freedesktop.DBus.Properties interface.
func (o *Object) GetProperty(iface, name string) (Variant, error) {
	var result Variant
	err := o.Call("org.freedesktop.DBus.Properties.Get", 0, iface, name).Store(&result)
	return result, err
}

// SetProperty sets a single property via the standard
// org.freedesktop.DBus.Properties interface.
func (o *Object) SetProperty(iface, name string, value interface{}) error {
	return o.Call("org.freedesktop.DBus.Properties.Set", 0, iface, name, MakeVariant(value)).Err
}

// GetAllProperties fetches every property of iface via the standard
// org.freedesktop.DBus.Properties interface.
func (o *Object) GetAllProperties(iface string) (map[string]Variant, error) {
	var result map[string]Variant
	err := o.Call("org.freedesktop.DBus.Properties.GetAll", 0, iface).Store(&result)
	return result, err
}
