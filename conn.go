package dbus

import (
	"os"
	"os/user"
	"sync"
)

const (
	defaultSystemBusAddress = "unix:path=/var/run/dbus/system_bus_socket"
	sessionBusAddressEnv    = "DBUS_SESSION_BUS_ADDRESS"
	systemBusAddressEnv     = "DBUS_SYSTEM_BUS_ADDRESS"
)

var (
	systemBus  *Conn
	sessionBus *Conn
	busLck     sync.Mutex
)

// ConnState is the lifecycle stage of a Conn, as laid out by the connection
// state machine: a new connection moves forward through each stage exactly
// once, and can fall into Disconnected from any of them.
type ConnState int

const (
	StateNew ConnState = iota
	StateConnecting
	StateAuthenticating
	StateHelloPending
	StateReady
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateHelloPending:
		return "hello-pending"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Conn represents a connection to a message bus (usually the system or
// session bus). Multiple goroutines may invoke methods on a Conn
// simultaneously.
type Conn struct {
	transport

	stateLck sync.RWMutex
	state    ConnState

	uuid     string
	names    []string
	namesLck sync.RWMutex

	serialLck  sync.Mutex
	lastSerial uint32

	callsLck sync.RWMutex
	calls    map[uint32]*Call

	// outbox buffers messages Send accepts before the connection reaches
	// Ready, in FIFO order; enqueue holds them here instead of conn.out
	// until flushOutbox drains them on the HELLO_PENDING->READY
	// transition, so a caller racing the Hello exchange never jumps the
	// queue ahead of them. handshaking lets Hello's own AddMatch/Hello
	// calls, sent while still HelloPending, skip the outbox and reach the
	// wire directly, since nothing else ever drains it before Ready.
	outLck      sync.Mutex
	outbox      []*Message
	out         chan *Message
	handshaking bool

	handlersLck sync.RWMutex
	handlers    map[ObjectPath]*exportedObject

	matches    *matchTable
	sigHandler SignalHandler
	nameOwners *nameOwnerCache

	eavesdroppedLck sync.Mutex
	eavesdropped    chan *Message

	busObj *Object
	unixFD bool
}

// State returns the connection's current lifecycle stage.
func (conn *Conn) State() ConnState {
	conn.stateLck.RLock()
	defer conn.stateLck.RUnlock()
	return conn.state
}

func (conn *Conn) setState(s ConnState) {
	conn.stateLck.Lock()
	conn.state = s
	conn.stateLck.Unlock()
}

// SessionBus returns the connection to the session bus, connecting to it if
// not already done.
func SessionBus() (*Conn, error) {
	busLck.Lock()
	defer busLck.Unlock()
	if sessionBus != nil {
		return sessionBus, nil
	}
	conn, err := sessionBusPlatform()
	if err != nil {
		return nil, err
	}
	sessionBus = conn
	return conn, nil
}

// SystemBus returns the connection to the system bus, connecting to it if
// not already done.
func SystemBus() (*Conn, error) {
	busLck.Lock()
	defer busLck.Unlock()
	if systemBus != nil {
		return systemBus, nil
	}
	address := os.Getenv(systemBusAddressEnv)
	if address == "" {
		address = defaultSystemBusAddress
	}
	conn, err := Dial(address)
	if err != nil {
		return nil, err
	}
	systemBus = conn
	return conn, nil
}

// Dial establishes a new connection to the message bus at address: it
// dials the transport, runs the SASL handshake, and completes the Hello
// exchange before returning, leaving the connection in StateReady.
func Dial(address string) (*Conn, error) {
	conn := &Conn{state: StateNew}
	conn.setState(StateConnecting)
	t, err := getTransport(address)
	if err != nil {
		conn.setState(StateDisconnected)
		return nil, err
	}
	conn.transport = t
	return newConn(conn)
}

// newConn finishes bringing up a Conn around an already-dialed transport:
// authenticate, start the worker goroutines, then perform Hello. It is
// shared by client Dial and (for a server-accepted connection that still
// needs to authenticate) Server implementations.
func newConn(conn *Conn) (*Conn, error) {
	conn.setState(StateAuthenticating)
	uid := "0"
	if u, err := user.Current(); err == nil {
		uid = u.Uid
	}
	methods := []Auth{AuthExternal(uid), AuthAnonymous()}
	if err := auth(conn.transport, methods); err != nil {
		conn.transport.Close()
		conn.setState(StateDisconnected)
		return nil, err
	}

	conn.calls = make(map[uint32]*Call)
	conn.out = make(chan *Message, 10)
	conn.handlers = make(map[ObjectPath]*exportedObject)
	conn.matches = newMatchTable()
	conn.sigHandler = NewSequentialSignalHandler()
	conn.nameOwners = newNameOwnerCache()
	conn.busObj = conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")

	go conn.inWorker()
	go conn.outWorker()

	conn.setState(StateHelloPending)
	conn.setHandshaking(true)
	err := conn.hello()
	conn.setHandshaking(false)
	if err != nil {
		conn.transport.Close()
		conn.setState(StateDisconnected)
		return nil, err
	}
	conn.setState(StateReady)
	conn.flushOutbox()
	return conn, nil
}

// newAcceptedConn wraps a transport that a Server has already taken through
// the server side of the SASL handshake: unlike newConn, it skips straight
// to StateReady without sending Hello, since a freshly accepted peer
// connection speaks directly to the code that accepted it rather than to a
// routing message bus.
func newAcceptedConn(t transport) (*Conn, error) {
	conn := &Conn{transport: t}
	conn.calls = make(map[uint32]*Call)
	conn.out = make(chan *Message, 10)
	conn.handlers = make(map[ObjectPath]*exportedObject)
	conn.matches = newMatchTable()
	conn.sigHandler = NewSequentialSignalHandler()
	conn.nameOwners = newNameOwnerCache()
	conn.busObj = conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")

	go conn.inWorker()
	go conn.outWorker()

	conn.setState(StateReady)
	return conn, nil
}

// BusObject returns the message bus object, org.freedesktop.DBus.
func (conn *Conn) BusObject() *Object {
	return conn.busObj
}

// Close closes the connection. Any blocked calls fail with ErrClosed, and
// channels passed to Eavesdrop are closed.
func (conn *Conn) Close() error {
	conn.setState(StateDisconnected)
	conn.failPendingCalls(ErrClosed)
	conn.outLck.Lock()
	if conn.out != nil {
		close(conn.out)
		conn.out = nil
	}
	conn.outLck.Unlock()

	conn.eavesdroppedLck.Lock()
	if conn.eavesdropped != nil {
		close(conn.eavesdropped)
	}
	conn.eavesdroppedLck.Unlock()

	if conn.sigHandler != nil {
		conn.sigHandler.Terminate()
	}
	return conn.transport.Close()
}

// Eavesdrop changes the channel to which all messages are sent whose
// destination is not one of this connection's names and which are not
// signals. The channel can be reset by passing nil. The caller must ensure
// c is sufficiently buffered; undeliverable messages are discarded.
func (conn *Conn) Eavesdrop(c chan *Message) {
	conn.eavesdroppedLck.Lock()
	conn.eavesdropped = c
	conn.eavesdroppedLck.Unlock()
}

// hello sends the initial org.freedesktop.DBus.Hello call that assigns
// this connection its unique bus name.
func (conn *Conn) hello() error {
	var s string
	if err := conn.busObj.Call("org.freedesktop.DBus.Hello", 0).Store(&s); err != nil {
		return err
	}
	conn.namesLck.Lock()
	conn.names = []string{s}
	conn.namesLck.Unlock()

	rule := MatchRule{}.WithInterface("org.freedesktop.DBus").WithMember("NameOwnerChanged")
	return conn.busObj.Call("org.freedesktop.DBus.AddMatch", 0, rule.filterString()).Err
}

// nextSerial allocates the next outgoing message serial. DBus serials are
// per-connection monotonic counters starting at 1; wraparound back to a
// serial still in flight is not handled, matching the wire spec's
// assumption that 2^32 concurrent calls never happens in practice.
func (conn *Conn) nextSerial() uint32 {
	conn.serialLck.Lock()
	defer conn.serialLck.Unlock()
	conn.lastSerial++
	if conn.lastSerial == 0 {
		conn.lastSerial = 1
	}
	return conn.lastSerial
}

// inWorker reads incoming messages from the transport and dispatches them:
// method replies and errors complete pending calls (at-most-once: a serial
// not found in the call table, because it already completed or was never
// ours, is silently dropped), signals fan out through the match table,
// and method calls are handled asynchronously.
func (conn *Conn) inWorker() {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if _, ok := err.(InvalidMessageError); ok {
				continue
			}
			conn.failPendingCalls(TransportError{Err: err})
			conn.Close()
			return
		}

		dest, _ := msg.Headers[FieldDestination].value.(string)
		found := conn.ownsName(dest)

		conn.eavesdroppedLck.Lock()
		if !found && msg.Type != TypeSignal {
			select {
			case conn.eavesdropped <- msg:
			default:
			}
			conn.eavesdroppedLck.Unlock()
			continue
		}
		conn.eavesdroppedLck.Unlock()

		switch msg.Type {
		case TypeMethodReply, TypeError:
			conn.completeCall(msg)
		case TypeSignal:
			conn.handleIncomingSignal(msg)
		case TypeMethodCall:
			go conn.handleCall(msg)
		}
	}
}

func (conn *Conn) ownsName(dest string) bool {
	conn.namesLck.RLock()
	defer conn.namesLck.RUnlock()
	if len(conn.names) == 0 {
		return true
	}
	for _, v := range conn.names {
		if dest == v {
			return true
		}
	}
	return false
}

func (conn *Conn) completeCall(msg *Message) {
	serial, _ := msg.Headers[FieldReplySerial].value.(uint32)
	conn.callsLck.Lock()
	c, ok := conn.calls[serial]
	if ok {
		delete(conn.calls, serial)
	}
	conn.callsLck.Unlock()
	if !ok {
		return
	}
	if msg.Type == TypeError {
		name, _ := msg.Headers[FieldErrorName].value.(string)
		c.Err = Error{Name: name, Body: msg.Body}
	} else {
		c.Body = msg.Body
	}
	c.Done <- c
}

func (conn *Conn) failPendingCalls(err error) {
	conn.callsLck.Lock()
	calls := conn.calls
	conn.calls = make(map[uint32]*Call)
	conn.callsLck.Unlock()
	for _, c := range calls {
		c.Err = err
		c.Done <- c
	}
}

func (conn *Conn) handleIncomingSignal(msg *Message) {
	iface, _ := msg.Headers[FieldInterface].value.(string)
	member, _ := msg.Headers[FieldMember].value.(string)
	sender, _ := msg.Headers[FieldSender].value.(string)

	if iface == "org.freedesktop.DBus" && sender == "org.freedesktop.DBus" {
		switch member {
		case "NameLost":
			name, _ := msg.Body[0].(string)
			conn.namesLck.Lock()
			for i, v := range conn.names {
				if v == name {
					conn.names = append(conn.names[:i], conn.names[i+1:]...)
					break
				}
			}
			conn.namesLck.Unlock()
		case "NameOwnerChanged":
			conn.handleNameOwnerChanged(msg)
		}
	}

	conn.matches.deliver(msg, conn.sigHandler, conn.nameOwners.lookup)
}

// Names returns the names currently owned by this connection; the first
// element is always the connection's unique name.
func (conn *Conn) Names() []string {
	conn.namesLck.RLock()
	defer conn.namesLck.RUnlock()
	s := make([]string, len(conn.names))
	copy(s, conn.names)
	return s
}

// Object returns a proxy for the object at path on the peer dest.
func (conn *Conn) Object(dest string, path ObjectPath) *Object {
	return &Object{conn: conn, dest: dest, path: path}
}

// outWorker encodes and sends messages enqueued on conn.out, failing the
// corresponding pending call (if any) when the transport write itself
// fails.
func (conn *Conn) outWorker() {
	for msg := range conn.out {
		err := conn.SendMessage(msg)
		if err != nil {
			conn.callsLck.Lock()
			c, ok := conn.calls[msg.Serial()]
			if ok {
				delete(conn.calls, msg.Serial())
			}
			conn.callsLck.Unlock()
			if ok {
				c.Err = err
				c.Done <- c
			}
		}
	}
}

// Send queues msg for delivery and, for method calls that expect a reply,
// returns the Call tracking it. ch, if non-nil, must be a buffered channel;
// the Call is delivered to it on completion.
func (conn *Conn) Send(msg *Message, ch chan *Call) *Call {
	msg.SetSerial(conn.nextSerial())

	if msg.Type == TypeMethodCall && msg.Flags&FlagNoReplyExpected == 0 {
		if ch == nil {
			ch = make(chan *Call, 5)
		} else if cap(ch) == 0 {
			panic("dbus: Send: unbuffered channel")
		}
		call := &Call{
			Destination: dest(msg),
			Path:        path(msg),
			Method:      iface(msg) + "." + member(msg),
			Args:        msg.Body,
			Done:        ch,
		}
		conn.callsLck.Lock()
		conn.calls[msg.Serial()] = call
		conn.callsLck.Unlock()
		conn.enqueue(msg)
		return call
	}
	conn.enqueue(msg)
	return nil
}

// enqueue hands msg to outWorker once the connection is Ready. Before that,
// messages are appended to outbox in the order Send accepted them; the
// Hello/AddMatch traffic hello() itself sends, marked by handshaking, goes
// straight to conn.out since flushOutbox never runs until after hello()
// returns.
func (conn *Conn) enqueue(msg *Message) {
	conn.outLck.Lock()
	defer conn.outLck.Unlock()
	if conn.out == nil {
		return
	}
	if conn.handshaking || conn.State() == StateReady {
		conn.out <- msg
		return
	}
	conn.outbox = append(conn.outbox, msg)
}

// setHandshaking marks whether hello() is currently sending, so its own
// traffic bypasses the pre-Ready outbox.
func (conn *Conn) setHandshaking(v bool) {
	conn.outLck.Lock()
	conn.handshaking = v
	conn.outLck.Unlock()
}

// flushOutbox drains any messages Send queued while the connection was not
// yet Ready, in FIFO order, so they reach the wire before any send issued
// after the connection becomes Ready can interleave ahead of them.
func (conn *Conn) flushOutbox() {
	conn.outLck.Lock()
	defer conn.outLck.Unlock()
	for _, msg := range conn.outbox {
		if conn.out != nil {
			conn.out <- msg
		}
	}
	conn.outbox = nil
}

func dest(msg *Message) string   { v, _ := msg.Headers[FieldDestination].value.(string); return v }
func path(msg *Message) ObjectPath { v, _ := msg.Headers[FieldPath].value.(ObjectPath); return v }
func iface(msg *Message) string  { v, _ := msg.Headers[FieldInterface].value.(string); return v }
func member(msg *Message) string { v, _ := msg.Headers[FieldMember].value.(string); return v }

// sendError builds and queues an Error message replying to serial.
func (conn *Conn) sendError(e Error, destName string, serial uint32) {
	msg, err := NewErrorMessage(&Message{serial: serial, Headers: map[HeaderField]Variant{FieldReplySerial: MakeVariant(serial)}}, e.Name, e.Body...)
	if err != nil {
		return
	}
	msg.Headers[FieldDestination] = MakeVariant(destName)
	conn.Send(msg, nil)
}

// sendReply builds and queues a method reply message replying to serial.
func (conn *Conn) sendReply(destName string, serial uint32, values ...interface{}) {
	call := &Message{serial: serial, Headers: map[HeaderField]Variant{FieldReplySerial: MakeVariant(serial)}}
	msg, err := NewMethodReply(call, values...)
	if err != nil {
		return
	}
	msg.Headers[FieldDestination] = MakeVariant(destName)
	conn.Send(msg, nil)
}

// Signal registers c to receive every incoming signal, regardless of
// origin; this is the unfiltered escape hatch underneath AddMatchSignal.
func (conn *Conn) Signal(c chan<- *Signal) {
	if c == nil {
		return
	}
	conn.sigHandler.AddSignal(c)
}

// RemoveSignal reverses a prior Signal registration.
func (conn *Conn) RemoveSignal(c chan<- *Signal) {
	conn.sigHandler.RemoveSignal(c)
}

// AddMatchSignal subscribes ch to signals satisfying rule, issuing
// org.freedesktop.DBus.AddMatch on the bus the first time this exact rule
// is requested.
func (conn *Conn) AddMatchSignal(rule MatchRule, ch chan<- *Signal) error {
	if conn.matches.subscribe(rule, ch) {
		call := conn.busObj.Call("org.freedesktop.DBus.AddMatch", 0, rule.filterString())
		if call.Err != nil {
			conn.matches.unsubscribe(rule, ch)
			return call.Err
		}
	}
	return nil
}

// RemoveMatchSignal reverses a prior AddMatchSignal, issuing
// org.freedesktop.DBus.RemoveMatch once the last local subscriber for rule
// is gone.
func (conn *Conn) RemoveMatchSignal(rule MatchRule, ch chan<- *Signal) error {
	if conn.matches.unsubscribe(rule, ch) {
		return conn.busObj.Call("org.freedesktop.DBus.RemoveMatch", 0, rule.filterString()).Err
	}
	return nil
}

// SupportsUnixFDs reports whether the underlying transport supports
// passing Unix file descriptors.
func (conn *Conn) SupportsUnixFDs() bool {
	return conn.transport.SupportsUnixFDs()
}
