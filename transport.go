package dbus

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"unsafe"
)

// transport is a DBus transport: a byte stream plus the handful of
// operations the authentication handshake and message codec need beyond
// plain Read/Write (the EXTERNAL null byte, Unix FD passing).
type transport interface {
	io.ReadWriteCloser

	// SendNullByte sends the initial NUL byte the EXTERNAL mechanism
	// requires before the AUTH line.
	SendNullByte() error

	// SupportsUnixFDs reports whether this transport can carry Unix file
	// descriptors out-of-band.
	SupportsUnixFDs() bool

	// EnableUnixFDs records that NEGOTIATE_UNIX_FD/AGREE_UNIX_FD succeeded.
	EnableUnixFDs()

	ReadMessage() (*Message, error)
	SendMessage(*Message) error
}

// transports maps an address's transport name ("unix", "tcp", ...) to the
// constructor that dials it. Each transport_*.go file registers itself from
// an init function.
var transports = make(map[string]func(keys string) (transport, error))

// nativeEndian is the byte order used to encode messages this process
// sends; DBus requires a message's byte order to be self-describing on the
// wire, but a single process may pick whichever order it likes for its own
// outgoing traffic.
var nativeEndian binary.ByteOrder = binary.LittleEndian

func init() {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) == 0 {
		nativeEndian = binary.BigEndian
	}
}

// getTransport dials the first workable alternative in address, a
// semicolon-separated DBus address string.
func getTransport(address string) (transport, error) {
	var lastErr error
	addrs, err := ParseAddresses(address)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ctor, ok := transports[addr.Transport]
		if !ok {
			lastErr = errors.New("dbus: unsupported transport " + addr.Transport)
			continue
		}
		t, err := ctor(optsString(addr.Options))
		if err != nil {
			lastErr = err
			continue
		}
		return t, nil
	}
	if lastErr == nil {
		lastErr = errors.New("dbus: no addresses in " + address)
	}
	return nil, lastErr
}

// optsString reassembles an Address's parsed Options back into the
// "key=value,key2=value2" form the transport constructors parse themselves
// via getKey, since they were written against the raw options substring
// rather than the parsed map.
func optsString(opts map[string]string) string {
	var b strings.Builder
	first := true
	for k, v := range opts {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}
