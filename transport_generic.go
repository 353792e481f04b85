package dbus

import (
	"encoding/binary"
	"errors"
	"io"
)

// genericTransport adapts a plain io.ReadWriteCloser — a connection with no
// FD-passing or peer-credential protocol of its own — into the transport
// interface. Unlike a transport that blocks for a whole message at a time,
// it decodes through an Unmarshaller fed whatever bytes the last Read call
// actually returned, asking for exactly as many more as the partially
// decoded header or body says it still needs.
type genericTransport struct {
	io.ReadWriteCloser
	um *Unmarshaller
}

// newGenericTransport wraps rwc with its own Unmarshaller so repeated
// ReadMessage calls resume across a short read instead of re-parsing from
// scratch.
func newGenericTransport(rwc io.ReadWriteCloser) genericTransport {
	return genericTransport{ReadWriteCloser: rwc, um: NewUnmarshaller()}
}

func (t genericTransport) SendNullByte() error {
	_, err := t.Write([]byte{0})
	return err
}

func (t genericTransport) ReadNullByte() error {
	res := []byte{0}
	n, err := t.Read(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (t genericTransport) SupportsUnixFDs() bool {
	return false
}

func (t genericTransport) EnableUnixFDs() {}

// readChunk is how many bytes ReadMessage asks for when the Unmarshaller
// hasn't yet parsed enough of the fixed header to know a tighter bound.
const readChunk = 512

// ReadMessage decodes the next message by repeatedly reading whatever is
// available and feeding it to the Unmarshaller, growing or shrinking the
// next read size to the Unmarshaller's own NeedMore estimate once the
// fixed header is in hand. This is the resumable decode path spec §4.3
// calls for, in place of a transport that blocks in one big ReadFull for
// an entire message.
func (t genericTransport) ReadMessage() (*Message, error) {
	// A previous Feed call may have left a second, already-complete message
	// buffered (two messages arriving in a single Read); check before
	// blocking on the connection again.
	if msg, err, ok := t.um.Feed(nil).Done(); ok {
		return msg, err
	}
	want := readChunk
	for {
		buf := make([]byte, want)
		n, err := t.Read(buf)
		if err != nil {
			return nil, err
		}
		progress := t.um.Feed(buf[:n])
		if msg, derr, ok := progress.Done(); ok {
			return msg, derr
		}
		if need, ok := progress.NeedMore(); ok {
			want = need
		} else {
			want = readChunk
		}
	}
}

func (t genericTransport) SendMessage(msg *Message) error {
	for _, v := range msg.Body {
		if _, ok := v.(UnixFD); ok {
			return errors.New("dbus: unix fd passing not enabled")
		}
	}
	return msg.EncodeTo(t, binary.LittleEndian)
}
