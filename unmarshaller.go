package dbus

import (
	"bytes"
	"encoding/binary"
)

// Progress is the result of feeding bytes to an Unmarshaller. Exactly one
// of its accessors applies: call Done to check whether a message is ready,
// NeedMore to find out how many more bytes to supply before trying again,
// and Eof when the peer closed the stream cleanly between messages.
type Progress struct {
	msg      *Message
	err      error
	needMore int
	eof      bool
}

// Done reports whether a complete message was decoded, returning it. If
// decoding the buffered bytes failed (a malformed message), msg is nil and
// err is non-nil; the connection should be torn down in that case, as with
// any other transport error.
func (p Progress) Done() (msg *Message, err error, ok bool) {
	return p.msg, p.err, p.msg != nil || p.err != nil
}

// NeedMore reports whether more bytes are required before the next call to
// Feed can make progress, and a lower bound on how many.
func (p Progress) NeedMore() (int, bool) {
	return p.needMore, p.needMore > 0
}

// Eof reports whether the stream ended cleanly on a message boundary (zero
// bytes buffered, zero bytes fed).
func (p Progress) Eof() bool {
	return p.eof
}

// An Unmarshaller decodes a stream of bytes into Messages without blocking
// on short reads. It is the REDESIGN FLAG alternative to the transports'
// blocking, whole-message ReadMessage: callers that drive their own I/O
// loop (a non-blocking socket, a bytes.Buffer fed from a network callback)
// feed it whatever bytes are currently available and act on the returned
// Progress instead of depending on exceptions or repeated blocking reads.
//
// Grounded on the buffered, two-phase (fixed header, then header array,
// then body) resumable design of a reference Python unmarshaller: each
// phase is attempted only once enough bytes are buffered for it.
type Unmarshaller struct {
	buf bytes.Buffer
	fds []int
}

// NewUnmarshaller returns an empty Unmarshaller. fds, if non-nil, supplies
// file descriptors that arrived out-of-band alongside the next fed bytes;
// set it again via SetFds before each Feed call when FD passing is in use.
func NewUnmarshaller() *Unmarshaller {
	return &Unmarshaller{}
}

// SetFds attaches out-of-band file descriptors to be substituted into the
// next message decoded from currently buffered bytes.
func (u *Unmarshaller) SetFds(fds []int) {
	u.fds = fds
}

// Feed appends data to the internal buffer and attempts to decode the next
// message. On Done, the consumed bytes are dropped from the buffer and the
// caller may call Feed again (with nil) to decode a second already-buffered
// message. On NeedMore, data has been retained and the caller should supply
// at least the reported number of additional bytes on the next call.
func (u *Unmarshaller) Feed(data []byte) Progress {
	if len(data) != 0 {
		u.buf.Write(data)
	}
	buffered := u.buf.Bytes()

	if len(buffered) == 0 {
		return Progress{eof: true}
	}
	if len(buffered) < 16 {
		return Progress{needMore: 16 - len(buffered)}
	}

	var order binary.ByteOrder
	switch buffered[0] {
	case 'l':
		order = binary.LittleEndian
	case 'B':
		order = binary.BigEndian
	default:
		return Progress{err: InvalidMessageError("invalid byte order")}
	}

	blength := order.Uint32(buffered[4:8])
	hlength := order.Uint32(buffered[12:16])

	total := 16 + int(hlength)
	if pad := total % 8; pad != 0 {
		total += 8 - pad
	}
	total += int(blength)

	if len(buffered) < total {
		return Progress{needMore: total - len(buffered)}
	}

	msg, err := decodeMessageWithFds(bytes.NewReader(buffered[:total]), u.fds)
	// Drop the consumed bytes regardless of success so a malformed message
	// doesn't wedge the stream forever; a decode error is fatal for the
	// connection anyway.
	rest := make([]byte, len(buffered)-total)
	copy(rest, buffered[total:])
	u.buf.Reset()
	u.buf.Write(rest)
	if err != nil {
		return Progress{err: err}
	}
	return Progress{msg: msg}
}
