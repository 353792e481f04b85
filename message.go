package dbus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
	"strconv"

	"github.com/kr/pretty"
)

const protoVersion byte = 1

// Flags represents the possible flags of a DBus message.
type Flags byte

const (
	FlagNoReplyExpected Flags = 1 << iota
	FlagNoAutoStart
	FlagAllowInteractiveAuthorization
)

// Type represents the possible types of a DBus message.
type Type byte

const (
	TypeMethodCall Type = 1 + iota
	TypeMethodReply
	TypeError
	TypeSignal
	typeMax
)

func (t Type) String() string {
	switch t {
	case TypeMethodCall:
		return "method call"
	case TypeMethodReply:
		return "reply"
	case TypeError:
		return "error"
	case TypeSignal:
		return "signal"
	}
	return "invalid"
}

// HeaderField represents the possible byte codes for the headers of a DBus
// message.
type HeaderField byte

const (
	FieldPath HeaderField = 1 + iota
	FieldInterface
	FieldMember
	FieldErrorName
	FieldReplySerial
	FieldDestination
	FieldSender
	FieldSignature
	FieldUnixFDs
	fieldMax
)

// An InvalidMessageError describes the reason why a DBus message is regarded
// as invalid.
type InvalidMessageError string

func (e InvalidMessageError) Error() string {
	return "dbus: invalid message: " + string(e)
}

// A FormatError indicates that a value could not be (un)marshalled because
// its wire representation doesn't satisfy the constraints the DBus wire
// format places on it (non-UTF8 string content, embedded NUL, oversized
// array, excessive container nesting, and so on).
type FormatError string

func (e FormatError) Error() string {
	return "dbus: wire format error: " + string(e)
}

var fieldTypes = map[HeaderField]reflect.Type{
	FieldPath:        objectPathType,
	FieldInterface:   stringType,
	FieldMember:      stringType,
	FieldErrorName:   stringType,
	FieldReplySerial: uint32Type,
	FieldDestination: stringType,
	FieldSender:      stringType,
	FieldSignature:   signatureType,
	FieldUnixFDs:     uint32Type,
}

var requiredFields = map[Type][]HeaderField{
	TypeMethodCall:  {FieldPath, FieldMember},
	TypeMethodReply: {FieldReplySerial},
	TypeError:       {FieldErrorName, FieldReplySerial},
	TypeSignal:      {FieldPath, FieldInterface, FieldMember},
}

// Message represents a single DBus message, fully decoded (or ready to be
// encoded): the body is already unmarshalled into Go values, not left as
// raw wire bytes, so callers never drive a second decode pass over it.
type Message struct {
	Type
	Flags
	serial  uint32
	Headers map[HeaderField]Variant
	Body    []interface{}
}

// Serial returns the message's own serial number, the value its sender
// assigned to it. For a reply or error, the serial of the call it answers
// is in the FieldReplySerial header, not here.
func (msg *Message) Serial() uint32 { return msg.serial }

// SetSerial assigns the wire serial number. Connections call this once,
// from the monotonic allocator, immediately before sending; callers
// constructing a Message by hand should not normally need it.
func (msg *Message) SetSerial(serial uint32) { msg.serial = serial }

type header struct {
	Field   byte
	Variant Variant
}

// NewMethodCall builds a method call message with the required Path and
// Member headers set, validating both. Interface and Destination may be
// empty; set them on the returned Headers map when needed.
func NewMethodCall(dest string, path ObjectPath, iface, member string) (*Message, error) {
	if dest != "" && !isValidBusName(dest) {
		return nil, InvalidBusNameError(dest)
	}
	if !path.IsValid() {
		return nil, InvalidObjectPathError(string(path))
	}
	if iface != "" && !isValidInterface(iface) {
		return nil, InvalidInterfaceNameError(iface)
	}
	if !isValidMember(member) {
		return nil, InvalidMemberNameError(member)
	}
	msg := &Message{Type: TypeMethodCall, Headers: make(map[HeaderField]Variant)}
	msg.Headers[FieldPath] = MakeVariant(path)
	msg.Headers[FieldMember] = MakeVariant(member)
	if dest != "" {
		msg.Headers[FieldDestination] = MakeVariant(dest)
	}
	if iface != "" {
		msg.Headers[FieldInterface] = MakeVariant(iface)
	}
	return msg, nil
}

// NewMethodReply builds a reply message correlated to call via its serial.
func NewMethodReply(call *Message, body ...interface{}) (*Message, error) {
	msg := &Message{Type: TypeMethodReply, Headers: make(map[HeaderField]Variant)}
	msg.Headers[FieldReplySerial] = MakeVariant(call.serial)
	if dest, ok := call.Headers[FieldSender]; ok {
		msg.Headers[FieldDestination] = dest
	}
	if len(body) != 0 {
		msg.Headers[FieldSignature] = MakeVariant(SignatureOf(body...))
		msg.Body = body
	}
	return msg, nil
}

// NewErrorMessage builds an error reply correlated to call.
func NewErrorMessage(call *Message, name string, body ...interface{}) (*Message, error) {
	if !isValidInterface(name) {
		return nil, InvalidInterfaceNameError(name)
	}
	msg := &Message{Type: TypeError, Headers: make(map[HeaderField]Variant)}
	msg.Headers[FieldErrorName] = MakeVariant(name)
	msg.Headers[FieldReplySerial] = MakeVariant(call.serial)
	if dest, ok := call.Headers[FieldSender]; ok {
		msg.Headers[FieldDestination] = dest
	}
	if len(body) != 0 {
		msg.Headers[FieldSignature] = MakeVariant(SignatureOf(body...))
		msg.Body = body
	}
	return msg, nil
}

// NewSignal builds a signal message with the required Path, Interface and
// Member headers set, validating all three.
func NewSignal(path ObjectPath, iface, member string, body ...interface{}) (*Message, error) {
	if !path.IsValid() {
		return nil, InvalidObjectPathError(string(path))
	}
	if !isValidInterface(iface) {
		return nil, InvalidInterfaceNameError(iface)
	}
	if !isValidMember(member) {
		return nil, InvalidMemberNameError(member)
	}
	msg := &Message{Type: TypeSignal, Headers: make(map[HeaderField]Variant)}
	msg.Headers[FieldPath] = MakeVariant(path)
	msg.Headers[FieldInterface] = MakeVariant(iface)
	msg.Headers[FieldMember] = MakeVariant(member)
	if len(body) != 0 {
		msg.Headers[FieldSignature] = MakeVariant(SignatureOf(body...))
		msg.Body = body
	}
	return msg, nil
}

// DecodeMessage tries to decode a single message from the given reader. The
// byte order is figured out from the first byte. The possibly returned
// error may either be an error of the underlying reader or an
// InvalidMessageError.
func DecodeMessage(rd io.Reader) (*Message, error) {
	return decodeMessageWithFds(rd, nil)
}

func decodeMessageWithFds(rd io.Reader, fds []int) (*Message, error) {
	var order binary.ByteOrder

	b := make([]byte, 1)
	if _, err := io.ReadFull(rd, b); err != nil {
		return nil, err
	}
	switch b[0] {
	case 'l':
		order = binary.LittleEndian
	case 'B':
		order = binary.BigEndian
	default:
		return nil, InvalidMessageError("invalid byte order")
	}

	dec := newDecoder(rd, order, fds)
	dec.pos = 1
	var typ, flags, proto byte
	var blength uint32
	var serial uint32
	vs, err := dec.Decode(Signature{str: "yyyuu"})
	if err != nil {
		return nil, err
	}
	if err := Store(vs, &typ, &flags, &proto, &blength, &serial); err != nil {
		return nil, err
	}

	vs, err = dec.Decode(Signature{str: "a(yv)"})
	if err != nil {
		return nil, err
	}
	headers, err := headersFromArray(vs[0])
	if err != nil {
		return nil, err
	}
	if err := dec.align(8); err != nil {
		return nil, err
	}

	msg := &Message{Type: Type(typ), Flags: Flags(flags), serial: serial}
	msg.Headers = make(map[HeaderField]Variant, len(headers))
	for _, h := range headers {
		msg.Headers[HeaderField(h.Field)] = h.Variant
	}

	if err := decodeMessageBody(msg, dec, blength); err != nil {
		return nil, err
	}
	if err := msg.IsValid(); err != nil {
		return nil, err
	}
	return msg, nil
}

// headersFromArray converts the decoded "a(yv)" value (a slice of
// []interface{}{byte, Variant} struct entries; the outer slice's concrete
// element type depends on how the decoder represented the struct type) into
// a []header slice.
func headersFromArray(v interface{}) ([]header, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, InvalidMessageError("malformed header array")
	}
	out := make([]header, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		fields, ok := rv.Index(i).Interface().([]interface{})
		if !ok || len(fields) != 2 {
			return nil, InvalidMessageError("malformed header entry")
		}
		fb, ok := fields[0].(byte)
		if !ok {
			return nil, InvalidMessageError("malformed header field code")
		}
		variant, ok := fields[1].(Variant)
		if !ok {
			return nil, InvalidMessageError("malformed header field value")
		}
		out = append(out, header{fb, variant})
	}
	return out, nil
}

// decodeMessageBody decodes the message body according to the signature
// given in the FieldSignature header, if any.
func decodeMessageBody(msg *Message, dec *decoder, blength uint32) error {
	sigVariant, ok := msg.Headers[FieldSignature]
	if !ok || blength == 0 {
		return nil
	}
	sig, ok := sigVariant.value.(Signature)
	if !ok {
		return InvalidMessageError("signature header has wrong type")
	}
	vs, err := dec.Decode(sig)
	if err != nil {
		return err
	}
	msg.Body = vs
	return nil
}

// DecodeMessageBody decodes msg's body from r according to the signature
// already present in msg.Headers, substituting fds for any unix file
// descriptor indices found in the body. It is used by transports that read
// the fixed header and the body separately (Unix-domain sockets, where the
// body arrives alongside out-of-band SCM_RIGHTS data).
func DecodeMessageBody(msg *Message, r io.Reader, order binary.ByteOrder, fds []int) error {
	sigVariant, ok := msg.Headers[FieldSignature]
	if !ok {
		msg.Body = nil
		return nil
	}
	sig, ok := sigVariant.value.(Signature)
	if !ok {
		return InvalidMessageError("signature header has wrong type")
	}
	dec := newDecoder(r, order, fds)
	vs, err := dec.Decode(sig)
	if err != nil {
		return err
	}
	msg.Body = vs
	return nil
}

// CountFds returns the number of UnixFD/[]UnixFD values in the message
// body, i.e. the number of file descriptors that must ride along as
// out-of-band data when this message is sent.
func (msg *Message) CountFds() (int, error) {
	n := 0
	for _, v := range msg.Body {
		switch x := v.(type) {
		case UnixFD:
			n++
		case []UnixFD:
			n += len(x)
		}
	}
	return n, nil
}

// EncodeTo encodes and sends a message to the given writer. If the message
// is not valid, an error is returned. It must carry no unix file
// descriptors; use EncodeToWithFDs for that.
func (msg *Message) EncodeTo(out io.Writer, order binary.ByteOrder) error {
	_, err := msg.encodeTo(out, order, nil)
	return err
}

// EncodeToWithFDs behaves like EncodeTo but substitutes UnixFD/[]UnixFD
// body values with their wire index, returning the actual descriptors in
// the order they must be attached as SCM_RIGHTS out-of-band data.
func (msg *Message) EncodeToWithFDs(out io.Writer, order binary.ByteOrder) ([]int, error) {
	return msg.encodeTo(out, order, []int{})
}

func (msg *Message) encodeTo(out io.Writer, order binary.ByteOrder, fds []int) ([]int, error) {
	if err := msg.IsValid(); err != nil {
		return nil, err
	}

	bodyBuf := new(bytes.Buffer)
	benc := newEncoder(bodyBuf, order, fds)
	if len(msg.Body) != 0 {
		if err := benc.Encode(msg.Body...); err != nil {
			return nil, err
		}
	}

	headers := make([]header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, header{byte(k), v})
	}

	buf := new(bytes.Buffer)
	enc := newEncoder(buf, order, benc.fds)
	var orderByte byte
	switch order {
	case binary.LittleEndian:
		orderByte = 'l'
	case binary.BigEndian:
		orderByte = 'B'
	default:
		return nil, InvalidMessageError("invalid byte order")
	}
	if err := enc.Encode(orderByte, byte(msg.Type), byte(msg.Flags), protoVersion,
		uint32(bodyBuf.Len()), msg.serial, headers); err != nil {
		return nil, err
	}
	enc.align(8)
	if bodyBuf.Len() != 0 {
		if _, err := bodyBuf.WriteTo(buf); err != nil {
			return nil, err
		}
	}
	if _, err := buf.WriteTo(out); err != nil {
		return nil, err
	}
	return enc.fds, nil
}

// IsValid checks whether msg is a valid message and returns an
// InvalidMessageError if it is not.
func (msg *Message) IsValid() error {
	if msg.Flags & ^(FlagNoAutoStart | FlagNoReplyExpected | FlagAllowInteractiveAuthorization) != 0 {
		return InvalidMessageError("invalid flags")
	}
	if msg.Type == 0 || msg.Type >= typeMax {
		return InvalidMessageError("invalid message type")
	}
	for k, v := range msg.Headers {
		if k == 0 || k >= fieldMax {
			return InvalidMessageError("invalid header")
		}
		if reflect.TypeOf(v.value) != fieldTypes[k] {
			return InvalidMessageError("invalid type of header field")
		}
	}
	for _, v := range requiredFields[msg.Type] {
		if _, ok := msg.Headers[v]; !ok {
			return InvalidMessageError("missing required header")
		}
	}
	if path, ok := msg.Headers[FieldPath]; ok {
		if !path.value.(ObjectPath).IsValid() {
			return InvalidMessageError("invalid path")
		}
	}
	if len(msg.Body) != 0 {
		if _, ok := msg.Headers[FieldSignature]; !ok {
			return InvalidMessageError("missing signature")
		}
	}
	return nil
}

// String returns a string representation of a message similar to the
// format dbus-monitor prints.
func (msg *Message) String() string {
	if err := msg.IsValid(); err != nil {
		return "<invalid>"
	}
	s := msg.Type.String()
	if v, ok := msg.Headers[FieldSender]; ok {
		s += " from " + v.value.(string)
	}
	if v, ok := msg.Headers[FieldDestination]; ok {
		s += " to " + v.value.(string)
	} else {
		s += " to <null>"
	}
	s += " serial " + strconv.FormatUint(uint64(msg.serial), 10)
	if v, ok := msg.Headers[FieldPath]; ok {
		s += " path " + string(v.value.(ObjectPath))
	}
	if v, ok := msg.Headers[FieldInterface]; ok {
		s += " interface " + v.value.(string)
	}
	if v, ok := msg.Headers[FieldErrorName]; ok {
		s += " name " + v.value.(string)
	}
	if v, ok := msg.Headers[FieldMember]; ok {
		s += " member " + v.value.(string)
	}
	for i, v := range msg.Body {
		s += "\n  " + fmt.Sprint(v)
		_ = i
	}
	return s
}

// GoString renders msg's body with field names and nested struct layout
// visible, unlike String's dbus-monitor-style one-liner. Useful in test
// failure output and verbose logging where a malformed argument's shape
// matters more than a compact summary.
func (msg *Message) GoString() string {
	return fmt.Sprintf("%s\n  body: %# v", msg.String(), pretty.Formatter(msg.Body))
}
