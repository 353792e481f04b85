package dbus

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"
)

// An encoder marshals values to the D-Bus wire format. Unlike the teacher's
// encoder, which panics on every write failure and recovers at the public
// Encode boundary, every method here returns its error explicitly and
// propagates it up the call chain, matching the style decoder.go uses on
// the read side.
type encoder struct {
	out   io.Writer
	order binary.ByteOrder
	fds   []int
	pos   int
}

// newEncoder returns an encoder that writes to out in the given byte order,
// tracking fd indices in fds as Unix file descriptors are marshalled.
func newEncoder(out io.Writer, order binary.ByteOrder, fds []int) *encoder {
	return newEncoderAtOffset(out, 0, order, fds)
}

// newEncoderAtOffset is like newEncoder but seeds pos so alignment is
// computed relative to a message that already has offset bytes written
// before this encoder's output.
func newEncoderAtOffset(out io.Writer, offset int, order binary.ByteOrder, fds []int) *encoder {
	return &encoder{out: out, order: order, pos: offset, fds: fds}
}

var zeroes [8]byte

// align writes the padding bytes needed to bring pos to a multiple of n.
func (enc *encoder) align(n int) error {
	if pad := enc.pos % n; pad != 0 {
		need := n - pad
		if _, err := enc.out.Write(zeroes[:need]); err != nil {
			return err
		}
		enc.pos += need
	}
	return nil
}

// write writes buf and advances pos by its length.
func (enc *encoder) write(buf []byte) error {
	if _, err := enc.out.Write(buf); err != nil {
		return err
	}
	enc.pos += len(buf)
	return nil
}

func (enc *encoder) writeFixed(v interface{}) error {
	var buf [8]byte
	var n int
	switch x := v.(type) {
	case byte:
		buf[0] = x
		n = 1
	case int16:
		enc.order.PutUint16(buf[:], uint16(x))
		n = 2
	case uint16:
		enc.order.PutUint16(buf[:], x)
		n = 2
	case int32:
		enc.order.PutUint32(buf[:], uint32(x))
		n = 4
	case uint32:
		enc.order.PutUint32(buf[:], x)
		n = 4
	case int64:
		enc.order.PutUint64(buf[:], uint64(x))
		n = 8
	case uint64:
		enc.order.PutUint64(buf[:], x)
		n = 8
	case float64:
		enc.order.PutUint64(buf[:], math.Float64bits(x))
		n = 8
	default:
		return FormatError("encoder: unsupported fixed-size type " + reflect.TypeOf(v).String())
	}
	return enc.write(buf[:n])
}

// encodeString writes a D-Bus string, object path or signature: a length
// prefix (lenSize bytes: 4 for s/o, 1 for g) followed by the UTF-8 bytes
// and a trailing NUL that is not counted in the length.
func (enc *encoder) encodeString(str string, lenSize int) error {
	if lenSize == 1 {
		if err := enc.align(1); err != nil {
			return err
		}
		if err := enc.writeFixed(byte(len(str))); err != nil {
			return err
		}
	} else {
		if err := enc.align(4); err != nil {
			return err
		}
		if err := enc.writeFixed(uint32(len(str))); err != nil {
			return err
		}
	}
	buf := make([]byte, len(str)+1)
	copy(buf, str)
	return enc.write(buf)
}

// Encode marshals each of vs in turn, aligned as D-Bus requires, stopping
// at the first error.
func (enc *encoder) Encode(vs ...interface{}) error {
	for _, v := range vs {
		if err := enc.encode(reflect.ValueOf(v), 0); err != nil {
			return err
		}
	}
	return nil
}

// encode marshals a single value. depth tracks container nesting so the
// same 64-level limit Decode enforces on the way in is enforced here too.
func (enc *encoder) encode(v reflect.Value, depth int) error {
	if depth > 64 {
		return FormatError("input exceeds depth limitation")
	}
	if err := enc.align(alignment(v.Type())); err != nil {
		return err
	}
	switch v.Kind() {
	case reflect.Uint8:
		return enc.writeFixed(byte(v.Uint()))
	case reflect.Bool:
		b := uint32(0)
		if v.Bool() {
			b = 1
		}
		return enc.writeFixed(b)
	case reflect.Int16:
		return enc.writeFixed(int16(v.Int()))
	case reflect.Uint16:
		return enc.writeFixed(uint16(v.Uint()))
	case reflect.Int, reflect.Int32:
		if v.Type() == unixFDType {
			idx := len(enc.fds)
			enc.fds = append(enc.fds, int(v.Int()))
			return enc.writeFixed(uint32(idx))
		}
		return enc.writeFixed(int32(v.Int()))
	case reflect.Uint, reflect.Uint32:
		return enc.writeFixed(uint32(v.Uint()))
	case reflect.Int64:
		return enc.writeFixed(v.Int())
	case reflect.Uint64:
		return enc.writeFixed(v.Uint())
	case reflect.Float64:
		return enc.writeFixed(v.Float())
	case reflect.String:
		return enc.encodeStringValue(v)
	case reflect.Ptr:
		return enc.encode(v.Elem(), depth)
	case reflect.Slice, reflect.Array:
		return enc.encodeSlice(v, depth)
	case reflect.Struct:
		return enc.encodeStruct(v, depth)
	case reflect.Map:
		return enc.encodeMap(v, depth)
	case reflect.Interface:
		return enc.encode(reflect.ValueOf(MakeVariant(v.Interface())), depth)
	default:
		return InvalidTypeError{v.Type()}
	}
}

func (enc *encoder) encodeStringValue(v reflect.Value) error {
	str := v.String()
	if !utf8.ValidString(str) {
		return FormatError("input has a not-utf8 char in string")
	}
	if strings.IndexByte(str, 0) != -1 {
		return FormatError("input has a null char('\\000') in string")
	}
	if v.Type() == objectPathType && !ObjectPath(str).IsValid() {
		return FormatError("invalid object path")
	}
	return enc.encodeString(str, 4)
}

// encodeContainer marshals a length-prefixed container (array or dict) by
// encoding its elements into a side buffer first, so the 4-byte length can
// be written before the elements without knowing their size up front.
// elemAlign is the alignment the length field's trailing padding must
// bring the body to: the element's own alignment for an array, 8 for a
// dict (whose entries are themselves aligned structs). fill does the
// per-element encoding into sub.
func (enc *encoder) encodeContainer(elemAlign int, fill func(sub *encoder) error) error {
	if err := enc.align(4); err != nil {
		return err
	}
	// The body starts after the length field and whatever padding brings
	// it to elemAlign; the child encoder needs that final position to
	// align its own writes correctly, since alignment is absolute within
	// the message, not relative to the container.
	lookahead := enc.pos + 4
	if pad := lookahead % elemAlign; pad != 0 {
		lookahead += elemAlign - pad
	}

	var body bytes.Buffer
	sub := newEncoderAtOffset(&body, lookahead, enc.order, enc.fds)
	if err := fill(sub); err != nil {
		return err
	}
	if body.Len() > 1<<26 {
		return FormatError("input exceeds array size limitation")
	}
	enc.fds = sub.fds

	if err := enc.writeFixed(uint32(body.Len())); err != nil {
		return err
	}
	if err := enc.align(elemAlign); err != nil {
		return err
	}
	return enc.write(body.Bytes())
}

func (enc *encoder) encodeSlice(v reflect.Value, depth int) error {
	elemType := v.Type().Elem()
	return enc.encodeContainer(alignment(elemType), func(sub *encoder) error {
		for i := 0; i < v.Len(); i++ {
			if err := sub.encode(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	})
}

func (enc *encoder) encodeMap(v reflect.Value, depth int) error {
	if !isKeyType(v.Type().Key()) {
		return InvalidTypeError{v.Type()}
	}
	// Dict entries are structs, which increases nesting by two: one level
	// for the array of entries, one for each entry itself.
	return enc.encodeContainer(8, func(sub *encoder) error {
		iter := v.MapRange()
		for iter.Next() {
			if err := sub.align(8); err != nil {
				return err
			}
			if err := sub.encode(iter.Key(), depth+2); err != nil {
				return err
			}
			if err := sub.encode(iter.Value(), depth+2); err != nil {
				return err
			}
		}
		return nil
	})
}

func (enc *encoder) encodeStruct(v reflect.Value, depth int) error {
	switch t := v.Type(); t {
	case signatureType:
		return enc.encodeString(v.Field(0).String(), 1)
	case variantType:
		variant := v.Interface().(Variant)
		if err := enc.encodeString(variant.sig.String(), 1); err != nil {
			return err
		}
		return enc.encode(reflect.ValueOf(variant.value), depth+1)
	default:
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" || field.Tag.Get("dbus") == "-" {
				continue
			}
			if err := enc.encode(v.Field(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
}
