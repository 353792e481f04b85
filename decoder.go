package dbus

import (
	"encoding/binary"
	"io"
	"math"
	"reflect"
)

// A decoder decodes values from the D-Bus wire format.
type decoder struct {
	in    io.Reader
	order binary.ByteOrder
	fds   []int
	pos   int
}

// newDecoder returns a new decoder that reads values from in in the given
// byte order. fds holds the file descriptors that arrived out-of-band with
// the message being decoded (via SCM_RIGHTS); it may be nil if the
// transport doesn't support FD passing.
func newDecoder(in io.Reader, order binary.ByteOrder, fds []int) *decoder {
	return &decoder{in: in, order: order, fds: fds}
}

// align reads and discards padding bytes until pos is a multiple of n.
func (dec *decoder) align(n int) error {
	if pad := dec.pos % n; pad != 0 {
		buf := make([]byte, n-pad)
		if _, err := io.ReadFull(dec.in, buf); err != nil {
			return err
		}
		dec.pos += n - pad
	}
	return nil
}

func (dec *decoder) read(buf []byte) error {
	if _, err := io.ReadFull(dec.in, buf); err != nil {
		return err
	}
	dec.pos += len(buf)
	return nil
}

// Decode decodes values according to sig and returns them. It returns an
// error if the underlying reader returns an error, including io.EOF when
// the body is shorter than the signature demands, or if the bytes don't
// conform to sig. Every error path returns explicitly rather than unwinding
// through panic/recover, so a caller driving decode one type at a time (see
// Unmarshaller.Feed) sees the same errors a single Decode call would.
func (dec *decoder) Decode(sig Signature) ([]interface{}, error) {
	vs := make([]interface{}, 0)
	s := sig.str
	for s != "" {
		var t SignatureType
		t, s = parseOneType(s)
		v, err := dec.decode(t, 0)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

func (dec *decoder) decode(t SignatureType, depth int) (interface{}, error) {
	if depth > 64 {
		return nil, FormatError("input exceeds depth limitation")
	}
	switch t.Code {
	case 'y':
		if err := dec.align(1); err != nil {
			return nil, err
		}
		var b [1]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		return b[0], nil
	case 'b':
		if err := dec.align(4); err != nil {
			return nil, err
		}
		var b [4]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		switch dec.order.Uint32(b[:]) {
		case 0:
			return false, nil
		case 1:
			return true, nil
		default:
			return nil, FormatError("invalid value for boolean")
		}
	case 'n':
		if err := dec.align(2); err != nil {
			return nil, err
		}
		var b [2]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		return int16(dec.order.Uint16(b[:])), nil
	case 'q':
		if err := dec.align(2); err != nil {
			return nil, err
		}
		var b [2]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		return dec.order.Uint16(b[:]), nil
	case 'i':
		if err := dec.align(4); err != nil {
			return nil, err
		}
		var b [4]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		return int32(dec.order.Uint32(b[:])), nil
	case 'u':
		if err := dec.align(4); err != nil {
			return nil, err
		}
		var b [4]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		return dec.order.Uint32(b[:]), nil
	case 'x':
		if err := dec.align(8); err != nil {
			return nil, err
		}
		var b [8]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		return int64(dec.order.Uint64(b[:])), nil
	case 't':
		if err := dec.align(8); err != nil {
			return nil, err
		}
		var b [8]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		return dec.order.Uint64(b[:]), nil
	case 'd':
		if err := dec.align(8); err != nil {
			return nil, err
		}
		var b [8]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		return math.Float64frombits(dec.order.Uint64(b[:])), nil
	case 's':
		return dec.decodeString(4)
	case 'o':
		s, err := dec.decodeString(4)
		if err != nil {
			return nil, err
		}
		return ObjectPath(s), nil
	case 'g':
		return dec.decodeString(1)
	case 'h':
		if err := dec.align(4); err != nil {
			return nil, err
		}
		var b [4]byte
		if err := dec.read(b[:]); err != nil {
			return nil, err
		}
		idx := UnixFDIndex(dec.order.Uint32(b[:]))
		if int(idx) < len(dec.fds) {
			return UnixFD(dec.fds[idx]), nil
		}
		return idx, nil
	case 'v':
		sigStr, err := dec.decodeString(1)
		if err != nil {
			return nil, err
		}
		sig, err := ParseSignature(sigStr)
		if err != nil {
			return nil, err
		}
		if !sig.Single() {
			return nil, SignatureError{Sig: sigStr, Reason: "not a single complete type"}
		}
		inner, _ := parseOneType(sig.str)
		val, err := dec.decode(inner, depth+1)
		if err != nil {
			return nil, err
		}
		return MakeVariant(val), nil
	case 'a':
		return dec.decodeArray(t, depth)
	case '(':
		return dec.decodeStruct(t, depth)
	}
	return nil, FormatError("unknown type code")
}

func (dec *decoder) decodeString(lenSize int) (string, error) {
	var length uint32
	if lenSize == 1 {
		if err := dec.align(1); err != nil {
			return "", err
		}
		var b [1]byte
		if err := dec.read(b[:]); err != nil {
			return "", err
		}
		length = uint32(b[0])
	} else {
		if err := dec.align(4); err != nil {
			return "", err
		}
		var b [4]byte
		if err := dec.read(b[:]); err != nil {
			return "", err
		}
		length = dec.order.Uint32(b[:])
	}
	buf := make([]byte, length+1)
	if err := dec.read(buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func (dec *decoder) decodeArray(t SignatureType, depth int) (interface{}, error) {
	if err := dec.align(4); err != nil {
		return nil, err
	}
	var b [4]byte
	if err := dec.read(b[:]); err != nil {
		return nil, err
	}
	length := dec.order.Uint32(b[:])
	if length > 1<<26 {
		return nil, FormatError("array size exceeds limit")
	}

	if t.Container == "{" {
		key, val := t.Elems[0], t.Elems[1]
		if err := dec.align(8); err != nil {
			return nil, err
		}
		mt := reflect.MapOf(value(key.Raw), value(val.Raw))
		out := reflect.MakeMap(mt)
		lr := &io.LimitedReader{R: dec.in, N: int64(length)}
		sub := &decoder{in: lr, order: dec.order, fds: dec.fds}
		for lr.N > 0 {
			if err := sub.align(8); err != nil {
				return nil, err
			}
			if lr.N <= 0 {
				break
			}
			k, err := sub.decode(key, depth+2)
			if err != nil {
				return nil, err
			}
			v, err := sub.decode(val, depth+2)
			if err != nil {
				return nil, err
			}
			out.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(v))
		}
		dec.pos += int(length)
		dec.fds = sub.fds
		return out.Interface(), nil
	}

	elem := t.Elems[0]
	if err := dec.align(alignForType(elem)); err != nil {
		return nil, err
	}
	st := reflect.SliceOf(value(elem.Raw))
	out := reflect.MakeSlice(st, 0, 0)
	lr := &io.LimitedReader{R: dec.in, N: int64(length)}
	sub := &decoder{in: lr, order: dec.order, fds: dec.fds}
	for lr.N > 0 {
		v, err := sub.decode(elem, depth+1)
		if err != nil {
			return nil, err
		}
		out = reflect.Append(out, reflect.ValueOf(v))
	}
	dec.pos += int(length)
	dec.fds = sub.fds
	return out.Interface(), nil
}

// alignForType returns the DBus wire alignment for values of the given
// parsed signature type.
func alignForType(t SignatureType) int {
	switch t.Code {
	case 'y', 'g':
		return 1
	case 'n', 'q':
		return 2
	case 'b', 'i', 'u', 'h', 's', 'o', 'a':
		return 4
	case 'x', 't', 'd', '(':
		return 8
	case 'v':
		return 1
	}
	return 1
}

func (dec *decoder) decodeStruct(t SignatureType, depth int) (interface{}, error) {
	if err := dec.align(8); err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(t.Elems))
	for _, e := range t.Elems {
		v, err := dec.decode(e, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
