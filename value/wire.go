package value

import (
	"encoding/binary"
	"fmt"
	"io"
)

// wireTag is the one-byte tag preceding every encoded value (§6.2),
// deliberately a distinct type from Kind: the wire ordering (dict, array,
// fd, int, string, bool, real, opaque, errno, port) doesn't match Kind's
// internal enum ordering, and conflating the two invites a mismatched-tag
// bug.
type wireTag byte

// Wire tags (§6.2). Fd values occupy a slot in the tree but carry no bytes
// of their own: the actual descriptor travels as ancillary data on the
// enclosing sendmsg call, and decode binds the Nth Fd slot encountered in
// iteration order to the Nth element of the ancillary descriptor list
// handed to Decode.
const (
	wireTagDict wireTag = iota
	wireTagArray
	wireTagFd
	wireTagInt
	wireTagString
	wireTagBool
	wireTagReal
	wireTagOpaque
	wireTagErrno
	wireTagPort
)

// EncodeTo writes v's wire representation to w: a tagged value tree with no
// outer length prefix (the caller frames the whole message with a u32
// length per §6.2; EncodeTo is the part below that frame). Fd slots consume
// no payload bytes here — the caller is responsible for gathering the
// descriptors (via CollectFds) and passing them as sendmsg ancillary data in
// the same order.
func (v Value) EncodeTo(w io.Writer) error {
	switch v.kind {
	case KindDict:
		if err := writeTag(w, wireTagDict); err != nil {
			return err
		}
		keys := v.Keys()
		if err := writeU32(w, uint32(len(keys))); err != nil {
			return err
		}
		for _, k := range keys {
			if err := writeString(w, k); err != nil {
				return err
			}
			val, _ := v.Get(k)
			if err := val.EncodeTo(w); err != nil {
				return err
			}
		}
		return nil
	case KindArray:
		if err := writeTag(w, wireTagArray); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(v.arr))); err != nil {
			return err
		}
		for _, e := range v.arr {
			if err := e.EncodeTo(w); err != nil {
				return err
			}
		}
		return nil
	case KindFd:
		return writeTag(w, wireTagFd)
	case KindInteger:
		if err := writeTag(w, wireTagInt); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, v.i64)
	case KindString:
		if err := writeTag(w, wireTagString); err != nil {
			return err
		}
		return writeString(w, v.str)
	case KindBool:
		if err := writeTag(w, wireTagBool); err != nil {
			return err
		}
		b := byte(0)
		if v.b {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	case KindReal:
		if err := writeTag(w, wireTagReal); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, v.f64)
	case KindOpaque:
		if err := writeTag(w, wireTagOpaque); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(v.bytes))); err != nil {
			return err
		}
		_, err := w.Write(v.bytes)
		return err
	case KindErrno:
		if err := writeTag(w, wireTagErrno); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, v.i64)
	case KindPort:
		if err := writeTag(w, wireTagPort); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, v.port)
	default:
		return fmt.Errorf("value: cannot encode kind %v", v.kind)
	}
}

// Decode reads one wire value tree from r, pulling a descriptor from fds
// (in order) for every Fd slot encountered; it is an error for the tree to
// contain more Fd slots than len(fds).
func Decode(r io.Reader, fds []int) (Value, error) {
	next := 0
	v, err := decodeOne(r, fds, &next)
	if err != nil {
		return Value{}, err
	}
	return v, nil
}

func decodeOne(r io.Reader, fds []int, next *int) (Value, error) {
	tag, err := readTag(r)
	if err != nil {
		return Value{}, err
	}
	switch tag {
	case wireTagDict:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		d := NewDict()
		for i := uint32(0); i < n; i++ {
			k, err := readString(r)
			if err != nil {
				return Value{}, err
			}
			val, err := decodeOne(r, fds, next)
			if err != nil {
				return Value{}, err
			}
			d = d.Set(k, val)
		}
		return d, nil
	case wireTagArray:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			val, err := decodeOne(r, fds, next)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, val)
		}
		return NewArray(elems...), nil
	case wireTagFd:
		if *next >= len(fds) {
			return Value{}, fmt.Errorf("value: decode: fd slot %d exceeds %d ancillary descriptors", *next, len(fds))
		}
		fd := fds[*next]
		*next++
		return NewFd(fd), nil
	case wireTagInt:
		var i int64
		if err := binary.Read(r, binary.BigEndian, &i); err != nil {
			return Value{}, err
		}
		return NewInteger(i), nil
	case wireTagString:
		s, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		return NewString(s), nil
	case wireTagBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return NewBool(b[0] != 0), nil
	case wireTagReal:
		var f float64
		if err := binary.Read(r, binary.BigEndian, &f); err != nil {
			return Value{}, err
		}
		return NewReal(f), nil
	case wireTagOpaque:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Value{}, err
		}
		return NewOpaque(buf), nil
	case wireTagErrno:
		var i int64
		if err := binary.Read(r, binary.BigEndian, &i); err != nil {
			return Value{}, err
		}
		return NewErrno(int32(i)), nil
	case wireTagPort:
		var p uint32
		if err := binary.Read(r, binary.BigEndian, &p); err != nil {
			return Value{}, err
		}
		return NewPort(p), nil
	default:
		return Value{}, fmt.Errorf("value: decode: unknown wire tag %d", tag)
	}
}

// CollectFds walks v in the same order EncodeTo visits Fd slots, returning
// their descriptors for use as sendmsg ancillary data.
func (v Value) CollectFds() []int {
	var out []int
	var walk func(Value)
	walk = func(val Value) {
		switch val.kind {
		case KindFd:
			out = append(out, val.fd)
		case KindArray:
			for _, e := range val.arr {
				walk(e)
			}
		case KindDict:
			for _, k := range val.Keys() {
				e, _ := val.Get(k)
				walk(e)
			}
		}
	}
	walk(v)
	return out
}

func writeTag(w io.Writer, tag wireTag) error {
	_, err := w.Write([]byte{byte(tag)})
	return err
}

func readTag(r io.Reader) (wireTag, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return wireTag(b[0]), nil
}

func writeU32(w io.Writer, n uint32) error {
	return binary.Write(w, binary.BigEndian, n)
}

func readU32(r io.Reader) (uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
