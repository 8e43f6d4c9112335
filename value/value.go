// Package value implements the typed, recursive, self-describing container
// used for job descriptions, wire messages, and override-database entries.
package value

import "fmt"

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindReal
	KindBool
	KindArray
	KindDict
	KindOpaque
	KindFd
	KindPort
	KindErrno
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	case KindOpaque:
		return "opaque"
	case KindFd:
		return "fd"
	case KindPort:
		return "port"
	case KindErrno:
		return "errno"
	default:
		return "unknown"
	}
}

// Value is a tagged recursive value tree. KindString is the zero Kind, so
// the zero Value is an empty String; use the New* constructors for every
// other variant.
type Value struct {
	kind Kind

	str   string
	i64   int64
	f64   float64
	b     bool
	bytes []byte
	fd    int
	port  uint32

	arr  []Value
	dict *dict
}

// dict preserves insertion order: keys holds the order, entries the payload.
type dict struct {
	keys    []string
	entries map[string]Value
}

func newDict() *dict {
	return &dict{entries: make(map[string]Value)}
}

// NewString constructs a String value.
func NewString(s string) Value { return Value{kind: KindString, str: s} }

// NewInteger constructs an Integer value.
func NewInteger(i int64) Value { return Value{kind: KindInteger, i64: i} }

// NewReal constructs a Real value.
func NewReal(f float64) Value { return Value{kind: KindReal, f64: f} }

// NewBool constructs a Bool value.
func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

// NewOpaque constructs an Opaque (raw byte) value. The payload is copied.
func NewOpaque(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindOpaque, bytes: cp}
}

// NewFd constructs an Fd value from a borrowed kernel descriptor.
func NewFd(fd int) Value { return Value{kind: KindFd, fd: fd} }

// NewPort constructs a PortHandle value.
func NewPort(p uint32) Value { return Value{kind: KindPort, port: p} }

// NewErrno constructs an Errno value, the control plane's wire
// representation of a POSIX error code distinct from a plain Integer (§6.2
// tag 8) so a response like StartJob's can't be confused with a data value.
func NewErrno(code int32) Value { return Value{kind: KindErrno, i64: int64(code)} }

// NewArray constructs an Array value from the given elements.
func NewArray(elems ...Value) Value {
	a := make([]Value, len(elems))
	copy(a, elems)
	return Value{kind: KindArray, arr: a}
}

// NewDict constructs an empty Dictionary value.
func NewDict() Value {
	return Value{kind: KindDict, dict: newDict()}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v's kind is one of the defined kinds. It is true
// for the zero Value, which is an empty String.
func (v Value) IsValid() bool { return v.kind >= KindString && v.kind <= KindErrno }

// String returns the payload of a String value, or "" otherwise.
func (v Value) String() string {
	if v.kind != KindString {
		return ""
	}
	return v.str
}

// Integer returns the payload of an Integer value, or 0 otherwise.
func (v Value) Integer() int64 {
	if v.kind != KindInteger {
		return 0
	}
	return v.i64
}

// Real returns the payload of a Real value, or 0 otherwise.
func (v Value) Real() float64 {
	if v.kind != KindReal {
		return 0
	}
	return v.f64
}

// Bool returns the payload of a Bool value, or false otherwise.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		return false
	}
	return v.b
}

// Opaque returns the payload of an Opaque value, or nil otherwise.
func (v Value) Opaque() []byte {
	if v.kind != KindOpaque {
		return nil
	}
	return v.bytes
}

// Fd returns the borrowed descriptor of an Fd value, or -1 otherwise.
func (v Value) Fd() int {
	if v.kind != KindFd {
		return -1
	}
	return v.fd
}

// Port returns the payload of a PortHandle value, or 0 otherwise.
func (v Value) Port() uint32 {
	if v.kind != KindPort {
		return 0
	}
	return v.port
}

// Errno returns the payload of an Errno value, or 0 otherwise.
func (v Value) Errno() int32 {
	if v.kind != KindErrno {
		return 0
	}
	return int32(v.i64)
}

// Array returns a copy of the elements of an Array value, or nil otherwise.
func (v Value) Array() []Value {
	if v.kind != KindArray {
		return nil
	}
	out := make([]Value, len(v.arr))
	copy(out, v.arr)
	return out
}

// Len returns the number of elements in an Array value, or 0 otherwise.
func (v Value) Len() int {
	if v.kind != KindArray {
		return 0
	}
	return len(v.arr)
}

// At returns the element at index i of an Array value.
func (v Value) At(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Append appends an element to an Array value, returning the updated value.
func (v Value) Append(elem Value) Value {
	if v.kind != KindArray {
		return v
	}
	v.arr = append(v.arr, elem)
	return v
}

// SetAt replaces the element at index i of an Array value.
func (v Value) SetAt(i int, elem Value) bool {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return false
	}
	v.arr[i] = elem
	return true
}

// Get looks up key in a Dictionary value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindDict || v.dict == nil {
		return Value{}, false
	}
	e, ok := v.dict.entries[key]
	return e, ok
}

// GetString is a convenience accessor returning the string at key, or the
// zero value if key is absent or not a String.
func (v Value) GetString(key string) (string, bool) {
	e, ok := v.Get(key)
	if !ok || e.kind != KindString {
		return "", false
	}
	return e.str, true
}

// GetBool is a convenience accessor returning the bool at key.
func (v Value) GetBool(key string) (bool, bool) {
	e, ok := v.Get(key)
	if !ok || e.kind != KindBool {
		return false, false
	}
	return e.b, true
}

// GetInteger is a convenience accessor returning the integer at key.
func (v Value) GetInteger(key string) (int64, bool) {
	e, ok := v.Get(key)
	if !ok || e.kind != KindInteger {
		return 0, false
	}
	return e.i64, true
}

// Set inserts or replaces key in a Dictionary value, preserving the
// position of an existing key. Panics if v is not a Dictionary.
func (v Value) Set(key string, val Value) Value {
	if v.kind != KindDict {
		panic("value: Set on non-dictionary")
	}
	if v.dict == nil {
		v.dict = newDict()
	}
	if _, exists := v.dict.entries[key]; !exists {
		v.dict.keys = append(v.dict.keys, key)
	}
	v.dict.entries[key] = val
	return v
}

// Delete removes key from a Dictionary value if present.
func (v Value) Delete(key string) Value {
	if v.kind != KindDict || v.dict == nil {
		return v
	}
	if _, exists := v.dict.entries[key]; !exists {
		return v
	}
	delete(v.dict.entries, key)
	for i, k := range v.dict.keys {
		if k == key {
			v.dict.keys = append(v.dict.keys[:i], v.dict.keys[i+1:]...)
			break
		}
	}
	return v
}

// Keys returns the keys of a Dictionary value in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindDict || v.dict == nil {
		return nil
	}
	out := make([]string, len(v.dict.keys))
	copy(out, v.dict.keys)
	return out
}

// DictLen returns the number of entries in a Dictionary value.
func (v Value) DictLen() int {
	if v.kind != KindDict || v.dict == nil {
		return 0
	}
	return len(v.dict.keys)
}

// Each iterates a Dictionary value in stable insertion order, stopping early
// if fn returns false.
func (v Value) Each(fn func(key string, val Value) bool) {
	if v.kind != KindDict || v.dict == nil {
		return
	}
	for _, k := range v.dict.keys {
		if !fn(k, v.dict.entries[k]) {
			return
		}
	}
}

// DeepCopy duplicates all interior nodes. Fd payloads are copied by value
// (the same descriptor number) without duplicating the descriptor itself;
// callers that need an independent descriptor must dup it explicitly.
func (v Value) DeepCopy() Value {
	switch v.kind {
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.DeepCopy()
		}
		return Value{kind: KindArray, arr: out}
	case KindDict:
		nd := newDict()
		if v.dict != nil {
			nd.keys = append(nd.keys, v.dict.keys...)
			for k, e := range v.dict.entries {
				nd.entries[k] = e.DeepCopy()
			}
		}
		return Value{kind: KindDict, dict: nd}
	case KindOpaque:
		cp := make([]byte, len(v.bytes))
		copy(cp, v.bytes)
		return Value{kind: KindOpaque, bytes: cp}
	default:
		return v
	}
}

// RevokeFds walks the tree and sets every Fd payload to -1 without closing
// the underlying descriptor. Used after ownership has been transferred to a
// downstream consumer (e.g. after a GetJob response has handed its sockets
// to the caller via ancillary data).
func (v Value) RevokeFds() Value {
	switch v.kind {
	case KindFd:
		return Value{kind: KindFd, fd: -1}
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.RevokeFds()
		}
		return Value{kind: KindArray, arr: out}
	case KindDict:
		nd := newDict()
		if v.dict != nil {
			nd.keys = append(nd.keys, v.dict.keys...)
			for k, e := range v.dict.entries {
				nd.entries[k] = e.RevokeFds()
			}
		}
		return Value{kind: KindDict, dict: nd}
	default:
		return v
	}
}

// CloseOwnedFds walks the tree and closes every non-negative Fd payload via
// closeFn. It leaves the tree unchanged; use RevokeFds to clear the
// payloads. Errors from individual closes are collected but do not stop the
// walk.
func (v Value) CloseOwnedFds(closeFn func(fd int) error) []error {
	var errs []error
	var walk func(Value)
	walk = func(val Value) {
		switch val.kind {
		case KindFd:
			if val.fd >= 0 {
				if err := closeFn(val.fd); err != nil {
					errs = append(errs, err)
				}
			}
		case KindArray:
			for _, e := range val.arr {
				walk(e)
			}
		case KindDict:
			if val.dict != nil {
				for _, k := range val.dict.keys {
					walk(val.dict.entries[k])
				}
			}
		}
	}
	walk(v)
	return errs
}

// Equal reports deep structural equality. Fd/Port payloads compare by
// numeric value (not by kernel identity).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString:
		return a.str == b.str
	case KindInteger:
		return a.i64 == b.i64
	case KindReal:
		return a.f64 == b.f64
	case KindBool:
		return a.b == b.b
	case KindFd:
		return a.fd == b.fd
	case KindPort:
		return a.port == b.port
	case KindErrno:
		return a.i64 == b.i64
	case KindOpaque:
		if len(a.bytes) != len(b.bytes) {
			return false
		}
		for i := range a.bytes {
			if a.bytes[i] != b.bytes[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindDict:
		ak, bk := a.Keys(), b.Keys()
		if len(ak) != len(bk) {
			return false
		}
		for i := range ak {
			if ak[i] != bk[i] {
				return false
			}
			av, _ := a.Get(ak[i])
			bv, _ := b.Get(bk[i])
			if !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// GoString renders a debug representation, primarily for test failure
// messages.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindInteger:
		return fmt.Sprintf("%d", v.i64)
	case KindReal:
		return fmt.Sprintf("%g", v.f64)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindFd:
		return fmt.Sprintf("fd(%d)", v.fd)
	case KindPort:
		return fmt.Sprintf("port(%d)", v.port)
	case KindErrno:
		return fmt.Sprintf("errno(%d)", v.i64)
	case KindOpaque:
		return fmt.Sprintf("opaque(%d bytes)", len(v.bytes))
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.arr))
	case KindDict:
		return fmt.Sprintf("dict(%d)", v.DictLen())
	default:
		return "<invalid>"
	}
}
