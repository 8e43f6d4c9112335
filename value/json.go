package value

import (
	"encoding/json"
	"fmt"
)

// Decoder turns the bytes of an on-disk job description into a Value tree.
// The real property-list grammar is out of scope (§1): callers substitute
// whatever parser understands their on-disk format. JSONDecoder is the
// default; it is a JSON rendering separate from the binary wire format the
// control plane uses (wire.go).
type Decoder interface {
	Decode(data []byte) (Value, error)
}

// Encoder is Decoder's write-side counterpart, used by the edit-on-disk
// (`-w`) path to rewrite a job description in place.
type Encoder interface {
	Encode(v Value) ([]byte, error)
}

// JSONDecoder implements Decoder and Encoder over a direct JSON rendering of
// a Value tree: dictionaries as objects (order recorded separately isn't
// needed on disk, only over the wire), arrays as arrays, Fd/Port/Errno as
// single-key wrapper objects since JSON has no native tag for them.
type JSONDecoder struct{}

// Decode parses data as JSON and converts it into a Value tree.
func (JSONDecoder) Decode(data []byte) (Value, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, fmt.Errorf("value: decode json: %w", err)
	}
	return fromJSON(raw), nil
}

// Encode renders v as JSON.
func (JSONDecoder) Encode(v Value) ([]byte, error) {
	return json.MarshalIndent(toJSON(v), "", "  ")
}

func fromJSON(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return NewString("")
	case bool:
		return NewBool(t)
	case float64:
		if t == float64(int64(t)) {
			return NewInteger(int64(t))
		}
		return NewReal(t)
	case string:
		return NewString(t)
	case []interface{}:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			elems = append(elems, fromJSON(e))
		}
		return NewArray(elems...)
	case map[string]interface{}:
		d := NewDict()
		for _, k := range sortedJSONKeys(t) {
			d = d.Set(k, fromJSON(t[k]))
		}
		return d
	default:
		return NewString(fmt.Sprintf("%v", t))
	}
}

// sortedJSONKeys gives map iteration a deterministic order; Go's own JSON
// decoder already discards source-file key order, so reconstructing it
// isn't possible here regardless of iteration strategy.
func sortedJSONKeys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func toJSON(v Value) interface{} {
	switch v.Kind() {
	case KindString:
		return v.String()
	case KindInteger:
		return v.Integer()
	case KindReal:
		return v.Real()
	case KindBool:
		return v.Bool()
	case KindOpaque:
		return v.Opaque()
	case KindFd:
		return map[string]interface{}{"$fd": v.Fd()}
	case KindPort:
		return map[string]interface{}{"$port": v.Port()}
	case KindErrno:
		return map[string]interface{}{"$errno": v.Errno()}
	case KindArray:
		elems := v.Array()
		out := make([]interface{}, 0, len(elems))
		for _, e := range elems {
			out = append(out, toJSON(e))
		}
		return out
	case KindDict:
		out := make(map[string]interface{}, v.DictLen())
		for _, k := range v.Keys() {
			e, _ := v.Get(k)
			out[k] = toJSON(e)
		}
		return out
	default:
		return nil
	}
}
