// Package property implements the typed property value and the property
// tuple (id, source, type, value, dirty, valid, access_mode) that the graph
// runtime propagates across edges.
package property

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// ValueType is the wire/runtime type tag carried alongside a property's raw
// value bytes.
type ValueType uint8

const (
	TypeInt64 ValueType = iota
	TypeFloat64
	TypeString
	TypeBool
	TypeBytes
	// TypeComplex128 carries an IQ sample or a complex filter coefficient —
	// a rx/tx gain or frequency property never needs it, but a DSP block's
	// FFT bin or channelizer tap does.
	TypeComplex128
	// TypeFloat64Slice carries a coefficient vector (an FIR tap set, a
	// frequency correction curve) as a single atomic property value.
	TypeFloat64Slice
	// TypeStringMap carries a device address: a set of named endpoints
	// (e.g. "mgmt" -> "192.168.10.2", "data0" -> "192.168.10.3") that must
	// move across an edge as one property rather than several.
	TypeStringMap
)

func (t ValueType) String() string {
	switch t {
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeBytes:
		return "bytes"
	case TypeComplex128:
		return "complex128"
	case TypeFloat64Slice:
		return "float64_slice"
	case TypeStringMap:
		return "string_map"
	default:
		return "unknown"
	}
}

// Value is a typed property value. Two Values are equal (in the sense the
// propagation algorithm cares about) exactly when Type matches and Data is
// byte-identical.
type Value struct {
	Type ValueType
	Data []byte
}

func Int64Value(i int64) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(i))
	return Value{Type: TypeInt64, Data: data}
}

func Float64Value(f float64) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, math.Float64bits(f))
	return Value{Type: TypeFloat64, Data: data}
}

func StringValue(s string) Value {
	return Value{Type: TypeString, Data: []byte(s)}
}

func BoolValue(b bool) Value {
	data := []byte{0}
	if b {
		data[0] = 1
	}
	return Value{Type: TypeBool, Data: data}
}

func BytesValue(b []byte) Value {
	return Value{Type: TypeBytes, Data: append([]byte(nil), b...)}
}

func Complex128Value(c complex128) Value {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:8], math.Float64bits(real(c)))
	binary.LittleEndian.PutUint64(data[8:16], math.Float64bits(imag(c)))
	return Value{Type: TypeComplex128, Data: data}
}

func Float64SliceValue(fs []float64) Value {
	data := make([]byte, 8*len(fs))
	for i, f := range fs {
		binary.LittleEndian.PutUint64(data[8*i:8*i+8], math.Float64bits(f))
	}
	return Value{Type: TypeFloat64Slice, Data: data}
}

// StringMapValue encodes m as a length-prefixed (key, value) sequence in
// sorted key order, so two maps with identical contents always produce
// byte-identical Data regardless of Go's randomized map iteration order —
// required for Value.Equal's byte comparison to mean what it says.
func StringMapValue(m map[string]string) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data []byte
	for _, k := range keys {
		v := m[k]
		data = appendLenPrefixed(data, k)
		data = appendLenPrefixed(data, v)
	}
	return Value{Type: TypeStringMap, Data: data}
}

func appendLenPrefixed(data []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	data = append(data, lenBuf[:]...)
	return append(data, s...)
}

func (v Value) AsInt64() (int64, error) {
	if v.Type != TypeInt64 {
		return 0, fmt.Errorf("value has type %s, not int64", v.Type)
	}
	return int64(binary.LittleEndian.Uint64(v.Data)), nil
}

func (v Value) AsFloat64() (float64, error) {
	if v.Type != TypeFloat64 {
		return 0, fmt.Errorf("value has type %s, not float64", v.Type)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Data)), nil
}

func (v Value) AsString() (string, error) {
	if v.Type != TypeString {
		return "", fmt.Errorf("value has type %s, not string", v.Type)
	}
	return string(v.Data), nil
}

func (v Value) AsBool() (bool, error) {
	if v.Type != TypeBool {
		return false, fmt.Errorf("value has type %s, not bool", v.Type)
	}
	return v.Data[0] == 1, nil
}

func (v Value) AsBytes() ([]byte, error) {
	if v.Type != TypeBytes {
		return nil, fmt.Errorf("value has type %s, not bytes", v.Type)
	}
	return v.Data, nil
}

func (v Value) AsComplex128() (complex128, error) {
	if v.Type != TypeComplex128 {
		return 0, fmt.Errorf("value has type %s, not complex128", v.Type)
	}
	re := math.Float64frombits(binary.LittleEndian.Uint64(v.Data[0:8]))
	im := math.Float64frombits(binary.LittleEndian.Uint64(v.Data[8:16]))
	return complex(re, im), nil
}

func (v Value) AsFloat64Slice() ([]float64, error) {
	if v.Type != TypeFloat64Slice {
		return nil, fmt.Errorf("value has type %s, not float64_slice", v.Type)
	}
	out := make([]float64, len(v.Data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(v.Data[8*i : 8*i+8]))
	}
	return out, nil
}

func (v Value) AsStringMap() (map[string]string, error) {
	if v.Type != TypeStringMap {
		return nil, fmt.Errorf("value has type %s, not string_map", v.Type)
	}
	out := make(map[string]string)
	buf := v.Data
	for len(buf) > 0 {
		key, rest, err := readLenPrefixed(buf)
		if err != nil {
			return nil, fmt.Errorf("string_map key: %w", err)
		}
		val, rest, err := readLenPrefixed(rest)
		if err != nil {
			return nil, fmt.Errorf("string_map value: %w", err)
		}
		out[key] = val
		buf = rest
	}
	return out, nil
}

func readLenPrefixed(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(buf[:4]))
	buf = buf[4:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("truncated string of length %d", n)
	}
	return string(buf[:n]), buf[n:], nil
}

// Equal reports whether two values have the same type and identical bytes.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type || len(v.Data) != len(other.Data) {
		return false
	}
	for i := range v.Data {
		if v.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
