package codec

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Version identifies the wire layout produced by Encode. It changes whenever
// an existing tag is re-laid out.
const Version = 1

// maxDepth bounds container nesting on both encode and decode.
const maxDepth = 64

type tag uint64

const (
	tagNil tag = iota + 1
	tagBool
	tagInt
	tagInt8
	tagInt16
	tagInt32
	tagInt64
	tagUint
	tagUint8
	tagUint16
	tagUint32
	tagUint64
	tagFloat32
	tagFloat64
	tagString
	tagBytes
	tagTime
	tagDuration
	tagList
	tagStrings
	tagInts
	tagInt64s
	tagFloat64s
	tagMap
	tagStringMap
	tagIntMap
	tagFloatMap
	tagFrame
	tagCustom
)

// All NaNs encode to one bit pattern and -0 encodes as +0, so values that
// compare equal hash equally.
const (
	canonicalNaN64 = 0x7ff8000000000001
	canonicalNaN32 = 0x7fc00001
)

// Encode serializes v into its canonical byte form.
func Encode(v any) ([]byte, error) {
	return Append(nil, v)
}

// Append appends the canonical encoding of v to b.
func Append(b []byte, v any) ([]byte, error) {
	return appendValue(b, v, 0)
}

// Decode restores a value produced by Encode. The wire tag acts as the type
// hint: integers come back with their original width, typed slices and maps
// with their original element types.
func Decode(data []byte) (any, error) {
	d := &decoder{buf: data}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(d.buf))
	}
	return v, nil
}

// DecodeAs decodes data and asserts the result to T.
func DecodeAs[T any](data []byte) (T, error) {
	var zero T
	v, err := Decode(data)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T", ErrTypeMismatch, v)
	}
	return out, nil
}

func appendTag(b []byte, t tag) []byte {
	return protowire.AppendVarint(b, uint64(t))
}

func appendInt(b []byte, v int64) []byte {
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// appendLen writes 0 for a nil container and n+1 otherwise, so nil and empty
// survive a round trip as distinct values.
func appendLen(b []byte, isNil bool, n int) []byte {
	if isNil {
		return protowire.AppendVarint(b, 0)
	}
	return protowire.AppendVarint(b, uint64(n)+1)
}

func float64Bits(f float64) uint64 {
	if math.IsNaN(f) {
		return canonicalNaN64
	}
	if f == 0 {
		return 0
	}
	return math.Float64bits(f)
}

func float32Bits(f float32) uint32 {
	if f != f {
		return canonicalNaN32
	}
	if f == 0 {
		return 0
	}
	return math.Float32bits(f)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendValue(b []byte, v any, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, unsupported(v, fmt.Errorf("nesting deeper than %d", maxDepth))
	}

	switch val := v.(type) {
	case nil:
		return appendTag(b, tagNil), nil
	case bool:
		b = appendTag(b, tagBool)
		if val {
			return protowire.AppendVarint(b, 1), nil
		}
		return protowire.AppendVarint(b, 0), nil
	case int:
		return appendInt(appendTag(b, tagInt), int64(val)), nil
	case int8:
		return appendInt(appendTag(b, tagInt8), int64(val)), nil
	case int16:
		return appendInt(appendTag(b, tagInt16), int64(val)), nil
	case int32:
		return appendInt(appendTag(b, tagInt32), int64(val)), nil
	case int64:
		return appendInt(appendTag(b, tagInt64), val), nil
	case uint:
		return protowire.AppendVarint(appendTag(b, tagUint), uint64(val)), nil
	case uint8:
		return protowire.AppendVarint(appendTag(b, tagUint8), uint64(val)), nil
	case uint16:
		return protowire.AppendVarint(appendTag(b, tagUint16), uint64(val)), nil
	case uint32:
		return protowire.AppendVarint(appendTag(b, tagUint32), uint64(val)), nil
	case uint64:
		return protowire.AppendVarint(appendTag(b, tagUint64), val), nil
	case float32:
		return protowire.AppendFixed32(appendTag(b, tagFloat32), float32Bits(val)), nil
	case float64:
		return protowire.AppendFixed64(appendTag(b, tagFloat64), float64Bits(val)), nil
	case string:
		return protowire.AppendString(appendTag(b, tagString), val), nil
	case []byte:
		b = appendLen(appendTag(b, tagBytes), val == nil, len(val))
		return append(b, val...), nil
	case time.Time:
		return appendTime(appendTag(b, tagTime), val), nil
	case time.Duration:
		return appendInt(appendTag(b, tagDuration), int64(val)), nil
	case []any:
		b = appendLen(appendTag(b, tagList), val == nil, len(val))
		for _, elem := range val {
			var err error
			if b, err = appendValue(b, elem, depth+1); err != nil {
				return nil, err
			}
		}
		return b, nil
	case []string:
		b = appendLen(appendTag(b, tagStrings), val == nil, len(val))
		for _, s := range val {
			b = protowire.AppendString(b, s)
		}
		return b, nil
	case []int:
		b = appendLen(appendTag(b, tagInts), val == nil, len(val))
		for _, n := range val {
			b = appendInt(b, int64(n))
		}
		return b, nil
	case []int64:
		b = appendLen(appendTag(b, tagInt64s), val == nil, len(val))
		for _, n := range val {
			b = appendInt(b, n)
		}
		return b, nil
	case []float64:
		b = appendLen(appendTag(b, tagFloat64s), val == nil, len(val))
		for _, f := range val {
			b = protowire.AppendFixed64(b, float64Bits(f))
		}
		return b, nil
	case map[string]any:
		b = appendLen(appendTag(b, tagMap), val == nil, len(val))
		for _, k := range sortedKeys(val) {
			b = protowire.AppendString(b, k)
			var err error
			if b, err = appendValue(b, val[k], depth+1); err != nil {
				return nil, err
			}
		}
		return b, nil
	case map[string]string:
		b = appendLen(appendTag(b, tagStringMap), val == nil, len(val))
		for _, k := range sortedKeys(val) {
			b = protowire.AppendString(b, k)
			b = protowire.AppendString(b, val[k])
		}
		return b, nil
	case map[string]int:
		b = appendLen(appendTag(b, tagIntMap), val == nil, len(val))
		for _, k := range sortedKeys(val) {
			b = protowire.AppendString(b, k)
			b = appendInt(b, int64(val[k]))
		}
		return b, nil
	case map[string]float64:
		b = appendLen(appendTag(b, tagFloatMap), val == nil, len(val))
		for _, k := range sortedKeys(val) {
			b = protowire.AppendString(b, k)
			b = protowire.AppendFixed64(b, float64Bits(val[k]))
		}
		return b, nil
	case Frame:
		payload, err := val.MarshalBinary()
		if err != nil {
			return nil, unsupported(v, err)
		}
		return protowire.AppendBytes(appendTag(b, tagFrame), payload), nil
	case Serializable:
		return appendSerializable(b, val)
	default:
		return nil, unsupported(v, nil)
	}
}

func appendSerializable(b []byte, v Serializable) (_ []byte, err error) {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, unsupported(v, ErrNilValue)
	}
	defer func() {
		if r := recover(); r != nil {
			err = unsupported(v, fmt.Errorf("%w: %v", ErrMarshalPanic, r))
		}
	}()

	name := v.CacheTypeName()
	if _, ok := lookup(name); !ok {
		return nil, unsupported(v, fmt.Errorf("%w: %s", ErrUnknownType, name))
	}
	payload, err := v.MarshalBinary()
	if err != nil {
		return nil, unsupported(v, err)
	}
	b = protowire.AppendString(appendTag(b, tagCustom), name)
	return protowire.AppendBytes(b, payload), nil
}

func appendTime(b []byte, t time.Time) []byte {
	name, offset := t.Zone()
	b = appendInt(b, t.Unix())
	b = protowire.AppendVarint(b, uint64(t.Nanosecond()))
	b = appendInt(b, int64(offset))
	return protowire.AppendString(b, name)
}

type decoder struct {
	buf []byte
}

func (d *decoder) malformed(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}

func (d *decoder) varint() (uint64, error) {
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		return 0, d.malformed(n)
	}
	d.buf = d.buf[n:]
	return v, nil
}

func (d *decoder) zigzag() (int64, error) {
	v, err := d.varint()
	return protowire.DecodeZigZag(v), err
}

func (d *decoder) fixed32() (uint32, error) {
	v, n := protowire.ConsumeFixed32(d.buf)
	if n < 0 {
		return 0, d.malformed(n)
	}
	d.buf = d.buf[n:]
	return v, nil
}

func (d *decoder) fixed64() (uint64, error) {
	v, n := protowire.ConsumeFixed64(d.buf)
	if n < 0 {
		return 0, d.malformed(n)
	}
	d.buf = d.buf[n:]
	return v, nil
}

func (d *decoder) float64() (float64, error) {
	v, err := d.fixed64()
	return math.Float64frombits(v), err
}

func (d *decoder) bytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		return nil, d.malformed(n)
	}
	d.buf = d.buf[n:]
	return v, nil
}

func (d *decoder) string() (string, error) {
	v, err := d.bytes()
	return string(v), err
}

// length reads a container length written by appendLen. Every element takes
// at least one byte, which bounds the allocation a corrupt length can cause.
func (d *decoder) length() (int, bool, error) {
	v, err := d.varint()
	if err != nil {
		return 0, false, err
	}
	if v == 0 {
		return 0, true, nil
	}
	n := v - 1
	if n > uint64(len(d.buf)) {
		return 0, false, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrMalformed, n, len(d.buf))
	}
	return int(n), false, nil
}

func (d *decoder) value(depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	raw, err := d.varint()
	if err != nil {
		return nil, err
	}

	switch tag(raw) {
	case tagNil:
		return nil, nil
	case tagBool:
		v, err := d.varint()
		if err != nil {
			return nil, err
		}
		if v > 1 {
			return nil, fmt.Errorf("%w: bool payload %d", ErrMalformed, v)
		}
		return v == 1, nil
	case tagInt:
		v, err := d.zigzag()
		return int(v), err
	case tagInt8:
		v, err := d.zigzag()
		return int8(v), err
	case tagInt16:
		v, err := d.zigzag()
		return int16(v), err
	case tagInt32:
		v, err := d.zigzag()
		return int32(v), err
	case tagInt64:
		return d.zigzag()
	case tagUint:
		v, err := d.varint()
		return uint(v), err
	case tagUint8:
		v, err := d.varint()
		return uint8(v), err
	case tagUint16:
		v, err := d.varint()
		return uint16(v), err
	case tagUint32:
		v, err := d.varint()
		return uint32(v), err
	case tagUint64:
		return d.varint()
	case tagFloat32:
		v, err := d.fixed32()
		return math.Float32frombits(v), err
	case tagFloat64:
		return d.float64()
	case tagString:
		return d.string()
	case tagBytes:
		n, isNil, err := d.length()
		if err != nil || isNil {
			return []byte(nil), err
		}
		out := make([]byte, n)
		copy(out, d.buf[:n])
		d.buf = d.buf[n:]
		return out, nil
	case tagTime:
		return d.time()
	case tagDuration:
		v, err := d.zigzag()
		return time.Duration(v), err
	case tagList:
		return d.list(depth)
	case tagStrings:
		n, isNil, err := d.length()
		if err != nil || isNil {
			return []string(nil), err
		}
		out := make([]string, n)
		for i := range out {
			if out[i], err = d.string(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case tagInts:
		n, isNil, err := d.length()
		if err != nil || isNil {
			return []int(nil), err
		}
		out := make([]int, n)
		for i := range out {
			v, err := d.zigzag()
			if err != nil {
				return nil, err
			}
			out[i] = int(v)
		}
		return out, nil
	case tagInt64s:
		n, isNil, err := d.length()
		if err != nil || isNil {
			return []int64(nil), err
		}
		out := make([]int64, n)
		for i := range out {
			if out[i], err = d.zigzag(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case tagFloat64s:
		n, isNil, err := d.length()
		if err != nil || isNil {
			return []float64(nil), err
		}
		out := make([]float64, n)
		for i := range out {
			if out[i], err = d.float64(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case tagMap:
		return d.anyMap(depth)
	case tagStringMap:
		n, isNil, err := d.length()
		if err != nil || isNil {
			return map[string]string(nil), err
		}
		out := make(map[string]string, n)
		for i := 0; i < n; i++ {
			k, err := d.string()
			if err != nil {
				return nil, err
			}
			if out[k], err = d.string(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case tagIntMap:
		n, isNil, err := d.length()
		if err != nil || isNil {
			return map[string]int(nil), err
		}
		out := make(map[string]int, n)
		for i := 0; i < n; i++ {
			k, err := d.string()
			if err != nil {
				return nil, err
			}
			v, err := d.zigzag()
			if err != nil {
				return nil, err
			}
			out[k] = int(v)
		}
		return out, nil
	case tagFloatMap:
		n, isNil, err := d.length()
		if err != nil || isNil {
			return map[string]float64(nil), err
		}
		out := make(map[string]float64, n)
		for i := 0; i < n; i++ {
			k, err := d.string()
			if err != nil {
				return nil, err
			}
			if out[k], err = d.float64(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case tagFrame:
		payload, err := d.bytes()
		if err != nil {
			return nil, err
		}
		var f Frame
		if err := f.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return f, nil
	case tagCustom:
		return d.custom()
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, raw)
	}
}

func (d *decoder) time() (time.Time, error) {
	sec, err := d.zigzag()
	if err != nil {
		return time.Time{}, err
	}
	nsec, err := d.varint()
	if err != nil {
		return time.Time{}, err
	}
	offset, err := d.zigzag()
	if err != nil {
		return time.Time{}, err
	}
	name, err := d.string()
	if err != nil {
		return time.Time{}, err
	}
	t := time.Unix(sec, int64(nsec))
	if name == "UTC" && offset == 0 {
		return t.UTC(), nil
	}
	return t.In(time.FixedZone(name, int(offset))), nil
}

func (d *decoder) list(depth int) (any, error) {
	n, isNil, err := d.length()
	if err != nil || isNil {
		return []any(nil), err
	}
	out := make([]any, n)
	for i := range out {
		if out[i], err = d.value(depth + 1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) anyMap(depth int) (any, error) {
	n, isNil, err := d.length()
	if err != nil || isNil {
		return map[string]any(nil), err
	}
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		k, err := d.string()
		if err != nil {
			return nil, err
		}
		if out[k], err = d.value(depth + 1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) custom() (any, error) {
	name, err := d.string()
	if err != nil {
		return nil, err
	}
	payload, err := d.bytes()
	if err != nil {
		return nil, err
	}
	factory, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	v := factory()
	if err := v.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("codec: decode %s: %w", name, err)
	}
	return v, nil
}
