package fleece

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value is a zero-copy handle onto one value inside an encoded document. It
// borrows the buffer and owns nothing. The zero Value is the absent sentinel
// returned for lookup misses; it is distinguishable from an encoded null.
//
// A handle is constructed with any pointer chain at its position already
// resolved, so pos always addresses a concrete value header.
type Value struct {
	buf []byte
	pos int
}

// Root returns the handle for a document's root value. The last 2 bytes of
// the buffer are a narrow slot; when that slot points at a wide pointer the
// extra indirection is followed, exactly once.
func Root(buf []byte) (Value, error) {
	if len(buf) < 2 {
		return Value{}, fmt.Errorf("%w: no root slot", ErrTruncated)
	}
	pos := len(buf) - 2
	if buf[pos]&0x80 == 0 {
		// Root is inline in the trailing slot.
		return Value{buf: buf, pos: pos}, nil
	}
	units := int(buf[pos]&0x7f)<<8 | int(buf[pos+1])
	if units == 0 {
		return Value{}, fmt.Errorf("%w: root slot", ErrZeroPointer)
	}
	pos -= units * 2
	if pos < 0 {
		return Value{}, fmt.Errorf("%w: root target before buffer start", ErrTruncated)
	}
	if buf[pos]&0x80 != 0 {
		// The root slot reached a wide pointer; follow it to the value.
		if pos+4 > len(buf) {
			return Value{}, fmt.Errorf("%w: wide root pointer", ErrTruncated)
		}
		units = int(buf[pos]&0x7f)<<24 | int(buf[pos+1])<<16 | int(buf[pos+2])<<8 | int(buf[pos+3])
		if units == 0 {
			return Value{}, fmt.Errorf("%w: wide root pointer", ErrZeroPointer)
		}
		pos -= units * 2
		if pos < 0 {
			return Value{}, fmt.Errorf("%w: root target before buffer start", ErrTruncated)
		}
	}
	return Value{buf: buf, pos: pos}, nil
}

// newValue constructs a handle at a slot position, resolving any pointer
// chain. wide selects how a pointer at pos is read; once a pointer is
// followed the target is a self contained value and subsequent reads are
// narrow.
func newValue(buf []byte, pos int, wide bool) (Value, error) {
	for range maxPointerHops {
		if pos < 0 || pos+2 > len(buf) {
			return Value{}, fmt.Errorf("%w: slot at %d", ErrTruncated, pos)
		}
		if buf[pos]&0x80 == 0 {
			return Value{buf: buf, pos: pos}, nil
		}
		var units int
		if wide {
			if pos+4 > len(buf) {
				return Value{}, fmt.Errorf("%w: wide pointer at %d", ErrTruncated, pos)
			}
			units = int(buf[pos]&0x7f)<<24 | int(buf[pos+1])<<16 | int(buf[pos+2])<<8 | int(buf[pos+3])
		} else {
			units = int(buf[pos]&0x7f)<<8 | int(buf[pos+1])
		}
		if units == 0 {
			return Value{}, fmt.Errorf("%w: at %d", ErrZeroPointer, pos)
		}
		pos -= units * 2
		wide = false
	}
	return Value{}, ErrPointerCycle
}

// Exists reports whether the handle refers to a value at all. Lookup misses
// return the zero Value, for which Exists is false.
func (v Value) Exists() bool {
	return v.buf != nil
}

// Kind returns the value kind, or KindAbsent for the zero Value.
func (v Value) Kind() Kind {
	if !v.Exists() {
		return KindAbsent
	}
	switch v.buf[v.pos] & 0xf0 {
	case tagShort, tagInt, tagFloat:
		return KindNumber
	case tagSpecial:
		if v.buf[v.pos] == headerNull {
			return KindNull
		}
		return KindBool
	case tagString:
		return KindString
	case tagData:
		return KindBinary
	case tagArray:
		return KindArray
	case tagDict:
		return KindDict
	default:
		// Unreachable for handles produced by newValue.
		return KindAbsent
	}
}

// IsNull reports whether the handle refers to an encoded null.
func (v Value) IsNull() bool {
	return v.Kind() == KindNull
}

// Bool extracts a boolean.
func (v Value) Bool() (bool, error) {
	if v.Kind() != KindBool {
		return false, fmt.Errorf("%w: Bool on %s", ErrWrongType, v.Kind())
	}
	return v.buf[v.pos] == headerTrue, nil
}

// Int extracts a number as a signed 64-bit integer. Floats are truncated
// toward zero; unsigned values above MaxInt64 are an error.
func (v Value) Int() (int64, error) {
	if !v.Exists() {
		return 0, ErrNotAbsent
	}
	switch v.buf[v.pos] & 0xf0 {
	case tagShort:
		return v.shortInt(), nil
	case tagInt:
		u, unsigned, err := v.longInt()
		if err != nil {
			return 0, err
		}
		if unsigned {
			if u > math.MaxInt64 {
				return 0, fmt.Errorf("%w: %d does not fit int64", ErrIntRange, u)
			}
			return int64(u), nil
		}
		return int64(u), nil
	case tagFloat:
		f, err := v.Float()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("%w: Int on %s", ErrWrongType, v.Kind())
	}
}

// Uint extracts a number as an unsigned 64-bit integer. Negative values are
// an error.
func (v Value) Uint() (uint64, error) {
	if !v.Exists() {
		return 0, ErrNotAbsent
	}
	switch v.buf[v.pos] & 0xf0 {
	case tagShort:
		n := v.shortInt()
		if n < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrIntRange, n)
		}
		return uint64(n), nil
	case tagInt:
		u, unsigned, err := v.longInt()
		if err != nil {
			return 0, err
		}
		if !unsigned && int64(u) < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrIntRange, int64(u))
		}
		return u, nil
	default:
		return 0, fmt.Errorf("%w: Uint on %s", ErrWrongType, v.Kind())
	}
}

// Float extracts a number as a float64. Integer payloads are converted.
func (v Value) Float() (float64, error) {
	if !v.Exists() {
		return 0, ErrNotAbsent
	}
	switch v.buf[v.pos] & 0xf0 {
	case tagShort:
		return float64(v.shortInt()), nil
	case tagInt:
		u, unsigned, err := v.longInt()
		if err != nil {
			return 0, err
		}
		if unsigned {
			return float64(u), nil
		}
		return float64(int64(u)), nil
	case tagFloat:
		if v.buf[v.pos]&floatDoubleFlag != 0 {
			if v.pos+2+8 > len(v.buf) {
				return 0, fmt.Errorf("%w: float payload", ErrTruncated)
			}
			return math.Float64frombits(binary.LittleEndian.Uint64(v.buf[v.pos+2:])), nil
		}
		if v.pos+2+4 > len(v.buf) {
			return 0, fmt.Errorf("%w: float payload", ErrTruncated)
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(v.buf[v.pos+2:]))), nil
	default:
		return 0, fmt.Errorf("%w: Float on %s", ErrWrongType, v.Kind())
	}
}

// IsUnsigned reports whether a number payload carries the unsigned flag.
func (v Value) IsUnsigned() bool {
	return v.Exists() && v.buf[v.pos]&0xf0 == tagInt && v.buf[v.pos]&intUnsignedFlag != 0
}

// IsFloat reports whether a number payload is IEEE-754 encoded.
func (v Value) IsFloat() bool {
	return v.Exists() && v.buf[v.pos]&0xf0 == tagFloat
}

// shortInt sign extends the inline 12-bit field.
func (v Value) shortInt() int64 {
	u := uint16(v.buf[v.pos]&0x0f)<<8 | uint16(v.buf[v.pos+1])
	return int64(int16(u<<4) >> 4)
}

// longInt reads a long-int payload zero extended into a uint64. For signed
// payloads the result is sign extended from the payload width.
func (v Value) longInt() (u uint64, unsigned bool, err error) {
	size := int(v.buf[v.pos]&0x07) + 1
	if v.pos+1+size > len(v.buf) {
		return 0, false, fmt.Errorf("%w: long int payload", ErrTruncated)
	}
	for i := size - 1; i >= 0; i-- {
		u = u<<8 | uint64(v.buf[v.pos+1+i])
	}
	unsigned = v.buf[v.pos]&intUnsignedFlag != 0
	if !unsigned && size < 8 {
		shift := uint(64 - 8*size)
		u = uint64(int64(u<<shift) >> shift)
	}
	return u, unsigned, nil
}

// Str extracts a string. The returned string copies out of the buffer.
func (v Value) Str() (string, error) {
	if v.Kind() != KindString {
		return "", fmt.Errorf("%w: Str on %s", ErrWrongType, v.Kind())
	}
	b, err := v.blob()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes extracts a binary payload. The returned slice aliases the buffer.
func (v Value) Bytes() ([]byte, error) {
	if v.Kind() != KindBinary {
		return nil, fmt.Errorf("%w: Bytes on %s", ErrWrongType, v.Kind())
	}
	return v.blob()
}

// blob returns the payload byte range of a string or binary value.
func (v Value) blob() ([]byte, error) {
	n := int(v.buf[v.pos] & 0x0f)
	data := v.pos + 1
	if n == blobLenVarint {
		ln, sz := uvarint(v.buf[data:])
		if sz <= 0 {
			return nil, fmt.Errorf("%w: blob length varint", ErrTruncated)
		}
		if ln > uint64(len(v.buf)) {
			return nil, fmt.Errorf("%w: blob length %d", ErrTruncated, ln)
		}
		n = int(ln)
		data += sz
	}
	if data+n > len(v.buf) {
		return nil, fmt.Errorf("%w: blob payload", ErrTruncated)
	}
	return v.buf[data : data+n], nil
}

// collection decodes an array or dict header: the entry count, the position
// of the first slot and the slot width. When the 11-bit inline count is the
// overflow marker, the true count follows as a varint, padded so the slots
// stay 2-byte aligned.
func (v Value) collection() (count, dataPos, slotSize int, wide bool, err error) {
	if v.pos+2 > len(v.buf) {
		return 0, 0, 0, false, fmt.Errorf("%w: collection header", ErrTruncated)
	}
	b0 := v.buf[v.pos]
	wide = b0&wideFlag != 0
	count = int(b0&0x07)<<8 | int(v.buf[v.pos+1])
	dataPos = v.pos + 2
	if count == countOverflow {
		n, sz := uvarint(v.buf[dataPos:])
		if sz <= 0 {
			return 0, 0, 0, false, fmt.Errorf("%w: collection count varint", ErrTruncated)
		}
		count = int(n)
		dataPos += sz + sz&1
	}
	slotSize = slotBytesNarrow
	if wide {
		slotSize = slotBytesWide
	}
	return count, dataPos, slotSize, wide, nil
}

// Len returns the entry count of an array or dict, the byte length of a
// string or binary value, and an error for other kinds.
func (v Value) Len() (int, error) {
	switch v.Kind() {
	case KindArray, KindDict:
		count, _, _, _, err := v.collection()
		return count, err
	case KindString, KindBinary:
		b, err := v.blob()
		if err != nil {
			return 0, err
		}
		return len(b), nil
	default:
		return 0, fmt.Errorf("%w: Len on %s", ErrWrongType, v.Kind())
	}
}

// Index returns the i'th element of an array. Out of range indexes return
// the absent sentinel, not an error.
func (v Value) Index(i int) (Value, error) {
	if v.Kind() != KindArray {
		return Value{}, fmt.Errorf("%w: Index on %s", ErrWrongType, v.Kind())
	}
	count, dataPos, slotSize, wide, err := v.collection()
	if err != nil {
		return Value{}, err
	}
	if i < 0 || i >= count {
		return Value{}, nil
	}
	return newValue(v.buf, dataPos+i*slotSize, wide)
}

// Get looks key up in a dict by binary search over the sorted entries.
// A missing key returns the absent sentinel, not an error.
func (v Value) Get(key string) (Value, error) {
	if v.Kind() != KindDict {
		return Value{}, fmt.Errorf("%w: Get on %s", ErrWrongType, v.Kind())
	}
	count, dataPos, slotSize, wide, err := v.collection()
	if err != nil {
		return Value{}, err
	}
	lo, hi := 0, count-1
	for lo <= hi {
		mid := (lo + hi) / 2
		keyPos := dataPos + mid*2*slotSize
		kv, err := newValue(v.buf, keyPos, wide)
		if err != nil {
			return Value{}, err
		}
		ks, err := kv.Str()
		if err != nil {
			return Value{}, err
		}
		switch {
		case key == ks:
			return newValue(v.buf, keyPos+slotSize, wide)
		case key < ks:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return Value{}, nil
}

// Keys returns the dict's keys in their stored (sorted) order.
func (v Value) Keys() ([]string, error) {
	if v.Kind() != KindDict {
		return nil, fmt.Errorf("%w: Keys on %s", ErrWrongType, v.Kind())
	}
	count, dataPos, slotSize, wide, err := v.collection()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, count)
	for i := range count {
		kv, err := newValue(v.buf, dataPos+i*2*slotSize, wide)
		if err != nil {
			return nil, err
		}
		ks, err := kv.Str()
		if err != nil {
			return nil, err
		}
		keys = append(keys, ks)
	}
	return keys, nil
}

// Native converts the handle's subtree into plain Go values: nil, bool,
// int64 (uint64 for unsigned payloads above MaxInt64), float64, string,
// []byte, []any and map[string]any.
func (v Value) Native() (any, error) {
	switch v.Kind() {
	case KindAbsent:
		return nil, ErrNotAbsent
	case KindNull:
		return nil, nil
	case KindBool:
		return v.Bool()
	case KindNumber:
		if v.IsFloat() {
			return v.Float()
		}
		if v.IsUnsigned() {
			u, err := v.Uint()
			if err != nil {
				return nil, err
			}
			if u > math.MaxInt64 {
				return u, nil
			}
			return int64(u), nil
		}
		return v.Int()
	case KindString:
		return v.Str()
	case KindBinary:
		b, err := v.Bytes()
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case KindArray:
		count, err := v.Len()
		if err != nil {
			return nil, err
		}
		out := make([]any, count)
		for i := range count {
			el, err := v.Index(i)
			if err != nil {
				return nil, err
			}
			out[i], err = el.Native()
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case KindDict:
		keys, err := v.Keys()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			el, err := v.Get(k)
			if err != nil {
				return nil, err
			}
			out[k], err = el.Native()
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrWrongType, v.Kind())
	}
}

// String implements fmt.Stringer for diagnostics only; it never fails.
func (v Value) String() string {
	if !v.Exists() {
		return "<absent>"
	}
	return fmt.Sprintf("%s@%d", v.Kind(), v.pos)
}
