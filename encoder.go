package fleece

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Encoder serializes in-memory values bottom-up into a self contained
// document, or, once a base buffer is registered with SetBase, into a delta
// suffix that is valid when appended verbatim to the base.
//
// All offsets the encoder records are absolute within the final concatenated
// document. That single convention is what lets delta pointers reach back
// into the base region.
//
// An Encoder is single use per logical operation and must not be shared
// across goroutines during an Encode call.
type Encoder struct {
	buf  []byte
	base []byte

	// strings maps a string to the absolute offset of its first payload.
	// Later occurrences encode as pointer slots only. Reset per pass.
	strings map[string]int
}

// slot is the descriptor for one collection entry or the root: either the 2
// immediate bytes of an inline value, or the absolute offset of an
// out-of-line value the finalized slot will point back to.
type slot struct {
	b0, b1 byte
	target int
}

func immediate(b0, b1 byte) slot { return slot{b0: b0, b1: b1, target: -1} }
func pointerTo(abs int) slot     { return slot{target: abs} }

func (s slot) isPointer() bool { return s.target >= 0 }

func NewEncoder() *Encoder {
	return &Encoder{}
}

// SetBase registers base as an immutable prefix for subsequent Encode calls.
// Reader handles whose buffer is base serialize as back-pointers into it.
func (e *Encoder) SetBase(base []byte) {
	e.base = base
}

// Encode serializes v and returns the bytes written this pass. With no base
// registered the result is a complete document; with a base it is a delta
// and base||result is the complete document.
func (e *Encoder) Encode(v any) ([]byte, error) {
	e.buf = make([]byte, 0, initialBufferCap)
	e.strings = make(map[string]int)

	root, err := e.writeValue(v)
	if err != nil {
		return nil, err
	}
	e.pad()

	rootSlotPos := e.abs()
	if root.isPointer() && rootSlotPos-root.target > narrowReach {
		// One level of indirection: a wide pointer to the far away root,
		// then the trailing narrow slot pointing 2 units back at it.
		units := uint32((rootSlotPos - root.target) / 2)
		e.buf = append(e.buf,
			0x80|byte(units>>24), byte(units>>16), byte(units>>8), byte(units),
			0x80, 0x02)
	} else {
		e.appendSlot(root, rootSlotPos, false)
	}
	out := e.buf
	e.buf = nil
	return out, nil
}

// Encode is the one-shot form of Encoder.Encode for complete documents.
func Encode(v any) ([]byte, error) {
	return NewEncoder().Encode(v)
}

// abs is the current write position, absolute within the concatenated
// document.
func (e *Encoder) abs() int {
	return len(e.base) + len(e.buf)
}

// pad keeps the next value on an even absolute offset.
func (e *Encoder) pad() {
	if e.abs()&1 != 0 {
		e.buf = append(e.buf, 0)
	}
}

func (e *Encoder) writeValue(v any) (slot, error) {
	switch x := v.(type) {
	case nil:
		return immediate(headerNull, 0), nil
	case bool:
		if x {
			return immediate(headerTrue, 0), nil
		}
		return immediate(headerFalse, 0), nil
	case int:
		return e.writeInt(int64(x)), nil
	case int8:
		return e.writeInt(int64(x)), nil
	case int16:
		return e.writeInt(int64(x)), nil
	case int32:
		return e.writeInt(int64(x)), nil
	case int64:
		return e.writeInt(x), nil
	case uint8:
		return e.writeInt(int64(x)), nil
	case uint16:
		return e.writeInt(int64(x)), nil
	case uint32:
		return e.writeInt(int64(x)), nil
	case uint:
		return e.writeUint(uint64(x)), nil
	case uint64:
		return e.writeUint(x), nil
	case float32:
		return e.writeFloat(float64(x)), nil
	case float64:
		return e.writeFloat(x), nil
	case string:
		return e.writeString(x), nil
	case []byte:
		return pointerTo(e.writeBlob(tagData, x)), nil
	case []any:
		return e.writeArray(x)
	case map[string]any:
		return e.writeDict(x)
	case Value:
		return e.writeHandle(x)
	case *MutableDict:
		return e.writeMutableDict(x)
	case *MutableArray:
		return e.writeMutableArray(x)
	default:
		return slot{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func (e *Encoder) writeInt(n int64) slot {
	if n >= minInlineInt && n <= maxInlineInt {
		return immediate(tagShort|byte(n>>8)&0x0f, byte(n))
	}
	e.pad()
	target := e.abs()
	size := signedIntSize(n)
	e.buf = append(e.buf, tagInt|byte(size-1))
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], uint64(n))
	e.buf = append(e.buf, payload[:size]...)
	return pointerTo(target)
}

func (e *Encoder) writeUint(u uint64) slot {
	if u <= math.MaxInt64 {
		return e.writeInt(int64(u))
	}
	e.pad()
	target := e.abs()
	e.buf = append(e.buf, tagInt|intUnsignedFlag|7)
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], u)
	e.buf = append(e.buf, payload[:]...)
	return pointerTo(target)
}

// signedIntSize is the smallest of 1, 2, 4 or 8 little-endian bytes that
// faithfully represent n.
func signedIntSize(n int64) int {
	switch {
	case n >= math.MinInt8 && n <= math.MaxInt8:
		return 1
	case n >= math.MinInt16 && n <= math.MaxInt16:
		return 2
	case n >= math.MinInt32 && n <= math.MaxInt32:
		return 4
	default:
		return 8
	}
}

func (e *Encoder) writeFloat(f float64) slot {
	e.pad()
	target := e.abs()
	e.buf = append(e.buf, tagFloat|floatDoubleFlag, 0)
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], math.Float64bits(f))
	e.buf = append(e.buf, payload[:]...)
	return pointerTo(target)
}

func (e *Encoder) writeString(s string) slot {
	if off, ok := e.strings[s]; ok {
		return pointerTo(off)
	}
	target := e.writeBlob(tagString, []byte(s))
	e.strings[s] = target
	return pointerTo(target)
}

// writeBlob emits a string or binary payload and returns its absolute
// offset. Lengths below 15 ride in the header nibble, larger ones follow as
// a varint.
func (e *Encoder) writeBlob(tag byte, b []byte) int {
	e.pad()
	target := e.abs()
	if len(b) < blobLenVarint {
		e.buf = append(e.buf, tag|byte(len(b)))
	} else {
		e.buf = append(e.buf, tag|blobLenVarint)
		e.buf = appendUvarint(e.buf, uint64(len(b)))
	}
	e.buf = append(e.buf, b...)
	return target
}

func (e *Encoder) writeArray(vals []any) (slot, error) {
	slots := make([]slot, 0, len(vals))
	for _, v := range vals {
		s, err := e.writeValue(v)
		if err != nil {
			return slot{}, err
		}
		slots = append(slots, s)
	}
	return e.writeCollection(tagArray, slots, len(vals)), nil
}

func (e *Encoder) writeDict(m map[string]any) (slot, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	slots := make([]slot, 0, 2*len(m))
	for _, k := range keys {
		ks := e.writeString(k)
		vs, err := e.writeValue(m[k])
		if err != nil {
			return slot{}, err
		}
		slots = append(slots, ks, vs)
	}
	return e.writeCollection(tagDict, slots, len(m)), nil
}

// writeCollection emits an array or dict whose element values have already
// been written, then finalizes each slot at its own absolute position. The
// collection goes wide when any outgoing pointer would exceed narrow reach
// at the position its slot will occupy; because writing is strictly bottom
// up, every target offset is already known here.
func (e *Encoder) writeCollection(tag byte, slots []slot, count int) slot {
	e.pad()
	target := e.abs()

	inline := count
	var countVarint []byte
	if count >= countOverflow {
		inline = countOverflow
		countVarint = appendUvarint(nil, uint64(count))
		if len(countVarint)&1 != 0 {
			// Keep the slots 2-byte aligned.
			countVarint = append(countVarint, 0)
		}
	}

	dataPos := target + 2 + len(countVarint)
	wide := false
	for i, s := range slots {
		if !s.isPointer() {
			continue
		}
		if dataPos+i*slotBytesNarrow-s.target > narrowReach {
			wide = true
			break
		}
	}

	b0 := tag | byte(inline>>8)
	if wide {
		b0 |= wideFlag
	}
	e.buf = append(e.buf, b0, byte(inline))
	e.buf = append(e.buf, countVarint...)
	for _, s := range slots {
		e.appendSlot(s, e.abs(), wide)
	}
	return pointerTo(target)
}

// appendSlot finalizes one slot at absolute position slotPos. Inline values
// occupy the low half of a wide slot with the high half zeroed. Pointer
// offsets are in 2-byte units, backward from the slot start.
func (e *Encoder) appendSlot(s slot, slotPos int, wide bool) {
	if !s.isPointer() {
		if wide {
			e.buf = append(e.buf, s.b0, s.b1, 0, 0)
		} else {
			e.buf = append(e.buf, s.b0, s.b1)
		}
		return
	}
	units := uint32((slotPos - s.target) / 2)
	if wide {
		e.buf = append(e.buf, 0x80|byte(units>>24), byte(units>>16), byte(units>>8), byte(units))
	} else {
		e.buf = append(e.buf, 0x80|byte(units>>8), byte(units))
	}
}

// writeHandle serializes a reader handle. A handle into the registered base
// buffer becomes a bare back-pointer; unchanged subtrees of a mutated
// document are therefore reused without copying. Handles into any other
// buffer are copied structurally.
func (e *Encoder) writeHandle(v Value) (slot, error) {
	if !v.Exists() {
		return slot{}, fmt.Errorf("%w: cannot encode the absent sentinel", ErrUnsupportedType)
	}
	if e.base != nil && sameBuffer(v.buf, e.base) {
		return pointerTo(v.pos), nil
	}
	native, err := v.Native()
	if err != nil {
		return slot{}, err
	}
	return e.writeValue(native)
}

func (e *Encoder) writeMutableDict(d *MutableDict) (slot, error) {
	keys, err := d.Keys()
	if err != nil {
		return slot{}, err
	}
	// Keys() is already sorted; emission order satisfies the binary search
	// invariant even when edits changed the key set.
	slots := make([]slot, 0, 2*len(keys))
	for _, k := range keys {
		ks := e.writeString(k)
		child, _, err := d.Get(k)
		if err != nil {
			return slot{}, err
		}
		vs, err := e.writeValue(child)
		if err != nil {
			return slot{}, err
		}
		slots = append(slots, ks, vs)
	}
	return e.writeCollection(tagDict, slots, len(keys)), nil
}

func (e *Encoder) writeMutableArray(a *MutableArray) (slot, error) {
	slots := make([]slot, 0, a.Len())
	for i := range a.Len() {
		child, _ := a.Get(i)
		s, err := e.writeValue(child)
		if err != nil {
			return slot{}, err
		}
		slots = append(slots, s)
	}
	return e.writeCollection(tagArray, slots, a.Len()), nil
}

// sameBuffer reports whether a and b are views of the identical backing
// bytes, not merely equal content.
func sameBuffer(a, b []byte) bool {
	return len(a) == len(b) && len(a) > 0 && &a[0] == &b[0]
}
