package fleece

import (
	"fmt"
	"sort"
)

// tombstone marks a removed key in a MutableDict change map.
type tombstone struct{}

// MutableDict is a copy-on-write overlay over an optional source dict
// handle. Edits accumulate in memory; the source bytes are never touched.
// Encoding a MutableDict against the source's buffer as base emits only the
// diverged entries, with untouched children reused as back-pointers.
type MutableDict struct {
	source  Value
	changes map[string]any
}

func NewMutableDict() *MutableDict {
	return &MutableDict{changes: map[string]any{}}
}

// MutableDictFromValue wraps a reader dict handle for editing.
func MutableDictFromValue(v Value) (*MutableDict, error) {
	if v.Kind() != KindDict {
		return nil, fmt.Errorf("%w: mutable dict over %s", ErrWrongType, v.Kind())
	}
	return &MutableDict{source: v, changes: map[string]any{}}, nil
}

// Get consults the change map first, then the source. ok is false for keys
// never present and for removed keys. An untouched child comes back as its
// reader handle, which is what lets the encoder reuse it as a base pointer.
func (d *MutableDict) Get(key string) (any, bool, error) {
	if v, edited := d.changes[key]; edited {
		if _, gone := v.(tombstone); gone {
			return nil, false, nil
		}
		return v, true, nil
	}
	if !d.source.Exists() {
		return nil, false, nil
	}
	child, err := d.source.Get(key)
	if err != nil {
		return nil, false, err
	}
	if !child.Exists() {
		return nil, false, nil
	}
	return child, true, nil
}

func (d *MutableDict) Set(key string, v any) {
	d.changes[key] = v
}

// Remove writes a tombstone so the key is absent even if the source has it.
func (d *MutableDict) Remove(key string) {
	d.changes[key] = tombstone{}
}

// Keys returns the union of source and edited keys, minus removals, sorted.
func (d *MutableDict) Keys() ([]string, error) {
	live := map[string]bool{}
	if d.source.Exists() {
		sourceKeys, err := d.source.Keys()
		if err != nil {
			return nil, err
		}
		for _, k := range sourceKeys {
			live[k] = true
		}
	}
	for k, v := range d.changes {
		if _, gone := v.(tombstone); gone {
			delete(live, k)
		} else {
			live[k] = true
		}
	}
	out := make([]string, 0, len(live))
	for k := range live {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the live entry count.
func (d *MutableDict) Len() (int, error) {
	keys, err := d.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// GetMutableDict promotes the child at key to a mutable overlay. The
// promotion is one shot: the overlay is written back into the change map so
// later edits through it are visible to the encoder.
func (d *MutableDict) GetMutableDict(key string) (*MutableDict, error) {
	child, ok, err := d.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	md, err := promoteDict(child)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, key)
	}
	d.changes[key] = md
	return md, nil
}

// GetMutableArray promotes the child at key to a mutable array overlay.
func (d *MutableDict) GetMutableArray(key string) (*MutableArray, error) {
	child, ok, err := d.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	ma, err := promoteArray(child)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, key)
	}
	d.changes[key] = ma
	return ma, nil
}

func promoteDict(child any) (*MutableDict, error) {
	switch c := child.(type) {
	case *MutableDict:
		return c, nil
	case Value:
		return MutableDictFromValue(c)
	case map[string]any:
		md := NewMutableDict()
		for k, v := range c {
			md.Set(k, v)
		}
		return md, nil
	default:
		return nil, fmt.Errorf("%w: mutable dict over %T", ErrWrongType, child)
	}
}

func promoteArray(child any) (*MutableArray, error) {
	switch c := child.(type) {
	case *MutableArray:
		return c, nil
	case Value:
		return MutableArrayFromValue(c)
	case []any:
		return &MutableArray{items: append([]any(nil), c...)}, nil
	default:
		return nil, fmt.Errorf("%w: mutable array over %T", ErrWrongType, child)
	}
}

// MutableArray is an editable sequence over a source array. Unlike
// MutableDict it materializes the source eagerly: each element starts life
// as a reader handle and stays one until replaced or promoted, so unchanged
// elements still serialize as base pointers.
type MutableArray struct {
	items []any
}

func NewMutableArray() *MutableArray {
	return &MutableArray{}
}

// MutableArrayFromValue wraps a reader array handle for editing.
func MutableArrayFromValue(v Value) (*MutableArray, error) {
	if v.Kind() != KindArray {
		return nil, fmt.Errorf("%w: mutable array over %s", ErrWrongType, v.Kind())
	}
	count, err := v.Len()
	if err != nil {
		return nil, err
	}
	items := make([]any, count)
	for i := range count {
		el, err := v.Index(i)
		if err != nil {
			return nil, err
		}
		items[i] = el
	}
	return &MutableArray{items: items}, nil
}

func (a *MutableArray) Len() int {
	return len(a.items)
}

// Get returns the element at i; ok is false out of range.
func (a *MutableArray) Get(i int) (any, bool) {
	if i < 0 || i >= len(a.items) {
		return nil, false
	}
	return a.items[i], true
}

func (a *MutableArray) Set(i int, v any) error {
	if i < 0 || i >= len(a.items) {
		return fmt.Errorf("%w: %d of %d", ErrIndexRange, i, len(a.items))
	}
	a.items[i] = v
	return nil
}

func (a *MutableArray) Append(v any) {
	a.items = append(a.items, v)
}

// Pop removes and returns the last element; ok is false when empty.
func (a *MutableArray) Pop() (any, bool) {
	if len(a.items) == 0 {
		return nil, false
	}
	v := a.items[len(a.items)-1]
	a.items = a.items[:len(a.items)-1]
	return v, true
}

// Insert splices v in before index i. i == Len() appends.
func (a *MutableArray) Insert(i int, v any) error {
	if i < 0 || i > len(a.items) {
		return fmt.Errorf("%w: %d of %d", ErrIndexRange, i, len(a.items))
	}
	a.items = append(a.items, nil)
	copy(a.items[i+1:], a.items[i:])
	a.items[i] = v
	return nil
}

// Remove splices out the element at index i.
func (a *MutableArray) Remove(i int) error {
	if i < 0 || i >= len(a.items) {
		return fmt.Errorf("%w: %d of %d", ErrIndexRange, i, len(a.items))
	}
	copy(a.items[i:], a.items[i+1:])
	a.items = a.items[:len(a.items)-1]
	return nil
}

// GetMutableDict promotes element i to a mutable dict overlay in place.
func (a *MutableArray) GetMutableDict(i int) (*MutableDict, error) {
	if i < 0 || i >= len(a.items) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexRange, i, len(a.items))
	}
	md, err := promoteDict(a.items[i])
	if err != nil {
		return nil, err
	}
	a.items[i] = md
	return md, nil
}

// GetMutableArray promotes element i to a mutable array overlay in place.
func (a *MutableArray) GetMutableArray(i int) (*MutableArray, error) {
	if i < 0 || i >= len(a.items) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexRange, i, len(a.items))
	}
	ma, err := promoteArray(a.items[i])
	if err != nil {
		return nil, err
	}
	a.items[i] = ma
	return ma, nil
}
