package fleece

/*

# Fleece primitives (zero-parse documents, append-only deltas)

This package encodes and decodes a binary representation of JSON-like values
that can be navigated without parsing: indexing into arrays and looking up
dict keys dereference relative pointers directly in the raw byte buffer, so a
deep lookup touches O(depth*log n) bytes rather than the whole document.

It follows a "functional primitives" style:

- small, composable functions
- explicit byte layouts
- offset arithmetic on byte slices
- a burden of knowledge on the caller for hot paths

## Core invariants

1. every value begins on an even byte offset
2. all pointers are backward; the document is a DAG
3. dict entries are sorted by key bytes (lookup is binary search)
4. a collection's slot width is uniform (2 bytes narrow, 4 bytes wide)

## Value layout (top nibble of the first byte)

	0x0  small int   12-bit signed, inline in the 2-byte slot
	0x1  long int    0001uccc, ccc+1 little-endian payload bytes
	0x2  float       0010sx--, 4 or 8 little-endian IEEE-754 bytes
	0x3  special     null / false / true
	0x4  string      0100cccc, varint length when cccc == 15
	0x5  binary      as string, uninterpreted bytes
	0x6  array       0110wccc CCCCCCCC, 11-bit count, w selects wide slots
	0x7  dict        as array; entries are key,value slot pairs
	0x8+ pointer     MSB set; 15- or 31-bit backward offset in 2-byte units

A pointer's offset is measured backward from the start of the slot that holds
it to the start of the target value. Offset zero is invalid.

## Root slot

The last 2 bytes of a document are a narrow slot holding the root. When the
root lies beyond narrow reach (65534 bytes), a 4-byte wide pointer is emitted
first and the trailing slot points 2 units back to it, a single level of
indirection.

## Deltas

An Encoder with a registered base buffer emits a suffix that is valid when
appended verbatim to the base: surviving reader handles into the base
serialize as back-pointers, so unchanged subtrees are never re-emitted.

*/
