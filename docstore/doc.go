// Package docstore persists fleece documents as blobs and evolves them with
// append-only deltas.
//
// A document blob is always a complete fleece document: the original encode
// followed by zero or more delta suffixes. Updates read the current blob,
// apply edits through a mutable overlay, encode the delta against the blob
// as base, and write back blob||delta guarded by the blob's etag so racy
// writers cannot interleave.
package docstore
