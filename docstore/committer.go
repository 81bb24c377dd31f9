package docstore

import (
	"context"
	"errors"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/phucvin/fleece"
)

var (
	ErrEtagRequired = errors.New("docstore: etag is required when updating any blob")
)

// MutateFunc applies one logical edit to the document's root overlay.
type MutateFunc func(root *fleece.MutableDict) error

// Committer owns the read-modify-write cycle for document blobs. The etag
// discipline mirrors append-only log commits: updates must carry the etag
// of the blob they read, creates must assert no blob exists.
type Committer struct {
	Log   logger.Logger
	Store docStore
}

func NewCommitter(log logger.Logger, store docStore) *Committer {
	return &Committer{
		Log:   log,
		Store: store,
	}
}

// GetDocContext reads the current blob for docID. When no edits follow, the
// returned context is also the cheapest way to hand the caller a lazily
// navigable snapshot, its Data never being parsed up front.
func (c *Committer) GetDocContext(
	ctx context.Context, docID string) (DocBlobContext, error) {

	blobPath, err := DocBlobPath(docID)
	if err != nil {
		return DocBlobContext{}, err
	}
	dc := DocBlobContext{
		DocID:    docID,
		BlobPath: blobPath,
	}
	if err = dc.ReadData(ctx, c.Store); err != nil {
		return DocBlobContext{}, err
	}
	return dc, nil
}

// CreateDoc encodes value as a fresh document blob for docID. The write
// asserts the blob does not already exist so a racing creator loses cleanly.
func (c *Committer) CreateDoc(
	ctx context.Context, docID string, value any) (DocBlobContext, error) {

	blobPath, err := DocBlobPath(docID)
	if err != nil {
		return DocBlobContext{}, err
	}

	data, err := fleece.Encode(value)
	if err != nil {
		return DocBlobContext{}, err
	}

	dc := DocBlobContext{
		DocID:    docID,
		BlobPath: blobPath,
		Tags:     map[string]string{TagDocID: docID},
		Data:     data,
		Creating: true,
	}
	if _, err = c.commit(ctx, dc); err != nil {
		return DocBlobContext{}, err
	}
	c.Log.Debugf("docstore: created %s, %d bytes", blobPath, len(data))
	return dc, nil
}

// CommitDelta reads the document, applies mutate to a root overlay, encodes
// only the diverged subtrees against the current blob as base, and writes
// back blob||delta. The write is guarded by the etag observed at read time;
// a concurrent commit surfaces as a store conflict and the caller retries.
func (c *Committer) CommitDelta(
	ctx context.Context, docID string, mutate MutateFunc) (DocBlobContext, error) {

	dc, err := c.GetDocContext(ctx, docID)
	if err != nil {
		return DocBlobContext{}, err
	}

	root, err := dc.Root()
	if err != nil {
		return DocBlobContext{}, err
	}
	overlay, err := fleece.MutableDictFromValue(root)
	if err != nil {
		return DocBlobContext{}, err
	}
	if err = mutate(overlay); err != nil {
		return DocBlobContext{}, err
	}

	enc := fleece.NewEncoder()
	enc.SetBase(dc.Data)
	delta, err := enc.Encode(overlay)
	if err != nil {
		return DocBlobContext{}, err
	}

	// Never append in place: the data slice may be shared with reader
	// handles the caller still holds.
	grown := make([]byte, 0, len(dc.Data)+len(delta))
	grown = append(grown, dc.Data...)
	grown = append(grown, delta...)
	dc.Data = grown

	if _, err = c.commit(ctx, dc); err != nil {
		return DocBlobContext{}, err
	}
	c.Log.Debugf(
		"docstore: committed %s, %d byte delta onto %d",
		dc.BlobPath, len(delta), len(grown)-len(delta))
	return dc, nil
}

// commit writes the context's data back to its blob under the appropriate
// concurrency guard.
func (c *Committer) commit(
	ctx context.Context, dc DocBlobContext) (*azblob.WriteResponse, error) {

	opts := []azblob.Option{azblob.WithTags(dc.Tags)}
	if dc.ETag != "" {
		opts = append(opts, azblob.WithEtagMatch(dc.ETag))
	} else {
		if !dc.Creating {
			return nil, ErrEtagRequired
		}
	}
	if dc.Creating {
		// 'fail without modifying if the blob exists' is spelled as
		// requiring that no blob matches any etag.
		opts = append(opts, azblob.WithEtagNoneMatch("*"))
	}
	return c.Store.Put(ctx, dc.BlobPath, azblob.NewBytesReaderCloser(dc.Data), opts...)
}
