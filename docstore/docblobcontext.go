package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/google/uuid"

	"github.com/phucvin/fleece"
)

const (
	// V1DocBlobPrefix is the path prefix for all v1 document blobs.
	V1DocBlobPrefix = "v1/fleecedocs"

	// TagDocID carries the document id on the blob so listings can be
	// filtered without reading payloads.
	TagDocID = "docid"
)

var (
	ErrDocDataInvalid = errors.New("docstore: document data invalid")
	ErrDocIDInvalid   = errors.New("docstore: document id invalid")
)

// DocBlobPath returns the storage path for a document id.
func DocBlobPath(docID string) (string, error) {
	id, err := uuid.Parse(docID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDocIDInvalid, err)
	}
	return fmt.Sprintf("%s/%s", V1DocBlobPrefix, id.String()), nil
}

// NewDocID mints a fresh document id.
func NewDocID() string {
	return uuid.NewString()
}

// DocBlobContext carries one read-modify-write cycle of a document blob:
// the payload plus the store metadata needed to write it back safely.
type DocBlobContext struct {
	DocID    string
	BlobPath string
	ETag     string
	Tags     map[string]string

	LastRead     time.Time
	LastModified time.Time

	// Data is the complete document: the base encode plus any delta
	// suffixes appended by previous commits.
	Data          []byte
	ContentLength int64

	// Creating is set when no blob exists yet for the document.
	Creating bool
}

// ReadData populates the context from the blob at BlobPath.
func (dc *DocBlobContext) ReadData(
	ctx context.Context, store docBlobReader, opts ...azblob.Option) error {

	rr, data, err := BlobRead(ctx, dc.BlobPath, store, opts...)
	if err != nil {
		return err
	}
	dc.Data = data
	dc.Tags = rr.Tags
	dc.ETag = *rr.ETag
	dc.LastRead = time.Now()
	dc.LastModified = *rr.LastModified
	dc.ContentLength = rr.ContentLength
	return nil
}

// Root returns the reader handle for the document's current root value.
func (dc *DocBlobContext) Root() (fleece.Value, error) {
	v, err := fleece.Root(dc.Data)
	if err != nil {
		return fleece.Value{}, fmt.Errorf("%w: %v", ErrDocDataInvalid, err)
	}
	return v, nil
}
