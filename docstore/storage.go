package docstore

import (
	"context"
	"io"

	"github.com/datatrails/go-datatrails-common/azblob"
)

type docBlobReader interface {
	Reader(
		ctx context.Context,
		identity string,
		opts ...azblob.Option,
	) (*azblob.ReaderResponse, error)
}

type docStore interface {
	docBlobReader

	Put(
		ctx context.Context,
		identity string,
		source io.ReadSeekCloser,
		opts ...azblob.Option,
	) (*azblob.WriteResponse, error)
}

// BlobRead reads the blob at blobPath and returns the store response
// alongside the fully drained payload.
func BlobRead(
	ctx context.Context, blobPath string, store docBlobReader, opts ...azblob.Option,
) (*azblob.ReaderResponse, []byte, error) {

	rr, err := store.Reader(ctx, blobPath, opts...)
	if err != nil {
		return nil, nil, err
	}
	data, err := io.ReadAll(rr.Reader)
	if err != nil {
		return nil, nil, err
	}
	return rr, data, nil
}
