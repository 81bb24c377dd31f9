package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/require"

	"github.com/phucvin/fleece"
)

type fakeBlob struct {
	data []byte
	etag int
	tags map[string]string
}

// fakeDocStore is an in-memory stand-in for the blob store. It bumps the
// etag on every put; conditional-write options are opaque to it, so the
// conflict behavior itself belongs to integration tests against a real
// store.
type fakeDocStore struct {
	blobs map[string]*fakeBlob
	puts  int
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{blobs: map[string]*fakeBlob{}}
}

func (s *fakeDocStore) Reader(
	ctx context.Context, identity string, opts ...azblob.Option,
) (*azblob.ReaderResponse, error) {
	b, ok := s.blobs[identity]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", identity)
	}
	etag := fmt.Sprintf("%d", b.etag)
	mod := time.Now()
	return &azblob.ReaderResponse{
		Reader:        io.NopCloser(bytes.NewReader(b.data)),
		ETag:          &etag,
		LastModified:  &mod,
		ContentLength: int64(len(b.data)),
		Tags:          b.tags,
	}, nil
}

func (s *fakeDocStore) Put(
	ctx context.Context, identity string, source io.ReadSeekCloser, opts ...azblob.Option,
) (*azblob.WriteResponse, error) {
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, err
	}
	b, ok := s.blobs[identity]
	if !ok {
		b = &fakeBlob{}
		s.blobs[identity] = b
	}
	b.data = data
	b.etag++
	s.puts++
	return &azblob.WriteResponse{}, nil
}

func newTestCommitter(t *testing.T) (*Committer, *fakeDocStore) {
	t.Helper()
	logger.New("NOOP")
	t.Cleanup(logger.OnExit)
	store := newFakeDocStore()
	log := logger.Sugar.WithServiceName("docstoretest")
	return NewCommitter(log, store), store
}

func TestCreateAndReadDoc(t *testing.T) {
	c, store := newTestCommitter(t)
	ctx := context.Background()
	docID := NewDocID()

	_, err := c.CreateDoc(ctx, docID, map[string]any{
		"name":  "widget",
		"count": 3,
	})
	require.NoError(t, err)
	require.Equal(t, 1, store.puts)

	dc, err := c.GetDocContext(ctx, docID)
	require.NoError(t, err)
	root, err := dc.Root()
	require.NoError(t, err)

	name, err := root.Get("name")
	require.NoError(t, err)
	s, err := name.Str()
	require.NoError(t, err)
	require.Equal(t, "widget", s)
}

func TestCommitDeltaAppendsOnly(t *testing.T) {
	c, _ := newTestCommitter(t)
	ctx := context.Background()
	docID := NewDocID()

	created, err := c.CreateDoc(ctx, docID, map[string]any{
		"kept":    "stable value",
		"changed": "old",
	})
	require.NoError(t, err)
	baseLen := len(created.Data)

	dc, err := c.CommitDelta(ctx, docID, func(root *fleece.MutableDict) error {
		root.Set("changed", "new")
		return nil
	})
	require.NoError(t, err)

	// Append only: the committed blob starts with the unmodified base.
	require.Greater(t, len(dc.Data), baseLen)
	require.True(t, bytes.Equal(created.Data, dc.Data[:baseLen]))

	root, err := dc.Root()
	require.NoError(t, err)
	got, err := root.Native()
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"kept":    "stable value",
		"changed": "new",
	}, got)
}

func TestCommitDeltaSequence(t *testing.T) {
	c, _ := newTestCommitter(t)
	ctx := context.Background()
	docID := NewDocID()

	_, err := c.CreateDoc(ctx, docID, map[string]any{"n": 0})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		_, err = c.CommitDelta(ctx, docID, func(root *fleece.MutableDict) error {
			root.Set("n", i)
			return nil
		})
		require.NoError(t, err)
	}

	dc, err := c.GetDocContext(ctx, docID)
	require.NoError(t, err)
	root, err := dc.Root()
	require.NoError(t, err)
	n, err := root.Get("n")
	require.NoError(t, err)
	got, err := n.Int()
	require.NoError(t, err)
	require.Equal(t, int64(4), got)
}

func TestCommitDeltaMissingDoc(t *testing.T) {
	c, _ := newTestCommitter(t)
	_, err := c.CommitDelta(context.Background(), NewDocID(), func(*fleece.MutableDict) error {
		return nil
	})
	require.Error(t, err)
}

func TestMutateErrorAbortsCommit(t *testing.T) {
	c, store := newTestCommitter(t)
	ctx := context.Background()
	docID := NewDocID()

	_, err := c.CreateDoc(ctx, docID, map[string]any{"n": 0})
	require.NoError(t, err)
	putsBefore := store.puts

	boom := fmt.Errorf("mutate failed")
	_, err = c.CommitDelta(ctx, docID, func(*fleece.MutableDict) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, putsBefore, store.puts)
}

func TestDocBlobPath(t *testing.T) {
	docID := NewDocID()
	path, err := DocBlobPath(docID)
	require.NoError(t, err)
	require.Equal(t, V1DocBlobPrefix+"/"+docID, path)

	_, err = DocBlobPath("not-a-uuid")
	require.ErrorIs(t, err, ErrDocIDInvalid)
}
