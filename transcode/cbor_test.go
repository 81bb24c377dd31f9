package transcode

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/phucvin/fleece"
)

func TestFromCBORRoundTrip(t *testing.T) {
	in := map[string]any{
		"name":   "widget",
		"count":  int64(3),
		"ratio":  0.25,
		"ok":     true,
		"absent": nil,
		"parts":  []any{int64(1), int64(2), int64(3)},
		"nested": map[string]any{"deep": "value"},
	}
	data, err := cbor.Marshal(in)
	require.NoError(t, err)

	doc, err := FromCBOR(data)
	require.NoError(t, err)

	v, err := fleece.Root(doc)
	require.NoError(t, err)
	got, err := v.Native()
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestToCBORRoundTrip(t *testing.T) {
	doc, err := fleece.Encode(map[string]any{
		"b":    []byte{1, 2, 3},
		"list": []any{"x", -1, 1.5},
	})
	require.NoError(t, err)

	data, err := ToCBOR(doc)
	require.NoError(t, err)

	back, err := FromCBOR(data)
	require.NoError(t, err)

	want, err := fleece.Root(doc)
	require.NoError(t, err)
	wantNative, err := want.Native()
	require.NoError(t, err)

	got, err := fleece.Root(back)
	require.NoError(t, err)
	gotNative, err := got.Native()
	require.NoError(t, err)
	require.Equal(t, wantNative, gotNative)
}

func TestFromCBORRejectsNonStringKeys(t *testing.T) {
	data, err := cbor.Marshal(map[int]string{1: "x"})
	require.NoError(t, err)

	_, err = FromCBOR(data)
	require.ErrorIs(t, err, ErrNonStringKey)
}
