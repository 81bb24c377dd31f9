package fleece

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUvarintRoundTrip(t *testing.T) {
	for _, x := range []uint64{0, 1, 0x7f, 0x80, 300, 2047, 16384, 1 << 31, 1<<64 - 1} {
		buf := appendUvarint(nil, x)
		require.Equal(t, uvarintLen(x), len(buf))

		got, n := uvarint(buf)
		require.Equal(t, len(buf), n)
		require.Equal(t, x, got)
	}
}

func TestUvarintTruncated(t *testing.T) {
	_, n := uvarint(nil)
	require.LessOrEqual(t, n, 0)

	buf := appendUvarint(nil, 1<<20)
	_, n = uvarint(buf[:len(buf)-1])
	require.LessOrEqual(t, n, 0)
}
