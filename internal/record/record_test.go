package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Record{
		{LSN: 1, Tag: Insert, Key: []byte("k"), Value: []byte("v")},
		{LSN: 2, Tag: Delete, Key: []byte("k")},
		{LSN: 3, Tag: StartTxn},
		{LSN: 4, Tag: CommitTxn},
		{LSN: 5, Tag: Insert, Key: []byte("k"), Value: []byte{}},
	}

	for _, c := range cases {
		got, err := Decode(Encode(c))
		require.NoError(t, err)
		assert.Equal(t, c.LSN, got.LSN)
		assert.Equal(t, c.Tag, got.Tag)
		assert.Equal(t, c.Key, got.Key)
		assert.Equal(t, c.Value, got.Value)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	payload := Encode(Record{LSN: 1, Tag: Insert, Key: []byte("k"), Value: []byte("v")})
	payload[0] ^= 0xFF

	_, err := Decode(payload)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeTooSmall(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}
