package binencutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	vals := []uint64{0, 1, 16, 1<<32 + 7, ^uint64(0)}
	for _, v := range vals {
		require.NoError(t, WriteUint64(&buf, v))
	}
	for _, want := range vals {
		got, err := ReadUint64(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestUint64sRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	vals := []uint64{3, 1 << 40, 0, 42}
	require.NoError(t, WriteUint64s(&buf, vals))
	assert.Equal(t, 8*len(vals), buf.Len())

	got, err := ReadUint64s(&buf, len(vals))
	require.NoError(t, err)
	assert.Equal(t, vals, got)
}

func TestReadShortData(t *testing.T) {
	_, err := ReadUint64(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteUint64(&buf, 7))
	_, err = ReadUint64s(&buf, 2)
	assert.Error(t, err)
}
