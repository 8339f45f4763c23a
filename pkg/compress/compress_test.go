package compress_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/parstat/pkg/compress"
)

func TestBlock_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("ab")},
		{"repetitive", bytes.Repeat([]byte("Cardinality\x00"), 500)},
		{"binary", []byte{0, 1, 2, 3, 255, 254, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frame := compress.Block(tt.data)

			got, err := compress.Unblock(frame)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
			assert.True(t, bytes.Equal(tt.data, got))
		})
	}
}

func TestBlock_Shrinks(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789"), 1000)
	assert.Less(t, len(compress.Block(data)), len(data)/4)
}

func TestBlock_FrameLayout(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("Mean"), 300)
	frame := compress.Block(data)

	assert.Equal(t, byte(1), frame[0])

	n, size := binary.Uvarint(frame[1:])
	require.Positive(t, size)
	assert.Equal(t, uint64(len(data)), n)

	raw, err := compress.Unblock([]byte{0, 2, 'a', 'b'})
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), raw)
}

func TestUnblock_Corrupt(t *testing.T) {
	t.Parallel()

	frame := compress.Block(bytes.Repeat([]byte("x"), 100))

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"bad mode", append([]byte{9}, frame[1:]...)},
		{"truncated", frame[:len(frame)-2]},
		{"raw length", []byte{0, 5, 'a'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := compress.Unblock(tt.frame)
			require.ErrorIs(t, err, compress.ErrCorruptBlock)
		})
	}
}
