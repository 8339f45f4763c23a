// Package compress frames byte payloads as LZ4 blocks prefixed with their original
// length, for the model wire format and the model store.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

const (
	modeRaw byte = 0
	modeLZ4 byte = 1
)

// maxBlockSize bounds the declared length of a frame before any allocation.
const maxBlockSize = 1 << 31

// ErrCorruptBlock is returned when a frame cannot be decoded.
var ErrCorruptBlock = errors.New("corrupt compressed block")

// Block compresses data. Incompressible input is stored raw.
func Block(data []byte) []byte {
	out := []byte{modeLZ4}
	out = binary.AppendUvarint(out, uint64(len(data)))
	header := len(out)

	out = append(out, make([]byte, lz4.CompressBlockBound(len(data)))...)

	written, err := lz4.CompressBlock(data, out[header:], nil)
	if err != nil || written == 0 {
		out[0] = modeRaw

		return append(out[:header], data...)
	}

	return out[:header+written]
}

// Unblock reverses Block.
func Unblock(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrCorruptBlock)
	}

	mode := frame[0]

	size, n := binary.Uvarint(frame[1:])
	if n <= 0 || size > maxBlockSize {
		return nil, fmt.Errorf("%w: bad length", ErrCorruptBlock)
	}

	payload := frame[1+n:]

	switch mode {
	case modeRaw:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("%w: raw length %d, want %d", ErrCorruptBlock, len(payload), size)
		}

		return append([]byte(nil), payload...), nil
	case modeLZ4:
		out := make([]byte, size)

		read, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
		}

		if uint64(read) != size {
			return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrCorruptBlock, read, size)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %d", ErrCorruptBlock, mode)
	}
}
