package parallel

import (
	"fmt"

	"github.com/Sumatoshi-tech/parstat/pkg/compress"
	"github.com/Sumatoshi-tech/parstat/pkg/model"
)

// Pack encodes m for the wire: the binary model format in an LZ4 frame.
func Pack(m *model.Model) ([]byte, error) {
	raw, err := m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("pack model: %w", err)
	}

	return compress.Block(raw), nil
}

// Unpack reverses Pack.
func Unpack(frame []byte) (*model.Model, error) {
	raw, err := compress.Unblock(frame)
	if err != nil {
		return nil, fmt.Errorf("unpack model: %w", err)
	}

	m := &model.Model{}

	err = m.UnmarshalBinary(raw)
	if err != nil {
		return nil, fmt.Errorf("unpack model: %w", err)
	}

	return m, nil
}
