package persist

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
)

const modelFileMode = 0o644

// SaveModel writes m to path with the codec chosen by the path extension.
func SaveModel(path string, m *model.Model) error {
	codec, err := CodecFor(path)
	if err != nil {
		return err
	}

	return save(path, codec, m)
}

// LoadModel reads the model at path with the codec chosen by the path extension.
func LoadModel(path string) (*model.Model, error) {
	codec, err := CodecFor(path)
	if err != nil {
		return nil, err
	}

	return load(path, codec)
}

func save(path string, codec Codec, m *model.Model) error {
	data, err := Marshal(codec, m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}

	err = os.WriteFile(path, data, modelFileMode)
	if err != nil {
		return fmt.Errorf("write model file: %w", err)
	}

	return nil
}

func load(path string, codec Codec) (*model.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}

	m, err := Unmarshal(codec, data)
	if err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}

	return m, nil
}

// Persister keeps named models in one directory with a single codec.
type Persister struct {
	dir   string
	codec Codec
}

// NewPersister creates a persister writing to dir with codec.
func NewPersister(dir string, codec Codec) *Persister {
	return &Persister{
		dir:   dir,
		codec: codec,
	}
}

// Path returns the file used for the named model.
func (p *Persister) Path(name string) string {
	return filepath.Join(p.dir, name+p.codec.Extension())
}

// Save writes m under name.
func (p *Persister) Save(name string, m *model.Model) error {
	return save(p.Path(name), p.codec, m)
}

// Load reads the model saved under name.
func (p *Persister) Load(name string) (*model.Model, error) {
	return load(p.Path(name), p.codec)
}
