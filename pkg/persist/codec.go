// Package persist stores models on disk as nested-table documents in JSON, YAML or
// gob form.
package persist

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	yamlExtension = ".yaml"
	ymlExtension  = ".yml"
	gobExtension  = ".gob"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

const yamlIndent = 2

// ErrUnknownFormat is returned when no codec matches a file extension.
var ErrUnknownFormat = errors.New("unknown model file format")

// Codec defines how a model document is serialized and deserialized.
type Codec interface {
	// Encode writes the document to the writer.
	Encode(w io.Writer, doc *model.Document) error
	// Decode reads a document from the reader.
	Decode(r io.Reader) (*model.Document, error)
	// Extension returns the file extension for this codec (e.g., ".json", ".gob").
	Extension() string
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
// Decoded documents are validated against the model schema.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, doc *model.Document) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(doc)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader) (*model.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("json read: %w", err)
	}

	err = model.ValidateJSON(data)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{}

	err = json.Unmarshal(data, doc)
	if err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}

	return doc, nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// YAMLCodec implements Codec using YAML encoding.
type YAMLCodec struct{}

// NewYAMLCodec creates a YAML codec.
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Encode implements Codec.Encode using YAML encoding.
func (c *YAMLCodec) Encode(w io.Writer, doc *model.Document) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(yamlIndent)

	err := encoder.Encode(doc)
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using YAML decoding.
func (c *YAMLCodec) Decode(r io.Reader) (*model.Document, error) {
	doc := &model.Document{}

	err := yaml.NewDecoder(r).Decode(doc)
	if err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}

	return doc, nil
}

// Extension implements Codec.Extension for YAML files.
func (c *YAMLCodec) Extension() string {
	return yamlExtension
}

// GobCodec implements Codec using gob encoding. The gob stream carries the binary
// model encoding, so variant cells holding zero values survive the round trip.
type GobCodec struct{}

// NewGobCodec creates a gob codec.
func NewGobCodec() *GobCodec {
	return &GobCodec{}
}

// Encode implements Codec.Encode using gob encoding.
func (c *GobCodec) Encode(w io.Writer, doc *model.Document) error {
	m, err := model.FromDocument(doc)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	raw, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	err = gob.NewEncoder(w).Encode(raw)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using gob decoding.
func (c *GobCodec) Decode(r io.Reader) (*model.Document, error) {
	var raw []byte

	err := gob.NewDecoder(r).Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}

	m := &model.Model{}

	err = m.UnmarshalBinary(raw)
	if err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}

	return m.Document(), nil
}

// Extension implements Codec.Extension for gob files.
func (c *GobCodec) Extension() string {
	return gobExtension
}

// CodecFor picks the codec matching the extension of path.
func CodecFor(path string) (Codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case jsonExtension:
		return NewJSONCodec(), nil
	case yamlExtension, ymlExtension:
		return NewYAMLCodec(), nil
	case gobExtension:
		return NewGobCodec(), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// Marshal encodes m with codec.
func Marshal(codec Codec, m *model.Model) ([]byte, error) {
	var buf bytes.Buffer

	err := codec.Encode(&buf, m.Document())
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes a model written by Marshal.
func Unmarshal(codec Codec, data []byte) (*model.Model, error) {
	doc, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return model.FromDocument(doc)
}
