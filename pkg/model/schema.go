package model

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var documentSchema []byte

// ErrSchemaViolation is returned when a JSON document does not match the model schema.
var ErrSchemaViolation = errors.New("model document violates schema")

// ValidateJSON checks a JSON-encoded Document against the embedded schema.
func ValidateJSON(data []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(documentSchema)
	inputLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, inputLoader)
	if err != nil {
		return fmt.Errorf("validate model document: %w", err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}

	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
}
