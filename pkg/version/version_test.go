package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/parstat/pkg/version"
)

func TestString(t *testing.T) {
	version.InitBinaryVersion()

	s := version.String()
	assert.Contains(t, s, "parstat ")
	assert.Contains(t, s, "commit: ")
	assert.NotEmpty(t, version.Version)
}
