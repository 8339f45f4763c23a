package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeInput writes a CSV with x = 0..9, y = 2x+1 and a text group column.
func writeInput(t *testing.T) string {
	t.Helper()

	var b strings.Builder

	b.WriteString("x,y,g\n")

	for i := range 10 {
		fmt.Fprintf(&b, "%d,%d,%s\n", i, 2*i+1, []string{"a", "b"}[i%2])
	}

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))

	return path
}

// writeConfig writes a minimal config file so tests never pick up a parstat.yaml
// from the working directory.
func writeConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "parstat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600))

	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", writeConfig(t), "--no-color", "-q"}, args...))

	err := cmd.Execute()

	return stdout.String(), err
}
