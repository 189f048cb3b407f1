package reporting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

func TestFileWriterDefaultName(t *testing.T) {
	dir := t.TempDir()
	r := newTestReport(t)
	r.Name = "Perf Report: OTLP"

	w := NewFileWriter(&FileWriterConfig{Directory: dir})
	require.NoError(t, w.Write(r, []byte(`{"ok":true}`), telemetry.NopLogger()))

	payload, err := os.ReadFile(filepath.Join(dir, "perf-report--otlp.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(payload))
}

func TestFileWriterExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.md")

	w := NewFileWriter(&FileWriterConfig{Path: path})
	require.NoError(t, w.Write(newTestReport(t), []byte("# hi"), telemetry.NopLogger()))

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# hi", string(payload))
}

func TestFileWriterSkipsEmptyPayload(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(&FileWriterConfig{Directory: dir})
	require.NoError(t, w.Write(newTestReport(t), nil, telemetry.NopLogger()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConsoleWriterUnknownLevel(t *testing.T) {
	w := NewConsoleWriter(&ConsoleWriterConfig{Level: "loud"})
	err := w.Write(newTestReport(t), []byte("x"), telemetry.NopLogger())
	assert.Error(t, err)
}
