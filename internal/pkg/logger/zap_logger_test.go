package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileOnlyWritesJSONWithModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := Module(NewFileOnly(path), "rag")

	l.Info("turn completed")
	require.NoError(t, l.Sync())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	require.Equal(t, "turn completed", entry["message"])
	require.Equal(t, "rag", entry["module"])
	require.Equal(t, "INFO", entry["level"])
}

func TestFileOnlyWithoutPathIsNop(t *testing.T) {
	l := NewFileOnly("")
	l.Info("discarded")
}

func TestModuleAcceptsNil(t *testing.T) {
	require.NotNil(t, Module(nil, "x"))
}
