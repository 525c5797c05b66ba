package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: FormatJSON}, &buf)
	require.NoError(t, err)

	cl := Component(l, "session")
	cl.Debug().Str("sid", "S1").Msg("Переход состояния")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "session", entry["component"])
	assert.Equal(t, "S1", entry["sid"])
	assert.Equal(t, "Переход состояния", entry["message"])
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "WARN", Format: FormatJSON}, &buf)
	require.NoError(t, err)

	l.Info().Msg("скрыто")
	assert.Zero(t, buf.Len())
	l.Warn().Msg("видно")
	assert.Contains(t, buf.String(), "видно")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jingle.log")
	var buf bytes.Buffer
	l, err := New(Config{Format: FormatConsole, File: FileConfig{Enabled: true, Path: path, MaxSizeMB: 1}}, &buf)
	require.NoError(t, err)

	l.Info().Msg("в файл")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "в файл")
	assert.Contains(t, buf.String(), "в файл")
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"}, nil)
	assert.Error(t, err)

	_, err = New(Config{Format: "xml"}, nil)
	assert.Error(t, err)

	_, err = New(Config{File: FileConfig{Enabled: true}}, nil)
	assert.Error(t, err)
}
