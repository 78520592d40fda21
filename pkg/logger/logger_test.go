package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "gojotx.log")
	lg, closeFn, err := New(Config{Level: "warn", OutputFile: out})
	require.NoError(t, err)

	lg.Info("dropped")
	lg.Warn("kept", zap.String("path", "/tmp/db"))
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, "kept", entry["msg"])
	require.Equal(t, "gojotx", entry["service"])
	require.Equal(t, "/tmp/db", entry["path"])
	require.Contains(t, entry, "caller")
}

func TestNew_Console(t *testing.T) {
	out := filepath.Join(t.TempDir(), "console.log")
	lg, closeFn, err := New(Config{Format: "console", OutputFile: out})
	require.NoError(t, err)
	lg.Debug("hidden")
	lg.Info("shown")
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(raw), "INFO")
	require.Contains(t, string(raw), "shown")
	require.NotContains(t, string(raw), "hidden")
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"debug console", Config{Level: "debug", Format: "console"}, false},
		{"upper case format", Config{Format: "JSON"}, false},
		{"bad level", Config{Level: "loud"}, true},
		{"bad format", Config{Format: "xml"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNew_BadOutput(t *testing.T) {
	_, _, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}
