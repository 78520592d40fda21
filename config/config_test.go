package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gojotx.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, `
engine:
  path: /var/lib/gojotx/main
  memory: 128MB
  create: true
logger:
  level: debug
  format: console
telemetry:
  enabled: true
  prometheus_port: 9100
backup:
  rate_limit: 10MB
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	require.Equal(t, "/var/lib/gojotx/main", cfg.Engine.Path)
	require.True(t, cfg.Engine.Create)
	mem, err := cfg.MemoryBytes()
	require.NoError(t, err)
	require.Equal(t, int64(128_000_000), mem)

	require.Equal(t, "debug", cfg.Logger.Level)
	// unset keys keep their defaults
	require.Equal(t, "stderr", cfg.Logger.OutputFile)
	require.Equal(t, "gojotx", cfg.Telemetry.ServiceName)
	require.Equal(t, 9100, cfg.Telemetry.PrometheusPort)

	rate, err := cfg.BackupRate()
	require.NoError(t, err)
	require.Equal(t, int64(10_000_000), rate)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "engine: [not, a, map]"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `
engine:
  memory: 1KB
logger:
  level: loud
`))
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 3)
}

func TestRead_LeavesValidationToCaller(t *testing.T) {
	cfg, err := Read(writeConfig(t, "engine:\n  memory: 256MB\n"))
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	cfg.Engine.Path = "db"
	require.NoError(t, cfg.Validate())
}

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"64MB", 64_000_000, false},
		{"1GiB", 1 << 30, false},
		{"81920", 81920, false},
		{"79KiB", 0, true},
		{"lots", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMemory(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	cfg.Engine.Path = "db"
	require.NoError(t, cfg.Validate())
	rate, err := cfg.BackupRate()
	require.NoError(t, err)
	require.Zero(t, rate)
}
