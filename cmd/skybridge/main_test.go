package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/mbocsi/skybridge/config"
)

func loadWithArgs(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var (
		cfg     *config.Config
		loadErr error
	)
	cliApp := newCLI(func(c *cli.Context) error {
		cfg, loadErr = loadConfig(c)
		return nil
	})
	require.NoError(t, cliApp.Run(append([]string{"skybridge"}, args...)))
	return cfg, loadErr
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadWithArgs(t)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rosbridge:
  url: ws://file.local:9090
  retry_count: 7
log:
  level: debug
`), 0o644))

	cfg, err := loadWithArgs(t,
		"--config", path,
		"--url", "wss://flag.local:9443",
		"--retry-count", "0",
		"--http", "",
		"--mcp",
		"--log-format", "json",
	)
	require.NoError(t, err)

	assert.Equal(t, "wss://flag.local:9443", cfg.Rosbridge.URL)
	assert.Equal(t, 0, cfg.Rosbridge.RetryCount)
	assert.Equal(t, "", cfg.HTTP.Addr)
	assert.True(t, cfg.MCP.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_RejectsBadFlag(t *testing.T) {
	_, err := loadWithArgs(t, "--url", "http://not-a-socket:80")
	assert.ErrorContains(t, err, "invalid configuration")
}
