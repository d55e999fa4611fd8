package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.TargetHost)
	assert.Equal(t, 9222, cfg.TargetPort)
	assert.Equal(t, 9230, cfg.DynamicsPort)
	assert.Equal(t, 9231, cfg.EventsPort)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.False(t, cfg.LongPaths)
	assert.Empty(t, cfg.DumpDir)
	assert.Equal(t, "localhost:9222", cfg.TargetAddr())
	assert.Equal(t, 9230, cfg.Port(target.Dynamics))
	assert.Equal(t, 9231, cfg.Port(target.Events))
	assert.Equal(t, DefaultSettleDelay, cfg.Settle())
	require.NoError(t, cfg.Validate())
}

func TestConfigLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestConfigLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	content := `target_host = "192.168.1.100"
target_port = 9333
events_port = 9400
poll_interval = 2
long_paths = true
dump = "./scripts"
styleguide = "v19"`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.100", cfg.TargetHost)
	assert.Equal(t, 9333, cfg.TargetPort)
	assert.Equal(t, DefaultDynamicsPort, cfg.DynamicsPort, "unset keys keep defaults")
	assert.Equal(t, 9400, cfg.EventsPort)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.True(t, cfg.LongPaths)
	assert.Equal(t, "./scripts", cfg.DumpDir)
	assert.Equal(t, "v19", cfg.StyleguideVersion)
	require.NoError(t, cfg.Validate())
}

func TestConfigLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	content := "target_host: wincc.local\ndynamics_port: 9500\nverbose: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wincc.local", cfg.TargetHost)
	assert.Equal(t, 9500, cfg.DynamicsPort)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
}

func TestConfigLoadIntoKeepsBase(t *testing.T) {
	base := Default()
	base.PollInterval = time.Second
	base.PollSeconds = 0

	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`target_port = 9444`), 0644))

	cfg, err := LoadInto(base, path)
	require.NoError(t, err)
	assert.Equal(t, 9444, cfg.TargetPort)
	assert.Equal(t, time.Second, cfg.PollInterval, "base poll interval survives a file without one")

	require.NoError(t, os.WriteFile(path, []byte(`poll_interval = 3`), 0644))
	cfg, err = LoadInto(base, path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
}

func TestConfigLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("target_port = \"not a number"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty host", func(c *Config) { c.TargetHost = " " }, "target host"},
		{"bad target port", func(c *Config) { c.TargetPort = 0 }, "target port"},
		{"port too large", func(c *Config) { c.EventsPort = 70000 }, "events port"},
		{"same ports", func(c *Config) { c.EventsPort = c.DynamicsPort }, "must differ"},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, "poll interval"},
		{"bad styleguide", func(c *Config) { c.StyleguideVersion = "v3" }, "styleguide"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
