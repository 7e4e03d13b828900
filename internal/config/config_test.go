package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keilerkonzept/live-score-monitor/internal/animator"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost:6000", cfg.Addr)
	assert.Equal(t, "sc19-visuals", cfg.AuthKey)
	assert.Equal(t, DefaultLogs, cfg.Logs)
	assert.Equal(t, animator.DefaultBounds, cfg.Bounds())
	assert.Equal(t, time.Millisecond, cfg.FramePause)
	assert.True(t, cfg.AltScreen)

	opts := cfg.ParseOptions()
	assert.Equal(t, 19, opts.SkipRows)
	assert.Equal(t, 0, opts.TimeCol)
	assert.Equal(t, 4, opts.ScoreCol)
	assert.Equal(t, 2, opts.ScoreToken)
	assert.Equal(t, ',', opts.Delimiter)
	assert.Equal(t, 1, opts.Stride)

	files, err := cfg.LogFiles()
	require.NoError(t, err)
	assert.Equal(t, DefaultLogs, files)
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--addr", "127.0.0.1:7000",
		"--logs", "a_log,b_log",
		"--y-max", "500",
		"--delimiter", `\t`,
		"--receive-timeout", "30s",
		"--stride", "3",
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, []string{"a_log", "b_log"}, cfg.Logs)
	assert.Equal(t, 500.0, cfg.YMax)
	assert.Equal(t, '\t', cfg.ParseOptions().Delimiter)
	assert.Equal(t, 30*time.Second, cfg.ChannelOptions().ReceiveTimeout)
	assert.Equal(t, 3, cfg.ParseOptions().Stride)
}

func TestLoadEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x-max: 900\nauthkey: from-file\n"), 0o644))

	t.Setenv("MONITOR_AUTHKEY", "from-env")
	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, 900.0, cfg.XMax)
	assert.Equal(t, "from-env", cfg.AuthKey)

	cfg, err = Load([]string{"--config", path, "--authkey", "from-flag"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.AuthKey)
}

func TestLoadLogPath(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_log", "a_log"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	cfg, err := Load([]string{"--log-path", dir})
	require.NoError(t, err)

	files, err := cfg.LogFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a_log"), filepath.Join(dir, "b_log")}, files)
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.Equal(t, pflag.ErrHelp, err)
	assert.Contains(t, Usage(), "--log-path")
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
	}{
		{"empty x range", []string{"--x-min", "10", "--x-max", "10"}},
		{"inverted y range", []string{"--y-min", "5", "--y-max", "1"}},
		{"bad port", []string{"--addr", "localhost:port"}},
		{"port too large", []string{"--addr", "localhost:70000"}},
		{"missing port", []string{"--addr", "localhost"}},
		{"empty authkey", []string{"--authkey", ""}},
		{"long delimiter", []string{"--delimiter", ",,"}},
		{"negative skip", []string{"--skip-rows", "-1"}},
		{"zero stride", []string{"--stride", "0"}},
		{"headless without dir", []string{"--headless"}},
		{"bad level", []string{"--log-level", "loud"}},
		{"no logs", []string{"--logs", ""}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.args)
			assert.Error(t, err)
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg, err := Load([]string{"--stats-window", "2", "--traffic-window", "10ms"})
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.StatsWindow)
	assert.Equal(t, time.Second, cfg.TrafficWindow)
}
