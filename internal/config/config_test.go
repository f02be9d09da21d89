package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/timezone", cfg.TimezoneFile)
	assert.Equal(t, 200*time.Millisecond, cfg.RebuildDelay())
	assert.Equal(t, time.Duration(0), cfg.WatchDebounce())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
timezone_file: ""
timezone: Europe/Berlin
rebuild_delay_ms: -5
watch_debounce_ms: 50
log_level: chatty
ics:
  - url: https://example.com/a.ics
    name: Work
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.TimezoneFile)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, 200, cfg.RebuildDelayMS)
	assert.Equal(t, 50*time.Millisecond, cfg.WatchDebounce())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 7, cfg.HorizonDays)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, "0 0 * * *", cfg.RolloverCron)
	require.Len(t, cfg.ICS, 1)
	assert.Equal(t, "Work", cfg.ICS[0].SourceID())
}

func TestLoadListen(t *testing.T) {
	dir := t.TempDir()

	disabled := filepath.Join(dir, "disabled.yaml")
	require.NoError(t, os.WriteFile(disabled, []byte("listen: \"\"\n"), 0o600))
	cfg, err := Load(disabled)
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Listen)

	omitted := filepath.Join(dir, "omitted.yaml")
	require.NoError(t, os.WriteFile(omitted, []byte("horizon_days: 3\n"), 0o600))
	cfg, err = Load(omitted)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8087", cfg.Listen)
}

func TestNormalizeLogLevelIgnoresCase(t *testing.T) {
	tests := map[string]string{
		"WARN":    "warn",
		" Debug ": "debug",
		"warning": "warn",
		"ERROR":   "error",
		"verbose": "info",
		"":        "info",
	}
	for in, want := range tests {
		cfg := DefaultConfig()
		cfg.LogLevel = in
		cfg.Normalize()
		assert.Equal(t, want, cfg.LogLevel, "log_level %q", in)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.HorizonDays = 14
	cfg.BasicAuth = &BasicAuthConfig{Username: "me", Password: "secret"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 14, loaded.HorizonDays)
	require.NotNil(t, loaded.BasicAuth)
	assert.Equal(t, "me", loaded.BasicAuth.Username)
}

func TestSaveValidatesArguments(t *testing.T) {
	require.Error(t, Save("", DefaultConfig()))
	require.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
	_, err := Load("")
	require.Error(t, err)
}

func TestSourceIDFallbacks(t *testing.T) {
	assert.Equal(t, "id", ICSConfig{ID: "id", Name: "n", URL: "u"}.SourceID())
	assert.Equal(t, "n", ICSConfig{Name: "n", URL: "u"}.SourceID())
	assert.Equal(t, "u", ICSConfig{URL: "u"}.SourceID())
}
