package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbuffer/internal/models"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 40*time.Minute, cfg.MinDuration)
	assert.Equal(t, time.Hour, cfg.PreWindow)
	assert.Equal(t, 30*time.Minute, cfg.PostWindow)
	assert.Equal(t, time.Hour, cfg.ScanLookback)
	assert.Equal(t, 90*24*time.Hour, cfg.ScanLookahead)
	assert.Equal(t, models.ColorTomato, cfg.PreColor)
	assert.Equal(t, models.ColorGrape, cfg.PostColor)
	assert.Equal(t, "@every 1m", cfg.Schedule)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calbuffer.yaml")
	data := `
calendar_id: team@example.com
allowed_organizers:
  - alice@example.com
  - bob@example.com
min_duration: 45m
post_color: "5"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "team@example.com", cfg.CalendarID)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, cfg.AllowedOrganizers)
	assert.Equal(t, 45*time.Minute, cfg.MinDuration)
	assert.Equal(t, models.ColorBanana, cfg.PostColor)
	// untouched fields fall back to defaults
	assert.Equal(t, models.ColorTomato, cfg.PreColor)
	assert.Equal(t, time.Hour, cfg.PreWindow)
	assert.Equal(t, BackendGoogle, cfg.Backend)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calbuffer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_duration: [\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calbuffer.yaml")
	cfg := DefaultConfig()
	cfg.AllowedOrganizers = []string{"alice@example.com"}
	cfg.ScanLookahead = 30 * 24 * time.Hour

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveErrors(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CALBUFFER_BACKEND":            "caldav",
		"ALLOWED_ORGANIZERS":           " alice@example.com, ,bob@example.com ",
		"ICLOUD_USERNAME":              "me@icloud.com",
		"ICLOUD_APP_SPECIFIC_PASSWORD": "secret",
		"ICLOUD_CALENDAR_NAME":         "Work",
		"STATE_BACKEND":                "file",
		"LOG_LEVEL":                    "debug",
		"METRICS_ADDR":                 ":9090",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, BackendCalDAV, cfg.Backend)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, cfg.AllowedOrganizers)
	assert.Equal(t, "me@icloud.com", cfg.CalDAV.Username)
	assert.Equal(t, "secret", cfg.CalDAV.Password)
	assert.Equal(t, "Work", cfg.CalDAV.CalendarName)
	assert.Equal(t, "file", cfg.StateBackend)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	// unset variables keep existing values
	assert.Equal(t, "primary", cfg.CalendarID)
	assert.Equal(t, "default", cfg.Google.Account)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "outlook" }},
		{name: "empty calendar id", mutate: func(c *Config) { c.CalendarID = "" }},
		{name: "caldav without calendar name", mutate: func(c *Config) { c.Backend = BackendCalDAV }},
		{name: "zero min duration", mutate: func(c *Config) { c.MinDuration = 0 }},
		{name: "negative pre window", mutate: func(c *Config) { c.PreWindow = -time.Minute }},
		{name: "negative lookahead", mutate: func(c *Config) { c.ScanLookahead = -time.Hour }},
		{name: "bad pre color", mutate: func(c *Config) { c.PreColor = "12" }},
		{name: "bad post color", mutate: func(c *Config) { c.PostColor = "red" }},
		{name: "bad schedule", mutate: func(c *Config) { c.Schedule = "every minute" }},
		{name: "bad state backend", mutate: func(c *Config) { c.StateBackend = "sqlite" }},
		{name: "empty state path", mutate: func(c *Config) { c.StatePath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestNormalizeFileStatePath(t *testing.T) {
	cfg := &Config{StateBackend: "file"}
	cfg.Normalize()
	assert.Equal(t, "calbuffer-state.json", cfg.StatePath)
}

func TestStatePathFollowsBackendFromEnv(t *testing.T) {
	dir := t.TempDir()
	env := map[string]string{"STATE_BACKEND": "file"}
	getenv := func(k string) string { return env[k] }

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.ApplyEnv(getenv)
	cfg.Normalize()
	assert.Equal(t, "calbuffer-state.json", cfg.StatePath)

	env["STATE_PATH"] = "/var/lib/calbuffer/state.json"
	cfg, err = Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.ApplyEnv(getenv)
	cfg.Normalize()
	assert.Equal(t, "/var/lib/calbuffer/state.json", cfg.StatePath)
}

func TestExplicitStatePathIsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calbuffer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state_path: custom.db\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.ApplyEnv(func(k string) string {
		if k == "STATE_BACKEND" {
			return "file"
		}
		return ""
	})
	cfg.Normalize()
	assert.Equal(t, "custom.db", cfg.StatePath)
}

func TestSaveOmitsDerivedStatePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calbuffer.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "state_path")
}
