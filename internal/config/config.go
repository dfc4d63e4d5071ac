// Package config loads the calbuffer configuration from an optional YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"calbuffer/internal/models"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Calendar backends.
const (
	BackendGoogle = "google"
	BackendCalDAV = "caldav"
)

// GoogleConfig holds the Google Calendar API credentials.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	// Account selects the token file token-<account>.json.
	Account string `yaml:"account"`
}

// CalDAVConfig holds the CalDAV (iCloud) connection settings.
type CalDAVConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	CalendarName string `yaml:"calendar_name"`
}

// Config is the top-level application configuration.
type Config struct {
	// Backend is the calendar store: "google" or "caldav".
	Backend string `yaml:"backend"`

	// CalendarID is the Google calendar to maintain ("primary" for the
	// account's main calendar). Ignored by the caldav backend, which uses
	// CalDAV.CalendarName.
	CalendarID string `yaml:"calendar_id"`

	// AllowedOrganizers lists the creators whose meetings get buffers.
	AllowedOrganizers []string `yaml:"allowed_organizers"`

	MinDuration   time.Duration `yaml:"min_duration"`
	PreWindow     time.Duration `yaml:"pre_window"`
	PostWindow    time.Duration `yaml:"post_window"`
	ScanLookback  time.Duration `yaml:"scan_lookback"`
	ScanLookahead time.Duration `yaml:"scan_lookahead"`

	PreColor  models.ColorID `yaml:"pre_color"`
	PostColor models.ColorID `yaml:"post_color"`

	// Schedule is a cron spec; the default runs every minute.
	Schedule string `yaml:"schedule"`

	// StateBackend is "bolt" or "file".
	StateBackend string `yaml:"state_backend"`
	// StatePath defaults per backend when unset.
	StatePath string `yaml:"state_path,omitempty"`

	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	LogLevel string `yaml:"log_level"`

	Google GoogleConfig `yaml:"google"`
	CalDAV CalDAVConfig `yaml:"caldav"`

	// derivedStatePath is set while StatePath holds the backend default
	// rather than a value the user chose.
	derivedStatePath bool
}

// Defaults.
const (
	DefaultMinDuration   = 40 * time.Minute
	DefaultPreWindow     = 60 * time.Minute
	DefaultPostWindow    = 30 * time.Minute
	DefaultScanLookback  = 60 * time.Minute
	DefaultScanLookahead = 90 * 24 * time.Hour
	DefaultSchedule      = "@every 1m"
	DefaultCalDAVURL     = "https://caldav.icloud.com/"
)

// DefaultStatePath returns the state location used when none is configured.
func DefaultStatePath(backend string) string {
	if backend == "file" {
		return "calbuffer-state.json"
	}
	return "calbuffer.db"
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend:           BackendGoogle,
		CalendarID:        "primary",
		AllowedOrganizers: []string{},
		MinDuration:       DefaultMinDuration,
		PreWindow:         DefaultPreWindow,
		PostWindow:        DefaultPostWindow,
		ScanLookback:      DefaultScanLookback,
		ScanLookahead:     DefaultScanLookahead,
		PreColor:          models.ColorTomato,
		PostColor:         models.ColorGrape,
		Schedule:          DefaultSchedule,
		StateBackend:      "bolt",
		StatePath:         DefaultStatePath("bolt"),
		derivedStatePath:  true,
		LogLevel:          "info",
		Google:            GoogleConfig{Account: "default"},
		CalDAV:            CalDAVConfig{Endpoint: DefaultCalDAVURL},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.CalendarID == "" {
		c.CalendarID = d.CalendarID
	}
	if c.AllowedOrganizers == nil {
		c.AllowedOrganizers = []string{}
	}
	if c.MinDuration == 0 {
		c.MinDuration = d.MinDuration
	}
	if c.PreWindow == 0 {
		c.PreWindow = d.PreWindow
	}
	if c.PostWindow == 0 {
		c.PostWindow = d.PostWindow
	}
	if c.ScanLookback == 0 {
		c.ScanLookback = d.ScanLookback
	}
	if c.ScanLookahead == 0 {
		c.ScanLookahead = d.ScanLookahead
	}
	if c.PreColor == "" {
		c.PreColor = d.PreColor
	}
	if c.PostColor == "" {
		c.PostColor = d.PostColor
	}
	if c.Schedule == "" {
		c.Schedule = d.Schedule
	}
	if c.StateBackend == "" {
		c.StateBackend = d.StateBackend
	}
	if c.StatePath == "" || c.derivedStatePath {
		c.StatePath = DefaultStatePath(c.StateBackend)
		c.derivedStatePath = true
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Google.Account == "" {
		c.Google.Account = d.Google.Account
	}
	if c.CalDAV.Endpoint == "" {
		c.CalDAV.Endpoint = d.CalDAV.Endpoint
	}
}

// ApplyEnv overrides fields from environment variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Backend, "CALBUFFER_BACKEND")
	set(&c.CalendarID, "CALBUFFER_CALENDAR_ID")
	set(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	set(&c.Google.Account, "GOOGLE_ACCOUNT")
	set(&c.CalDAV.Endpoint, "CALDAV_ENDPOINT")
	set(&c.CalDAV.Username, "ICLOUD_USERNAME")
	set(&c.CalDAV.Password, "ICLOUD_APP_SPECIFIC_PASSWORD")
	set(&c.CalDAV.CalendarName, "ICLOUD_CALENDAR_NAME")
	set(&c.StateBackend, "STATE_BACKEND")
	if v := strings.TrimSpace(getenv("STATE_PATH")); v != "" {
		c.StatePath = v
		c.derivedStatePath = false
	}
	set(&c.Schedule, "SCHEDULE")
	set(&c.MetricsAddr, "METRICS_ADDR")
	set(&c.LogLevel, "LOG_LEVEL")

	if v := getenv("ALLOWED_ORGANIZERS"); strings.TrimSpace(v) != "" {
		var orgs []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				orgs = append(orgs, o)
			}
		}
		c.AllowedOrganizers = orgs
	}
}

// Validate reports the first problem found, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoogle:
		if c.CalendarID == "" {
			return fmt.Errorf("%w: calendar_id is required for the google backend", ErrInvalid)
		}
	case BackendCalDAV:
		if c.CalDAV.CalendarName == "" {
			return fmt.Errorf("%w: caldav.calendar_name is required for the caldav backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}

	for name, d := range map[string]time.Duration{
		"min_duration":   c.MinDuration,
		"pre_window":     c.PreWindow,
		"post_window":    c.PostWindow,
		"scan_lookback":  c.ScanLookback,
		"scan_lookahead": c.ScanLookahead,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, d)
		}
	}

	if !c.PreColor.Valid() {
		return fmt.Errorf("%w: pre_color %q is not a color id between 1 and 11", ErrInvalid, c.PreColor)
	}
	if !c.PostColor.Valid() {
		return fmt.Errorf("%w: post_color %q is not a color id between 1 and 11", ErrInvalid, c.PostColor)
	}

	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("%w: schedule %q: %v", ErrInvalid, c.Schedule, err)
	}

	switch c.StateBackend {
	case "bolt", "file":
	default:
		return fmt.Errorf("%w: unknown state_backend %q", ErrInvalid, c.StateBackend)
	}
	if c.StatePath == "" {
		return fmt.Errorf("%w: state_path is required", ErrInvalid)
	}
	return nil
}

// Load reads the YAML file at path. A missing file yields the defaults.
// The result is normalized but not validated, so callers can apply
// environment overrides first.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	out := *cfg
	if out.derivedStatePath {
		out.StatePath = ""
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calbuffer-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
