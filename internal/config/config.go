package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen        = "127.0.0.1:8087"
	defaultTimezoneFile  = "/etc/timezone"
	defaultRebuildDelay  = 200
	defaultHorizonDays   = 7
	defaultRefreshCron   = "*/15 * * * *"
	defaultRolloverCron  = "0 0 * * *"
	defaultLogLevel      = "info"
	defaultCacheDirChild = "clockcal/ics"
)

// ICSConfig describes a single calendar source.
type ICSConfig struct {
	// URL is an http(s) ICS endpoint or a file:// path.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API. An explicit empty
	// value disables it; an omitted key keeps the default.
	Listen string `yaml:"listen" json:"listen"`

	// TimezoneFile is watched for the system timezone identifier. Empty
	// means Timezone is used as a fixed value.
	TimezoneFile string `yaml:"timezone_file" json:"timezone_file"`

	// Timezone is the IANA identifier used when TimezoneFile is empty.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RebuildDelayMS is the range planner's coalescing window.
	RebuildDelayMS int `yaml:"rebuild_delay_ms" json:"rebuild_delay_ms"`

	// WatchDebounceMS coalesces bursts of file events. Zero reloads on every event.
	WatchDebounceMS int `yaml:"watch_debounce_ms" json:"watch_debounce_ms"`

	// HorizonDays is the number of days the planner range covers.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// RefreshCron is the cron schedule for re-fetching calendar sources.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// RolloverCron is the cron schedule that moves the range to the new day.
	RolloverCron string `yaml:"rollover" json:"rollover"`

	// CacheDir stores HTTP-cached ICS bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// ICS is the list of calendar sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		TimezoneFile:    defaultTimezoneFile,
		RebuildDelayMS:  defaultRebuildDelay,
		WatchDebounceMS: 0,
		HorizonDays:     defaultHorizonDays,
		RefreshCron:     defaultRefreshCron,
		RolloverCron:    defaultRolloverCron,
		CacheDir:        defaultCacheDir(),
		LogLevel:        defaultLogLevel,
		ICS:             []ICSConfig{},
	}
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, defaultCacheDirChild)
}

// Normalize fills in missing or invalid values so partially-filled configs
// still behave.
func (c *Config) Normalize() {
	if c.RebuildDelayMS <= 0 {
		c.RebuildDelayMS = defaultRebuildDelay
	}
	if c.WatchDebounceMS < 0 {
		c.WatchDebounceMS = 0
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.RolloverCron == "" {
		c.RolloverCron = defaultRolloverCron
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir()
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	case "warning":
		c.LogLevel = "warn"
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// RebuildDelay returns RebuildDelayMS as a duration.
func (c *Config) RebuildDelay() time.Duration {
	return time.Duration(c.RebuildDelayMS) * time.Millisecond
}

// WatchDebounce returns WatchDebounceMS as a duration.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMS) * time.Millisecond
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions (creating the parent directory) and returned.
//   - Otherwise the YAML is read, unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory with 0700.
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

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".clockcal-config-*.tmp")
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

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
