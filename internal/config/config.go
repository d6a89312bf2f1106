package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS feed whose events feed the report.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`

	// Team and Project are used for events that carry no X-TEAM /
	// X-PROJECT property of their own.
	Team    string `yaml:"team" json:"team"`
	Project string `yaml:"project" json:"project"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP surface.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CaptureConfig tunes the headless Chromium snapshot.
type CaptureConfig struct {
	// Width and Height are the browser viewport in CSS pixels.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// Scale is the device pixel ratio of the snapshot.
	Scale float64 `yaml:"scale" json:"scale"`

	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`

	// TableWidth is the CSS pixel width of the rendered report table.
	TableWidth int `yaml:"table_width" json:"table_width"`

	// ChromePath overrides the browser binary; empty lets chromedp search.
	ChromePath string `yaml:"chrome_path" json:"chrome_path"`
}

// FontConfig points at TrueType files for the PDF header. Leave empty to use
// the embedded font, which has no Hangul or CJK glyphs.
type FontConfig struct {
	Regular string `yaml:"regular,omitempty" json:"regular,omitempty"`
	Bold    string `yaml:"bold,omitempty" json:"bold,omitempty"`
}

// Timeout returns TimeoutSec as a duration.
func (c CaptureConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the serve command.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone event times are shown in (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale is the BCP 47 tag used for date formatting (e.g. "en-US").
	Locale string `yaml:"locale" json:"locale"`

	// OutputDir is where the export command writes the report.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used by the server to re-fetch ICS feeds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of future days pulled from ICS feeds.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// BackfillDays is the number of past days pulled from ICS feeds.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`

	Font FontConfig `yaml:"font,omitempty" json:"font,omitempty"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{ICS: []ICSConfig{}}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.CacheDir == "" {
		c.CacheDir = "./cache/ics-cache"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 30
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = 1024
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = 768
	}
	if c.Capture.Scale <= 0 {
		c.Capture.Scale = 2
	}
	if c.Capture.TableWidth <= 0 {
		c.Capture.TableWidth = 960
	}
	if c.Capture.TimeoutSec <= 0 {
		c.Capture.TimeoutSec = 30
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads the YAML file at path and fills defaults. A missing file is
// created with the defaults (mode 0600) so the first run leaves an editable
// config behind; if that write fails the defaults are still returned along
// with the error.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, goerr.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg := DefaultConfig()
		return cfg, Save(path, cfg)
	case err != nil:
		return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to decode config", goerr.V("path", path))
	}
	cfg.Normalize()
	return cfg, nil
}

// Save normalizes cfg and replaces the file at path with its YAML form. The
// file is swapped in by rename, so readers see either the old or the new
// config, never a partial one.
func Save(path string, cfg *Config) error {
	if path == "" {
		return goerr.New("config path is empty")
	}
	if cfg == nil {
		return goerr.New("config is nil")
	}
	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return goerr.Wrap(err, "failed to encode config")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return goerr.Wrap(err, "failed to create config dir", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, ".calreport-config-*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp config", goerr.V("dir", dir))
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(tmp.Name(), 0o600)
	}
	if werr != nil {
		return goerr.Wrap(werr, "failed to write config", goerr.V("path", path))
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return goerr.Wrap(err, "failed to replace config", goerr.V("path", path))
	}
	return nil
}
