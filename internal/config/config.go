// Package config provides production-grade configuration management for
// bookingengine. It supports JSON-based configuration loading with safe
// defaults, generalized from GoSessionEngine's config package: session-pool
// sizing knobs become booking-domain site identifiers and timer windows.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "time/tzdata" // embed IANA zone data so Asia/Jakarta resolves without a system tzdb
)

// SiteConfig bundles the upstream identifiers for one booking site.
type SiteConfig struct {
	IDSite int `json:"id_site"`
	Sector int `json:"sector"`
	Slug   string `json:"slug"` // path segment under /booking/site/<slug>
}

// Config holds all tunable parameters for the scheduling engine. The
// struct is loaded once at startup and then shared across goroutines as a
// read-only value, making it inherently thread-safe after initialization.
type Config struct {
	// BaseURL is the upstream booking backend's scheme+host, e.g.
	// "https://bromotenggersemeru.id".
	BaseURL string `json:"base_url"`

	// Timezone is the IANA zone all Job.ExecAt values are interpreted in.
	Timezone string `json:"timezone"`

	// StorePath is the JSON document backing the job store.
	StorePath string `json:"store_path"`

	// RequestTimeout is the end-to-end timeout for a single HTTP request.
	RequestTimeout time.Duration `json:"request_timeout"`

	// SubmissionTimeout bounds one whole booking attempt, including its
	// retry envelope (spec: "submission 60s").
	SubmissionTimeout time.Duration `json:"submission_timeout"`

	// MaxIdleConns/MaxIdleConnsPerHost/MaxConnsPerHost tune the shared
	// HTTP transport's connection pool.
	MaxIdleConns        int `json:"max_idle_conns"`
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`
	MaxConnsPerHost     int `json:"max_conns_per_host"`

	// ProxyFile is an optional newline-delimited proxy list; empty runs
	// direct.
	ProxyFile string `json:"proxy_file"`

	// Bromo/Semeru carry the per-site upstream identifiers (spec §6).
	Bromo  SiteConfig `json:"bromo"`
	Semeru SiteConfig `json:"semeru"`

	// Timer windows (spec §6 "Configuration").
	PrewarmBefore    time.Duration `json:"prewarm_before"`     // 2min
	PollInterval     time.Duration `json:"poll_interval"`      // 60s
	PollMaxDuration  time.Duration `json:"poll_max_duration"`  // 180min
	ViewBefore       time.Duration `json:"view_before"`        // 5min
	ViewAfter        time.Duration `json:"view_after"`         // 15min
	ViewJitterBase   time.Duration `json:"view_jitter_base"`   // 3s
	ViewJitterCap    time.Duration `json:"view_jitter_cap"`    // 7s
	RetryAttempts    int           `json:"retry_attempts"`     // 3
	RetryJitterBase  time.Duration `json:"retry_jitter_base"`  // 100ms
	RetryJitterCap   time.Duration `json:"retry_jitter_cap"`   // 1s
	PollNotifyEvery  int           `json:"poll_notify_every"`  // 5 ticks

	// MaxReminderMinutes bounds Job.ReminderMinutes (spec: 0..120).
	MaxReminderMinutes int `json:"max_reminder_minutes"`

	// EnablePromotion makes jobs of the same user and ci_session share one
	// warmed session (default off). It does not start another job early.
	EnablePromotion bool `json:"enable_promotion"`

	// LogFile, when non-empty, routes application logs through a rotating
	// file writer instead of stderr (see internal/applog).
	LogFile        string `json:"log_file"`
	LogMaxSizeMB   int    `json:"log_max_size_mb"`
	LogMaxBackups  int    `json:"log_max_backups"`
	LogMaxAgeDays  int    `json:"log_max_age_days"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a
// Config. Unknown fields are rejected to catch typos in config files
// early.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return cfg, nil
}

// DefaultConfig returns a *Config pre-filled with the values spec.md §6
// names. Callers are free to mutate the returned struct; each call
// returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:             "https://bromotenggersemeru.id",
		Timezone:            "Asia/Jakarta",
		StorePath:           "jobs.json",
		RequestTimeout:      30 * time.Second,
		SubmissionTimeout:   60 * time.Second,
		MaxIdleConns:        500,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		Bromo:               SiteConfig{IDSite: 4, Sector: 1, Slug: "bromo"},
		Semeru:              SiteConfig{IDSite: 8, Sector: 3, Slug: "semeru"},
		PrewarmBefore:       2 * time.Minute,
		PollInterval:        60 * time.Second,
		PollMaxDuration:     180 * time.Minute,
		ViewBefore:          5 * time.Minute,
		ViewAfter:           15 * time.Minute,
		ViewJitterBase:      3 * time.Second,
		ViewJitterCap:       7 * time.Second,
		RetryAttempts:       3,
		RetryJitterBase:     100 * time.Millisecond,
		RetryJitterCap:      1 * time.Second,
		PollNotifyEvery:     5,
		MaxReminderMinutes:  120,
		EnablePromotion:     false,
		LogMaxSizeMB:        100,
		LogMaxBackups:       5,
		LogMaxAgeDays:       28,
	}
}

// Location loads the time.Location named by cfg.Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
