// Package config loads and validates the application configuration from a
// YAML file with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/umputun/myfeed/pkg/domain"
)

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen    string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
		AuthToken string        `yaml:"auth_token" json:"auth_token" jsonschema:"description=Bearer token for protected endpoints, empty disables auth"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:myfeed.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Staging struct {
		Dir string `yaml:"dir" json:"dir" jsonschema:"default=./staging,description=Directory holding pending staging batches"`
	} `yaml:"staging" json:"staging" jsonschema:"description=Staging area configuration"`

	Schedule struct {
		SyncInterval time.Duration `yaml:"sync_interval" json:"sync_interval" jsonschema:"default=1h,description=Interval between scheduled sync runs"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Scheduler configuration"`

	Timeshift TimeshiftConfig `yaml:"timeshift" json:"timeshift" jsonschema:"description=Date remapping for pre-tracking records"`

	Curation struct {
		Denylist []string `yaml:"denylist" json:"denylist" jsonschema:"description=Ftypes excluded from score-ordered views"`
	} `yaml:"curation" json:"curation" jsonschema:"description=Ranked view curation"`

	Blur struct {
		File string `yaml:"file" json:"file" jsonschema:"description=Path to the blur rules file"`
	} `yaml:"blur" json:"blur" jsonschema:"description=Blur rule configuration"`

	Sources SourcesConfig `yaml:"sources" json:"sources" jsonschema:"description=Extraction sources"`
}

// TimeshiftConfig configures the timeshift window. All three dates must be
// set for timeshift to be active.
type TimeshiftConfig struct {
	Anchor string   `yaml:"anchor" json:"anchor" jsonschema:"description=Earliest date ever considered (ISO date)"`
	Start  string   `yaml:"start" json:"start" jsonschema:"description=Start of the remapping window (ISO date)"`
	End    string   `yaml:"end" json:"end" jsonschema:"description=End of the remapping window, e.g. account creation (ISO date)"`
	Types  []string `yaml:"types" json:"types" jsonschema:"description=Ftypes eligible for shifting"`
}

// Enabled reports whether a timeshift window is configured.
func (t TimeshiftConfig) Enabled() bool {
	return t.Anchor != "" && t.Start != "" && t.End != ""
}

// SourcesConfig lists the configured source adapters.
type SourcesConfig struct {
	RSS []struct {
		Name  string `yaml:"name" json:"name" jsonschema:"required,description=Source name, namespaces produced ids"`
		URL   string `yaml:"url" json:"url" jsonschema:"required,description=Feed URL"`
		Ftype string `yaml:"ftype" json:"ftype" jsonschema:"required,description=Category tag for produced items"`
	} `yaml:"rss" json:"rss" jsonschema:"description=RSS/Atom feed sources"`

	NDJSON []struct {
		Name string `yaml:"name" json:"name" jsonschema:"required,description=Source name"`
		Path string `yaml:"path" json:"path" jsonschema:"required,description=Path to an NDJSON export file"`
	} `yaml:"ndjson" json:"ndjson" jsonschema:"description=Pre-normalized NDJSON export sources"`

	UserAgent string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=myfeed/1.0,description=User agent for HTTP sources"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Fetch timeout per HTTP source"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	// set defaults for database
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:myfeed.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	// set defaults for staging and schedule
	if cfg.Staging.Dir == "" {
		cfg.Staging.Dir = "./staging"
	}
	if cfg.Schedule.SyncInterval == 0 {
		cfg.Schedule.SyncInterval = time.Hour
	}

	// set defaults for sources
	if cfg.Sources.UserAgent == "" {
		cfg.Sources.UserAgent = "myfeed/1.0"
	}
	if cfg.Sources.Timeout == 0 {
		cfg.Sources.Timeout = 30 * time.Second
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}
	if cfg.Schedule.SyncInterval < time.Minute {
		return fmt.Errorf("schedule.sync_interval must be at least 1 minute")
	}

	if cfg.Timeshift.Enabled() {
		anchor, start, end, err := cfg.Timeshift.Dates()
		if err != nil {
			return err
		}
		if !anchor.Before(end) {
			return fmt.Errorf("timeshift.anchor must precede timeshift.end")
		}
		if end.Before(start) {
			return fmt.Errorf("timeshift.start must not follow timeshift.end")
		}
		if len(cfg.Timeshift.Types) == 0 {
			return fmt.Errorf("timeshift.types must not be empty when timeshift is configured")
		}
	} else if cfg.Timeshift.Anchor != "" || cfg.Timeshift.Start != "" || cfg.Timeshift.End != "" {
		return fmt.Errorf("timeshift requires anchor, start and end to all be set")
	}

	for _, src := range cfg.Sources.RSS {
		if src.Name == "" || src.URL == "" || src.Ftype == "" {
			return fmt.Errorf("rss source requires name, url and ftype")
		}
	}
	for _, src := range cfg.Sources.NDJSON {
		if src.Name == "" || src.Path == "" {
			return fmt.Errorf("ndjson source requires name and path")
		}
	}
	return nil
}

// Dates parses the timeshift window dates.
func (t TimeshiftConfig) Dates() (anchor, start, end domain.Date, err error) {
	if anchor, err = domain.ParseDate(t.Anchor); err != nil {
		return anchor, start, end, fmt.Errorf("timeshift.anchor: %w", err)
	}
	if start, err = domain.ParseDate(t.Start); err != nil {
		return anchor, start, end, fmt.Errorf("timeshift.start: %w", err)
	}
	if end, err = domain.ParseDate(t.End); err != nil {
		return anchor, start, end, fmt.Errorf("timeshift.end: %w", err)
	}
	return anchor, start, end, nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetAuthToken returns the bearer token for protected endpoints
func (c *Config) GetAuthToken() string {
	return c.Server.AuthToken
}
