package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = "entrysync.yaml"

const startDateLayout = "2006-01-02"

// Config represents the top-level entrysync.yaml configuration.
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Partners  []PartnerConfig `yaml:"partners"`
	Database  DatabaseConfig  `yaml:"database"`
	Source    SourceConfig    `yaml:"source"`
	Transport TransportConfig `yaml:"transport"`
	Notify    NotifyConfig    `yaml:"notify"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// PipelineConfig controls a run.
type PipelineConfig struct {
	SystemStartDate string        `yaml:"system_start_date"` // "YYYY-MM-DD"; entries logged earlier are never exported
	MinLag          time.Duration `yaml:"min_lag"`
	Workers         int           `yaml:"workers"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	RunInterval     time.Duration `yaml:"run_interval"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	ArchiveDir      string        `yaml:"archive_dir,omitempty"`
	RunLogDir       string        `yaml:"run_log_dir,omitempty"`
}

// StartDate parses SystemStartDate.
func (p PipelineConfig) StartDate() (time.Time, error) {
	if p.SystemStartDate == "" {
		return time.Time{}, fmt.Errorf("system_start_date is not set")
	}
	t, err := time.Parse(startDateLayout, p.SystemStartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing system_start_date %q: %w", p.SystemStartDate, err)
	}
	return t, nil
}

// PartnerConfig describes one billing/EDI partner export.
type PartnerConfig struct {
	ID                 string   `yaml:"id"`
	TradingPartner     string   `yaml:"trading_partner"` // key in the sync ledger
	Country            string   `yaml:"country"`
	Form               string   `yaml:"form"`
	BrokerID           string   `yaml:"broker_id"`
	Format             string   `yaml:"format"` // fixed_width or xml
	IdentifierSystem   string   `yaml:"identifier_system"`
	Identifiers        []string `yaml:"identifiers"`
	ExcludedEntryTypes []string `yaml:"excluded_entry_types,omitempty"`
	TimeZone           string   `yaml:"time_zone"`
	SequencePrefix     string   `yaml:"sequence_prefix,omitempty"`
	Counter            string   `yaml:"counter,omitempty"`
	Namespace          string   `yaml:"namespace,omitempty"`
	SchemaLocation     string   `yaml:"schema_location,omitempty"`
	EncryptKeyFile     string   `yaml:"encrypt_key_file,omitempty"`
}

// Location loads the partner time zone.
func (p PartnerConfig) Location() (*time.Location, error) {
	if p.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("partner %s: loading time zone: %w", p.ID, err)
	}
	return loc, nil
}

// PrefixDigit returns the sequence substitution digit, or zero for the default.
func (p PartnerConfig) PrefixDigit() byte {
	if len(p.SequencePrefix) == 1 {
		return p.SequencePrefix[0]
	}
	return 0
}

// DatabaseConfig points at the ledger/counter database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres or sqlite
	DSN    string `yaml:"dsn"`
}

// SourceConfig points at the upstream brokerage database (read only).
type SourceConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns,omitempty"`
}

// TransportConfig controls where files are dropped.
type TransportConfig struct {
	Kind             string `yaml:"kind"` // dir or gcs
	Root             string `yaml:"root,omitempty"`
	Bucket           string `yaml:"bucket,omitempty"`
	Prefix           string `yaml:"prefix,omitempty"`
	CredentialsFile  string `yaml:"credentials_file,omitempty"`
	Environment      string `yaml:"environment"` // test or production
	TestFolder       string `yaml:"test_folder"`
	ProductionFolder string `yaml:"production_folder"`
}

// Folder returns the drop folder for the configured environment.
func (t TransportConfig) Folder() string {
	if t.Environment == "production" {
		return t.ProductionFolder
	}
	return t.TestFolder
}

// NotifyConfig controls failure emails.
type NotifyConfig struct {
	Provider string   `yaml:"provider"` // sendgrid or log
	BaseURL  string   `yaml:"base_url,omitempty"`
	APIKey   string   `yaml:"api_key,omitempty"`
	From     string   `yaml:"from"`
	FromName string   `yaml:"from_name,omitempty"`
	To       []string `yaml:"to"`
}

// RedisConfig enables the shared run lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// ServerConfig controls the ops HTTP server started by serve.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects the logger mode.
type LoggingConfig struct {
	Mode string `yaml:"mode"` // development or production
}

// TracingConfig enables span export to stdout.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// Partner returns the partner with the given id.
func (c *Config) Partner(id string) (PartnerConfig, bool) {
	for _, p := range c.Partners {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return PartnerConfig{}, false
}

// Load reads an entrysync.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets and deployment values from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Database.DSN, "ENTRYSYNC_DATABASE_DSN")
	set(&c.Source.DSN, "ENTRYSYNC_SOURCE_DSN")
	set(&c.Transport.Environment, "ENTRYSYNC_TRANSPORT_ENV")
	set(&c.Notify.APIKey, "SENDGRID_API_KEY")
	set(&c.Redis.Addr, "REDIS_ADDR")
	set(&c.Redis.Password, "REDIS_PASSWORD")
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if _, err := c.Pipeline.StartDate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Sprintf("pipeline.workers (%d) must be positive", c.Pipeline.Workers))
	}
	if c.Pipeline.SendTimeout <= 0 {
		errs = append(errs, "pipeline.send_timeout must be positive")
	}
	if c.Pipeline.MinLag < 0 {
		errs = append(errs, "pipeline.min_lag must be non-negative")
	}

	if len(c.Partners) == 0 {
		errs = append(errs, "at least one partner is required")
	}
	seen := make(map[string]bool)
	for i, p := range c.Partners {
		name := p.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
			errs = append(errs, fmt.Sprintf("partner %s: id is required", name))
		}
		if seen[strings.ToLower(p.ID)] {
			errs = append(errs, fmt.Sprintf("partner %s: duplicate id", name))
		}
		seen[strings.ToLower(p.ID)] = true
		if p.TradingPartner == "" {
			errs = append(errs, fmt.Sprintf("partner %s: trading_partner is required", name))
		}
		if p.Format != "fixed_width" && p.Format != "xml" {
			errs = append(errs, fmt.Sprintf("partner %s: format (%q) must be fixed_width or xml", name, p.Format))
		}
		if p.IdentifierSystem == "" || len(p.Identifiers) == 0 {
			errs = append(errs, fmt.Sprintf("partner %s: identifier_system and identifiers are required", name))
		}
		if _, err := p.Location(); err != nil {
			errs = append(errs, err.Error())
		}
		if p.SequencePrefix != "" && (len(p.SequencePrefix) != 1 || p.SequencePrefix[0] < '0' || p.SequencePrefix[0] > '9') {
			errs = append(errs, fmt.Sprintf("partner %s: sequence_prefix (%q) must be a single digit", name, p.SequencePrefix))
		}
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver (%q) must be postgres or sqlite", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}

	switch c.Transport.Kind {
	case "dir":
		if c.Transport.Root == "" {
			errs = append(errs, "transport.root is required for dir transport")
		}
	case "gcs":
		if c.Transport.Bucket == "" {
			errs = append(errs, "transport.bucket is required for gcs transport")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.kind (%q) must be dir or gcs", c.Transport.Kind))
	}
	if c.Transport.Environment != "test" && c.Transport.Environment != "production" {
		errs = append(errs, fmt.Sprintf("transport.environment (%q) must be test or production", c.Transport.Environment))
	}
	if c.Transport.Folder() == "" {
		errs = append(errs, "transport folder for the configured environment is empty")
	}

	switch c.Notify.Provider {
	case "log":
	case "sendgrid":
		if c.Notify.APIKey == "" {
			errs = append(errs, "notify.api_key (or SENDGRID_API_KEY) is required for sendgrid")
		}
		if c.Notify.From == "" || len(c.Notify.To) == 0 {
			errs = append(errs, "notify.from and notify.to are required for sendgrid")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.provider (%q) must be sendgrid or log", c.Notify.Provider))
	}

	if c.Logging.Mode != "development" && c.Logging.Mode != "production" {
		errs = append(errs, fmt.Sprintf("logging.mode (%q) must be development or production", c.Logging.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Default returns a Config with sensible defaults for a new deployment.
func Default(partnerID string) *Config {
	return &Config{
		Pipeline: PipelineConfig{
			SystemStartDate: time.Now().UTC().Format(startDateLayout),
			MinLag:          time.Hour,
			Workers:         4,
			SendTimeout:     2 * time.Minute,
			RunInterval:     15 * time.Minute,
			LockTTL:         30 * time.Minute,
			ArchiveDir:      "archive",
			RunLogDir:       "logs",
		},
		Partners: []PartnerConfig{{
			ID:                 partnerID,
			TradingPartner:     partnerID + " BILLING",
			Country:            "CA",
			Form:               "B3",
			BrokerID:           "BROKER",
			Format:             "fixed_width",
			IdentifierSystem:   "Fenix Importer",
			Identifiers:        []string{},
			ExcludedEntryTypes: []string{"F"},
			TimeZone:           "America/Toronto",
		}},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "entrysync.db",
		},
		Transport: TransportConfig{
			Kind:             "dir",
			Root:             "outbox",
			Environment:      "test",
			TestFolder:       "test",
			ProductionFolder: "production",
		},
		Notify: NotifyConfig{
			Provider: "log",
			From:     "entrysync@localhost",
			FromName: "entrysync",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Mode: "production",
		},
		Tracing: TracingConfig{
			ServiceName: "entrysync",
		},
	}
}
