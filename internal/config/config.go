// Package config loads the ETL configuration: YAML or JSON files validated
// against an embedded JSON schema, with defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
)

// Defaults
const (
	DefaultMode          = "normal"
	DefaultBulkSize      = 1000
	DefaultSizeTolerance = 0.1
	DefaultSRS           = "EPSG:4326"
	DefaultOgr2OgrBinary = "ogr2ogr"
	DefaultDriver        = "postgres"
	DefaultDataDir       = "data"
	DefaultOutputDir     = "output"
	DefaultReportDir     = "reports"
	DefaultStateDir      = ".georef-state"
)

// Environment variables that override file settings
const (
	EnvDBURL        = "GEOREF_DB_URL"
	EnvDBDriver     = "GEOREF_DB_DRIVER"
	EnvSMTPPassword = "GEOREF_SMTP_PASSWORD"
	EnvS3AccessKey  = "GEOREF_S3_ACCESS_KEY"
	EnvS3SecretKey  = "GEOREF_S3_SECRET_KEY"
)

// Size operators
const (
	SizeOpEq = "eq"
	SizeOpGe = "ge"
)

// Patch rule operations
const (
	PatchDelete    = "delete"
	PatchUpdate    = "update"
	PatchApply     = "apply"
	PatchNormalize = "normalize"
)

// Config is the complete ETL configuration.
type Config struct {
	// Mode is "normal" or "interactive"
	Mode string

	Database    DatabaseConfig
	Paths       PathsConfig
	Destination DestinationConfig
	Extraction  ExtractionConfig
	Loader      LoaderConfig
	Retry       errhandling.RetryConfig
	Logging     LoggingConfig
	Report      ReportConfig
	Schedule    ScheduleConfig

	// Sources maps a process name to where its data comes from
	Sources map[string]SourceConfig

	// Patches maps a process name to extra patch rules run after its built-in ones
	Patches map[string][]PatchRule

	// Processes is the default run list, in order
	Processes []string
}

// DatabaseConfig holds connection settings.
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// PathsConfig holds local working directories.
type PathsConfig struct {
	Data   string
	Output string
	State  string
}

// DestinationConfig is where exported files are copied.
// Path is a local directory or an s3://bucket/prefix URL.
type DestinationConfig struct {
	Path      string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// IsS3 reports whether the destination is an S3 location.
func (d DestinationConfig) IsS3() bool {
	return strings.HasPrefix(d.Path, "s3://")
}

// S3Location splits an s3:// path into bucket and key prefix.
func (d DestinationConfig) S3Location() (bucket, prefix string, err error) {
	if !d.IsS3() {
		return "", "", fmt.Errorf("destination %q is not an s3 url", d.Path)
	}
	rest := strings.TrimPrefix(d.Path, "s3://")
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("destination %q has no bucket", d.Path)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// ExtractionConfig tunes the reconciliation step.
type ExtractionConfig struct {
	BulkSize      int
	SizeTolerance float64
}

// LoaderConfig configures the ogr2ogr table loader.
type LoaderConfig struct {
	Binary           string
	SourceSRS        string
	TargetSRS        string
	DisablePrecision bool
	Timeout          time.Duration
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// ReportConfig configures where run reports go.
type ReportConfig struct {
	Dir   string
	Email EmailConfig
}

// EmailConfig holds SMTP settings for mailing reports.
type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
}

// ScheduleConfig configures periodic runs.
type ScheduleConfig struct {
	Cron      string
	Processes []string
}

// SourceConfig describes the input of one process.
type SourceConfig struct {
	URL  string
	URLs []string

	// Encoding of CSV sources (UTF-8 or LATIN1)
	Encoding string

	// ExpectedSize overrides the process's expected entity count
	ExpectedSize int
	SizeOp       string
}

// PatchRule is a declarative correction applied to a staging table.
type PatchRule struct {
	Op    string
	Field string
	Value interface{}

	// Set maps a field to an expression evaluated per matching row
	Set map[string]string

	Where map[string]interface{}
}

// Default returns a configuration filled with defaults.
func Default() *Config {
	return &Config{
		Mode: DefaultMode,
		Database: DatabaseConfig{
			Driver: DefaultDriver,
		},
		Paths: PathsConfig{
			Data:   DefaultDataDir,
			Output: DefaultOutputDir,
			State:  DefaultStateDir,
		},
		Extraction: ExtractionConfig{
			BulkSize:      DefaultBulkSize,
			SizeTolerance: DefaultSizeTolerance,
		},
		Loader: LoaderConfig{
			Binary:    DefaultOgr2OgrBinary,
			SourceSRS: DefaultSRS,
			TargetSRS: DefaultSRS,
		},
		Retry:   errhandling.DefaultRetryConfig(),
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Report:  ReportConfig{Dir: DefaultReportDir},
		Sources: map[string]SourceConfig{},
		Patches: map[string][]PatchRule{},
	}
}

// Source returns the source settings of a process.
func (c *Config) Source(process string) SourceConfig {
	return c.Sources[process]
}

// PatchesFor returns the configured patch rules of a process.
func (c *Config) PatchesFor(process string) []PatchRule {
	return c.Patches[process]
}

// LoadEnvFile loads KEY=value pairs from .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides secrets and connection settings from the environment.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDBURL); ok && v != "" {
		c.Database.URL = v
	}
	if v, ok := lookup(EnvDBDriver); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := lookup(EnvSMTPPassword); ok && v != "" {
		c.Report.Email.Password = v
	}
	if v, ok := lookup(EnvS3AccessKey); ok && v != "" {
		c.Destination.AccessKey = v
	}
	if v, ok := lookup(EnvS3SecretKey); ok && v != "" {
		c.Destination.SecretKey = v
	}
}

// Load parses, validates and converts a configuration file, then applies
// environment overrides. The returned Result carries parse and schema
// errors; err is non-nil when the file cannot be used.
func Load(path string) (*Config, *Result, error) {
	result := ParseConfig(path)
	if len(result.ParseErrors) > 0 {
		return nil, result, result.ParseErrors[0]
	}
	if len(result.ValidationErrors) > 0 {
		return nil, result, result.ValidationErrors[0]
	}

	cfg, err := ConvertToConfig(result.Data)
	if err != nil {
		return nil, result, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, result, nil
}
