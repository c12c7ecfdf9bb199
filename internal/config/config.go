package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DateLayout is the layout of DATE_START and DATE_END.
const DateLayout = "2006-01-02"

type Config struct {
	Index    IndexConfig    `yaml:"index"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Paths    PathsConfig    `yaml:"paths"`
	Staging  StagingConfig  `yaml:"staging"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

type IndexConfig struct {
	URL       string  `yaml:"url"`
	LatMin    float64 `yaml:"lat_min"`
	LatMax    float64 `yaml:"lat_max"`
	LonMin    float64 `yaml:"lon_min"`
	LonMax    float64 `yaml:"lon_max"`
	DateStart string  `yaml:"date_start"`
	DateEnd   string  `yaml:"date_end"`
	// Timeout bounds the whole index download. Zero means no limit; the
	// response header wait is still bounded by the HTTP client.
	Timeout time.Duration `yaml:"timeout"`
}

type FetchConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Workers        int           `yaml:"workers"`
	Retries        int           `yaml:"retries"`
	Backoff        time.Duration `yaml:"backoff"`
	Timeout        time.Duration `yaml:"timeout"`
	Limit          int           `yaml:"limit"`
	VerifyExisting bool          `yaml:"verify_existing"`
	Ledger         string        `yaml:"ledger"` // "json" | "duckdb" | "none"
}

type PathsConfig struct {
	RawDir       string `yaml:"raw_dir"`
	ProcessedDir string `yaml:"processed_dir"`
	LogsDir      string `yaml:"logs_dir"`
}

type StagingConfig struct {
	Backend    string `yaml:"backend"` // "local" | "gcs" | "s3"
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
}

type DatabaseConfig struct {
	URL                  string `yaml:"url"`
	MaxConns             int32  `yaml:"max_conns"`
	BatchSize            int    `yaml:"batch_size"`
	MeasurementBatchSize int    `yaml:"measurement_batch_size"`
	Analyze              bool   `yaml:"analyze"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Index: IndexConfig{
			URL:       "https://data-argo.ifremer.fr/ar_index_global_prof.txt",
			LatMin:    -40,
			LatMax:    30,
			LonMin:    20,
			LonMax:    120,
			DateStart: "2020-01-01",
			DateEnd:   "2024-12-31",
		},
		Fetch: FetchConfig{
			BaseURL:        "https://data-argo.ifremer.fr/dac",
			Workers:        10,
			Retries:        3,
			Backoff:        time.Second,
			Timeout:        30 * time.Second,
			Limit:          100,
			VerifyExisting: true,
			Ledger:         "json",
		},
		Paths: PathsConfig{
			RawDir:       "./data/raw",
			ProcessedDir: "./data/processed",
			LogsDir:      "./data/logs",
		},
		Staging: StagingConfig{
			Backend: "local",
			Prefix:  "staging/",
		},
		Database: DatabaseConfig{
			MaxConns:             5,
			BatchSize:            1000,
			MeasurementBatchSize: 5000,
			Analyze:              true,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, the
// given .env files and finally the process environment. Missing .env files
// are ignored; a missing YAML file is an error when path is set.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	c.Index.URL = getenvDefault("ARGO_INDEX_URL", c.Index.URL)
	collect(envFloat("LAT_MIN", &c.Index.LatMin))
	collect(envFloat("LAT_MAX", &c.Index.LatMax))
	collect(envFloat("LON_MIN", &c.Index.LonMin))
	collect(envFloat("LON_MAX", &c.Index.LonMax))
	c.Index.DateStart = getenvDefault("DATE_START", c.Index.DateStart)
	c.Index.DateEnd = getenvDefault("DATE_END", c.Index.DateEnd)
	collect(envDuration("INDEX_TIMEOUT", &c.Index.Timeout))

	c.Fetch.BaseURL = getenvDefault("ARGO_BASE_URL", c.Fetch.BaseURL)
	collect(envInt("FETCH_WORKERS", &c.Fetch.Workers))
	collect(envInt("FETCH_RETRIES", &c.Fetch.Retries))
	collect(envDuration("FETCH_BACKOFF", &c.Fetch.Backoff))
	collect(envDuration("FETCH_TIMEOUT", &c.Fetch.Timeout))
	collect(envInt("FETCH_LIMIT", &c.Fetch.Limit))
	collect(envBool("FETCH_VERIFY_EXISTING", &c.Fetch.VerifyExisting))
	c.Fetch.Ledger = getenvDefault("LEDGER_BACKEND", c.Fetch.Ledger)

	c.Paths.RawDir = getenvDefault("DATA_RAW_DIR", c.Paths.RawDir)
	c.Paths.ProcessedDir = getenvDefault("DATA_PROCESSED_DIR", c.Paths.ProcessedDir)
	c.Paths.LogsDir = getenvDefault("DATA_LOGS_DIR", c.Paths.LogsDir)

	c.Staging.Backend = getenvDefault("STAGING_BACKEND", c.Staging.Backend)
	c.Staging.Bucket = getenvDefault("STAGING_BUCKET", c.Staging.Bucket)
	c.Staging.Prefix = getenvDefault("STAGING_PREFIX", c.Staging.Prefix)
	c.Staging.S3Endpoint = getenvDefault("S3_ENDPOINT", c.Staging.S3Endpoint)
	c.Staging.S3Region = getenvDefault("S3_REGION", c.Staging.S3Region)

	c.Database.URL = getenvDefault("DATABASE_URL", c.Database.URL)
	collect(envInt32("DB_MAX_CONNS", &c.Database.MaxConns))
	collect(envInt("LOAD_BATCH_SIZE", &c.Database.BatchSize))
	collect(envInt("LOAD_MEASUREMENT_BATCH_SIZE", &c.Database.MeasurementBatchSize))
	collect(envBool("LOAD_ANALYZE", &c.Database.Analyze))

	collect(envBool("METRICS_ENABLED", &c.Metrics.Enabled))
	c.Metrics.Addr = getenvDefault("METRICS_ADDR", c.Metrics.Addr)

	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenvDefault("LOG_FORMAT", c.Log.Format)

	return errors.Join(errs...)
}

// Validate checks values that every stage depends on.
func (c Config) Validate() error {
	var errs []error

	if c.Index.URL == "" {
		errs = append(errs, errors.New("ARGO_INDEX_URL is required"))
	}
	if c.Fetch.BaseURL == "" {
		errs = append(errs, errors.New("ARGO_BASE_URL is required"))
	}
	for _, b := range []struct {
		key   string
		v     float64
		limit float64
	}{
		{"LAT_MIN", c.Index.LatMin, 90},
		{"LAT_MAX", c.Index.LatMax, 90},
		{"LON_MIN", c.Index.LonMin, 180},
		{"LON_MAX", c.Index.LonMax, 180},
	} {
		if math.IsNaN(b.v) || b.v < -b.limit || b.v > b.limit {
			errs = append(errs, fmt.Errorf("%s %v is outside [-%v, %v]", b.key, b.v, b.limit, b.limit))
		}
	}
	if c.Index.LatMin > c.Index.LatMax {
		errs = append(errs, fmt.Errorf("LAT_MIN %v is greater than LAT_MAX %v", c.Index.LatMin, c.Index.LatMax))
	}
	if c.Index.LonMin > c.Index.LonMax {
		errs = append(errs, fmt.Errorf("LON_MIN %v is greater than LON_MAX %v", c.Index.LonMin, c.Index.LonMax))
	}
	start, errStart := time.Parse(DateLayout, c.Index.DateStart)
	if errStart != nil {
		errs = append(errs, fmt.Errorf("DATE_START: %w", errStart))
	}
	end, errEnd := time.Parse(DateLayout, c.Index.DateEnd)
	if errEnd != nil {
		errs = append(errs, fmt.Errorf("DATE_END: %w", errEnd))
	}
	if errStart == nil && errEnd == nil && end.Before(start) {
		errs = append(errs, errors.New("DATE_END is before DATE_START"))
	}
	if c.Index.Timeout < 0 {
		errs = append(errs, errors.New("INDEX_TIMEOUT must not be negative"))
	}
	if c.Fetch.Workers < 1 {
		errs = append(errs, fmt.Errorf("FETCH_WORKERS must be at least 1, got %d", c.Fetch.Workers))
	}
	if c.Fetch.Retries < 0 {
		errs = append(errs, fmt.Errorf("FETCH_RETRIES must not be negative, got %d", c.Fetch.Retries))
	}
	if c.Fetch.Limit < 0 {
		errs = append(errs, fmt.Errorf("FETCH_LIMIT must not be negative, got %d", c.Fetch.Limit))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	switch c.Fetch.Ledger {
	case "json", "duckdb", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND %q", c.Fetch.Ledger))
	}
	switch c.Staging.Backend {
	case "local":
	case "gcs", "s3":
		if c.Staging.Bucket == "" {
			errs = append(errs, fmt.Errorf("STAGING_BUCKET is required for %s staging", c.Staging.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STAGING_BACKEND %q", c.Staging.Backend))
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.Database.MaxConns))
	}
	if c.Database.BatchSize < 1 || c.Database.MeasurementBatchSize < 1 {
		errs = append(errs, errors.New("load batch sizes must be at least 1"))
	}

	return errors.Join(errs...)
}

// RequireDatabase reports whether the load stage can run.
func (c Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// DateRange returns the parsed start and end days.
func (c Config) DateRange() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, c.Index.DateStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("DATE_START: %w", err)
	}
	end, err := time.Parse(DateLayout, c.Index.DateEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("DATE_END: %w", err)
	}
	return start, end, nil
}

// CatalogueFile is where stage one saves the filtered catalogue.
func (c Config) CatalogueFile() string {
	return filepath.Join(c.Paths.ProcessedDir, "argo_index_filtered.csv")
}

// NetCDFDir is the root of the mirrored profile files.
func (c Config) NetCDFDir() string {
	return filepath.Join(c.Paths.RawDir, "netcdf")
}

// LedgerPath is the location of the fetch ledger for the configured backend.
func (c Config) LedgerPath() string {
	if c.Fetch.Ledger == "duckdb" {
		return filepath.Join(c.Paths.RawDir, "fetch_ledger.duckdb")
	}
	return filepath.Join(c.Paths.RawDir, "fetch_ledger.json")
}

// FailureFile returns the path of a failure manifest in the logs directory.
func (c Config) FailureFile(name string) string {
	return filepath.Join(c.Paths.LogsDir, name)
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = parsed
	return nil
}

func envInt32(key string, dst *int32) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return fmt.Errorf("%s: invalid 32-bit integer %q", key, v)
	}
	*dst = int32(parsed)
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", key, v)
	}
	*dst = parsed
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = parsed
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = parsed
	return nil
}
