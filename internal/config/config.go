package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"seriesfetcher/internal/fetcher"
)

// SeriesConfig names one remote series to collect.
type SeriesConfig struct {
	Name   string `mapstructure:"name" validate:"required"`
	Source string `mapstructure:"source" validate:"required,oneof=bcb ipea"`
	Code   string `mapstructure:"code" validate:"required"`
}

// Config holds all configuration for the series fetcher.
type Config struct {
	// Base URLs for the sources (configurable for testing)
	BCBBaseURL  string `mapstructure:"bcb_base_url" validate:"required,url"`
	IPEABaseURL string `mapstructure:"ipea_base_url" validate:"required,url"`

	// Collection window
	Start time.Time `mapstructure:"start" validate:"required"`
	End   time.Time `mapstructure:"end" validate:"required,gtefield=Start"`

	// Retry policy
	MaxRetries    int           `mapstructure:"max_retries" validate:"gte=1"`
	BaseDelay     time.Duration `mapstructure:"base_delay" validate:"gte=0s"`
	CourtesyDelay time.Duration `mapstructure:"courtesy_delay" validate:"gte=0s"`
	FirstTimeout  time.Duration `mapstructure:"first_timeout" validate:"gte=0s"`
	RetryTimeout  time.Duration `mapstructure:"retry_timeout" validate:"gte=0s"`
	Workers       int           `mapstructure:"workers" validate:"gte=1"`

	// Requests per second by source, 0 disables the throttle
	RateLimits map[string]float64 `mapstructure:"rate_limits" validate:"dive,gte=0"`

	// Outputs
	OutputDir   string `mapstructure:"output_dir" validate:"required"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	MetricsFile string `mapstructure:"metrics_file"`

	// Analysis
	InflationSeries   string `mapstructure:"inflation_series"`
	IncomeClassesPath string `mapstructure:"income_classes_path"`
	BaseYear          int    `mapstructure:"base_year"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`

	// Series to fetch, optionally restricted by name with Only
	Series []SeriesConfig `mapstructure:"series" validate:"required,min=1,dive"`
	Only   []string       `mapstructure:"only"`
}

const dateLayout = time.DateOnly

// DefaultSeries are the central bank series collected when none are configured.
var DefaultSeries = []SeriesConfig{
	{Name: "ipca", Source: "bcb", Code: "433"},
	{Name: "ipca_acumulado_12m", Source: "bcb", Code: "13522"},
	{Name: "divida_total_familias", Source: "bcb", Code: "4390"},
	{Name: "credito_total", Source: "bcb", Code: "20714"},
	{Name: "credito_pessoal", Source: "bcb", Code: "20716"},
	{Name: "taxa_juros_pessoal", Source: "bcb", Code: "20796"},
	{Name: "inadimplencia", Source: "bcb", Code: "21082"},
	{Name: "poupanca", Source: "bcb", Code: "196"},
}

// flag name -> config key
var flagKeys = map[string]string{
	"bcb-base-url":   "bcb_base_url",
	"ipea-base-url":  "ipea_base_url",
	"start":          "start",
	"end":            "end",
	"max-retries":    "max_retries",
	"base-delay":     "base_delay",
	"courtesy-delay": "courtesy_delay",
	"first-timeout":  "first_timeout",
	"retry-timeout":  "retry_timeout",
	"workers":        "workers",
	"out-dir":        "output_dir",
	"sqlite":         "sqlite_path",
	"metrics-file":   "metrics_file",
	"income-classes": "income_classes_path",
	"base-year":      "base_year",
	"log-level":      "log_level",
	"log-format":     "log_format",
	"series":         "only",
}

// RegisterFlags defines the command line flags understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("bcb-base-url", "", "central bank SGS base URL")
	fs.String("ipea-base-url", "", "IPEA data OData base URL")
	fs.String("start", "", "first day of the collection window (YYYY-MM-DD)")
	fs.String("end", "", "last day of the collection window (YYYY-MM-DD)")
	fs.Int("max-retries", 0, "total attempts per series")
	fs.Duration("base-delay", 0, "first backoff delay, doubled on every retry")
	fs.Duration("courtesy-delay", 0, "pause between two series")
	fs.Duration("first-timeout", 0, "timeout of the first attempt")
	fs.Duration("retry-timeout", 0, "timeout of every retry")
	fs.Int("workers", 0, "series collected in parallel")
	fs.String("out-dir", "", "directory for series CSV files")
	fs.String("sqlite", "", "optional SQLite database path")
	fs.String("metrics-file", "", "optional Prometheus textfile output")
	fs.String("income-classes", "", "optional CSV of income classes for the real income table")
	fs.Int("base-year", 0, "base year of the real income table")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "text or json")
	fs.StringSlice("series", nil, "only collect these series names")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bcb_base_url", "https://api.bcb.gov.br/dados/serie")
	v.SetDefault("ipea_base_url", "http://www.ipeadata.gov.br/api/odata4")
	v.SetDefault("start", "2018-01-01")
	v.SetDefault("end", "2024-12-31")
	v.SetDefault("max_retries", 3)
	v.SetDefault("base_delay", "1s")
	v.SetDefault("courtesy_delay", "1s")
	v.SetDefault("first_timeout", "15s")
	v.SetDefault("retry_timeout", "30s")
	v.SetDefault("workers", 1)
	v.SetDefault("output_dir", "data/raw")
	v.SetDefault("sqlite_path", "")
	v.SetDefault("metrics_file", "")
	v.SetDefault("income_classes_path", "")
	v.SetDefault("only", []string{})
	v.SetDefault("inflation_series", "ipca")
	v.SetDefault("base_year", 2018)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	series := make([]map[string]any, 0, len(DefaultSeries))
	for _, s := range DefaultSeries {
		series = append(series, map[string]any{"name": s.Name, "source": s.Source, "code": s.Code})
	}
	v.SetDefault("series", series)
}

// Load reads configuration from defaults, an optional config file,
// environment variables and command line flags, in increasing precedence.
//
// Environment variables use the SERIESFETCHER_ prefix, e.g.
// SERIESFETCHER_MAX_RETRIES or SERIESFETCHER_OUTPUT_DIR. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("seriesfetcher")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	explicit := ""
	if fs != nil {
		explicit, _ = fs.GetString("config")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.seriesfetcher")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(dateLayout),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			var fields []string
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Series))
	for _, s := range c.Series {
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("invalid configuration: duplicate series name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	var unknown []string
	for _, name := range c.Only {
		if _, ok := seen[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("invalid configuration: unknown series %s", strings.Join(unknown, ", "))
	}
	return nil
}

// Window returns the configured collection window
func (c *Config) Window() fetcher.DateRange {
	return fetcher.DateRange{Start: c.Start, End: c.End}
}

// Requests builds the collector's request list in configuration order.
func (c *Config) Requests() []fetcher.Request {
	requests := make([]fetcher.Request, 0, len(c.Series))
	for _, s := range c.Series {
		if len(c.Only) > 0 && !slices.Contains(c.Only, s.Name) {
			continue
		}
		requests = append(requests, fetcher.Request{
			Name:     s.Name,
			Source:   s.Source,
			RemoteID: s.Code,
			Range:    c.Window(),
		})
	}
	return requests
}
