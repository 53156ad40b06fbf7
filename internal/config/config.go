// Package config loads run configuration from a YAML file, GETOC_ environment
// variables and command-line flags, and credentials from an INI file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/OceanOptics/getOC/internal/download"
	"github.com/OceanOptics/getOC/internal/platform"
)

// EnvPrefix prefixes every environment variable read by getoc.
const EnvPrefix = "GETOC"

// DefaultFileName is the config file name searched for without extension.
const DefaultFileName = "getoc"

// Configuration keys. Flags bind to the same keys.
const (
	KeyPlatform    = "platform"
	KeyCredentials = "credentials"
	KeyOutputDir   = "output_dir"

	KeyBoundingBoxSize = "query.bounding_box_size"
	KeyTimeWindow      = "query.time_window"
	KeyQueryDelay      = "query.query_delay"
	KeyDayNight        = "query.day_night"
	KeyL3Resolution    = "query.l3_resolution"
	KeyL3BinningPeriod = "query.l3_binning_period"

	KeyMaxRetries        = "download.max_retries"
	KeyArchiveMaxRetries = "download.archive_max_retries"
	KeyRetryDelay        = "download.retry_delay"
	KeyChunkSize         = "download.chunk_size"
	KeyMinFileSize       = "download.min_file_size"
	KeyTimeout           = "download.timeout"
	KeyFailFast          = "download.fail_fast"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"

	KeyServeAddr           = "serve.addr"
	KeyServeOrigins        = "serve.allowed_origins"
	KeyServeResolveTimeout = "serve.resolve_timeout"
)

// Run is the configuration of one getoc invocation.
type Run struct {
	// Platform forces a backend. Empty lets the selector choose.
	Platform    string `mapstructure:"platform" yaml:"platform"`
	Credentials string `mapstructure:"credentials" yaml:"credentials"`
	OutputDir   string `mapstructure:"output_dir" yaml:"output_dir"`

	Query    QueryConfig    `mapstructure:"query" yaml:"query"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Serve    ServeConfig    `mapstructure:"serve" yaml:"serve"`
}

// QueryConfig holds the search extents shared by every POI.
type QueryConfig struct {
	BoundingBoxSize float64       `mapstructure:"bounding_box_size" yaml:"bounding_box_size"`
	TimeWindow      time.Duration `mapstructure:"time_window" yaml:"time_window"`
	QueryDelay      time.Duration `mapstructure:"query_delay" yaml:"query_delay"`
	DayNight        string        `mapstructure:"day_night" yaml:"day_night"`
	L3Resolution    string        `mapstructure:"l3_resolution" yaml:"l3_resolution"`
	L3BinningPeriod string        `mapstructure:"l3_binning_period" yaml:"l3_binning_period"`
}

// DownloadConfig tunes file retrieval.
type DownloadConfig struct {
	// MaxRetries applies to Earthdata backends, ArchiveMaxRetries to the
	// Copernicus archives whose transfers are larger and resumable.
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	ArchiveMaxRetries int           `mapstructure:"archive_max_retries" yaml:"archive_max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	ChunkSize         int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	MinFileSize       int64         `mapstructure:"min_file_size" yaml:"min_file_size"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FailFast          bool          `mapstructure:"fail_fast" yaml:"fail_fast"`
}

// LogConfig selects the log level and output format (console or json).
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServeConfig configures the resolve API.
type ServeConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout" yaml:"resolve_timeout"`
}

// SetDefaults registers the default value of every key.
// Durations are strings so that the generated YAML stays readable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPlatform, "")
	v.SetDefault(KeyCredentials, "credentials.ini")
	v.SetDefault(KeyOutputDir, ".")

	v.SetDefault(KeyBoundingBoxSize, platform.DefaultBoundingBoxSize)
	v.SetDefault(KeyTimeWindow, platform.DefaultTimeWindow.String())
	v.SetDefault(KeyQueryDelay, "1s")
	v.SetDefault(KeyDayNight, "")
	v.SetDefault(KeyL3Resolution, platform.DefaultL3Resolution)
	v.SetDefault(KeyL3BinningPeriod, platform.DefaultL3BinningPeriod)

	v.SetDefault(KeyMaxRetries, download.DefaultMaxRetries)
	v.SetDefault(KeyArchiveMaxRetries, 10)
	v.SetDefault(KeyRetryDelay, download.DefaultRetryDelay.String())
	v.SetDefault(KeyChunkSize, download.DefaultChunkSize)
	v.SetDefault(KeyMinFileSize, download.DefaultMinFileSize)
	v.SetDefault(KeyTimeout, download.DefaultTimeout.String())
	v.SetDefault(KeyFailFast, false)

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")

	v.SetDefault(KeyServeAddr, ":8080")
	v.SetDefault(KeyServeOrigins, []string{})
	v.SetDefault(KeyServeResolveTimeout, "5m")
}

// NewViper returns a viper instance with defaults and GETOC_ environment
// overrides, e.g. GETOC_QUERY_TIME_WINDOW for query.time_window.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads the config file at path, or searches the working directory
// and $HOME/.getoc when path is empty. A missing file is not an error unless
// path was given explicitly.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".getoc"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// Load decodes the effective configuration.
func Load(v *viper.Viper) (*Run, error) {
	var cfg Run
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Run) Validate() error {
	if c.Platform != "" {
		if _, err := platform.ParseKind(c.Platform); err != nil {
			return err
		}
	}
	if c.Query.BoundingBoxSize <= 0 {
		return fmt.Errorf("bounding box size must be positive, got %v", c.Query.BoundingBoxSize)
	}
	if c.Query.TimeWindow <= 0 {
		return fmt.Errorf("time window must be positive, got %s", c.Query.TimeWindow)
	}
	switch c.Query.DayNight {
	case "", "D", "N", "D@N":
	default:
		return fmt.Errorf("day/night filter must be D, N or D@N, got %q", c.Query.DayNight)
	}
	if c.Download.MaxRetries < 1 || c.Download.ArchiveMaxRetries < 1 {
		return fmt.Errorf("download retries must be at least 1")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// PlatformKind returns the forced backend, or false when the selector decides.
func (c *Run) PlatformKind() (platform.Kind, bool) {
	if c.Platform == "" {
		return "", false
	}
	return platform.Kind(c.Platform), true
}

// PlatformQuery builds the platform query for an instrument, level and product.
func (c *Run) PlatformQuery(instrument, level, product string) platform.Query {
	return platform.Query{
		Instrument:      instrument,
		Level:           level,
		Product:         product,
		BoundingBoxSize: c.Query.BoundingBoxSize,
		TimeWindow:      c.Query.TimeWindow,
		DayNight:        c.Query.DayNight,
		L3Resolution:    c.Query.L3Resolution,
		L3BinningPeriod: c.Query.L3BinningPeriod,
	}.WithDefaults()
}

// DownloadConfig returns the downloader settings for a backend.
func (c *Run) DownloadConfig(kind platform.Kind) download.Config {
	retries := c.Download.MaxRetries
	if kind == platform.KindCDSE || kind == platform.KindCreodias {
		retries = c.Download.ArchiveMaxRetries
	}
	return download.Config{
		OutputDir:   c.OutputDir,
		MaxRetries:  retries,
		RetryDelay:  c.Download.RetryDelay,
		MinFileSize: c.Download.MinFileSize,
		ChunkSize:   c.Download.ChunkSize,
		Timeout:     c.Download.Timeout,
		FailFast:    c.Download.FailFast,
	}
}

const fileHeader = `# getoc configuration
#
# Every key can be overridden with a GETOC_ environment variable
# (e.g. GETOC_QUERY_TIME_WINDOW=6h) or the matching command-line flag.
# Durations use Go syntax (90s, 12h). Credentials are read from the INI
# file named by "credentials", with sections earthdata, copernicus and
# creodias.

`

// DefaultYAML renders the default configuration file.
func DefaultYAML() ([]byte, error) {
	v := viper.New()
	SetDefaults(v)

	body, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("encoding default config: %w", err)
	}
	return append([]byte(fileHeader), body...), nil
}

// WriteDefault writes the default configuration to path, refusing to replace
// an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	data, err := DefaultYAML()
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}
