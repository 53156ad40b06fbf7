package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OceanOptics/getOC/internal/config"
	"github.com/OceanOptics/getOC/internal/telemetry"
)

const serviceName = "getoc"

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"platform":       config.KeyPlatform,
	"credentials":    config.KeyCredentials,
	"output-dir":     config.KeyOutputDir,
	"log-format":     config.KeyLogFormat,
	"box":            config.KeyBoundingBoxSize,
	"time-window":    config.KeyTimeWindow,
	"delay":          config.KeyQueryDelay,
	"day-night":      config.KeyDayNight,
	"res":            config.KeyL3Resolution,
	"binning-period": config.KeyL3BinningPeriod,
	"max-retries":    config.KeyMaxRetries,
	"retry-delay":    config.KeyRetryDelay,
	"fail-fast":      config.KeyFailFast,
	"addr":           config.KeyServeAddr,
	"allowed-origin": config.KeyServeOrigins,
}

// app carries the state shared by every command of one invocation.
type app struct {
	configFile string
	verbose    bool
	stderr     io.Writer

	v         *viper.Viper
	cfg       *config.Run
	settings  *config.Settings
	logger    zerolog.Logger
	runID     string
	telemetry *telemetry.Provider
}

func newApp() *app {
	return &app{stderr: os.Stderr, logger: zerolog.Nop()}
}

// setup loads the configuration of the running command and starts telemetry.
// Nothing here touches the network.
func (a *app) setup(ctx context.Context, cmd *cobra.Command) error {
	a.v = config.NewViper()
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return fmt.Errorf("binding flags: %w", bindErr)
	}

	if err := config.ReadFile(a.v, a.configFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	settings, err := config.LoadSettings(".env")
	if err != nil {
		return err
	}
	settings.Telemetry.ServiceVersion = Version
	a.settings = settings

	a.runID = uuid.NewString()
	a.logger = newLogger(a.stderr, cfg.Log, a.verbose).With().Str("run_id", a.runID).Logger()
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug().Str("path", used).Msg("config file loaded")
	}

	tp, err := telemetry.Init(ctx, settings.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	a.telemetry = tp
	if settings.Telemetry.Enabled {
		a.logger.Info().
			Str("exporter", settings.Telemetry.Exporter).
			Str("otlp_endpoint", settings.Telemetry.OTLPEndpoint).
			Msg("telemetry initialized")
	}
	return nil
}

// shutdown flushes telemetry.
func (a *app) shutdown() {
	if a.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("failed to shutdown telemetry")
	}
}

func newLogger(out io.Writer, cfg config.LogConfig, verbose bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}
