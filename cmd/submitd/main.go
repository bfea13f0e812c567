// submitd samples remote address and parcel sources and serves the
// results over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openaddresses/submit-service-sub000/pkg/config"
	"github.com/openaddresses/submit-service-sub000/pkg/defaults/metrics"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/sources"
	"github.com/openaddresses/submit-service-sub000/pkg/interfaces"
	"github.com/openaddresses/submit-service-sub000/pkg/sample"
	"github.com/openaddresses/submit-service-sub000/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	verbose    bool
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "submitd",
	Short: "submitd - sample remote address and parcel sources",
	Long: `submitd previews remote geodata sources: ESRI feature services, GeoJSON,
delimited text and shapefiles, plain or zipped, over HTTP(S) or FTP.

It returns the field names and a small window of records so a source can be
configured without downloading all of it.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: /etc/submitd, ~/.submitd, ./.submitd.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")
}

// loadConfig loads the layered configuration and applies the global flags.
func loadConfig() (*config.Config, error) {
	var m *config.Manager
	if configFile != "" {
		m = config.NewManager(configFile)
	} else {
		m = config.NewManager()
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	cfg := m.Get()
	if configFile != "" && len(m.GetPaths()) == 0 {
		return nil, fmt.Errorf("config file %s not found", configFile)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// validate joins every configuration problem into one error.
func validate(cfg *config.Config) error {
	problems := cfg.Validate()
	if len(problems) == 0 {
		return nil
	}
	msgs := make([]string, len(problems))
	for i, p := range problems {
		msgs[i] = "  - " + p.Error()
	}
	return fmt.Errorf("invalid configuration:\n%s", strings.Join(msgs, "\n"))
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return telemetry.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

// newHTTPAdapter builds the outbound HTTP client from the sampling settings.
func newHTTPAdapter(cfg *config.Config) *sources.HTTPAdapter {
	opts := sources.DefaultHTTPOptions()
	if cfg.Sampling.Timeout > 0 {
		opts.Timeout = cfg.Sampling.Timeout
	}
	opts.UserAgent = cfg.Sampling.UserAgent
	opts.RateLimit = cfg.Sampling.RateLimit
	opts.RateBurst = cfg.Sampling.RateBurst
	return sources.NewHTTPAdapter(opts)
}

// newEngine wires the transport adapters into a sampling engine.
func newEngine(cfg *config.Config, httpAdapter *sources.HTTPAdapter, logger *slog.Logger, m interfaces.MetricsExporter, delimiter rune) *sample.Engine {
	opener := sources.NewOpener(httpAdapter, sources.NewFTPAdapter(cfg.Sampling.Timeout))
	return sample.New(opener, sample.Options{
		Timeout:   cfg.Sampling.Timeout,
		MaxSize:   cfg.Sampling.MaxSize,
		TempDir:   cfg.Sampling.TempDir,
		Delimiter: delimiter,
	},
		sample.WithLogger(logger),
		sample.WithMetrics(m),
		sample.WithTracer(telemetry.Tracer()),
	)
}

// initTelemetry installs the OTLP exporter when enabled. The returned
// function is always safe to call.
func initTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !cfg.Telemetry.Enabled {
		return noop
	}

	otlp := telemetry.DefaultOTLPConfig(cfg.Telemetry.ServiceName)
	otlp.Endpoint = cfg.Telemetry.Endpoint
	otlp.ServiceVersion = version
	shutdown, err := telemetry.NewOTLPExporter(otlp).Init(ctx)
	if err != nil {
		logger.Warn("telemetry disabled", "endpoint", otlp.Endpoint, "error", err)
		return noop
	}
	logger.Info("telemetry enabled", "endpoint", otlp.Endpoint)
	return shutdown
}

// newMetrics returns the log-backed exporter.
func newMetrics(logger *slog.Logger) interfaces.MetricsExporter {
	return metrics.NewLogMetrics(logger)
}
