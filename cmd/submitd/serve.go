package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/openaddresses/submit-service-sub000/pkg/config"
	"github.com/openaddresses/submit-service-sub000/pkg/lifecycle"
	"github.com/openaddresses/submit-service-sub000/pkg/metadata"
	"github.com/openaddresses/submit-service-sub000/pkg/server"
)

var (
	servePort        int
	serveHost        string
	serveMetadataURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sampling HTTP server",
	Long: `Start the HTTP server.

Routes:
  GET /sample?source=<uri>&size=<n>&offset=<n>   preview a source
  GET /download/<path>?format=csv|geojson         stream the last processed run
  GET /health                                     readiness

Examples:
  submitd serve                          # Listen on 0.0.0.0:3103
  submitd serve --port 8080
  METADATA_URL=https://example.com/state.txt submitd serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, env PORT)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to")
	serveCmd.Flags().StringVar(&serveMetadataURL, "metadata-url", "", "URL of the tab-separated run index")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("metadata-url") {
		cfg.Metadata.URL = serveMetadataURL
	}
	if err := validate(cfg); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	shutdownTelemetry := initTelemetry(ctx, cfg, logger)
	m := newMetrics(logger)

	httpAdapter := newHTTPAdapter(cfg)
	engine := newEngine(cfg, httpAdapter, logger, m, 0)

	// Missing download settings are found once here, not per request.
	var downloads server.Downloads
	unavailable := cfg.Require(config.FeatureDownload)
	if unavailable == nil {
		d, err := metadata.NewDownloader(httpAdapter, cfg.Metadata.URL,
			metadata.WithLogger(logger), metadata.WithMetrics(m))
		if err != nil {
			unavailable = err
		} else {
			downloads = d
		}
	}
	if unavailable != nil {
		logger.Warn("downloads disabled", "error", unavailable)
	}

	shutdown := lifecycle.NewShutdownManager(lifecycle.ShutdownConfig{
		DrainTimeout: cfg.Server.ShutdownTimeout,
		Logger:       logger,
	})

	srv := server.NewServer(engine,
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithShutdown(shutdown),
		server.WithDefaultSize(cfg.Sampling.DefaultSize),
		server.WithDownloads(downloads, unavailable),
	)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // Downloads stream for as long as they take
		IdleTimeout:       120 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	shutdown.OnShutdown("http", httpServer.Shutdown)
	shutdown.OnShutdown("telemetry", shutdownTelemetry)
	shutdown.OnShutdown("metrics", func(context.Context) error { return m.Close() })
	shutdown.HandleSignals(ctx)

	logger.Info("listening",
		"addr", listener.Addr().String(),
		"version", version,
		"downloads", unavailable == nil,
		"sample_timeout", cfg.Sampling.Timeout,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	if err := <-errChan; err != nil {
		return err
	}
	// Serve returns as soon as the http hook starts; wait for the rest.
	<-shutdown.Done()
	logger.Info("stopped")
	return nil
}
