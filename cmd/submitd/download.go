package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openaddresses/submit-service-sub000/pkg/config"
	"github.com/openaddresses/submit-service-sub000/pkg/metadata"
	"github.com/openaddresses/submit-service-sub000/pkg/tui"
)

var (
	downloadFormat      string
	downloadOutput      string
	downloadMetadataURL string
	downloadQuiet       bool
)

var downloadCmd = &cobra.Command{
	Use:   "download PATH",
	Short: "Download the last processed run of a source",
	Long: `Look PATH up in the run index and stream the data file of its last
processed run.

Examples:
  submitd download us/ca/berkeley.json
  submitd download --format geojson --output berkeley.geojson us/ca/berkeley.json`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadFormat, "format", "f", "csv", "Output format (csv, geojson)")
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output file (default: name inside the archive, '-' for stdout)")
	downloadCmd.Flags().StringVar(&downloadMetadataURL, "metadata-url", "", "URL of the tab-separated run index")
	downloadCmd.Flags().BoolVarP(&downloadQuiet, "quiet", "q", false, "Hide the progress bar")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	format, err := metadata.ParseFormat(downloadFormat)
	if err != nil {
		return err
	}
	source, err := metadata.NormalizePath(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metadata-url") {
		cfg.Metadata.URL = downloadMetadataURL
	}
	if err := cfg.Require(config.FeatureDownload); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := metadata.NewDownloader(newHTTPAdapter(cfg), cfg.Metadata.URL, metadata.WithLogger(logger))
	if err != nil {
		return err
	}

	start := time.Now()
	f, err := d.Open(ctx, source, format)
	if err != nil {
		return err
	}
	defer f.Close()

	output := downloadOutput
	if output == "" {
		output = f.Name
	}
	var out io.Writer
	if output == "-" {
		out = cmd.OutOrStdout()
		downloadQuiet = true
	} else {
		file, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", output, err)
		}
		defer file.Close()
		out = file
	}

	if !downloadQuiet {
		bar := tui.ShowTransfer(cmd.ErrOrStderr(), f.Size, f.Name)
		defer bar.Finish()
		out = io.MultiWriter(out, bar)
	}

	n, err := io.Copy(out, f)
	if err != nil {
		return fmt.Errorf("download of %s interrupted after %d bytes: %w", f.Name, n, err)
	}
	if output != "-" {
		tui.PrintDownload(cmd.ErrOrStderr(), f.Name, output, n, time.Since(start))
	}
	return nil
}
