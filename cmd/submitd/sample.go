package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openaddresses/submit-service-sub000/pkg/defaults/metrics"
	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
	"github.com/openaddresses/submit-service-sub000/pkg/sample"
	"github.com/openaddresses/submit-service-sub000/pkg/tui"
)

var (
	sampleSize        int
	sampleOffset      int
	sampleJSON        bool
	sampleConcurrency int
	sampleDelimiter   string
)

var sampleCmd = &cobra.Command{
	Use:   "sample URI...",
	Short: "Preview one or more sources",
	Long: `Fetch the field names and the first records of each source.

Sources are sampled concurrently; output keeps the order given.

Examples:
  submitd sample https://example.com/addresses.csv
  submitd sample --size 3 --offset 100 https://gis.example.com/arcgis/rest/services/Addr/FeatureServer/0
  submitd sample --json ftp://ftp.example.com/parcels.zip
  submitd sample --delimiter ';' https://example.com/adressen.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSample,
}

func init() {
	sampleCmd.Flags().IntVarP(&sampleSize, "size", "n", 10, "Number of records to return")
	sampleCmd.Flags().IntVar(&sampleOffset, "offset", 0, "Records to skip before the window")
	sampleCmd.Flags().BoolVar(&sampleJSON, "json", false, "Print results as JSON lines")
	sampleCmd.Flags().IntVarP(&sampleConcurrency, "concurrency", "c", 4, "Sources sampled at once")
	sampleCmd.Flags().StringVar(&sampleDelimiter, "delimiter", "", "Field separator for delimited text (',', ';', '|', 'tab')")

	rootCmd.AddCommand(sampleCmd)
}

type sampleOutcome struct {
	Source  string         `json:"source"`
	Result  *sample.Result `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	elapsed time.Duration
	err     error
}

func runSample(cmd *cobra.Command, args []string) error {
	if sampleSize < 0 || sampleOffset < 0 {
		return fmt.Errorf("--size and --offset must not be negative")
	}
	delimiter, err := parseDelimiter(sampleDelimiter)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := newEngine(cfg, newHTTPAdapter(cfg), logger, metrics.NewNoopMetrics(), delimiter)
	window := core.Window{Size: sampleSize, Offset: sampleOffset}

	start := time.Now()
	outcomes := make([]sampleOutcome, len(args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(sampleConcurrency, 1))
	for i, raw := range args {
		g.Go(func() error {
			t := time.Now()
			res, err := engine.Sample(gctx, raw, window)
			outcomes[i] = sampleOutcome{Source: raw, Result: res, elapsed: time.Since(t), err: err}
			if err != nil {
				outcomes[i].Error = err.Error()
				outcomes[i].Kind = errors.KindOf(err).String()
			}
			// A failed source never cancels the others.
			return nil
		})
	}
	g.Wait()

	failed := printOutcomes(cmd.OutOrStdout(), cmd.ErrOrStderr(), outcomes, time.Since(start))
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(args))
	}
	return nil
}

func printOutcomes(stdout, stderr io.Writer, outcomes []sampleOutcome, elapsed time.Duration) int {
	failed := 0
	enc := json.NewEncoder(stdout)
	for _, o := range outcomes {
		if o.err != nil {
			failed++
		}
		switch {
		case sampleJSON:
			enc.Encode(o)
		case o.err != nil:
			tui.PrintError(stderr, o.Source, o.err)
		default:
			tui.PrintSample(stdout, o.Result, o.elapsed)
		}
	}
	if !sampleJSON && len(outcomes) > 1 {
		tui.PrintSummary(stdout, len(outcomes)-failed, failed, elapsed)
	}
	return failed
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case "tab", `\t`, "\t":
		return '\t', nil
	case ",", ";", "|":
		return rune(s[0]), nil
	default:
		return 0, fmt.Errorf("unsupported delimiter %q", s)
	}
}
