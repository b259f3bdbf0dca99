package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mdunlap1/mrfy/internal/fetch"
	"github.com/mdunlap1/mrfy/internal/mrf"
	"github.com/mdunlap1/mrfy/internal/npi"
	"github.com/mdunlap1/mrfy/internal/output"
	"github.com/mdunlap1/mrfy/internal/progress"
	"github.com/mdunlap1/mrfy/internal/query"
	"github.com/mdunlap1/mrfy/internal/report"
	"github.com/mdunlap1/mrfy/internal/scan"
	"github.com/mdunlap1/mrfy/internal/source"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "mrfy",
		Short:         "Extract negotiated rates for specific providers from price transparency files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newExtractCmd(&logLevel))
	rootCmd.AddCommand(newLookupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mrfy: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", level)
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func newExtractCmd(logLevel *string) *cobra.Command {
	var (
		outputPath  string
		bufferMB    int
		noProgress  bool
		logProgress bool
		stdGzip     bool
	)

	cmd := &cobra.Command{
		Use:   "extract <query-file> <mrf-file-or-url>",
		Short: "Extract matching rates from an in-network rate file as CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(*logLevel)
			if err != nil {
				return err
			}

			q, err := query.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("reading query: %w", err)
			}
			tr := query.NewTracker(q)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, err := output.Open(outputPath)
			if err != nil {
				return err
			}

			var trk progress.Tracker = progress.Noop{}
			switch {
			case noProgress:
			case logProgress || outputPath == "-":
				// mpb renders to stdout, where the CSV goes.
				trk = progress.NewLog(log)
			default:
				trk = progress.NewBar(args[1])
			}

			in, err := fetch.Open(ctx, args[1], stdGzip, trk.SetProgress)
			if err != nil {
				w.Close()
				return err
			}

			var (
				records  int64
				writeErr error
			)
			cb := mrf.Callbacks{
				OnStageChange: trk.SetStage,
				OnRefScanned:  counter(trk, "references"),
				OnItemScanned: counter(trk, "items"),
				OnMeta: func(field, value string) {
					log.Info().Str(field, value).Msg("file metadata")
				},
				OnWarning: func(msg string) {
					log.Warn().Msg(msg)
				},
			}
			emit := func(rec mrf.Record) {
				if werr := w.Write(rec); werr != nil && writeErr == nil {
					writeErr = werr
				}
				records++
				trk.SetCounter("records", records)
			}

			bufSize := bufferMB << 20
			sc := scan.New(source.New(in, bufSize))
			res, runErr := mrf.Run(sc, q, tr, cb, emit, nil)
			runErr = firstErr(runErr, writeErr, in.Close())
			if runErr != nil {
				w.Close()
				return runErr
			}

			if res.NeedSecondPass {
				log.Info().Msg("rescanning for in-network rates")
				in, err := fetch.Open(ctx, args[1], stdGzip, trk.SetProgress)
				if err != nil {
					w.Close()
					return fmt.Errorf("reopening input: %w", err)
				}
				sc := scan.New(source.New(in, bufSize))
				_, runErr := mrf.Run(sc, q, tr, cb, emit, res.Index)
				runErr = firstErr(runErr, writeErr, in.Close())
				if runErr != nil {
					w.Close()
					return runErr
				}
			}

			trk.Done()
			if res.EarlyExit {
				log.Warn().Msg("no query provider appears in this file; rate section skipped")
			}
			report.Build(tr).Log(log)
			if err := w.Close(); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}

			log.Info().
				Int64("records", records).
				Int("providers", res.Index.Len()).
				Msg("extraction complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "Output CSV path (use '-' for stdout)")
	cmd.Flags().IntVar(&bufferMB, "buffer-mb", 128, "Read buffer size in MiB")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVar(&logProgress, "log-progress", false, "Line-based progress for non-TTY environments")
	cmd.Flags().BoolVar(&stdGzip, "std-gzip", false, "Use the standard library gzip decoder instead of pgzip")

	return cmd
}

// counter adapts a progress tracker to the per-element callbacks.
func counter(trk progress.Tracker, name string) func() {
	var n int64
	return func() {
		n++
		trk.SetCounter(name, n)
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func newLookupCmd() *cobra.Command {
	var queryFile string

	cmd := &cobra.Command{
		Use:   "lookup [npi...]",
		Short: "Resolve NPI numbers against the NPPES registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			var npis []int64
			for _, a := range args {
				n, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid NPI %q", a)
				}
				npis = append(npis, n)
			}
			if queryFile != "" {
				q, err := query.ParseFile(queryFile)
				if err != nil {
					return fmt.Errorf("reading query: %w", err)
				}
				npis = append(npis, q.NPIs()...)
			}
			if len(npis) == 0 {
				return fmt.Errorf("no NPIs given; pass numbers or --query")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			results, errs := npi.LookupAll(ctx, npis)
			var failed bool
			for i, p := range results {
				switch {
				case errs[i] != nil:
					fmt.Fprintf(os.Stderr, "%d: %v\n", npis[i], errs[i])
					failed = true
				case p == nil:
					fmt.Printf("%d  not found in NPPES\n", npis[i])
				default:
					fmt.Println(p.Format())
				}
			}
			if failed {
				return fmt.Errorf("some lookups failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&queryFile, "query", "q", "", "Query file whose NPIs should be resolved")

	return cmd
}
