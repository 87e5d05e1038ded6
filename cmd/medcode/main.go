package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/medcode-resolver/internal/evaluation"
	"github.com/dshills/medcode-resolver/internal/httpapi"
	"github.com/dshills/medcode-resolver/internal/indexer"
	"github.com/dshills/medcode-resolver/internal/mcp"
	"github.com/dshills/medcode-resolver/internal/searcher"
	"github.com/dshills/medcode-resolver/internal/storage"
	"github.com/dshills/medcode-resolver/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// errJobIncomplete makes a job that failed rows or was interrupted exit non-zero
var errJobIncomplete = errors.New("job did not complete cleanly")

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:          "medcode",
		Short:        "Clinical entity to regional medical code resolver",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to an env file (default .env)")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(serveCmd(&envFile))
	rootCmd.AddCommand(mcpCmd(&envFile))
	rootCmd.AddCommand(importCmd(&envFile))
	rootCmd.AddCommand(normalizeCmd(&envFile))
	rootCmd.AddCommand(embedCmd(&envFile))
	rootCmd.AddCommand(statusCmd(&envFile))
	rootCmd.AddCommand(resolveCmd(&envFile))
	rootCmd.AddCommand(evalCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT/SIGTERM so jobs stop between batches
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "medcode %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP resolve API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv := httpapi.NewServer(a.searcher, a.storage, a.embedder.Model(), a.logger)
			addr := ":" + a.cfg.Port

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().Str("addr", addr).Str("version", version).Msg("starting HTTP server")
				errCh <- srv.Start(addr)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info().Msg("shutting down HTTP server")
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func mcpCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			server := mcp.NewServer(a.storage, a.indexer, a.searcher, a.embedder.Model(), a.logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Serve(ctx)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info().Msg("received signal, shutting down")
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
}

// jobFlags are shared by the corpus job commands
type jobFlags struct {
	batchSize   int
	workers     int
	dryRunLimit int
	skipEmpty   bool
	codeSystem  string
	country     string
	entityType  string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Rows per batch (default JOB_BATCH_SIZE)")
	cmd.Flags().IntVar(&f.dryRunLimit, "dry-run-limit", 0, "Process at most N rows and print before/after samples")
	cmd.Flags().StringVar(&f.codeSystem, "code-system", "", "Only process this code system")
	cmd.Flags().StringVar(&f.country, "country", "", "Only process this country")
	cmd.Flags().StringVar(&f.entityType, "entity-type", "", "Only process this entity type")
}

func (f *jobFlags) filter() storage.Filter {
	return storage.Filter{
		CodeSystem:  f.codeSystem,
		CountryCode: strings.ToUpper(f.country),
		EntityType:  types.EntityType(strings.ToLower(f.entityType)),
	}
}

func (f *jobFlags) validate() error {
	if f.entityType != "" && !types.EntityType(strings.ToLower(f.entityType)).Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidEntityType, f.entityType)
	}
	if f.dryRunLimit < 0 {
		return fmt.Errorf("--dry-run-limit cannot be negative")
	}
	return nil
}

func reportJob(cmd *cobra.Command, stats *indexer.Statistics) error {
	if err := writeJSON(cmd.OutOrStdout(), stats); err != nil {
		return err
	}
	if stats.Failed > 0 || stats.Interrupted {
		return fmt.Errorf("%w: %d failed, interrupted=%v", errJobIncomplete, stats.Failed, stats.Interrupted)
	}
	return nil
}

func normalizeCmd(envFile *string) *cobra.Command {
	flags := &jobFlags{}
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Populate normalized embedding text for corpus rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.indexer.NormalizeCorpus(ctx, a.jobConfig(flags))
			if err != nil {
				return err
			}
			return reportJob(cmd, stats)
		},
	}
	flags.register(cmd)
	return cmd
}

func embedCmd(envFile *string) *cobra.Command {
	flags := &jobFlags{}
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed corpus rows lacking a vector for the configured model",
		Long: `Embed corpus rows lacking a vector for the configured model.

The job is resumable: rows already embedded with the current model are never
re-sent to the provider. Interrupting it with Ctrl-C stops after the current
batch. The exit status is non-zero if any row failed or the run was interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			if flags.workers > indexer.MaxWorkers {
				return fmt.Errorf("--workers must be between 1 and %d", indexer.MaxWorkers)
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.indexer.EmbedCorpus(ctx, a.jobConfig(flags))
			if err != nil {
				return err
			}
			return reportJob(cmd, stats)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "Concurrent embedding calls per batch, 1-4 (default JOB_WORKERS)")
	cmd.Flags().BoolVar(&flags.skipEmpty, "skip-empty-normalization", false, "Skip rows whose normalization is empty")
	return cmd
}

func importCmd(envFile *string) *cobra.Command {
	var (
		comma      string
		codeSystem string
		country    string
		batchSize  int
	)
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Load or refresh corpus rows from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delim := []rune(comma)
			if len(delim) != 1 {
				return fmt.Errorf("--comma must be a single character")
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.indexer.ImportCSV(ctx, f, indexer.ImportOptions{
				Comma:              delim[0],
				BatchSize:          batchSize,
				DefaultCodeSystem:  codeSystem,
				DefaultCountryCode: country,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringVar(&comma, "comma", ",", "Field delimiter")
	cmd.Flags().StringVar(&codeSystem, "code-system", "", "Code system for rows that leave it empty")
	cmd.Flags().StringVar(&country, "country", "", "Country for rows that leave it empty")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows committed per transaction")
	return cmd
}

func statusCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report corpus size and embedding coverage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			status, err := a.storage.GetStatus(ctx, a.embedder.Model())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
}

func resolveCmd(envFile *string) *cobra.Command {
	req := searcher.ResolveRequest{}
	var entityType string
	cmd := &cobra.Command{
		Use:   "resolve <entity text>",
		Short: "Resolve one entity and print the ranked candidates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			req.EntityText = strings.Join(args, " ")
			req.EntityType = types.EntityType(entityType)
			resp, err := a.searcher.Resolve(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&req.InterpretedText, "interpreted", "", "Expanded interpretation of the entity")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Restrict candidates to one entity type")
	cmd.Flags().StringVar(&req.Country, "country", "", "ISO country code of the target code set")
	cmd.Flags().StringVar(&req.CodeSystem, "code-system", "", "Restrict candidates to one code system")
	cmd.Flags().IntVar(&req.MaxCandidates, "max", types.DefaultMaxCandidates, "Maximum ranked candidates")
	cmd.Flags().Float64Var(&req.MinSimilarity, "min-similarity", 0, "Drop candidates scoring below this")
	return cmd
}

func evalCmd(envFile *string) *cobra.Command {
	var (
		k             int
		minSimilarity float64
		sweepStep     float64
		lexicalWeight float64
		verbose       bool
	)
	cmd := &cobra.Command{
		Use:   "eval <cases.json>",
		Short: "Measure resolution accuracy against labelled cases",
		Long: `Measure resolution accuracy against labelled cases.

Reports top-1 accuracy, recall@k, MRR and precision per confidence bucket.
With --sweep, evaluates lexical weights from 0 to 1 in the given step and
reports the best blend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := evaluation.LoadCasesFile(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			opts := evaluation.Options{K: k, MinSimilarity: minSimilarity, Logger: a.logger}
			if cmd.Flags().Changed("lexical-weight") {
				opts.Weights = &searcher.Weights{Lexical: lexicalWeight, Vector: 1 - lexicalWeight}
			}

			if sweepStep > 0 {
				result, err := evaluation.SweepWeights(ctx, a.searcher, cases, sweepStep, opts)
				if err != nil {
					return err
				}
				if !verbose && result.BestReport != nil {
					result.BestReport.Results = nil
				}
				return writeJSON(cmd.OutOrStdout(), result)
			}

			report, err := evaluation.Evaluate(ctx, a.searcher, cases, opts)
			if err != nil {
				return err
			}
			if !verbose {
				report.Results = nil
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&k, "k", evaluation.DefaultK, "Cutoff for recall@k")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "Threshold passed to every resolve")
	cmd.Flags().Float64Var(&sweepStep, "sweep", 0, "Sweep lexical weight in this step (e.g. 0.1)")
	cmd.Flags().Float64Var(&lexicalWeight, "lexical-weight", searcher.DefaultLexicalWeight, "Evaluate a fixed lexical weight")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Include per-case results")
	return cmd
}
