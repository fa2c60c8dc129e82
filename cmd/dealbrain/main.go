package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dealbrain/dealbrain/internal/app"
	"github.com/dealbrain/dealbrain/internal/config"
)

const (
	appName = "dealbrain"
	version = "v0.4.0"
)

var (
	configPath string
	logLevel   string
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Listing ingestion and valuation pipeline for small form factor PCs",
		Version: version,
		Long: `Deal Brain ingests used and refurbished PC listings from marketplaces,
deduplicates them, applies valuation rulesets, and computes price/performance
metrics. Subcommands cover one-shot ingestion, bulk imports, partial-import
completion, listing pages, recalculation, baseline rulesets, migrations, and
the ops server.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (trace|debug|info|warn|error)")

	ingestCmd := &cobra.Command{
		Use:   "ingest [url]",
		Short: "Ingest one listing URL or a file of URLs",
		Long: `Ingest runs the full pipeline for a listing URL: adapter selection,
extraction, dedup, persistence, valuation, and metrics. With --file it runs a
bulk import with bounded concurrency and records an import job.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runIngest,
	}
	ingestCmd.Flags().String("file", "", "File of URLs, one per line (relative paths resolve against paths.import_root)")

	completeCmd := &cobra.Command{
		Use:   "complete <listing-id>",
		Short: "Complete a partial import by supplying the missing price",
		Args:  cobra.ExactArgs(1),
		RunE:  runComplete,
	}
	completeCmd.Flags().String("price", "", "Listed price in USD (required)")
	completeCmd.MarkFlagRequired("price")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List listings, one keyset page at a time",
		Long: `List prints a filtered, sorted page of listings. Page boundaries are
opaque cursors; pass the printed cursor back with --cursor to fetch the next
page. Totals come from the count cache.`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
	listCmd.Flags().String("status", "", "Filter by status (active|inactive|archived)")
	listCmd.Flags().String("marketplace", "", "Filter by marketplace")
	listCmd.Flags().String("quality", "", "Filter by quality (full|partial)")
	listCmd.Flags().String("manufacturer", "", "Filter by manufacturer")
	listCmd.Flags().String("min-price", "", "Minimum price in USD")
	listCmd.Flags().String("max-price", "", "Maximum price in USD")
	listCmd.Flags().String("sort", "id", "Sort column (id|price_usd|adjusted_price_usd|ram_gb|score_composite|created_at|updated_at|title)")
	listCmd.Flags().Bool("desc", false, "Sort descending")
	listCmd.Flags().Int("limit", 50, "Page size (max 500)")
	listCmd.Flags().String("cursor", "", "Resume from a previous page's cursor")
	listCmd.Flags().String("format", "table", "Output format: table, json")

	recalcCmd := &cobra.Command{
		Use:   "recalc",
		Short: "Enqueue listings for asynchronous revaluation",
		Long: `Recalc pushes jobs onto the recalculation queue. Target explicit listings
with --listings, or every listing a ruleset change could affect with --ruleset.
A running worker pool (dealbrain worker) drains the queue.`,
		RunE: runRecalc,
	}
	recalcCmd.Flags().Int64("ruleset", 0, "Enqueue all listings affected by this ruleset")
	recalcCmd.Flags().String("listings", "", "Comma-separated listing IDs")
	recalcCmd.Flags().String("reason", "rule_updated", "Recalculation reason")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the recalculation worker pool",
		RunE:  runWorker,
	}
	workerCmd.Flags().Int("concurrency", 0, "Worker pool size override (default from config)")

	baselineCmd := &cobra.Command{
		Use:   "baseline",
		Short: "Baseline ruleset management",
	}
	baselineLoadCmd := &cobra.Command{
		Use:   "load <file.json>",
		Short: "Adopt a baseline document as a system ruleset",
		Long: `Load parses a baseline valuation document and materializes it as a system
ruleset with placeholder rules. Loading is idempotent per content hash; a
document already adopted is skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: runBaselineLoad,
	}
	baselineHydrateCmd := &cobra.Command{
		Use:   "hydrate <ruleset-id>",
		Short: "Expand baseline placeholders into evaluable rules",
		Args:  cobra.ExactArgs(1),
		RunE:  runBaselineHydrate,
	}
	for _, c := range []*cobra.Command{baselineLoadCmd, baselineHydrateCmd} {
		c.Flags().String("actor", "cli", "Audit actor recorded for rule writes")
	}
	baselineCmd.AddCommand(baselineLoadCmd)
	baselineCmd.AddCommand(baselineHydrateCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
	}
	migrateUpCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
	migrateDownCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE:  runMigrateDown,
	}
	migrateCmd.PersistentFlags().String("dir", "migrations", "Migrations directory")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the operational HTTP server (/health, /metrics)",
		RunE:  runMonitor,
	}
	monitorCmd.Flags().String("addr", "", "Listen address override (default from config)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(recalcCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(baselineCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(monitorCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the log level, flag winning
// over the file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)
	return cfg, nil
}

// boot wires the full service graph. Callers own Close.
func boot() (*app.Services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, log.Logger)
}
