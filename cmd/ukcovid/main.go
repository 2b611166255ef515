package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/TobiSchelling/ukcovid/internal/config"
	"github.com/TobiSchelling/ukcovid/internal/database"
	"github.com/TobiSchelling/ukcovid/internal/dataset"
	"github.com/TobiSchelling/ukcovid/internal/geocode"
	"github.com/TobiSchelling/ukcovid/internal/pipeline"
	"github.com/TobiSchelling/ukcovid/internal/server"
	"github.com/TobiSchelling/ukcovid/internal/source"
	"github.com/TobiSchelling/ukcovid/internal/spreadsheet"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ukcovid",
	Short:   "UK Covid-19 statistics loader and dashboard",
	Long:    "ukcovid loads dated releases of the UK coronavirus statistics, geocodes local authorities and serves a dashboard over them.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			initLog("")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		initLog(cfg.Logging.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(postcodeCmd)
	rootCmd.AddCommand(runsCmd)
}

func initLog(level string) {
	logLevel, err := log.ParseLevel(level)
	if err != nil {
		logLevel = log.InfoLevel
	}
	if verbose {
		logLevel = log.DebugLevel
	}
	log.SetLevel(logLevel)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&prefixed.TextFormatter{
		ForceFormatting: true,
		FullTimestamp:   true,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ukcovid", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/ukcovid/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to change the data source, geocoding provider and coordinate overrides.")
		return nil
	},
}

var statusDate string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n", database.GetToday())
		fmt.Printf("Database: %s\n\n", db.Path())
		for _, s := range []struct {
			name  string
			stats database.DatasetStats
		}{{"Daily (ltla)", stats.Daily}, {"Totals (overview)", stats.Totals}} {
			fmt.Printf("%s:\n", s.name)
			fmt.Printf("  Rows: %d\n", s.stats.Rows)
			fmt.Printf("  Dates: %d\n", s.stats.Dates)
			if s.stats.LatestDate != "" {
				fmt.Printf("  Latest: %s\n", database.FormatDateDisplay(s.stats.LatestDate))
			}
		}
		if statusDate != "" {
			date, err := dataset.NormalizeDate(statusDate)
			if err != nil {
				return err
			}
			fmt.Printf("\nRows for %s:\n", database.FormatDateDisplay(date))
			for _, kind := range dataset.Kinds {
				n, err := db.CountRecords(cmd.Context(), kind, date)
				if err != nil {
					return fmt.Errorf("counting %s rows: %w", kind, err)
				}
				fmt.Printf("  %s: %d\n", kind, n)
			}
		}
		fmt.Printf("\nIngest runs logged: %d\n", stats.IngestRuns)
		fmt.Printf("Geocoding provider: %s\n", cfg.Geocoding.Provider)
		return nil
	},
}

// --- ingest command ---

var (
	ingestKind string
	dryRun     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [date]",
	Short: "Load one release date into the datasets (default: today)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := database.GetToday()
		if len(args) == 1 {
			d, err := dataset.NormalizeDate(args[0])
			if err != nil {
				return err
			}
			date = d
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		pipe, err := buildPipeline(ctx, db)
		if err != nil {
			return err
		}

		if dryRun {
			for _, line := range pipe.DryRun(date) {
				fmt.Println(line)
			}
			return nil
		}

		var results []pipeline.Result
		if ingestKind == "" {
			results = pipe.IngestAll(ctx, date)
		} else {
			kind, err := dataset.ParseKind(ingestKind)
			if err != nil {
				return err
			}
			results = []pipeline.Result{pipe.Ingest(ctx, kind, date)}
		}

		failed := 0
		for _, res := range results {
			fmt.Printf("%s %s: %s", res.Kind, database.FormatDateDisplay(res.Date), res.Message())
			if res.Outcome == pipeline.Uploaded {
				fmt.Printf(" (%d rows)", res.Rows)
			}
			fmt.Println()
			if len(res.Unresolved) > 0 {
				fmt.Printf("  No coordinates for: %s\n", strings.Join(res.Unresolved, ", "))
			}
			if !res.OK() {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d ingestion run(s) failed", failed)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusDate, "date", "d", "", "Also count the rows stored for one date")
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestKind, "kind", "k", "", "Only ingest one dataset (daily or totals)")
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := buildPipeline(cmd.Context(), db)
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		local := source.NewLocalAreas(source.NewClient(cfg.Source.BaseURL, cfg.SourceTimeout()), cfg.LocalRefresh())
		return server.Serve(pipe, db, server.Options{
			TopN:             cfg.Dashboard.TopN,
			TableRows:        cfg.Dashboard.TableRows,
			DefaultArea:      cfg.Dashboard.DefaultArea,
			MinDate:          cfg.Dashboard.MinDate,
			Local:            local,
			Postcodes:        geocode.NewPostcodeLookup(cfg.Geocoding.PostcodeURL, cfg.GeocodingTimeout()),
			DefaultLocalArea: cfg.Dashboard.DefaultLocalArea,
		}, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- import / export commands ---

var sheetKind string

var importCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Append rows from a workbook, skipping dates already loaded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := dataset.ParseKind(sheetKind)
		if err != nil {
			return err
		}

		rows, err := spreadsheet.Import(args[0], kind)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := buildPipeline(cmd.Context(), db)
		if err != nil {
			return err
		}

		var uploaded, skipped, failed int
		for _, res := range pipe.Backfill(cmd.Context(), kind, rows) {
			switch res.Outcome {
			case pipeline.Uploaded:
				uploaded++
			case pipeline.AlreadyPresent:
				skipped++
			default:
				failed++
				fmt.Printf("  %s: %s\n", res.Date, res.Message())
			}
		}
		fmt.Printf("Imported %d date(s), %d already present, %d failed\n", uploaded, skipped, failed)
		if failed > 0 {
			return fmt.Errorf("%d date(s) failed to import", failed)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Write a dataset to a workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := dataset.ParseKind(sheetKind)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := db.LoadRecords(cmd.Context(), kind)
		if err != nil {
			return err
		}
		if err := spreadsheet.Export(args[0], kind, rows); err != nil {
			return err
		}
		fmt.Printf("Wrote %d %s rows to %s\n", len(rows), kind, args[0])
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&sheetKind, "kind", "k", "daily", "Dataset (daily or totals)")
	exportCmd.Flags().StringVarP(&sheetKind, "kind", "k", "daily", "Dataset (daily or totals)")
}

// --- lookup commands ---

var resolveCmd = &cobra.Command{
	Use:   "resolve <area>",
	Short: "Show the coordinates ingestion would attach to an area",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ledger, err := pipeline.LoadLedger(cmd.Context(), db)
		if err != nil {
			return err
		}
		resolver, err := buildResolver(ledger.Dataset(dataset.Daily))
		if err != nil {
			return err
		}

		area := args[0]
		if canonical := resolver.Canonical(area); canonical != area {
			fmt.Printf("%s is looked up as %s\n", area, canonical)
		}
		p, ok := resolver.Resolve(cmd.Context(), area)
		if !ok {
			return fmt.Errorf("no coordinates found for %s", area)
		}
		fmt.Printf("%s: %.7f, %.7f\n", area, p.Lat, p.Lon)
		return nil
	},
}

var postcodeCmd = &cobra.Command{
	Use:   "postcode <postcode>",
	Short: "Find the local area (MSOA) of a postcode",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lookup := geocode.NewPostcodeLookup(cfg.Geocoding.PostcodeURL, cfg.GeocodingTimeout())
		postcode := strings.Join(args, " ")
		area, err := lookup.LocalArea(cmd.Context(), postcode)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", strings.ToUpper(strings.TrimSpace(postcode)), area)
		return nil
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.GetRecentRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No ingest runs recorded. Load data with: ukcovid ingest <date>")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("  %s  %-6s %s  %-18s %5d rows  %s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Kind, r.Date, r.Outcome, r.RowCount, r.Message)
			if len(r.Unresolved) > 0 {
				fmt.Printf("        unresolved: %s\n", strings.Join(r.Unresolved, ", "))
			}
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
}

// --- wiring ---

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "ukcovid.db")
	return database.Open(dbPath)
}

func newLocator() (geocode.Locator, error) {
	g := cfg.Geocoding
	if g.Provider == "google" {
		key := os.Getenv(g.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("geocoding provider google needs %s to be set", g.APIKeyEnv)
		}
		return geocode.NewMapsLocator(key)
	}
	return geocode.NewAreaTable(g.AreasURL, cfg.GeocodingTimeout()), nil
}

func buildResolver(cache geocode.CoordinateCache) (*geocode.Resolver, error) {
	live, err := newLocator()
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]dataset.Point, len(cfg.Geocoding.Overrides))
	for _, o := range cfg.Geocoding.Overrides {
		overrides[o.Name] = dataset.Point{Lat: o.Latitude, Lon: o.Longitude}
	}
	return geocode.NewResolver(cache, live, cfg.Geocoding.Aliases, overrides), nil
}

func buildPipeline(ctx context.Context, db *database.DB) (*pipeline.Pipeline, error) {
	ledger, err := pipeline.LoadLedger(ctx, db)
	if err != nil {
		return nil, err
	}
	resolver, err := buildResolver(ledger.Dataset(dataset.Daily))
	if err != nil {
		return nil, err
	}
	src := source.NewClient(cfg.Source.BaseURL, cfg.SourceTimeout())
	return pipeline.New(db, src, resolver, ledger, pipeline.Options{MinDate: cfg.Dashboard.MinDate}), nil
}
