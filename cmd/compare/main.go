package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kmehring/go-dbapi-compare/config"
	"github.com/kmehring/go-dbapi-compare/exporter"
	"github.com/kmehring/go-dbapi-compare/progress"
	"github.com/kmehring/go-dbapi-compare/runner"
)

func main() {
	defaultCfg := config.DefaultConfig()

	pageCapDefault := defaultCfg.API.PageCap
	if value, ok, err := config.EnvInt("COMPARE_PAGE_CAP"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid COMPARE_PAGE_CAP: %v\n", err)
		os.Exit(1)
	} else if ok {
		pageCapDefault = value
	}
	authDefault := ""
	if value, ok := config.EnvString("COMPARE_API_AUTH"); ok {
		authDefault = value
	}
	exportDefault := defaultCfg.ExportDir
	if value, ok := config.EnvString("COMPARE_EXPORT_DIR"); ok {
		exportDefault = value
	}

	dbDriver := flag.String("db-driver", defaultCfg.SQL.Driver, "Database driver: sqlite3 or postgres")
	dbDSN := flag.String("db-dsn", "", "Database connection string")
	dbSQL := flag.String("sql", "", "SELECT statement to execute")
	dbSQLFile := flag.String("sql-file", "", "File containing the SELECT statement (overrides -sql)")
	dbMaxRows := flag.Int("max-rows", defaultCfg.SQL.MaxRows, "Hard cap on rows read from the database")

	apiBaseURL := flag.String("api-base-url", "", "API base URL")
	apiRole := flag.String("api-role", "", "API role path segment")
	apiResource := flag.String("api-resource", "", "API resource path segment")
	apiAlias := flag.String("api-alias", "", "Alias header value (upper-cased before sending)")
	apiAuth := flag.String("api-auth", authDefault, "Authorization header value (or COMPARE_API_AUTH)")
	apiSelect := flag.String("api-select", "", "Optional OData $select expression")
	apiUpdates := flag.Bool("api-updates", false, "Use the updates endpoint with a time window")
	pageCap := flag.Int("page-cap", pageCapDefault, "Maximum pages to fetch per run")
	apiTimeoutS := flag.Int("api-timeout", 60, "API request timeout (seconds)")

	fromDate := flag.String("from-date", "", "Updates window start date (YYYY-MM-DD)")
	toDate := flag.String("to-date", "", "Updates window end date (YYYY-MM-DD)")
	fromTime := flag.String("from-time", defaultCfg.Window.FromTime, "Updates window start time (HH:MM:SS)")
	toTime := flag.String("to-time", defaultCfg.Window.ToTime, "Updates window end time (HH:MM:SS)")
	timezone := flag.String("timezone", defaultCfg.Window.Timezone, "Timezone for the updates window")

	dbKey := flag.String("db-key", "", "Join key column in the DB result")
	apiKey := flag.String("api-key", "", "Join key column in the API result")
	joinHow := flag.String("join", defaultCfg.Join.How, "Join mode: inner, left, right, or outer")
	dbPrefix := flag.String("db-prefix", defaultCfg.Join.DBPrefix, "Column prefix for DB columns")
	apiPrefix := flag.String("api-prefix", defaultCfg.Join.APIPrefix, "Column prefix for API columns")

	script := flag.String("script", "", "Validator script path (enables validation)")
	exportDir := flag.String("export-dir", exportDefault, "Export directory (or COMPARE_EXPORT_DIR)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.SQL.Driver = *dbDriver
	cfg.SQL.DSN = *dbDSN
	cfg.SQL.SQL = *dbSQL
	cfg.SQL.MaxRows = *dbMaxRows
	if *dbSQLFile != "" {
		raw, err := os.ReadFile(*dbSQLFile)
		if err != nil {
			logger.Error("reading sql file", slog.Any("error", err))
			os.Exit(1)
		}
		cfg.SQL.SQL = string(raw)
	}
	cfg.API.BaseURL = *apiBaseURL
	cfg.API.Role = *apiRole
	cfg.API.Resource = *apiResource
	cfg.API.Alias = *apiAlias
	cfg.API.Auth = *apiAuth
	cfg.API.Select = *apiSelect
	cfg.API.UseUpdates = *apiUpdates
	cfg.API.PageCap = *pageCap
	cfg.API.Timeout = time.Duration(*apiTimeoutS) * time.Second
	cfg.Window.FromDate = *fromDate
	cfg.Window.ToDate = *toDate
	cfg.Window.FromTime = *fromTime
	cfg.Window.ToTime = *toTime
	cfg.Window.Timezone = *timezone
	cfg.Join.DBKey = *dbKey
	cfg.Join.APIKey = *apiKey
	cfg.Join.How = strings.ToLower(*joinHow)
	cfg.Join.DBPrefix = *dbPrefix
	cfg.Join.APIPrefix = *apiPrefix
	cfg.Validator.ScriptPath = *script
	cfg.Validator.Enabled = *script != ""
	cfg.ExportDir = *exportDir
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting comparison",
		slog.String("api_base_url", cfg.API.BaseURL),
		slog.String("db_driver", cfg.SQL.Driver),
		slog.Int("page_cap", cfg.API.PageCap),
		slog.Bool("validate", cfg.Validator.Enabled),
	)

	sink := progress.NewSink()
	sink.Pump(200*time.Millisecond, func(msg string) {
		logger.Info(msg)
	})
	defer sink.Stop()

	r, err := runner.New(cfg, logger, sink)
	if err != nil {
		logger.Error("initialising runner", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		r.Cancel()
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(r.APIMetrics().Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		logger.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	startTime := time.Now()
	result, err := r.Run(ctx)
	if err != nil {
		logger.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}

	if result.Phase == runner.PhaseDone {
		paths, err := exporter.ExportRun(cfg.ExportDir, result.DB, result.API, result.Merged)
		if err != nil {
			logger.Error("export failed", slog.Any("error", err))
			os.Exit(1)
		}
		sink.Putf("export complete: %s", paths.Folder)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime))
}

func printSummary(result *runner.Result, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Comparison complete")
	fmt.Printf("  Run:           %s (%s)\n", result.ID, result.Phase)
	fmt.Printf("  DB rows:       %d\n", result.DB.Len())
	fmt.Printf("  API rows:      %d\n", result.API.Len())
	fmt.Printf("  Merged rows:   %d\n", result.Merged.Len())
	if result.Merged.HasColumn("validation_ok") {
		okIdx := result.Merged.ColumnIndex("validation_ok")
		passed := 0
		for _, row := range result.Merged.Rows {
			if ok, _ := row[okIdx].(bool); ok {
				passed++
			}
		}
		fmt.Printf("  Validation:    %d/%d passed\n", passed, result.Merged.Len())
	}
	fmt.Printf("  Script lines:  %d\n", len(result.Logs))
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
