package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tordrt/migrationengine"
	"github.com/tordrt/migrationengine/internal/config"
	"github.com/tordrt/migrationengine/internal/datamodel"
	"github.com/tordrt/migrationengine/internal/formatter"
	"github.com/tordrt/migrationengine/internal/rpc"
	"github.com/tordrt/migrationengine/internal/schema"
)

var (
	configPath string
	single     bool

	outputFile string
	outputDir  string
	tables     string
	exclude    string
	format     string
)

var rootCmd = &cobra.Command{
	Use:   "migration-engine",
	Short: "Schema migration engine speaking JSON-RPC over stdio",
	Long: `migration-engine reads JSON-RPC 2.0 requests from stdin and writes responses to stdout.
It infers, previews, applies and reverts schema migrations for the database named by CONNECTION_STRING.
Logs are written to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          serve,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the live database schema",
	Long:  `Inspect introspects the database named by CONNECTION_STRING and prints its schema as text, markdown or a data model.`,
	Args:  cobra.NoArgs,
	RunE:  inspect,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.Flags().Int("workers", 4, "Maximum number of requests handled concurrently")
	rootCmd.Flags().BoolVar(&single, "single", false, "Handle one request, then exit")

	inspectCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	inspectCmd.Flags().StringVarP(&outputDir, "output-dir", "d", "", "Output directory for one file per table")
	inspectCmd.Flags().StringVarP(&tables, "tables", "t", "", "Specific tables (comma-separated, optional)")
	inspectCmd.Flags().StringVarP(&exclude, "exclude", "x", "", "Tables to leave out (comma-separated, optional)")
	inspectCmd.Flags().StringVarP(&format, "format", "f", formatter.FormatText, "Output format: text, markdown or datamodel")

	rootCmd.AddCommand(inspectCmd)
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	engine, err := migrationengine.New(cfg.ConnectionString, logger)
	if err != nil {
		return config.ConfigError("invalid CONNECTION_STRING", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("failed to close database connection", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := rpc.NewServer(engine.Handlers(), rpc.Options{
		Workers:         cfg.Workers,
		MaxRequestBytes: cfg.MaxRequestBytes,
		Single:          single,
	}, logger)

	logger.Info("migration engine started", "backend", string(engine.Type()), "workers", cfg.Workers)
	return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}

func inspect(cmd *cobra.Command, _ []string) error {
	if outputDir != "" && outputFile != "" {
		return fmt.Errorf("cannot use both --output-dir and --output flags")
	}
	switch format {
	case formatter.FormatText, formatter.FormatMarkdown:
	case formatter.FormatDatamodel:
		if outputDir != "" {
			return fmt.Errorf("--output-dir does not support the %s format", format)
		}
	default:
		return fmt.Errorf("invalid format: %s (must be 'text', 'markdown' or 'datamodel')", format)
	}

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	engine, err := migrationengine.New(cfg.ConnectionString, cfg.Logger())
	if err != nil {
		return config.ConfigError("invalid CONNECTION_STRING", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close database connection: %v\n", err)
		}
	}()

	s, err := engine.Inspect(cmd.Context())
	if err != nil {
		return err
	}
	if only := parseTableList(tables); len(only) > 0 {
		keepTables(s, only)
	}
	filterExcludedTables(s, parseTableList(exclude))

	if outputDir != "" {
		if err := formatter.NewMultiFileFormatter(outputDir, format).Format(s); err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		return nil
	}

	w := cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close output file: %v\n", err)
			}
		}()
		w = f
	}

	if err := writeSchema(w, s, format); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	return nil
}

func writeSchema(w io.Writer, s *schema.Schema, format string) error {
	switch format {
	case formatter.FormatMarkdown:
		return formatter.NewMarkdownFormatter(w).Format(s)
	case formatter.FormatDatamodel:
		_, err := io.WriteString(w, datamodel.Render(s))
		return err
	default:
		return formatter.NewTextFormatter(w).Format(s)
	}
}

// parseTableList splits a comma-separated flag value.
func parseTableList(list string) []string {
	if list == "" {
		return nil
	}
	names := strings.Split(list, ",")
	for i, name := range names {
		names[i] = strings.TrimSpace(name)
	}
	return names
}

// keepTables drops every table not named in only.
func keepTables(s *schema.Schema, only []string) {
	keep := make(map[string]bool, len(only))
	for _, name := range only {
		keep[name] = true
	}
	filtered := make([]schema.Table, 0, len(only))
	for _, table := range s.Tables {
		if keep[table.Name] {
			filtered = append(filtered, table)
		}
	}
	s.Tables = filtered
}

func filterExcludedTables(s *schema.Schema, excludeList []string) {
	if len(excludeList) == 0 {
		return
	}

	excludeSet := make(map[string]bool)
	for _, tableName := range excludeList {
		excludeSet[tableName] = true
	}

	filteredTables := make([]schema.Table, 0, len(s.Tables))
	for _, table := range s.Tables {
		if !excludeSet[table.Name] {
			filteredTables = append(filteredTables, table)
		}
	}
	s.Tables = filteredTables
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(config.ExitCode(os.Stderr, err))
	}
}
