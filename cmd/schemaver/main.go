package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tordrt/schemaver"
	"github.com/tordrt/schemaver/internal/config"
)

var (
	configPath    string
	dbURL         string
	migrationsDir string
	schemaName    string
	noLock        bool
	verbose       bool

	format     string
	outputFile string
	outputDir  string
	planDown   bool
	assumeYes  bool
)

var rootCmd = &cobra.Command{
	Use:   "schemaver",
	Short: "Move a database schema between versions",
	Long: `Schemaver keeps a PostgreSQL, MySQL or SQLite schema at a known version.
Versions are connected by SQL scripts named <from>-<to>.sql; schemaver finds the
shortest chain of scripts to a target version and applies it one transaction
per step.`,
	SilenceUsage: true,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current and latest version",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [version]",
	Short: "Upgrade to a version (default: latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUpgrade,
}

var downgradeCmd = &cobra.Command{
	Use:   "downgrade <version>",
	Short: "Downgrade to a version",
	Args:  cobra.ExactArgs(1),
	RunE:  runDowngrade,
}

var createCmd = &cobra.Command{
	Use:   "create [version]",
	Short: "Drop everything and build a version from scratch (default: latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCreate,
}

var emptyCmd = &cobra.Command{
	Use:   "empty",
	Short: "Drop every object of the schema",
	Args:  cobra.NoArgs,
	RunE:  runEmpty,
}

var planCmd = &cobra.Command{
	Use:   "plan [from] <to>",
	Short: "Show the steps between two versions without applying them",
	Long: `Plan prints the shortest chain of scripts from one version to another.
With a single argument the plan starts at the current version of the database.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPlan,
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "List the known versions and transitions",
	Args:  cobra.NoArgs,
	RunE:  runGraph,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "TOML config file")
	pf.StringVar(&dbURL, "db-url", "", "Database URL (postgres://, mysql://, sqlite://); default $"+config.EnvDatabaseURL)
	pf.StringVarP(&migrationsDir, "migrations", "m", "", "Migrations directory (default: migrations)")
	pf.StringVarP(&schemaName, "schema", "s", "", "PostgreSQL schema holding the version (default: public)")
	pf.BoolVar(&noLock, "no-lock", false, "Do not take the advisory migration lock")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log debug output")

	for _, cmd := range []*cobra.Command{statusCmd, planCmd, graphCmd} {
		cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text or markdown")
		cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	}
	planCmd.Flags().StringVarP(&outputDir, "output-dir", "d", "", "Write an overview and one file per step to this directory")
	planCmd.Flags().BoolVar(&planDown, "down", false, "Plan over downgrade edges")

	for _, cmd := range []*cobra.Command{createCmd, emptyCmd} {
		cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Confirm that the schema may be dropped")
	}

	rootCmd.AddCommand(statusCmd, upgradeCmd, downgradeCmd, createCmd, emptyCmd, planCmd, graphCmd)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig merges the config file, flags and environment. Flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.DatabaseURL = strings.TrimSpace(dbURL)
	}
	if flags.Changed("migrations") {
		// flag paths are relative to the working directory, not the config file
		abs, err := filepath.Abs(migrationsDir)
		if err != nil {
			return nil, fmt.Errorf("resolve migrations path: %w", err)
		}
		cfg.MigrationsDir = abs
	}
	if flags.Changed("schema") {
		cfg.Schema = strings.TrimSpace(schemaName)
	}
	if noLock {
		cfg.Lock = false
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func loadDefinitions(cfg *config.Config) (*schemaver.Definitions, error) {
	defs, err := schemaver.LoadDir(cfg.MigrationsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations from %s: %w", cfg.MigrationsPath(), err)
	}
	return defs, nil
}

func openMigrator(cmd *cobra.Command) (*schemaver.Migrator, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defs, err := loadDefinitions(cfg)
	if err != nil {
		return nil, err
	}
	return schemaver.Open(cmd.Context(), cfg.DatabaseURL, defs, &schemaver.Options{
		SchemaName:  cfg.Schema,
		DisableLock: !cfg.Lock,
		LockKey:     cfg.LockKey,
		Logger:      newLogger(cmd.ErrOrStderr(), verbose),
	})
}

// withMigrator opens the database for the duration of fn.
func withMigrator(cmd *cobra.Command, fn func(m *schemaver.Migrator) error) error {
	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close database connection: %v\n", err)
		}
	}()
	return fn(m)
}

// parseState parses a version argument.
func parseState(s string) (schemaver.State, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: must be a non-negative integer", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid version %q: must be a non-negative integer", s)
	}
	return schemaver.State(v), nil
}

func requireConfirmation(action string) error {
	if !assumeYes {
		return fmt.Errorf("%s drops every object of the schema; pass --yes to confirm", action)
	}
	return nil
}

// outputOptions opens --output if given. The returned func closes it.
func outputOptions(cmd *cobra.Command) (*schemaver.OutputOptions, func(), error) {
	opts := &schemaver.OutputOptions{Writer: cmd.OutOrStdout(), Format: format, OutputDir: outputDir}
	if outputDir != "" && outputFile != "" {
		return nil, nil, fmt.Errorf("cannot use both --output-dir and --output flags")
	}
	if outputFile == "" {
		return opts, func() {}, nil
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	opts.Writer = f
	closeFn := func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close output file: %v\n", err)
		}
	}
	return opts, closeFn, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withMigrator(cmd, func(m *schemaver.Migrator) error {
		st, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		opts, done, err := outputOptions(cmd)
		if err != nil {
			return err
		}
		defer done()
		return schemaver.WriteStatus(st, opts)
	})
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	return withMigrator(cmd, func(m *schemaver.Migrator) error {
		if len(args) == 0 {
			return m.UpgradeLatest(cmd.Context())
		}
		target, err := parseState(args[0])
		if err != nil {
			return err
		}
		return m.Upgrade(cmd.Context(), target)
	})
}

func runDowngrade(cmd *cobra.Command, args []string) error {
	target, err := parseState(args[0])
	if err != nil {
		return err
	}
	return withMigrator(cmd, func(m *schemaver.Migrator) error {
		return m.Downgrade(cmd.Context(), target)
	})
}

func runCreate(cmd *cobra.Command, args []string) error {
	if err := requireConfirmation("create"); err != nil {
		return err
	}
	return withMigrator(cmd, func(m *schemaver.Migrator) error {
		if len(args) == 0 {
			return m.ForceCreateLatest(cmd.Context())
		}
		target, err := parseState(args[0])
		if err != nil {
			return err
		}
		return m.ForceCreate(cmd.Context(), target)
	})
}

func runEmpty(cmd *cobra.Command, args []string) error {
	if err := requireConfirmation("empty"); err != nil {
		return err
	}
	return withMigrator(cmd, func(m *schemaver.Migrator) error {
		return m.Empty(cmd.Context())
	})
}

func runPlan(cmd *cobra.Command, args []string) error {
	dir := schemaver.UpgradeOnly
	if planDown {
		dir = schemaver.DowngradeOnly
	}
	to, err := parseState(args[len(args)-1])
	if err != nil {
		return err
	}

	var (
		g    *schemaver.Graph
		from schemaver.State
	)
	if len(args) == 2 {
		if from, err = parseState(args[0]); err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defs, err := loadDefinitions(cfg)
		if err != nil {
			return err
		}
		if g, err = schemaver.NewGraph(defs); err != nil {
			return err
		}
	} else {
		err := withMigrator(cmd, func(m *schemaver.Migrator) error {
			var err error
			from, err = m.CurrentState(cmd.Context())
			g = m.Graph()
			return err
		})
		if err != nil {
			return err
		}
	}

	plan, err := g.Plan(from, to, dir)
	if err != nil {
		return err
	}
	opts, done, err := outputOptions(cmd)
	if err != nil {
		return err
	}
	defer done()
	return schemaver.WritePlan(g, plan, dir, opts)
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defs, err := loadDefinitions(cfg)
	if err != nil {
		return err
	}
	g, err := schemaver.NewGraph(defs)
	if err != nil {
		return err
	}
	opts, done, err := outputOptions(cmd)
	if err != nil {
		return err
	}
	defer done()
	return schemaver.WriteGraph(g, opts)
}

// exitCode maps an error to the process exit status. Concurrency failures
// get their own code so that deploy tooling can retry them.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case schemaver.IsConcurrency(err):
		return 3
	case schemaver.IsConfiguration(err):
		return 2
	default:
		return 1
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}
