package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tordrt/reshape"
	"github.com/tordrt/reshape/internal/config"
	"github.com/tordrt/reshape/internal/migration"
)

var (
	dbURL      string
	statePath  string
	schemaName string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "reshape",
	Short: "Zero-downtime schema migrations for PostgreSQL",
	Long: `Reshape applies schema changes in two steps. "migrate" expands the database so old and new
application code can run side by side, and "complete" removes what only old code needed.
"abort" rolls back a migration that has not been completed.

Migration files are given in the order they should be applied.`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate FILE...",
	Short: "Start every pending migration",
	Args:  cobra.MinimumNArgs(1),
	RunE: withReshape(func(ctx context.Context, r *reshape.Reshape, migrations []*migration.Migration, out io.Writer) error {
		if err := r.Migrate(ctx, migrations); err != nil {
			return err
		}
		fmt.Fprintln(out, "Migrations started. Run \"reshape complete\" once old code has been retired.")
		return nil
	}),
}

var completeCmd = &cobra.Command{
	Use:   "complete FILE...",
	Short: "Complete the in-progress migrations",
	Args:  cobra.MinimumNArgs(1),
	RunE: withReshape(func(ctx context.Context, r *reshape.Reshape, migrations []*migration.Migration, out io.Writer) error {
		if err := r.Complete(ctx, migrations); err != nil {
			return err
		}
		fmt.Fprintln(out, "Migrations completed.")
		return nil
	}),
}

var abortCmd = &cobra.Command{
	Use:   "abort FILE...",
	Short: "Revert the in-progress migrations",
	Args:  cobra.MinimumNArgs(1),
	RunE: withReshape(func(ctx context.Context, r *reshape.Reshape, migrations []*migration.Migration, out io.Writer) error {
		if err := r.Abort(ctx, migrations); err != nil {
			return err
		}
		fmt.Fprintln(out, "Migrations aborted.")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status FILE...",
	Short: "Show the phase of each migration",
	Args:  cobra.MinimumNArgs(1),
	RunE: withReshape(func(ctx context.Context, r *reshape.Reshape, migrations []*migration.Migration, out io.Writer) error {
		statuses, err := r.Status(ctx, migrations)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			phase := string(s.Phase)
			if phase == "" {
				phase = "pending"
			}
			fmt.Fprintf(out, "%-12s %s\n", phase, s.Name)
		}
		return nil
	}),
}

var schemaCmd = &cobra.Command{
	Use:   "schema FILE...",
	Short: "Print the schema seen by code written for the newest migration",
	Args:  cobra.MinimumNArgs(1),
	RunE: withReshape(func(ctx context.Context, r *reshape.Reshape, migrations []*migration.Migration, out io.Writer) error {
		s, err := r.Schema(ctx, migrations)
		if err != nil {
			return err
		}
		return reshape.FormatSchema(s, out)
	}),
}

var checkCmd = &cobra.Command{
	Use:   "check FILE...",
	Short: "Compare the completed migrations with the live database",
	Args:  cobra.MinimumNArgs(1),
	RunE: withReshape(func(ctx context.Context, r *reshape.Reshape, migrations []*migration.Migration, out io.Writer) error {
		diff, err := r.Check(ctx, migrations)
		if err != nil {
			return err
		}
		if len(diff) == 0 {
			fmt.Fprintln(out, "Database matches the completed migrations.")
			return nil
		}
		for _, d := range diff {
			fmt.Fprintln(out, d)
		}
		return fmt.Errorf("found %d difference(s)", len(diff))
	}),
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dbURL, "db-url", "", "PostgreSQL connection string (env RESHAPE_DATABASE_URL)")
	flags.StringVar(&statePath, "state", "", "Migration state file (env RESHAPE_STATE_PATH, default: reshape.db)")
	flags.StringVarP(&schemaName, "schema", "s", "", "Database schema name (env RESHAPE_SCHEMA, default: public)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (env RESHAPE_LOG_LEVEL)")
	flags.StringVar(&logFormat, "log-format", "", "Log format: text or json (env RESHAPE_LOG_FORMAT)")

	rootCmd.AddCommand(migrateCmd, completeCmd, abortCmd, statusCmd, schemaCmd, checkCmd)
}

// loadConfig reads the environment and applies any flags that were set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("--db-url or RESHAPE_DATABASE_URL must be specified")
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.DatabaseURL = dbURL
	}
	if flags.Changed("state") {
		cfg.StatePath = statePath
	}
	if flags.Changed("schema") {
		cfg.SchemaName = schemaName
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
}

type commandFunc func(ctx context.Context, r *reshape.Reshape, migrations []*migration.Migration, out io.Writer) error

// withReshape loads the migration files and opens a Reshape instance for fn
func withReshape(fn commandFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		migrations, err := reshape.LoadMigrations(args...)
		if err != nil {
			return err
		}

		logger, err := cfg.NewLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		r, err := reshape.Open(ctx, &reshape.Options{
			DatabaseURL: cfg.DatabaseURL,
			StatePath:   cfg.StatePath,
			SchemaName:  cfg.SchemaName,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := r.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close connections: %v\n", err)
			}
		}()

		return fn(ctx, r, migrations, cmd.OutOrStdout())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
