package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/config"
	"taskgate.dev/internal/migrate"
	"taskgate.dev/internal/store/pg"
	"taskgate.dev/internal/store/sqlite"
)

type options struct {
	driver     string
	dsn        string
	sqlitePath string
	policyFile string
	table      string
	timeout    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	_ = godotenv.Load()
	opts := &options{}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the taskgate database schema and access catalog",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.driver, "driver", envOr("STORE_DRIVER", config.DriverPostgres), "store driver for seed (postgres|sqlite)")
	flags.StringVar(&opts.dsn, "dsn", os.Getenv("PG_DSN"), "PostgreSQL DSN")
	flags.StringVar(&opts.sqlitePath, "sqlite-path", envOr("SQLITE_PATH", "taskgate.db"), "SQLite database file")
	flags.StringVar(&opts.policyFile, "policy", os.Getenv("AUTH_POLICY_FILE"), "policy YAML (embedded default when empty)")
	flags.StringVar(&opts.table, "table", "schema_migrations", "bookkeeping table name")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "overall timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, opts, func(ctx context.Context, m *migrate.Manager) error {
					applied, err := m.Up(ctx)
					if err != nil {
						return err
					}
					if len(applied) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
					}
					for _, name := range applied {
						fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, opts, func(ctx context.Context, m *migrate.Manager) error {
					name, err := m.Down(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, opts, func(ctx context.Context, m *migrate.Manager) error {
					history, err := m.Status(ctx)
					if err != nil {
						return err
					}
					for _, item := range history {
						fmt.Fprintln(cmd.OutOrStdout(), item)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Create the default permissions and roles",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSeed(cmd, opts)
			},
		},
	)
	return root
}

func withManager(cmd *cobra.Command, opts *options, fn func(context.Context, *migrate.Manager) error) error {
	if opts.dsn == "" {
		return fmt.Errorf("missing DSN: provide --dsn or PG_DSN")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	return fn(ctx, migrate.NewManager(db, migrate.Embedded(), migrate.WithMigrationsTable(opts.table)))
}

// seedStore is the subset of a store the catalog needs, plus Close.
type seedStore interface {
	auth.Store
	Close() error
}

func runSeed(cmd *cobra.Command, opts *options) error {
	policy, err := config.LoadPolicy(opts.policyFile)
	if err != nil {
		return err
	}

	var store seedStore
	switch opts.driver {
	case config.DriverPostgres:
		if opts.dsn == "" {
			return fmt.Errorf("missing DSN: provide --dsn or PG_DSN")
		}
		s, err := pg.Open(opts.dsn)
		if err != nil {
			return err
		}
		store = s
	case config.DriverSQLite:
		s, err := sqlite.Open(opts.sqlitePath)
		if err != nil {
			return err
		}
		store = s
	default:
		return fmt.Errorf("unsupported driver %q", opts.driver)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	authz, err := auth.NewAuthorizer(store, auth.WithPermissionCache(0, 0))
	if err != nil {
		return err
	}
	// Seeding never hashes passwords; the hasher only satisfies the directory.
	dir, err := auth.NewDirectory(store, auth.NewArgon2Hasher(), authz)
	if err != nil {
		return err
	}
	report, err := dir.ApplyCatalog(ctx, policy.Catalog)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "permissions created: %d\nroles created: %d\ngrants: %d\n",
		report.PermissionsCreated, report.RolesCreated, report.Grants)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
