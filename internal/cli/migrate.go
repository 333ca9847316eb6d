package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"attendsync/internal/db"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	DatabaseURL string
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the embedded SQL migrations for the mirror document tables.

Migrations are idempotent and safe to run on every deploy.

Example:
  attendsync migrate --database-url postgres://localhost/attendsync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "PostgreSQL DSN (defaults to DATABASE_URL)")

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions) error {
	dsn := opts.DatabaseURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return errors.New("no database configured: set DATABASE_URL or pass --database-url")
	}

	database, err := db.Connect(dsn)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
