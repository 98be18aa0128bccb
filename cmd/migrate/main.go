package main

// Run database migrations:
//   go run ./cmd/migrate up
//   go run ./cmd/migrate down
//   go run ./cmd/migrate status

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cv-adapter/internal/shared/config"
	"cv-adapter/internal/shared/storage/db"
	"cv-adapter/internal/shared/telemetry"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "cv-adapter-migrate",
		Short:         "Apply or inspect database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	for _, sub := range []struct {
		use, short string
		args       cobra.PositionalArgs
	}{
		{"up", "Apply all pending migrations", cobra.NoArgs},
		{"down", "Roll back the latest migration", cobra.NoArgs},
		{"status", "Print the state of every migration", cobra.NoArgs},
		{"version", "Print the current schema version", cobra.NoArgs},
		{"up-to VERSION", "Migrate up to VERSION", cobra.ExactArgs(1)},
		{"down-to VERSION", "Roll back to VERSION", cobra.ExactArgs(1)},
	} {
		root.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  sub.args,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), v, cmd.Name(), args)
			},
		})
	}
	return root
}

func run(ctx context.Context, v *viper.Viper, command string, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := telemetry.Init(cfg.LogJSON, cfg.LogDebug); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer telemetry.Sync()
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer sqlDB.Close()

	if err := db.Migrate(ctx, sqlDB, command, args...); err != nil {
		return err
	}
	telemetry.Info("migrate.done", map[string]any{"command": command})
	return nil
}
