package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/openchatroom/internal/config"
	"github.com/Tyrowin/openchatroom/internal/logging"
	"github.com/Tyrowin/openchatroom/internal/store"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			logger.Info("database schema is up to date", slog.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

// setup loads the configuration and builds the process logger.
func setup(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openStore connects to the database and applies the schema.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}
