package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Rrens/healthchat/internal/config"
	"github.com/Rrens/healthchat/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	down := flag.Int("down", 0, "number of migration steps to roll back instead of migrating up")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Remote.Driver != config.DriverPostgres {
		log.Fatal().Str("driver", cfg.Remote.Driver).Msg("Migrations only apply to the postgres driver")
	}

	fmt.Printf("Migrating database at %s:%d...\n", cfg.Database.Host, cfg.Database.Port)

	if *down > 0 {
		if err := postgres.RollbackMigrations(cfg.Database.DSN(), cfg.Database.MigrationsURL, *down); err != nil {
			log.Fatal().Err(err).Msg("Rollback failed")
		}
		return
	}

	if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsURL); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
