package main

import (
	"flag"
	"log"

	"github.com/damoang/refund-reconciler/internal/bootstrap"
	"github.com/damoang/refund-reconciler/internal/migration"
	pkglogger "github.com/damoang/refund-reconciler/pkg/logger"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "config file path (default: configs/config.$APP_ENV.yaml)")
	seedDemo := flag.Bool("seed-demo", false, "insert demo orders and payments when the payment table is empty")
	flag.Parse()

	cfg, err := bootstrap.Init(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zlog := pkglogger.GetLogger()

	db, err := bootstrap.OpenDatabase(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to get underlying DB")
	}
	defer sqlDB.Close()

	if err := migration.Run(db); err != nil {
		zlog.Fatal().Err(err).Msg("migration failed")
	}
	zlog.Info().Int("tables", len(migration.Models())).Msg("schema migrated")

	if *seedDemo {
		if err := migration.SeedDemo(db); err != nil {
			zlog.Fatal().Err(err).Msg("demo seed failed")
		}
		zlog.Info().Msg("demo data seeded")
	}
}
