package main

import (
	"database/sql"
	"flag"
	"log"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"posterly/internal/config"
	"posterly/internal/database/migrations"
	"posterly/internal/logger"
)

func main() {
	down := flag.Bool("down", false, "roll back all migrations instead of applying them")
	dir := flag.String("dir", "./migrations", "migrations directory")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	appLogger := logger.NewLogger()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer sqldb.Close()

	db := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(db, migrations.MigrateOptions{MigrationsDir: *dir}, appLogger)
	defer runner.Close()

	if *down {
		if err := runner.MigrateDown(); err != nil {
			log.Fatalf("migration down failed: %v", err)
		}
		appLogger.Info("DATABASE", "All migrations rolled back")
		return
	}

	if err := runner.RunMigrations(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	appLogger.Info("DATABASE", "Migrations applied")
}
