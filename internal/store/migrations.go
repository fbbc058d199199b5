package store

import (
	"database/sql"
	"log"

	"github.com/pressly/goose/v3"

	assets "github.com/lineci/lineci"
	"github.com/lineci/lineci/internal/settings"
)

// RunMigrations applies the embedded schema for the configured driver.
// The sqlite and postgres directories hold equivalent schemas in their
// respective dialects.
func RunMigrations(db *sql.DB) {
	goose.SetBaseFS(assets.MigrationsFS)

	dialect, dir := "sqlite", "migrations/sqlite"
	if settings.Settings != nil && settings.Settings.DatabaseDriver == "postgres" {
		dialect, dir = "postgres", "migrations/postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		log.Fatal(err)
	}
	if err := goose.Up(db, dir); err != nil {
		log.Fatal(err)
	}
}
