package store

import (
	"database/sql"
	"log"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lineci/lineci/internal/settings"
)

// InitDatabase opens the configured backend: modernc sqlite by default,
// postgres over pgx when LINECI_DB_DRIVER=postgres. The sqlite write
// handle is kept to a single connection; the read handle scales with the
// CPU count.
func InitDatabase(readonly bool) *sql.DB {
	if settings.Settings.DatabaseDriver == "postgres" {
		db, err := sql.Open("pgx", settings.Settings.PostgresDSN)
		if err != nil {
			log.Fatal("fatal error opening postgres database:", err)
		}
		return db
	}

	db, err := sql.Open("sqlite", settings.Settings.SQLiteDbString(readonly))
	if err != nil {
		log.Fatal("fatal error opening sqlite database:", err)
	}

	if readonly {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
	} else {
		if _, err := db.Exec("PRAGMA temp_store=memory"); err != nil {
			log.Fatal(err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			log.Fatal(err)
		}
		db.SetMaxOpenConns(1)
	}

	return db
}
