package database

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/stdlib"

	"github.com/crosbyhealth/mcdp-app/log"
)

// Variable substitution to support testing.
var LogFatal = log.API.Fatal

// GetDbConnection opens a pooled connection to the correlation store. The
// process exits when the store is unreachable; everything downstream needs it.
func GetDbConnection() *sql.DB {
	cfg, err := LoadConfig()
	if err != nil {
		LogFatal(err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		LogFatal(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMin) * time.Minute)
	db.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if pingErr := db.Ping(); pingErr != nil {
		LogFatal(pingErr)
	}
	return db
}
