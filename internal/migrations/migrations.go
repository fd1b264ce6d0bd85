package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/paymesh/paymesh-indexer/internal/db"
	"github.com/paymesh/paymesh-indexer/internal/logger"
)

//go:embed 001_projection.sql
var mig001 string

//go:embed 002_checkpoints.sql
var mig002 string

//go:embed 003_settlement_claims.sql
var mig003 string

// All returns the projection schema migrations in application order.
func All() []db.Migration {
	return []db.Migration{
		{ID: "001_projection.sql", SQL: mig001},
		{ID: "002_checkpoints.sql", SQL: mig002},
		{ID: "003_settlement_claims.sql", SQL: mig003},
	}
}

// RunMigrations brings the projection database schema up to date.
func RunMigrations(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrationsDB(log, sqlDB, All())
}
