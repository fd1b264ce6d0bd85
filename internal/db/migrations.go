package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/paymesh/paymesh-indexer/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	UpDownSeparator = "-- +migrate Up"
	downMarker      = "-- +migrate Down"
)

// Migration is a single embedded SQL file holding a Down section followed by an Up section.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrationsDB applies every pending migration in order.
func RunMigrationsDB(log *logger.Logger, db *sql.DB, migrations []Migration) error {
	src, err := migrationSource(migrations)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(src.Migrations))
	for _, m := range src.Migrations {
		ids = append(ids, m.Id)
	}

	log.Debugf("running migrations: %s", strings.Join(ids, ", "))

	n, err := migrate.Exec(db, "sqlite3", src, migrate.Up)
	if err != nil {
		return fmt.Errorf("error executing migrations %s: %w", strings.Join(ids, ", "), err)
	}

	log.Infof("successfully ran %d migrations", n)
	return nil
}

func migrationSource(migrations []Migration) (*migrate.MemoryMigrationSource, error) {
	src := &migrate.MemoryMigrationSource{Migrations: make([]*migrate.Migration, 0, len(migrations))}

	for _, m := range migrations {
		down, up, found := strings.Cut(m.SQL, UpDownSeparator)
		if !found {
			return nil, fmt.Errorf("migration %s missing '%s' separator", m.ID, UpDownSeparator)
		}

		if idx := strings.Index(down, downMarker); idx != -1 {
			down = down[idx+len(downMarker):]
		}

		src.Migrations = append(src.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{strings.TrimSpace(up)},
			Down: []string{strings.TrimSpace(down)},
		})
	}

	return src, nil
}
