package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/paymesh/paymesh-indexer/internal/db"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/migrations"
	"github.com/stretchr/testify/require"
)

// NewTestDB returns a migrated projection database in a temporary directory.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	sqlDB, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "projection.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, migrations.RunMigrations(logger.NewNopLogger(), sqlDB))

	return sqlDB
}

// Snapshot renders every row of the given tables so two database states can be compared.
// Surrogate id columns are left out and rows are compared in sorted order.
func Snapshot(t testing.TB, sqlDB *sql.DB, tables ...string) map[string][]string {
	t.Helper()

	out := make(map[string][]string, len(tables))
	for _, table := range tables {
		rows, err := sqlDB.Query(`SELECT * FROM ` + table)
		require.NoError(t, err)

		cols, err := rows.Columns()
		require.NoError(t, err)

		for rows.Next() {
			values := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			require.NoError(t, rows.Scan(ptrs...))

			var line string
			for i, c := range cols {
				if c == "id" {
					continue
				}
				line += c + "=" + render(values[i]) + ";"
			}
			out[table] = append(out[table], line)
		}
		require.NoError(t, rows.Err())
		rows.Close()

		sort.Strings(out[table])
	}

	return out
}

func render(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// ProjectionTables lists every table written by event handlers.
var ProjectionTables = []string{
	"payment_groups",
	"group_members",
	"deployed_groups",
	"token_transfers",
	"group_payments",
	"update_requests",
	"update_approvals",
	"pending_updates",
	"events",
}
