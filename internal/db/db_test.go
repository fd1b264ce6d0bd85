package db

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/pkg/config"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/require"
)

const testMigration = `
-- +migrate Down
DROP TABLE IF EXISTS wallets;

-- +migrate Up
CREATE TABLE IF NOT EXISTS wallets (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    owner     TEXT NOT NULL,
    last_tx   TEXT,
    delegate  TEXT
);
`

type wallet struct {
	ID       int64           `meddler:"id,pk"`
	Owner    common.Address  `meddler:"owner,address"`
	LastTx   common.Hash     `meddler:"last_tx,hash"`
	Delegate *common.Address `meddler:"delegate,address"`
}

func setupTestDB(t *testing.T, journal string) *sql.DB {
	t.Helper()

	dbConfig := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.sqlite"), JournalMode: journal}
	dbConfig.ApplyDefaults()

	sqlDB, err := NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, RunMigrationsDB(logger.NewNopLogger(), sqlDB, []Migration{{ID: "001_wallets.sql", SQL: testMigration}}))

	return sqlDB
}

func TestNewSQLiteDBFromConfig_JournalModes(t *testing.T) {
	for _, mode := range []string{"WAL", "DELETE", "TRUNCATE"} {
		t.Run(mode, func(t *testing.T) {
			sqlDB := setupTestDB(t, mode)

			var got string
			require.NoError(t, sqlDB.QueryRow("PRAGMA journal_mode").Scan(&got))
			require.Equal(t, mode, strings.ToUpper(got))
		})
	}
}

func TestRunMigrationsDB_Idempotent(t *testing.T) {
	sqlDB := setupTestDB(t, "WAL")

	require.NoError(t, RunMigrationsDB(logger.NewNopLogger(), sqlDB, []Migration{{ID: "001_wallets.sql", SQL: testMigration}}))

	var applied int
	require.NoError(t, sqlDB.QueryRow("SELECT COUNT(*) FROM gorp_migrations").Scan(&applied))
	require.Equal(t, 1, applied)
}

func TestRunMigrationsDB_MissingSeparator(t *testing.T) {
	sqlDB, err := NewSQLiteDB(filepath.Join(t.TempDir(), "bad.sqlite"))
	require.NoError(t, err)
	defer sqlDB.Close()

	err = RunMigrationsDB(logger.NewNopLogger(), sqlDB, []Migration{{ID: "bad.sql", SQL: "CREATE TABLE x (id INTEGER);"}})
	require.ErrorContains(t, err, "missing")
}

func TestHexMeddlers(t *testing.T) {
	sqlDB := setupTestDB(t, "WAL")

	owner := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	w := &wallet{Owner: owner, LastTx: common.HexToHash("0xabc")}
	require.NoError(t, meddler.Insert(sqlDB, "wallets", w))

	var raw string
	require.NoError(t, sqlDB.QueryRow("SELECT owner FROM wallets WHERE id = ?", w.ID).Scan(&raw))
	require.Equal(t, AddressKey(owner), raw)

	var loaded wallet
	require.NoError(t, meddler.QueryRow(sqlDB, &loaded, "SELECT * FROM wallets WHERE owner = ?", AddressKey(owner)))
	require.Equal(t, owner, loaded.Owner)
	require.Equal(t, common.HexToHash("0xabc"), loaded.LastTx)
	require.Nil(t, loaded.Delegate)

	delegate := common.HexToAddress("0x01")
	loaded.Delegate = &delegate
	require.NoError(t, meddler.Update(sqlDB, "wallets", &loaded))

	var reloaded wallet
	require.NoError(t, meddler.Load(sqlDB, "wallets", &reloaded, loaded.ID))
	require.NotNil(t, reloaded.Delegate)
	require.Equal(t, delegate, *reloaded.Delegate)
}
