package checkpoint

import (
	"testing"

	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestManager_GetSet(t *testing.T) {
	sqlDB := testutil.NewTestDB(t)
	m := NewManager(sqlDB, logger.NewNopLogger())
	ctx := t.Context()

	_, found, err := m.Get(ctx, "group-contract")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, m.Set(ctx, "group-contract", 100))
	require.NoError(t, m.Set(ctx, "group-contract", 101))
	require.NoError(t, m.Set(ctx, "usdc-transfers", 7))

	pos, found, err := m.Get(ctx, "group-contract")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(101), pos)

	var rows int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE consumer_key = ?`, "group-contract").Scan(&rows))
	require.Equal(t, 1, rows)

	cps, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	require.Equal(t, "group-contract", cps[0].ConsumerKey)
	require.Equal(t, "usdc-transfers", cps[1].ConsumerKey)
	require.Equal(t, uint64(7), cps[1].Position)
}

func TestManager_Reset(t *testing.T) {
	m := NewManager(testutil.NewTestDB(t), logger.NewNopLogger())
	ctx := t.Context()

	require.NoError(t, m.Set(ctx, "p", 500))

	require.NoError(t, m.Reset(ctx, "p", 200))
	pos, found, err := m.Get(ctx, "p")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(199), pos)

	require.NoError(t, m.Reset(ctx, "p", 0))
	_, found, err = m.Get(ctx, "p")
	require.NoError(t, err)
	require.False(t, found)
}

func TestManager_SetReturnsWriteError(t *testing.T) {
	sqlDB := testutil.NewTestDB(t)
	m := NewManager(sqlDB, logger.NewNopLogger())
	require.NoError(t, sqlDB.Close())

	err := m.Set(t.Context(), "p", 10)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	require.Equal(t, "p", writeErr.ConsumerKey)
	require.Equal(t, uint64(10), writeErr.Position)
}
