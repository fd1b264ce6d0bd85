// Package checkpoint persists the last fully processed block per consumer.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/metrics"
	"github.com/russross/meddler"
)

// Checkpoint is one row of the checkpoints table.
type Checkpoint struct {
	ConsumerKey string `meddler:"consumer_key"`
	Position    uint64 `meddler:"position"`
	UpdatedAt   int64  `meddler:"updated_at"`
}

// WriteError is returned when a checkpoint could not be persisted. The block it
// belonged to will be reprocessed on restart.
type WriteError struct {
	ConsumerKey string
	Position    uint64
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write checkpoint %s=%d: %v", e.ConsumerKey, e.Position, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Manager reads and writes consumer checkpoints. It does not enforce
// monotonicity; callers own the ordering of Set calls.
type Manager struct {
	db  *sql.DB
	log *logger.Logger
}

// NewManager creates a checkpoint manager over an already migrated database.
func NewManager(db *sql.DB, log *logger.Logger) *Manager {
	return &Manager{
		db:  db,
		log: log.WithComponent(common.ComponentCheckpoint),
	}
}

// Get returns the stored position for consumerKey. found is false when the
// consumer has never checkpointed.
func (m *Manager) Get(ctx context.Context, consumerKey string) (position uint64, found bool, err error) {
	var cp Checkpoint
	rows, err := m.db.QueryContext(ctx, `SELECT * FROM checkpoints WHERE consumer_key = ?`, consumerKey)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get checkpoint %s: %w", consumerKey, err)
	}

	if err := meddler.ScanRow(rows, &cp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get checkpoint %s: %w", consumerKey, err)
	}

	return cp.Position, true, nil
}

// Set stores position for consumerKey, overwriting any previous value.
func (m *Manager) Set(ctx context.Context, consumerKey string, position uint64) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO checkpoints (consumer_key, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(consumer_key) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at`,
		consumerKey, position, time.Now().Unix())
	if err != nil {
		return &WriteError{ConsumerKey: consumerKey, Position: position, Err: err}
	}

	metrics.CheckpointPositionSet(consumerKey, position)
	m.log.Debugf("saved checkpoint: consumer=%s, position=%d", consumerKey, position)

	return nil
}

// Reset rewinds consumerKey so the next run resumes at resumeFrom. Resetting
// to 0 removes the checkpoint and the consumer falls back to its start block.
func (m *Manager) Reset(ctx context.Context, consumerKey string, resumeFrom uint64) error {
	if resumeFrom == 0 {
		if _, err := m.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE consumer_key = ?`, consumerKey); err != nil {
			return fmt.Errorf("failed to reset checkpoint %s: %w", consumerKey, err)
		}
		m.log.Warnw("checkpoint removed", "consumer", consumerKey)
		return nil
	}

	if err := m.Set(ctx, consumerKey, resumeFrom-1); err != nil {
		return err
	}

	m.log.Warnw("checkpoint reset", "consumer", consumerKey, "resume_from", resumeFrom)

	return nil
}

// List returns every stored checkpoint ordered by consumer key.
func (m *Manager) List(ctx context.Context) ([]*Checkpoint, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT * FROM checkpoints ORDER BY consumer_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var cps []*Checkpoint
	if err := meddler.ScanAll(rows, &cps); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	return cps, nil
}
