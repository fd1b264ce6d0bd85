// Package projection materializes decoded chain events into the SQLite read model.
package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/paymesh/paymesh-indexer/internal/db"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/russross/meddler"
)

// ErrNotFound is returned by reads when no row matches.
var ErrNotFound = errors.New("not found")

// Store owns the projection database. Writes go through WithTx so every
// handler is all-or-nothing.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// NewStore wraps an already migrated database.
func NewStore(sqlDB *sql.DB, log *logger.Logger) *Store {
	return &Store{db: sqlDB, log: log}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing if it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func queryOne(ctx context.Context, q querier, dst interface{}, query string, args ...interface{}) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if err := meddler.ScanRow(rows, dst); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func queryAll(ctx context.Context, q querier, dst interface{}, query string, args ...interface{}) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return meddler.ScanAll(rows, dst)
}

// GetGroup returns the group with the given id.
func (s *Store) GetGroup(ctx context.Context, groupID uint64) (*Group, error) {
	var g Group
	if err := queryOne(ctx, s.db, &g, `SELECT * FROM payment_groups WHERE group_id = ?`, groupID); err != nil {
		return nil, fmt.Errorf("get group %d: %w", groupID, err)
	}
	return &g, nil
}

// ListMembers returns the members of a group ordered by address.
func (s *Store) ListMembers(ctx context.Context, groupID uint64) ([]*GroupMember, error) {
	var members []*GroupMember
	err := queryAll(ctx, s.db, &members,
		`SELECT * FROM group_members WHERE group_id = ? ORDER BY member_address`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of group %d: %w", groupID, err)
	}
	return members, nil
}

// GetDeployedGroup returns the deployed contract of a group.
func (s *Store) GetDeployedGroup(ctx context.Context, groupID uint64) (*DeployedGroup, error) {
	var d DeployedGroup
	if err := queryOne(ctx, s.db, &d, `SELECT * FROM deployed_groups WHERE group_id = ?`, groupID); err != nil {
		return nil, fmt.Errorf("get deployed group %d: %w", groupID, err)
	}
	return &d, nil
}

// GetDeployedGroupByAddress returns the active deployed group at address.
func (s *Store) GetDeployedGroupByAddress(ctx context.Context, address common.Address) (*DeployedGroup, error) {
	return getActiveDeployedGroup(ctx, s.db, address)
}

func getActiveDeployedGroup(ctx context.Context, q querier, address common.Address) (*DeployedGroup, error) {
	var d DeployedGroup
	err := queryOne(ctx, q, &d,
		`SELECT * FROM deployed_groups WHERE deployed_address = ? AND is_active = 1`, db.AddressKey(address))
	if err != nil {
		return nil, fmt.Errorf("get deployed group at %s: %w", address.Hex(), err)
	}
	return &d, nil
}

// GetTokenTransfer returns the transfer recorded for txHash.
func (s *Store) GetTokenTransfer(ctx context.Context, txHash common.Hash) (*TokenTransfer, error) {
	var tt TokenTransfer
	if err := queryOne(ctx, s.db, &tt, `SELECT * FROM token_transfers WHERE tx_hash = ?`, txHash.Hex()); err != nil {
		return nil, fmt.Errorf("get token transfer %s: %w", txHash.Hex(), err)
	}
	return &tt, nil
}

// ListUnprocessedTransfers returns up to limit transfers still awaiting settlement,
// oldest first. A non-positive limit returns all of them.
func (s *Store) ListUnprocessedTransfers(ctx context.Context, limit int) ([]*TokenTransfer, error) {
	if limit <= 0 {
		limit = -1
	}

	var transfers []*TokenTransfer
	err := queryAll(ctx, s.db, &transfers,
		`SELECT * FROM token_transfers WHERE is_processed = 0 ORDER BY block_number, log_index LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed transfers: %w", err)
	}
	return transfers, nil
}

// GetPayment returns the payment recorded for txHash.
func (s *Store) GetPayment(ctx context.Context, txHash common.Hash) (*GroupPayment, error) {
	var p GroupPayment
	if err := queryOne(ctx, s.db, &p, `SELECT * FROM group_payments WHERE tx_hash = ?`, txHash.Hex()); err != nil {
		return nil, fmt.Errorf("get payment %s: %w", txHash.Hex(), err)
	}
	return &p, nil
}

// CountPayments returns the number of payments recorded for a group.
func (s *Store) CountPayments(ctx context.Context, groupID uint64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_payments WHERE group_id = ?`, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count payments of group %d: %w", groupID, err)
	}
	return n, nil
}

// GetUpdateRequest returns the open or last completed rename request of a group.
func (s *Store) GetUpdateRequest(ctx context.Context, groupID uint64) (*UpdateRequest, error) {
	var r UpdateRequest
	if err := queryOne(ctx, s.db, &r, `SELECT * FROM update_requests WHERE group_id = ?`, groupID); err != nil {
		return nil, fmt.Errorf("get update request %d: %w", groupID, err)
	}
	return &r, nil
}

// ListApprovals returns the approvals of the current request of a group.
func (s *Store) ListApprovals(ctx context.Context, groupID uint64) ([]*UpdateApproval, error) {
	var approvals []*UpdateApproval
	err := queryAll(ctx, s.db, &approvals,
		`SELECT * FROM update_approvals WHERE group_id = ? ORDER BY member_address`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list approvals of group %d: %w", groupID, err)
	}
	return approvals, nil
}

// GetPendingUpdate returns the pending update flag of a group.
func (s *Store) GetPendingUpdate(ctx context.Context, groupID uint64) (*PendingUpdate, error) {
	var p PendingUpdate
	if err := queryOne(ctx, s.db, &p, `SELECT * FROM pending_updates WHERE group_id = ?`, groupID); err != nil {
		return nil, fmt.Errorf("get pending update %d: %w", groupID, err)
	}
	return &p, nil
}

// ListEvents returns the raw event records of the given type in chain order.
// An empty eventType returns every record.
func (s *Store) ListEvents(ctx context.Context, eventType string) ([]*RawEvent, error) {
	query := `SELECT * FROM events`
	args := []interface{}{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY block_number, log_index`

	var out []*RawEvent
	if err := queryAll(ctx, s.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}
