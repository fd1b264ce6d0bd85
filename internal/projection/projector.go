package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/paymesh/paymesh-indexer/internal/db"
	"github.com/paymesh/paymesh-indexer/internal/events"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/shopspring/decimal"
)

// ErrUnknownGroup is returned when a lifecycle event refers to a group that was never created.
var ErrUnknownGroup = errors.New("unknown group")

// Projector applies decoded events to the projection. Every operation looks rows up by
// natural key and is safe to apply any number of times with the same input.
// Row timestamps come from the block, never the wall clock.
type Projector struct {
	store *Store
	log   *logger.Logger
}

// NewProjector returns a projector writing to store.
func NewProjector(store *Store, log *logger.Logger) *Projector {
	return &Projector{store: store, log: log}
}

// GroupCreated upserts the group, its deployed contract and its members.
func (p *Projector) GroupCreated(ctx context.Context, e *events.GroupCreated) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		usage := decimal.Zero
		if e.UsageCount != nil {
			usage = decimal.NewFromBigInt(e.UsageCount, 0)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO payment_groups (group_id, name, creator, usage_count, is_paid, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)
			ON CONFLICT(group_id) DO UPDATE SET
				creator = excluded.creator,
				usage_count = excluded.usage_count`,
			e.GroupID, e.Name, db.AddressKey(e.Creator), usage.String(), StatusActive,
			e.BlockTimestamp, e.BlockTimestamp)
		if err != nil {
			return fmt.Errorf("upsert group %d: %w", e.GroupID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO deployed_groups (group_id, deployed_address, is_active, deployment_block, deployment_timestamp)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(group_id) DO UPDATE SET
				deployed_address = excluded.deployed_address,
				is_active = 1,
				deployment_block = excluded.deployment_block,
				deployment_timestamp = excluded.deployment_timestamp`,
			e.GroupID, db.AddressKey(e.GroupAddress), e.BlockNumber, e.BlockTimestamp)
		if err != nil {
			return fmt.Errorf("upsert deployed group %d: %w", e.GroupID, err)
		}

		for _, m := range e.Members {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO group_members (group_id, member_address, percentage)
				VALUES (?, ?, ?)
				ON CONFLICT(group_id, member_address) DO UPDATE SET percentage = excluded.percentage`,
				e.GroupID, db.AddressKey(m.Address), m.Percentage)
			if err != nil {
				return fmt.Errorf("upsert member %s of group %d: %w", m.Address.Hex(), e.GroupID, err)
			}
		}

		return recordEvent(ctx, tx, e, &e.GroupID)
	})
}

// GroupPaid marks the group paid and appends one payment record per transaction.
func (p *Projector) GroupPaid(ctx context.Context, e *events.GroupPaid) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := setGroupState(ctx, tx, e.GroupID, `status = ?, is_paid = 1`, e.BlockTimestamp, StatusPaid); err != nil {
			return err
		}

		shares, err := json.Marshal(MemberShares(e.Amount, e.Members))
		if err != nil {
			return fmt.Errorf("encode member shares: %w", err)
		}

		usage := decimal.Zero
		if e.UsageRemaining != nil {
			usage = decimal.NewFromBigInt(e.UsageRemaining, 0)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO group_payments
				(group_id, token_address, amount, paid_by, paid_at, usage_remaining, tx_hash, block_number, member_shares)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tx_hash) DO NOTHING`,
			e.GroupID, db.AddressKey(e.Token), amountOf(e.Amount).String(), db.AddressKey(e.PaidBy), e.PaidAt,
			usage.String(), e.TxHash.Hex(), e.BlockNumber, string(shares))
		if err != nil {
			return fmt.Errorf("insert payment %s: %w", e.TxHash.Hex(), err)
		}

		if n, _ := res.RowsAffected(); n == 0 {
			p.log.Debugw("payment already recorded", "group_id", e.GroupID, "tx_hash", e.TxHash.Hex())
		}

		return recordEvent(ctx, tx, e, &e.GroupID)
	})
}

// GroupUpdateRequested replaces the open rename request of the group and flags it pending.
func (p *Projector) GroupUpdateRequested(ctx context.Context, e *events.GroupUpdateRequested) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := setGroupState(ctx, tx, e.GroupID, `status = ?`, e.BlockTimestamp, StatusUpdating); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO update_requests
				(group_id, new_name, requester, approval_count, total_members, is_completed, requested_at, updated_at)
			VALUES (?, ?, ?, 0, 0, 0, ?, ?)
			ON CONFLICT(group_id) DO UPDATE SET
				new_name = excluded.new_name,
				requester = excluded.requester,
				approval_count = 0,
				total_members = 0,
				is_completed = 0,
				requested_at = excluded.requested_at,
				updated_at = excluded.updated_at`,
			e.GroupID, e.NewName, db.AddressKey(e.Requester), e.BlockTimestamp, e.BlockTimestamp)
		if err != nil {
			return fmt.Errorf("upsert update request %d: %w", e.GroupID, err)
		}

		// approvals belong to the superseded request
		if _, err := tx.ExecContext(ctx, `DELETE FROM update_approvals WHERE group_id = ?`, e.GroupID); err != nil {
			return fmt.Errorf("clear approvals of group %d: %w", e.GroupID, err)
		}

		if err := setPending(ctx, tx, e.GroupID, true, e.BlockTimestamp); err != nil {
			return err
		}

		return recordEvent(ctx, tx, e, &e.GroupID)
	})
}

// GroupUpdateApproved records the approval and takes the approval count from the chain.
func (p *Projector) GroupUpdateApproved(ctx context.Context, e *events.GroupUpdateApproved) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := requireGroup(ctx, tx, e.GroupID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO update_approvals (group_id, member_address, has_approved, approved_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(group_id, member_address) DO UPDATE SET
				has_approved = 1,
				approved_at = excluded.approved_at`,
			e.GroupID, db.AddressKey(e.Approver), e.BlockTimestamp)
		if err != nil {
			return fmt.Errorf("upsert approval of %s for group %d: %w", e.Approver.Hex(), e.GroupID, err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE update_requests SET approval_count = ?, total_members = ?, updated_at = ?
			WHERE group_id = ?`,
			e.ApprovalCount, e.TotalMembers, e.BlockTimestamp, e.GroupID)
		if err != nil {
			return fmt.Errorf("update approval count of group %d: %w", e.GroupID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			p.log.Warnw("approval without a recorded update request", "group_id", e.GroupID,
				"approver", e.Approver.Hex(), "tx_hash", e.TxHash.Hex())
		}

		return recordEvent(ctx, tx, e, &e.GroupID)
	})
}

// GroupUpdated applies the rename, resets the paid flag and closes the request.
func (p *Projector) GroupUpdated(ctx context.Context, e *events.GroupUpdated) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		err := setGroupState(ctx, tx, e.GroupID, `name = ?, is_paid = 0, status = ?`, e.BlockTimestamp,
			e.NewName, StatusActive)
		if err != nil {
			return err
		}

		if err := setPending(ctx, tx, e.GroupID, false, e.BlockTimestamp); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE update_requests SET is_completed = 1, updated_at = ? WHERE group_id = ?`,
			e.BlockTimestamp, e.GroupID)
		if err != nil {
			return fmt.Errorf("complete update request %d: %w", e.GroupID, err)
		}

		return recordEvent(ctx, tx, e, &e.GroupID)
	})
}

// Unrecognized stores the audit record of an event no schema applies to.
func (p *Projector) Unrecognized(ctx context.Context, e *events.Unrecognized) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		return recordEvent(ctx, tx, e, nil)
	})
}

// RecordTransfer stores an inbound payment into the deployed group. It reports whether the
// row was inserted by this call; a replayed transfer leaves the existing row untouched.
func (s *Store) RecordTransfer(ctx context.Context, e *events.Transfer, group *DeployedGroup) (bool, error) {
	var inserted bool

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO token_transfers
				(group_id, deployed_address, token_address, amount, from_address, tx_hash, log_index,
				 block_number, block_timestamp, is_processed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(tx_hash) DO NOTHING`,
			group.GroupID, db.AddressKey(group.DeployedAddress), db.AddressKey(e.Contract),
			amountOf(e.Value).String(), db.AddressKey(e.From), e.TxHash.Hex(), e.LogIndex,
			e.BlockNumber, e.BlockTimestamp)
		if err != nil {
			return fmt.Errorf("insert token transfer %s: %w", e.TxHash.Hex(), err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0

		return recordEvent(ctx, tx, e, &group.GroupID)
	})

	return inserted, err
}

// ClaimTransfer takes the settlement of an unprocessed transfer for the caller. It
// reports false when the transfer is already processed or another claim made at or
// after staleBefore still holds it.
func (s *Store) ClaimTransfer(ctx context.Context, txHash common.Hash, now, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE token_transfers SET settling_since = ?
		WHERE tx_hash = ? AND is_processed = 0 AND (settling_since IS NULL OR settling_since < ?)`,
		now.UnixMilli(), txHash.Hex(), staleBefore.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("claim transfer %s: %w", txHash.Hex(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseTransfer drops the settlement claim so the transfer can be retried.
func (s *Store) ReleaseTransfer(ctx context.Context, txHash common.Hash) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE token_transfers SET settling_since = NULL WHERE tx_hash = ? AND is_processed = 0`, txHash.Hex())
	if err != nil {
		return fmt.Errorf("release transfer %s: %w", txHash.Hex(), err)
	}
	return nil
}

// MarkTransferProcessed records the settlement of an inbound payment.
func (s *Store) MarkTransferProcessed(ctx context.Context, txHash, paymentTxHash common.Hash) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE token_transfers SET is_processed = 1, payment_tx_hash = ?, settling_since = NULL WHERE tx_hash = ?`,
		paymentTxHash.Hex(), txHash.Hex())
	if err != nil {
		return fmt.Errorf("mark transfer %s processed: %w", txHash.Hex(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark transfer %s processed: %w", txHash.Hex(), ErrNotFound)
	}
	return nil
}

// MemberShares splits amount by member percentage, rounding each share down to whole units.
func MemberShares(amount *big.Int, members []events.Member) []MemberShare {
	total := amountOf(amount)

	shares := make([]MemberShare, 0, len(members))
	for _, m := range members {
		shares = append(shares, MemberShare{
			MemberAddress: m.Address,
			MemberAmount:  total.Mul(decimal.NewFromInt(int64(m.Percentage))).Shift(-2).Floor(),
		})
	}
	return shares
}

func amountOf(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

func requireGroup(ctx context.Context, q querier, groupID uint64) error {
	var n int
	rows, err := q.QueryContext(ctx, `SELECT COUNT(*) FROM payment_groups WHERE group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("lookup group %d: %w", groupID, err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return fmt.Errorf("lookup group %d: %w", groupID, err)
		}
	}
	if n == 0 {
		return fmt.Errorf("group %d: %w", groupID, ErrUnknownGroup)
	}
	return rows.Err()
}

// setGroupState applies assignments (with their args) and updated_at to an existing group.
func setGroupState(ctx context.Context, q querier, groupID uint64, assignments string, at uint64,
	args ...interface{}) error {
	args = append(args, at, groupID)

	res, err := q.ExecContext(ctx,
		`UPDATE payment_groups SET `+assignments+`, updated_at = ? WHERE group_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update group %d: %w", groupID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("group %d: %w", groupID, ErrUnknownGroup)
	}
	return nil
}

func setPending(ctx context.Context, q querier, groupID uint64, pending bool, at uint64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO pending_updates (group_id, has_pending_update, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			has_pending_update = excluded.has_pending_update,
			updated_at = excluded.updated_at`,
		groupID, pending, at)
	if err != nil {
		return fmt.Errorf("upsert pending update of group %d: %w", groupID, err)
	}
	return nil
}

// recordEvent writes the audit record of an event, keyed by its chain position.
func recordEvent(ctx context.Context, q querier, f events.Fields, groupID *uint64) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", f.Type(), err)
	}

	meta := f.Metadata()
	_, err = q.ExecContext(ctx, `
		INSERT INTO events
			(event_type, group_id, contract_address, tx_hash, log_index, block_number, block_timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(block_number, tx_hash, log_index) DO NOTHING`,
		string(f.Type()), groupID, db.AddressKey(meta.Contract), meta.TxHash.Hex(), meta.LogIndex,
		meta.BlockNumber, meta.BlockTimestamp, string(payload))
	if err != nil {
		return fmt.Errorf("record %s event: %w", f.Type(), err)
	}
	return nil
}
