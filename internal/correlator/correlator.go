// Package correlator recognizes token transfers into deployed group contracts and
// hands them to the payout service.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/distributor"
	"github.com/paymesh/paymesh-indexer/internal/events"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/metrics"
	"github.com/paymesh/paymesh-indexer/internal/projection"
)

// ErrNotAGroupPayment is returned when the transfer recipient is not an active group
// contract. It is a normal outcome, not a failure.
var ErrNotAGroupPayment = errors.New("transfer is not a payment into a group")

// ErrSettlementClaimed is returned by Settle when the transfer is already settled
// or another settlement of it is in flight.
var ErrSettlementClaimed = errors.New("transfer is settled or being settled")

// defaultClaimLease bounds a claim when distribution calls carry no timeout.
const defaultClaimLease = 5 * time.Minute

const (
	outcomeMatched   = "matched"
	outcomeMiss      = "miss"
	outcomeDuplicate = "duplicate"
)

// SettlementError reports a payment that was recorded but could not be distributed.
// The transfer stays unprocessed until reconciliation settles it.
type SettlementError struct {
	TxHash string
	Err    error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settle transfer %s: %v", e.TxHash, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Correlation is the result of matching a transfer to a group.
type Correlation struct {
	Group *projection.DeployedGroup
	// Recorded is false when the transfer had already been stored by an earlier delivery.
	Recorded bool
}

type Correlator struct {
	store       *projection.Store
	distributor distributor.Distributor
	timeout     time.Duration
	log         *logger.Logger
}

// New creates a correlator. timeout bounds each distribution call; zero leaves
// it to the caller's context.
func New(store *projection.Store, dist distributor.Distributor, timeout time.Duration,
	log *logger.Logger) *Correlator {
	return &Correlator{
		store:       store,
		distributor: dist,
		timeout:     timeout,
		log:         log.WithComponent(common.ComponentCorrelator),
	}
}

// Correlate joins a transfer against deployed group contracts. A newly recorded
// payment is distributed immediately; a replayed one is left alone.
func (c *Correlator) Correlate(ctx context.Context, e *events.Transfer) (*Correlation, error) {
	group, err := c.store.GetDeployedGroupByAddress(ctx, e.To)
	if errors.Is(err, projection.ErrNotFound) {
		metrics.CorrelationInc(outcomeMiss)
		return nil, ErrNotAGroupPayment
	}
	if err != nil {
		return nil, fmt.Errorf("lookup deployed group %s: %w", e.To.Hex(), err)
	}

	recorded, err := c.store.RecordTransfer(ctx, e, group)
	if err != nil {
		return nil, err
	}

	result := &Correlation{Group: group, Recorded: recorded}
	if !recorded {
		metrics.CorrelationInc(outcomeDuplicate)
		c.log.Debugw("transfer already recorded", "tx", e.TxHash.Hex(), "group", group.GroupID)
		return result, nil
	}

	metrics.CorrelationInc(outcomeMatched)
	c.log.Infow("payment into group",
		"group", group.GroupID,
		"token", e.Contract.Hex(),
		"amount", e.Value.String(),
		"tx", e.TxHash.Hex())

	transfer, err := c.store.GetTokenTransfer(ctx, e.TxHash)
	if err != nil {
		return result, err
	}

	err = c.Settle(ctx, transfer)
	if errors.Is(err, ErrSettlementClaimed) {
		return result, nil
	}
	return result, err
}

// Settle triggers distribution of a recorded transfer and marks it processed. The
// transfer is claimed first so concurrent callers never distribute it twice; a
// claim older than twice the distribution timeout is considered abandoned.
func (c *Correlator) Settle(ctx context.Context, t *projection.TokenTransfer) error {
	now := time.Now()
	claimed, err := c.store.ClaimTransfer(ctx, t.TxHash, now, now.Add(-c.claimLease()))
	if err != nil {
		return err
	}
	if !claimed {
		c.log.Debugw("settlement already claimed", "group", t.GroupID, "tx", t.TxHash.Hex())
		return ErrSettlementClaimed
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	settlement, err := c.distributor.Distribute(callCtx, distributor.Payment{
		GroupID:      t.GroupID,
		GroupAddress: t.DeployedAddress,
		Token:        t.TokenAddress,
		Amount:       t.Amount,
		TxHash:       t.TxHash,
	})
	if err != nil {
		metrics.DistributionLog("failed", time.Since(start))
		if rerr := c.store.ReleaseTransfer(context.WithoutCancel(ctx), t.TxHash); rerr != nil {
			c.log.Warnw("failed to release settlement claim", "tx", t.TxHash.Hex(), "error", rerr)
		}
		return &SettlementError{TxHash: t.TxHash.Hex(), Err: err}
	}
	metrics.DistributionLog("settled", time.Since(start))

	if err := c.store.MarkTransferProcessed(ctx, t.TxHash, settlement.TxHash); err != nil {
		return err
	}

	c.log.Infow("payment settled",
		"group", t.GroupID,
		"tx", t.TxHash.Hex(),
		"settlement_tx", settlement.TxHash.Hex())

	return nil
}

func (c *Correlator) claimLease() time.Duration {
	if c.timeout > 0 {
		return 2 * c.timeout
	}
	return defaultClaimLease
}
