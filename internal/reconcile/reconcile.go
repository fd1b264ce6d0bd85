// Package reconcile settles token transfers whose distribution did not complete
// while they were streamed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/correlator"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/metrics"
	"github.com/paymesh/paymesh-indexer/internal/projection"
	"github.com/paymesh/paymesh-indexer/pkg/config"
)

// Store lists the transfers still waiting for a settlement.
type Store interface {
	ListUnprocessedTransfers(ctx context.Context, limit int) ([]*projection.TokenTransfer, error)
}

// Settler distributes one recorded transfer and marks it processed.
type Settler interface {
	Settle(ctx context.Context, t *projection.TokenTransfer) error
}

// Report summarises one reconciliation pass.
type Report struct {
	Attempted int
	Settled   int
	Failed    int
	// Skipped counts transfers settled or claimed elsewhere during the pass.
	Skipped int
}

type Reconciler struct {
	store   Store
	settler Settler
	cfg     config.ReconcileConfig
	log     *logger.Logger

	initialInterval time.Duration
}

func New(store Store, settler Settler, cfg config.ReconcileConfig, log *logger.Logger) *Reconciler {
	cfg.ApplyDefaults()

	return &Reconciler{
		store:           store,
		settler:         settler,
		cfg:             cfg,
		log:             log.WithComponent(common.ComponentReconciler),
		initialInterval: 500 * time.Millisecond, //nolint:mnd
	}
}

// RunOnce settles up to BatchSize unsettled transfers, oldest first. A transfer
// that keeps failing is left for the next pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	pending, err := r.store.ListUnprocessedTransfers(ctx, r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	metrics.UnsettledTransfersSet(len(pending))

	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.Attempted++
		err := r.settle(ctx, t)
		if errors.Is(err, correlator.ErrSettlementClaimed) {
			report.Skipped++
			metrics.ReconciliationInc("skipped")
			r.log.Debugw("transfer settled elsewhere", "group", t.GroupID, "tx", t.TxHash.Hex())
			continue
		}
		if err != nil {
			report.Failed++
			metrics.ReconciliationInc("failed")
			r.log.Warnw("transfer still unsettled",
				"group", t.GroupID,
				"tx", t.TxHash.Hex(),
				"error", err)
			continue
		}

		report.Settled++
		metrics.ReconciliationInc("settled")
	}

	metrics.UnsettledTransfersSet(len(pending) - report.Settled - report.Skipped)

	if report.Attempted > 0 {
		r.log.Infow("reconciliation pass finished",
			"attempted", report.Attempted,
			"settled", report.Settled,
			"skipped", report.Skipped,
			"failed", report.Failed)
	}

	return report, nil
}

// settle retries distribution failures only. Any other error happens after the
// payout went out, or while another settlement holds the transfer, so trying
// again could pay twice.
func (r *Reconciler) settle(ctx context.Context, t *projection.TokenTransfer) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxElapsedTime = r.cfg.MaxElapsed.Duration

	attempt := 0
	op := func() error {
		attempt++
		err := r.settler.Settle(ctx, t)
		if err == nil {
			return nil
		}

		var settleErr *correlator.SettlementError
		if !errors.As(err, &settleErr) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		r.log.Debugw("retrying settlement",
			"tx", t.TxHash.Hex(),
			"attempt", attempt,
			"wait", wait,
			"error", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("settle %s after %d attempts: %w", t.TxHash.Hex(), attempt, err)
	}
	return nil
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Infow("reconciler started", "interval", interval)

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Errorw("reconciliation pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
