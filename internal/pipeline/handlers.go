package pipeline

import (
	"context"
	"errors"
	"math/big"

	"github.com/paymesh/paymesh-indexer/internal/correlator"
	"github.com/paymesh/paymesh-indexer/internal/events"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/notifier"
	"github.com/paymesh/paymesh-indexer/internal/processor"
	"github.com/paymesh/paymesh-indexer/internal/projection"
	"github.com/shopspring/decimal"
)

// Deps are the collaborators shared by the handlers of every pipeline.
type Deps struct {
	Store      *projection.Store
	Projector  *projection.Projector
	Correlator *correlator.Correlator
	Notifier   notifier.Notifier
	Log        *logger.Logger
}

type handlers struct {
	Deps
}

// Handlers builds the event handler table. Notifications are sent only after the
// projection write of the same event succeeded.
func Handlers(d Deps) processor.Table {
	h := &handlers{Deps: d}

	return processor.Table{
		events.TypeGroupCreated: processor.Chain(
			processor.Typed(d.Projector.GroupCreated),
			processor.Typed(h.notifyGroupCreated),
		),
		events.TypeGroupPaid: processor.Chain(
			processor.Typed(d.Projector.GroupPaid),
			processor.Typed(h.notifyDistribution),
		),
		events.TypeGroupUpdateRequested: processor.Typed(d.Projector.GroupUpdateRequested),
		events.TypeGroupUpdateApproved:  processor.Typed(d.Projector.GroupUpdateApproved),
		events.TypeGroupUpdated:         processor.Typed(d.Projector.GroupUpdated),
		events.TypeTransfer:             processor.Typed(h.transfer),
		events.TypeUnknown:              processor.Typed(d.Projector.Unrecognized),
	}
}

func (h *handlers) transfer(ctx context.Context, e *events.Transfer) error {
	res, err := h.Correlator.Correlate(ctx, e)
	if errors.Is(err, correlator.ErrNotAGroupPayment) {
		return nil
	}

	if res != nil && res.Recorded {
		h.Notifier.RecordPayment(ctx, e.Meta, notifier.RecordPayment{
			GroupAddress: res.Group.DeployedAddress.Hex(),
			FromAddress:  e.From.Hex(),
			TxHash:       e.TxHash.Hex(),
			TokenAmount:  amount(e.Value),
			TokenAddress: e.Contract.Hex(),
		})
	}

	return err
}

func (h *handlers) notifyGroupCreated(ctx context.Context, e *events.GroupCreated) error {
	members := make([]notifier.Member, 0, len(e.Members))
	for _, m := range e.Members {
		members = append(members, notifier.Member{Addr: m.Address.Hex(), Percentage: m.Percentage})
	}

	h.Notifier.CreateGroup(ctx, e.Meta, notifier.CreateGroup{
		GroupAddress:   e.GroupAddress.Hex(),
		GroupName:      e.Name,
		CreatedBy:      e.Creator.Hex(),
		UsageRemaining: amount(e.UsageCount),
		Members:        members,
	})

	return nil
}

func (h *handlers) notifyDistribution(ctx context.Context, e *events.GroupPaid) error {
	group, err := h.Store.GetDeployedGroup(ctx, e.GroupID)
	if err != nil {
		h.Log.Warnw("skipping distribution notification", "group", e.GroupID, "error", err)
		return nil
	}

	shares := projection.MemberShares(e.Amount, e.Members)
	members := make([]notifier.MemberAmount, 0, len(shares))
	for _, s := range shares {
		members = append(members, notifier.MemberAmount{
			MemberAddress: s.MemberAddress.Hex(),
			MemberAmount:  s.MemberAmount,
		})
	}

	h.Notifier.RecordDistribution(ctx, e.Meta, notifier.RecordDistribution{
		GroupAddress:   group.DeployedAddress.Hex(),
		TokenAddress:   e.Token.Hex(),
		TxHash:         e.TxHash.Hex(),
		UsageRemaining: amount(e.UsageRemaining),
		TokenAmount:    amount(e.Amount),
		Members:        members,
	})

	return nil
}

func amount(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}
