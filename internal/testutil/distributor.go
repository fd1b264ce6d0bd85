package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/paymesh/paymesh-indexer/internal/distributor"
)

// ErrDistribution is what FakeDistributor fails with.
var ErrDistribution = errors.New("payout service unavailable")

// FakeDistributor records payments and settles them with SettlementOf(payment hash).
type FakeDistributor struct {
	mu       sync.Mutex
	payments []distributor.Payment

	// FailFirst fails that many calls before succeeding.
	FailFirst int
	// Down fails every call.
	Down bool
}

var _ distributor.Distributor = (*FakeDistributor)(nil)

func (f *FakeDistributor) Distribute(_ context.Context, p distributor.Payment) (distributor.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.payments = append(f.payments, p)
	if f.Down {
		return distributor.Settlement{}, ErrDistribution
	}
	if f.FailFirst > 0 {
		f.FailFirst--
		return distributor.Settlement{}, ErrDistribution
	}

	return distributor.Settlement{TxHash: SettlementOf(p.TxHash)}, nil
}

// SetDown toggles the outage flag.
func (f *FakeDistributor) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Down = down
}

// Payments returns the payments received so far.
func (f *FakeDistributor) Payments() []distributor.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]distributor.Payment(nil), f.payments...)
}

// SettlementOf is the settlement hash FakeDistributor returns for a payment.
func SettlementOf(txHash common.Hash) common.Hash {
	var out common.Hash
	for i, b := range txHash {
		out[i] = ^b
	}
	return out
}
