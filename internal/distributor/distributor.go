// Package distributor triggers the payout of a payment received by a group contract.
package distributor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	pcommon "github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/pkg/config"
	"github.com/shopspring/decimal"
)

// Payment identifies an inbound transfer that should be split among group members.
type Payment struct {
	GroupID      uint64
	GroupAddress common.Address
	Token        common.Address
	Amount       decimal.Decimal
	TxHash       common.Hash
}

// Settlement is the outcome of a successful distribution.
type Settlement struct {
	TxHash common.Hash
}

// Distributor executes the payout for a payment. Implementations must be safe for
// concurrent use.
type Distributor interface {
	Distribute(ctx context.Context, p Payment) (Settlement, error)
}

// ErrEmptySettlement is returned when the payout service answers without a transaction hash.
var ErrEmptySettlement = errors.New("distribution response carries no transaction hash")

var _ Distributor = (*HTTPDistributor)(nil)

type payRequest struct {
	GroupAddress string `json:"group_address"`
	Txn          string `json:"txn"`
}

type payResponse struct {
	TransactionHash string `json:"transaction_hash"`
}

// HTTPDistributor calls the payout service's pay endpoint.
type HTTPDistributor struct {
	url    string
	client *http.Client
	log    *logger.Logger
}

// NewHTTPDistributor creates a distributor posting to cfg.URL.
func NewHTTPDistributor(cfg *config.DistributorConfig, log *logger.Logger) *HTTPDistributor {
	return &HTTPDistributor{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout.Duration},
		log:    log.WithComponent(pcommon.ComponentDistributor),
	}
}

func (d *HTTPDistributor) Distribute(ctx context.Context, p Payment) (Settlement, error) {
	body, err := json.Marshal(payRequest{
		GroupAddress: p.GroupAddress.Hex(),
		Txn:          p.TxHash.Hex(),
	})
	if err != nil {
		return Settlement{}, fmt.Errorf("failed to encode pay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return Settlement{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Settlement{}, fmt.Errorf("failed to perform request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			d.log.Warnw("failed to close response body", "url", d.url, "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Settlement{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Settlement{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var out payResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Settlement{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.TransactionHash == "" {
		return Settlement{}, ErrEmptySettlement
	}

	d.log.Debugw("distribution triggered",
		"group", p.GroupID,
		"group_address", p.GroupAddress.Hex(),
		"payment_tx", p.TxHash.Hex(),
		"settlement_tx", out.TransactionHash)

	return Settlement{TxHash: common.HexToHash(out.TransactionHash)}, nil
}
