package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/pkg/config"
)

const maxHeaderBatch = 100

// EthClient is the subset of node RPC the log source depends on.
type EthClient interface {
	Close()

	// FilterLogs retrieves logs matching the given filter query.
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// HeaderByNumber retrieves a header by number or by tag (latest, safe, finalized).
	HeaderByNumber(ctx context.Context, number rpc.BlockNumber) (*types.Header, error)

	// HeadersByNumber retrieves headers for the given block numbers in batched calls.
	HeadersByNumber(ctx context.Context, blockNums []uint64) ([]*types.Header, error)
}

var _ EthClient = (*Client)(nil)

// Client wraps the Ethereum RPC client with retries and request metrics.
type Client struct {
	eth   *ethclient.Client
	rpc   *rpc.Client
	retry *config.RetryConfig
	log   *logger.Logger
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, retry *config.RetryConfig, log *logger.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	return newClient(rpcClient, retry, log), nil
}

func newClient(rpcClient *rpc.Client, retry *config.RetryConfig, log *logger.Logger) *Client {
	return &Client{
		eth:   ethclient.NewClient(rpcClient),
		rpc:   rpcClient,
		retry: retry,
		log:   log,
	}
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func() error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

func (c *Client) HeaderByNumber(ctx context.Context, number rpc.BlockNumber) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, big.NewInt(number.Int64()))
		return err
	})
	return header, err
}

func (c *Client) HeadersByNumber(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	headers := make([]*types.Header, 0, len(blockNums))

	for i := 0; i < len(blockNums); i += maxHeaderBatch {
		chunk := blockNums[i:min(i+maxHeaderBatch, len(blockNums))]

		var results []*types.Header
		err := c.call(ctx, "batch_eth_getBlockByNumber", func() error {
			var err error
			results, err = c.batchHeaders(ctx, chunk)
			return err
		})
		if err != nil {
			return nil, err
		}

		headers = append(headers, results...)
	}

	return headers, nil
}

func (c *Client) batchHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	batch := make([]rpc.BatchElem, len(blockNums))
	results := make([]*types.Header, len(blockNums))

	for i, blockNum := range blockNums {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []any{toBlockNumArg(blockNum), false},
			Result: &results[i],
		}
	}

	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	for i, elem := range batch {
		if elem.Error != nil {
			return nil, elem.Error
		}
		if results[i] == nil {
			return nil, fmt.Errorf("block %d not found", blockNums[i])
		}
	}

	return results, nil
}

// call runs fn under the retry policy and records request metrics for method.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	start := time.Now()
	RPCMethodInc(method)

	err := retryWithBackoff(ctx, c.retry, method, fn)
	RPCMethodDuration(method, time.Since(start))

	if err != nil {
		RPCMethodError(method, errorType(err))
		c.log.Debugw("rpc call failed", "method", method, "error", err)
	}

	return err
}

func errorType(err error) string {
	if tooMany, _ := IsTooManyResultsError(err); tooMany {
		return "too_many_results"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "context"
	}
	if retryableError(err) {
		return "transient"
	}
	return "other"
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
