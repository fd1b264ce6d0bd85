// Package source turns chain logs into ordered blocks for a pipeline.
package source

import (
	"cmp"
	"context"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	pcommon "github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/metrics"
	"github.com/paymesh/paymesh-indexer/internal/rpc"
	"github.com/paymesh/paymesh-indexer/internal/types"
)

// Config describes what a LogSource reads and how far it may go.
type Config struct {
	// Name labels metrics and logs, usually the pipeline name.
	Name string

	// ChunkSize is the maximum number of blocks per eth_getLogs request.
	ChunkSize uint64

	// Finality selects the head the source reads up to.
	Finality types.BlockFinality

	// FinalizedLag is subtracted from the latest block in "latest" mode.
	FinalizedLag uint64

	// PollInterval is the wait between head checks once caught up.
	PollInterval time.Duration

	// Filters are queried separately for every range and their logs merged in
	// chain order. No filters reads every log in the range.
	Filters []LogFilter
}

// LogFilter selects the logs of a set of contracts.
type LogFilter struct {
	// Addresses are the contracts to read logs from.
	Addresses []common.Address

	// Topics are the accepted topic0 values. Empty accepts every log of Addresses.
	Topics []common.Hash
}

func (f LogFilter) query(from, to uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: f.Addresses,
	}
	if len(f.Topics) > 0 {
		q.Topics = [][]common.Hash{f.Topics}
	}
	return q
}

// BlockHandler consumes one block. Returning an error stops the stream.
type BlockHandler func(ctx context.Context, block *types.Block) error

// LogSource reads logs for a fixed set of contracts and topics and delivers them
// grouped into blocks, in chain order.
type LogSource struct {
	cfg    Config
	client rpc.EthClient
	log    *logger.Logger
}

// New creates a log source over client.
func New(cfg Config, client rpc.EthClient, log *logger.Logger) *LogSource {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 5000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}

	return &LogSource{
		cfg:    cfg,
		client: client,
		log:    log.WithComponent(pcommon.ComponentSource),
	}
}

// Stream delivers every block from `from` onward to fn, then keeps polling for new
// blocks until ctx is done. Each chunk ends with its last block, which carries no
// events when the chain emitted none for it, so consumers can checkpoint through
// quiet ranges.
func (s *LogSource) Stream(ctx context.Context, from uint64, fn BlockHandler) error {
	next := from
	caughtUp := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		head, err := s.Head(ctx)
		if err != nil {
			return fmt.Errorf("failed to get %s head: %w", s.cfg.Finality, err)
		}
		metrics.SourceHeadSet(s.cfg.Name, head)

		if next > head {
			if !caughtUp {
				s.log.Infow("caught up, waiting for new blocks", "source", s.cfg.Name, "head", head)
				caughtUp = true
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}
		caughtUp = false

		to := min(next+s.cfg.ChunkSize-1, head)
		blocks, to, err := s.FetchRange(ctx, next, to)
		if err != nil {
			return err
		}

		for _, b := range blocks {
			if err := fn(ctx, b); err != nil {
				return err
			}
		}

		next = to + 1
	}
}

// Head returns the highest block the source may read under its finality mode.
func (s *LogSource) Head(ctx context.Context) (uint64, error) {
	header, err := s.client.HeaderByNumber(ctx, s.cfg.Finality.BlockNumber())
	if err != nil {
		return 0, err
	}

	head := header.Number.Uint64()
	if s.cfg.Finality == types.FinalityLatest {
		if head <= s.cfg.FinalizedLag {
			return 0, nil
		}
		head -= s.cfg.FinalizedLag
	}

	return head, nil
}

// FetchRange returns the blocks in [from, to] that carry matching logs, followed by
// the last block of the range. When the node refuses the range as too large it is
// narrowed, and the returned upper bound tells the caller where the range actually ended.
func (s *LogSource) FetchRange(ctx context.Context, from, to uint64) ([]*types.Block, uint64, error) {
	logs, to, err := s.filterLogs(ctx, from, to)
	if err != nil {
		return nil, 0, err
	}

	byBlock := make(map[uint64][]ethtypes.Log)
	for _, l := range logs {
		if l.Removed {
			continue
		}
		byBlock[l.BlockNumber] = append(byBlock[l.BlockNumber], l)
	}

	numbers := make([]uint64, 0, len(byBlock)+1)
	for n := range byBlock {
		numbers = append(numbers, n)
	}
	if _, ok := byBlock[to]; !ok {
		numbers = append(numbers, to)
	}
	slices.Sort(numbers)

	headers, err := s.client.HeadersByNumber(ctx, numbers)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch headers: %w", err)
	}

	blocks := make([]*types.Block, 0, len(numbers))
	for i, n := range numbers {
		events := byBlock[n]
		slices.SortFunc(events, func(a, b ethtypes.Log) int {
			return cmp.Compare(a.Index, b.Index)
		})

		blocks = append(blocks, &types.Block{
			Number:    n,
			Hash:      headers[i].Hash(),
			Timestamp: headers[i].Time,
			Events:    events,
		})
	}

	s.log.Debugw("fetched range",
		"source", s.cfg.Name,
		"from_block", from,
		"to_block", to,
		"logs_count", len(logs),
		"blocks_count", len(blocks))

	return blocks, to, nil
}

// filterLogs fetches logs of every filter for [from, to], shrinking the range while
// the node answers with a too-many-results error. A narrowed range applies to all
// filters so the merged result covers the same blocks.
func (s *LogSource) filterLogs(ctx context.Context, from, to uint64) ([]ethtypes.Log, uint64, error) {
	filters := s.cfg.Filters
	if len(filters) == 0 {
		filters = []LogFilter{{}}
	}

	var logs []ethtypes.Log
	for i := 0; i < len(filters); {
		got, err := s.client.FilterLogs(ctx, filters[i].query(from, to))
		if err == nil {
			logs = append(logs, got...)
			i++
			continue
		}

		tooMany, data := rpc.IsTooManyResultsError(err)
		if !tooMany {
			return nil, 0, fmt.Errorf("failed to fetch logs [%d, %d]: %w", from, to, err)
		}
		if from == to {
			return nil, 0, fmt.Errorf("failed to fetch logs for single block %d: %w", from, err)
		}

		narrowed := from + (to-from)/2
		if sFrom, sTo, ok := rpc.ParseSuggestedBlockRange(data); ok && sFrom == from && sTo >= from && sTo < to {
			narrowed = sTo
		}

		s.log.Warnw("too many results, narrowing range",
			"source", s.cfg.Name,
			"from_block", from,
			"to_block", to,
			"new_to_block", narrowed)
		to = narrowed
		logs = slices.DeleteFunc(logs, func(l ethtypes.Log) bool { return l.BlockNumber > to })
	}

	slices.SortFunc(logs, func(a, b ethtypes.Log) int {
		return cmp.Or(cmp.Compare(a.BlockNumber, b.BlockNumber), cmp.Compare(a.Index, b.Index))
	})

	return logs, to, nil
}
