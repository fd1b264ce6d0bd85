package pipeline

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/paymesh/paymesh-indexer/internal/checkpoint"
	"github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/decoder"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/processor"
	"github.com/paymesh/paymesh-indexer/internal/rpc"
	"github.com/paymesh/paymesh-indexer/internal/selector"
	"github.com/paymesh/paymesh-indexer/internal/source"
	"github.com/paymesh/paymesh-indexer/internal/types"
	"github.com/paymesh/paymesh-indexer/pkg/config"
)

// Registry builds the selector registry of one configured pipeline.
func Registry(pc config.PipelineConfig) (*selector.Registry, error) {
	bindings := make([]selector.Binding, 0, len(pc.Contracts))
	for i, c := range pc.Contracts {
		kind, err := selector.ParseContractKind(common.ToLowerWithTrim(c.Kind))
		if err != nil {
			return nil, fmt.Errorf("pipeline %s, contract[%d]: %w", pc.Name, i, err)
		}
		bindings = append(bindings, selector.Binding{
			Address: ethcommon.HexToAddress(c.Address),
			Kind:    kind,
		})
	}

	registry, err := selector.NewRegistry(bindings)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", pc.Name, err)
	}

	return registry, nil
}

// Build assembles one pipeline per configured entry. All pipelines share the RPC
// client, the projection handlers and the checkpoint store.
func Build(cfg *config.Config, client rpc.EthClient, deps Deps, checkpoints *checkpoint.Manager,
	log *logger.Logger) ([]*Pipeline, error) {
	finality, err := types.ParseBlockFinality(cfg.Source.Finality)
	if err != nil {
		return nil, err
	}

	table := Handlers(deps)
	pipelines := make([]*Pipeline, 0, len(cfg.Pipelines))

	for _, pc := range cfg.Pipelines {
		registry, err := Registry(pc)
		if err != nil {
			return nil, err
		}

		if hasKind(registry, selector.KindERC20) && !hasKind(registry, selector.KindGroup) {
			return nil, fmt.Errorf("pipeline %s: erc20 contracts must share a pipeline with a group contract", pc.Name)
		}

		dec, err := decoder.New(registry)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", pc.Name, err)
		}

		src := source.New(source.Config{
			Name:         pc.Name,
			ChunkSize:    cfg.Source.ChunkSize,
			Finality:     finality,
			FinalizedLag: cfg.Source.FinalizedLag,
			PollInterval: cfg.Source.PollInterval.Duration,
			Filters:      logFilters(registry),
		}, client, log)

		proc := processor.New(pc.Name, dec, table, checkpoints, log)
		pipelines = append(pipelines, New(pc.Name, pc.StartBlock, src, proc, checkpoints, log))
	}

	return pipelines, nil
}

// logFilters reads group contracts unfiltered so unknown events are kept as raw
// records, and token contracts only for the events we decode.
func logFilters(registry *selector.Registry) []source.LogFilter {
	var groups, tokens []ethcommon.Address
	for _, addr := range registry.Addresses() {
		switch kind, _ := registry.KindOf(addr); kind {
		case selector.KindGroup:
			groups = append(groups, addr)
		case selector.KindERC20:
			tokens = append(tokens, addr)
		}
	}

	var filters []source.LogFilter
	if len(groups) > 0 {
		filters = append(filters, source.LogFilter{Addresses: groups})
	}
	if len(tokens) > 0 {
		var topics []ethcommon.Hash
		for _, t := range selector.EventsOf(selector.KindERC20) {
			if topic, ok := selector.Selector(t); ok {
				topics = append(topics, topic)
			}
		}
		filters = append(filters, source.LogFilter{Addresses: tokens, Topics: topics})
	}
	return filters
}

func hasKind(registry *selector.Registry, kind selector.ContractKind) bool {
	for _, addr := range registry.Addresses() {
		if k, _ := registry.KindOf(addr); k == kind {
			return true
		}
	}
	return false
}
