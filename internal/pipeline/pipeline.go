// Package pipeline runs configured event sources through their block processors.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/metrics"
	"github.com/paymesh/paymesh-indexer/internal/processor"
	"github.com/paymesh/paymesh-indexer/internal/source"
	"github.com/paymesh/paymesh-indexer/internal/types"
	"golang.org/x/sync/errgroup"
)

// Source delivers blocks from a resume position.
type Source interface {
	Stream(ctx context.Context, from uint64, fn source.BlockHandler) error
}

// BlockProcessor applies one block and checkpoints it.
type BlockProcessor interface {
	ProcessBlock(ctx context.Context, block *types.Block) (processor.Result, error)
}

// CheckpointReader looks up where a consumer stopped.
type CheckpointReader interface {
	Get(ctx context.Context, consumerKey string) (uint64, bool, error)
}

// Pipeline is one consumer: a source, its processor and its checkpoint.
// Blocks are processed strictly one at a time in delivery order.
type Pipeline struct {
	name        string
	startBlock  uint64
	source      Source
	processor   BlockProcessor
	checkpoints CheckpointReader
	log         *logger.Logger
}

func New(name string, startBlock uint64, src Source, proc BlockProcessor, checkpoints CheckpointReader,
	log *logger.Logger) *Pipeline {
	return &Pipeline{
		name:        name,
		startBlock:  startBlock,
		source:      src,
		processor:   proc,
		checkpoints: checkpoints,
		log:         log.WithComponent(common.ComponentPipeline),
	}
}

func (p *Pipeline) Name() string {
	return p.name
}

// ResumeFrom returns the first block to process: one past the checkpoint, or the
// configured start block when the consumer has none.
func (p *Pipeline) ResumeFrom(ctx context.Context) (uint64, error) {
	pos, found, err := p.checkpoints.Get(ctx, p.name)
	if err != nil {
		return 0, err
	}
	if !found {
		return p.startBlock, nil
	}
	return pos + 1, nil
}

// Run streams blocks until ctx is done, the transport fails or a checkpoint cannot be written.
func (p *Pipeline) Run(ctx context.Context) error {
	from, err := p.ResumeFrom(ctx)
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", p.name, err)
	}

	p.log.Infow("pipeline starting", "pipeline", p.name, "from_block", from)
	metrics.ComponentHealthSet(p.name, true)

	err = p.source.Stream(ctx, from, func(ctx context.Context, block *types.Block) error {
		res, err := p.processor.ProcessBlock(ctx, block)
		if err != nil {
			return fmt.Errorf("block %d: %w", block.Number, err)
		}

		if res.Failed > 0 {
			p.log.Warnw("block processed with failures",
				"pipeline", p.name,
				"block", block.Number,
				"handled", res.Handled,
				"failed", res.Failed)
		}

		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.ComponentHealthSet(p.name, false)
		p.log.Errorw("pipeline stopped", "pipeline", p.name, "error", err)
		return fmt.Errorf("pipeline %s: %w", p.name, err)
	}

	p.log.Infow("pipeline stopped", "pipeline", p.name)

	return err
}

// Runner runs independent pipelines side by side. The first pipeline error stops them all.
type Runner struct {
	pipelines []*Pipeline
	log       *logger.Logger
}

func NewRunner(pipelines []*Pipeline, log *logger.Logger) *Runner {
	return &Runner{pipelines: pipelines, log: log.WithComponent(common.ComponentPipeline)}
}

// Run blocks until ctx is cancelled or a pipeline fails. Cancellation is not an error.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, p := range r.pipelines {
		g.Go(func() error {
			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	r.log.Infow("pipelines running", "count", len(r.pipelines))

	return g.Wait()
}
