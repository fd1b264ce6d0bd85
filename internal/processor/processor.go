// Package processor applies the events of one block through a handler table and
// advances the consumer checkpoint once the whole block has been attempted.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/decoder"
	"github.com/paymesh/paymesh-indexer/internal/events"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/metrics"
	"github.com/paymesh/paymesh-indexer/internal/types"
)

// Decoder turns a raw log into a typed event.
type Decoder interface {
	Decode(log ethtypes.Log, blockTimestamp uint64) (events.Fields, error)
}

// Checkpointer persists the consumer position after each block.
type Checkpointer interface {
	Set(ctx context.Context, consumerKey string, position uint64) error
}

// ProjectionError is a handler failure for one event. The block continues.
type ProjectionError struct {
	EventType   events.EventType
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Err         error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("project %s (block %d, tx %s, log %d): %v",
		e.EventType, e.BlockNumber, e.TxHash, e.LogIndex, e.Err)
}

func (e *ProjectionError) Unwrap() error {
	return e.Err
}

// Result counts the outcome of a block.
type Result struct {
	Handled int
	Failed  int
}

// Processor runs one consumer's blocks strictly in delivery order.
type Processor struct {
	consumerKey string
	decoder     Decoder
	handlers    Table
	checkpoints Checkpointer
	log         *logger.Logger
}

// New creates a processor checkpointing under consumerKey.
func New(consumerKey string, dec Decoder, handlers Table, checkpoints Checkpointer,
	log *logger.Logger) *Processor {
	return &Processor{
		consumerKey: consumerKey,
		decoder:     dec,
		handlers:    handlers,
		checkpoints: checkpoints,
		log:         log.WithComponent(common.ComponentProcessor),
	}
}

// ProcessBlock applies every event of block in order. Event failures are counted
// and do not stop the block. The only error returned is a failed checkpoint write
// or cancellation, in which case the block must be delivered again.
func (p *Processor) ProcessBlock(ctx context.Context, block *types.Block) (Result, error) {
	start := time.Now()

	var res Result
	for i, log := range block.Events {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := p.processEvent(ctx, block, log); err != nil {
			res.Failed++
			p.log.Errorw("event failed",
				"consumer", p.consumerKey,
				"block", block.Number,
				"index", i,
				"log_index", log.Index,
				"tx", log.TxHash.Hex(),
				"error", err)
			continue
		}

		res.Handled++
	}

	if err := p.checkpoints.Set(ctx, p.consumerKey, block.Number); err != nil {
		return res, err
	}

	metrics.BlockProcessedLog(p.consumerKey, time.Since(start))

	if len(block.Events) > 0 {
		p.log.Debugw("block processed",
			"consumer", p.consumerKey,
			"block", block.Number,
			"handled", res.Handled,
			"failed", res.Failed,
			"duration", time.Since(start))
	}

	return res, nil
}

func (p *Processor) processEvent(ctx context.Context, block *types.Block, log ethtypes.Log) (err error) {
	eventType := events.TypeUnknown

	defer func() {
		if r := recover(); r != nil {
			err = &ProjectionError{
				EventType:   eventType,
				BlockNumber: block.Number,
				TxHash:      log.TxHash.Hex(),
				LogIndex:    log.Index,
				Err:         fmt.Errorf("handler panic: %v", r),
			}
			metrics.EventFailedInc(p.consumerKey, string(eventType), "panic")
		}
	}()

	fields, err := p.decoder.Decode(log, block.Timestamp)
	if err != nil {
		return p.recordUndecodable(ctx, block, log, err)
	}
	eventType = fields.Type()

	handler, ok := p.handlers[eventType]
	if !ok {
		metrics.EventFailedInc(p.consumerKey, string(eventType), "unhandled")
		return p.projectionError(eventType, block, log, ErrNoHandler)
	}

	if err := handler.Handle(ctx, fields); err != nil {
		metrics.EventFailedInc(p.consumerKey, string(eventType), "projection")
		return p.projectionError(eventType, block, log, err)
	}

	metrics.EventHandledInc(p.consumerKey, string(eventType))

	return nil
}

// recordUndecodable stores a malformed log as an unknown event. The event still
// counts as failed.
func (p *Processor) recordUndecodable(ctx context.Context, block *types.Block, log ethtypes.Log,
	decodeErr error) error {
	eventType := events.TypeUnknown
	var de *decoder.DecodeError
	if errors.As(decodeErr, &de) {
		eventType = de.EventType
	}
	metrics.EventFailedInc(p.consumerKey, string(eventType), "decode")

	handler, ok := p.handlers[events.TypeUnknown]
	if !ok {
		return decodeErr
	}

	if err := handler.Handle(ctx, decoder.Unrecognized(log, block.Timestamp, decodeErr.Error())); err != nil {
		return errors.Join(decodeErr, p.projectionError(events.TypeUnknown, block, log, err))
	}

	return decodeErr
}

func (p *Processor) projectionError(eventType events.EventType, block *types.Block, log ethtypes.Log,
	err error) error {
	return &ProjectionError{
		EventType:   eventType,
		BlockNumber: block.Number,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
		Err:         err,
	}
}
