package pipeline

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/paymesh/paymesh-indexer/internal/checkpoint"
	"github.com/paymesh/paymesh-indexer/internal/correlator"
	"github.com/paymesh/paymesh-indexer/internal/decoder"
	"github.com/paymesh/paymesh-indexer/internal/events"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/notifier"
	"github.com/paymesh/paymesh-indexer/internal/processor"
	"github.com/paymesh/paymesh-indexer/internal/projection"
	"github.com/paymesh/paymesh-indexer/internal/selector"
	"github.com/paymesh/paymesh-indexer/internal/source"
	"github.com/paymesh/paymesh-indexer/internal/testutil"
	"github.com/paymesh/paymesh-indexer/internal/types"
	"github.com/paymesh/paymesh-indexer/pkg/config"
	"github.com/stretchr/testify/require"
)

var (
	groupContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tokenContract = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	creator       = common.HexToAddress("0x000000000000000000000000000000000000000a")
	deployed      = common.HexToAddress("0x000000000000000000000000000000000000000b")
	member1       = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	member2       = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	members       = []events.Member{{Address: member1, Percentage: 60}, {Address: member2, Percentage: 40}}
)

// fakeSource replays fixed blocks and then reports cancellation.
type fakeSource struct {
	blocks []*types.Block
	from   uint64
	err    error
}

func (f *fakeSource) Stream(ctx context.Context, from uint64, fn source.BlockHandler) error {
	f.from = from
	for _, b := range f.blocks {
		if b.Number < from {
			continue
		}
		if err := fn(ctx, b); err != nil {
			return err
		}
	}
	if f.err != nil {
		return f.err
	}
	return context.Canceled
}

type notification struct {
	kind    notifier.Kind
	meta    events.Meta
	payload any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) add(kind notifier.Kind, meta events.Meta, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{kind: kind, meta: meta, payload: payload})
}

func (r *recordingNotifier) CreateGroup(_ context.Context, meta events.Meta, p notifier.CreateGroup) {
	r.add(notifier.KindCreateGroup, meta, p)
}

func (r *recordingNotifier) RecordPayment(_ context.Context, meta events.Meta, p notifier.RecordPayment) {
	r.add(notifier.KindRecordPayment, meta, p)
}

func (r *recordingNotifier) RecordDistribution(_ context.Context, meta events.Meta, p notifier.RecordDistribution) {
	r.add(notifier.KindRecordDistribution, meta, p)
}

func (r *recordingNotifier) Close() {}

type env struct {
	store       *projection.Store
	checkpoints *checkpoint.Manager
	dist        *testutil.FakeDistributor
	notifier    *recordingNotifier
	table       processor.Table
	decoder     *decoder.Decoder
}

func newEnv(t *testing.T) *env {
	t.Helper()

	sqlDB := testutil.NewTestDB(t)
	log := logger.NewNopLogger()
	store := projection.NewStore(sqlDB, log)
	dist := &testutil.FakeDistributor{}
	notif := &recordingNotifier{}

	registry, err := Registry(config.PipelineConfig{
		Name: "all",
		Contracts: []config.ContractConfig{
			{Address: groupContract.Hex(), Kind: "group"},
			{Address: tokenContract.Hex(), Kind: "ERC20"},
		},
	})
	require.NoError(t, err)

	dec, err := decoder.New(registry)
	require.NoError(t, err)

	return &env{
		store:       store,
		checkpoints: checkpoint.NewManager(sqlDB, log),
		dist:        dist,
		notifier:    notif,
		decoder:     dec,
		table: Handlers(Deps{
			Store:      store,
			Projector:  projection.NewProjector(store, log),
			Correlator: correlator.New(store, dist, time.Second, log),
			Notifier:   notif,
			Log:        log,
		}),
	}
}

func (e *env) pipeline(name string, start uint64, src Source) *Pipeline {
	log := logger.NewNopLogger()
	return New(name, start, src, processor.New(name, e.decoder, e.table, e.checkpoints, log), e.checkpoints, log)
}

func block(number uint64, logs ...ethtypes.Log) *types.Block {
	b := &types.Block{Number: number, Timestamp: 1_700_000_000 + number*12}
	for i, l := range logs {
		b.Events = append(b.Events, testutil.At(l, number, common.BigToHash(big.NewInt(int64(number*100)+int64(i))), uint(i)))
	}
	return b
}

func TestPipeline_EndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	src := &fakeSource{blocks: []*types.Block{
		block(10, testutil.GroupCreated(groupContract, 7, creator, "Team", deployed, 5, members...)),
		block(11,
			testutil.Transfer(tokenContract, creator, deployed, big.NewInt(1000)),
			testutil.Transfer(tokenContract, creator, common.HexToAddress("0xeee"), big.NewInt(5)),
		),
		block(12, testutil.GroupPaid(groupContract, 7, creator, tokenContract, big.NewInt(1001), 1_700_000_144, 4, members...)),
		block(13),
	}}

	err := e.pipeline("all", 10, src).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, uint64(10), src.from)

	pos, found, err := e.checkpoints.Get(ctx, "all")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(13), pos)

	group, err := e.store.GetGroup(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, projection.StatusPaid, group.Status)

	transfer, err := e.store.GetTokenTransfer(ctx, common.BigToHash(big.NewInt(1100)))
	require.NoError(t, err)
	require.True(t, transfer.IsProcessed)
	require.Len(t, e.dist.Payments(), 1)

	require.Len(t, e.notifier.sent, 3)
	require.Equal(t, notifier.KindCreateGroup, e.notifier.sent[0].kind)
	require.Equal(t, "Team", e.notifier.sent[0].payload.(notifier.CreateGroup).GroupName)

	require.Equal(t, notifier.KindRecordPayment, e.notifier.sent[1].kind)
	payment := e.notifier.sent[1].payload.(notifier.RecordPayment)
	require.Equal(t, deployed.Hex(), payment.GroupAddress)
	require.Equal(t, "1000", payment.TokenAmount.String())

	require.Equal(t, notifier.KindRecordDistribution, e.notifier.sent[2].kind)
	distribution := e.notifier.sent[2].payload.(notifier.RecordDistribution)
	require.Equal(t, deployed.Hex(), distribution.GroupAddress)
	require.Len(t, distribution.Members, 2)
	require.Equal(t, "600", distribution.Members[0].MemberAmount.String())
	require.Equal(t, "400", distribution.Members[1].MemberAmount.String())
}

func TestPipeline_TransferInGroupCreationBlock(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	// The payment lands in the block that deploys the group. One stream sees the
	// GroupCreated log first, so the transfer is correlated rather than dropped.
	src := &fakeSource{blocks: []*types.Block{
		block(10,
			testutil.GroupCreated(groupContract, 7, creator, "Team", deployed, 5, members...),
			testutil.Transfer(tokenContract, creator, deployed, big.NewInt(1000)),
		),
		block(11, testutil.Transfer(tokenContract, creator, deployed, big.NewInt(500))),
	}}

	require.ErrorIs(t, e.pipeline("all", 10, src).Run(ctx), context.Canceled)

	first, err := e.store.GetTokenTransfer(ctx, common.BigToHash(big.NewInt(1001)))
	require.NoError(t, err)
	require.True(t, first.IsProcessed)
	require.Equal(t, uint64(7), first.GroupID)

	second, err := e.store.GetTokenTransfer(ctx, common.BigToHash(big.NewInt(1100)))
	require.NoError(t, err)
	require.True(t, second.IsProcessed)

	require.Len(t, e.dist.Payments(), 2)
}

func TestPipeline_ResumesAfterCheckpoint(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	src := &fakeSource{}
	p := e.pipeline("resume", 100, src)

	from, err := p.ResumeFrom(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), from)

	require.NoError(t, e.checkpoints.Set(ctx, "resume", 41))
	require.ErrorIs(t, p.Run(ctx), context.Canceled)
	require.Equal(t, uint64(42), src.from)
}

func TestPipeline_DistributionFailureDoesNotHaltTheStream(t *testing.T) {
	e := newEnv(t)
	e.dist.Down = true
	ctx := t.Context()

	src := &fakeSource{blocks: []*types.Block{
		block(10, testutil.GroupCreated(groupContract, 7, creator, "Team", deployed, 5, members...)),
		block(11, testutil.Transfer(tokenContract, creator, deployed, big.NewInt(1000))),
		block(12),
	}}

	require.ErrorIs(t, e.pipeline("all", 10, src).Run(ctx), context.Canceled)

	pos, _, err := e.checkpoints.Get(ctx, "all")
	require.NoError(t, err)
	require.Equal(t, uint64(12), pos)

	unsettled, err := e.store.ListUnprocessedTransfers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
}

type failingProcessor struct{ err error }

func (f failingProcessor) ProcessBlock(context.Context, *types.Block) (processor.Result, error) {
	return processor.Result{}, f.err
}

func TestRunner_StopsAllOnFirstError(t *testing.T) {
	e := newEnv(t)
	log := logger.NewNopLogger()
	writeErr := &checkpoint.WriteError{ConsumerKey: "bad", Position: 1, Err: errors.New("disk full")}

	bad := New("bad", 1, &fakeSource{blocks: []*types.Block{block(1)}}, failingProcessor{err: writeErr}, e.checkpoints, log)
	blocked := New("blocked", 1, blockingSource{}, failingProcessor{}, e.checkpoints, log)

	err := NewRunner([]*Pipeline{bad, blocked}, log).Run(t.Context())

	var got *checkpoint.WriteError
	require.ErrorAs(t, err, &got)
	require.ErrorContains(t, err, "pipeline bad")
}

func TestRunner_CancellationIsClean(t *testing.T) {
	e := newEnv(t)
	log := logger.NewNopLogger()

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(20*time.Millisecond, cancel)

	p := New("blocked", 1, blockingSource{}, failingProcessor{}, e.checkpoints, log)
	require.NoError(t, NewRunner([]*Pipeline{p}, log).Run(ctx))
}

// blockingSource waits for cancellation.
type blockingSource struct{}

func (blockingSource) Stream(ctx context.Context, _ uint64, _ source.BlockHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBuild(t *testing.T) {
	e := newEnv(t)
	log := logger.NewNopLogger()

	cfg := &config.Config{
		Source: config.SourceConfig{RPCURL: "http://localhost:8545", Finality: "finalized"},
		Pipelines: []config.PipelineConfig{
			{Name: "groups", StartBlock: 5, Contracts: []config.ContractConfig{{Address: groupContract.Hex(), Kind: "group"}}},
			{Name: "paymesh", Contracts: []config.ContractConfig{
				{Address: groupContract.Hex(), Kind: "group"},
				{Address: tokenContract.Hex(), Kind: "erc20"},
			}},
		},
	}
	cfg.Source.ApplyDefaults()

	deps := Deps{Store: e.store, Projector: projection.NewProjector(e.store, log), Notifier: notifier.Nop{}, Log: log}

	pipelines, err := Build(cfg, nil, deps, e.checkpoints, log)
	require.NoError(t, err)
	require.Len(t, pipelines, 2)
	require.Equal(t, "groups", pipelines[0].Name())
	require.Equal(t, "paymesh", pipelines[1].Name())

	cfg.Pipelines[1].Contracts[1].Kind = "erc721"
	_, err = Build(cfg, nil, deps, e.checkpoints, log)
	require.ErrorContains(t, err, "unknown contract kind")
}

func TestBuild_RejectsTokenOnlyPipeline(t *testing.T) {
	e := newEnv(t)
	log := logger.NewNopLogger()

	// A token-only pipeline would run ahead of the pipeline projecting groups and
	// drop transfers into groups it has not seen yet.
	cfg := &config.Config{
		Source: config.SourceConfig{RPCURL: "http://localhost:8545", Finality: "finalized"},
		Pipelines: []config.PipelineConfig{
			{Name: "groups", Contracts: []config.ContractConfig{{Address: groupContract.Hex(), Kind: "group"}}},
			{Name: "usdc", Contracts: []config.ContractConfig{{Address: tokenContract.Hex(), Kind: "erc20"}}},
		},
	}
	cfg.Source.ApplyDefaults()

	deps := Deps{Store: e.store, Projector: projection.NewProjector(e.store, log), Notifier: notifier.Nop{}, Log: log}

	_, err := Build(cfg, nil, deps, e.checkpoints, log)
	require.ErrorContains(t, err, "pipeline usdc: erc20 contracts must share a pipeline with a group contract")
}

func TestLogFilters(t *testing.T) {
	transferTopic, ok := selector.Selector(events.TypeTransfer)
	require.True(t, ok)

	groupsOnly, err := Registry(config.PipelineConfig{
		Name:      "g",
		Contracts: []config.ContractConfig{{Address: groupContract.Hex(), Kind: "group"}},
	})
	require.NoError(t, err)
	require.Equal(t, []source.LogFilter{{Addresses: []common.Address{groupContract}}}, logFilters(groupsOnly))

	mixed, err := Registry(config.PipelineConfig{
		Name: "paymesh",
		Contracts: []config.ContractConfig{
			{Address: groupContract.Hex(), Kind: "group"},
			{Address: tokenContract.Hex(), Kind: "erc20"},
		},
	})
	require.NoError(t, err)

	// Group contracts stay unfiltered in a mixed pipeline so unknown events
	// still reach the processor.
	require.Equal(t, []source.LogFilter{
		{Addresses: []common.Address{groupContract}},
		{Addresses: []common.Address{tokenContract}, Topics: []common.Hash{transferTopic}},
	}, logFilters(mixed))
}
