package decoder_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/paymesh/paymesh-indexer/internal/decoder"
	"github.com/paymesh/paymesh-indexer/internal/events"
	"github.com/paymesh/paymesh-indexer/internal/selector"
	"github.com/paymesh/paymesh-indexer/internal/testutil"
	"github.com/stretchr/testify/require"
)

var (
	groupContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tokenContract = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	creator       = common.HexToAddress("0x000000000000000000000000000000000000000a")
	groupAddress  = common.HexToAddress("0x000000000000000000000000000000000000000b")
	memberA       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	memberB       = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	txHash        = common.HexToHash("0x1111")
)

func newDecoder(t *testing.T) *decoder.Decoder {
	t.Helper()

	registry, err := selector.NewRegistry([]selector.Binding{
		{Address: groupContract, Kind: selector.KindGroup},
		{Address: tokenContract, Kind: selector.KindERC20},
	})
	require.NoError(t, err)

	d, err := decoder.New(registry)
	require.NoError(t, err)

	return d
}

func TestDecode_GroupEvents(t *testing.T) {
	d := newDecoder(t)
	members := []events.Member{{Address: memberA, Percentage: 60}, {Address: memberB, Percentage: 40}}

	tests := []struct {
		name string
		log  types.Log
		want events.Fields
	}{
		{
			name: "group created",
			log:  testutil.GroupCreated(groupContract, 7, creator, "Team", groupAddress, 3, members...),
			want: &events.GroupCreated{
				GroupID:      7,
				Creator:      creator,
				Name:         "Team",
				GroupAddress: groupAddress,
				UsageCount:   big.NewInt(3),
				Members:      members,
			},
		},
		{
			name: "group paid",
			log: testutil.GroupPaid(groupContract, 7, creator, tokenContract, big.NewInt(1_000_000),
				1700000000, 2, members...),
			want: &events.GroupPaid{
				GroupID:        7,
				PaidBy:         creator,
				Token:          tokenContract,
				Amount:         big.NewInt(1_000_000),
				PaidAt:         1700000000,
				UsageRemaining: big.NewInt(2),
				Members:        members,
			},
		},
		{
			name: "update requested",
			log:  testutil.GroupUpdateRequested(groupContract, 7, memberA, "NewTeam"),
			want: &events.GroupUpdateRequested{GroupID: 7, Requester: memberA, NewName: "NewTeam"},
		},
		{
			name: "update approved",
			log:  testutil.GroupUpdateApproved(groupContract, 7, memberB, 1, 2),
			want: &events.GroupUpdateApproved{GroupID: 7, Approver: memberB, ApprovalCount: 1, TotalMembers: 2},
		},
		{
			name: "updated",
			log:  testutil.GroupUpdated(groupContract, 7, "Team", "NewTeam"),
			want: &events.GroupUpdated{GroupID: 7, OldName: "Team", NewName: "NewTeam"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := testutil.At(tt.log, 100, txHash, 4)

			got, err := d.Decode(log, 1700000123)
			require.NoError(t, err)
			require.Equal(t, tt.want.Type(), got.Type())

			meta := got.Metadata()
			require.Equal(t, uint64(100), meta.BlockNumber)
			require.Equal(t, uint64(1700000123), meta.BlockTimestamp)
			require.Equal(t, txHash, meta.TxHash)
			require.Equal(t, uint(4), meta.LogIndex)
			require.Equal(t, groupContract, meta.Contract)

			setMeta(tt.want, meta)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Transfer(t *testing.T) {
	d := newDecoder(t)

	log := testutil.At(testutil.Transfer(tokenContract, creator, groupAddress, big.NewInt(500)), 9, txHash, 0)
	got, err := d.Decode(log, 1)
	require.NoError(t, err)

	transfer, ok := got.(*events.Transfer)
	require.True(t, ok)
	require.Equal(t, creator, transfer.From)
	require.Equal(t, groupAddress, transfer.To)
	require.Equal(t, big.NewInt(500), transfer.Value)
	require.Equal(t, tokenContract, transfer.Contract)
}

func TestDecode_SchemaSelectedByContract(t *testing.T) {
	d := newDecoder(t)

	// a Transfer emitted by the group contract must not be decoded as a token transfer
	onGroup := testutil.Transfer(groupContract, creator, groupAddress, big.NewInt(1))
	got, err := d.Decode(onGroup, 1)
	require.NoError(t, err)
	require.Equal(t, events.TypeUnknown, got.Type())

	// and group events from a token contract are not group events
	onToken := testutil.GroupUpdated(tokenContract, 7, "a", "b")
	got, err = d.Decode(onToken, 1)
	require.NoError(t, err)
	require.Equal(t, events.TypeUnknown, got.Type())

	unbound := testutil.Transfer(common.HexToAddress("0x0c"), creator, groupAddress, big.NewInt(1))
	got, err = d.Decode(unbound, 1)
	require.NoError(t, err)

	unknown, ok := got.(*events.Unrecognized)
	require.True(t, ok)
	require.Equal(t, unbound.Topics, unknown.Topics)
}

func TestDecode_AnonymousLog(t *testing.T) {
	d := newDecoder(t)

	got, err := d.Decode(types.Log{Address: groupContract, Data: []byte{1}}, 1)
	require.NoError(t, err)
	require.Equal(t, events.TypeUnknown, got.Type())
	require.Equal(t, "0x01", got.(*events.Unrecognized).Data)
}

func TestDecode_Errors(t *testing.T) {
	d := newDecoder(t)

	truncated := testutil.GroupUpdated(groupContract, 7, "Team", "NewTeam")
	truncated.Data = truncated.Data[:40]

	missingTopic := testutil.Transfer(tokenContract, creator, groupAddress, big.NewInt(1))
	missingTopic.Topics = missingTopic.Topics[:2]

	hugeID := testutil.EncodeLog(testutil.GroupSchema(), "GroupUpdated", groupContract,
		[]interface{}{new(big.Int).Lsh(big.NewInt(1), 70)}, "a", "b")

	tests := []struct {
		name string
		log  types.Log
		want events.EventType
	}{
		{name: "truncated data", log: truncated, want: events.TypeGroupUpdated},
		{name: "missing indexed topic", log: missingTopic, want: events.TypeTransfer},
		{name: "group id above uint64", log: hugeID, want: events.TypeGroupUpdated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Decode(tt.log, 1)
			require.Nil(t, got)

			var decodeErr *decoder.DecodeError
			require.ErrorAs(t, err, &decodeErr)
			require.Equal(t, tt.want, decodeErr.EventType)
			require.NotEmpty(t, decodeErr.Reason)
		})
	}
}

func setMeta(f events.Fields, meta events.Meta) {
	switch e := f.(type) {
	case *events.GroupCreated:
		e.Meta = meta
	case *events.GroupPaid:
		e.Meta = meta
	case *events.GroupUpdateRequested:
		e.Meta = meta
	case *events.GroupUpdateApproved:
		e.Meta = meta
	case *events.GroupUpdated:
		e.Meta = meta
	}
}
