package selector

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/paymesh/paymesh-indexer/internal/events"
	"github.com/stretchr/testify/require"
)

var (
	groupContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tokenContract = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func TestSelector_MatchesChainTopic(t *testing.T) {
	sel, ok := Selector(events.TypeTransfer)
	require.True(t, ok)
	require.Equal(t, common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"), sel)

	_, ok = Selector(events.TypeUnknown)
	require.False(t, ok)
}

func TestRegistry_Resolve(t *testing.T) {
	r, err := NewRegistry([]Binding{
		{Address: groupContract, Kind: KindGroup},
		{Address: tokenContract, Kind: KindERC20},
	})
	require.NoError(t, err)

	transfer, _ := Selector(events.TypeTransfer)
	created, _ := Selector(events.TypeGroupCreated)

	tests := []struct {
		name    string
		address common.Address
		topic   common.Hash
		want    events.EventType
		wantOK  bool
	}{
		{name: "transfer on token", address: tokenContract, topic: transfer, want: events.TypeTransfer, wantOK: true},
		{name: "group created on group contract", address: groupContract, topic: created, want: events.TypeGroupCreated, wantOK: true},
		{name: "transfer on group contract", address: groupContract, topic: transfer},
		{name: "group event on token", address: tokenContract, topic: created},
		{name: "unbound contract", address: common.HexToAddress("0x01"), topic: transfer},
		{name: "unknown topic", address: tokenContract, topic: common.HexToHash("0xdead")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.address, tt.topic)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_Listing(t *testing.T) {
	r, err := NewRegistry([]Binding{{Address: groupContract, Kind: KindGroup}})
	require.NoError(t, err)

	require.Equal(t, []common.Address{groupContract}, r.Addresses())
	require.Len(t, r.Topics(), 5)
	require.Equal(t, []events.EventType{
		events.TypeGroupCreated,
		events.TypeGroupPaid,
		events.TypeGroupUpdateApproved,
		events.TypeGroupUpdateRequested,
		events.TypeGroupUpdated,
	}, r.EventTypes())

	kind, ok := r.KindOf(groupContract)
	require.True(t, ok)
	require.Equal(t, KindGroup, kind)

	sel, ok := r.SelectorOf(events.TypeGroupPaid)
	require.True(t, ok)
	back, ok := r.EventTypeOf(sel)
	require.True(t, ok)
	require.Equal(t, events.TypeGroupPaid, back)
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry([]Binding{{Address: groupContract, Kind: "erc721"}})
	require.ErrorContains(t, err, "unknown kind")

	_, err = NewRegistry([]Binding{
		{Address: groupContract, Kind: KindGroup},
		{Address: groupContract, Kind: KindERC20},
	})
	require.ErrorContains(t, err, "bound to both")

	_, err = NewRegistry([]Binding{
		{Address: groupContract, Kind: KindGroup},
		{Address: groupContract, Kind: KindGroup},
	})
	require.NoError(t, err)
}

func TestParseContractKind(t *testing.T) {
	k, err := ParseContractKind("erc20")
	require.NoError(t, err)
	require.Equal(t, KindERC20, k)

	_, err = ParseContractKind("nft")
	require.Error(t, err)
}
