// Package testutil builds ABI-encoded chain logs and temporary databases for tests.
package testutil

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/paymesh/paymesh-indexer/internal/decoder"
	"github.com/paymesh/paymesh-indexer/internal/events"
)

var (
	groupABI = mustParse(decoder.GroupABI)
	erc20ABI = mustParse(decoder.ERC20ABI)
)

type member struct {
	Addr       common.Address
	Percentage uint8
}

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func toWire(members []events.Member) []member {
	out := make([]member, 0, len(members))
	for _, m := range members {
		out = append(out, member{Addr: m.Address, Percentage: m.Percentage})
	}
	return out
}

// EncodeLog ABI-encodes an event. indexed holds the topic values after topic0, data the
// remaining arguments in declaration order.
func EncodeLog(schema abi.ABI, name string, contract common.Address, indexed []interface{}, data ...interface{}) types.Log {
	ev := schema.Events[name]

	query := make([][]interface{}, 0, len(indexed))
	for _, v := range indexed {
		query = append(query, []interface{}{v})
	}
	rest, err := abi.MakeTopics(query...)
	if err != nil {
		panic(err)
	}

	topics := []common.Hash{ev.ID}
	for _, t := range rest {
		topics = append(topics, t[0])
	}

	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(err)
	}

	return types.Log{Address: contract, Topics: topics, Data: packed}
}

// At places a log in a block.
func At(log types.Log, block uint64, txHash common.Hash, index uint) types.Log {
	log.BlockNumber = block
	log.TxHash = txHash
	log.Index = index
	return log
}

func GroupCreated(contract common.Address, groupID uint64, creator common.Address, name string,
	groupAddress common.Address, usageCount int64, members ...events.Member) types.Log {
	return EncodeLog(groupABI, "GroupCreated", contract,
		[]interface{}{new(big.Int).SetUint64(groupID), creator},
		name, groupAddress, big.NewInt(usageCount), toWire(members))
}

func GroupPaid(contract common.Address, groupID uint64, paidBy, token common.Address, amount *big.Int,
	paidAt uint64, usageRemaining int64, members ...events.Member) types.Log {
	return EncodeLog(groupABI, "GroupPaid", contract,
		[]interface{}{new(big.Int).SetUint64(groupID), paidBy},
		token, amount, paidAt, big.NewInt(usageRemaining), toWire(members))
}

func GroupUpdateRequested(contract common.Address, groupID uint64, requester common.Address, newName string) types.Log {
	return EncodeLog(groupABI, "GroupUpdateRequested", contract,
		[]interface{}{new(big.Int).SetUint64(groupID), requester}, newName)
}

func GroupUpdateApproved(contract common.Address, groupID uint64, approver common.Address,
	approvalCount, totalMembers int64) types.Log {
	return EncodeLog(groupABI, "GroupUpdateApproved", contract,
		[]interface{}{new(big.Int).SetUint64(groupID), approver},
		big.NewInt(approvalCount), big.NewInt(totalMembers))
}

func GroupUpdated(contract common.Address, groupID uint64, oldName, newName string) types.Log {
	return EncodeLog(groupABI, "GroupUpdated", contract,
		[]interface{}{new(big.Int).SetUint64(groupID)}, oldName, newName)
}

func Transfer(token, from, to common.Address, value *big.Int) types.Log {
	return EncodeLog(erc20ABI, "Transfer", token, []interface{}{from, to}, value)
}

// GroupSchema exposes the parsed group ABI for tests that need to encode malformed logs.
func GroupSchema() abi.ABI { return groupABI }
