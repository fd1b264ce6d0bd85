package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is one unit of delivery from the chain source: a block header summary and the
// matching logs in the order the chain emitted them. Number doubles as the resume cursor.
type Block struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
	Events    []types.Log
}
