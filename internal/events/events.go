// Package events defines the typed result of decoding a chain log.
//
// Fields is a closed sum type: every recognized schema has its own variant and
// anything else decodes to Unrecognized. Consumers switch on the concrete type.
package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a decoded event.
type EventType string

const (
	TypeGroupCreated         EventType = "GroupCreated"
	TypeGroupPaid            EventType = "GroupPaid"
	TypeGroupUpdateRequested EventType = "GroupUpdateRequested"
	TypeGroupUpdateApproved  EventType = "GroupUpdateApproved"
	TypeGroupUpdated         EventType = "GroupUpdated"
	TypeTransfer             EventType = "Transfer"

	// TypeUnknown is recorded for events no schema applies to, or that failed to decode.
	TypeUnknown EventType = "UnknownEvent"
)

// Signatures holds the canonical signature of every recognized event type.
// The keccak256 of a signature is the log's first topic.
var Signatures = map[EventType]string{
	TypeGroupCreated:         "GroupCreated(uint256,address,string,address,uint256,(address,uint8)[])",
	TypeGroupPaid:            "GroupPaid(uint256,address,address,uint256,uint64,uint256,(address,uint8)[])",
	TypeGroupUpdateRequested: "GroupUpdateRequested(uint256,address,string)",
	TypeGroupUpdateApproved:  "GroupUpdateApproved(uint256,address,uint256,uint256)",
	TypeGroupUpdated:         "GroupUpdated(uint256,string,string)",
	TypeTransfer:             "Transfer(address,address,uint256)",
}

// Meta locates an event in the chain.
type Meta struct {
	BlockNumber    uint64         `json:"block_number"`
	BlockTimestamp uint64         `json:"block_timestamp"`
	TxHash         common.Hash    `json:"tx_hash"`
	LogIndex       uint           `json:"log_index"`
	Contract       common.Address `json:"contract"`
}

// Metadata returns the chain position of the event.
func (m Meta) Metadata() Meta { return m }

// Fields is implemented by every decoded event variant.
type Fields interface {
	Type() EventType
	Metadata() Meta
	isFields()
}

// Member is a payout share of a group.
type Member struct {
	Address    common.Address `json:"addr"`
	Percentage uint8          `json:"percentage"`
}

type GroupCreated struct {
	Meta
	GroupID      uint64         `json:"group_id"`
	Creator      common.Address `json:"creator"`
	Name         string         `json:"name"`
	GroupAddress common.Address `json:"group_address"`
	UsageCount   *big.Int       `json:"usage_count"`
	Members      []Member       `json:"members"`
}

type GroupPaid struct {
	Meta
	GroupID        uint64         `json:"group_id"`
	PaidBy         common.Address `json:"paid_by"`
	Token          common.Address `json:"token"`
	Amount         *big.Int       `json:"amount"`
	PaidAt         uint64         `json:"paid_at"`
	UsageRemaining *big.Int       `json:"usage_remaining"`
	Members        []Member       `json:"members"`
}

type GroupUpdateRequested struct {
	Meta
	GroupID   uint64         `json:"group_id"`
	Requester common.Address `json:"requester"`
	NewName   string         `json:"new_name"`
}

type GroupUpdateApproved struct {
	Meta
	GroupID       uint64         `json:"group_id"`
	Approver      common.Address `json:"approver"`
	ApprovalCount uint64         `json:"approval_count"`
	TotalMembers  uint64         `json:"total_members"`
}

type GroupUpdated struct {
	Meta
	GroupID uint64 `json:"group_id"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// Transfer is an ERC20 transfer. The token is the emitting contract, Meta.Contract.
type Transfer struct {
	Meta
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
}

// Unrecognized carries a log no schema applies to, or one that failed to decode.
type Unrecognized struct {
	Meta
	Topics []common.Hash `json:"topics"`
	Data   string        `json:"data"`
	Reason string        `json:"reason,omitempty"`
}

func (GroupCreated) Type() EventType         { return TypeGroupCreated }
func (GroupPaid) Type() EventType            { return TypeGroupPaid }
func (GroupUpdateRequested) Type() EventType { return TypeGroupUpdateRequested }
func (GroupUpdateApproved) Type() EventType  { return TypeGroupUpdateApproved }
func (GroupUpdated) Type() EventType         { return TypeGroupUpdated }
func (Transfer) Type() EventType             { return TypeTransfer }
func (Unrecognized) Type() EventType         { return TypeUnknown }

func (GroupCreated) isFields()         {}
func (GroupPaid) isFields()            {}
func (GroupUpdateRequested) isFields() {}
func (GroupUpdateApproved) isFields()  {}
func (GroupUpdated) isFields()         {}
func (Transfer) isFields()             {}
func (Unrecognized) isFields()         {}

// GroupID returns the group an event refers to, if any.
func GroupID(f Fields) (uint64, bool) {
	switch e := f.(type) {
	case *GroupCreated:
		return e.GroupID, true
	case *GroupPaid:
		return e.GroupID, true
	case *GroupUpdateRequested:
		return e.GroupID, true
	case *GroupUpdateApproved:
		return e.GroupID, true
	case *GroupUpdated:
		return e.GroupID, true
	default:
		return 0, false
	}
}
