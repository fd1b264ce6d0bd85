package projection

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// GroupStatus is the lifecycle state of a group.
type GroupStatus string

const (
	StatusActive   GroupStatus = "active"
	StatusPaid     GroupStatus = "paid"
	StatusUpdating GroupStatus = "updating"
)

// Group is keyed by its on-chain id and never deleted.
type Group struct {
	GroupID    uint64          `meddler:"group_id"`
	Name       string          `meddler:"name"`
	Creator    common.Address  `meddler:"creator,address"`
	UsageCount decimal.Decimal `meddler:"usage_count"`
	IsPaid     bool            `meddler:"is_paid"`
	Status     GroupStatus     `meddler:"status"`
	CreatedAt  uint64          `meddler:"created_at"`
	UpdatedAt  uint64          `meddler:"updated_at"`
}

type GroupMember struct {
	GroupID       uint64         `meddler:"group_id"`
	MemberAddress common.Address `meddler:"member_address,address"`
	Percentage    uint8          `meddler:"percentage"`
}

// DeployedGroup is the receiving contract of a group. DeployedAddress is the join key
// used to recognize inbound token transfers.
type DeployedGroup struct {
	GroupID             uint64         `meddler:"group_id"`
	DeployedAddress     common.Address `meddler:"deployed_address,address"`
	IsActive            bool           `meddler:"is_active"`
	DeploymentBlock     uint64         `meddler:"deployment_block"`
	DeploymentTimestamp uint64         `meddler:"deployment_timestamp"`
}

// TokenTransfer is an inbound payment into a deployed group contract.
type TokenTransfer struct {
	ID              int64           `meddler:"id,pk"`
	GroupID         uint64          `meddler:"group_id"`
	DeployedAddress common.Address  `meddler:"deployed_address,address"`
	TokenAddress    common.Address  `meddler:"token_address,address"`
	Amount          decimal.Decimal `meddler:"amount"`
	FromAddress     common.Address  `meddler:"from_address,address"`
	TxHash          common.Hash     `meddler:"tx_hash,hash"`
	LogIndex        uint            `meddler:"log_index"`
	BlockNumber     uint64          `meddler:"block_number"`
	BlockTimestamp  uint64          `meddler:"block_timestamp"`
	IsProcessed     bool            `meddler:"is_processed"`
	PaymentTxHash   *common.Hash    `meddler:"payment_tx_hash,hash"`
	// SettlingSince is the unix millisecond time a settlement claimed the row.
	SettlingSince   *int64          `meddler:"settling_since"`
}

// MemberShare is one member's part of a group payment.
type MemberShare struct {
	MemberAddress common.Address  `json:"member_address"`
	MemberAmount  decimal.Decimal `json:"member_amount"`
}

// GroupPayment is the append-only distribution record of a GroupPaid event.
type GroupPayment struct {
	ID             int64           `meddler:"id,pk"`
	GroupID        uint64          `meddler:"group_id"`
	TokenAddress   common.Address  `meddler:"token_address,address"`
	Amount         decimal.Decimal `meddler:"amount"`
	PaidBy         common.Address  `meddler:"paid_by,address"`
	PaidAt         uint64          `meddler:"paid_at"`
	UsageRemaining decimal.Decimal `meddler:"usage_remaining"`
	TxHash         common.Hash     `meddler:"tx_hash,hash"`
	BlockNumber    uint64          `meddler:"block_number"`
	MemberShares   []MemberShare   `meddler:"member_shares,json"`
}

// UpdateRequest is the single open rename request of a group.
type UpdateRequest struct {
	GroupID       uint64         `meddler:"group_id"`
	NewName       string         `meddler:"new_name"`
	Requester     common.Address `meddler:"requester,address"`
	ApprovalCount uint64         `meddler:"approval_count"`
	TotalMembers  uint64         `meddler:"total_members"`
	IsCompleted   bool           `meddler:"is_completed"`
	RequestedAt   uint64         `meddler:"requested_at"`
	UpdatedAt     uint64         `meddler:"updated_at"`
}

type UpdateApproval struct {
	GroupID       uint64         `meddler:"group_id"`
	MemberAddress common.Address `meddler:"member_address,address"`
	HasApproved   bool           `meddler:"has_approved"`
	ApprovedAt    uint64         `meddler:"approved_at"`
}

type PendingUpdate struct {
	GroupID          uint64 `meddler:"group_id"`
	HasPendingUpdate bool   `meddler:"has_pending_update"`
	UpdatedAt        uint64 `meddler:"updated_at"`
}

// RawEvent is the audit record kept for every processed event, including unrecognized ones.
type RawEvent struct {
	ID              int64          `meddler:"id,pk"`
	EventType       string         `meddler:"event_type"`
	GroupID         *uint64        `meddler:"group_id"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	TxHash          common.Hash    `meddler:"tx_hash,hash"`
	LogIndex        uint           `meddler:"log_index"`
	BlockNumber     uint64         `meddler:"block_number"`
	BlockTimestamp  uint64         `meddler:"block_timestamp"`
	Payload         string         `meddler:"payload"`
}
