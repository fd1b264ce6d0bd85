// Package decoder turns raw chain logs into typed events.
package decoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/paymesh/paymesh-indexer/internal/events"
	"github.com/paymesh/paymesh-indexer/internal/selector"
)

// DecodeError reports a log whose payload does not match the schema it resolved to.
type DecodeError struct {
	EventType events.EventType
	Reason    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.EventType, e.Reason)
}

// Decoder decodes logs with the schema bound to the emitting contract.
// It holds no mutable state and is safe for concurrent use.
type Decoder struct {
	registry *selector.Registry
	schemas  map[selector.ContractKind]abi.ABI
}

// New parses the contract schemas and returns a decoder resolving through registry.
func New(registry *selector.Registry) (*Decoder, error) {
	schemas := make(map[selector.ContractKind]abi.ABI, 2)

	for kind, raw := range map[selector.ContractKind]string{
		selector.KindGroup: GroupABI,
		selector.KindERC20: ERC20ABI,
	} {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s abi: %w", kind, err)
		}

		for _, t := range selector.EventsOf(kind) {
			ev, ok := parsed.Events[string(t)]
			if !ok {
				return nil, fmt.Errorf("%s abi is missing event %s", kind, t)
			}
			if sel, _ := selector.Selector(t); ev.ID != sel {
				return nil, fmt.Errorf("%s abi event %s has id %s, expected %s", kind, t, ev.ID.Hex(), sel.Hex())
			}
		}

		schemas[kind] = parsed
	}

	return &Decoder{registry: registry, schemas: schemas}, nil
}

// Decode decodes a log emitted in a block with the given timestamp.
// Logs that no bound schema applies to decode to *events.Unrecognized with a nil error.
// A log that resolves to a schema but does not match it returns a *DecodeError.
func (d *Decoder) Decode(log types.Log, blockTimestamp uint64) (fields events.Fields, err error) {
	meta := events.Meta{
		BlockNumber:    log.BlockNumber,
		BlockTimestamp: blockTimestamp,
		TxHash:         log.TxHash,
		LogIndex:       log.Index,
		Contract:       log.Address,
	}

	if len(log.Topics) == 0 {
		return Unrecognized(log, blockTimestamp, "anonymous log"), nil
	}

	eventType, ok := d.registry.Resolve(log.Address, log.Topics[0])
	if !ok {
		return Unrecognized(log, blockTimestamp, ""), nil
	}

	kind, _ := d.registry.KindOf(log.Address)
	schema := d.schemas[kind]
	event := schema.Events[string(eventType)]

	// abi.ParseTopics panics when a topic value does not fit the target field
	defer func() {
		if r := recover(); r != nil {
			fields = nil
			err = &DecodeError{EventType: eventType, Reason: fmt.Sprintf("%v", r)}
		}
	}()

	switch eventType {
	case events.TypeGroupCreated:
		var w groupCreatedWire
		if err := unpack(schema, event, log, &w); err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		id, err := groupID(w.GroupId)
		if err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		return &events.GroupCreated{
			Meta:         meta,
			GroupID:      id,
			Creator:      w.Creator,
			Name:         w.Name,
			GroupAddress: w.GroupAddress,
			UsageCount:   w.UsageCount,
			Members:      toMembers(w.Members),
		}, nil

	case events.TypeGroupPaid:
		var w groupPaidWire
		if err := unpack(schema, event, log, &w); err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		id, err := groupID(w.GroupId)
		if err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		return &events.GroupPaid{
			Meta:           meta,
			GroupID:        id,
			PaidBy:         w.PaidBy,
			Token:          w.Token,
			Amount:         w.Amount,
			PaidAt:         w.PaidAt,
			UsageRemaining: w.UsageRemaining,
			Members:        toMembers(w.Members),
		}, nil

	case events.TypeGroupUpdateRequested:
		var w groupUpdateRequestedWire
		if err := unpack(schema, event, log, &w); err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		id, err := groupID(w.GroupId)
		if err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		return &events.GroupUpdateRequested{
			Meta:      meta,
			GroupID:   id,
			Requester: w.Requester,
			NewName:   w.NewName,
		}, nil

	case events.TypeGroupUpdateApproved:
		var w groupUpdateApprovedWire
		if err := unpack(schema, event, log, &w); err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		id, err := groupID(w.GroupId)
		if err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		if !w.ApprovalCount.IsUint64() || !w.TotalMembers.IsUint64() {
			return nil, &DecodeError{EventType: eventType, Reason: "approval counters exceed uint64"}
		}
		return &events.GroupUpdateApproved{
			Meta:          meta,
			GroupID:       id,
			Approver:      w.Approver,
			ApprovalCount: w.ApprovalCount.Uint64(),
			TotalMembers:  w.TotalMembers.Uint64(),
		}, nil

	case events.TypeGroupUpdated:
		var w groupUpdatedWire
		if err := unpack(schema, event, log, &w); err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		id, err := groupID(w.GroupId)
		if err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		return &events.GroupUpdated{
			Meta:    meta,
			GroupID: id,
			OldName: w.OldName,
			NewName: w.NewName,
		}, nil

	case events.TypeTransfer:
		var w transferWire
		if err := unpack(schema, event, log, &w); err != nil {
			return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
		}
		return &events.Transfer{
			Meta:  meta,
			From:  w.From,
			To:    w.To,
			Value: w.Value,
		}, nil
	}

	return nil, &DecodeError{EventType: eventType, Reason: "no decoder for event type"}
}

// Unrecognized wraps a log that no schema applies to.
func Unrecognized(log types.Log, blockTimestamp uint64, reason string) *events.Unrecognized {
	return &events.Unrecognized{
		Meta: events.Meta{
			BlockNumber:    log.BlockNumber,
			BlockTimestamp: blockTimestamp,
			TxHash:         log.TxHash,
			LogIndex:       log.Index,
			Contract:       log.Address,
		},
		Topics: log.Topics,
		Data:   hexutil.Encode(log.Data),
		Reason: reason,
	}
}

// unpack fills out from the log's data (non-indexed fields) and topics (indexed fields).
func unpack(schema abi.ABI, event abi.Event, log types.Log, out interface{}) error {
	if err := schema.UnpackIntoInterface(out, event.Name, log.Data); err != nil {
		return fmt.Errorf("unpack data: %w", err)
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	if err := abi.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}

	return nil
}

func groupID(v *big.Int) (uint64, error) {
	if v == nil || !v.IsUint64() {
		return 0, fmt.Errorf("group id %v out of range", v)
	}
	return v.Uint64(), nil
}

func toMembers(in []memberWire) []events.Member {
	out := make([]events.Member, 0, len(in))
	for _, m := range in {
		out = append(out, events.Member{Address: m.Addr, Percentage: m.Percentage})
	}
	return out
}

// Wire structs mirror the ABI argument names; field names must equal abi.ToCamelCase(arg).

type memberWire struct {
	Addr       common.Address
	Percentage uint8
}

type groupCreatedWire struct {
	GroupId      *big.Int //nolint:revive
	Creator      common.Address
	Name         string
	GroupAddress common.Address
	UsageCount   *big.Int
	Members      []memberWire
}

type groupPaidWire struct {
	GroupId        *big.Int //nolint:revive
	PaidBy         common.Address
	Token          common.Address
	Amount         *big.Int
	PaidAt         uint64
	UsageRemaining *big.Int
	Members        []memberWire
}

type groupUpdateRequestedWire struct {
	GroupId   *big.Int //nolint:revive
	Requester common.Address
	NewName   string
}

type groupUpdateApprovedWire struct {
	GroupId       *big.Int //nolint:revive
	Approver      common.Address
	ApprovalCount *big.Int
	TotalMembers  *big.Int
}

type groupUpdatedWire struct {
	GroupId *big.Int //nolint:revive
	OldName string
	NewName string
}

type transferWire struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}
