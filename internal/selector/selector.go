// Package selector resolves raw logs to event types by (contract, topic0).
package selector

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/paymesh/paymesh-indexer/internal/events"
)

// ContractKind selects the event schema a contract is decoded with.
type ContractKind string

const (
	KindGroup ContractKind = "group"
	KindERC20 ContractKind = "erc20"
)

// kindEvents lists the events each contract kind emits.
var kindEvents = map[ContractKind][]events.EventType{
	KindGroup: {
		events.TypeGroupCreated,
		events.TypeGroupPaid,
		events.TypeGroupUpdateRequested,
		events.TypeGroupUpdateApproved,
		events.TypeGroupUpdated,
	},
	KindERC20: {
		events.TypeTransfer,
	},
}

// ParseContractKind validates a configured contract kind.
func ParseContractKind(s string) (ContractKind, error) {
	k := ContractKind(s)
	if _, ok := kindEvents[k]; !ok {
		return "", fmt.Errorf("unknown contract kind: %s (must be one of: group, erc20)", s)
	}
	return k, nil
}

// EventsOf returns the event types emitted by a contract kind.
func EventsOf(kind ContractKind) []events.EventType {
	return kindEvents[kind]
}

// Selector returns the topic0 of an event type: keccak256 of its canonical signature.
func Selector(t events.EventType) (common.Hash, bool) {
	sig, ok := events.Signatures[t]
	if !ok {
		return common.Hash{}, false
	}
	return crypto.Keccak256Hash([]byte(sig)), true
}

// Binding ties a contract address to the schema its events are decoded with.
type Binding struct {
	Address common.Address
	Kind    ContractKind
}

type key struct {
	address common.Address
	topic   common.Hash
}

// Registry maps (contract address, topic0) to an event type. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	byKey     map[key]events.EventType
	kinds     map[common.Address]ContractKind
	selectors map[events.EventType]common.Hash
	byTopic   map[common.Hash]events.EventType
}

// NewRegistry builds the lookup tables for the given contract bindings.
// An address may be bound to one kind only.
func NewRegistry(bindings []Binding) (*Registry, error) {
	r := &Registry{
		byKey:     make(map[key]events.EventType),
		kinds:     make(map[common.Address]ContractKind, len(bindings)),
		selectors: make(map[events.EventType]common.Hash, len(events.Signatures)),
		byTopic:   make(map[common.Hash]events.EventType, len(events.Signatures)),
	}

	for t := range events.Signatures {
		sel, _ := Selector(t)
		r.selectors[t] = sel
		r.byTopic[sel] = t
	}

	for _, b := range bindings {
		evs, ok := kindEvents[b.Kind]
		if !ok {
			return nil, fmt.Errorf("contract %s: unknown kind %q", b.Address.Hex(), b.Kind)
		}

		if existing, ok := r.kinds[b.Address]; ok {
			if existing == b.Kind {
				continue
			}
			return nil, fmt.Errorf("contract %s bound to both %s and %s", b.Address.Hex(), existing, b.Kind)
		}
		r.kinds[b.Address] = b.Kind

		for _, t := range evs {
			r.byKey[key{address: b.Address, topic: r.selectors[t]}] = t
		}
	}

	return r, nil
}

// Resolve returns the event type bound to topic0 on the given contract.
// A known topic on a contract of a different kind does not resolve.
func (r *Registry) Resolve(address common.Address, topic0 common.Hash) (events.EventType, bool) {
	t, ok := r.byKey[key{address: address, topic: topic0}]
	return t, ok
}

// KindOf returns the kind a contract address is bound to.
func (r *Registry) KindOf(address common.Address) (ContractKind, bool) {
	k, ok := r.kinds[address]
	return k, ok
}

// SelectorOf returns the topic0 of an event type.
func (r *Registry) SelectorOf(t events.EventType) (common.Hash, bool) {
	sel, ok := r.selectors[t]
	return sel, ok
}

// EventTypeOf returns the event type whose selector is topic0, regardless of contract.
func (r *Registry) EventTypeOf(topic0 common.Hash) (events.EventType, bool) {
	t, ok := r.byTopic[topic0]
	return t, ok
}

// Addresses returns every bound contract address, sorted.
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, 0, len(r.kinds))
	for addr := range r.kinds {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Topics returns the distinct topic0 values emitted by bound contracts, sorted.
func (r *Registry) Topics() []common.Hash {
	seen := make(map[common.Hash]struct{})
	out := make([]common.Hash, 0, len(r.selectors))
	for k := range r.byKey {
		if _, ok := seen[k.topic]; ok {
			continue
		}
		seen[k.topic] = struct{}{}
		out = append(out, k.topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// EventTypes returns every event type the registry can resolve, sorted.
func (r *Registry) EventTypes() []events.EventType {
	seen := make(map[events.EventType]struct{})
	out := make([]events.EventType, 0, len(r.selectors))
	for _, t := range r.byKey {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
