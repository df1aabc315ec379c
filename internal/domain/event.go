package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event names as published on the bus and stored in the event log.
const (
	EventOrderCancelled                 = "OrderCancelled"
	EventLimitOrderFilled               = "LimitOrderFilled"
	EventRfqOrderFilled                 = "RfqOrderFilled"
	EventRfqOrderOriginsAllowed         = "RfqOrderOriginsAllowed"
	EventOrderSignerRegistrationUpdated = "OrderSignerRegistrationUpdated"
	EventPairCancelledLimitOrders       = "PairCancelledLimitOrders"
	EventPairCancelledRfqOrders         = "PairCancelledRfqOrders"
)

// Event is a settlement record for off-chain observers.
type Event interface {
	EventName() string
}

// OrderCancelled is emitted for every direct cancellation.
type OrderCancelled struct {
	OrderHash common.Hash    `json:"orderHash"`
	Maker     common.Address `json:"maker"`
}

// LimitOrderFilled is emitted after a limit order fill commits.
type LimitOrderFilled struct {
	OrderHash              common.Hash    `json:"orderHash"`
	Maker                  common.Address `json:"maker"`
	Taker                  common.Address `json:"taker"`
	FeeRecipient           common.Address `json:"feeRecipient"`
	MakerToken             common.Address `json:"makerToken"`
	TakerToken             common.Address `json:"takerToken"`
	TakerTokenFilledAmount *big.Int       `json:"takerTokenFilledAmount"`
	MakerTokenFilledAmount *big.Int       `json:"makerTokenFilledAmount"`
	TakerTokenFeeFilled    *big.Int       `json:"takerTokenFeeFilledAmount"`
	ProtocolFeePaid        *big.Int       `json:"protocolFeePaid"`
	Pool                   common.Hash    `json:"pool"`
}

// RfqOrderFilled is emitted after an RFQ order fill commits.
type RfqOrderFilled struct {
	OrderHash              common.Hash    `json:"orderHash"`
	Maker                  common.Address `json:"maker"`
	Taker                  common.Address `json:"taker"`
	MakerToken             common.Address `json:"makerToken"`
	TakerToken             common.Address `json:"takerToken"`
	TakerTokenFilledAmount *big.Int       `json:"takerTokenFilledAmount"`
	MakerTokenFilledAmount *big.Int       `json:"makerTokenFilledAmount"`
	Pool                   common.Hash    `json:"pool"`
}

// RfqOrderOriginsAllowed is emitted when a maker updates its origin registry.
type RfqOrderOriginsAllowed struct {
	Maker   common.Address   `json:"maker"`
	Origins []common.Address `json:"addrs"`
	Allowed bool             `json:"allowed"`
}

// OrderSignerRegistrationUpdated is emitted when a maker adds or removes a
// delegated signer.
type OrderSignerRegistrationUpdated struct {
	Maker   common.Address `json:"maker"`
	Signer  common.Address `json:"signer"`
	Allowed bool           `json:"allowed"`
}

// PairCancelled is emitted when a maker cancels every order of a token pair
// below a salt. Kind tells limit and RFQ pairs apart.
type PairCancelled struct {
	Kind         OrderKind      `json:"-"`
	Maker        common.Address `json:"maker"`
	MakerToken   common.Address `json:"makerToken"`
	TakerToken   common.Address `json:"takerToken"`
	MinValidSalt *big.Int       `json:"minValidSalt"`
}

func (OrderCancelled) EventName() string { return EventOrderCancelled }
func (LimitOrderFilled) EventName() string { return EventLimitOrderFilled }
func (RfqOrderFilled) EventName() string { return EventRfqOrderFilled }
func (RfqOrderOriginsAllowed) EventName() string { return EventRfqOrderOriginsAllowed }
func (OrderSignerRegistrationUpdated) EventName() string { return EventOrderSignerRegistrationUpdated }

func (e PairCancelled) EventName() string {
	if e.Kind == OrderKindRfq {
		return EventPairCancelledRfqOrders
	}
	return EventPairCancelledLimitOrders
}

// EventEnvelope is the transport form of an Event.
type EventEnvelope struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEventEnvelope wraps ev for publishing.
func NewEventEnvelope(id string, ev Event, at time.Time) (EventEnvelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("domain: encode %s: %w", ev.EventName(), err)
	}
	return EventEnvelope{
		ID:        id,
		Event:     ev.EventName(),
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}
