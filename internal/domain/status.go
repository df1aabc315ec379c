package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus is the lifecycle state of a native order. The numeric values
// match the on-chain enum.
type OrderStatus uint8

const (
	OrderStatusInvalid OrderStatus = iota
	OrderStatusFillable
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusExpired
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusInvalid:   "invalid",
	OrderStatusFillable:  "fillable",
	OrderStatusFilled:    "filled",
	OrderStatusCancelled: "cancelled",
	OrderStatusExpired:   "expired",
}

func (s OrderStatus) String() string {
	if n, ok := orderStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText encodes the status by name.
func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *OrderStatus) UnmarshalText(text []byte) error {
	for k, v := range orderStatusNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("domain: unknown order status %q", string(text))
}

// OrderInfo is a point-in-time view of an order. It is never cached.
type OrderInfo struct {
	Hash                   common.Hash `json:"orderHash"`
	Status                 OrderStatus `json:"status"`
	TakerTokenFilledAmount *big.Int    `json:"takerTokenFilledAmount"`
}

// RelevantState extends OrderInfo with what a taker could fill right now.
type RelevantState struct {
	Info                           OrderInfo `json:"orderInfo"`
	ActualFillableTakerTokenAmount *big.Int  `json:"actualFillableTakerTokenAmount"`
	IsSignatureValid               bool      `json:"isSignatureValid"`
}
