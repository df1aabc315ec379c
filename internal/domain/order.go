package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderKind identifies one of the two native order variants.
type OrderKind uint8

const (
	OrderKindLimit OrderKind = iota + 1
	OrderKindRfq
)

// String returns the canonical name used in logs and storage keys.
func (k OrderKind) String() string {
	switch k {
	case OrderKindLimit:
		return "limit"
	case OrderKindRfq:
		return "rfq"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field widths of the signed order types.
const (
	AmountBits = 128
	ExpiryBits = 64
	SaltBits   = 256
)

// Order is the closed set of signed native orders: LimitOrder and RfqOrder.
type Order interface {
	Kind() OrderKind
	// Common returns the fields shared by every variant.
	Common() OrderFields
	// Terms returns the variant's pool, expiry and salt.
	Terms() (pool common.Hash, expiry uint64, salt *big.Int)
	// Validate reports whether every field fits its signed width.
	Validate() error

	isOrder()
}

// OrderFields are the fields shared by limit and RFQ orders. ChainID and
// VerifyingContract describe the signing domain and are not part of the
// struct hash.
type OrderFields struct {
	MakerToken        common.Address `json:"makerToken"`
	TakerToken        common.Address `json:"takerToken"`
	MakerAmount       *big.Int       `json:"makerAmount"`
	TakerAmount       *big.Int       `json:"takerAmount"`
	Maker             common.Address `json:"maker"`
	Taker             common.Address `json:"taker"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// LimitOrder is a general order fillable by any permitted taker and sender.
type LimitOrder struct {
	OrderFields
	TakerTokenFeeAmount *big.Int       `json:"takerTokenFeeAmount"`
	Sender              common.Address `json:"sender"`
	FeeRecipient        common.Address `json:"feeRecipient"`
	Pool                common.Hash    `json:"pool"`
	Expiry              uint64         `json:"expiry"`
	Salt                *big.Int       `json:"salt"`
}

// RfqOrder is a quote restricted to a transaction origin instead of a sender.
// It carries no taker-token fee.
type RfqOrder struct {
	OrderFields
	TxOrigin common.Address `json:"txOrigin"`
	Pool     common.Hash    `json:"pool"`
	Expiry   uint64         `json:"expiry"`
	Salt     *big.Int       `json:"salt"`
}

func (LimitOrder) Kind() OrderKind { return OrderKindLimit }
func (o LimitOrder) Common() OrderFields { return o.OrderFields }
func (LimitOrder) isOrder() {}
func (RfqOrder) Kind() OrderKind { return OrderKindRfq }
func (o RfqOrder) Common() OrderFields { return o.OrderFields }
func (RfqOrder) isOrder() {}

func (o LimitOrder) Terms() (common.Hash, uint64, *big.Int) {
	return o.Pool, o.Expiry, orZero(o.Salt)
}

func (o RfqOrder) Terms() (common.Hash, uint64, *big.Int) {
	return o.Pool, o.Expiry, orZero(o.Salt)
}

// Validate checks that every amount fits in uint128 and the salt in uint256.
func (o LimitOrder) Validate() error {
	if err := o.OrderFields.validate(); err != nil {
		return err
	}
	if err := checkUint("takerTokenFeeAmount", o.TakerTokenFeeAmount, AmountBits, true); err != nil {
		return err
	}
	return checkUint("salt", o.Salt, SaltBits, true)
}

// Validate checks that every amount fits in uint128 and the salt in uint256.
func (o RfqOrder) Validate() error {
	if err := o.OrderFields.validate(); err != nil {
		return err
	}
	return checkUint("salt", o.Salt, SaltBits, true)
}

func (f OrderFields) validate() error {
	if err := checkUint("makerAmount", f.MakerAmount, AmountBits, false); err != nil {
		return err
	}
	if err := checkUint("takerAmount", f.TakerAmount, AmountBits, false); err != nil {
		return err
	}
	return checkUint("chainId", f.ChainID, SaltBits, true)
}

// FeeAmount returns the taker-token fee, treating nil as zero.
func (o LimitOrder) FeeAmount() *big.Int {
	return orZero(o.TakerTokenFeeAmount)
}

func checkUint(name string, v *big.Int, bits int, optional bool) error {
	if v == nil {
		if optional {
			return nil
		}
		return fmt.Errorf("%w: %s is required", ErrInvalidOrder, name)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: %s is negative", ErrInvalidOrder, name)
	}
	if v.BitLen() > bits {
		return fmt.Errorf("%w: %s exceeds uint%d", ErrInvalidOrder, name, bits)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Compile-time interface checks.
var (
	_ Order = LimitOrder{}
	_ Order = RfqOrder{}
)
