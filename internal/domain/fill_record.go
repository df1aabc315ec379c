package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// cancelledBit is the top bit of the packed storage word.
const cancelledBit = 255

// maxFilled is the largest filled amount representable in the packed word.
var maxFilled = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), cancelledBit), big.NewInt(1))

// FillRecord is the per-order settlement state: the cumulative taker-token
// amount filled and whether the order was cancelled. The zero value is a
// fresh, fully fillable order.
type FillRecord struct {
	Filled    *big.Int
	Cancelled bool
}

// FilledAmount returns the filled amount, never nil.
func (r FillRecord) FilledAmount() *big.Int {
	if r.Filled == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.Filled)
}

// Add returns a record with delta added to the filled amount. The cancelled
// flag is preserved.
func (r FillRecord) Add(delta *big.Int) (FillRecord, error) {
	if delta == nil || delta.Sign() < 0 {
		return r, fmt.Errorf("%w: negative fill delta", ErrArithmeticOverflow)
	}
	sum := r.FilledAmount()
	sum.Add(sum, delta)
	if sum.Cmp(maxFilled) > 0 {
		return r, fmt.Errorf("%w: filled amount exceeds 255 bits", ErrArithmeticOverflow)
	}
	return FillRecord{Filled: sum, Cancelled: r.Cancelled}, nil
}

// AddWithin is Add with an upper bound on the resulting filled amount. A nil
// limit applies only the packed word bound.
func (r FillRecord) AddWithin(delta, limit *big.Int) (FillRecord, error) {
	next, err := r.Add(delta)
	if err != nil {
		return r, err
	}
	if limit != nil && next.Filled.Cmp(limit) > 0 {
		return r, fmt.Errorf("%w: %s > %s", ErrFillLimitExceeded, next.Filled, limit)
	}
	return next, nil
}

// Cancel returns the record with the cancelled flag set.
func (r FillRecord) Cancel() FillRecord {
	return FillRecord{Filled: r.FilledAmount(), Cancelled: true}
}

// Pack encodes the record as the on-chain storage word: the low 255 bits hold
// the filled amount and the top bit holds the cancelled flag.
func (r FillRecord) Pack() common.Hash {
	word := r.FilledAmount()
	if word.Cmp(maxFilled) > 0 {
		word.And(word, maxFilled)
	}
	if r.Cancelled {
		word.SetBit(word, cancelledBit, 1)
	}
	return common.BigToHash(word)
}

// UnpackFillRecord decodes a storage word produced by Pack.
func UnpackFillRecord(word common.Hash) FillRecord {
	v := word.Big()
	cancelled := v.Bit(cancelledBit) == 1
	v.SetBit(v, cancelledBit, 0)
	return FillRecord{Filled: v, Cancelled: cancelled}
}
