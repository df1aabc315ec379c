package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/nativeorders/internal/crypto"
	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// Resolver derives an order's lifecycle status from its static fields and
// the state store. Results are never cached.
type Resolver struct {
	hasher *crypto.Hasher
	state  domain.OrderStateReader
	now    func() time.Time
}

// NewResolver creates a Resolver. A nil clock means time.Now.
func NewResolver(hasher *crypto.Hasher, state domain.OrderStateReader, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{hasher: hasher, state: state, now: now}
}

// Resolve computes the order's status against committed state.
func (r *Resolver) Resolve(ctx context.Context, o domain.Order) (domain.OrderInfo, error) {
	return r.ResolveWith(ctx, r.state, o)
}

// ResolveWith computes the order's status against reader, typically an open
// transaction. Status priority: invalid, cancelled, expired, filled,
// fillable. Orders signed for another chain or contract are invalid.
func (r *Resolver) ResolveWith(ctx context.Context, reader domain.OrderStateReader, o domain.Order) (domain.OrderInfo, error) {
	info := domain.OrderInfo{
		Status:                 domain.OrderStatusInvalid,
		TakerTokenFilledAmount: new(big.Int),
	}
	if o == nil || o.Validate() != nil || isZero(o.Common().TakerAmount) || r.hasher.CheckDomain(o) != nil {
		// The hash is still reported when the fields are canonical.
		if o != nil {
			if h, err := r.hasher.OrderHash(o); err == nil {
				info.Hash = h
			}
		}
		return info, nil
	}

	hash, err := r.hasher.OrderHash(o)
	if err != nil {
		return info, err
	}
	info.Hash = hash

	rec, err := reader.FillRecord(ctx, hash)
	if err != nil {
		return info, fmt.Errorf("settlement: read fill record %s: %w", hash.Hex(), err)
	}
	info.TakerTokenFilledAmount = rec.FilledAmount()

	fields := o.Common()
	_, expiry, salt := o.Terms()

	if rec.Cancelled {
		info.Status = domain.OrderStatusCancelled
		return info, nil
	}
	minSalt, err := reader.MinValidSalt(ctx, o.Kind(), fields.Maker, fields.MakerToken, fields.TakerToken)
	if err != nil {
		return info, fmt.Errorf("settlement: read min valid salt: %w", err)
	}
	if minSalt != nil && salt.Cmp(minSalt) < 0 {
		info.Status = domain.OrderStatusCancelled
		return info, nil
	}

	if uint64(r.now().Unix()) >= expiry {
		info.Status = domain.OrderStatusExpired
		return info, nil
	}

	if info.TakerTokenFilledAmount.Cmp(fields.TakerAmount) >= 0 {
		info.Status = domain.OrderStatusFilled
		return info, nil
	}

	info.Status = domain.OrderStatusFillable
	return info, nil
}

// remaining returns takerAmount - filled, floored at zero.
func remaining(o domain.Order, info domain.OrderInfo) *big.Int {
	rem := new(big.Int).Sub(o.Common().TakerAmount, info.TakerTokenFilledAmount)
	if rem.Sign() < 0 {
		rem.SetInt64(0)
	}
	return rem
}
