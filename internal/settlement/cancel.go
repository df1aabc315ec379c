package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// CancelLimitOrder permanently cancels a limit order. The caller must be the
// maker or one of its registered signers. Cancelling twice is a no-op.
func (e *Engine) CancelLimitOrder(ctx context.Context, caller common.Address, o domain.LimitOrder) error {
	if err := e.cancelOrders(ctx, caller, []domain.Order{o}); err != nil {
		return fmt.Errorf("settlement: cancel limit order: %w", err)
	}
	return nil
}

// CancelRfqOrder permanently cancels an RFQ order.
func (e *Engine) CancelRfqOrder(ctx context.Context, caller common.Address, o domain.RfqOrder) error {
	if err := e.cancelOrders(ctx, caller, []domain.Order{o}); err != nil {
		return fmt.Errorf("settlement: cancel rfq order: %w", err)
	}
	return nil
}

// BatchCancelLimitOrders cancels every order or none of them.
func (e *Engine) BatchCancelLimitOrders(ctx context.Context, caller common.Address, orders []domain.LimitOrder) error {
	all := make([]domain.Order, len(orders))
	for i, o := range orders {
		all[i] = o
	}
	if err := e.cancelOrders(ctx, caller, all); err != nil {
		return fmt.Errorf("settlement: batch cancel limit orders: %w", err)
	}
	return nil
}

// BatchCancelRfqOrders cancels every order or none of them.
func (e *Engine) BatchCancelRfqOrders(ctx context.Context, caller common.Address, orders []domain.RfqOrder) error {
	all := make([]domain.Order, len(orders))
	for i, o := range orders {
		all[i] = o
	}
	if err := e.cancelOrders(ctx, caller, all); err != nil {
		return fmt.Errorf("settlement: batch cancel rfq orders: %w", err)
	}
	return nil
}

func (e *Engine) cancelOrders(ctx context.Context, caller common.Address, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	hashes := make([]common.Hash, len(orders))
	keys := make([]string, len(orders))
	for i, o := range orders {
		if err := e.hasher.CheckDomain(o); err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
		h, err := e.hasher.OrderHash(o)
		if err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
		hashes[i] = h
		keys[i] = orderLockKey(h)
	}

	ctx, unlock, err := e.lock(ctx, keys...)
	if err != nil {
		return err
	}
	defer unlock()

	err = e.state.Atomic(ctx, func(tx domain.OrderStateTx) error {
		// Every order is authorized before the first write.
		for i, o := range orders {
			maker := o.Common().Maker
			ok, err := authorizeSigner(ctx, tx, maker, caller)
			if err != nil {
				return err
			}
			if !ok {
				return &domain.OnlyOrderMakerAllowedError{Hash: hashes[i], Sender: caller, Maker: maker}
			}
		}
		for _, h := range hashes {
			if err := tx.SetCancelled(ctx, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, o := range orders {
		e.logger.Info("order cancelled",
			slog.String("order_hash", hashes[i].Hex()),
			slog.String("kind", o.Kind().String()),
			slog.String("caller", caller.Hex()),
		)
		e.emit(ctx, domain.OrderCancelled{OrderHash: hashes[i], Maker: o.Common().Maker})
	}
	return nil
}

// PairCancel cancels every order of a maker's token pair whose salt is at or
// below MinValidSalt. A zero Maker means the caller.
type PairCancel struct {
	Maker        common.Address `json:"maker"`
	MakerToken   common.Address `json:"makerToken"`
	TakerToken   common.Address `json:"takerToken"`
	MinValidSalt *big.Int       `json:"minValidSalt"`
}

// CancelPairLimitOrders cancels all limit orders of a pair with a salt not
// above c.MinValidSalt.
func (e *Engine) CancelPairLimitOrders(ctx context.Context, caller common.Address, c PairCancel) error {
	if err := e.cancelPairs(ctx, caller, domain.OrderKindLimit, []PairCancel{c}); err != nil {
		return fmt.Errorf("settlement: cancel pair limit orders: %w", err)
	}
	return nil
}

// CancelPairRfqOrders cancels all RFQ orders of a pair with a salt not above
// c.MinValidSalt.
func (e *Engine) CancelPairRfqOrders(ctx context.Context, caller common.Address, c PairCancel) error {
	if err := e.cancelPairs(ctx, caller, domain.OrderKindRfq, []PairCancel{c}); err != nil {
		return fmt.Errorf("settlement: cancel pair rfq orders: %w", err)
	}
	return nil
}

// BatchCancelPairLimitOrders applies every pair cancellation or none.
func (e *Engine) BatchCancelPairLimitOrders(ctx context.Context, caller common.Address, pairs []PairCancel) error {
	if err := e.cancelPairs(ctx, caller, domain.OrderKindLimit, pairs); err != nil {
		return fmt.Errorf("settlement: batch cancel pair limit orders: %w", err)
	}
	return nil
}

// BatchCancelPairRfqOrders applies every pair cancellation or none.
func (e *Engine) BatchCancelPairRfqOrders(ctx context.Context, caller common.Address, pairs []PairCancel) error {
	if err := e.cancelPairs(ctx, caller, domain.OrderKindRfq, pairs); err != nil {
		return fmt.Errorf("settlement: batch cancel pair rfq orders: %w", err)
	}
	return nil
}

func (e *Engine) cancelPairs(ctx context.Context, caller common.Address, kind domain.OrderKind, pairs []PairCancel) error {
	if len(pairs) == 0 {
		return nil
	}
	if caller == (common.Address{}) {
		return fmt.Errorf("%w: caller is required", ErrInvalidParams)
	}

	pairs = append([]PairCancel(nil), pairs...)
	keys := make([]string, len(pairs))
	for i := range pairs {
		c := &pairs[i]
		if c.Maker == (common.Address{}) {
			c.Maker = caller
		}
		if c.MinValidSalt == nil || c.MinValidSalt.Sign() < 0 || c.MinValidSalt.BitLen() > domain.SaltBits {
			return fmt.Errorf("%w: pair %d: min valid salt must be a uint256", ErrInvalidParams, i)
		}
		keys[i] = pairLockKey(kind, c.Maker, c.MakerToken, c.TakerToken)
	}

	ctx, unlock, err := e.lock(ctx, keys...)
	if err != nil {
		return err
	}
	defer unlock()

	err = e.state.Atomic(ctx, func(tx domain.OrderStateTx) error {
		for _, c := range pairs {
			ok, err := authorizeSigner(ctx, tx, c.Maker, caller)
			if err != nil {
				return err
			}
			if !ok {
				return &domain.InvalidSignerError{Maker: c.Maker, Signer: caller}
			}

			old, err := tx.MinValidSalt(ctx, kind, c.Maker, c.MakerToken, c.TakerToken)
			if err != nil {
				return err
			}
			if old != nil && old.Cmp(c.MinValidSalt) > 0 {
				return &domain.CancelSaltTooLowError{MinValidSalt: new(big.Int).Set(c.MinValidSalt), OldMinValidSalt: old}
			}

			// Stored as salt+1 so salt itself becomes invalid; saturates.
			next := new(big.Int).Set(c.MinValidSalt)
			if next.Cmp(maxUint256) < 0 {
				next.Add(next, big.NewInt(1))
			}
			if err := tx.SetMinValidSalt(ctx, kind, c.Maker, c.MakerToken, c.TakerToken, next); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, c := range pairs {
		e.logger.Info("pair cancelled",
			slog.String("kind", kind.String()),
			slog.String("maker", c.Maker.Hex()),
			slog.String("maker_token", c.MakerToken.Hex()),
			slog.String("taker_token", c.TakerToken.Hex()),
			slog.String("min_valid_salt", c.MinValidSalt.String()),
		)
		e.emit(ctx, domain.PairCancelled{
			Kind:         kind,
			Maker:        c.Maker,
			MakerToken:   c.MakerToken,
			TakerToken:   c.TakerToken,
			MinValidSalt: c.MinValidSalt,
		})
	}
	return nil
}
