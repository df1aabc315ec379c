package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/nativeorders/internal/crypto"
	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// GetLimitOrderRelevantState reports a limit order's info, how much of it a
// taker could fill right now given the maker's spendable balance, and
// whether sig authorizes it.
func (e *Engine) GetLimitOrderRelevantState(ctx context.Context, o domain.LimitOrder, sig domain.Signature) (domain.RelevantState, error) {
	st, err := e.relevantState(ctx, o, sig)
	if err != nil {
		return st, fmt.Errorf("settlement: limit order relevant state: %w", err)
	}
	return st, nil
}

// GetRfqOrderRelevantState is GetLimitOrderRelevantState for RFQ orders.
func (e *Engine) GetRfqOrderRelevantState(ctx context.Context, o domain.RfqOrder, sig domain.Signature) (domain.RelevantState, error) {
	st, err := e.relevantState(ctx, o, sig)
	if err != nil {
		return st, fmt.Errorf("settlement: rfq order relevant state: %w", err)
	}
	return st, nil
}

func (e *Engine) relevantState(ctx context.Context, o domain.Order, sig domain.Signature) (domain.RelevantState, error) {
	info, err := e.resolver.Resolve(ctx, o)
	if err != nil {
		return domain.RelevantState{}, err
	}
	st := domain.RelevantState{Info: info, ActualFillableTakerTokenAmount: new(big.Int)}
	if info.Status == domain.OrderStatusInvalid {
		return st, nil
	}

	fields := o.Common()
	if signer, err := crypto.Recover(info.Hash, sig); err == nil {
		ok, err := authorizeSigner(ctx, e.state, fields.Maker, signer)
		if err != nil {
			return st, err
		}
		st.IsSignatureValid = ok
	}

	if info.Status != domain.OrderStatusFillable || isZero(fields.MakerAmount) {
		return st, nil
	}

	rem := remaining(o, info)
	fillableMaker, err := PartialAmountFloor(rem, fields.TakerAmount, fields.MakerAmount)
	if err != nil {
		return st, err
	}
	spendable, err := e.vault.Spendable(ctx, fields.MakerToken, fields.Maker)
	if err != nil {
		return st, fmt.Errorf("maker spendable balance: %w", err)
	}
	if spendable == nil {
		spendable = new(big.Int)
	}
	fillableMaker = minBig(fillableMaker, spendable)

	fillableTaker, err := PartialAmountCeil(fillableMaker, fields.MakerAmount, fields.TakerAmount)
	if err != nil {
		return st, err
	}
	st.ActualFillableTakerTokenAmount = minBig(rem, fillableTaker)
	return st, nil
}
