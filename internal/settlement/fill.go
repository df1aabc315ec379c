package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nativeorders/internal/crypto"
	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// FillParams carries the caller identities of a fill.
type FillParams struct {
	// Taker is the filling party. It pays the taker token unless
	// UseSelfBalance is set.
	Taker common.Address `json:"taker"`
	// Sender is the account submitting the fill. Defaults to Taker.
	Sender common.Address `json:"sender"`
	// TxOrigin is the transaction origin checked by RFQ orders. Defaults to
	// Taker.
	TxOrigin common.Address `json:"txOrigin"`
	// Recipient receives the maker token. Defaults to Taker.
	Recipient common.Address `json:"recipient"`
	// UseSelfBalance pays an RFQ fill's taker token from the engine's own
	// custody account.
	UseSelfBalance bool `json:"useSelfBalance"`
}

func (p FillParams) withDefaults() FillParams {
	if p.Sender == (common.Address{}) {
		p.Sender = p.Taker
	}
	if p.TxOrigin == (common.Address{}) {
		p.TxOrigin = p.Taker
	}
	if p.Recipient == (common.Address{}) {
		p.Recipient = p.Taker
	}
	return p
}

// FillResult reports what a fill settled. A no-op fill reports zero amounts.
type FillResult struct {
	OrderHash                 common.Hash `json:"orderHash"`
	TakerTokenFilledAmount    *big.Int    `json:"takerTokenFilledAmount"`
	MakerTokenFilledAmount    *big.Int    `json:"makerTokenFilledAmount"`
	TakerTokenFeeFilledAmount *big.Int    `json:"takerTokenFeeFilledAmount"`
	ProtocolFeePaid           *big.Int    `json:"protocolFeePaid"`
}

func emptyResult(hash common.Hash) FillResult {
	return FillResult{
		OrderHash:                 hash,
		TakerTokenFilledAmount:    new(big.Int),
		MakerTokenFilledAmount:    new(big.Int),
		TakerTokenFeeFilledAmount: new(big.Int),
		ProtocolFeePaid:           new(big.Int),
	}
}

// FillLimitOrder fills up to takerTokenFillAmount of a limit order.
func (e *Engine) FillLimitOrder(ctx context.Context, o domain.LimitOrder, sig domain.Signature, takerTokenFillAmount *big.Int, p FillParams) (FillResult, error) {
	res, err := e.fill(ctx, e.limitFill(o, p, false), sig, takerTokenFillAmount, p)
	if err != nil {
		return res, fmt.Errorf("settlement: fill limit order: %w", err)
	}
	return res, nil
}

// FillOrKillLimitOrder fills exactly takerTokenFillAmount of a limit order or
// fails with *domain.FillOrKillFailedError.
func (e *Engine) FillOrKillLimitOrder(ctx context.Context, o domain.LimitOrder, sig domain.Signature, takerTokenFillAmount *big.Int, p FillParams) (FillResult, error) {
	res, err := e.fill(ctx, e.limitFill(o, p, true), sig, takerTokenFillAmount, p)
	if err != nil {
		return res, fmt.Errorf("settlement: fill-or-kill limit order: %w", err)
	}
	return res, nil
}

// FillRfqOrder fills up to takerTokenFillAmount of an RFQ order.
func (e *Engine) FillRfqOrder(ctx context.Context, o domain.RfqOrder, sig domain.Signature, takerTokenFillAmount *big.Int, p FillParams) (FillResult, error) {
	res, err := e.fill(ctx, rfqFill(o, p, false), sig, takerTokenFillAmount, p)
	if err != nil {
		return res, fmt.Errorf("settlement: fill rfq order: %w", err)
	}
	return res, nil
}

// FillOrKillRfqOrder fills exactly takerTokenFillAmount of an RFQ order or
// fails with *domain.FillOrKillFailedError.
func (e *Engine) FillOrKillRfqOrder(ctx context.Context, o domain.RfqOrder, sig domain.Signature, takerTokenFillAmount *big.Int, p FillParams) (FillResult, error) {
	res, err := e.fill(ctx, rfqFill(o, p, true), sig, takerTokenFillAmount, p)
	if err != nil {
		return res, fmt.Errorf("settlement: fill-or-kill rfq order: %w", err)
	}
	return res, nil
}

// fillSpec is the variant-specific part of a fill.
type fillSpec struct {
	order      domain.Order
	fillOrKill bool
	// restrict checks sender, origin and taker restrictions.
	restrict func(ctx context.Context, r domain.OrderStateReader, hash common.Hash) error
	// fee is the order's taker-token fee, nil when the variant has none.
	fee          *big.Int
	feeRecipient common.Address
	protocolFee  ProtocolFee
	selfBalance  bool
	event        func(hash common.Hash, res FillResult) domain.Event
}

func (e *Engine) limitFill(o domain.LimitOrder, p FillParams, fillOrKill bool) fillSpec {
	p = p.withDefaults()
	return fillSpec{
		order:      o,
		fillOrKill: fillOrKill,
		restrict: func(_ context.Context, _ domain.OrderStateReader, hash common.Hash) error {
			if o.Sender != (common.Address{}) && o.Sender != p.Sender {
				return &domain.OrderNotFillableBySenderError{Hash: hash, Sender: p.Sender, OrderSender: o.Sender}
			}
			if o.Taker != (common.Address{}) && o.Taker != p.Taker {
				return &domain.OrderNotFillableByTakerError{Hash: hash, Taker: p.Taker, OrderTaker: o.Taker}
			}
			return nil
		},
		fee:          o.FeeAmount(),
		feeRecipient: o.FeeRecipient,
		protocolFee:  e.protocolFee,
		event: func(hash common.Hash, res FillResult) domain.Event {
			return domain.LimitOrderFilled{
				OrderHash:              hash,
				Maker:                  o.Maker,
				Taker:                  p.Taker,
				FeeRecipient:           o.FeeRecipient,
				MakerToken:             o.MakerToken,
				TakerToken:             o.TakerToken,
				TakerTokenFilledAmount: res.TakerTokenFilledAmount,
				MakerTokenFilledAmount: res.MakerTokenFilledAmount,
				TakerTokenFeeFilled:    res.TakerTokenFeeFilledAmount,
				ProtocolFeePaid:        res.ProtocolFeePaid,
				Pool:                   o.Pool,
			}
		},
	}
}

func rfqFill(o domain.RfqOrder, p FillParams, fillOrKill bool) fillSpec {
	p = p.withDefaults()
	return fillSpec{
		order:      o,
		fillOrKill: fillOrKill,
		restrict: func(ctx context.Context, r domain.OrderStateReader, hash common.Hash) error {
			if o.TxOrigin != (common.Address{}) && o.TxOrigin != p.TxOrigin {
				ok, err := r.IsOriginAllowed(ctx, o.Maker, p.TxOrigin)
				if err != nil {
					return err
				}
				if !ok {
					return &domain.OrderNotFillableByOriginError{Hash: hash, TxOrigin: p.TxOrigin, OrderTxOrigin: o.TxOrigin}
				}
			}
			if o.Taker != (common.Address{}) && o.Taker != p.Taker {
				return &domain.OrderNotFillableByTakerError{Hash: hash, Taker: p.Taker, OrderTaker: o.Taker}
			}
			return nil
		},
		selfBalance: p.UseSelfBalance,
		event: func(hash common.Hash, res FillResult) domain.Event {
			return domain.RfqOrderFilled{
				OrderHash:              hash,
				Maker:                  o.Maker,
				Taker:                  p.Taker,
				MakerToken:             o.MakerToken,
				TakerToken:             o.TakerToken,
				TakerTokenFilledAmount: res.TakerTokenFilledAmount,
				MakerTokenFilledAmount: res.MakerTokenFilledAmount,
				Pool:                   o.Pool,
			}
		},
	}
}

type transfer struct {
	token  common.Address
	from   common.Address
	to     common.Address
	amount *big.Int
}

func (t transfer) String() string {
	return fmt.Sprintf("%s %s %s -> %s", t.amount, t.token.Hex(), t.from.Hex(), t.to.Hex())
}

func (e *Engine) fill(ctx context.Context, fs fillSpec, sig domain.Signature, requested *big.Int, p FillParams) (FillResult, error) {
	if requested == nil || requested.Sign() < 0 || requested.BitLen() > domain.AmountBits {
		return FillResult{}, fmt.Errorf("%w: taker token fill amount must be a uint128", ErrInvalidParams)
	}
	if p.Taker == (common.Address{}) {
		return FillResult{}, fmt.Errorf("%w: taker is required", ErrInvalidParams)
	}
	p = p.withDefaults()

	o := fs.order
	fields := o.Common()

	// Invalid orders are rejected before any lock or state read.
	hash, err := e.hasher.OrderHash(o)
	if err != nil || isZero(fields.TakerAmount) || e.hasher.CheckDomain(o) != nil {
		return emptyResult(hash), &domain.OrderNotFillableError{Hash: hash, Status: domain.OrderStatusInvalid}
	}

	ctx, unlock, err := e.lock(ctx, orderLockKey(hash))
	if err != nil {
		return emptyResult(hash), err
	}
	defer unlock()

	var (
		res  FillResult
		done []transfer
	)
	err = e.state.Atomic(ctx, func(tx domain.OrderStateTx) error {
		res = emptyResult(hash)
		done = done[:0]

		info, err := e.resolver.ResolveWith(ctx, tx, o)
		if err != nil {
			return err
		}
		if info.Status != domain.OrderStatusFillable {
			return &domain.OrderNotFillableError{Hash: hash, Status: info.Status}
		}
		if err := fs.restrict(ctx, tx, hash); err != nil {
			return err
		}
		if err := checkSignature(ctx, tx, hash, fields.Maker, sig); err != nil {
			return err
		}

		takerFill := minBig(requested, remaining(o, info))
		makerFill, err := PartialAmountFloor(takerFill, fields.TakerAmount, fields.MakerAmount)
		if err != nil {
			return err
		}
		if takerFill.Sign() == 0 || makerFill.Sign() == 0 {
			takerFill, makerFill = new(big.Int), new(big.Int)
		}
		if fs.fillOrKill && takerFill.Cmp(requested) < 0 {
			return &domain.FillOrKillFailedError{Hash: hash, TakerFilledAmount: takerFill, TakerFillRequested: new(big.Int).Set(requested)}
		}
		if takerFill.Sign() == 0 {
			return nil
		}

		// Accounting is staged before any token moves.
		if err := tx.AddFilled(ctx, hash, takerFill, fields.TakerAmount); err != nil {
			return err
		}

		payer := p.Taker
		if fs.selfBalance {
			payer = e.Address()
		}
		plan := []transfer{
			{token: fields.TakerToken, from: payer, to: fields.Maker, amount: takerFill},
			{token: fields.MakerToken, from: fields.Maker, to: p.Recipient, amount: makerFill},
		}

		feeFill := new(big.Int)
		if !isZero(fs.fee) {
			if feeFill, err = PartialAmountFloor(takerFill, fields.TakerAmount, fs.fee); err != nil {
				return err
			}
			if feeFill.Sign() > 0 {
				plan = append(plan, transfer{token: fields.TakerToken, from: payer, to: fs.feeRecipient, amount: feeFill})
			}
		}

		protocolFee := new(big.Int)
		if fs.protocolFee.enabled() {
			protocolFee.Set(fs.protocolFee.Amount)
			plan = append(plan, transfer{token: fs.protocolFee.Token, from: p.Taker, to: fs.protocolFee.Collector, amount: protocolFee})
		}

		for _, t := range plan {
			if err := e.vault.Transfer(ctx, t.token, t.from, t.to, t.amount); err != nil {
				return fmt.Errorf("transfer %s: %w", t, err)
			}
			done = append(done, t)
		}

		res.TakerTokenFilledAmount = takerFill
		res.MakerTokenFilledAmount = makerFill
		res.TakerTokenFeeFilledAmount = feeFill
		res.ProtocolFeePaid = protocolFee
		return nil
	})
	if err != nil {
		if len(done) > 0 {
			if cerr := e.compensate(ctx, hash, done); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
		return emptyResult(hash), err
	}

	if res.TakerTokenFilledAmount.Sign() == 0 {
		e.logger.Debug("fill settled nothing", slog.String("order_hash", hash.Hex()))
		return res, nil
	}

	e.logger.Info("order filled",
		slog.String("order_hash", hash.Hex()),
		slog.String("kind", o.Kind().String()),
		slog.String("maker", fields.Maker.Hex()),
		slog.String("taker", p.Taker.Hex()),
		slog.String("taker_filled", res.TakerTokenFilledAmount.String()),
		slog.String("maker_filled", res.MakerTokenFilledAmount.String()),
	)
	e.emit(ctx, fs.event(hash, res))
	return res, nil
}

// checkSignature recovers the signer of hash and requires it to be the maker
// or one of its registered signers.
func checkSignature(ctx context.Context, r domain.OrderStateReader, hash common.Hash, maker common.Address, sig domain.Signature) error {
	signer, err := crypto.Recover(hash, sig)
	if err != nil {
		return &domain.OrderNotSignedByMakerError{Hash: hash, Maker: maker, Cause: err}
	}
	ok, err := authorizeSigner(ctx, r, maker, signer)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.OrderNotSignedByMakerError{Hash: hash, Signer: signer, Maker: maker}
	}
	return nil
}

// compensate reverses completed transfers, newest first, after the state
// transaction rolled back.
func (e *Engine) compensate(ctx context.Context, hash common.Hash, done []transfer) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		t := done[i]
		if err := e.vault.Transfer(ctx, t.token, t.to, t.from, t.amount); err != nil {
			e.logger.Error("compensating transfer failed",
				slog.String("order_hash", hash.Hex()),
				slog.String("transfer", t.String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("settlement: compensate %s: %w", t, err))
		}
	}
	if len(errs) == 0 {
		e.logger.Warn("fill rolled back", slog.String("order_hash", hash.Hex()), slog.Int("reversed", len(done)))
	}
	return errors.Join(errs...)
}
