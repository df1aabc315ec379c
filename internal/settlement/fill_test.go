package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

func TestLimitOrderEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(amt(100, 18), amt(100, 6), amt(1, 18))
	sig := h.sign(o)
	h.fund(o, amt(1, 18))

	res, err := h.engine.FillLimitOrder(ctx, o, sig, amt(60, 6), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Equal(t, amt(60, 6), res.TakerTokenFilledAmount)
	assert.Equal(t, amt(60, 18), res.MakerTokenFilledAmount)
	assert.Equal(t, amt(6, 17), res.TakerTokenFeeFilledAmount)
	assert.Zero(t, res.ProtocolFeePaid.Sign())

	info, err := h.engine.GetLimitOrderInfo(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFillable, info.Status)
	assert.Equal(t, amt(60, 6), info.TakerTokenFilledAmount)
	assert.Equal(t, amt(40, 6), new(big.Int).Sub(o.TakerAmount, info.TakerTokenFilledAmount))

	res, err = h.engine.FillLimitOrder(ctx, o, sig, amt(40, 6), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Equal(t, amt(40, 6), res.TakerTokenFilledAmount)
	assert.Equal(t, amt(40, 18), res.MakerTokenFilledAmount)
	assert.Equal(t, amt(4, 17), res.TakerTokenFeeFilledAmount)

	info, err = h.engine.GetLimitOrderInfo(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, info.Status)

	assert.Equal(t, amt(100, 18), h.vault.Balance(makerToken, taker))
	assert.Equal(t, amt(100, 6), h.vault.Balance(takerToken, h.makerAddr()))
	assert.Equal(t, amt(1, 18), h.vault.Balance(takerToken, feeRecipient))
	assert.Zero(t, h.vault.Balance(takerToken, taker).Sign())

	fills := h.events(domain.EventLimitOrderFilled)
	require.Len(t, fills, 2)

	_, err = h.engine.FillLimitOrder(ctx, o, sig, big.NewInt(1), FillParams{Taker: taker})
	var nf *domain.OrderNotFillableError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.OrderStatusFilled, nf.Status)
}

func TestFillRoundsMakerAmountDown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(10), big.NewInt(3), nil)
	h.fund(o, nil)

	res, err := h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(1), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TakerTokenFilledAmount.Int64())
	assert.Equal(t, int64(3), res.MakerTokenFilledAmount.Int64())
}

func TestFillClampsToRemaining(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(1000), big.NewInt(100), nil)
	sig := h.sign(o)
	h.fund(o, nil)

	_, err := h.engine.FillLimitOrder(ctx, o, sig, big.NewInt(70), FillParams{Taker: taker})
	require.NoError(t, err)

	res, err := h.engine.FillLimitOrder(ctx, o, sig, big.NewInt(500), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.TakerTokenFilledAmount.Int64())
	assert.Equal(t, int64(300), res.MakerTokenFilledAmount.Int64())

	rec, err := h.state.FillRecord(ctx, h.hash(o))
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.Filled.Int64())
}

func TestZeroMakerFillIsNoOp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(1), big.NewInt(10), nil)
	h.fund(o, nil)

	res, err := h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(1), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Zero(t, res.TakerTokenFilledAmount.Sign())
	assert.Zero(t, res.MakerTokenFilledAmount.Sign())

	rec, err := h.state.FillRecord(ctx, h.hash(o))
	require.NoError(t, err)
	assert.Zero(t, rec.Filled.Sign())
	assert.Empty(t, h.events(domain.EventLimitOrderFilled))
	assert.Equal(t, int64(10), h.vault.Balance(takerToken, taker).Int64())

	res, err = h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(0), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Zero(t, res.TakerTokenFilledAmount.Sign())
}

func TestFillExpiredOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(10), big.NewInt(10), nil)
	sig := h.sign(o)
	h.fund(o, nil)

	h.now = h.now.Add(60 * time.Second)

	info, err := h.engine.GetLimitOrderInfo(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, info.Status)

	_, err = h.engine.FillLimitOrder(ctx, o, sig, big.NewInt(1), FillParams{Taker: taker})
	var nf *domain.OrderNotFillableError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.OrderStatusExpired, nf.Status)
	assert.Equal(t, h.hash(o), nf.Hash)

	// Rejected regardless of the signature.
	_, err = h.engine.FillLimitOrder(ctx, o, domain.Signature{}, big.NewInt(1), FillParams{Taker: taker})
	require.ErrorAs(t, err, &nf)
}

func TestFillInvalidOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(10), big.NewInt(0), nil)

	info, err := h.engine.GetLimitOrderInfo(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInvalid, info.Status)

	_, err = h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(1), FillParams{Taker: taker})
	var nf *domain.OrderNotFillableError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.OrderStatusInvalid, nf.Status)

	wide := h.limitOrder(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(10), nil)
	info, err = h.engine.GetLimitOrderInfo(ctx, wide)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInvalid, info.Status)
}

func TestFillForeignDomainOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	tests := []struct {
		name     string
		chainID  *big.Int
		contract common.Address
	}{
		{name: "other chain", chainID: big.NewInt(137), contract: contract},
		{name: "other contract", chainID: chainID, contract: common.HexToAddress("0x1111111111111111111111111111111111111111")},
		{name: "both", chainID: big.NewInt(137), contract: common.HexToAddress("0x1111111111111111111111111111111111111111")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := h.limitOrder(big.NewInt(100), big.NewInt(100), nil)
			o.ChainID = tt.chainID
			o.VerifyingContract = tt.contract
			h.fund(o, nil)

			info, err := h.engine.GetLimitOrderInfo(ctx, o)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderStatusInvalid, info.Status)

			_, err = h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(100), FillParams{Taker: taker})
			var nf *domain.OrderNotFillableError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, domain.OrderStatusInvalid, nf.Status)

			assert.ErrorIs(t, h.engine.CancelLimitOrder(ctx, h.makerAddr(), o), domain.ErrInvalidOrder)
		})
	}

	// Unset domain fields mean the engine's own domain.
	o := h.limitOrder(big.NewInt(100), big.NewInt(100), nil)
	o.ChainID = nil
	o.VerifyingContract = common.Address{}
	info, err := h.engine.GetLimitOrderInfo(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFillable, info.Status)
}

func TestFillRejectsBadParams(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(10), big.NewInt(10), nil)

	_, err := h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(-1), FillParams{Taker: taker})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(1), FillParams{})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestFillAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("signature from stranger", func(t *testing.T) {
		h := newHarness(t)
		other := newHarness(t)
		o := h.limitOrder(big.NewInt(10), big.NewInt(10), nil)
		h.fund(o, nil)

		_, err := h.engine.FillLimitOrder(ctx, o, other.sign(o), big.NewInt(1), FillParams{Taker: taker})
		var ns *domain.OrderNotSignedByMakerError
		require.ErrorAs(t, err, &ns)
		assert.Equal(t, o.Maker, ns.Maker)
		assert.Equal(t, other.makerAddr(), ns.Signer)
	})

	t.Run("malformed signature", func(t *testing.T) {
		h := newHarness(t)
		o := h.limitOrder(big.NewInt(10), big.NewInt(10), nil)
		h.fund(o, nil)

		_, err := h.engine.FillLimitOrder(ctx, o, domain.Signature{Type: domain.SignatureTypeEIP712, V: 27}, big.NewInt(1), FillParams{Taker: taker})
		var ns *domain.OrderNotSignedByMakerError
		require.ErrorAs(t, err, &ns)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("registered signer", func(t *testing.T) {
		h := newHarness(t)
		delegate := newHarness(t)
		o := h.limitOrder(big.NewInt(10), big.NewInt(10), nil)
		h.fund(o, nil)

		require.NoError(t, h.engine.RegisterAllowedOrderSigner(ctx, h.makerAddr(), delegate.makerAddr(), true))
		_, err := h.engine.FillLimitOrder(ctx, o, delegate.sign(o), big.NewInt(4), FillParams{Taker: taker})
		require.NoError(t, err)

		require.NoError(t, h.engine.RegisterAllowedOrderSigner(ctx, h.makerAddr(), delegate.makerAddr(), false))
		_, err = h.engine.FillLimitOrder(ctx, o, delegate.sign(o), big.NewInt(4), FillParams{Taker: taker})
		var ns *domain.OrderNotSignedByMakerError
		require.ErrorAs(t, err, &ns)
		assert.Len(t, h.events(domain.EventOrderSignerRegistrationUpdated), 2)
	})

	t.Run("taker restricted", func(t *testing.T) {
		h := newHarness(t)
		o := h.limitOrder(big.NewInt(10), big.NewInt(10), nil)
		o.Taker = stranger
		h.fund(o, nil)

		_, err := h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(1), FillParams{Taker: taker})
		var nt *domain.OrderNotFillableByTakerError
		require.ErrorAs(t, err, &nt)
		assert.Equal(t, taker, nt.Taker)
		assert.Equal(t, stranger, nt.OrderTaker)
	})

	t.Run("sender restricted", func(t *testing.T) {
		h := newHarness(t)
		o := h.limitOrder(big.NewInt(10), big.NewInt(10), nil)
		o.Sender = relayer
		sig := h.sign(o)
		h.fund(o, nil)

		_, err := h.engine.FillLimitOrder(ctx, o, sig, big.NewInt(1), FillParams{Taker: taker})
		var ns *domain.OrderNotFillableBySenderError
		require.ErrorAs(t, err, &ns)
		assert.Equal(t, taker, ns.Sender)

		_, err = h.engine.FillLimitOrder(ctx, o, sig, big.NewInt(1), FillParams{Taker: taker, Sender: relayer})
		require.NoError(t, err)
	})
}

func TestRfqOrderOrigin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.rfqOrder(big.NewInt(100), big.NewInt(100))
	o.TxOrigin = relayer
	sig := h.sign(o)
	h.fund(o, nil)

	_, err := h.engine.FillRfqOrder(ctx, o, sig, big.NewInt(10), FillParams{Taker: taker, TxOrigin: stranger})
	var no *domain.OrderNotFillableByOriginError
	require.ErrorAs(t, err, &no)
	assert.Equal(t, stranger, no.TxOrigin)
	assert.Equal(t, relayer, no.OrderTxOrigin)

	res, err := h.engine.FillRfqOrder(ctx, o, sig, big.NewInt(10), FillParams{Taker: taker, TxOrigin: relayer})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.TakerTokenFilledAmount.Int64())

	require.NoError(t, h.engine.RegisterAllowedRfqOrigins(ctx, h.makerAddr(), []common.Address{stranger}, true))
	_, err = h.engine.FillRfqOrder(ctx, o, sig, big.NewInt(10), FillParams{Taker: taker, TxOrigin: stranger})
	require.NoError(t, err)

	require.NoError(t, h.engine.RegisterAllowedRfqOrigins(ctx, h.makerAddr(), []common.Address{stranger}, false))
	_, err = h.engine.FillRfqOrder(ctx, o, sig, big.NewInt(10), FillParams{Taker: taker, TxOrigin: stranger})
	require.ErrorAs(t, err, &no)

	assert.Len(t, h.events(domain.EventRfqOrderOriginsAllowed), 2)
	assert.Len(t, h.events(domain.EventRfqOrderFilled), 2)
}

func TestRfqOrderSelfBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.rfqOrder(big.NewInt(50), big.NewInt(100))
	h.vault.Deposit(makerToken, h.makerAddr(), big.NewInt(50))
	h.vault.Deposit(takerToken, h.engine.Address(), big.NewInt(100))

	res, err := h.engine.FillRfqOrder(ctx, o, h.sign(o), big.NewInt(100), FillParams{Taker: taker, UseSelfBalance: true})
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.MakerTokenFilledAmount.Int64())
	assert.Zero(t, h.vault.Balance(takerToken, h.engine.Address()).Sign())
	assert.Equal(t, int64(50), h.vault.Balance(makerToken, taker).Int64())
}

func TestFillRecipient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(20), big.NewInt(10), nil)
	h.fund(o, nil)

	_, err := h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(10), FillParams{Taker: taker, Recipient: stranger})
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.vault.Balance(makerToken, stranger).Int64())
	assert.Zero(t, h.vault.Balance(makerToken, taker).Sign())
}

func TestFillOrKill(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(100), big.NewInt(100), nil)
	sig := h.sign(o)
	h.fund(o, nil)

	_, err := h.engine.FillOrKillLimitOrder(ctx, o, sig, big.NewInt(101), FillParams{Taker: taker})
	var fok *domain.FillOrKillFailedError
	require.ErrorAs(t, err, &fok)
	assert.Equal(t, int64(100), fok.TakerFilledAmount.Int64())
	assert.Equal(t, int64(101), fok.TakerFillRequested.Int64())

	rec, err := h.state.FillRecord(ctx, h.hash(o))
	require.NoError(t, err)
	assert.Zero(t, rec.Filled.Sign())

	res, err := h.engine.FillOrKillLimitOrder(ctx, o, sig, big.NewInt(100), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.TakerTokenFilledAmount.Int64())

	r := h.rfqOrder(big.NewInt(1), big.NewInt(10))
	h.fund(r, nil)
	_, err = h.engine.FillOrKillRfqOrder(ctx, r, h.sign(r), big.NewInt(1), FillParams{Taker: taker})
	require.ErrorAs(t, err, &fok, "a zero maker fill cannot satisfy fill-or-kill")
}

func TestProtocolFee(t *testing.T) {
	ctx := context.Background()
	feeToken := common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	collector := common.HexToAddress("0xc0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0")
	h := newHarness(t, func(o *Options) {
		o.ProtocolFee = ProtocolFee{Amount: big.NewInt(7), Token: feeToken, Collector: collector}
	})
	o := h.limitOrder(big.NewInt(10), big.NewInt(10), nil)
	h.fund(o, nil)
	h.vault.Deposit(feeToken, taker, big.NewInt(7))

	res, err := h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(10), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.ProtocolFeePaid.Int64())
	assert.Equal(t, int64(7), h.vault.Balance(feeToken, collector).Int64())

	// RFQ fills carry no protocol fee.
	r := h.rfqOrder(big.NewInt(10), big.NewInt(10))
	h.fund(r, nil)
	res, err = h.engine.FillRfqOrder(ctx, r, h.sign(r), big.NewInt(10), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Zero(t, res.ProtocolFeePaid.Sign())
}

func TestTransferFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(100), big.NewInt(100), big.NewInt(10))
	sig := h.sign(o)
	h.fund(o, big.NewInt(10))

	boom := errors.New("fee recipient rejects tokens")
	h.vault.SetTransferHook(func(_ context.Context, _, _, to common.Address, _ *big.Int) error {
		if to == feeRecipient {
			return boom
		}
		return nil
	})

	_, err := h.engine.FillLimitOrder(ctx, o, sig, big.NewInt(50), FillParams{Taker: taker})
	require.ErrorIs(t, err, boom)

	rec, err := h.state.FillRecord(ctx, h.hash(o))
	require.NoError(t, err)
	assert.Zero(t, rec.Filled.Sign())
	assert.Equal(t, int64(110), h.vault.Balance(takerToken, taker).Int64())
	assert.Equal(t, int64(100), h.vault.Balance(makerToken, h.makerAddr()).Int64())
	assert.Zero(t, h.vault.Balance(takerToken, h.makerAddr()).Sign())
	assert.Zero(t, h.vault.Balance(makerToken, taker).Sign())
	assert.Empty(t, h.events(domain.EventLimitOrderFilled))
}

func TestInsufficientBalanceRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(100), big.NewInt(100), nil)
	h.vault.Deposit(takerToken, taker, big.NewInt(100))
	h.vault.Deposit(makerToken, h.makerAddr(), big.NewInt(10))

	_, err := h.engine.FillLimitOrder(ctx, o, h.sign(o), big.NewInt(50), FillParams{Taker: taker})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(100), h.vault.Balance(takerToken, taker).Int64())

	info, err := h.engine.GetLimitOrderInfo(ctx, o)
	require.NoError(t, err)
	assert.Zero(t, info.TakerTokenFilledAmount.Sign())
}

func TestReentrantFillRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(100), big.NewInt(100), nil)
	sig := h.sign(o)
	h.fund(o, big.NewInt(100))

	var (
		reentered bool
		innerErr  error
	)
	h.vault.SetTransferHook(func(ctx context.Context, token, _, to common.Address, _ *big.Int) error {
		if reentered || token != takerToken || to != h.makerAddr() {
			return nil
		}
		reentered = true
		_, innerErr = h.engine.FillLimitOrder(ctx, o, sig, big.NewInt(100), FillParams{Taker: taker})
		return nil
	})

	res, err := h.engine.FillLimitOrder(ctx, o, sig, big.NewInt(60), FillParams{Taker: taker})
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.TakerTokenFilledAmount.Int64())
	require.True(t, reentered)
	assert.ErrorIs(t, innerErr, domain.ErrReentrantCall)

	rec, err := h.state.FillRecord(ctx, h.hash(o))
	require.NoError(t, err)
	assert.Equal(t, int64(60), rec.Filled.Int64())
}

func TestConcurrentFillsNeverOverfill(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(amt(100, 18), amt(100, 6), nil)
	sig := h.sign(o)
	h.fund(o, amt(200, 6))

	const workers = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		filled = new(big.Int)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.FillLimitOrder(ctx, o, sig, amt(20, 6), FillParams{Taker: taker})
			if err != nil {
				var nf *domain.OrderNotFillableError
				assert.ErrorAs(t, err, &nf)
				return
			}
			mu.Lock()
			filled.Add(filled, res.TakerTokenFilledAmount)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, amt(100, 6), filled)
	rec, err := h.state.FillRecord(ctx, h.hash(o))
	require.NoError(t, err)
	assert.Equal(t, amt(100, 6), rec.Filled)
	assert.Len(t, h.events(domain.EventLimitOrderFilled), 5)
}

func TestRelevantState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(big.NewInt(1000), big.NewInt(100), nil)
	sig := h.sign(o)

	// Maker can only cover 250 of 1000 maker tokens.
	h.vault.Deposit(makerToken, h.makerAddr(), big.NewInt(250))
	st, err := h.engine.GetLimitOrderRelevantState(ctx, o, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFillable, st.Info.Status)
	assert.True(t, st.IsSignatureValid)
	assert.Equal(t, int64(25), st.ActualFillableTakerTokenAmount.Int64())

	h.vault.Deposit(makerToken, h.makerAddr(), big.NewInt(10_000))
	st, err = h.engine.GetLimitOrderRelevantState(ctx, o, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.ActualFillableTakerTokenAmount.Int64())

	other := newHarness(t)
	st, err = h.engine.GetLimitOrderRelevantState(ctx, o, other.sign(o))
	require.NoError(t, err)
	assert.False(t, st.IsSignatureValid)

	r := h.rfqOrder(big.NewInt(10), big.NewInt(10))
	h.now = h.now.Add(time.Hour)
	rst, err := h.engine.GetRfqOrderRelevantState(ctx, r, h.sign(r))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, rst.Info.Status)
	assert.Zero(t, rst.ActualFillableTakerTokenAmount.Sign())
	assert.True(t, rst.IsSignatureValid)
}

func TestFillEventPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.limitOrder(amt(100, 18), amt(100, 6), amt(1, 18))
	o.Pool = common.HexToHash("0x01")
	h.fund(o, amt(1, 18))

	_, err := h.engine.FillLimitOrder(ctx, o, h.sign(o), amt(60, 6), FillParams{Taker: taker})
	require.NoError(t, err)

	envs := h.events(domain.EventLimitOrderFilled)
	require.Len(t, envs, 1)
	assert.True(t, h.now.Equal(envs[0].Timestamp))
	assert.JSONEq(t, `{
		"orderHash": "`+h.hash(o).Hex()+`",
		"maker": "`+h.makerAddr().Hex()+`",
		"taker": "`+taker.Hex()+`",
		"feeRecipient": "`+feeRecipient.Hex()+`",
		"makerToken": "`+makerToken.Hex()+`",
		"takerToken": "`+takerToken.Hex()+`",
		"takerTokenFilledAmount": 60000000,
		"makerTokenFilledAmount": 60000000000000000000,
		"takerTokenFeeFilledAmount": 600000000000000000,
		"protocolFeePaid": 0,
		"pool": "0x0000000000000000000000000000000000000000000000000000000000000001"
	}`, string(envs[0].Data))
}

func TestExpiredLockCannotOverfill(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(o *Options) {
		o.LockTTL = 5 * time.Millisecond
	})
	o := h.limitOrder(amt(10, 18), amt(10, 6), nil)
	sig := h.sign(o)
	h.fund(o, amt(10, 6))
	h.vault.Deposit(makerToken, h.makerAddr(), amt(10, 18))

	h.vault.SetTransferHook(func(context.Context, common.Address, common.Address, common.Address, *big.Int) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.FillLimitOrder(ctx, o, sig, amt(10, 6), FillParams{Taker: taker})
		}(i)
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var nf *domain.OrderNotFillableError
		if !errors.As(err, &nf) && !errors.Is(err, domain.ErrLockHeld) {
			assert.ErrorIs(t, err, domain.ErrFillLimitExceeded)
		}
	}
	assert.Equal(t, 1, ok)

	rec, err := h.state.FillRecord(ctx, h.hash(o))
	require.NoError(t, err)
	assert.Equal(t, amt(10, 6), rec.Filled)
	assert.Equal(t, amt(10, 18), h.vault.Balance(makerToken, taker))
	assert.Equal(t, amt(10, 6), h.vault.Balance(takerToken, h.makerAddr()))
	assert.Len(t, h.events(domain.EventLimitOrderFilled), 1)
}
