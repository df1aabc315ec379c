package settlement

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nativeorders/internal/crypto"
	"github.com/alanyoungcy/nativeorders/internal/domain"
	"github.com/alanyoungcy/nativeorders/internal/store/memory"
)

var (
	chainID      = big.NewInt(1)
	contract     = common.HexToAddress("0xDef1C0ded9bec7F1a1670819833240f027b25EfF")
	makerToken   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	takerToken   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	taker        = common.HexToAddress("0x7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a")
	relayer      = common.HexToAddress("0x5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e")
	feeRecipient = common.HexToAddress("0xfefefefefefefefefefefefefefefefefefefefe")
	stranger     = common.HexToAddress("0x0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func amt(v int64, decimals int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), pow10(decimals))
}

type harness struct {
	t      *testing.T
	engine *Engine
	state  *memory.StateStore
	vault  *memory.Vault
	bus    *memory.EventBus
	maker  *crypto.OrderSigner
	now    time.Time
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	h := &harness{
		t:     t,
		state: memory.NewStateStore(),
		vault: memory.NewVault(),
		bus:   memory.NewEventBus(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	d := crypto.NewDomain(chainID, contract)
	h.maker = crypto.NewOrderSigner(key, d)

	opts := Options{
		LockWait: 5 * time.Second,
		Clock:    func() time.Time { return h.now },
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	h.engine = NewEngine(crypto.NewHasher(d), h.state, h.vault, memory.NewLockManager(), h.bus, opts, nil)
	return h
}

func (h *harness) makerAddr() common.Address {
	return h.maker.Address()
}

func (h *harness) limitOrder(makerAmount, takerAmount, fee *big.Int) domain.LimitOrder {
	return domain.LimitOrder{
		OrderFields: domain.OrderFields{
			MakerToken:        makerToken,
			TakerToken:        takerToken,
			MakerAmount:       makerAmount,
			TakerAmount:       takerAmount,
			Maker:             h.makerAddr(),
			ChainID:           chainID,
			VerifyingContract: contract,
		},
		TakerTokenFeeAmount: fee,
		FeeRecipient:        feeRecipient,
		Expiry:              uint64(h.now.Add(60 * time.Second).Unix()),
		Salt:                big.NewInt(h.now.UnixNano()),
	}
}

func (h *harness) rfqOrder(makerAmount, takerAmount *big.Int) domain.RfqOrder {
	return domain.RfqOrder{
		OrderFields: domain.OrderFields{
			MakerToken:        makerToken,
			TakerToken:        takerToken,
			MakerAmount:       makerAmount,
			TakerAmount:       takerAmount,
			Maker:             h.makerAddr(),
			ChainID:           chainID,
			VerifyingContract: contract,
		},
		Expiry: uint64(h.now.Add(60 * time.Second).Unix()),
		Salt:   big.NewInt(42),
	}
}

func (h *harness) sign(o domain.Order) domain.Signature {
	h.t.Helper()
	_, sig, err := h.maker.SignOrder(o, domain.SignatureTypeEIP712)
	require.NoError(h.t, err)
	return sig
}

func (h *harness) hash(o domain.Order) common.Hash {
	h.t.Helper()
	hash, err := h.engine.Hasher().OrderHash(o)
	require.NoError(h.t, err)
	return hash
}

// fund gives the maker all maker tokens and the taker all taker tokens plus
// the fee an order could require.
func (h *harness) fund(o domain.Order, extraTaker *big.Int) {
	f := o.Common()
	h.vault.Deposit(f.MakerToken, f.Maker, f.MakerAmount)
	total := new(big.Int).Set(f.TakerAmount)
	if extraTaker != nil {
		total.Add(total, extraTaker)
	}
	h.vault.Deposit(f.TakerToken, taker, total)
}

func (h *harness) events(name string) []domain.EventEnvelope {
	h.t.Helper()
	all, err := h.bus.List(context.Background(), domain.ListOpts{})
	require.NoError(h.t, err)
	var out []domain.EventEnvelope
	for _, env := range all {
		if env.Event == name {
			out = append(out, env)
		}
	}
	return out
}
