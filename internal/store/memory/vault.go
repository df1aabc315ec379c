package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// TransferHook runs after a transfer has moved balances and before it
// returns. A hook error reverts the transfer. Hooks may call back into the
// settlement engine.
type TransferHook func(ctx context.Context, token, from, to common.Address, amount *big.Int) error

type balanceKey struct {
	token common.Address
	owner common.Address
}

// Vault implements domain.TokenVault over in-memory balances.
type Vault struct {
	mu       sync.Mutex
	balances map[balanceKey]*big.Int
	hook     TransferHook
}

// NewVault creates an empty Vault.
func NewVault() *Vault {
	return &Vault{balances: make(map[balanceKey]*big.Int)}
}

// SetTransferHook installs hook for every subsequent transfer.
func (v *Vault) SetTransferHook(hook TransferHook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hook = hook
}

// Deposit credits amount of token to owner.
func (v *Vault) Deposit(token, owner common.Address, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(balanceKey{token, owner}, amount)
}

// Balance returns owner's balance of token.
func (v *Vault) Balance(token, owner common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.balances[balanceKey{token, owner}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Spendable is the full balance; there are no allowances in memory.
func (v *Vault) Spendable(_ context.Context, token, owner common.Address) (*big.Int, error) {
	return v.Balance(token, owner), nil
}

// Transfer moves amount of token from one owner to another.
func (v *Vault) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("memory: transfer: negative amount")
	}

	v.mu.Lock()
	src := balanceKey{token, from}
	bal := v.balances[src]
	if bal == nil || bal.Cmp(amount) < 0 {
		v.mu.Unlock()
		return fmt.Errorf("memory: transfer %s of %s from %s: %w", amount, token.Hex(), from.Hex(), domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	v.credit(balanceKey{token, to}, amount)
	hook := v.hook
	v.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, token, from, to, amount); err != nil {
		v.mu.Lock()
		v.balances[balanceKey{token, to}].Sub(v.balances[balanceKey{token, to}], amount)
		v.credit(src, amount)
		v.mu.Unlock()
		return fmt.Errorf("memory: transfer hook: %w", err)
	}
	return nil
}

func (v *Vault) credit(k balanceKey, amount *big.Int) {
	if b, ok := v.balances[k]; ok {
		b.Add(b, amount)
		return
	}
	v.balances[k] = new(big.Int).Set(amount)
}

// Compile-time interface check.
var _ domain.TokenVault = (*Vault)(nil)
