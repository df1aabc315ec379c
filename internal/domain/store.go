package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStateReader reads settlement state.
type OrderStateReader interface {
	FillRecord(ctx context.Context, hash common.Hash) (FillRecord, error)
	IsOriginAllowed(ctx context.Context, maker, origin common.Address) (bool, error)
	IsOrderSignerAllowed(ctx context.Context, maker, signer common.Address) (bool, error)
	// MinValidSalt returns the pair's minimum valid salt, zero when unset.
	MinValidSalt(ctx context.Context, kind OrderKind, maker, makerToken, takerToken common.Address) (*big.Int, error)
}

// OrderStateTx is a transactional view of the state store. Its writes become
// visible to other readers only when the enclosing Atomic call commits.
type OrderStateTx interface {
	OrderStateReader
	// AddFilled adds delta to the filled amount, preserving the cancelled flag.
	// It is the only mutator of filled amounts. The store rejects, at the
	// latest on commit, any sum above limit with ErrFillLimitExceeded. A nil
	// limit bounds the sum by the packed word only.
	AddFilled(ctx context.Context, hash common.Hash, delta, limit *big.Int) error
	// SetCancelled sets the cancelled flag. There is no way to clear it.
	SetCancelled(ctx context.Context, hash common.Hash) error
	SetOriginAllowed(ctx context.Context, maker, origin common.Address, allowed bool) error
	SetOrderSignerAllowed(ctx context.Context, maker, signer common.Address, allowed bool) error
	SetMinValidSalt(ctx context.Context, kind OrderKind, maker, makerToken, takerToken common.Address, salt *big.Int) error
}

// OrderStateStore is the authoritative settlement state. Atomic runs fn in a
// transaction that commits only when fn returns nil.
type OrderStateStore interface {
	OrderStateReader
	Atomic(ctx context.Context, fn func(tx OrderStateTx) error) error
}

// TokenVault moves token balances between accounts. Transfers are external
// calls from the engine's point of view and may call back into it.
type TokenVault interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	// Spendable returns how much of token owner can currently send.
	Spendable(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// EventSink receives settlement events after the operation that produced
// them has committed.
type EventSink interface {
	Emit(ctx context.Context, env EventEnvelope) error
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventLog is the durable, append-only record of settlement events.
type EventLog interface {
	EventSink
	List(ctx context.Context, opts ListOpts) ([]EventEnvelope, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
