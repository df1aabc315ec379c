// Package memory implements the settlement ports in process memory. It backs
// tests and single-node deployments without a database.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

type registryKey struct {
	maker common.Address
	other common.Address
}

type pairKey struct {
	kind       domain.OrderKind
	maker      common.Address
	makerToken common.Address
	takerToken common.Address
}

// StateStore implements domain.OrderStateStore. Transactions buffer their
// writes and apply them under a single mutex on commit.
type StateStore struct {
	mu       sync.RWMutex
	fills    map[common.Hash]domain.FillRecord
	origins  map[registryKey]bool
	signers  map[registryKey]bool
	minSalts map[pairKey]*big.Int
}

// NewStateStore creates an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{
		fills:    make(map[common.Hash]domain.FillRecord),
		origins:  make(map[registryKey]bool),
		signers:  make(map[registryKey]bool),
		minSalts: make(map[pairKey]*big.Int),
	}
}

func (s *StateStore) FillRecord(_ context.Context, hash common.Hash) (domain.FillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.fills[hash]
	return domain.FillRecord{Filled: rec.FilledAmount(), Cancelled: rec.Cancelled}, nil
}

func (s *StateStore) IsOriginAllowed(_ context.Context, maker, origin common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origins[registryKey{maker, origin}], nil
}

func (s *StateStore) IsOrderSignerAllowed(_ context.Context, maker, signer common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signers[registryKey{maker, signer}], nil
}

func (s *StateStore) MinValidSalt(_ context.Context, kind domain.OrderKind, maker, makerToken, takerToken common.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.minSalts[pairKey{kind, maker, makerToken, takerToken}]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

// Atomic runs fn against a buffered transaction and applies its writes only
// when fn returns nil.
func (s *StateStore) Atomic(ctx context.Context, fn func(tx domain.OrderStateTx) error) error {
	tx := &stateTx{
		base:      s,
		filled:    make(map[common.Hash]*big.Int),
		limits:    make(map[common.Hash]*big.Int),
		cancelled: make(map[common.Hash]bool),
		origins:   make(map[registryKey]bool),
		signers:   make(map[registryKey]bool),
		minSalts:  make(map[pairKey]*big.Int),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *StateStore) commit(tx *stateTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every fill delta against the committed record before applying
	// anything. Another transaction may have committed since this one read.
	next := make(map[common.Hash]domain.FillRecord, len(tx.filled))
	for h, delta := range tx.filled {
		rec, err := s.fills[h].AddWithin(delta, tx.limits[h])
		if err != nil {
			return fmt.Errorf("memory: commit fill %s: %w", h.Hex(), err)
		}
		next[h] = rec
	}
	for h, rec := range next {
		s.fills[h] = rec
	}
	for h := range tx.cancelled {
		s.fills[h] = s.fills[h].Cancel()
	}
	for k, v := range tx.origins {
		s.origins[k] = v
	}
	for k, v := range tx.signers {
		s.signers[k] = v
	}
	for k, v := range tx.minSalts {
		s.minSalts[k] = v
	}
	return nil
}

// stateTx buffers writes. Fill deltas are applied relative to the committed
// record so the cancelled flag set by another transaction is preserved.
type stateTx struct {
	base      *StateStore
	filled    map[common.Hash]*big.Int
	limits    map[common.Hash]*big.Int
	cancelled map[common.Hash]bool
	origins   map[registryKey]bool
	signers   map[registryKey]bool
	minSalts  map[pairKey]*big.Int
}

func (tx *stateTx) FillRecord(ctx context.Context, hash common.Hash) (domain.FillRecord, error) {
	rec, err := tx.base.FillRecord(ctx, hash)
	if err != nil {
		return rec, err
	}
	if delta, ok := tx.filled[hash]; ok {
		if rec, err = rec.Add(delta); err != nil {
			return rec, err
		}
	}
	if tx.cancelled[hash] {
		rec = rec.Cancel()
	}
	return rec, nil
}

func (tx *stateTx) IsOriginAllowed(ctx context.Context, maker, origin common.Address) (bool, error) {
	if v, ok := tx.origins[registryKey{maker, origin}]; ok {
		return v, nil
	}
	return tx.base.IsOriginAllowed(ctx, maker, origin)
}

func (tx *stateTx) IsOrderSignerAllowed(ctx context.Context, maker, signer common.Address) (bool, error) {
	if v, ok := tx.signers[registryKey{maker, signer}]; ok {
		return v, nil
	}
	return tx.base.IsOrderSignerAllowed(ctx, maker, signer)
}

func (tx *stateTx) MinValidSalt(ctx context.Context, kind domain.OrderKind, maker, makerToken, takerToken common.Address) (*big.Int, error) {
	if v, ok := tx.minSalts[pairKey{kind, maker, makerToken, takerToken}]; ok {
		return new(big.Int).Set(v), nil
	}
	return tx.base.MinValidSalt(ctx, kind, maker, makerToken, takerToken)
}

func (tx *stateTx) AddFilled(ctx context.Context, hash common.Hash, delta, limit *big.Int) error {
	if delta == nil || delta.Sign() < 0 {
		return fmt.Errorf("memory: add filled %s: %w: negative delta", hash.Hex(), domain.ErrArithmeticOverflow)
	}
	sum := new(big.Int).Set(delta)
	if prev, ok := tx.filled[hash]; ok {
		sum.Add(sum, prev)
	}
	// The tightest limit seen in the transaction applies on commit.
	if prev, ok := tx.limits[hash]; ok && (limit == nil || prev.Cmp(limit) < 0) {
		limit = prev
	}
	rec, err := tx.base.FillRecord(ctx, hash)
	if err != nil {
		return err
	}
	if _, err := rec.AddWithin(sum, limit); err != nil {
		return fmt.Errorf("memory: add filled %s: %w", hash.Hex(), err)
	}
	tx.filled[hash] = sum
	if limit != nil {
		tx.limits[hash] = new(big.Int).Set(limit)
	}
	return nil
}

func (tx *stateTx) SetCancelled(_ context.Context, hash common.Hash) error {
	tx.cancelled[hash] = true
	return nil
}

func (tx *stateTx) SetOriginAllowed(_ context.Context, maker, origin common.Address, allowed bool) error {
	tx.origins[registryKey{maker, origin}] = allowed
	return nil
}

func (tx *stateTx) SetOrderSignerAllowed(_ context.Context, maker, signer common.Address, allowed bool) error {
	tx.signers[registryKey{maker, signer}] = allowed
	return nil
}

func (tx *stateTx) SetMinValidSalt(_ context.Context, kind domain.OrderKind, maker, makerToken, takerToken common.Address, salt *big.Int) error {
	if salt == nil || salt.Sign() < 0 {
		return fmt.Errorf("memory: set min valid salt: %w: negative salt", domain.ErrInvalidOrder)
	}
	tx.minSalts[pairKey{kind, maker, makerToken, takerToken}] = new(big.Int).Set(salt)
	return nil
}

// Compile-time interface checks.
var (
	_ domain.OrderStateStore = (*StateStore)(nil)
	_ domain.OrderStateTx    = (*stateTx)(nil)
)
