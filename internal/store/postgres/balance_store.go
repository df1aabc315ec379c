package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// BalanceStore implements domain.TokenVault over the token_balances table.
// Every transfer runs in its own transaction.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Deposit credits amount of token to owner.
func (s *BalanceStore) Deposit(ctx context.Context, token, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("postgres: deposit: negative amount")
	}
	const query = `
		INSERT INTO token_balances (token, owner, balance, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (token, owner) DO UPDATE
		SET balance = token_balances.balance + EXCLUDED.balance, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, token.Bytes(), owner.Bytes(), amount.String()); err != nil {
		return fmt.Errorf("postgres: deposit %s to %s: %w", token.Hex(), owner.Hex(), err)
	}
	return nil
}

// Balance returns owner's balance of token, zero when no row exists.
func (s *BalanceStore) Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return balance(ctx, s.pool, token, owner, false)
}

// Spendable is the full balance. Balances are custody balances with no
// allowance layer.
func (s *BalanceStore) Spendable(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return s.Balance(ctx, token, owner)
}

// Transfer moves amount of token between owners. Both rows are locked in
// address order so opposite transfers cannot deadlock.
func (s *BalanceStore) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("postgres: transfer: negative amount")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transfer: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	first, second := from, to
	if bytes.Compare(first.Bytes(), second.Bytes()) > 0 {
		first, second = second, first
	}
	const ensure = `
		INSERT INTO token_balances (token, owner, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (token, owner) DO NOTHING`
	for _, owner := range []common.Address{first, second} {
		if _, err := tx.Exec(ctx, ensure, token.Bytes(), owner.Bytes()); err != nil {
			return fmt.Errorf("postgres: transfer: ensure balance row: %w", err)
		}
		if _, err := balance(ctx, tx, token, owner, true); err != nil {
			return err
		}
	}

	bal, err := balance(ctx, tx, token, from, false)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("postgres: transfer %s of %s from %s: %w", amount, token.Hex(), from.Hex(), domain.ErrInsufficientBalance)
	}

	const move = `
		UPDATE token_balances
		SET balance = balance + $3::numeric, updated_at = NOW()
		WHERE token = $1 AND owner = $2`
	if _, err := tx.Exec(ctx, move, token.Bytes(), from.Bytes(), new(big.Int).Neg(amount).String()); err != nil {
		return fmt.Errorf("postgres: transfer debit %s: %w", from.Hex(), err)
	}
	if _, err := tx.Exec(ctx, move, token.Bytes(), to.Bytes(), amount.String()); err != nil {
		return fmt.Errorf("postgres: transfer credit %s: %w", to.Hex(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transfer: %w", err)
	}
	return nil
}

func balance(ctx context.Context, q querier, token, owner common.Address, forUpdate bool) (*big.Int, error) {
	query := `SELECT balance::text FROM token_balances WHERE token = $1 AND owner = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var v string
	err := q.QueryRow(ctx, query, token.Bytes(), owner.Bytes()).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get balance %s of %s: %w", token.Hex(), owner.Hex(), err)
	}
	return parseNumeric(v)
}

// Compile-time interface check.
var _ domain.TokenVault = (*BalanceStore)(nil)
