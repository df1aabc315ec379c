package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StateStore implements domain.OrderStateStore using PostgreSQL.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

func (s *StateStore) FillRecord(ctx context.Context, hash common.Hash) (domain.FillRecord, error) {
	return fillRecord(ctx, s.pool, hash, false)
}

func (s *StateStore) IsOriginAllowed(ctx context.Context, maker, origin common.Address) (bool, error) {
	return registryFlag(ctx, s.pool, "rfq_origins", "origin", maker, origin)
}

func (s *StateStore) IsOrderSignerAllowed(ctx context.Context, maker, signer common.Address) (bool, error) {
	return registryFlag(ctx, s.pool, "order_signers", "signer", maker, signer)
}

func (s *StateStore) MinValidSalt(ctx context.Context, kind domain.OrderKind, maker, makerToken, takerToken common.Address) (*big.Int, error) {
	return minValidSalt(ctx, s.pool, kind, maker, makerToken, takerToken)
}

// Atomic runs fn inside a database transaction. Fill rows touched by the
// transaction are locked with SELECT ... FOR UPDATE.
func (s *StateStore) Atomic(ctx context.Context, fn func(tx domain.OrderStateTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin state tx: %w", err)
	}
	if err := fn(&stateTx{tx: tx}); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit state tx: %w", err)
	}
	return nil
}

type stateTx struct {
	tx pgx.Tx
}

// FillRecord locks the row for the rest of the transaction.
func (t *stateTx) FillRecord(ctx context.Context, hash common.Hash) (domain.FillRecord, error) {
	return fillRecord(ctx, t.tx, hash, true)
}

func (t *stateTx) IsOriginAllowed(ctx context.Context, maker, origin common.Address) (bool, error) {
	return registryFlag(ctx, t.tx, "rfq_origins", "origin", maker, origin)
}

func (t *stateTx) IsOrderSignerAllowed(ctx context.Context, maker, signer common.Address) (bool, error) {
	return registryFlag(ctx, t.tx, "order_signers", "signer", maker, signer)
}

func (t *stateTx) MinValidSalt(ctx context.Context, kind domain.OrderKind, maker, makerToken, takerToken common.Address) (*big.Int, error) {
	return minValidSalt(ctx, t.tx, kind, maker, makerToken, takerToken)
}

// AddFilled adds delta in SQL against the locked row and checks the stored
// sum, so a fill that committed after this transaction read the record is
// still counted. The cancelled flag is left untouched.
func (t *stateTx) AddFilled(ctx context.Context, hash common.Hash, delta, limit *big.Int) error {
	if delta == nil || delta.Sign() < 0 {
		return fmt.Errorf("postgres: add filled %s: %w: negative delta", hash.Hex(), domain.ErrArithmeticOverflow)
	}

	const query = `
		INSERT INTO fill_records (order_hash, filled, cancelled, updated_at)
		VALUES ($1, $2::numeric, FALSE, NOW())
		ON CONFLICT (order_hash) DO UPDATE
		SET filled = fill_records.filled + EXCLUDED.filled, updated_at = NOW()
		RETURNING filled::text`
	var stored string
	if err := t.tx.QueryRow(ctx, query, hash.Bytes(), delta.String()).Scan(&stored); err != nil {
		return fmt.Errorf("postgres: add filled %s: %w", hash.Hex(), err)
	}
	sum, err := parseNumeric(stored)
	if err != nil {
		return err
	}
	// Re-validate the stored sum from zero; the error rolls the tx back.
	if _, err := (domain.FillRecord{}).AddWithin(sum, limit); err != nil {
		return fmt.Errorf("postgres: add filled %s: %w", hash.Hex(), err)
	}
	return nil
}

func (t *stateTx) SetCancelled(ctx context.Context, hash common.Hash) error {
	const query = `
		INSERT INTO fill_records (order_hash, filled, cancelled, updated_at)
		VALUES ($1, 0, TRUE, NOW())
		ON CONFLICT (order_hash) DO UPDATE
		SET cancelled = TRUE, updated_at = NOW()`
	if _, err := t.tx.Exec(ctx, query, hash.Bytes()); err != nil {
		return fmt.Errorf("postgres: cancel %s: %w", hash.Hex(), err)
	}
	return nil
}

func (t *stateTx) SetOriginAllowed(ctx context.Context, maker, origin common.Address, allowed bool) error {
	const query = `
		INSERT INTO rfq_origins (maker, origin, allowed, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (maker, origin) DO UPDATE
		SET allowed = EXCLUDED.allowed, updated_at = NOW()`
	if _, err := t.tx.Exec(ctx, query, maker.Bytes(), origin.Bytes(), allowed); err != nil {
		return fmt.Errorf("postgres: set rfq origin %s for %s: %w", origin.Hex(), maker.Hex(), err)
	}
	return nil
}

func (t *stateTx) SetOrderSignerAllowed(ctx context.Context, maker, signer common.Address, allowed bool) error {
	const query = `
		INSERT INTO order_signers (maker, signer, allowed, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (maker, signer) DO UPDATE
		SET allowed = EXCLUDED.allowed, updated_at = NOW()`
	if _, err := t.tx.Exec(ctx, query, maker.Bytes(), signer.Bytes(), allowed); err != nil {
		return fmt.Errorf("postgres: set order signer %s for %s: %w", signer.Hex(), maker.Hex(), err)
	}
	return nil
}

func (t *stateTx) SetMinValidSalt(ctx context.Context, kind domain.OrderKind, maker, makerToken, takerToken common.Address, salt *big.Int) error {
	if salt == nil || salt.Sign() < 0 || salt.BitLen() > domain.SaltBits {
		return fmt.Errorf("postgres: set min valid salt: %w: salt must be a uint256", domain.ErrInvalidOrder)
	}
	const query = `
		INSERT INTO min_valid_salts (kind, maker, maker_token, taker_token, salt, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, NOW())
		ON CONFLICT (kind, maker, maker_token, taker_token) DO UPDATE
		SET salt = EXCLUDED.salt, updated_at = NOW()`
	_, err := t.tx.Exec(ctx, query, int16(kind), maker.Bytes(), makerToken.Bytes(), takerToken.Bytes(), salt.String())
	if err != nil {
		return fmt.Errorf("postgres: set min valid salt for %s: %w", maker.Hex(), err)
	}
	return nil
}

func fillRecord(ctx context.Context, q querier, hash common.Hash, forUpdate bool) (domain.FillRecord, error) {
	query := `SELECT filled::text, cancelled FROM fill_records WHERE order_hash = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		filled    string
		cancelled bool
	)
	err := q.QueryRow(ctx, query, hash.Bytes()).Scan(&filled, &cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FillRecord{Filled: new(big.Int)}, nil
	}
	if err != nil {
		return domain.FillRecord{}, fmt.Errorf("postgres: get fill record %s: %w", hash.Hex(), err)
	}
	amount, err := parseNumeric(filled)
	if err != nil {
		return domain.FillRecord{}, fmt.Errorf("postgres: fill record %s: %w", hash.Hex(), err)
	}
	return domain.FillRecord{Filled: amount, Cancelled: cancelled}, nil
}

// registryFlag reads an allow-list flag. table and column are constants
// chosen by the caller, never user input.
func registryFlag(ctx context.Context, q querier, table, column string, maker, other common.Address) (bool, error) {
	query := fmt.Sprintf(`SELECT allowed FROM %s WHERE maker = $1 AND %s = $2`, table, column)
	var allowed bool
	err := q.QueryRow(ctx, query, maker.Bytes(), other.Bytes()).Scan(&allowed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: get %s %s for %s: %w", table, other.Hex(), maker.Hex(), err)
	}
	return allowed, nil
}

func minValidSalt(ctx context.Context, q querier, kind domain.OrderKind, maker, makerToken, takerToken common.Address) (*big.Int, error) {
	const query = `
		SELECT salt::text FROM min_valid_salts
		WHERE kind = $1 AND maker = $2 AND maker_token = $3 AND taker_token = $4`
	var salt string
	err := q.QueryRow(ctx, query, int16(kind), maker.Bytes(), makerToken.Bytes(), takerToken.Bytes()).Scan(&salt)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get min valid salt for %s: %w", maker.Hex(), err)
	}
	return parseNumeric(salt)
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}

// Compile-time interface checks.
var (
	_ domain.OrderStateStore = (*StateStore)(nil)
	_ domain.OrderStateTx    = (*stateTx)(nil)
	_ querier                = (*pgxpool.Pool)(nil)
	_ querier                = (pgx.Tx)(nil)
)
