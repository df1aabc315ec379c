// Package badger persists settlement state in an embedded badger database.
// Fill records are stored as the packed 32-byte word used on chain.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// Key prefixes.
const (
	prefixFill   = "fill/"
	prefixOrigin = "origin/"
	prefixSigner = "signer/"
	prefixSalt   = "salt/"
)

// Options configures Open.
type Options struct {
	Path string
	// InMemory keeps everything in RAM. Path is ignored.
	InMemory bool
	// EncryptionKey enables encryption at rest. It must be 16, 24 or 32 bytes.
	EncryptionKey []byte
	ReadOnly      bool
}

// StateStore implements domain.OrderStateStore on badger.
type StateStore struct {
	db     *badgerdb.DB
	logger *slog.Logger
}

// Open opens (or creates) the database described by opts.
func Open(opts Options, logger *slog.Logger) (*StateStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "badger"))

	var bopts badgerdb.Options
	if opts.InMemory {
		bopts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("badger: path is required")
		}
		bopts = badgerdb.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	}
	bopts = bopts.WithLogger(badgerLogger{logger})
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", opts.Path, err)
	}
	return &StateStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *StateStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunGC runs value log garbage collection every interval until ctx is done.
func (s *StateStore) RunGC(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badgerdb.ErrNoRewrite) && !errors.Is(err, badgerdb.ErrRejected) {
					s.logger.Warn("value log gc failed", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

func (s *StateStore) FillRecord(ctx context.Context, hash common.Hash) (domain.FillRecord, error) {
	var rec domain.FillRecord
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		rec, err = (&stateTx{txn: txn}).FillRecord(ctx, hash)
		return err
	})
	return rec, err
}

func (s *StateStore) IsOriginAllowed(ctx context.Context, maker, origin common.Address) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		ok, err = (&stateTx{txn: txn}).IsOriginAllowed(ctx, maker, origin)
		return err
	})
	return ok, err
}

func (s *StateStore) IsOrderSignerAllowed(ctx context.Context, maker, signer common.Address) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		ok, err = (&stateTx{txn: txn}).IsOrderSignerAllowed(ctx, maker, signer)
		return err
	})
	return ok, err
}

func (s *StateStore) MinValidSalt(ctx context.Context, kind domain.OrderKind, maker, makerToken, takerToken common.Address) (*big.Int, error) {
	var salt *big.Int
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		salt, err = (&stateTx{txn: txn}).MinValidSalt(ctx, kind, maker, makerToken, takerToken)
		return err
	})
	return salt, err
}

// Atomic runs fn in a read-write badger transaction. A concurrent write to a
// key fn has read surfaces as badger.ErrConflict and nothing is committed.
func (s *StateStore) Atomic(ctx context.Context, fn func(tx domain.OrderStateTx) error) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return fn(&stateTx{txn: txn})
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		return fmt.Errorf("badger: commit: %w", err)
	}
	return err
}

type stateTx struct {
	txn *badgerdb.Txn
}

func (tx *stateTx) get(key []byte) ([]byte, bool, error) {
	item, err := tx.txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (tx *stateTx) FillRecord(_ context.Context, hash common.Hash) (domain.FillRecord, error) {
	val, ok, err := tx.get(fillKey(hash))
	if err != nil {
		return domain.FillRecord{}, fmt.Errorf("badger: get fill %s: %w", hash.Hex(), err)
	}
	if !ok {
		return domain.FillRecord{Filled: new(big.Int)}, nil
	}
	return domain.UnpackFillRecord(common.BytesToHash(val)), nil
}

func (tx *stateTx) IsOriginAllowed(_ context.Context, maker, origin common.Address) (bool, error) {
	return tx.flag(registryKey(prefixOrigin, maker, origin))
}

func (tx *stateTx) IsOrderSignerAllowed(_ context.Context, maker, signer common.Address) (bool, error) {
	return tx.flag(registryKey(prefixSigner, maker, signer))
}

func (tx *stateTx) flag(key []byte) (bool, error) {
	val, ok, err := tx.get(key)
	if err != nil {
		return false, fmt.Errorf("badger: get registry flag: %w", err)
	}
	return ok && len(val) == 1 && val[0] == 1, nil
}

func (tx *stateTx) MinValidSalt(_ context.Context, kind domain.OrderKind, maker, makerToken, takerToken common.Address) (*big.Int, error) {
	val, ok, err := tx.get(saltKey(kind, maker, makerToken, takerToken))
	if err != nil {
		return nil, fmt.Errorf("badger: get min valid salt: %w", err)
	}
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(val), nil
}

// AddFilled reads the record inside the transaction, so a concurrent commit
// to the same key fails this one with badger.ErrConflict.
func (tx *stateTx) AddFilled(ctx context.Context, hash common.Hash, delta, limit *big.Int) error {
	rec, err := tx.FillRecord(ctx, hash)
	if err != nil {
		return err
	}
	next, err := rec.AddWithin(delta, limit)
	if err != nil {
		return fmt.Errorf("badger: add filled %s: %w", hash.Hex(), err)
	}
	return tx.putFill(hash, next)
}

func (tx *stateTx) SetCancelled(ctx context.Context, hash common.Hash) error {
	rec, err := tx.FillRecord(ctx, hash)
	if err != nil {
		return err
	}
	return tx.putFill(hash, rec.Cancel())
}

func (tx *stateTx) putFill(hash common.Hash, rec domain.FillRecord) error {
	word := rec.Pack()
	if err := tx.txn.Set(fillKey(hash), word.Bytes()); err != nil {
		return fmt.Errorf("badger: set fill %s: %w", hash.Hex(), err)
	}
	return nil
}

func (tx *stateTx) SetOriginAllowed(_ context.Context, maker, origin common.Address, allowed bool) error {
	return tx.setFlag(registryKey(prefixOrigin, maker, origin), allowed)
}

func (tx *stateTx) SetOrderSignerAllowed(_ context.Context, maker, signer common.Address, allowed bool) error {
	return tx.setFlag(registryKey(prefixSigner, maker, signer), allowed)
}

func (tx *stateTx) setFlag(key []byte, allowed bool) error {
	var err error
	if allowed {
		err = tx.txn.Set(key, []byte{1})
	} else {
		err = tx.txn.Delete(key)
	}
	if err != nil {
		return fmt.Errorf("badger: set registry flag: %w", err)
	}
	return nil
}

func (tx *stateTx) SetMinValidSalt(_ context.Context, kind domain.OrderKind, maker, makerToken, takerToken common.Address, salt *big.Int) error {
	if salt == nil || salt.Sign() < 0 || salt.BitLen() > domain.SaltBits {
		return fmt.Errorf("badger: set min valid salt: %w: salt must be a uint256", domain.ErrInvalidOrder)
	}
	word := common.BigToHash(salt)
	if err := tx.txn.Set(saltKey(kind, maker, makerToken, takerToken), word.Bytes()); err != nil {
		return fmt.Errorf("badger: set min valid salt: %w", err)
	}
	return nil
}

func fillKey(hash common.Hash) []byte {
	return append([]byte(prefixFill), hash.Bytes()...)
}

func registryKey(prefix string, maker, other common.Address) []byte {
	k := make([]byte, 0, len(prefix)+2*common.AddressLength)
	k = append(k, prefix...)
	k = append(k, maker.Bytes()...)
	return append(k, other.Bytes()...)
}

func saltKey(kind domain.OrderKind, maker, makerToken, takerToken common.Address) []byte {
	k := make([]byte, 0, len(prefixSalt)+1+3*common.AddressLength)
	k = append(k, prefixSalt...)
	k = append(k, byte(kind))
	k = append(k, maker.Bytes()...)
	k = append(k, makerToken.Bytes()...)
	return append(k, takerToken.Bytes()...)
}

// badgerLogger routes badger's internal logging into slog. Info and debug
// output is demoted to debug.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Compile-time interface checks.
var (
	_ domain.OrderStateStore = (*StateStore)(nil)
	_ domain.OrderStateTx    = (*stateTx)(nil)
	_ badgerdb.Logger        = badgerLogger{}
)
