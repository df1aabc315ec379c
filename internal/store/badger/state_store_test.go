package badger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nativeorders/internal/domain"
	"github.com/alanyoungcy/nativeorders/internal/store/memory"
)

var (
	hashA  = common.HexToHash("0xaa")
	hashB  = common.HexToHash("0xbb")
	maker  = common.HexToAddress("0x01")
	origin = common.HexToAddress("0x02")
	tokenA = common.HexToAddress("0x0a")
	tokenB = common.HexToAddress("0x0b")
)

func openTest(t *testing.T) *StateStore {
	t.Helper()
	s, err := Open(Options{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFillRecordStoredAsPackedWord(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.Atomic(ctx, func(tx domain.OrderStateTx) error {
		if err := tx.AddFilled(ctx, hashA, big.NewInt(40), nil); err != nil {
			return err
		}
		return tx.SetCancelled(ctx, hashA)
	}))

	var raw []byte
	require.NoError(t, s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(fillKey(hashA))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	}))
	require.Len(t, raw, 32)
	assert.Equal(t, byte(0x80), raw[0], "cancelled flag is the top bit")
	assert.Equal(t, byte(40), raw[31])

	rec, err := s.FillRecord(ctx, hashA)
	require.NoError(t, err)
	assert.True(t, rec.Cancelled)
	assert.Equal(t, int64(40), rec.Filled.Int64())
}

func TestAtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx domain.OrderStateTx) error {
		require.NoError(t, tx.AddFilled(ctx, hashA, big.NewInt(5), nil))
		rec, err := tx.FillRecord(ctx, hashA)
		require.NoError(t, err)
		assert.Equal(t, int64(5), rec.Filled.Int64(), "tx reads its own writes")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := s.FillRecord(ctx, hashA)
	require.NoError(t, err)
	assert.Zero(t, rec.Filled.Sign())
	assert.False(t, rec.Cancelled)
}

func TestAddFilledOverflow(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	err := s.Atomic(ctx, func(tx domain.OrderStateTx) error {
		return tx.AddFilled(ctx, hashA, new(big.Int).Lsh(big.NewInt(1), 255), nil)
	})
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

// TestParityWithMemory replays the same operations against the badger and
// memory backends and compares every read.
func TestParityWithMemory(t *testing.T) {
	ctx := context.Background()
	stores := map[string]domain.OrderStateStore{
		"badger": openTest(t),
		"memory": memory.NewStateStore(),
	}

	ops := []func(tx domain.OrderStateTx) error{
		func(tx domain.OrderStateTx) error { return tx.AddFilled(ctx, hashA, big.NewInt(7), nil) },
		func(tx domain.OrderStateTx) error { return tx.AddFilled(ctx, hashA, big.NewInt(3), nil) },
		func(tx domain.OrderStateTx) error { return tx.SetCancelled(ctx, hashB) },
		func(tx domain.OrderStateTx) error { return tx.AddFilled(ctx, hashB, big.NewInt(2), nil) },
		func(tx domain.OrderStateTx) error { return tx.SetOriginAllowed(ctx, maker, origin, true) },
		func(tx domain.OrderStateTx) error { return tx.SetOrderSignerAllowed(ctx, maker, origin, true) },
		func(tx domain.OrderStateTx) error { return tx.SetOrderSignerAllowed(ctx, maker, origin, false) },
		func(tx domain.OrderStateTx) error {
			return tx.SetMinValidSalt(ctx, domain.OrderKindRfq, maker, tokenA, tokenB, big.NewInt(99))
		},
	}

	read := func(s domain.OrderStateStore) map[string]string {
		snap := make(map[string]string)
		for name, h := range map[string]common.Hash{"a": hashA, "b": hashB} {
			rec, err := s.FillRecord(ctx, h)
			require.NoError(t, err)
			snap[name] = fmt.Sprintf("%s/%t", rec.FilledAmount(), rec.Cancelled)
		}
		ok, err := s.IsOriginAllowed(ctx, maker, origin)
		require.NoError(t, err)
		snap["origin"] = fmt.Sprint(ok)
		ok, err = s.IsOrderSignerAllowed(ctx, maker, origin)
		require.NoError(t, err)
		snap["signer"] = fmt.Sprint(ok)
		for name, kind := range map[string]domain.OrderKind{"limit": domain.OrderKindLimit, "rfq": domain.OrderKindRfq} {
			salt, err := s.MinValidSalt(ctx, kind, maker, tokenA, tokenB)
			require.NoError(t, err)
			snap[name] = salt.String()
			salt, err = s.MinValidSalt(ctx, kind, maker, tokenB, tokenA)
			require.NoError(t, err)
			snap[name+"-reversed"] = salt.String()
		}
		return snap
	}

	for name, s := range stores {
		for i, op := range ops {
			require.NoError(t, s.Atomic(ctx, op), "%s op %d", name, i)
		}
	}

	got := read(stores["badger"])
	assert.Equal(t, read(stores["memory"]), got)
	assert.Equal(t, map[string]string{
		"a":              "10/false",
		"b":              "2/true",
		"origin":         "true",
		"signer":         "false",
		"limit":          "0",
		"limit-reversed": "0",
		"rfq":            "99",
		"rfq-reversed":   "0",
	}, got)
}

func TestAddFilledLimit(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	limit := big.NewInt(10)

	require.NoError(t, s.Atomic(ctx, func(tx domain.OrderStateTx) error {
		return tx.AddFilled(ctx, hashA, big.NewInt(8), limit)
	}))
	err := s.Atomic(ctx, func(tx domain.OrderStateTx) error {
		return tx.AddFilled(ctx, hashA, big.NewInt(3), limit)
	})
	assert.ErrorIs(t, err, domain.ErrFillLimitExceeded)

	// A commit racing an open transaction that read the same record wins;
	// the open one fails instead of overfilling.
	err = s.Atomic(ctx, func(tx domain.OrderStateTx) error {
		require.NoError(t, tx.AddFilled(ctx, hashA, big.NewInt(2), limit))
		require.NoError(t, s.Atomic(ctx, func(inner domain.OrderStateTx) error {
			return inner.AddFilled(ctx, hashA, big.NewInt(2), limit)
		}))
		return nil
	})
	assert.ErrorIs(t, err, badgerdb.ErrConflict)

	rec, err := s.FillRecord(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Filled.Int64())
}
