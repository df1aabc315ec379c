package settlement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

type heldLocksKey struct{}

// heldLocks is the set of keys the current call chain holds. Token transfers
// receive the holder's context, so a callback that re-enters the engine on a
// held key is detected instead of deadlocking.
type heldLocks map[string]struct{}

func holds(ctx context.Context, key string) bool {
	held, _ := ctx.Value(heldLocksKey{}).(heldLocks)
	_, ok := held[key]
	return ok
}

func orderLockKey(hash common.Hash) string {
	return "order:" + hash.Hex()
}

func pairLockKey(kind domain.OrderKind, maker, makerToken, takerToken common.Address) string {
	return fmt.Sprintf("pair:%s:%s:%s:%s", kind, maker.Hex(), makerToken.Hex(), takerToken.Hex())
}

func originsLockKey(maker common.Address) string {
	return "origins:" + maker.Hex()
}

func signersLockKey(maker common.Address) string {
	return "signers:" + maker.Hex()
}

// lock acquires every key in sorted order and returns a context recording
// them. Keys already held by ctx fail with domain.ErrReentrantCall.
func (e *Engine) lock(ctx context.Context, keys ...string) (context.Context, func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	for _, k := range keys {
		if holds(ctx, k) {
			return ctx, func() {}, fmt.Errorf("%w: %s", domain.ErrReentrantCall, k)
		}
	}

	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, k := range keys {
		unlock, err := e.acquire(ctx, k)
		if err != nil {
			release()
			return ctx, func() {}, err
		}
		unlocks = append(unlocks, unlock)
	}

	prev, _ := ctx.Value(heldLocksKey{}).(heldLocks)
	next := make(heldLocks, len(prev)+len(keys))
	for k := range prev {
		next[k] = struct{}{}
	}
	for _, k := range keys {
		next[k] = struct{}{}
	}
	return context.WithValue(ctx, heldLocksKey{}, next), release, nil
}

// acquire polls the lock manager with backoff until lockWait elapses.
func (e *Engine) acquire(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(e.lockWait)
	backoff := 2 * time.Millisecond
	for {
		unlock, err := e.locks.Acquire(ctx, key, e.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("settlement: acquire %s: %w", key, err)
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("settlement: acquire %s: %w", key, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}
