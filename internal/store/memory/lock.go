package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

type lockEntry struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager for a single process. Expired
// entries are taken over by the next caller.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]lockEntry), now: time.Now}
}

// Acquire obtains key for ttl. It returns domain.ErrLockHeld when another
// holder owns an unexpired lock. The returned unlock is idempotent.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if e, ok := lm.locks[key]; ok && now.Before(e.expires) {
		return nil, domain.ErrLockHeld
	}

	token := uuid.New().String()
	lm.locks[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if e, ok := lm.locks[key]; ok && e.token == token {
				delete(lm.locks, key)
			}
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
