package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// keyLock serializes balance operations per user. A user can be mid-settlement
// in two rooms' payouts concurrently; serializing on the user rather than the
// room is what keeps that from corrupting the balance.
type keyLock struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*userMutex
}

type userMutex struct {
	mu       sync.Mutex
	refCount int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[uuid.UUID]*userMutex)}
}

func (kl *keyLock) lock(userID uuid.UUID) {
	kl.mu.Lock()
	um, ok := kl.locks[userID]
	if !ok {
		um = &userMutex{}
		kl.locks[userID] = um
	}
	um.refCount++
	kl.mu.Unlock()

	um.mu.Lock()
}

func (kl *keyLock) unlock(userID uuid.UUID) {
	kl.mu.Lock()
	um, ok := kl.locks[userID]
	if !ok {
		kl.mu.Unlock()
		return
	}
	um.refCount--
	if um.refCount == 0 {
		delete(kl.locks, userID)
	}
	kl.mu.Unlock()

	um.mu.Unlock()
}

// withLock runs fn while holding the user's lock.
func (kl *keyLock) withLock(userID uuid.UUID, fn func() error) error {
	kl.lock(userID)
	defer kl.unlock(userID)
	return fn()
}
