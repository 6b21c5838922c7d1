// Package lock provides per-member locking so that concurrent updates
// from the same participant (double-tapped buttons, retried messages)
// serialize their task-state transitions.
package lock

import "sync"

// MemberLock provides per-member mutual exclusion keyed by Telegram ID.
type MemberLock struct {
	locks sync.Map // map[int64]*sync.Mutex
}

// NewMemberLock creates a new MemberLock instance.
func NewMemberLock() *MemberLock {
	return &MemberLock{}
}

// getLock retrieves or creates the mutex for the given member ID.
func (ml *MemberLock) getLock(memberID int64) *sync.Mutex {
	if v, ok := ml.locks.Load(memberID); ok {
		return v.(*sync.Mutex)
	}
	v, _ := ml.locks.LoadOrStore(memberID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Lock acquires the lock for a member.
func (ml *MemberLock) Lock(memberID int64) {
	ml.getLock(memberID).Lock()
}

// Unlock releases the lock for a member.
func (ml *MemberLock) Unlock(memberID int64) {
	if v, ok := ml.locks.Load(memberID); ok {
		v.(*sync.Mutex).Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (ml *MemberLock) TryLock(memberID int64) bool {
	return ml.getLock(memberID).TryLock()
}

// WithLock executes fn while holding the member's lock.
func (ml *MemberLock) WithLock(memberID int64, fn func() error) error {
	ml.Lock(memberID)
	defer ml.Unlock(memberID)
	return fn()
}
