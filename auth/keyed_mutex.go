package auth

import "sync"

// userMutex one mutex per user ID
type userMutex struct {
	lock  sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserMutex() *userMutex {
	return &userMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquire the mutex of a user, returning its release function
func (m *userMutex) Lock(userID string) func() {
	m.lock.Lock()
	userLock, ok := m.locks[userID]
	if !ok {
		userLock = &sync.Mutex{}
		m.locks[userID] = userLock
	}
	m.lock.Unlock()

	userLock.Lock()
	return userLock.Unlock
}
