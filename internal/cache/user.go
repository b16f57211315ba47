package cache

import (
	"sync"

	"github.com/telavy/convo/internal/store"
)

// User is the facade over one user profile.
type User struct {
	mgr *Manager

	mu   sync.RWMutex
	data store.User
}

func (u *User) applyData(d store.User) {
	u.mu.Lock()
	u.data = d
	u.mu.Unlock()
}

// Data returns a snapshot of the underlying record.
func (u *User) Data() store.User {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.data
}

// UUID identifies this user.
func (u *User) UUID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.data.UUID
}

// Name is the account name.
func (u *User) Name() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.data.Name
}

// DisplayName falls back to the account name when unset.
func (u *User) DisplayName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.data.DisplayName != "" {
		return u.data.DisplayName
	}
	return u.data.Name
}

// ImageURL is the avatar location, empty when unset.
func (u *User) ImageURL() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.data.ImageURL
}

// IsSelf reports whether this is the local user.
func (u *User) IsSelf() bool {
	self := u.mgr.SelfUserID()
	return self != "" && self == u.UUID()
}
