package cache

import (
	"sync"

	"github.com/telavy/convo/internal/store"
)

// Member is the facade over one membership record. The user and the
// parent conversation are non-owning relations resolved through the
// manager's caches on demand.
type Member struct {
	mgr *Manager

	mu   sync.RWMutex
	data store.Member
}

func (m *Member) applyData(d store.Member) {
	m.mu.Lock()
	m.data = d
	m.mu.Unlock()
}

// Data returns a snapshot of the underlying record.
func (m *Member) Data() store.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// ID identifies this membership record.
func (m *Member) ID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ID
}

// Name is the member's name within the conversation.
func (m *Member) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Name
}

// State is the membership state of this record.
func (m *Member) State() store.MemberState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.State
}

// UserID identifies the user this record belongs to.
func (m *Member) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.UserID
}

// ConversationUUID identifies the parent conversation.
func (m *Member) ConversationUUID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ConversationUUID
}

// User resolves the owning user through the cache.
func (m *Member) User() (*User, error) {
	return m.mgr.Users.Get(m.UserID())
}

// Conversation resolves the parent conversation through the cache.
func (m *Member) Conversation() (*Conversation, error) {
	return m.mgr.Conversations.Get(m.ConversationUUID())
}

// IsSelf reports whether this record belongs to the local user.
func (m *Member) IsSelf() bool {
	self := m.mgr.SelfUserID()
	return self != "" && self == m.UserID()
}
