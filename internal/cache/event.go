package cache

import (
	"sync"
	"time"

	"github.com/telavy/convo/internal/store"
)

// Event is the facade over one log item. The sender and the parent
// conversation are resolved through the manager's caches on demand.
type Event struct {
	mgr *Manager

	mu   sync.RWMutex
	data store.Event
}

func (e *Event) applyData(d store.Event) {
	e.mu.Lock()
	e.data = d
	e.mu.Unlock()
}

// Data returns a snapshot of the underlying record.
func (e *Event) Data() store.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data
}

// LocalID is the client-assigned id, stable across the draft lifecycle.
func (e *Event) LocalID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.LocalID
}

// ServerID is the server-assigned sequence, 0 while the event is a draft.
func (e *Event) ServerID() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.ID
}

// Type discriminates the payload.
func (e *Event) Type() store.EventType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Type
}

// Body is the payload text or image reference.
func (e *Event) Body() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Body
}

// IsDraft reports whether the event still awaits server acknowledgment.
func (e *Event) IsDraft() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.IsDraft
}

// Deleted reports whether the event has been removed from the visible log.
func (e *Event) Deleted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Deleted
}

// CreatedAt returns the local creation time.
func (e *Event) CreatedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return time.UnixMilli(e.data.CreatedAt)
}

// FromMemberID identifies the sending member.
func (e *Event) FromMemberID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.FromMemberID
}

// From resolves the sending member through the cache.
func (e *Event) From() (*Member, error) {
	return e.mgr.Members.Get(e.FromMemberID())
}

// Conversation resolves the parent conversation through the cache.
func (e *Event) Conversation() (*Conversation, error) {
	e.mu.RLock()
	uuid := e.data.ConversationUUID
	e.mu.RUnlock()
	return e.mgr.Conversations.Get(uuid)
}

// Distribution returns the member ids the event targets.
func (e *Event) Distribution() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.data.Distribution))
	copy(out, e.data.Distribution)
	return out
}

// FromSelf reports whether the local user authored this event.
func (e *Event) FromSelf() bool {
	m, err := e.From()
	if err != nil {
		return false
	}
	return m.IsSelf()
}
