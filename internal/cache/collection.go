package cache

import (
	"fmt"
	"sync"
)

// LazyCollection is an ordered sequence of entity ids that resolves
// objects through the cache only when accessed. It never holds resolved
// instances, so invalidating a cache entry can not leave a collection
// pointing at a stale object.
type LazyCollection[T any] struct {
	mu       sync.Mutex
	ids      []string
	resolve  func(id string) (T, error)
	onMutate func()
}

func newLazyCollection[T any](resolve func(id string) (T, error)) *LazyCollection[T] {
	return &LazyCollection[T]{resolve: resolve}
}

// Count returns the number of ids in the sequence.
func (l *LazyCollection[T]) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// IDs returns a copy of the id sequence.
func (l *LazyCollection[T]) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out
}

// At resolves element i. An id present in the sequence but missing from
// the store is a consistency violation, not a recoverable condition, and
// panics.
func (l *LazyCollection[T]) At(i int) T {
	l.mu.Lock()
	id := l.ids[i]
	l.mu.Unlock()

	v, err := l.resolve(id)
	if err != nil {
		panic(fmt.Sprintf("collection: id %q in sequence but unresolvable: %v", id, err))
	}
	return v
}

// ByID resolves one element by id, reporting whether it is in the sequence.
func (l *LazyCollection[T]) ByID(id string) (T, bool) {
	l.mu.Lock()
	found := false
	for _, have := range l.ids {
		if have == id {
			found = true
			break
		}
	}
	l.mu.Unlock()

	var zero T
	if !found {
		return zero, false
	}
	v, err := l.resolve(id)
	if err != nil {
		return zero, false
	}
	return v, true
}

// Filter resolves every element and returns those matching pred, in order.
func (l *LazyCollection[T]) Filter(pred func(T) bool) []T {
	ids := l.IDs()
	var out []T
	for _, id := range ids {
		v, err := l.resolve(id)
		if err != nil {
			panic(fmt.Sprintf("collection: id %q in sequence but unresolvable: %v", id, err))
		}
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

// All resolves every element in order.
func (l *LazyCollection[T]) All() []T {
	return l.Filter(func(T) bool { return true })
}

// Append adds ids to the end of the sequence.
func (l *LazyCollection[T]) Append(ids ...string) {
	l.mu.Lock()
	l.ids = append(l.ids, ids...)
	hook := l.onMutate
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// ReplaceAll swaps the entire sequence.
func (l *LazyCollection[T]) ReplaceAll(ids []string) {
	l.mu.Lock()
	l.ids = make([]string, len(ids))
	copy(l.ids, ids)
	hook := l.onMutate
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// MemberCollection is the member roster of one conversation, with a
// lazily-built user-to-memberships index. A user appears once per
// membership record, so rejoin history is visible.
type MemberCollection struct {
	*LazyCollection[*Member]
	mgr              *Manager
	conversationUUID string

	// byUser maps user uuid to member ids. Built on first use under idxMu;
	// nil means it needs a rebuild. It stores ids, never resolved objects.
	idxMu  sync.Mutex
	byUser map[string][]string
}

func newMemberCollection(mgr *Manager, conversationUUID string) *MemberCollection {
	mc := &MemberCollection{
		LazyCollection:   newLazyCollection(func(id string) (*Member, error) { return mgr.Members.Get(id) }),
		mgr:              mgr,
		conversationUUID: conversationUUID,
	}
	mc.onMutate = mc.invalidateIndex
	_ = mc.Refetch()
	return mc
}

// Refetch reloads the member id sequence from the store.
func (mc *MemberCollection) Refetch() error {
	records, err := mc.mgr.db.MembersOf(mc.conversationUUID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	mc.ReplaceAll(ids)
	return nil
}

func (mc *MemberCollection) invalidateIndex() {
	mc.idxMu.Lock()
	mc.byUser = nil
	mc.idxMu.Unlock()
}

// populateIndex builds the user lookup. Callers hold idxMu, so a reader
// arriving during population blocks until it is complete rather than
// observing a partial index.
func (mc *MemberCollection) populateIndex() {
	mc.byUser = make(map[string][]string)
	for _, id := range mc.IDs() {
		m, err := mc.mgr.Members.Get(id)
		if err != nil {
			panic(fmt.Sprintf("member collection: id %q in sequence but unresolvable: %v", id, err))
		}
		mc.byUser[m.UserID()] = append(mc.byUser[m.UserID()], id)
	}
}

// MembershipForUser returns every membership record of one user in this
// conversation, oldest first. More than one record means the user left
// and rejoined.
func (mc *MemberCollection) MembershipForUser(userUUID string) []*Member {
	mc.idxMu.Lock()
	if mc.byUser == nil {
		mc.populateIndex()
	}
	ids := mc.byUser[userUUID]
	mc.idxMu.Unlock()

	out := make([]*Member, 0, len(ids))
	for _, id := range ids {
		m, err := mc.mgr.Members.Get(id)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Users returns each distinct user with at least one membership record.
func (mc *MemberCollection) Users() []*User {
	mc.idxMu.Lock()
	if mc.byUser == nil {
		mc.populateIndex()
	}
	userIDs := make([]string, 0, len(mc.byUser))
	for uid := range mc.byUser {
		userIDs = append(userIDs, uid)
	}
	mc.idxMu.Unlock()

	out := make([]*User, 0, len(userIDs))
	for _, uid := range userIDs {
		u, err := mc.mgr.Users.Get(uid)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}

// EventCollection is the visible log of one conversation, in server order
// with unacknowledged drafts last.
type EventCollection struct {
	*LazyCollection[*Event]
	mgr              *Manager
	conversationUUID string
}

func newEventCollection(mgr *Manager, conversationUUID string) *EventCollection {
	ec := &EventCollection{
		LazyCollection:   newLazyCollection(func(id string) (*Event, error) { return mgr.Events.Get(id) }),
		mgr:              mgr,
		conversationUUID: conversationUUID,
	}
	_ = ec.Refetch()
	return ec
}

// Refetch reloads the event id sequence from the store.
func (ec *EventCollection) Refetch() error {
	records, err := ec.mgr.db.EventsOf(ec.conversationUUID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.LocalID)
	}
	ec.ReplaceAll(ids)
	return nil
}

// ConversationCollection lists complete conversations ordered by most
// recent activity.
type ConversationCollection struct {
	*LazyCollection[*Conversation]
	mgr *Manager
}

// NewConversationCollection builds the collection and loads the current
// id sequence.
func NewConversationCollection(mgr *Manager) *ConversationCollection {
	cc := &ConversationCollection{
		LazyCollection: newLazyCollection(func(id string) (*Conversation, error) { return mgr.Conversations.Get(id) }),
		mgr:            mgr,
	}
	_ = cc.Refetch()
	return cc
}

// Refetch reloads the conversation id sequence from the store.
func (cc *ConversationCollection) Refetch() error {
	records, err := cc.mgr.db.CompleteConversations()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.UUID)
	}
	cc.ReplaceAll(ids)
	return nil
}
