package cache

import (
	"sync"
	"time"

	"github.com/telavy/convo/internal/signal"
	"github.com/telavy/convo/internal/store"
)

// NameChange carries the old and new conversation names on a rename.
type NameChange struct {
	Old string
	New string
}

// Conversation is the facade over one conversation. Instances are shared
// through the manager's cache, so a subscription on one of its signals
// stays live for every caller holding the same conversation.
type Conversation struct {
	mgr *Manager

	mu   sync.RWMutex
	data store.Conversation

	members *MemberCollection
	events  *EventCollection

	// Change notifications fed by the reconciliation engine and the task
	// queue. Emission happens after the corresponding store write commits.
	NameChanged    *signal.Signal[NameChange]
	NewEvent       *signal.Signal[*Event]
	MessageSent    *signal.Signal[*Event]
	MemberJoined   *signal.Signal[*Member]
	MemberLeft     *signal.Signal[*Member]
	MemberInvited  *signal.Signal[*Member]
	MemberKnocking *signal.Signal[*Member]
	MembersChanged *signal.Signal[struct{}]
}

func newConversation(mgr *Manager, data store.Conversation) *Conversation {
	c := &Conversation{
		mgr:            mgr,
		data:           data,
		NameChanged:    signal.New[NameChange](),
		NewEvent:       signal.New[*Event](),
		MessageSent:    signal.New[*Event](),
		MemberJoined:   signal.New[*Member](),
		MemberLeft:     signal.New[*Member](),
		MemberInvited:  signal.New[*Member](),
		MemberKnocking: signal.New[*Member](),
		MembersChanged: signal.New[struct{}](),
	}
	c.members = newMemberCollection(mgr, data.UUID)
	c.events = newEventCollection(mgr, data.UUID)
	return c
}

func (c *Conversation) applyData(d store.Conversation) {
	c.mu.Lock()
	c.data = d
	c.mu.Unlock()
}

// Data returns a snapshot of the underlying record.
func (c *Conversation) Data() store.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// UUID identifies this conversation.
func (c *Conversation) UUID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.UUID
}

// Name returns the display name when the service has set one, otherwise
// the plain name.
func (c *Conversation) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data.DisplayName != "" {
		return c.data.DisplayName
	}
	return c.data.Name
}

// SequenceNumber is the last reconciled event sequence.
func (c *Conversation) SequenceNumber() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.SequenceNumber
}

// CreatedAt returns the creation time.
func (c *Conversation) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.UnixMilli(c.data.CreatedAt)
}

// DataIncomplete reports whether only a lite representation has been
// fetched so far.
func (c *Conversation) DataIncomplete() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.DataIncomplete
}

// RequiresSync reports whether the local copy is known stale.
func (c *Conversation) RequiresSync() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.RequiresSync
}

// Members is the conversation's roster.
func (c *Conversation) Members() *MemberCollection {
	return c.members
}

// Events is the conversation's visible log.
func (c *Conversation) Events() *EventCollection {
	return c.events
}

// MembershipForUser returns one user's membership history here.
func (c *Conversation) MembershipForUser(userUUID string) []*Member {
	return c.members.MembershipForUser(userUUID)
}

// JoinedMembers returns members currently in the joined state.
func (c *Conversation) JoinedMembers() []*Member {
	return c.members.Filter(func(m *Member) bool { return m.State() == store.StateJoined })
}

// OwnMember returns the local user's active membership record, preferring
// the most recent joined one and falling back to the most recent of any
// state. ErrNotFound when the local user has no record here.
func (c *Conversation) OwnMember() (*Member, error) {
	self := c.mgr.SelfUserID()
	if self == "" {
		return nil, ErrNotFound
	}
	history := c.MembershipForUser(self)
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].State() == store.StateJoined {
			return history[i], nil
		}
	}
	return history[len(history)-1], nil
}

// State returns the local user's membership state, from the most recent
// record.
func (c *Conversation) State() (store.MemberState, error) {
	m, err := c.OwnMember()
	if err != nil {
		return 0, err
	}
	return m.State(), nil
}

// SendText enqueues a text message. The draft event appears in Events
// immediately; MessageSent fires once the server acknowledges it.
func (c *Conversation) SendText(body string) error {
	q := c.mgr.enqueuer()
	if q == nil {
		return ErrQueueUnbound
	}
	_, err := q.EnqueueSend(c.UUID(), store.EventText, body, nil)
	return err
}

// SendImage enqueues an image message; body carries the image reference.
func (c *Conversation) SendImage(body string) error {
	q := c.mgr.enqueuer()
	if q == nil {
		return ErrQueueUnbound
	}
	_, err := q.EnqueueSend(c.UUID(), store.EventImage, body, nil)
	return err
}

// DeleteEvent enqueues deletion of one of the local user's own events.
// The event leaves the visible log immediately, pending confirmation.
func (c *Conversation) DeleteEvent(ev *Event) error {
	q := c.mgr.enqueuer()
	if q == nil {
		return ErrQueueUnbound
	}
	_, err := q.EnqueueDelete(c.UUID(), ev.LocalID(), nil)
	return err
}

// MarkDelivered enqueues a delivery indication for ev.
func (c *Conversation) MarkDelivered(ev *Event) error {
	q := c.mgr.enqueuer()
	if q == nil {
		return ErrQueueUnbound
	}
	_, err := q.EnqueueIndication(store.TaskIndicateDelivered, ev.LocalID(), nil)
	return err
}

// MarkSeen enqueues a seen indication for ev.
func (c *Conversation) MarkSeen(ev *Event) error {
	q := c.mgr.enqueuer()
	if q == nil {
		return ErrQueueUnbound
	}
	_, err := q.EnqueueIndication(store.TaskIndicateSeen, ev.LocalID(), nil)
	return err
}
