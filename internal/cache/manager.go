package cache

import (
	"errors"
	"sync"

	"github.com/telavy/convo/internal/signal"
	"github.com/telavy/convo/internal/store"
	"go.uber.org/zap"
)

// ErrQueueUnbound is returned by facade mutations before a task queue has
// been attached to the manager.
var ErrQueueUnbound = errors.New("cache: no task queue bound")

// Enqueuer is the slice of the task queue facade objects need. It is an
// interface here so the queue package can depend on this one without a
// cycle; the concrete queue satisfies it and is bound during wiring.
type Enqueuer interface {
	EnqueueSend(conversationUUID string, typ store.EventType, body string, done func(error)) (int64, error)
	EnqueueDelete(conversationUUID, eventLocalID string, done func(error)) (int64, error)
	EnqueueIndication(typ store.TaskType, eventLocalID string, done func(error)) (int64, error)
}

// Manager is the explicit context object the rest of the core receives
// instead of a process-wide singleton. It owns one identity-stable cache
// per entity kind and constructs the facade objects, each of which holds a
// reference back to the manager for cross-entity lookups.
type Manager struct {
	db  *store.DB
	log *zap.Logger

	Conversations *Cache[*Conversation]
	Members       *Cache[*Member]
	Users         *Cache[*User]
	Events        *Cache[*Event]

	// Client-level notifications, emitted by the reconciliation engine.
	ConversationAdded *signal.Signal[*Conversation]
	ConversationLeft  *signal.Signal[*Conversation]

	mu         sync.RWMutex
	selfUserID string
	queue      Enqueuer
}

// NewManager creates a manager over db.
func NewManager(db *store.DB, log *zap.Logger) *Manager {
	m := &Manager{
		db:                db,
		log:               log,
		ConversationAdded: signal.New[*Conversation](),
		ConversationLeft:  signal.New[*Conversation](),
	}
	m.Conversations = newCache(m.loadConversation)
	m.Members = newCache(m.loadMember)
	m.Users = newCache(m.loadUser)
	m.Events = newCache(m.loadEvent)
	return m
}

// DB exposes the backing store.
func (m *Manager) DB() *store.DB {
	return m.db
}

// BindQueue attaches the task queue facades enqueue intents through.
func (m *Manager) BindQueue(q Enqueuer) {
	m.mu.Lock()
	m.queue = q
	m.mu.Unlock()
}

func (m *Manager) enqueuer() Enqueuer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queue
}

// SetSelf records the local user id, used for isMe decisions.
func (m *Manager) SetSelf(userID string) {
	m.mu.Lock()
	m.selfUserID = userID
	m.mu.Unlock()
}

// SelfUserID returns the local user id, empty before login.
func (m *Manager) SelfUserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selfUserID
}

func (m *Manager) loadConversation(uuid string) (*Conversation, error) {
	rec, err := m.db.GetConversation(uuid)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return newConversation(m, *rec), nil
}

func (m *Manager) loadMember(id string) (*Member, error) {
	rec, err := m.db.GetMember(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return &Member{mgr: m, data: *rec}, nil
}

func (m *Manager) loadUser(uuid string) (*User, error) {
	rec, err := m.db.GetUser(uuid)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return &User{mgr: m, data: *rec}, nil
}

func (m *Manager) loadEvent(localID string) (*Event, error) {
	rec, err := m.db.GetEvent(localID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return &Event{mgr: m, data: *rec}, nil
}

// RefreshConversation re-reads the store row into the cached facade,
// preserving its identity (and so its signal subscriptions). When the row
// has vanished the entry is dropped instead. Uncached ids are a no-op.
func (m *Manager) RefreshConversation(uuid string) error {
	c, ok := m.Conversations.Peek(uuid)
	if !ok {
		return nil
	}
	rec, err := m.db.GetConversation(uuid)
	if err != nil {
		return err
	}
	if rec == nil {
		m.Conversations.Invalidate(uuid)
		return nil
	}
	c.applyData(*rec)
	if err := c.Members().Refetch(); err != nil {
		return err
	}
	return c.Events().Refetch()
}

// RefreshMember re-reads one membership row into its cached facade.
func (m *Manager) RefreshMember(id string) error {
	mem, ok := m.Members.Peek(id)
	if !ok {
		return nil
	}
	rec, err := m.db.GetMember(id)
	if err != nil {
		return err
	}
	if rec == nil {
		m.Members.Invalidate(id)
		return nil
	}
	mem.applyData(*rec)
	return nil
}

// RefreshUser re-reads one user row into its cached facade.
func (m *Manager) RefreshUser(uuid string) error {
	u, ok := m.Users.Peek(uuid)
	if !ok {
		return nil
	}
	rec, err := m.db.GetUser(uuid)
	if err != nil {
		return err
	}
	if rec == nil {
		m.Users.Invalidate(uuid)
		return nil
	}
	u.applyData(*rec)
	return nil
}

// RefreshEvent re-reads one event row into its cached facade.
func (m *Manager) RefreshEvent(localID string) error {
	e, ok := m.Events.Peek(localID)
	if !ok {
		return nil
	}
	rec, err := m.db.GetEvent(localID)
	if err != nil {
		return err
	}
	if rec == nil {
		m.Events.Invalidate(localID)
		return nil
	}
	e.applyData(*rec)
	return nil
}

// InvalidateAll drops every cached facade (logout).
func (m *Manager) InvalidateAll() {
	m.Conversations.InvalidateAll()
	m.Members.InvalidateAll()
	m.Users.InvalidateAll()
	m.Events.InvalidateAll()
}
