// Package client is the top-level facade: it owns the conversation
// collection, drives full reconciliation passes, and performs the
// conversation lifecycle operations (create, join, invite, leave).
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telavy/convo/internal/cache"
	"github.com/telavy/convo/internal/network"
	"github.com/telavy/convo/internal/queue"
	"github.com/telavy/convo/internal/status"
	"github.com/telavy/convo/internal/store"
	intsync "github.com/telavy/convo/internal/sync"
)

// indexingLagDelay is how long to wait between creating or joining a
// conversation and fetching its detail. The service indexes new
// conversations asynchronously and an immediate fetch can miss the row.
const indexingLagDelay = time.Second

// Client ties the store, cache, queue, and reconciliation engine into
// one entry point.
type Client struct {
	db      *store.DB
	cache   *cache.Manager
	net     network.Collaborator
	queue   *queue.Queue
	engine  *intsync.Engine
	machine *status.Machine
	marks   *intsync.Checkpoints
	log     *zap.Logger

	// indexingDelay defaults to indexingLagDelay; tests shorten it.
	indexingDelay time.Duration

	mu            sync.Mutex
	conversations *cache.ConversationCollection
}

// New creates a client over already-constructed collaborators.
func New(db *store.DB, mgr *cache.Manager, net network.Collaborator, q *queue.Queue, engine *intsync.Engine, machine *status.Machine, log *zap.Logger) *Client {
	return &Client{
		db:            db,
		cache:         mgr,
		net:           net,
		queue:         q,
		engine:        engine,
		machine:       machine,
		marks:         intsync.NewCheckpoints(db),
		log:           log,
		indexingDelay: indexingLagDelay,
	}
}

// Cache exposes the facade cache manager.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// Status exposes the runtime state machine.
func (c *Client) Status() *status.Machine {
	return c.machine
}

// Conversations returns the collection of complete conversations, most
// recently active first.
func (c *Client) Conversations() *cache.ConversationCollection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conversations == nil {
		c.conversations = cache.NewConversationCollection(c.cache)
	}
	return c.conversations
}

// Conversation returns the shared facade for one conversation.
func (c *Client) Conversation(uuid string) (*cache.Conversation, error) {
	return c.cache.Conversations.Get(uuid)
}

// Sync runs one full reconciliation pass: list the server's
// conversations, then fetch detail for every one flagged stale.
func (c *Client) Sync(ctx context.Context) error {
	cur := c.machine.Current()
	if cur == status.LoggedIn || cur == status.Ready {
		_ = c.machine.Transition(status.Syncing)
	}

	if err := c.sync(ctx); err != nil {
		if network.Classify(err) == network.ClassTransient {
			_ = c.machine.Transition(status.Reconnecting)
		}
		return err
	}

	if c.machine.Current() == status.Syncing {
		_ = c.machine.Transition(status.Ready)
	}
	return nil
}

func (c *Client) sync(ctx context.Context) error {
	summaries, err := c.net.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("sync: list: %w", err)
	}
	if err := c.engine.ApplySummaries(summaries); err != nil {
		return err
	}

	dirty, err := c.db.DirtyConversations()
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	for _, row := range dirty {
		detail, err := c.net.FetchConversation(ctx, row.UUID)
		if err != nil {
			return fmt.Errorf("sync: fetch %s: %w", row.UUID, err)
		}
		if err := c.engine.ApplyConversation(detail); err != nil {
			return err
		}
	}

	if err := c.refetchConversations(); err != nil {
		return err
	}
	if err := c.marks.MarkFullSync(); err != nil {
		c.log.Warn("failed to record sync checkpoint", zap.Error(err))
	}
	c.log.Info("sync complete",
		zap.Int("listed", len(summaries)),
		zap.Int("fetched", len(dirty)))
	return nil
}

// NewConversation creates a conversation on the server and, when join is
// set, joins it as the local user. The returned facade is fully
// reconciled.
func (c *Client) NewConversation(ctx context.Context, name string, join bool) (*cache.Conversation, error) {
	created, err := c.net.CreateConversation(ctx, network.CreateParams{Name: name})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if join {
		if _, err := c.net.JoinConversation(ctx, created.UUID, c.cache.SelfUserID(), ""); err != nil {
			return nil, fmt.Errorf("join created conversation: %w", err)
		}
	}
	return c.fetchAfterIndexing(ctx, created.UUID)
}

// JoinConversation joins an existing conversation as the local user and
// returns its reconciled facade. When the user left the conversation
// before, the request reuses the prior membership so the server can
// link the rejoin to its history.
func (c *Client) JoinConversation(ctx context.Context, conversationUUID string) (*cache.Conversation, error) {
	var memberID string
	if conv, ok := c.cache.Conversations.Peek(conversationUUID); ok {
		if own, err := conv.OwnMember(); err == nil && own.State() == store.StateLeft {
			memberID = own.ID()
		}
	}
	if _, err := c.net.JoinConversation(ctx, conversationUUID, c.cache.SelfUserID(), memberID); err != nil {
		return nil, fmt.Errorf("join conversation: %w", err)
	}
	return c.fetchAfterIndexing(ctx, conversationUUID)
}

// Invite asks the server to invite another user to a conversation. The
// roster change lands through reconciliation, not locally.
func (c *Client) Invite(ctx context.Context, conversationUUID, userID string) error {
	if err := c.net.InviteUser(ctx, conversationUUID, userID); err != nil {
		return fmt.Errorf("invite: %w", err)
	}
	return nil
}

// Leave removes the local user's own membership from a conversation.
func (c *Client) Leave(ctx context.Context, conversationUUID string) error {
	conv, err := c.cache.Conversations.Get(conversationUUID)
	if err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	own, err := conv.OwnMember()
	if err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	if err := c.net.KickMember(ctx, conversationUUID, own.ID()); err != nil {
		return fmt.Errorf("leave: %w", err)
	}

	detail, err := c.net.FetchConversation(ctx, conversationUUID)
	if err != nil {
		return fmt.Errorf("leave: refetch: %w", err)
	}
	if err := c.engine.ApplyConversation(detail); err != nil {
		return err
	}
	return c.refetchConversations()
}

// Logout wipes every local row and cached facade. Pending tasks are
// discarded with the rest; a fresh login starts from a clean replica.
func (c *Client) Logout() error {
	steps := []func() error{
		c.db.DeleteAllTasks,
		c.db.DeleteAllEvents,
		c.db.DeleteAllMembers,
		c.db.DeleteAllConversations,
		c.db.DeleteAllUsers,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	c.cache.InvalidateAll()
	if err := c.refetchConversations(); err != nil {
		return err
	}

	cur := c.machine.Current()
	if cur != status.Offline {
		_ = c.machine.Transition(status.Offline)
	}
	c.log.Info("logged out, local replica cleared")
	return nil
}

// fetchAfterIndexing waits out the service's indexing lag, fetches the
// conversation detail, and reconciles it.
func (c *Client) fetchAfterIndexing(ctx context.Context, conversationUUID string) (*cache.Conversation, error) {
	if c.indexingDelay > 0 {
		select {
		case <-time.After(c.indexingDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	detail, err := c.net.FetchConversation(ctx, conversationUUID)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	if err := c.engine.ApplyConversation(detail); err != nil {
		return nil, err
	}
	if err := c.refetchConversations(); err != nil {
		return nil, err
	}
	return c.cache.Conversations.Get(conversationUUID)
}

func (c *Client) refetchConversations() error {
	c.mu.Lock()
	coll := c.conversations
	c.mu.Unlock()
	if coll == nil {
		return nil
	}
	return coll.Refetch()
}
