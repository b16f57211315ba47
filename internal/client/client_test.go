package client

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/telavy/convo/internal/cache"
	"github.com/telavy/convo/internal/network"
	"github.com/telavy/convo/internal/queue"
	"github.com/telavy/convo/internal/status"
	"github.com/telavy/convo/internal/store"
	intsync "github.com/telavy/convo/internal/sync"
)

type fakeNet struct {
	summaries []network.ConversationSummary
	details   map[string]network.ConversationDetail

	created []network.CreateParams
	joins   [][2]string
	invites [][2]string
	kicks   [][2]string

	listErr  error
	fetchErr error
}

func (f *fakeNet) CreateConversation(_ context.Context, p network.CreateParams) (network.CreateResult, error) {
	f.created = append(f.created, p)
	uuid := "C-created"
	f.details[uuid] = network.ConversationDetail{UUID: uuid, Name: p.Name, SequenceNumber: 1}
	return network.CreateResult{UUID: uuid}, nil
}

func (f *fakeNet) JoinConversation(_ context.Context, conversationUUID, userID, memberID string) (network.JoinResult, error) {
	f.joins = append(f.joins, [2]string{conversationUUID, userID})
	if memberID == "" {
		memberID = "M-self"
	}
	d := f.details[conversationUUID]
	d.Members = append(d.Members, network.MemberSnapshot{
		ID: memberID, Name: "self", State: "joined", User: network.UserSnapshot{UUID: userID},
	})
	f.details[conversationUUID] = d
	return network.JoinResult{MemberID: memberID, State: "joined"}, nil
}

func (f *fakeNet) ListConversations(context.Context) ([]network.ConversationSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.summaries, nil
}

func (f *fakeNet) FetchConversation(_ context.Context, conversationUUID string) (network.ConversationDetail, error) {
	if f.fetchErr != nil {
		return network.ConversationDetail{}, f.fetchErr
	}
	return f.details[conversationUUID], nil
}

func (f *fakeNet) SendEvent(context.Context, string, network.OutboundEvent) (network.SendResult, error) {
	return network.SendResult{EventID: 1}, nil
}

func (f *fakeNet) InviteUser(_ context.Context, conversationUUID, userID string) error {
	f.invites = append(f.invites, [2]string{conversationUUID, userID})
	return nil
}

func (f *fakeNet) KickMember(_ context.Context, conversationUUID, memberID string) error {
	f.kicks = append(f.kicks, [2]string{conversationUUID, memberID})
	d := f.details[conversationUUID]
	for i := range d.Members {
		if d.Members[i].ID == memberID {
			d.Members[i].State = "left"
		}
	}
	d.SequenceNumber++
	f.details[conversationUUID] = d
	return nil
}

func testClient(t *testing.T) (*Client, *fakeNet) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	log := zap.NewNop()
	mgr := cache.NewManager(db, log)
	mgr.SetSelf("U-self")

	net := &fakeNet{details: make(map[string]network.ConversationDetail)}
	q := queue.New(db, mgr, net, log)
	engine := intsync.NewEngine(db, mgr, log)
	machine := status.NewMachine()

	c := New(db, mgr, net, q, engine, machine, log)
	c.indexingDelay = 0
	return c, net
}

func loginTo(t *testing.T, c *Client) {
	t.Helper()
	for _, s := range []status.State{status.Connecting, status.LoggedIn} {
		if err := c.Status().Transition(s); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSyncReconcilesDirtyConversations(t *testing.T) {
	c, net := testClient(t)
	loginTo(t, c)

	net.summaries = []network.ConversationSummary{
		{UUID: "C1", Name: "general", SequenceNumber: 2, MemberID: "M-self", MemberState: "joined"},
	}
	net.details["C1"] = network.ConversationDetail{
		UUID: "C1", Name: "general", SequenceNumber: 2,
		Members: []network.MemberSnapshot{
			{ID: "M-self", Name: "self", State: "joined", User: network.UserSnapshot{UUID: "U-self"}},
		},
		Events: []network.EventSnapshot{
			{ID: 2, FromMemberID: "M-self", Type: "text", Body: "hi", Timestamp: 100},
		},
	}

	if err := c.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := c.Status().Current(); got != status.Ready {
		t.Errorf("status = %s, want READY", got)
	}
	if c.Conversations().Count() != 1 {
		t.Fatalf("conversations = %d, want 1", c.Conversations().Count())
	}
	conv := c.Conversations().At(0)
	if conv.UUID() != "C1" || conv.RequiresSync() || conv.DataIncomplete() {
		t.Errorf("conversation = %s sync:%v incomplete:%v", conv.UUID(), conv.RequiresSync(), conv.DataIncomplete())
	}
	if conv.Events().Count() != 1 {
		t.Errorf("events = %d, want 1", conv.Events().Count())
	}
}

func TestSyncFailureFlipsToReconnecting(t *testing.T) {
	c, net := testClient(t)
	loginTo(t, c)
	net.listErr = &network.APIError{Status: 503}

	if err := c.Sync(context.Background()); err == nil {
		t.Fatal("Sync should surface the listing failure")
	}
	if got := c.Status().Current(); got != status.Reconnecting {
		t.Errorf("status = %s, want RECONNECTING", got)
	}
}

func TestNewConversationCreatesJoinsAndFetches(t *testing.T) {
	c, net := testClient(t)

	conv, err := c.NewConversation(context.Background(), "planning", true)
	if err != nil {
		t.Fatal(err)
	}

	if len(net.created) != 1 || net.created[0].Name != "planning" {
		t.Errorf("created = %+v, want one create named planning", net.created)
	}
	if len(net.joins) != 1 || net.joins[0] != [2]string{"C-created", "U-self"} {
		t.Errorf("joins = %v, want [[C-created U-self]]", net.joins)
	}

	if conv.UUID() != "C-created" {
		t.Errorf("conversation = %s, want C-created", conv.UUID())
	}
	state, err := conv.State()
	if err != nil {
		t.Fatal(err)
	}
	if state != store.StateJoined {
		t.Errorf("state = %v, want joined", state)
	}
	if c.Conversations().Count() != 1 {
		t.Errorf("collection = %d conversations, want 1", c.Conversations().Count())
	}
}

func TestNewConversationWithoutJoin(t *testing.T) {
	c, net := testClient(t)

	conv, err := c.NewConversation(context.Background(), "readonly", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(net.joins) != 0 {
		t.Errorf("joins = %v, want none", net.joins)
	}
	if _, err := conv.OwnMember(); err == nil {
		t.Error("OwnMember should fail for an unjoined conversation")
	}
}

func TestLeaveKicksOwnMember(t *testing.T) {
	c, net := testClient(t)
	if _, err := c.NewConversation(context.Background(), "temp", true); err != nil {
		t.Fatal(err)
	}

	if err := c.Leave(context.Background(), "C-created"); err != nil {
		t.Fatal(err)
	}

	if len(net.kicks) != 1 || net.kicks[0] != [2]string{"C-created", "M-self"} {
		t.Errorf("kicks = %v, want [[C-created M-self]]", net.kicks)
	}
	conv, err := c.Conversation("C-created")
	if err != nil {
		t.Fatal(err)
	}
	state, err := conv.State()
	if err != nil {
		t.Fatal(err)
	}
	if state != store.StateLeft {
		t.Errorf("state = %v, want left after leave", state)
	}
}

func TestInvite(t *testing.T) {
	c, net := testClient(t)
	if err := c.Invite(context.Background(), "C1", "U2"); err != nil {
		t.Fatal(err)
	}
	if len(net.invites) != 1 || net.invites[0] != [2]string{"C1", "U2"} {
		t.Errorf("invites = %v", net.invites)
	}
}

func TestLogoutClearsReplica(t *testing.T) {
	c, _ := testClient(t)
	loginTo(t, c)
	if _, err := c.NewConversation(context.Background(), "gone", true); err != nil {
		t.Fatal(err)
	}
	if c.Conversations().Count() != 1 {
		t.Fatal("setup: expected one conversation")
	}

	if err := c.Logout(); err != nil {
		t.Fatal(err)
	}

	if c.Conversations().Count() != 0 {
		t.Errorf("conversations = %d after logout, want 0", c.Conversations().Count())
	}
	rows, err := c.db.AllConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("store rows = %d after logout, want 0", len(rows))
	}
	if got := c.Status().Current(); got != status.Offline {
		t.Errorf("status = %s, want OFFLINE", got)
	}
}
