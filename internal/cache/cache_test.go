package cache

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/telavy/convo/internal/store"
	"go.uber.org/zap"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, zap.NewNop())
}

func seedConversation(t *testing.T, m *Manager, uuid, name string) {
	t.Helper()
	if err := m.DB().UpsertConversation(&store.Conversation{UUID: uuid, Name: name}); err != nil {
		t.Fatal(err)
	}
}

func TestGetReadsThroughOnMiss(t *testing.T) {
	m := testManager(t)
	seedConversation(t, m, "C1", "general")

	c, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "general" {
		t.Errorf("name = %q, want general", c.Name())
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	m := testManager(t)

	_, err := m.Conversations.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	// A failed load must not populate the cache.
	if m.Conversations.Len() != 0 {
		t.Errorf("cache len = %d after failed load", m.Conversations.Len())
	}
}

func TestIdentityStability(t *testing.T) {
	m := testManager(t)
	seedConversation(t, m, "C1", "general")

	first, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("two gets without invalidation returned distinct instances")
	}

	m.Conversations.Invalidate("C1")
	third, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("get after invalidation returned the dropped instance")
	}
}

// TestCachedEntrySurvivesStoreDelete pins the documented contract: once
// populated, the cache is authoritative until explicitly invalidated, even
// if the backing row has been deleted.
func TestCachedEntrySurvivesStoreDelete(t *testing.T) {
	m := testManager(t)
	seedConversation(t, m, "C1", "general")

	c, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.DB().DeleteConversation("C1"); err != nil {
		t.Fatal(err)
	}

	again, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	if again != c {
		t.Error("cached instance replaced despite no invalidation")
	}

	// After invalidation the deletion becomes visible.
	m.Conversations.Invalidate("C1")
	if _, err := m.Conversations.Get("C1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after invalidation", err)
	}
}

func TestConcurrentGetSingleInstance(t *testing.T) {
	m := testManager(t)
	seedConversation(t, m, "C1", "general")

	const goroutines = 32
	results := make([]*Conversation, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Conversations.Get("C1")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent gets constructed distinct instances")
		}
	}
}

func TestSingleFlightLoadsOnce(t *testing.T) {
	var loads atomic.Int64
	gate := make(chan struct{})
	c := newCache(func(id string) (int, error) {
		loads.Add(1)
		<-gate
		return 7, nil
	})

	const goroutines = 16
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := c.Get("k"); err != nil || v != 7 {
				t.Errorf("Get = %d, %v", v, err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Errorf("loader ran %d times, want 1", got)
	}
}

func TestRefreshConversationPreservesIdentity(t *testing.T) {
	m := testManager(t)
	seedConversation(t, m, "C1", "general")

	c, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.DB().UpsertConversation(&store.Conversation{UUID: "C1", Name: "renamed"}); err != nil {
		t.Fatal(err)
	}
	if err := m.RefreshConversation("C1"); err != nil {
		t.Fatal(err)
	}

	again, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	if again != c {
		t.Error("refresh replaced the facade instance")
	}
	if c.Name() != "renamed" {
		t.Errorf("name = %q after refresh, want renamed", c.Name())
	}
}

func TestRefreshDropsVanishedRow(t *testing.T) {
	m := testManager(t)
	seedConversation(t, m, "C1", "general")

	if _, err := m.Conversations.Get("C1"); err != nil {
		t.Fatal(err)
	}
	if err := m.DB().DeleteConversation("C1"); err != nil {
		t.Fatal(err)
	}
	if err := m.RefreshConversation("C1"); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Conversations.Get("C1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after refresh of vanished row", err)
	}
}

func TestOwnMemberPrefersJoined(t *testing.T) {
	m := testManager(t)
	m.SetSelf("U1")
	seedConversation(t, m, "C1", "general")

	members := []store.Member{
		{ID: "M1", ConversationUUID: "C1", State: store.StateLeft, UserID: "U1", CreatedAt: 100},
		{ID: "M2", ConversationUUID: "C1", State: store.StateJoined, UserID: "U1", CreatedAt: 200},
	}
	for i := range members {
		if err := m.DB().UpsertMember(&members[i]); err != nil {
			t.Fatal(err)
		}
	}

	c, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	own, err := c.OwnMember()
	if err != nil {
		t.Fatal(err)
	}
	if own.ID() != "M2" {
		t.Errorf("own member = %s, want M2 (joined)", own.ID())
	}

	state, err := c.State()
	if err != nil {
		t.Fatal(err)
	}
	if state != store.StateJoined {
		t.Errorf("state = %v, want joined", state)
	}
}

func TestOwnMemberFallsBackToLatest(t *testing.T) {
	m := testManager(t)
	m.SetSelf("U1")
	seedConversation(t, m, "C1", "general")

	if err := m.DB().UpsertMember(&store.Member{ID: "M1", ConversationUUID: "C1", State: store.StateLeft, UserID: "U1", CreatedAt: 100}); err != nil {
		t.Fatal(err)
	}

	c, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	own, err := c.OwnMember()
	if err != nil {
		t.Fatal(err)
	}
	if own.ID() != "M1" || own.State() != store.StateLeft {
		t.Errorf("fallback member = %s/%v, want M1/left", own.ID(), own.State())
	}
}

func TestSendWithoutQueueBound(t *testing.T) {
	m := testManager(t)
	seedConversation(t, m, "C1", "general")

	c, err := m.Conversations.Get("C1")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SendText("hi"); !errors.Is(err, ErrQueueUnbound) {
		t.Errorf("err = %v, want ErrQueueUnbound", err)
	}
}

func TestMemberResolvesUserAndConversation(t *testing.T) {
	m := testManager(t)
	seedConversation(t, m, "C1", "general")
	if err := m.DB().UpsertUser(&store.User{UUID: "U1", Name: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := m.DB().UpsertMember(&store.Member{ID: "M1", ConversationUUID: "C1", State: store.StateJoined, UserID: "U1"}); err != nil {
		t.Fatal(err)
	}

	mem, err := m.Members.Get("M1")
	if err != nil {
		t.Fatal(err)
	}
	u, err := mem.User()
	if err != nil {
		t.Fatal(err)
	}
	if u.Name() != "alice" {
		t.Errorf("user = %q, want alice", u.Name())
	}
	c, err := mem.Conversation()
	if err != nil {
		t.Fatal(err)
	}
	if c.UUID() != "C1" {
		t.Errorf("conversation = %q, want C1", c.UUID())
	}
}
