// Package sync reconciles server snapshots into the local store and the
// facade cache. Every apply commits its rows in one transaction; facade
// refreshes and change signals run only after the commit, so observers
// never see a partially applied snapshot.
package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telavy/convo/internal/cache"
	"github.com/telavy/convo/internal/network"
	"github.com/telavy/convo/internal/signal"
	"github.com/telavy/convo/internal/store"
)

// validTransitions is the membership lifecycle. A state change outside
// this graph is a server anomaly and is ignored. Left is terminal: a
// returning user gets a fresh membership record, never a resurrected one.
var validTransitions = map[store.MemberState]map[store.MemberState]bool{
	store.StateInvited:  {store.StateJoined: true, store.StateLeft: true},
	store.StateJoined:   {store.StateLeft: true},
	store.StateKnocking: {store.StateJoined: true, store.StateLeft: true},
	store.StateLeft:     {},
}

// Engine applies server state to the local replica.
type Engine struct {
	db    *store.DB
	cache *cache.Manager
	log   *zap.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(db *store.DB, mgr *cache.Manager, log *zap.Logger) *Engine {
	return &Engine{db: db, cache: mgr, log: log}
}

// ApplySummaries ingests the lite conversation listing. Unknown
// conversations become placeholder rows pending a detail fetch; known
// ones whose sequence number moved ahead are flagged stale. The whole
// batch commits at once.
func (e *Engine) ApplySummaries(summaries []network.ConversationSummary) error {
	now := time.Now().UnixMilli()
	var added, touched []string

	tx, err := e.db.BeginTx()
	if err != nil {
		return fmt.Errorf("apply summaries: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range summaries {
		existing, err := tx.GetConversation(s.UUID)
		if err != nil {
			return fmt.Errorf("apply summaries: %w", err)
		}

		state, _ := store.ParseMemberState(strings.ToLower(s.MemberState))
		if existing == nil {
			row := &store.Conversation{
				UUID:           s.UUID,
				Name:           s.Name,
				SequenceNumber: s.SequenceNumber,
				RequiresSync:   true,
				DataIncomplete: true,
				LastUpdated:    now,
				MemberID:       s.MemberID,
				MemberState:    state,
			}
			if err := tx.UpsertConversation(row); err != nil {
				return fmt.Errorf("apply summaries: %w", err)
			}
			added = append(added, s.UUID)
			continue
		}

		changed := false
		if s.SequenceNumber > existing.SequenceNumber {
			existing.RequiresSync = true
			changed = true
		}
		if s.MemberID != "" && (existing.MemberID != s.MemberID || existing.MemberState != state) {
			existing.MemberID = s.MemberID
			existing.MemberState = state
			changed = true
		}
		if changed {
			existing.LastUpdated = now
			if err := tx.UpsertConversation(existing); err != nil {
				return fmt.Errorf("apply summaries: %w", err)
			}
			touched = append(touched, s.UUID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply summaries: %w", err)
	}

	for _, id := range touched {
		_ = e.cache.RefreshConversation(id)
	}
	for _, id := range added {
		conv, err := e.cache.Conversations.Get(id)
		if err != nil {
			e.log.Warn("placeholder conversation unresolvable", zap.String("uuid", id), zap.Error(err))
			continue
		}
		e.cache.ConversationAdded.Emit(conv)
	}
	return nil
}

// ApplyConversation reconciles a full conversation detail. Every row
// lands in one transaction; a failure anywhere rolls the whole apply
// back and requires_sync stays set, so an interrupted apply is simply
// retried. Signals are queued during the diff and flushed only after the
// commit, once the cached facades reflect the new rows. A detail for a
// conversation never seen before also announces it through
// ConversationAdded.
func (e *Engine) ApplyConversation(detail network.ConversationDetail) error {
	existing, err := e.db.GetConversation(detail.UUID)
	if err != nil {
		return fmt.Errorf("apply conversation: %w", err)
	}

	var pending, refresh signal.Invocations
	conv, cached := e.cache.Conversations.Peek(detail.UUID)

	tx, err := e.db.BeginTx()
	if err != nil {
		return fmt.Errorf("apply conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if existing == nil {
		// Members and events reference the conversation row, so a stub
		// must exist before the roster lands.
		stub := &store.Conversation{
			UUID:           detail.UUID,
			Name:           detail.Name,
			RequiresSync:   true,
			DataIncomplete: true,
			LastUpdated:    time.Now().UnixMilli(),
		}
		if err := tx.UpsertConversation(stub); err != nil {
			return fmt.Errorf("apply conversation: %w", err)
		}
	}

	if err := e.applyRoster(tx, detail, conv, cached, &pending, &refresh); err != nil {
		return err
	}
	if err := e.applyEvents(tx, detail, conv, cached, &pending, &refresh); err != nil {
		return err
	}

	row := e.mergeConversationRow(existing, detail, conv, cached, &pending)
	if err := tx.UpsertConversation(row); err != nil {
		return fmt.Errorf("apply conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply conversation: %w", err)
	}

	refresh.Flush()
	if err := e.cache.RefreshConversation(detail.UUID); err != nil {
		return fmt.Errorf("apply conversation: refresh: %w", err)
	}
	if existing == nil {
		if c, err := e.cache.Conversations.Get(detail.UUID); err == nil {
			e.cache.ConversationAdded.Emit(c)
		}
	}
	pending.Flush()

	e.log.Debug("conversation reconciled",
		zap.String("uuid", detail.UUID),
		zap.Int64("sequence", row.SequenceNumber),
		zap.Int("members", len(detail.Members)),
		zap.Int("events", len(detail.Events)))
	return nil
}

// mergeConversationRow folds the detail into the existing row. The
// sequence number only moves forward, independently of the other fields:
// a reordered detail response may carry fresher names alongside an older
// sequence, and neither may clobber the other.
func (e *Engine) mergeConversationRow(existing *store.Conversation, detail network.ConversationDetail, conv *cache.Conversation, cached bool, pending *signal.Invocations) *store.Conversation {
	row := &store.Conversation{
		UUID:        detail.UUID,
		Name:        detail.Name,
		DisplayName: detail.DisplayName,
		CreatedAt:   detail.CreatedAt,
		LastUpdated: time.Now().UnixMilli(),
	}

	row.SequenceNumber = detail.SequenceNumber
	if existing != nil {
		if existing.SequenceNumber > row.SequenceNumber {
			row.SequenceNumber = existing.SequenceNumber
		}
		row.MemberID = existing.MemberID
		row.MemberState = existing.MemberState

		oldName := existing.DisplayName
		if oldName == "" {
			oldName = existing.Name
		}
		newName := detail.DisplayName
		if newName == "" {
			newName = detail.Name
		}
		if cached && oldName != newName {
			change := cache.NameChange{Old: oldName, New: newName}
			pending.Add(func() { conv.NameChanged.Emit(change) })
		}
	}

	// Refresh the own-membership snapshot from the roster.
	if self := e.cache.SelfUserID(); self != "" {
		for _, m := range detail.Members {
			if m.User.UUID != self {
				continue
			}
			if state, ok := store.ParseMemberState(strings.ToLower(m.State)); ok {
				row.MemberID = m.ID
				row.MemberState = state
			}
		}
	}
	return row
}

func (e *Engine) applyRoster(tx *store.Tx, detail network.ConversationDetail, conv *cache.Conversation, cached bool, pending, refresh *signal.Invocations) error {
	existing, err := tx.MembersOf(detail.UUID)
	if err != nil {
		return fmt.Errorf("apply roster: %w", err)
	}
	byID := make(map[string]*store.Member, len(existing))
	for i := range existing {
		byID[existing[i].ID] = &existing[i]
	}

	now := time.Now().UnixMilli()
	rosterChanged := false

	for _, snap := range detail.Members {
		if snap.User.UUID != "" {
			if err := tx.UpsertUser(&store.User{
				UUID:        snap.User.UUID,
				Name:        snap.User.Name,
				DisplayName: snap.User.DisplayName,
				ImageURL:    snap.User.ImageURL,
			}); err != nil {
				return fmt.Errorf("apply roster: upsert user: %w", err)
			}
			userUUID := snap.User.UUID
			refresh.Add(func() { _ = e.cache.RefreshUser(userUUID) })
		}

		state, ok := store.ParseMemberState(strings.ToLower(snap.State))
		if !ok {
			e.log.Warn("unknown member state", zap.String("member", snap.ID), zap.String("state", snap.State))
			continue
		}

		prev, known := byID[snap.ID]
		if known {
			if prev.State == state {
				if prev.Name != snap.Name || prev.UserID != snap.User.UUID {
					prev.Name, prev.UserID = snap.Name, snap.User.UUID
					if err := tx.UpsertMember(prev); err != nil {
						return fmt.Errorf("apply roster: %w", err)
					}
					memberID := snap.ID
					refresh.Add(func() { _ = e.cache.RefreshMember(memberID) })
				}
				continue
			}
			if !validTransitions[prev.State][state] {
				e.log.Warn("ignoring invalid member transition",
					zap.String("member", snap.ID),
					zap.String("from", prev.State.String()),
					zap.String("to", state.String()))
				continue
			}
			prev.State, prev.Name, prev.UserID = state, snap.Name, snap.User.UUID
			if err := tx.UpsertMember(prev); err != nil {
				return fmt.Errorf("apply roster: %w", err)
			}
			memberID := snap.ID
			refresh.Add(func() { _ = e.cache.RefreshMember(memberID) })
		} else {
			rec := &store.Member{
				ID:               snap.ID,
				ConversationUUID: detail.UUID,
				Name:             snap.Name,
				State:            state,
				UserID:           snap.User.UUID,
				CreatedAt:        now,
			}
			if err := tx.UpsertMember(rec); err != nil {
				return fmt.Errorf("apply roster: %w", err)
			}
		}
		rosterChanged = true

		if cached {
			e.queueMemberSignal(conv, snap.ID, snap.User.UUID, state, pending)
		}
	}

	if rosterChanged && cached {
		pending.Add(func() { conv.MembersChanged.Emit(struct{}{}) })
	}
	return nil
}

// queueMemberSignal queues the state-specific notification for one
// membership change. Leaving members of the local user also surface as a
// client-level ConversationLeft.
func (e *Engine) queueMemberSignal(conv *cache.Conversation, memberID, userUUID string, state store.MemberState, pending *signal.Invocations) {
	emit := func(s *signal.Signal[*cache.Member]) {
		pending.Add(func() {
			m, err := e.cache.Members.Get(memberID)
			if err != nil {
				return
			}
			s.Emit(m)
		})
	}

	switch state {
	case store.StateJoined:
		emit(conv.MemberJoined)
	case store.StateInvited:
		emit(conv.MemberInvited)
	case store.StateKnocking:
		emit(conv.MemberKnocking)
	case store.StateLeft:
		emit(conv.MemberLeft)
		if userUUID != "" && userUUID == e.cache.SelfUserID() {
			pending.Add(func() { e.cache.ConversationLeft.Emit(conv) })
		}
	}
}

func (e *Engine) applyEvents(tx *store.Tx, detail network.ConversationDetail, conv *cache.Conversation, cached bool, pending, refresh *signal.Invocations) error {
	for _, snap := range detail.Events {
		if err := e.applyEventSnapshot(tx, detail.UUID, snap, conv, cached, pending, refresh); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyEventSnapshot(tx *store.Tx, conversationUUID string, snap network.EventSnapshot, conv *cache.Conversation, cached bool, pending, refresh *signal.Invocations) error {
	if snap.Type == "delete" {
		target, err := tx.GetEventByServerID(conversationUUID, snap.TargetEventID)
		if err != nil {
			return fmt.Errorf("apply event: %w", err)
		}
		if target != nil && !target.Deleted {
			if err := tx.MarkEventDeleted(target.LocalID); err != nil {
				return fmt.Errorf("apply event: %w", err)
			}
			localID := target.LocalID
			refresh.Add(func() { _ = e.cache.RefreshEvent(localID) })
		}
		return nil
	}

	known, err := tx.GetEventByServerID(conversationUUID, snap.ID)
	if err != nil {
		return fmt.Errorf("apply event: %w", err)
	}
	if known != nil {
		return nil
	}

	rec := &store.Event{
		LocalID:          uuid.NewString(),
		ConversationUUID: conversationUUID,
		ID:               snap.ID,
		FromMemberID:     snap.FromMemberID,
		Type:             store.EventType(snap.Type),
		Body:             snap.Body,
		Distribution:     snap.Distribution,
		CreatedAt:        snap.Timestamp,
	}
	if err := tx.InsertEvent(rec); err != nil {
		return fmt.Errorf("apply event: %w", err)
	}

	if cached {
		localID := rec.LocalID
		pending.Add(func() {
			facade, err := e.cache.Events.Get(localID)
			if err != nil {
				return
			}
			conv.NewEvent.Emit(facade)
		})
	}
	return nil
}

// ApplyMember reconciles a single membership change pushed outside a full
// detail fetch.
func (e *Engine) ApplyMember(conversationUUID string, snap network.MemberSnapshot) error {
	detail := network.ConversationDetail{UUID: conversationUUID, Members: []network.MemberSnapshot{snap}}
	var pending, refresh signal.Invocations
	conv, cached := e.cache.Conversations.Peek(conversationUUID)

	tx, err := e.db.BeginTx()
	if err != nil {
		return fmt.Errorf("apply member: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := e.applyRoster(tx, detail, conv, cached, &pending, &refresh); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply member: %w", err)
	}

	refresh.Flush()
	if cached {
		if err := conv.Members().Refetch(); err != nil {
			return err
		}
	}
	pending.Flush()
	return nil
}

// ApplyUser reconciles a user profile change.
func (e *Engine) ApplyUser(snap network.UserSnapshot) error {
	if err := e.db.UpsertUser(&store.User{
		UUID:        snap.UUID,
		Name:        snap.Name,
		DisplayName: snap.DisplayName,
		ImageURL:    snap.ImageURL,
	}); err != nil {
		return fmt.Errorf("apply user: %w", err)
	}
	return e.cache.RefreshUser(snap.UUID)
}

// ApplyEvent reconciles a single pushed event, bumping the conversation's
// sequence number when the event advances it.
func (e *Engine) ApplyEvent(conversationUUID string, snap network.EventSnapshot) error {
	var pending, refresh signal.Invocations
	conv, cached := e.cache.Conversations.Peek(conversationUUID)

	tx, err := e.db.BeginTx()
	if err != nil {
		return fmt.Errorf("apply event: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := e.applyEventSnapshot(tx, conversationUUID, snap, conv, cached, &pending, &refresh); err != nil {
		return err
	}

	row, err := tx.GetConversation(conversationUUID)
	if err != nil {
		return fmt.Errorf("apply event: %w", err)
	}
	if row != nil && snap.ID > row.SequenceNumber {
		row.SequenceNumber = snap.ID
		row.LastUpdated = time.Now().UnixMilli()
		if err := tx.UpsertConversation(row); err != nil {
			return fmt.Errorf("apply event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply event: %w", err)
	}

	refresh.Flush()
	if err := e.cache.RefreshConversation(conversationUUID); err != nil {
		return err
	}
	pending.Flush()
	return nil
}
