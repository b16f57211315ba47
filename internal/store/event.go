package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func encodeDistribution(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeDistribution(raw string) []string {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

// InsertEvent persists a new event row.
func (s queries) InsertEvent(e *Event) error {
	created := e.CreatedAt
	if created == 0 {
		created = time.Now().UnixMilli()
	}
	var serverID any
	if e.ID != 0 {
		serverID = e.ID
	}
	_, err := s.q.Exec(`
		INSERT INTO events (local_id, conversation_uuid, event_id, from_member_id, type, body, distribution, is_draft, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.LocalID, e.ConversationUUID, serverID, e.FromMemberID, string(e.Type), e.Body,
		encodeDistribution(e.Distribution), e.IsDraft, e.Deleted, created)
	return err
}

const eventColumns = `local_id, conversation_uuid, event_id, from_member_id, type, body, distribution, is_draft, deleted, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	var serverID sql.NullInt64
	var typ, distribution string
	err := row.Scan(&e.LocalID, &e.ConversationUUID, &serverID, &e.FromMemberID, &typ,
		&e.Body, &distribution, &e.IsDraft, &e.Deleted, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ID = serverID.Int64
	e.Type = EventType(typ)
	e.Distribution = decodeDistribution(distribution)
	return &e, nil
}

// GetEvent returns an event by its client-local id, or nil when absent.
func (s queries) GetEvent(localID string) (*Event, error) {
	e, err := scanEvent(s.q.QueryRow(`SELECT `+eventColumns+` FROM events WHERE local_id = ?`, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// GetEventByServerID returns an event by its server-assigned id within a
// conversation, or nil when absent.
func (s queries) GetEventByServerID(conversationUUID string, id int64) (*Event, error) {
	e, err := scanEvent(s.q.QueryRow(`SELECT `+eventColumns+` FROM events WHERE conversation_uuid = ? AND event_id = ?`, conversationUUID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// EventsOf returns a conversation's visible log in server order; drafts
// (no server id yet) sort last in creation order.
func (s queries) EventsOf(conversationUUID string) ([]Event, error) {
	rows, err := s.q.Query(`
		SELECT `+eventColumns+` FROM events
		WHERE conversation_uuid = ? AND deleted = 0
		ORDER BY event_id IS NULL ASC, event_id ASC, created_at ASC`, conversationUUID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ConfirmEvent records the server-assigned id for a draft and clears the
// draft flag.
func (s queries) ConfirmEvent(localID string, serverID int64) error {
	res, err := s.q.Exec(`UPDATE events SET event_id = ?, is_draft = 0 WHERE local_id = ?`, serverID, localID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("confirm event %s: no such row", localID)
	}
	return err
}

// MarkEventDeleted hides an event from collections without dropping the row.
func (s queries) MarkEventDeleted(localID string) error {
	_, err := s.q.Exec(`UPDATE events SET deleted = 1, body = '' WHERE local_id = ?`, localID)
	return err
}

// DeleteAllEvents removes every event row (logout).
func (s queries) DeleteAllEvents() error {
	_, err := s.q.Exec(`DELETE FROM events`)
	return err
}
