package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation row by uuid.
func (s queries) UpsertConversation(c *Conversation) error {
	var memberID any
	var memberState any
	if c.MemberID != "" {
		memberID = c.MemberID
		memberState = int(c.MemberState)
	}
	_, err := s.q.Exec(`
		INSERT INTO conversations (uuid, name, display_name, sequence_number, created_at, requires_sync, data_incomplete, last_updated, member_id, member_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			display_name = excluded.display_name,
			sequence_number = excluded.sequence_number,
			created_at = excluded.created_at,
			requires_sync = excluded.requires_sync,
			data_incomplete = excluded.data_incomplete,
			last_updated = excluded.last_updated,
			member_id = excluded.member_id,
			member_state = excluded.member_state`,
		c.UUID, c.Name, c.DisplayName, c.SequenceNumber, c.CreatedAt, c.RequiresSync, c.DataIncomplete, c.LastUpdated, memberID, memberState)
	return err
}

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var memberID sql.NullString
	var memberState sql.NullInt64
	err := row.Scan(&c.UUID, &c.Name, &c.DisplayName, &c.SequenceNumber, &c.CreatedAt,
		&c.RequiresSync, &c.DataIncomplete, &c.LastUpdated, &memberID, &memberState)
	if err != nil {
		return nil, err
	}
	if memberID.Valid {
		c.MemberID = memberID.String
		c.MemberState = MemberState(memberState.Int64)
	}
	return &c, nil
}

const conversationColumns = `uuid, name, display_name, sequence_number, created_at, requires_sync, data_incomplete, last_updated, member_id, member_state`

// GetConversation returns a conversation by uuid, or nil when absent.
func (s queries) GetConversation(uuid string) (*Conversation, error) {
	c, err := scanConversation(s.q.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE uuid = ?`, uuid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s queries) queryConversations(query string, args ...any) ([]Conversation, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CompleteConversations returns fully-fetched conversations ordered by most
// recent activity. Lite rows awaiting a detail fetch are excluded.
func (s queries) CompleteConversations() ([]Conversation, error) {
	return s.queryConversations(`SELECT ` + conversationColumns + ` FROM conversations WHERE data_incomplete = 0 ORDER BY last_updated DESC`)
}

// DirtyConversations returns conversations whose local copy is known stale.
func (s queries) DirtyConversations() ([]Conversation, error) {
	return s.queryConversations(`SELECT ` + conversationColumns + ` FROM conversations WHERE requires_sync = 1 ORDER BY last_updated DESC`)
}

// AllConversations returns every conversation row.
func (s queries) AllConversations() ([]Conversation, error) {
	return s.queryConversations(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY last_updated DESC`)
}

// DeleteConversation removes one conversation; members and events cascade.
func (s queries) DeleteConversation(uuid string) error {
	_, err := s.q.Exec(`DELETE FROM conversations WHERE uuid = ?`, uuid)
	return err
}

// DeleteAllConversations removes every conversation (logout).
func (s queries) DeleteAllConversations() error {
	_, err := s.q.Exec(`DELETE FROM conversations`)
	return err
}

// TouchConversation bumps the last activity timestamp.
func (s queries) TouchConversation(uuid string) error {
	_, err := s.q.Exec(`UPDATE conversations SET last_updated = ? WHERE uuid = ?`, time.Now().UnixMilli(), uuid)
	return err
}
