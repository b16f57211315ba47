package store

import (
	"database/sql"
	"time"
)

// UpsertMember inserts or updates a membership record by member id.
func (s queries) UpsertMember(m *Member) error {
	created := m.CreatedAt
	if created == 0 {
		created = time.Now().UnixMilli()
	}
	_, err := s.q.Exec(`
		INSERT INTO members (member_id, parent, name, state, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			user_id = excluded.user_id`,
		m.ID, m.ConversationUUID, m.Name, int(m.State), m.UserID, created)
	return err
}

const memberColumns = `member_id, parent, name, state, user_id, created_at`

func scanMember(row interface{ Scan(...any) error }) (*Member, error) {
	var m Member
	var state int
	if err := row.Scan(&m.ID, &m.ConversationUUID, &m.Name, &state, &m.UserID, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.State = MemberState(state)
	return &m, nil
}

// GetMember returns a membership record by id, or nil when absent.
func (s queries) GetMember(id string) (*Member, error) {
	m, err := scanMember(s.q.QueryRow(`SELECT `+memberColumns+` FROM members WHERE member_id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s queries) queryMembers(query string, args ...any) ([]Member, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MembersOf returns all membership records of a conversation in creation
// order. Left members are retained; rejoin adds a new row.
func (s queries) MembersOf(conversationUUID string) ([]Member, error) {
	return s.queryMembers(`SELECT `+memberColumns+` FROM members WHERE parent = ? ORDER BY created_at ASC, rowid ASC`, conversationUUID)
}

// MembersForUser returns one user's membership history in a conversation,
// oldest first.
func (s queries) MembersForUser(conversationUUID, userID string) ([]Member, error) {
	return s.queryMembers(`SELECT `+memberColumns+` FROM members WHERE parent = ? AND user_id = ? ORDER BY created_at ASC, rowid ASC`, conversationUUID, userID)
}

// DeleteAllMembers removes every membership record (logout).
func (s queries) DeleteAllMembers() error {
	_, err := s.q.Exec(`DELETE FROM members`)
	return err
}
