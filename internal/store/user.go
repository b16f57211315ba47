package store

import "database/sql"

// UpsertUser inserts or updates a user profile by uuid. Empty inbound
// fields never clobber known values; lite payloads omit them.
func (s queries) UpsertUser(u *User) error {
	_, err := s.q.Exec(`
		INSERT INTO users (uuid, name, display_name, image_url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			image_url = CASE WHEN excluded.image_url != '' THEN excluded.image_url ELSE users.image_url END`,
		u.UUID, u.Name, u.DisplayName, u.ImageURL)
	return err
}

// GetUser returns a user by uuid, or nil when absent.
func (s queries) GetUser(uuid string) (*User, error) {
	var u User
	err := s.q.QueryRow(`SELECT uuid, name, display_name, image_url FROM users WHERE uuid = ?`, uuid).
		Scan(&u.UUID, &u.Name, &u.DisplayName, &u.ImageURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteAllUsers removes every user row (logout).
func (s queries) DeleteAllUsers() error {
	_, err := s.q.Exec(`DELETE FROM users`)
	return err
}
