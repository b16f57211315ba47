package sync

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/telavy/convo/internal/store"
)

const lastFullSyncKey = "last_full_sync"

// Checkpoints persists small sync bookkeeping values, like when the last
// full reconciliation finished.
type Checkpoints struct {
	db *store.DB
}

// NewCheckpoints creates a checkpoint store over db.
func NewCheckpoints(db *store.DB) *Checkpoints {
	return &Checkpoints{db: db}
}

// Set writes one checkpoint value.
func (c *Checkpoints) Set(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := c.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Get reads one checkpoint value; ok is false when it was never set.
func (c *Checkpoints) Get(key string) (value string, ok bool, err error) {
	err = c.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// MarkFullSync records that a full reconciliation completed now.
func (c *Checkpoints) MarkFullSync() error {
	return c.Set(lastFullSyncKey, strconv.FormatInt(time.Now().UnixMilli(), 10))
}

// LastFullSync returns when the last full reconciliation completed, zero
// time when none has.
func (c *Checkpoints) LastFullSync() (time.Time, error) {
	raw, ok, err := c.Get(lastFullSyncKey)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
