package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
// so every entity operation can run standalone or inside a transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// queries carries the entity operations. DB and Tx both embed it, so the
// same method set is available autocommitted or transactional.
type queries struct {
	q querier
}

// DB wraps a SQLite database connection for the client-owned convo.db.
type DB struct {
	*sql.DB
	queries
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{DB: db}
	d.q = db
	return d, nil
}

// Tx is one atomic batch of entity operations. Multi-record writes go
// through a Tx so a partial batch is never observable; Rollback after a
// successful Commit is a no-op, which keeps `defer tx.Rollback()` safe.
type Tx struct {
	tx *sql.Tx
	queries
}

// BeginTx starts a transaction exposing the full entity API.
func (db *DB) BeginTx() (*Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	t := &Tx{tx: tx}
	t.q = tx
	return t, nil
}

// Commit makes the batch durable.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback discards the batch.
func (t *Tx) Rollback() error { return t.tx.Rollback() }
