package store

import (
	"database/sql"
	"time"
)

// InsertTask persists a new task and returns its id.
func (s queries) InsertTask(t *Task) (int64, error) {
	created := t.CreatedAt
	if created == 0 {
		created = time.Now().UnixMilli()
	}
	var related any
	if t.RelatedEventID != "" {
		related = t.RelatedEventID
	}
	res, err := s.q.Exec(`
		INSERT INTO tasks (type, related_event_id, being_processed, attempts, last_error, dead, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(t.Type), related, t.BeingProcessed, t.Attempts, t.LastError, t.Dead, created)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const taskColumns = `id, type, related_event_id, being_processed, attempts, last_error, dead, created_at`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var typ string
	var related sql.NullString
	err := row.Scan(&t.ID, &typ, &related, &t.BeingProcessed, &t.Attempts, &t.LastError, &t.Dead, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = TaskType(typ)
	t.RelatedEventID = related.String
	return &t, nil
}

// GetTask returns a task by id, or nil when absent.
func (s queries) GetTask(id int64) (*Task, error) {
	t, err := scanTask(s.q.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s queries) queryTasks(query string, args ...any) ([]Task, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// PendingTasks returns live tasks awaiting dispatch in FIFO creation order.
func (s queries) PendingTasks() ([]Task, error) {
	return s.queryTasks(`SELECT ` + taskColumns + ` FROM tasks WHERE dead = 0 AND being_processed = 0 ORDER BY id ASC`)
}

// DeadTasks returns deadlettered tasks for inspection.
func (s queries) DeadTasks() ([]Task, error) {
	return s.queryTasks(`SELECT ` + taskColumns + ` FROM tasks WHERE dead = 1 ORDER BY id ASC`)
}

// MarkTaskProcessing flips the in-flight marker before dispatch.
func (s queries) MarkTaskProcessing(id int64, processing bool) error {
	_, err := s.q.Exec(`UPDATE tasks SET being_processed = ? WHERE id = ?`, processing, id)
	return err
}

// TaskFailed records a transient failure: the task returns to the pending
// set with its attempt count bumped.
func (s queries) TaskFailed(id int64, errMsg string) error {
	_, err := s.q.Exec(`UPDATE tasks SET being_processed = 0, attempts = attempts + 1, last_error = ? WHERE id = ?`, errMsg, id)
	return err
}

// DeadletterTask retires a task permanently, keeping the row with its
// error annotation.
func (s queries) DeadletterTask(id int64, errMsg string) error {
	_, err := s.q.Exec(`UPDATE tasks SET dead = 1, being_processed = 0, last_error = ? WHERE id = ?`, errMsg, id)
	return err
}

// DeleteTask removes an acknowledged task.
func (s queries) DeleteTask(id int64) error {
	_, err := s.q.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// ResetProcessingTasks clears in-flight markers left by an interrupted
// process so those tasks are re-attempted. Returns how many were reset.
func (s queries) ResetProcessingTasks() (int64, error) {
	res, err := s.q.Exec(`UPDATE tasks SET being_processed = 0 WHERE being_processed = 1 AND dead = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAllTasks removes every task row (logout).
func (s queries) DeleteAllTasks() error {
	_, err := s.q.Exec(`DELETE FROM tasks`)
	return err
}
