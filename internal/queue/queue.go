// Package queue is the durable outgoing-work pipeline. Every user intent
// that needs the server (sending, deleting, delivery and seen
// indications) becomes a task row in sqlite before anything is
// dispatched, so intents survive a crash and drain in order on restart.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telavy/convo/internal/cache"
	"github.com/telavy/convo/internal/network"
	"github.com/telavy/convo/internal/signal"
	"github.com/telavy/convo/internal/store"
)

var (
	// ErrEmptyBody rejects a send with nothing in it.
	ErrEmptyBody = errors.New("queue: empty message body")
	// ErrCannotProcessRequest means the local user has no membership
	// record in the conversation, so there is no member id to send as.
	ErrCannotProcessRequest = errors.New("queue: no membership in conversation")
	// ErrEventNotFound means the referenced event has no local row.
	ErrEventNotFound = errors.New("queue: event not found")
	// ErrNotAuthor rejects deleting another member's event.
	ErrNotAuthor = errors.New("queue: not the author of the event")
	// ErrFailedToProcessEvent means the task references an event the
	// server never acknowledged, so there is no id to act on.
	ErrFailedToProcessEvent = errors.New("queue: referenced event was never acknowledged")
)

const (
	pollInterval = 500 * time.Millisecond
	maxBackoff   = 30 * time.Second
)

// Result describes the outcome of one task dispatch.
type Result struct {
	TaskID       int64
	Type         store.TaskType
	EventLocalID string
	Err          error
}

// Queue persists outgoing intents and drains them one at a time, oldest
// first. At most one dispatch is in flight, so acknowledgements arrive in
// submission order.
type Queue struct {
	db    *store.DB
	cache *cache.Manager
	net   network.Collaborator
	log   *zap.Logger

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	completions  map[int64]func(error)
	backoffUntil time.Time

	// TaskAcknowledged fires after a task's server round trip succeeds
	// and the local rows reflect it. TaskFailed fires on every failed
	// attempt, including ones that will be retried.
	TaskAcknowledged *signal.Signal[Result]
	TaskFailed       *signal.Signal[Result]
}

// New creates the queue and binds it to the cache manager so facade
// mutations route through it.
func New(db *store.DB, mgr *cache.Manager, net network.Collaborator, log *zap.Logger) *Queue {
	q := &Queue{
		db:               db,
		cache:            mgr,
		net:              net,
		log:              log,
		kick:             make(chan struct{}, 1),
		completions:      make(map[int64]func(error)),
		TaskAcknowledged: signal.New[Result](),
		TaskFailed:       signal.New[Result](),
	}
	mgr.BindQueue(q)
	return q
}

// EnqueueSend persists a draft event plus its send task and returns the
// task id. The draft is visible in the conversation's log immediately;
// done, if non-nil, runs exactly once when the task finally succeeds or
// deadletters.
func (q *Queue) EnqueueSend(conversationUUID string, typ store.EventType, body string, done func(error)) (int64, error) {
	if body == "" {
		return 0, ErrEmptyBody
	}
	conv, err := q.cache.Conversations.Get(conversationUUID)
	if err != nil {
		return 0, fmt.Errorf("enqueue send: %w", err)
	}
	own, err := conv.OwnMember()
	if err != nil {
		return 0, ErrCannotProcessRequest
	}

	now := time.Now().UnixMilli()
	localID := uuid.NewString()
	ev := &store.Event{
		LocalID:          localID,
		ConversationUUID: conversationUUID,
		FromMemberID:     own.ID(),
		Type:             typ,
		Body:             body,
		IsDraft:          true,
		CreatedAt:        now,
	}
	// The draft and its task land atomically: a draft with no task
	// would never be sent, a task with no draft has nothing to send.
	tx, err := q.db.BeginTx()
	if err != nil {
		return 0, fmt.Errorf("enqueue send: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := tx.InsertEvent(ev); err != nil {
		return 0, fmt.Errorf("enqueue send: insert draft: %w", err)
	}
	taskID, err := tx.InsertTask(&store.Task{
		Type:           store.TaskSend,
		RelatedEventID: localID,
		CreatedAt:      now,
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue send: insert task: %w", err)
	}
	_ = tx.TouchConversation(conversationUUID)
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("enqueue send: %w", err)
	}

	q.registerCompletion(taskID, done)

	conv.Events().Append(localID)
	if facade, err := q.cache.Events.Get(localID); err == nil {
		conv.NewEvent.Emit(facade)
	}

	q.log.Debug("send enqueued",
		zap.Int64("task_id", taskID),
		zap.String("conversation", conversationUUID),
		zap.String("local_id", localID))
	q.notify()
	return taskID, nil
}

// EnqueueDelete marks one of the local user's events deleted and persists
// a delete task. The event leaves the visible log immediately.
func (q *Queue) EnqueueDelete(conversationUUID, eventLocalID string, done func(error)) (int64, error) {
	rec, err := q.db.GetEvent(eventLocalID)
	if err != nil {
		return 0, fmt.Errorf("enqueue delete: %w", err)
	}
	if rec == nil || rec.ConversationUUID != conversationUUID {
		return 0, ErrEventNotFound
	}
	conv, err := q.cache.Conversations.Get(conversationUUID)
	if err != nil {
		return 0, fmt.Errorf("enqueue delete: %w", err)
	}
	own, err := conv.OwnMember()
	if err != nil {
		return 0, ErrCannotProcessRequest
	}
	if rec.FromMemberID != own.ID() {
		return 0, ErrNotAuthor
	}

	// Hiding the event and recording the task are one atomic write, so
	// an event can not end up locally hidden with no task to tell the
	// server.
	tx, err := q.db.BeginTx()
	if err != nil {
		return 0, fmt.Errorf("enqueue delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := tx.MarkEventDeleted(eventLocalID); err != nil {
		return 0, fmt.Errorf("enqueue delete: %w", err)
	}
	taskID, err := tx.InsertTask(&store.Task{
		Type:           store.TaskDelete,
		RelatedEventID: eventLocalID,
		CreatedAt:      time.Now().UnixMilli(),
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue delete: insert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("enqueue delete: %w", err)
	}

	q.registerCompletion(taskID, done)
	_ = q.cache.RefreshEvent(eventLocalID)
	_ = conv.Events().Refetch()
	q.notify()
	return taskID, nil
}

// EnqueueIndication persists a delivery or seen indication task for an
// event.
func (q *Queue) EnqueueIndication(typ store.TaskType, eventLocalID string, done func(error)) (int64, error) {
	if typ != store.TaskIndicateDelivered && typ != store.TaskIndicateSeen {
		return 0, fmt.Errorf("queue: %q is not an indication task", typ)
	}
	rec, err := q.db.GetEvent(eventLocalID)
	if err != nil {
		return 0, fmt.Errorf("enqueue indication: %w", err)
	}
	if rec == nil {
		return 0, ErrEventNotFound
	}

	taskID, err := q.db.InsertTask(&store.Task{
		Type:           typ,
		RelatedEventID: eventLocalID,
		CreatedAt:      time.Now().UnixMilli(),
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue indication: insert task: %w", err)
	}

	q.registerCompletion(taskID, done)
	q.notify()
	return taskID, nil
}

// Start recovers interrupted tasks and begins draining. Tasks still
// marked in flight from a previous run were interrupted mid-dispatch and
// go back to pending.
func (q *Queue) Start(ctx context.Context) error {
	n, err := q.db.ResetProcessingTasks()
	if err != nil {
		return fmt.Errorf("queue recovery: %w", err)
	}
	if n > 0 {
		q.log.Info("recovered interrupted tasks", zap.Int64("count", n))
	}

	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	go q.loop(ctx)
	return nil
}

// Stop halts the drain loop and waits for any in-flight dispatch to wind
// down.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
}

// notify wakes the drain loop without waiting for the next tick.
func (q *Queue) notify() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.drain(ctx)
		case <-q.kick:
			q.drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// drain dispatches pending tasks oldest first, one at a time. A transient
// failure stops the pass so ordering is preserved across retries.
func (q *Queue) drain(ctx context.Context) {
	q.mu.Lock()
	inBackoff := time.Now().Before(q.backoffUntil)
	q.mu.Unlock()
	if inBackoff {
		return
	}

	pending, err := q.db.PendingTasks()
	if err != nil {
		q.log.Error("failed to read pending tasks", zap.Error(err))
		return
	}

	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		if !q.process(ctx, &pending[i]) {
			return
		}
	}
}

// process dispatches one task. It returns false when the pass should
// stop: a transient failure, or context cancellation.
func (q *Queue) process(ctx context.Context, t *store.Task) bool {
	if err := q.db.MarkTaskProcessing(t.ID, true); err != nil {
		q.log.Error("failed to mark task processing", zap.Error(err), zap.Int64("task_id", t.ID))
		return false
	}

	var err error
	switch t.Type {
	case store.TaskSend:
		err = q.dispatchSend(ctx, t)
	case store.TaskDelete:
		err = q.dispatchReference(ctx, t, "delete")
	case store.TaskIndicateDelivered:
		err = q.dispatchReference(ctx, t, "delivered")
	case store.TaskIndicateSeen:
		err = q.dispatchReference(ctx, t, "seen")
	default:
		err = fmt.Errorf("queue: unknown task type %q", t.Type)
	}
	if err == nil {
		return true
	}

	// Validation failures never reach the wire and can not be retried.
	if errors.Is(err, ErrEventNotFound) || errors.Is(err, ErrFailedToProcessEvent) {
		q.deadletter(t, err)
		return true
	}

	switch network.Classify(err) {
	case network.ClassCanceled:
		// Shutdown mid-dispatch. Put the task back; the next run's
		// recovery pass would do the same, this just avoids the log
		// noise.
		_ = q.db.MarkTaskProcessing(t.ID, false)
		return false
	case network.ClassPermanent:
		q.deadletter(t, err)
		return true
	default:
		if dberr := q.db.TaskFailed(t.ID, err.Error()); dberr != nil {
			q.log.Error("failed to record task failure", zap.Error(dberr), zap.Int64("task_id", t.ID))
		}
		// Cap the shift count too: a long outage pushes attempts past
		// the point where the shift would overflow and wrap negative.
		backoff := maxBackoff
		if t.Attempts < 6 {
			backoff = pollInterval << uint(t.Attempts)
		}
		q.mu.Lock()
		q.backoffUntil = time.Now().Add(backoff)
		q.mu.Unlock()

		q.log.Warn("task failed, will retry",
			zap.Int64("task_id", t.ID),
			zap.Int("attempts", t.Attempts+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		q.TaskFailed.Emit(Result{TaskID: t.ID, Type: t.Type, EventLocalID: t.RelatedEventID, Err: err})
		return false
	}
}

func (q *Queue) dispatchSend(ctx context.Context, t *store.Task) error {
	rec, err := q.db.GetEvent(t.RelatedEventID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrEventNotFound
	}

	res, err := q.net.SendEvent(ctx, rec.ConversationUUID, network.OutboundEvent{
		Type:         string(rec.Type),
		Body:         rec.Body,
		FromMemberID: rec.FromMemberID,
	})
	if err != nil {
		return err
	}

	// Confirmation and task retirement commit together; a crash in
	// between would otherwise resend an already-acknowledged event.
	tx, err := q.db.BeginTx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := tx.ConfirmEvent(rec.LocalID, res.EventID); err != nil {
		return err
	}
	if err := tx.DeleteTask(t.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	_ = q.cache.RefreshEvent(rec.LocalID)

	q.log.Info("event sent",
		zap.String("local_id", rec.LocalID),
		zap.Int64("event_id", res.EventID))

	if conv, ok := q.cache.Conversations.Peek(rec.ConversationUUID); ok {
		_ = conv.Events().Refetch()
		if facade, err := q.cache.Events.Get(rec.LocalID); err == nil {
			conv.MessageSent.Emit(facade)
		}
	}
	q.TaskAcknowledged.Emit(Result{TaskID: t.ID, Type: t.Type, EventLocalID: rec.LocalID})
	q.complete(t.ID, nil)
	return nil
}

// dispatchReference handles deletes and indications, which all point at a
// server-acknowledged event rather than carrying a body.
func (q *Queue) dispatchReference(ctx context.Context, t *store.Task, wireType string) error {
	rec, err := q.db.GetEvent(t.RelatedEventID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrEventNotFound
	}
	if rec.ID == 0 {
		// Still a draft: the server has no id for it, so there is
		// nothing to reference.
		return ErrFailedToProcessEvent
	}

	own := rec.FromMemberID
	if conv, cerr := q.cache.Conversations.Get(rec.ConversationUUID); cerr == nil {
		if m, merr := conv.OwnMember(); merr == nil {
			own = m.ID()
		}
	}

	if _, err := q.net.SendEvent(ctx, rec.ConversationUUID, network.OutboundEvent{
		Type:          wireType,
		TargetEventID: rec.ID,
		FromMemberID:  own,
	}); err != nil {
		return err
	}

	if err := q.db.DeleteTask(t.ID); err != nil {
		return err
	}
	q.TaskAcknowledged.Emit(Result{TaskID: t.ID, Type: t.Type, EventLocalID: rec.LocalID})
	q.complete(t.ID, nil)
	return nil
}

func (q *Queue) deadletter(t *store.Task, cause error) {
	if err := q.db.DeadletterTask(t.ID, cause.Error()); err != nil {
		q.log.Error("failed to deadletter task", zap.Error(err), zap.Int64("task_id", t.ID))
	}
	q.log.Warn("task deadlettered",
		zap.Int64("task_id", t.ID),
		zap.String("type", string(t.Type)),
		zap.Error(cause))
	q.TaskFailed.Emit(Result{TaskID: t.ID, Type: t.Type, EventLocalID: t.RelatedEventID, Err: cause})
	q.complete(t.ID, cause)
}

func (q *Queue) registerCompletion(taskID int64, done func(error)) {
	if done == nil {
		return
	}
	q.mu.Lock()
	q.completions[taskID] = done
	q.mu.Unlock()
}

// complete runs the caller's completion exactly once. Completions live in
// memory only: after a restart a recovered task has nobody waiting on it,
// which is fine, the durable effects still happen.
func (q *Queue) complete(taskID int64, err error) {
	q.mu.Lock()
	done := q.completions[taskID]
	delete(q.completions, taskID)
	q.mu.Unlock()
	if done != nil {
		done(err)
	}
}
