package reconcile

import (
	"time"

	"neuroflow/pkg/remote"
	"neuroflow/pkg/task"
)

type opKind string

const (
	opCreate opKind = "create"
	opUpdate opKind = "update"
	opDelete opKind = "delete"
)

// mutation is one queued remote operation. Fields are read fresh from the
// task at send time; seq fences stale results from overwriting newer local
// state.
type mutation struct {
	op     opKind
	taskID string
	seq    uint64
}

// queue serializes mutations for one task id. Different tasks run their
// queues concurrently; the same task never has two operations in flight.
type queue struct {
	items   []mutation
	running bool
}

func (e *Engine) enqueue(m mutation) {
	e.mu.Lock()
	q, ok := e.queues[m.taskID]
	if !ok {
		q = &queue{}
		e.queues[m.taskID] = q
	}
	q.items = append(q.items, m)
	if !q.running {
		q.running = true
		e.workers.Add(1)
		go e.worker(m.taskID)
	}
	e.mu.Unlock()
}

func (e *Engine) worker(taskID string) {
	defer e.workers.Done()
	var lastSeq uint64
	for {
		e.mu.Lock()
		q := e.queues[taskID]
		if q == nil {
			e.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			// A mutation that landed between the final submit returning and
			// this lock skipped enqueue because the queue still looked busy;
			// exiting now would strand it until the next resume trigger.
			m, ok := e.missedMutationLocked(taskID, lastSeq)
			if !ok {
				q.running = false
				e.mu.Unlock()
				return
			}
			q.items = append(q.items, m)
		}
		m := q.items[0]
		q.items = q.items[1:]
		e.mu.Unlock()

		if m.seq > lastSeq {
			lastSeq = m.seq
		}
		e.submit(m)
	}
}

// missedMutationLocked reconstructs a mutation for a task that is still
// pending with a sequence the worker has not handled. Parked tasks (same
// sequence) stay parked for the resume triggers. Callers hold e.mu.
func (e *Engine) missedMutationLocked(taskID string, lastSeq uint64) (mutation, bool) {
	t, ok := e.tasks[taskID]
	if !ok || !t.Pending() || e.seq[taskID] <= lastSeq {
		return mutation{}, false
	}
	var op opKind
	switch {
	case t.SyncState == task.StatePendingDelete:
		op = opDelete
	case t.RemoteID == "":
		op = opCreate
	default:
		op = opUpdate
	}
	return mutation{op: op, taskID: taskID, seq: e.seq[taskID]}, true
}

// hasQueuedLocked reports whether a mutation for the task is queued or in
// flight. Callers hold e.mu.
func (e *Engine) hasQueuedLocked(taskID string) bool {
	q, ok := e.queues[taskID]
	return ok && (q.running || len(q.items) > 0)
}

// dropQueueLocked discards queued mutations for the task. The task's sync
// state still records what is outstanding; ResumePending reconstructs the
// operation from it. Callers hold e.mu.
func (e *Engine) dropQueueLocked(taskID string) {
	if q, ok := e.queues[taskID]; ok {
		q.items = nil
	}
}

// submit pushes one mutation to the remote store, retrying transient
// failures with exponential backoff up to the attempt budget.
func (e *Engine) submit(m mutation) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.mu.Lock()
		t, ok := e.tasks[m.taskID]
		if !ok {
			// Deleted locally before the mutation went out; for anything but
			// a remote delete there is nothing left to do.
			e.mu.Unlock()
			return
		}
		online := e.online
		sentSeq := e.seq[m.taskID]
		snapshot := t.Clone()
		e.mu.Unlock()

		if !online {
			e.parkOffline(m, snapshot, "device offline")
			return
		}
		if m.op != opCreate && snapshot.RemoteID == "" {
			// The create itself is still unconfirmed; parking keeps
			// submission order intact for the eventual resume.
			e.parkOffline(m, snapshot, "create not yet confirmed")
			return
		}

		var (
			res *task.Task
			err error
		)
		switch m.op {
		case opCreate:
			res, err = e.client.CreateTask(e.ctx, e.accountID, snapshot)
		case opUpdate:
			res, err = e.client.UpdateTask(e.ctx, e.accountID, snapshot)
		case opDelete:
			err = e.client.DeleteTask(e.ctx, e.accountID, snapshot.RemoteID, snapshot.Version)
		}

		if err == nil {
			e.reconcileSuccess(m, sentSeq, res)
			return
		}
		if !remote.IsTransient(err) {
			e.reconcilePermanent(m, err)
			return
		}

		e.log.WithField("task", m.taskID).WithField("attempt", attempt).
			WithError(err).Debug("transient remote failure")
		if attempt < maxAttempts {
			if serr := e.sleep(e.ctx, backoff(attempt)); serr != nil {
				// Shutting down; pending state is persisted and resumes
				// next start.
				return
			}
		}
	}

	e.mu.Lock()
	t := e.tasks[m.taskID]
	var snapshot *task.Task
	if t != nil {
		snapshot = t.Clone()
	}
	e.mu.Unlock()
	if snapshot != nil {
		e.parkOffline(m, snapshot, "retry budget exhausted")
	}
}

// parkOffline surfaces the saved-offline state and drops the task's queue.
// The sync state still marks the operation outstanding; connectivity regain
// or foreground re-queues it.
func (e *Engine) parkOffline(m mutation, snapshot *task.Task, reason string) {
	e.mu.Lock()
	e.dropQueueLocked(m.taskID)
	e.mu.Unlock()
	e.log.WithField("task", m.taskID).WithField("reason", reason).Info("mutation parked offline")
	e.taskEvents.Publish(TaskEvent{Kind: EventSavedOffline, Task: *snapshot, Reason: reason})
}

// reconcileSuccess folds a confirmed remote result back into the local copy.
// Server wins on conflicting fields — unless a newer local mutation exists
// (seq fence), in which case only the remote identity is taken and the newer
// state is re-queued. Applying the same result twice is a no-op.
func (e *Engine) reconcileSuccess(m mutation, sentSeq uint64, res *task.Task) {
	if m.op == opDelete {
		e.mu.Lock()
		t, ok := e.tasks[m.taskID]
		if !ok {
			e.mu.Unlock()
			return
		}
		snapshot := *t
		delete(e.tasks, m.taskID)
		delete(e.seq, m.taskID)
		e.dropQueueLocked(m.taskID)
		e.persistLocked(e.ctx)
		e.mu.Unlock()
		e.taskEvents.Publish(TaskEvent{Kind: EventDeleted, Task: snapshot})
		return
	}

	e.mu.Lock()
	t, ok := e.tasks[m.taskID]
	if !ok {
		e.mu.Unlock()
		return
	}

	serverID := res.RemoteID
	if serverID == "" {
		serverID = res.ID
	}
	t.RemoteID = serverID
	t.Version = res.Version

	cur := e.seq[m.taskID]
	superseded := sentSeq != cur
	reop := opUpdate
	if superseded {
		if t.SyncState == task.StatePendingDelete {
			reop = opDelete
		} else if t.SyncState == task.StatePendingCreate {
			// The create is now confirmed; the newer local edit syncs as an
			// update against the fresh remote row.
			t.SyncState = task.StatePendingUpdate
		}
	} else {
		t.Title = res.Title
		t.ComplexityLevel = res.ComplexityLevel
		t.EstimatedMinutes = res.EstimatedMinutes
		t.IsCompleted = res.IsCompleted
		if len(res.AIBreakdown) > 0 {
			t.AIBreakdown = res.AIBreakdown
		}
		if !res.CreatedAt.IsZero() {
			t.CreatedAt = res.CreatedAt
		}
		if !res.UpdatedAt.IsZero() {
			t.UpdatedAt = res.UpdatedAt
		}
		t.SyncState = task.StateSynced
		t.ConflictReason = ""
	}
	e.persistLocked(e.ctx)
	snapshot := *t.Clone()
	e.mu.Unlock()

	if superseded {
		// The user edited again while this write was in flight. Local state
		// already reflects the newer edit; push it next.
		e.enqueue(mutation{op: reop, taskID: m.taskID, seq: cur})
		return
	}
	e.taskEvents.Publish(TaskEvent{Kind: EventSynced, Task: snapshot})
}

// reconcilePermanent flags the task for user attention. Local fields stay
// intact; nothing is dropped.
func (e *Engine) reconcilePermanent(m mutation, err error) {
	e.mu.Lock()
	t, ok := e.tasks[m.taskID]
	if !ok {
		e.mu.Unlock()
		return
	}
	t.SyncState = task.StateConflict
	t.ConflictReason = err.Error()
	e.dropQueueLocked(m.taskID)
	e.persistLocked(e.ctx)
	snapshot := *t.Clone()
	e.mu.Unlock()

	e.log.WithField("task", m.taskID).WithError(err).Warn("remote permanently rejected mutation")
	e.taskEvents.Publish(TaskEvent{Kind: EventConflict, Task: snapshot, Reason: snapshot.ConflictReason})
}

// backoff returns the delay before the given retry: 1s, 2s, 4s, ... capped
// at 30s.
func backoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}
