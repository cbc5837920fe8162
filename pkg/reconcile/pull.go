package reconcile

import (
	"context"

	"github.com/google/uuid"

	"neuroflow/pkg/task"
)

// Pull refreshes the local set from the remote store. Server wins for every
// task without an outstanding local mutation; tasks with pending state are
// left untouched so optimistic work is never clobbered by a refresh.
func (e *Engine) Pull(ctx context.Context) error {
	remoteTasks, err := e.client.ListTasks(ctx, e.accountID)
	if err != nil {
		return err
	}

	byRemoteID := make(map[string]*task.Task, len(remoteTasks))
	for i := range remoteTasks {
		rt := &remoteTasks[i]
		id := rt.RemoteID
		if id == "" {
			id = rt.ID
		}
		byRemoteID[id] = rt
	}

	var changed []task.Task

	e.mu.Lock()
	// Fold server rows into known locals.
	matched := make(map[string]bool, len(byRemoteID))
	for id, t := range e.tasks {
		if t.RemoteID == "" {
			continue // purely local, pending create
		}
		matched[t.RemoteID] = true
		rt, ok := byRemoteID[t.RemoteID]
		if !ok {
			// Deleted elsewhere. A pending local mutation keeps the task (it
			// will conflict or re-create on submit); a clean one follows the
			// server.
			if !t.Pending() {
				snapshot := *t
				delete(e.tasks, id)
				delete(e.seq, id)
				e.dropQueueLocked(id)
				changed = append(changed, snapshot)
			}
			continue
		}
		if t.Pending() || t.SyncState == task.StateConflict {
			continue
		}
		t.Title = rt.Title
		t.ComplexityLevel = rt.ComplexityLevel
		t.EstimatedMinutes = rt.EstimatedMinutes
		t.IsCompleted = rt.IsCompleted
		if len(rt.AIBreakdown) > 0 {
			t.AIBreakdown = rt.AIBreakdown
		}
		if !rt.CreatedAt.IsZero() {
			t.CreatedAt = rt.CreatedAt
		}
		if !rt.UpdatedAt.IsZero() {
			t.UpdatedAt = rt.UpdatedAt
		}
		t.Version = rt.Version
		t.SyncState = task.StateSynced
	}

	// Adopt server rows this device has never seen.
	for remoteID, rt := range byRemoteID {
		if matched[remoteID] {
			continue
		}
		nt := rt.Clone()
		nt.ID = uuid.Must(uuid.NewV7()).String()
		nt.RemoteID = remoteID
		nt.SyncState = task.StateSynced
		e.tasks[nt.ID] = nt
		e.seq[nt.ID] = 1
	}
	e.persistLocked(ctx)
	e.mu.Unlock()

	for i := range changed {
		e.taskEvents.Publish(TaskEvent{Kind: EventDeleted, Task: changed[i]})
	}
	return nil
}
