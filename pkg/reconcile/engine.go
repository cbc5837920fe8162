// Package reconcile merges optimistic local task mutations with remote CRUD
// results. Every user-authored mutation is applied locally first and queued
// for the remote store; transient failures retry with exponential backoff,
// permanent rejections flag the task for the user, and nothing is ever
// silently discarded.
//
// All cache writes for tasks and brain-state samples go through this engine
// (the quota ledger owns its own key), so no two components race on the
// shared store.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/cache"
	"neuroflow/pkg/events"
	"neuroflow/pkg/remote"
	"neuroflow/pkg/task"
)

// Retry policy for transient remote failures.
const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
	maxAttempts = 5
)

// ErrNotFound is returned for operations on unknown task ids.
var ErrNotFound = errors.New("reconcile: task not found")

// Config wires an Engine.
type Config struct {
	AccountID string
	Store     cache.Store
	Client    remote.Client
	Log       *logrus.Entry

	// Location is the device timezone used for day-scoping the brain-state
	// sample. Defaults to time.Local.
	Location *time.Location
}

// Engine owns the local task set, its persistence and its convergence with
// the remote store. Mutations to the same task are serialized in submission
// order; different tasks reconcile concurrently.
type Engine struct {
	accountID string
	store     cache.Store
	client    remote.Client
	log       *logrus.Entry
	loc       *time.Location

	taskEvents  *events.Bus[TaskEvent]
	stateEvents *events.Bus[StateEvent]

	// now and sleep are test seams.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   map[string]*task.Task // keyed by local id
	seq     map[string]uint64     // latest local mutation per task
	queues  map[string]*queue
	online  bool
	workers sync.WaitGroup

	// pendingSamples holds check-ins the remote store has not confirmed;
	// samplePushing marks the ones with a push in flight.
	pendingSamples map[string]*brainstate.Sample
	samplePushing  map[string]bool
}

// New creates an Engine and loads any persisted tasks from the cache, so
// offline-created work survives restart.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	ectx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		accountID:   cfg.AccountID,
		store:       cfg.Store,
		client:      cfg.Client,
		log:         cfg.Log.WithField("component", "reconcile"),
		loc:         cfg.Location,
		taskEvents:  events.NewBus[TaskEvent](),
		stateEvents: events.NewBus[StateEvent](),
		now:         time.Now,
		sleep:       sleepCtx,
		ctx:         ectx,
		cancel:      cancel,
		tasks:       make(map[string]*task.Task),
		seq:         make(map[string]uint64),
		queues:      make(map[string]*queue),
		online:      true,

		pendingSamples: make(map[string]*brainstate.Sample),
		samplePushing:  make(map[string]bool),
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	e.loadSamples(ctx)
	return e, nil
}

// Close stops in-flight reconciliation. Pending tasks stay persisted and
// resume on the next start.
func (e *Engine) Close() {
	e.cancel()
	e.workers.Wait()
}

// TaskEvents is the bus UI layers subscribe to for task changes.
func (e *Engine) TaskEvents() *events.Bus[TaskEvent] { return e.taskEvents }

// StateEvents is the bus for brain-state changes.
func (e *Engine) StateEvents() *events.Bus[StateEvent] { return e.stateEvents }

// --- Task operations ---

// CreateTask validates the input, writes the task locally with a pending
// sync state and queues the remote create. It returns before any network
// I/O: the task is visible in listings immediately.
func (e *Engine) CreateTask(ctx context.Context, in task.Input) (*task.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	t := &task.Task{
		ID:               uuid.Must(uuid.NewV7()).String(),
		Title:            in.Title,
		ComplexityLevel:  in.ComplexityLevel,
		EstimatedMinutes: in.EstimatedMinutes,
		CreatedAt:        now,
		UpdatedAt:        now,
		SyncState:        task.StatePendingCreate,
	}

	e.mu.Lock()
	e.tasks[t.ID] = t
	e.seq[t.ID]++
	seq := e.seq[t.ID]
	e.persistLocked(ctx)
	e.mu.Unlock()

	e.taskEvents.Publish(TaskEvent{Kind: EventCreated, Task: *t.Clone()})
	e.enqueue(mutation{op: opCreate, taskID: t.ID, seq: seq})
	return t.Clone(), nil
}

// CompleteTask flips the completion flag locally and queues the remote
// update. Completion never deletes: the task stays, filtered out of active
// listings.
func (e *Engine) CompleteTask(ctx context.Context, id string) (*task.Task, error) {
	return e.mutate(ctx, id, func(t *task.Task) {
		t.IsCompleted = true
	})
}

// AttachBreakdown stores an AI-generated breakdown on the task and queues
// the remote update.
func (e *Engine) AttachBreakdown(ctx context.Context, id string, breakdown json.RawMessage) (*task.Task, error) {
	return e.mutate(ctx, id, func(t *task.Task) {
		t.AIBreakdown = breakdown
	})
}

// mutate applies fn locally, bumps the task's mutation sequence and queues
// the remote update. A newer mutation supersedes any older in-flight one:
// last writer wins locally while both still reconcile in submission order.
func (e *Engine) mutate(ctx context.Context, id string, fn func(*task.Task)) (*task.Task, error) {
	e.mu.Lock()
	t, ok := e.tasks[id]
	if !ok || t.SyncState == task.StatePendingDelete {
		e.mu.Unlock()
		return nil, ErrNotFound
	}

	fn(t)
	t.UpdatedAt = e.now()
	t.ConflictReason = ""
	if t.RemoteID == "" {
		// The remote has never seen this task, so whatever the field change
		// was, the outstanding operation is still the create.
		t.SyncState = task.StatePendingCreate
	} else {
		t.SyncState = task.StatePendingUpdate
	}
	e.seq[id]++
	seq := e.seq[id]
	op := opUpdate
	if t.SyncState == task.StatePendingCreate {
		op = opCreate
	}
	queued := e.hasQueuedLocked(id)
	e.persistLocked(ctx)
	snapshot := *t.Clone()
	e.mu.Unlock()

	e.taskEvents.Publish(TaskEvent{Kind: EventUpdated, Task: snapshot})
	// If a mutation for this task is already queued or in flight, the newer
	// state rides along: the queued submit reads current fields at send
	// time, and stale results cannot overwrite newer local state (seq fence
	// in reconcile).
	if !queued {
		e.enqueue(mutation{op: op, taskID: id, seq: seq})
	}
	return &snapshot, nil
}

// DeleteTask removes the task. A task the remote has never seen is removed
// outright; a synced task is marked pending-delete and the remote delete is
// queued.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}

	if t.RemoteID == "" {
		// Never synced; dropping it is the user's explicit intent.
		delete(e.tasks, id)
		delete(e.seq, id)
		e.dropQueueLocked(id)
		e.persistLocked(ctx)
		snapshot := *t
		e.mu.Unlock()
		e.taskEvents.Publish(TaskEvent{Kind: EventDeleted, Task: snapshot})
		return nil
	}

	t.SyncState = task.StatePendingDelete
	t.UpdatedAt = e.now()
	e.seq[id]++
	seq := e.seq[id]
	queued := e.hasQueuedLocked(id)
	e.persistLocked(ctx)
	snapshot := *t.Clone()
	e.mu.Unlock()

	e.taskEvents.Publish(TaskEvent{Kind: EventUpdated, Task: snapshot})
	if !queued {
		e.enqueue(mutation{op: opDelete, taskID: id, seq: seq})
	}
	return nil
}

// Task returns a copy of one task by local id.
func (e *Engine) Task(id string) (*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// Tasks returns a copy of every local task, newest first.
func (e *Engine) Tasks() []task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]task.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, *t.Clone())
	}
	sortTasks(out)
	return out
}

// FilteredTasks returns the active tasks within the descriptor's complexity
// ceiling, newest first. A pure read: sync state is never touched.
func (e *Engine) FilteredTasks(d brainstate.Descriptor) []task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []task.Task
	for _, t := range e.tasks {
		if t.IsCompleted || t.ComplexityLevel > d.MaxTaskComplexity || t.SyncState == task.StatePendingDelete {
			continue
		}
		out = append(out, *t.Clone())
	}
	sortTasks(out)
	return out
}

// sortTasks orders newest first, with a stable id tie-break on identical
// timestamps.
func sortTasks(ts []task.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.After(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

// --- Connectivity ---

// SetOnline records the reachability state. Regaining connectivity resumes
// every parked pending task.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()
	if online && !was {
		e.ResumePending()
	}
}

// ResumePending re-queues a remote operation for every task whose sync state
// is still pending and has nothing queued, and re-pushes every unconfirmed
// brain-state sample. Called on foreground, refresh and connectivity regain.
func (e *Engine) ResumePending() {
	e.resumePendingSamples()

	e.mu.Lock()
	var muts []mutation
	for id, t := range e.tasks {
		if !t.Pending() || e.hasQueuedLocked(id) {
			continue
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
		muts = append(muts, mutation{op: op, taskID: id, seq: e.seq[id]})
	}
	e.mu.Unlock()

	for _, m := range muts {
		e.enqueue(m)
	}
}

// --- Persistence ---

type persisted struct {
	Tasks []task.Task `json:"tasks"`
}

// persistLocked snapshots the task set into the cache. Callers hold e.mu.
// Cache failures are absorbed: the session keeps working from memory.
func (e *Engine) persistLocked(ctx context.Context) {
	p := persisted{Tasks: make([]task.Task, 0, len(e.tasks))}
	for _, t := range e.tasks {
		p.Tasks = append(p.Tasks, *t)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		e.log.WithError(err).Warn("encode task snapshot")
		return
	}
	if err := e.store.Put(ctx, cache.TasksKey(e.accountID), raw, 0); err != nil {
		e.log.WithError(err).Warn("persist task snapshot")
	}
}

// load restores the persisted task set.
func (e *Engine) load(ctx context.Context) error {
	raw, err := e.store.Get(ctx, cache.TasksKey(e.accountID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		// Non-fatal by contract: start from an empty in-memory set.
		e.log.WithError(err).Warn("load task snapshot")
		return nil
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		e.log.WithError(err).Warn("corrupt task snapshot, starting empty")
		return nil
	}
	for i := range p.Tasks {
		t := p.Tasks[i]
		e.tasks[t.ID] = &t
		e.seq[t.ID] = 1
	}
	return nil
}

// WaitIdle blocks until every queued mutation has been processed. Test and
// shutdown helper.
func (e *Engine) WaitIdle() {
	e.workers.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
