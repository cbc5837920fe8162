// Package engine is the coordinator the UI shell talks to. It derives the
// current adaptation from the day's brain state, routes task mutations
// through the reconciliation engine, gates AI breakdowns through the quota
// ledger and triggers sync on the app lifecycle events — foreground,
// explicit refresh and connectivity regain. It never syncs on a timer: a
// backgrounded app does no work.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"neuroflow/pkg/ai"
	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/events"
	"neuroflow/pkg/quota"
	"neuroflow/pkg/reconcile"
	"neuroflow/pkg/task"
)

// Config wires an Engine.
type Config struct {
	AccountID  string
	Reconciler *reconcile.Engine
	Quota      *quota.Ledger
	Generator  ai.Generator
	Log        *logrus.Entry
}

// Engine is the in-process facade exposed to the presentation layer.
type Engine struct {
	accountID   string
	reconciler  *reconcile.Engine
	quota       *quota.Ledger
	generator   ai.Generator
	log         *logrus.Entry
	now         func() time.Time
	quotaEvents *events.Bus[quota.Decision]
}

// New creates the coordinator.
func New(cfg Config) *Engine {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		accountID:   cfg.AccountID,
		reconciler:  cfg.Reconciler,
		quota:       cfg.Quota,
		generator:   cfg.Generator,
		log:         cfg.Log.WithField("component", "engine"),
		now:         time.Now,
		quotaEvents: events.NewBus[quota.Decision](),
	}
}

// TaskEvents surfaces task lifecycle changes for UI subscriptions.
func (e *Engine) TaskEvents() *events.Bus[reconcile.TaskEvent] { return e.reconciler.TaskEvents() }

// StateEvents surfaces brain-state check-in progress.
func (e *Engine) StateEvents() *events.Bus[reconcile.StateEvent] {
	return e.reconciler.StateEvents()
}

// QuotaEvents surfaces every quota decision, allowed or denied, so the UI
// can keep its allowance counter current without polling.
func (e *Engine) QuotaEvents() *events.Bus[quota.Decision] { return e.quotaEvents }

// --- Brain state ---

// SubmitBrainState records a check-in. The new adaptation takes effect
// immediately; remote sync happens in the background.
func (e *Engine) SubmitBrainState(ctx context.Context, in brainstate.Input) (*brainstate.Sample, error) {
	return e.reconciler.SubmitSample(ctx, in)
}

// Adaptation returns the current UI/behavior descriptor. No check-in today
// (or a stale one from a previous day) yields the neutral default.
func (e *Engine) Adaptation(ctx context.Context) brainstate.Descriptor {
	return brainstate.Adapt(e.reconciler.TodaySample(ctx))
}

// --- Tasks ---

// CreateTask adds a task optimistically; it is listed before the remote
// confirms.
func (e *Engine) CreateTask(ctx context.Context, in task.Input) (*task.Task, error) {
	return e.reconciler.CreateTask(ctx, in)
}

// CompleteTask marks a task done. Completed tasks are kept, not deleted.
func (e *Engine) CompleteTask(ctx context.Context, id string) (*task.Task, error) {
	return e.reconciler.CompleteTask(ctx, id)
}

// DeleteTask removes a task.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	return e.reconciler.DeleteTask(ctx, id)
}

// FilteredTasks lists active tasks within the current adaptation's
// complexity ceiling, newest first.
func (e *Engine) FilteredTasks(ctx context.Context) []task.Task {
	return e.reconciler.FilteredTasks(e.Adaptation(ctx))
}

// Tasks lists everything, unfiltered, for settings/debug surfaces.
func (e *Engine) Tasks() []task.Task {
	return e.reconciler.Tasks()
}

// --- AI breakdowns ---

// breakdown is the stored shape of a generated breakdown.
type breakdown struct {
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generated_at"`
}

// RequestBreakdown asks the AI collaborator to break the task down, gated by
// the monthly quota. A denial is a decision for the UI to render gently, not
// an error. On success the breakdown is attached to the task and queued for
// sync like any other mutation.
func (e *Engine) RequestBreakdown(ctx context.Context, taskID string) (quota.Decision, error) {
	t, err := e.reconciler.Task(taskID)
	if err != nil {
		return quota.Decision{}, err
	}

	d := e.quota.CheckAndReserve(ctx, e.accountID)
	e.quotaEvents.Publish(d)
	if !d.Allowed {
		e.log.WithField("task", taskID).WithField("used", d.Used).Info("breakdown denied by quota")
		return d, nil
	}

	text, err := e.generator.GenerateBreakdown(ctx, t.Title)
	if err != nil {
		// The reservation stays spent; a failed generation still hit the
		// provider. The caller may retry against the remaining allowance.
		return d, fmt.Errorf("generate breakdown: %w", err)
	}
	if err := e.quota.RecordUsage(ctx, e.accountID, d.RequestID); err != nil {
		e.log.WithError(err).Warn("record breakdown usage")
	}

	raw, err := json.Marshal(breakdown{Text: text, GeneratedAt: e.now()})
	if err != nil {
		return d, fmt.Errorf("encode breakdown: %w", err)
	}
	if _, err := e.reconciler.AttachBreakdown(ctx, taskID, raw); err != nil {
		return d, err
	}
	return d, nil
}

// Quota returns the current allowance counters for display.
func (e *Engine) Quota(ctx context.Context) quota.Decision {
	return e.quota.Snapshot(ctx, e.accountID)
}

// --- Lifecycle triggers ---

// OnForeground runs when the app returns to the foreground: parked pending
// mutations are re-queued and the task list refreshes from the remote.
func (e *Engine) OnForeground(ctx context.Context) {
	e.reconciler.ResumePending()
	if err := e.reconciler.Pull(ctx); err != nil {
		e.log.WithError(err).Debug("foreground pull failed")
	}
}

// Refresh is the explicit pull-to-refresh path. Unlike the lifecycle
// triggers it reports the error so the UI can show it.
func (e *Engine) Refresh(ctx context.Context) error {
	e.reconciler.ResumePending()
	return e.reconciler.Pull(ctx)
}

// OnConnectivityChange records reachability. Regaining the network resumes
// parked work and refreshes; going offline only flips the flag.
func (e *Engine) OnConnectivityChange(ctx context.Context, online bool) {
	e.reconciler.SetOnline(online)
	if online {
		if err := e.reconciler.Pull(ctx); err != nil {
			e.log.WithError(err).Debug("reconnect pull failed")
		}
	}
}
