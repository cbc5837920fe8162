package reconcile

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/cache"
	"neuroflow/pkg/remote"
)

// SubmitSample captures a check-in: validated, written to the day-scoped
// cache key immediately, then pushed to the remote store in the background.
// Adaptations work off the local copy either way.
func (e *Engine) SubmitSample(ctx context.Context, in brainstate.Input) (*brainstate.Sample, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	s := &brainstate.Sample{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Energy:     in.Energy,
		Focus:      in.Focus,
		Mood:       in.Mood,
		Notes:      in.Notes,
		CapturedAt: now,
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	// A sample from a previous day must never serve as today's; the TTL
	// expires it at local midnight and reads double-check the day.
	if err := e.store.Put(ctx, cache.TodayKey(e.accountID), raw, cache.UntilEndOfDay(now, e.loc)); err != nil {
		e.log.WithError(err).Warn("persist brain-state sample")
	}

	// The pending copy outlives the day key: the sample belongs in the
	// remote history even if it only syncs days later.
	e.mu.Lock()
	e.pendingSamples[s.ID] = s
	e.persistSamplesLocked(ctx)
	e.mu.Unlock()

	e.stateEvents.Publish(StateEvent{Kind: EventStateSubmitted, Sample: s})
	e.startSamplePush(s)
	return s, nil
}

// TodaySample returns the current day's sample, or nil when there is no
// check-in yet. A cached sample from a previous calendar day counts as
// absent and is invalidated. Storage errors degrade to "no sample".
func (e *Engine) TodaySample(ctx context.Context) *brainstate.Sample {
	raw, err := e.store.Get(ctx, cache.TodayKey(e.accountID))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			e.log.WithError(err).Warn("read brain-state sample")
		}
		return nil
	}

	var s brainstate.Sample
	if err := json.Unmarshal(raw, &s); err != nil {
		e.log.WithError(err).Warn("corrupt brain-state sample, discarding")
		_ = e.store.Invalidate(ctx, cache.TodayKey(e.accountID))
		return nil
	}
	if !s.SameDay(e.now(), e.loc) {
		_ = e.store.Invalidate(ctx, cache.TodayKey(e.accountID))
		return nil
	}
	return &s
}

// startSamplePush spawns a push for the sample unless one is already in
// flight.
func (e *Engine) startSamplePush(s *brainstate.Sample) {
	e.mu.Lock()
	if e.samplePushing[s.ID] {
		e.mu.Unlock()
		return
	}
	e.samplePushing[s.ID] = true
	e.mu.Unlock()

	e.workers.Add(1)
	go e.pushSample(s)
}

// resumePendingSamples re-pushes every unconfirmed sample. Called alongside
// the task resume on foreground, refresh and connectivity regain.
func (e *Engine) resumePendingSamples() {
	e.mu.Lock()
	pending := make([]*brainstate.Sample, 0, len(e.pendingSamples))
	for _, s := range e.pendingSamples {
		pending = append(pending, s)
	}
	e.mu.Unlock()

	for _, s := range pending {
		e.startSamplePush(s)
	}
}

// pushSample syncs one sample to the remote store with the standard retry
// policy. Offline or exhausted retries leave the sample in the pending set;
// the next resume trigger pushes it again. The server treats sample ids as
// idempotent, so a duplicate push after an ambiguous failure is harmless.
func (e *Engine) pushSample(s *brainstate.Sample) {
	defer e.workers.Done()
	defer func() {
		e.mu.Lock()
		delete(e.samplePushing, s.ID)
		e.mu.Unlock()
	}()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.mu.Lock()
		online := e.online
		e.mu.Unlock()
		if !online {
			e.stateEvents.Publish(StateEvent{Kind: EventStateSavedOffline, Sample: s, Reason: "device offline"})
			return
		}

		res, err := e.client.CreateSample(e.ctx, e.accountID, s)
		if err == nil {
			e.mu.Lock()
			delete(e.pendingSamples, s.ID)
			e.persistSamplesLocked(e.ctx)
			e.mu.Unlock()
			e.stateEvents.Publish(StateEvent{Kind: EventStateSynced, Sample: res})
			return
		}
		if !remote.IsTransient(err) {
			// A permanent rejection will not succeed on replay either; drop
			// it from the pending set so resumes stop re-sending it. The
			// local copy keeps serving adaptations for the day.
			e.mu.Lock()
			delete(e.pendingSamples, s.ID)
			e.persistSamplesLocked(e.ctx)
			e.mu.Unlock()
			e.log.WithError(err).Warn("remote rejected brain-state sample")
			e.stateEvents.Publish(StateEvent{Kind: EventStateSavedOffline, Sample: s, Reason: err.Error()})
			return
		}
		if attempt < maxAttempts {
			if serr := e.sleep(e.ctx, backoff(attempt)); serr != nil {
				return
			}
		}
	}
	e.stateEvents.Publish(StateEvent{Kind: EventStateSavedOffline, Sample: s, Reason: "retry budget exhausted"})
}

// persistSamplesLocked snapshots the pending sample set, no TTL. Callers
// hold e.mu. Cache failures are absorbed like the task snapshot's.
func (e *Engine) persistSamplesLocked(ctx context.Context) {
	pending := make([]brainstate.Sample, 0, len(e.pendingSamples))
	for _, s := range e.pendingSamples {
		pending = append(pending, *s)
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		e.log.WithError(err).Warn("encode pending samples")
		return
	}
	if err := e.store.Put(ctx, cache.PendingSamplesKey(e.accountID), raw, 0); err != nil {
		e.log.WithError(err).Warn("persist pending samples")
	}
}

// loadSamples restores the pending sample set.
func (e *Engine) loadSamples(ctx context.Context) {
	raw, err := e.store.Get(ctx, cache.PendingSamplesKey(e.accountID))
	if errors.Is(err, cache.ErrNotFound) {
		return
	}
	if err != nil {
		e.log.WithError(err).Warn("load pending samples")
		return
	}
	var pending []brainstate.Sample
	if err := json.Unmarshal(raw, &pending); err != nil {
		e.log.WithError(err).Warn("corrupt pending samples, starting empty")
		return
	}
	for i := range pending {
		e.pendingSamples[pending[i].ID] = &pending[i]
	}
}
