// Package quota meters AI-assistance usage against a monthly allowance.
// The check-then-increment is a single critical section per account: two
// interleaved reads of the counter before either write is the primary
// correctness risk in the whole engine.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"neuroflow/pkg/cache"
)

// DefaultMonthlyLimit is the allowance used when the account has no
// configured tier.
const DefaultMonthlyLimit = 10

// ReasonExhausted is the denial reason when the monthly allowance is spent.
// A denial is a decision, not an error.
const ReasonExhausted = "quota_exhausted"

// Decision is the outcome of a reservation attempt.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"` // set when allowed
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// state is the persisted per-account ledger.
type state struct {
	Used     int                  `json:"used"`
	Limit    int                  `json:"limit"`
	ResetAt  time.Time            `json:"reset_at"`
	Recorded map[string]time.Time `json:"recorded,omitempty"` // request id -> when
}

// Ledger tracks usage per account, persisted through the local cache. The
// in-memory copy is authoritative for the session; cache writes are best
// effort.
type Ledger struct {
	store cache.Store
	limit int
	now   func() time.Time
	log   *logrus.Entry

	mu       sync.Mutex
	accounts map[string]*account
}

type account struct {
	mu sync.Mutex
	st *state
}

// New creates a Ledger persisting through store with the given monthly
// limit. limit <= 0 falls back to DefaultMonthlyLimit.
func New(store cache.Store, limit int, log *logrus.Entry) *Ledger {
	if limit <= 0 {
		limit = DefaultMonthlyLimit
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ledger{
		store:    store,
		limit:    limit,
		now:      time.Now,
		log:      log,
		accounts: make(map[string]*account),
	}
}

// CheckAndReserve gates one AI call. On allowance it increments usage and
// returns a request id for the caller to confirm via RecordUsage. The whole
// reset-check-increment sequence runs under the account's lock.
func (l *Ledger) CheckAndReserve(ctx context.Context, accountID string) Decision {
	acct := l.account(accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	st := l.load(ctx, accountID, acct)

	// Reset-then-retry, never reset-only: an expired cycle zeroes the
	// counter and the fresh state is still checked below.
	l.resetIfDue(st)

	if st.Used >= st.Limit {
		return Decision{
			Allowed: false,
			Reason:  ReasonExhausted,
			Used:    st.Used,
			Limit:   st.Limit,
			ResetAt: st.ResetAt,
		}
	}

	st.Used++
	requestID := uuid.Must(uuid.NewV7()).String()
	st.Recorded[requestID] = l.now()
	l.persist(ctx, accountID, st)

	return Decision{
		Allowed:   true,
		RequestID: requestID,
		Used:      st.Used,
		Limit:     st.Limit,
		ResetAt:   st.ResetAt,
	}
}

// RecordUsage confirms usage for a request id. Idempotent: a request id
// already counted (every id handed out by CheckAndReserve is) or already
// recorded never increments again, so a retried network call cannot
// double-count.
func (l *Ledger) RecordUsage(ctx context.Context, accountID, requestID string) error {
	if requestID == "" {
		return errors.New("quota: empty request id")
	}
	acct := l.account(accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	st := l.load(ctx, accountID, acct)
	l.resetIfDue(st)
	if _, seen := st.Recorded[requestID]; seen {
		return nil
	}
	// used <= limit holds even for ids minted outside CheckAndReserve; the
	// id is still remembered so a replay stays a no-op.
	if st.Used < st.Limit {
		st.Used++
	}
	st.Recorded[requestID] = l.now()
	l.persist(ctx, accountID, st)
	return nil
}

// resetIfDue zeroes an expired cycle. The next anchor advances from the
// original ResetAt, never from now, so slack never accumulates across late
// resets. Callers hold the account lock.
func (l *Ledger) resetIfDue(st *state) {
	now := l.now()
	if now.Before(st.ResetAt) {
		return
	}
	st.Used = 0
	st.Recorded = make(map[string]time.Time)
	for !now.Before(st.ResetAt) {
		st.ResetAt = st.ResetAt.AddDate(0, 1, 0)
	}
}

// Snapshot returns the current counters for display. It consumes no
// allowance, but a due reset is applied first so the UI never shows an
// exhausted cycle that has already rolled over.
func (l *Ledger) Snapshot(ctx context.Context, accountID string) Decision {
	acct := l.account(accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	st := l.load(ctx, accountID, acct)
	l.resetIfDue(st)
	return Decision{
		Allowed: st.Used < st.Limit,
		Used:    st.Used,
		Limit:   st.Limit,
		ResetAt: st.ResetAt,
	}
}

func (l *Ledger) account(accountID string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[accountID]
	if !ok {
		a = &account{}
		l.accounts[accountID] = a
	}
	return a
}

// load returns the account state, reading it from the cache the first time.
// Callers hold the account lock.
func (l *Ledger) load(ctx context.Context, accountID string, acct *account) *state {
	if acct.st != nil {
		return acct.st
	}

	st := &state{Limit: l.limit, Recorded: make(map[string]time.Time)}
	raw, err := l.store.Get(ctx, cache.QuotaKey(accountID))
	switch {
	case err == nil:
		if uerr := json.Unmarshal(raw, st); uerr != nil {
			l.log.WithError(uerr).Warn("quota: corrupt ledger entry, starting fresh")
			st = &state{Limit: l.limit, Recorded: make(map[string]time.Time)}
		}
	case errors.Is(err, cache.ErrNotFound):
		// first use for this account
	default:
		l.log.WithError(err).Warn("quota: ledger read failed, starting fresh for session")
	}

	if st.Limit <= 0 {
		st.Limit = l.limit
	}
	if st.Recorded == nil {
		st.Recorded = make(map[string]time.Time)
	}
	if st.ResetAt.IsZero() {
		st.ResetAt = l.now().AddDate(0, 1, 0)
	}
	acct.st = st
	return st
}

// persist writes the ledger through the cache, best effort.
func (l *Ledger) persist(ctx context.Context, accountID string, st *state) {
	raw, err := json.Marshal(st)
	if err != nil {
		l.log.WithError(err).Warn("quota: encode ledger")
		return
	}
	if err := l.store.Put(ctx, cache.QuotaKey(accountID), raw, 0); err != nil {
		l.log.WithError(err).Warn("quota: persist ledger")
	}
}
