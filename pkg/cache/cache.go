// Package cache implements the durable, namespaced key-value store that
// keeps the engine working offline and across restarts. Values are opaque
// JSON blobs; callers own the encoding.
//
// Storage failures are non-fatal by contract: pair a durable store with the
// in-memory fallback (see Fallback) and the session keeps working from RAM.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: not found")

// Store is the contract for the local state cache.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the value. ttl <= 0 means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate removes the key. Removing an absent key is not an error.
	Invalidate(ctx context.Context, key string) error

	// Close releases underlying resources.
	Close() error
}

// Key builds a namespaced cache key scoped to an account, so two accounts on
// one device never read each other's state.
func Key(accountID string, parts ...string) string {
	k := "acct/" + accountID
	for _, p := range parts {
		k += "/" + p
	}
	return k
}

// TodayKey is the account-scoped key holding the current day's brain-state
// sample.
func TodayKey(accountID string) string {
	return Key(accountID, "brainstate", "today")
}

// PendingSamplesKey is the account-scoped key holding brain-state samples
// captured but not yet confirmed by the remote store. Unlike the today key it
// never expires: an offline check-in still belongs in the remote history.
func PendingSamplesKey(accountID string) string {
	return Key(accountID, "brainstate", "pending")
}

// TasksKey is the account-scoped key holding the full local task list.
func TasksKey(accountID string) string {
	return Key(accountID, "tasks")
}

// QuotaKey is the account-scoped key holding the AI-assistance quota ledger.
func QuotaKey(accountID string) string {
	return Key(accountID, "quota")
}

// UntilEndOfDay returns the duration from now until local midnight, used as
// the TTL for day-scoped entries so a stale day expires on its own even if
// nobody reads it.
func UntilEndOfDay(now time.Time, loc *time.Location) time.Duration {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	d := midnight.Sub(local)
	if d <= 0 {
		return time.Second
	}
	return d
}

// wrapErr keeps the storage backend name in errors without leaking driver
// details to callers.
func wrapErr(op, key string, err error) error {
	return fmt.Errorf("cache: %s %q: %w", op, key, err)
}
