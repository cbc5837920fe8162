package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Fallback pairs a durable store with an in-memory mirror. Durable read and
// write errors are logged and absorbed: the memory layer serves the current
// session so a broken disk never takes the app down. Values written while
// the durable layer is failing live only until process exit.
type Fallback struct {
	durable Store
	mem     *gocache.Cache
	log     *logrus.Entry
}

// NewFallback wraps the durable store.
func NewFallback(durable Store, log *logrus.Entry) *Fallback {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Fallback{
		durable: durable,
		mem:     gocache.New(gocache.NoExpiration, 10*time.Minute),
		log:     log,
	}
}

// Get prefers the durable store; on a storage error (not a miss) it answers
// from the memory mirror.
func (f *Fallback) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := f.durable.Get(ctx, key)
	if err == nil {
		return v, nil
	}
	if err == ErrNotFound {
		// A durable miss is authoritative only if the mirror agrees; a value
		// written during a disk outage lives in the mirror alone.
		if mv, ok := f.mem.Get(key); ok {
			return mv.([]byte), nil
		}
		return nil, ErrNotFound
	}

	f.log.WithField("key", key).WithError(err).Warn("durable cache read failed, serving memory")
	if mv, ok := f.mem.Get(key); ok {
		return mv.([]byte), nil
	}
	return nil, ErrNotFound
}

// Put writes both layers. A durable failure is absorbed after logging.
func (f *Fallback) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 {
		f.mem.Set(key, value, ttl)
	} else {
		f.mem.SetDefault(key, value)
	}
	if err := f.durable.Put(ctx, key, value, ttl); err != nil {
		f.log.WithField("key", key).WithError(err).Warn("durable cache write failed, memory only")
	}
	return nil
}

// Invalidate removes the key from both layers.
func (f *Fallback) Invalidate(ctx context.Context, key string) error {
	f.mem.Delete(key)
	if err := f.durable.Invalidate(ctx, key); err != nil {
		f.log.WithField("key", key).WithError(err).Warn("durable cache invalidate failed")
	}
	return nil
}

// Close closes the durable layer.
func (f *Fallback) Close() error {
	return f.durable.Close()
}
