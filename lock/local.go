package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"

	"github.com/dataserve/dataserve-sub000/dserr"
)

// maxReaders is the weight of a writer; each reader takes one unit.
const maxReaders = 1 << 30

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Local is an in-process Manager. Waiters are served in FIFO order per key, so
// a queued writer holds back readers that arrive after it.
type Local struct {
	entries *xsync.MapOf[string, *entry]
	timeout time.Duration
}

// Option configures a Local manager.
type Option func(*Local)

// WithTimeout bounds the time spent waiting for each key.
func WithTimeout(d time.Duration) Option {
	return func(l *Local) { l.timeout = d }
}

// NewLocal returns an empty lock table.
func NewLocal(opts ...Option) *Local {
	l := &Local{entries: xsync.NewMapOf[string, *entry]()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) AcquireRead(ctx context.Context, keys []string, fn func(context.Context) error) error {
	return l.run(ctx, keys, 1, fn)
}

func (l *Local) AcquireWrite(ctx context.Context, keys []string, fn func(context.Context) error) error {
	return l.run(ctx, keys, maxReaders, fn)
}

// Held reports how many keys currently have holders or waiters.
func (l *Local) Held() int {
	return l.entries.Size()
}

func (l *Local) run(ctx context.Context, keys []string, weight int64, fn func(context.Context) error) error {
	keys = normalize(keys)
	held := make([]*entry, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].sem.Release(weight)
			l.unref(keys[i])
		}
	}()

	for _, key := range keys {
		e := l.ref(key)
		if err := l.acquire(ctx, e, weight); err != nil {
			l.unref(key)
			return lockError(ctx, key, err)
		}
		held = append(held, e)
	}
	return fn(ctx)
}

func (l *Local) acquire(ctx context.Context, e *entry, weight int64) error {
	if l.timeout <= 0 {
		return e.sem.Acquire(ctx, weight)
	}
	wait, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return e.sem.Acquire(wait, weight)
}

func lockError(parent context.Context, key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return dserr.Wrap(err, dserr.LockTimeout, fmt.Sprintf("timed out waiting for lock %s", key))
	}
	return dserr.Wrap(err, dserr.LockFailure, fmt.Sprintf("could not acquire lock %s", key))
}

func (l *Local) ref(key string) *entry {
	e, _ := l.entries.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{sem: semaphore.NewWeighted(maxReaders)}
		}
		old.refs++
		return old, false
	})
	return e
}

func (l *Local) unref(key string) {
	l.entries.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return old, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}

func normalize(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
