// Package lock provides keyed reader/writer locks for the cache coherence protocol.
//
// Readers of a key share it; a writer excludes both readers and writers of
// every key it holds. Keys are acquired in sorted order so overlapping key sets
// cannot deadlock.
package lock

import "context"

// Manager runs fn while holding the given keys.
type Manager interface {
	AcquireRead(ctx context.Context, keys []string, fn func(context.Context) error) error
	AcquireWrite(ctx context.Context, keys []string, fn func(context.Context) error) error
}

// Read runs fn under shared locks and returns its value.
func Read[T any](ctx context.Context, m Manager, keys []string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := m.AcquireRead(ctx, keys, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// Write runs fn under exclusive locks and returns its value.
func Write[T any](ctx context.Context, m Manager, keys []string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := m.AcquireWrite(ctx, keys, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
