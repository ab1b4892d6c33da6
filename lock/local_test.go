package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataserve/dataserve-sub000/dserr"
)

func TestLocal_ReadersShareKeys(t *testing.T) {
	l := NewLocal(WithTimeout(time.Second))
	ctx := context.Background()

	inside := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.AcquireRead(ctx, []string{"users.id:1"}, func(context.Context) error {
				inside <- struct{}{}
				<-release
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-inside:
		case <-time.After(time.Second):
			t.Fatal("readers should hold the key at the same time")
		}
	}
	close(release)
	wg.Wait()
	assert.Equal(t, 0, l.Held())
}

func TestLocal_WriterExcludesReaders(t *testing.T) {
	l := NewLocal(WithTimeout(50 * time.Millisecond))
	ctx := context.Background()

	err := l.AcquireWrite(ctx, []string{"users.id:1", "users.id:2"}, func(ctx context.Context) error {
		err := l.AcquireRead(ctx, []string{"users.id:2"}, func(context.Context) error { return nil })
		assert.True(t, dserr.Is(err, dserr.LockTimeout), "got %v", err)

		return l.AcquireRead(ctx, []string{"users.id:3"}, func(context.Context) error { return nil })
	})
	require.NoError(t, err)
	assert.Equal(t, 0, l.Held())
}

func TestLocal_CancelledContext(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())

	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.AcquireWrite(context.Background(), []string{"k"}, func(context.Context) error {
			close(entered)
			time.Sleep(100 * time.Millisecond)
			return nil
		})
	}()
	<-entered
	cancel()

	err := l.AcquireRead(ctx, []string{"k"}, func(context.Context) error { return nil })
	assert.True(t, dserr.Is(err, dserr.LockFailure), "got %v", err)
	<-done
	assert.Equal(t, 0, l.Held())
}

func TestLocal_DuplicateKeys(t *testing.T) {
	l := NewLocal(WithTimeout(time.Second))
	called := false
	err := l.AcquireWrite(context.Background(), []string{"a", "b", "a"}, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestGenericWrappers(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	n, err := Read(ctx, l, []string{"a"}, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	boom := errors.New("boom")
	_, err = Write(ctx, l, []string{"a"}, func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}
