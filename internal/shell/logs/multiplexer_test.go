package logs

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/lnlab/internal/shell/docker"
	"github.com/artpar/lnlab/internal/shell/docker/dockertest"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupRuntime(t *testing.T) *dockertest.Runtime {
	t.Helper()
	ctx := context.Background()
	rt := dockertest.NewRuntime()
	rt.AddImage("img:1")
	_, err := rt.CreateContainer(ctx, docker.ContainerSpec{Name: "c1", Image: "img:1"})
	require.NoError(t, err)
	require.NoError(t, rt.StartContainer(ctx, "c1"))
	return rt
}

func nextLine(t *testing.T, sub *Subscription) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	line, err := sub.Next(ctx)
	require.NoError(t, err)
	return line
}

func requireEOF(t *testing.T, sub *Subscription) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}

// =============================================================================
// Ring Tests
// =============================================================================

func TestRing_DropsOldest(t *testing.T) {
	r := newRing(2)
	assert.False(t, r.push("a"))
	assert.False(t, r.push("b"))
	assert.True(t, r.push("c"))
	assert.Equal(t, []string{"b", "c"}, r.snapshot())

	line, ok := r.pop()
	assert.True(t, ok)
	assert.Equal(t, "b", line)
	assert.False(t, r.push("d"))
	assert.Equal(t, []string{"c", "d"}, r.snapshot())
}

// =============================================================================
// Multiplexer Tests
// =============================================================================

func TestSubscribe_SharesOneStream(t *testing.T) {
	rt := setupRuntime(t)
	mux := New(rt, DefaultConfig(), nil)
	ctx := context.Background()

	a, err := mux.Subscribe(ctx, "alpha/bitcoind-1", "c1")
	require.NoError(t, err)
	defer a.Close()
	b, err := mux.Subscribe(ctx, "alpha/bitcoind-1", "c1")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 1, rt.Calls("ContainerLogs"))

	rt.Emit("c1", "block 1")
	rt.Emit("c1", "block 2")

	assert.Equal(t, "block 1", nextLine(t, a))
	assert.Equal(t, "block 2", nextLine(t, a))
	assert.Equal(t, "block 1", nextLine(t, b))
	assert.Equal(t, "block 2", nextLine(t, b))
}

func TestSubscribe_ConcurrentFirstSubscribersOpenOnce(t *testing.T) {
	rt := setupRuntime(t)
	mux := New(rt, DefaultConfig(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	subs := make([]*Subscription, 10)
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := mux.Subscribe(ctx, "alpha/bitcoind-1", "c1")
			assert.NoError(t, err)
			subs[i] = sub
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, rt.Calls("ContainerLogs"))
	for _, sub := range subs {
		require.NotNil(t, sub)
		sub.Close()
	}
}

func TestSubscribe_TailHistory(t *testing.T) {
	rt := setupRuntime(t)
	for _, l := range []string{"one", "two", "three"} {
		rt.Emit("c1", l)
	}
	mux := New(rt, Config{Tail: "2", BufferSize: 16}, nil)

	sub, err := mux.Subscribe(context.Background(), "k", "c1")
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, "two", nextLine(t, sub))
	assert.Equal(t, "three", nextLine(t, sub))
}

func TestSubscription_EOFWhenContainerStops(t *testing.T) {
	rt := setupRuntime(t)
	mux := New(rt, DefaultConfig(), nil)

	sub, err := mux.Subscribe(context.Background(), "k", "c1")
	require.NoError(t, err)
	defer sub.Close()

	rt.Emit("c1", "last words")
	require.NoError(t, rt.StopContainer(context.Background(), "c1", time.Second))

	assert.Equal(t, "last words", nextLine(t, sub))
	requireEOF(t, sub)
	requireEOF(t, sub)

	assert.Eventually(t, func() bool { return mux.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubscription_DropsOldestWhenFull(t *testing.T) {
	rt := setupRuntime(t)
	mux := New(rt, Config{Tail: "0", BufferSize: 2}, nil)

	sub, err := mux.Subscribe(context.Background(), "k", "c1")
	require.NoError(t, err)
	defer sub.Close()

	rt.Emit("c1", "line-1")
	rt.Emit("c1", "line-2")
	rt.Emit("c1", "line-3")
	rt.Crash("c1")

	assert.Eventually(t, func() bool { return sub.Dropped() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "line-2", nextLine(t, sub))
	assert.Equal(t, "line-3", nextLine(t, sub))
	requireEOF(t, sub)
}

func TestSubscription_SlowReaderDoesNotBlockOthers(t *testing.T) {
	rt := setupRuntime(t)
	mux := New(rt, Config{Tail: "0", BufferSize: 1}, nil)
	ctx := context.Background()

	slow, err := mux.Subscribe(ctx, "k", "c1")
	require.NoError(t, err)
	defer slow.Close()
	fast, err := mux.Subscribe(ctx, "k", "c1")
	require.NoError(t, err)
	defer fast.Close()

	for _, l := range []string{"a", "b", "c"} {
		rt.Emit("c1", l)
		assert.Equal(t, l, nextLine(t, fast))
	}
	assert.Eventually(t, func() bool { return slow.Dropped() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "c", nextLine(t, slow))
}

func TestClose_LastSubscriberCancelsStream(t *testing.T) {
	rt := setupRuntime(t)
	mux := New(rt, DefaultConfig(), nil)
	ctx := context.Background()

	a, err := mux.Subscribe(ctx, "k", "c1")
	require.NoError(t, err)
	b, err := mux.Subscribe(ctx, "k", "c1")
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.Equal(t, 1, mux.Active())

	_, err = a.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, b.Close())
	assert.Equal(t, 0, mux.Active())

	c, err := mux.Subscribe(ctx, "k", "c1")
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 2, rt.Calls("ContainerLogs"))
}

func TestTerminate_EndsSubscribers(t *testing.T) {
	rt := setupRuntime(t)
	mux := New(rt, DefaultConfig(), nil)

	sub, err := mux.Subscribe(context.Background(), "k", "c1")
	require.NoError(t, err)
	defer sub.Close()

	mux.Terminate("k")
	requireEOF(t, sub)
	assert.Equal(t, 0, mux.Active())
}

func TestNext_ContextCancelled(t *testing.T) {
	rt := setupRuntime(t)
	mux := New(rt, DefaultConfig(), nil)

	sub, err := mux.Subscribe(context.Background(), "k", "c1")
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSubscribe_SourceError(t *testing.T) {
	rt := setupRuntime(t)
	mux := New(rt, DefaultConfig(), nil)

	_, err := mux.Subscribe(context.Background(), "k", "missing")
	assert.True(t, docker.IsNotFound(err))
	assert.Equal(t, 0, mux.Active())
}
