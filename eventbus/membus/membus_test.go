package membus

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dpup/permissible/eventbus"
	"github.com/dpup/permissible/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(t *testing.T) (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.With(t.Context(), logging.NewZapLogger(zap.New(core))), logs
}

func TestBus_BasicPubSub(t *testing.T) {
	bus := New(t.Context())

	var called atomic.Bool
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		assert.Equal(t, "hello", msg.Data)
		assert.Equal(t, "topic", msg.Topic)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, 1, msg.Attempt)
		called.Store(true)
		return nil
	})

	bus.Publish("topic", "hello")

	assert.Eventually(t, called.Load, time.Second, time.Millisecond, "subscriber should have been called")
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New(t.Context())

	var called []int
	var mu sync.Mutex
	for i := range 10 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			mu.Lock()
			defer mu.Unlock()
			called = append(called, i)
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))

	slices.Sort(called) // Execution order isn't guaranteed.
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, called)
}

func TestBus_OtherTopicsIgnored(t *testing.T) {
	bus := New(t.Context())

	var called atomic.Int32
	bus.Subscribe("a", func(ctx context.Context, msg *eventbus.Message) error {
		called.Add(1)
		return nil
	})

	bus.Publish("b", "hello")
	require.NoError(t, bus.Wait(t.Context()))
	assert.Zero(t, called.Load())
}

func TestBus_Wait(t *testing.T) {
	bus := New(t.Context())

	var called atomic.Bool
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		time.Sleep(time.Millisecond * 50)
		called.Store(true)
		return nil
	})

	bus.Publish("topic", "hello")

	require.NoError(t, bus.Wait(t.Context()))
	assert.True(t, called.Load(), "subscriber should have been called")
}

func TestBus_WaitTimeout(t *testing.T) {
	bus := New(t.Context())

	release := make(chan struct{})
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		<-release
		return nil
	})

	bus.Publish("topic", "hello")

	ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond)
	defer cancel()

	require.Error(t, bus.Wait(ctx))
	close(release)
	require.NoError(t, bus.Wait(t.Context()))
}

func TestBus_SubscriberErrorIsLogged(t *testing.T) {
	ctx, logs := observed(t)
	bus := New(ctx)

	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		return errors.New("subscriber error")
	})

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(ctx))

	entries := logs.FilterMessage("eventbus: handler error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "topic", entries[0].ContextMap()["topic"])
}

func TestBus_SubscriberPanicIsRecovered(t *testing.T) {
	ctx, logs := observed(t)
	bus := New(ctx)

	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		panic("subscriber panic")
	})

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(ctx))

	assert.Equal(t, 1, logs.FilterMessage("eventbus: recovered from panic").Len())
}

func TestBus_WorkerPoolConcurrency(t *testing.T) {
	bus := New(t.Context(), WithWorkerPool(8))

	var mu sync.Mutex
	var concurrent, maxConcurrent int

	for range 50 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			mu.Lock()
			concurrent++
			maxConcurrent = max(maxConcurrent, concurrent)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			concurrent--
			mu.Unlock()
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))

	assert.LessOrEqual(t, maxConcurrent, 8, "should not exceed worker pool size")
}

func TestBus_UnboundedGoroutines(t *testing.T) {
	bus := New(t.Context(), WithWorkerPool(0))

	var called atomic.Int32
	for range 20 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			called.Add(1)
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))
	assert.Equal(t, int32(20), called.Load())
}

func TestBus_Shutdown(t *testing.T) {
	bus := New(t.Context(), WithQueueSize(1))

	var called atomic.Int32
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		called.Add(1)
		return nil
	})

	bus.Publish("topic", "one")
	require.NoError(t, bus.Shutdown(t.Context()))
	bus.Publish("topic", "two")
	require.NoError(t, bus.Shutdown(t.Context()))

	assert.Equal(t, int32(1), called.Load(), "messages after shutdown are dropped")
}

func TestNop(t *testing.T) {
	var bus eventbus.EventBus = eventbus.Nop{}
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		t.Fatal("nop bus should not deliver")
		return nil
	})
	bus.Publish("topic", "hello")
	assert.NoError(t, bus.Wait(t.Context()))
}
