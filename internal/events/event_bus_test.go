package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testBus(t *testing.T, cfg EventBusConfig) *EventBus {
	t.Helper()
	bus := NewEventBus(zap.NewNop(), cfg)
	t.Cleanup(bus.Stop)
	return bus
}

func TestPublishSync_DeliversToMatchingSubscriberSynchronously(t *testing.T) {
	bus := testBus(t, EventBusConfig{NumWorkers: 1, BufferSize: 10})

	var got Event
	bus.Subscribe(EventTypeBar, func(e Event) error {
		got = e
		return nil
	}, SubscriptionOptions{Async: false})

	evt := NewBarEvent("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now())
	bus.PublishSync(evt)

	require.NotNil(t, got)
	assert.Equal(t, evt.ID, got.GetID())
}

func TestPublishSync_IgnoresNonMatchingEventType(t *testing.T) {
	bus := testBus(t, EventBusConfig{NumWorkers: 1, BufferSize: 10})

	var calls int
	bus.Subscribe(EventTypeBar, func(e Event) error {
		calls++
		return nil
	}, SubscriptionOptions{Async: false})

	bus.PublishSync(NewTickEvent("ETHUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now()))

	assert.Equal(t, 0, calls)
}

func TestSubscribeAll_ReceivesEveryEventType(t *testing.T) {
	bus := testBus(t, EventBusConfig{NumWorkers: 1, BufferSize: 10})

	var calls int32
	bus.SubscribeAll(func(e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, SubscriptionOptions{Async: false})

	bus.PublishSync(NewBarEvent("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now()))
	bus.PublishSync(NewTickEvent("ETHUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now()))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestUnsubscribe_StopsFurtherDelivery(t *testing.T) {
	bus := testBus(t, EventBusConfig{NumWorkers: 1, BufferSize: 10})

	var calls int
	sub := bus.Subscribe(EventTypeBar, func(e Event) error {
		calls++
		return nil
	}, SubscriptionOptions{Async: false})

	bus.Unsubscribe(sub)
	assert.False(t, sub.IsActive())

	bus.PublishSync(NewBarEvent("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now()))
	assert.Equal(t, 0, calls)
}

func TestExecuteHandler_RecoversFromPanicAndCountsError(t *testing.T) {
	bus := testBus(t, EventBusConfig{NumWorkers: 1, BufferSize: 10})

	bus.Subscribe(EventTypeBar, func(e Event) error {
		panic("boom")
	}, SubscriptionOptions{Async: false})

	assert.NotPanics(t, func() {
		bus.PublishSync(NewBarEvent("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now()))
	})
	assert.Equal(t, int64(1), bus.GetStats().ProcessingErrors)
}

func TestGetStats_TracksPublishedAndProcessed(t *testing.T) {
	bus := testBus(t, EventBusConfig{NumWorkers: 1, BufferSize: 10})
	bus.Subscribe(EventTypeBar, func(e Event) error { return nil }, SubscriptionOptions{Async: false})

	bus.PublishSync(NewBarEvent("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now()))
	bus.PublishSync(NewBarEvent("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now()))

	stats := bus.GetStats()
	assert.Equal(t, int64(2), stats.EventsPublished)
	assert.Equal(t, int64(2), stats.EventsProcessed)
	assert.Equal(t, stats.EventsProcessed, stats.TotalProcessed)
}

func TestGetP99LatencyNs_EmptyReturnsZero(t *testing.T) {
	bus := testBus(t, EventBusConfig{NumWorkers: 1, BufferSize: 10})
	assert.Equal(t, int64(0), bus.GetP99LatencyNs())
}

func TestPublish_DropsWhenBufferIsFull(t *testing.T) {
	bus := testBus(t, EventBusConfig{NumWorkers: 1, BufferSize: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	var blockedOnce atomic.Bool
	bus.Subscribe(EventTypeBar, func(e Event) error {
		if blockedOnce.CompareAndSwap(false, true) {
			close(started)
			<-release
		}
		return nil
	}, SubscriptionOptions{Async: false})

	evt := func() Event {
		return NewBarEvent("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now())
	}

	bus.Publish(evt()) // picked up by the worker, which then blocks
	<-started

	bus.Publish(evt()) // fills the size-1 buffer
	bus.Publish(evt()) // buffer full and worker busy: dropped

	close(release)

	require.Eventually(t, func() bool {
		return bus.GetStats().EventsDropped == 1
	}, time.Second, time.Millisecond)
}

func TestSubscribeMultiple_RegistersForEachType(t *testing.T) {
	bus := testBus(t, EventBusConfig{NumWorkers: 1, BufferSize: 10})

	var mu sync.Mutex
	var seen []EventType
	subs := bus.SubscribeMultiple([]EventType{EventTypeBar, EventTypeTick}, func(e Event) error {
		mu.Lock()
		seen = append(seen, e.GetType())
		mu.Unlock()
		return nil
	}, SubscriptionOptions{Async: false})
	require.Len(t, subs, 2)

	bus.PublishSync(NewBarEvent("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now()))
	bus.PublishSync(NewTickEvent("ETHUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now()))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []EventType{EventTypeBar, EventTypeTick}, seen)
}

func TestDefaultEventBusConfig_ReturnsDocumentedDefaults(t *testing.T) {
	cfg := DefaultEventBusConfig()
	assert.Equal(t, 16, cfg.NumWorkers)
	assert.Equal(t, 100000, cfg.BufferSize)
}

func TestNewEventBus_ZeroConfigFallsBackToDefaults(t *testing.T) {
	bus := testBus(t, EventBusConfig{})
	assert.Equal(t, 16, bus.workerCount)
	assert.Equal(t, 100000, cap(bus.eventChan))
}

func TestEventConstructors_SetTypeAndNonEmptyID(t *testing.T) {
	bar := NewBarEvent("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, time.Now())
	assert.Equal(t, EventTypeBar, bar.GetType())
	assert.NotEmpty(t, bar.GetID())

	sig := NewSignalEvent("BTCUSDT", "buy", "hunter", decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(98), decimal.NewFromInt(103))
	assert.Equal(t, EventTypeSignal, sig.GetType())
	assert.Equal(t, 100.0, sig.EntryPrice)

	emg := NewEmergencyEvent("drawdown", "critical", "daily loss limit breached")
	assert.Equal(t, EventTypeEmergency, emg.GetType())
	assert.Equal(t, "critical", emg.Level)

	assert.NotEqual(t, bar.GetID(), sig.GetID())
}
