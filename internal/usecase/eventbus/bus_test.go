package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"antai/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newEvent(t domain.EventType, agentID string) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now(), AgentID: agentID}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventAgentSpawned, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventAgentSpawned {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, "a"))
	bus.Publish(context.Background(), newEvent(domain.EventAgentExited, "a"))
	bus.Close()
	assert.Equal(t, int32(1), got.Load())
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(context.Context, domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, "a"))
	bus.Publish(context.Background(), newEvent(domain.EventTeamStopped, ""))
	bus.Close()
	assert.Equal(t, int32(2), got.Load())
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var seen []string
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		seen = append(seen, e.AgentID)
		mu.Unlock()
	})

	want := make([]string, 100)
	for i := range want {
		want[i] = domain.NewID("agent")
		bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, want[i]))
	}
	bus.Close()
	assert.Equal(t, want, seen)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	release := make(chan struct{})
	bus.SubscribeAll(func(context.Context, domain.Event) { <-release })

	fast := make(chan struct{}, 1)
	bus.SubscribeAll(func(context.Context, domain.Event) { fast <- struct{}{} })

	bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, "a"))
	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}
	close(release)
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventAgentExited, func(context.Context, domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventAgentExited, "a"))
	unsub()
	unsub()
	bus.Publish(context.Background(), newEvent(domain.EventAgentExited, "a"))
	bus.Close()
	assert.Equal(t, int32(1), got.Load())
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(context.Context, domain.Event) { panic("boom") })
	bus.SubscribeAll(func(context.Context, domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, "a"))
	bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, "b"))
	bus.Close()
	assert.Equal(t, int32(2), got.Load())
}

func TestHandlerContextSurvivesCancel(t *testing.T) {
	bus := newTestBus()

	errs := make(chan error, 1)
	bus.SubscribeAll(func(ctx context.Context, _ domain.Event) {
		time.Sleep(10 * time.Millisecond)
		errs <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, newEvent(domain.EventAgentSpawned, "a"))
	cancel()
	bus.Close()
	require.NoError(t, <-errs)
}

func TestFullQueueDrops(t *testing.T) {
	bus := NewWithQueueSize(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.SubscribeAll(func(context.Context, domain.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, "1"))
	<-started
	bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, "2")) // queued
	bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, "3")) // dropped
	close(release)
	bus.Close()
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := newTestBus()
	bus.SubscribeAll(func(context.Context, domain.Event) {})
	bus.Close()
	bus.Close()

	// Publish and subscribe after close are no-ops.
	bus.Publish(context.Background(), newEvent(domain.EventAgentSpawned, "a"))
	unsub := bus.Subscribe(domain.EventAgentSpawned, func(context.Context, domain.Event) {
		t.Error("handler called after close")
	})
	unsub()
}
