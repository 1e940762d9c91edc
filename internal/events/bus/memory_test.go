package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/dispatchd/internal/common/logger"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

func collectEvents() (Handler, func() []v1.Event) {
	var mu sync.Mutex
	var got []v1.Event
	handler := func(ctx context.Context, evt v1.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt)
		return nil
	}
	snapshot := func() []v1.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]v1.Event(nil), got...)
	}
	return handler, snapshot
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestMemoryBus_PublishReachesExactSubject(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	handler, got := collectEvents()
	_, err := b.Subscribe("task.created", handler)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "task.created", v1.Event{Type: v1.EventTaskCreated}))
	require.NoError(t, b.Publish(context.Background(), "task.updated", v1.Event{Type: v1.EventTaskUpdated}))

	waitFor(t, func() bool { return len(got()) == 1 })
	assert.Equal(t, v1.EventTaskCreated, got()[0].Type)
}

func TestMemoryBus_WildcardSubjects(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	single, gotSingle := collectEvents()
	_, err := b.Subscribe("session.*", single)
	require.NoError(t, err)

	all, gotAll := collectEvents()
	_, err = b.Subscribe(">", all)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "session.created", v1.Event{Type: v1.EventSessionCreated}))
	require.NoError(t, b.Publish(context.Background(), "task.created", v1.Event{Type: v1.EventTaskCreated}))

	waitFor(t, func() bool { return len(gotSingle()) == 1 && len(gotAll()) == 2 })
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	handler, got := collectEvents()
	sub, err := b.Subscribe("task.created", handler)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "task.created", v1.Event{ID: "e1"}))
	waitFor(t, func() bool { return len(got()) == 1 })

	sub.Unsubscribe()
	require.NoError(t, b.Publish(context.Background(), "task.created", v1.Event{ID: "e2"}))

	time.Sleep(10 * time.Millisecond)
	assert.Len(t, got(), 1)
}

func TestMemoryBus_ClosedBusRejectsOperations(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	b.Close()

	assert.False(t, b.IsConnected())
	assert.Error(t, b.Publish(context.Background(), "task.created", v1.Event{}))
	_, err := b.Subscribe("task.created", func(ctx context.Context, evt v1.Event) error { return nil })
	assert.Error(t, err)
}
