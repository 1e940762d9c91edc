package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/dispatchd/internal/common/logger"
	"github.com/kandev/dispatchd/internal/events/bus"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

func TestFanout_DeliversToBusSubscribers(t *testing.T) {
	b := bus.NewMemoryEventBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	var got []v1.Event
	_, err := b.Subscribe("task.>", func(ctx context.Context, evt v1.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt)
		return nil
	})
	require.NoError(t, err)

	f := NewFanout(b, NewPublisher(Config{Enabled: false}))
	require.NoError(t, f.Publish(context.Background(), testEvent()))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, v1.EventTaskCreated, got[0].Type)
}

func TestFanout_BusFailureDoesNotFailPublish(t *testing.T) {
	b := bus.NewMemoryEventBus(logger.Default())
	b.Close() // a closed bus rejects publishes

	f := NewFanout(b, NewPublisher(Config{Enabled: false}))
	assert.NoError(t, f.Publish(context.Background(), testEvent()),
		"the in-process leg is best-effort; only the outbound leg decides success")
}
