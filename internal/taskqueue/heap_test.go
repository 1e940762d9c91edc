package taskqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap_OrdersByPriorityThenTime(t *testing.T) {
	h := NewHeap()
	now := time.Unix(1000, 0)

	require.NoError(t, h.Enqueue(&QueuedTask{TaskID: "low", Priority: 1, QueuedAt: now}))
	require.NoError(t, h.Enqueue(&QueuedTask{TaskID: "high", Priority: 5, QueuedAt: now.Add(time.Second)}))
	require.NoError(t, h.Enqueue(&QueuedTask{TaskID: "high-earlier", Priority: 5, QueuedAt: now}))

	first, ok := h.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "high-earlier", first.TaskID)

	second, ok := h.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "high", second.TaskID)

	third, ok := h.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "low", third.TaskID)

	_, ok = h.Dequeue()
	assert.False(t, ok)
}

func TestHeap_EnqueueDuplicateRejected(t *testing.T) {
	h := NewHeap()
	require.NoError(t, h.Enqueue(&QueuedTask{TaskID: "t1", Priority: 0}))
	err := h.Enqueue(&QueuedTask{TaskID: "t1", Priority: 0})
	assert.ErrorIs(t, err, ErrTaskExists)
}

func TestHeap_RemoveAndContains(t *testing.T) {
	h := NewHeap()
	require.NoError(t, h.Enqueue(&QueuedTask{TaskID: "t1"}))
	require.NoError(t, h.Enqueue(&QueuedTask{TaskID: "t2"}))

	assert.True(t, h.Contains("t1"))
	assert.True(t, h.Remove("t1"))
	assert.False(t, h.Contains("t1"))
	assert.False(t, h.Remove("t1"))
	assert.Equal(t, 1, h.Len())
}
