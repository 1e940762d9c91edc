// Package taskqueue implements the Task Queue: an in-memory read-through
// priority structure layered over the Store, plus the Service that
// orchestrates create/claim/release/cancel/session-end against Store,
// Router, the Push Fabric, and the Event Publisher.
package taskqueue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

var (
	// ErrTaskExists is returned by Enqueue when a task id is already present.
	ErrTaskExists = errors.New("taskqueue: task already queued")
)

// QueuedTask is one entry in the in-memory priority heap: a read-through
// cache of the task's queue-relevant fields, never authoritative for
// claim arbitration (that is always a Store-level conditional write).
type QueuedTask struct {
	TaskID               string
	TenantID             string
	CodebaseID           string
	Priority             int
	RequiredCapabilities []string
	TargetAgentName      string
	WorkerPersonality    string
	QueuedAt             time.Time

	index int // heap.Interface bookkeeping
}

// taskHeap orders entries by higher priority first, then by earlier
// enqueue time.
type taskHeap []*QueuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].QueuedAt.Before(h[j].QueuedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	item := x.(*QueuedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Heap is a thread-safe per-codebase priority queue of queued-but-unclaimed
// tasks, keyed internally by task id for O(1) existence checks and O(log n)
// removal.
type Heap struct {
	mu    sync.Mutex
	items taskHeap
	index map[string]*QueuedTask
}

func NewHeap() *Heap {
	return &Heap{index: make(map[string]*QueuedTask)}
}

func (h *Heap) Enqueue(qt *QueuedTask) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.index[qt.TaskID]; exists {
		return ErrTaskExists
	}
	if qt.QueuedAt.IsZero() {
		qt.QueuedAt = time.Now()
	}
	heap.Push(&h.items, qt)
	h.index[qt.TaskID] = qt
	return nil
}

// Peek returns the highest-priority entry without removing it.
func (h *Heap) Peek() (*QueuedTask, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

// Dequeue removes and returns the highest-priority entry.
func (h *Heap) Dequeue() (*QueuedTask, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return nil, false
	}
	qt := heap.Pop(&h.items).(*QueuedTask)
	delete(h.index, qt.TaskID)
	return qt, true
}

// Remove drops taskID from the heap if present, e.g. once it has been
// claimed and is no longer "available".
func (h *Heap) Remove(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	qt, ok := h.index[taskID]
	if !ok {
		return false
	}
	heap.Remove(&h.items, qt.index)
	delete(h.index, taskID)
	return true
}

func (h *Heap) Contains(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.index[taskID]
	return ok
}

func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// List returns a snapshot of every queued entry, unordered.
func (h *Heap) List() []*QueuedTask {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*QueuedTask, 0, len(h.items))
	for _, qt := range h.items {
		out = append(out, qt)
	}
	return out
}

func queuedTaskFrom(t *v1.Task) *QueuedTask {
	return &QueuedTask{
		TaskID:               t.ID,
		TenantID:             t.TenantID,
		CodebaseID:           t.CodebaseID,
		Priority:             t.Priority,
		RequiredCapabilities: t.RequiredCapabilities,
		TargetAgentName:      t.TargetAgentName,
		WorkerPersonality:    t.WorkerPersonality,
		QueuedAt:             t.CreatedAt,
	}
}
