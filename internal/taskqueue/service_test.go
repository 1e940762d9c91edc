package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	"github.com/kandev/dispatchd/internal/router"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

func newTestService(eligible, eventsOn bool) (*Service, *fakeStore, *fakePush, *fakeEvents) {
	st := newFakeStore()
	push := &fakePush{eligible: eligible}
	events := &fakeEvents{}
	svc := NewService(st, router.DefaultConfig(), push, events, eventsOn)
	return svc, st, push, events
}

func TestService_Create_PicksPushRouteWhenWorkerEligible(t *testing.T) {
	svc, _, push, events := newTestService(true, true)

	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{
		Title: "rename foo", Prompt: "rename foo to bar",
	})
	require.NoError(t, err)
	assert.Equal(t, v1.RoutePush, task.Metadata.Routing.DeliveryRoute)
	assert.Len(t, push.notified, 1)
	assert.Empty(t, events.published)
}

func TestService_Create_PicksEventRouteWhenNoWorkerConnected(t *testing.T) {
	svc, _, push, events := newTestService(false, true)

	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{
		Title: "session task", Prompt: "do something", SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, v1.RouteEvent, task.Metadata.Routing.DeliveryRoute)
	assert.Empty(t, push.notified)
	assert.Len(t, events.published, 1)
	assert.Equal(t, v1.EventTaskCreated, events.published[0].Type)
}

func TestService_Create_KnativeTagForcesEventRoute(t *testing.T) {
	svc, _, push, events := newTestService(true, true)

	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{
		Title: "t", Prompt: "p",
		Metadata: map[string]interface{}{"knative": true},
	})
	require.NoError(t, err)
	assert.Equal(t, v1.RouteEvent, task.Metadata.Routing.DeliveryRoute)
	assert.Empty(t, push.notified, "knative-tagged tasks skip the stream broadcast")
	assert.Len(t, events.published, 1)
}

func TestService_Create_RejectsUnknownCodebase(t *testing.T) {
	svc, _, _, _ := newTestService(false, false)
	_, err := svc.Create(context.Background(), "tenant-a", CreateRequest{
		Title: "t", Prompt: "p", CodebaseID: "does-not-exist",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestService_ClaimRace_ExactlyOneWinner(t *testing.T) {
	svc, _, _, _ := newTestService(true, false)
	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{Title: "t", Prompt: "p"})
	require.NoError(t, err)

	const workers = 8
	results := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Claim(context.Background(), "tenant-a", task.ID, workerName(i))
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case apperrors.IsConflict(err):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func workerName(i int) string {
	return string(rune('a' + i))
}

func TestService_Create_EventRouteFailure_FailsTask(t *testing.T) {
	svc, _, _, events := newTestService(false, true)
	events.err = errors.New("sink unreachable")

	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{
		Title: "t", Prompt: "p", SessionID: "sess-1",
	})
	require.NoError(t, err, "create itself succeeds; the delivery failure is recorded on the task")

	got, err := svc.Get(context.Background(), "tenant-a", task.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskFailed, got.Status)
	assert.Contains(t, got.Error, "event delivery failed")
}

func TestService_Claim_BroadcastsTaskClaimed(t *testing.T) {
	svc, _, push, _ := newTestService(true, false)
	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{Title: "t", Prompt: "p"})
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), "tenant-a", task.ID, "w1")
	require.NoError(t, err)
	assert.Contains(t, push.claimed, task.ID)
}

func TestService_Sweep_ReadvertisesQueuedAndEvictsClaimed(t *testing.T) {
	svc, _, push, _ := newTestService(true, false)
	ctx := context.Background()

	queued, err := svc.Create(ctx, "tenant-a", CreateRequest{Title: "a", Prompt: "p"})
	require.NoError(t, err)
	claimed, err := svc.Create(ctx, "tenant-a", CreateRequest{Title: "b", Prompt: "p"})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, "tenant-a", claimed.ID, "w1")
	require.NoError(t, err)

	before := push.notifiedCount()
	svc.sweep(ctx)

	assert.Equal(t, before+1, push.notifiedCount(), "only the still-queued task is re-advertised")
	assert.True(t, svc.heapFor(queued.CodebaseID).Contains(queued.ID))
	assert.False(t, svc.heapFor(claimed.CodebaseID).Contains(claimed.ID))
}

func TestService_CancelBeforeClaim_Succeeds(t *testing.T) {
	svc, _, _, _ := newTestService(false, false)
	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{Title: "t", Prompt: "p"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), "tenant-a", task.ID))

	got, err := svc.Get(context.Background(), "tenant-a", task.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskCancelled, got.Status)
}

func TestService_CancelAfterClaim_SendsInterrupt(t *testing.T) {
	svc, _, push, _ := newTestService(true, false)
	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{Title: "t", Prompt: "p"})
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), "tenant-a", task.ID, "w1")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), "tenant-a", task.ID))
	assert.Contains(t, push.interrupted, task.ID)

	got, err := svc.Get(context.Background(), "tenant-a", task.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskAssigned, got.Status, "claimed task is not mutated by an advisory cancel")
}

func TestService_CancelTerminalTask_Conflict(t *testing.T) {
	svc, _, _, _ := newTestService(false, false)
	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{Title: "t", Prompt: "p"})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), "tenant-a", task.ID))

	err = svc.Cancel(context.Background(), "tenant-a", task.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestService_ReleaseMismatchedWorker_Conflict(t *testing.T) {
	svc, _, _, _ := newTestService(true, false)
	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{Title: "t", Prompt: "p"})
	require.NoError(t, err)
	_, err = svc.Claim(context.Background(), "tenant-a", task.ID, "w1")
	require.NoError(t, err)

	err = svc.Release(context.Background(), "tenant-a", ReleaseRequest{
		TaskID: task.ID, WorkerID: "w2", Status: v1.TaskCompleted, Result: "done",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestService_Release_RunningAttachesSessionID(t *testing.T) {
	svc, _, _, _ := newTestService(true, false)
	task, err := svc.Create(context.Background(), "tenant-a", CreateRequest{Title: "t", Prompt: "p"})
	require.NoError(t, err)
	_, err = svc.Claim(context.Background(), "tenant-a", task.ID, "w1")
	require.NoError(t, err)

	err = svc.Release(context.Background(), "tenant-a", ReleaseRequest{
		TaskID: task.ID, WorkerID: "w1", Status: v1.TaskRunning, SessionID: "sess-9",
	})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), "tenant-a", task.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskRunning, got.Status)
	assert.Equal(t, "sess-9", got.SessionID)
}

func TestService_EndSession_CancelsAllNonTerminal(t *testing.T) {
	svc, _, _, events := newTestService(false, true)
	ctx := context.Background()

	t1, _ := svc.Create(ctx, "tenant-a", CreateRequest{Title: "a", Prompt: "p", SessionID: "sess-1"})
	t2, _ := svc.Create(ctx, "tenant-a", CreateRequest{Title: "b", Prompt: "p", SessionID: "sess-1"})

	cancelled, err := svc.EndSession(ctx, "tenant-a", "sess-1")
	require.NoError(t, err)
	assert.Len(t, cancelled, 2)

	got1, _ := svc.Get(ctx, "tenant-a", t1.ID)
	got2, _ := svc.Get(ctx, "tenant-a", t2.ID)
	assert.Equal(t, v1.TaskCancelled, got1.Status)
	assert.Equal(t, v1.TaskCancelled, got2.Status)

	found := false
	for _, e := range events.published {
		if e.Type == v1.EventSessionEnded {
			found = true
		}
	}
	assert.True(t, found)
}
