package taskqueue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/apperrors"
)

// Start launches the periodic re-advertise sweep: every queued-but-
// unclaimed task still in the in-memory layer is re-announced over the
// Push Fabric, which is how a task_available dropped under backpressure
// reaches a slow worker eventually. Entries whose Store row is no longer
// claimable are evicted from the cache instead, keeping it read-through.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.wg.Add(1)
	go s.sweepLoop(ctx, interval)
}

func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	s.mu.Lock()
	heaps := make([]*Heap, 0, len(s.heaps))
	for _, h := range s.heaps {
		heaps = append(heaps, h)
	}
	s.mu.Unlock()

	for _, h := range heaps {
		for _, qt := range h.List() {
			task, err := s.store.GetTask(ctx, qt.TenantID, qt.TaskID)
			if err != nil {
				if apperrors.IsNotFound(err) {
					h.Remove(qt.TaskID)
				} else {
					s.log.WithTaskID(qt.TaskID).WithError(err).Warn("re-advertise sweep read failed")
				}
				continue
			}
			if !task.Status.Claimable() {
				h.Remove(qt.TaskID)
				continue
			}
			if s.push != nil {
				s.push.NotifyTaskAvailable(task)
			}
		}
	}
	s.log.Debug("re-advertise sweep completed", zap.Int("codebase_heaps", len(heaps)))
}
