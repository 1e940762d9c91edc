package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/logger"
	"github.com/kandev/dispatchd/internal/events/bus"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// Fanout delivers each domain event to the in-process event bus, keyed
// by event type as the subject, and to the outbound HTTP sink. The bus
// leg is best-effort (in-process subscribers are observers, not a
// delivery route); the outbound leg's result decides success, since it
// may be a task's sole delivery route.
type Fanout struct {
	bus bus.EventBus
	out *Publisher
	log *logger.Logger
}

func NewFanout(b bus.EventBus, out *Publisher) *Fanout {
	return &Fanout{
		bus: b,
		out: out,
		log: logger.Default().WithFields(zap.String("component", "event-fanout")),
	}
}

func (f *Fanout) Publish(ctx context.Context, evt v1.Event) error {
	if f.bus != nil {
		if err := f.bus.Publish(ctx, evt.Type, evt); err != nil {
			f.log.Warn("in-process event fan-out failed",
				zap.String("event_type", evt.Type), zap.Error(err))
		}
	}
	return f.out.Publish(ctx, evt)
}
