// Package bus provides the internal pub/sub fabric the control plane uses
// to fan its own domain events (task.*, session.*) out to in-process
// subscribers, independent of the outbound HTTP Event Publisher.
package bus

import (
	"context"

	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// Handler processes one delivered event.
type Handler func(ctx context.Context, evt v1.Event) error

// Subscription is returned by Subscribe; Unsubscribe stops delivery.
type Subscription interface {
	Unsubscribe()
}

// EventBus is the control plane's internal event fabric contract,
// carrying the fixed v1.Event envelope.
type EventBus interface {
	Publish(ctx context.Context, subject string, evt v1.Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
