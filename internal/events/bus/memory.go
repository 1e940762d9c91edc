package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/logger"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// MemoryEventBus is an in-process EventBus, the default for local
// development and for unit tests of components that only need the
// fan-out contract, not a real broker.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	log    *logger.Logger
	closed bool
}

type memorySub struct {
	bus     *MemoryEventBus
	subject string
	pattern *regexp.Regexp
	handler Handler

	mu     sync.Mutex
	active bool
}

func (s *memorySub) Unsubscribe() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{subs: make(map[string][]*memorySub), log: log}
}

// Publish delivers evt to every matching subscription's handler in its
// own goroutine, so a slow or failing subscriber never blocks the
// publisher.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, evt v1.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("events: bus is closed")
	}

	for pattern, subs := range b.subs {
		if !matches(subject, pattern) {
			continue
		}
		for _, sub := range subs {
			sub.mu.Lock()
			active := sub.active
			sub.mu.Unlock()
			if !active {
				continue
			}
			go func(s *memorySub) {
				if err := s.handler(ctx, evt); err != nil {
					b.log.Error("event handler failed",
						zap.String("subject", subject), zap.String("event_type", evt.Type), zap.Error(err))
				}
			}(sub)
		}
	}
	return nil
}

func (b *MemoryEventBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("events: bus is closed")
	}
	sub := &memorySub{bus: b, subject: subject, pattern: compilePattern(subject), handler: handler, active: true}
	b.subs[subject] = append(b.subs[subject], sub)
	return sub, nil
}

func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
		}
	}
	b.subs = make(map[string][]*memorySub)
}

func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// matches supports NATS-style "*" (single token) and ">" (remaining
// tokens) wildcards in subject patterns.
func matches(subject, pattern string) bool {
	if !strings.ContainsAny(pattern, "*>") {
		return subject == pattern
	}
	re := compilePattern(pattern)
	return re != nil && re.MatchString(subject)
}

func compilePattern(pattern string) *regexp.Regexp {
	if !strings.ContainsAny(pattern, "*>") {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `\>`, `.+`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}
