// Package events implements the outbound Event Publisher: fire-and-forget
// delivery of structured task/session events to an external HTTP event
// bus, guarded by bounded exponential backoff and a circuit breaker.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	"github.com/kandev/dispatchd/internal/common/logger"
	"github.com/kandev/dispatchd/internal/common/tracing"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// Config carries the Event Publisher's timing and endpoint knobs.
type Config struct {
	Enabled    bool
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// Publisher posts CloudEvent-shaped envelopes to an external HTTP sink.
// When disabled it is a no-op that always succeeds, the documented
// default for local development.
type Publisher struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
}

func NewPublisher(cfg Config) *Publisher {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "event-publisher",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Publisher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		log:     logger.Default().WithFields(zap.String("component", "event-publisher")),
	}
}

// Publish delivers evt with bounded exponential backoff on 5xx/transport
// errors; 4xx responses are terminal. The circuit breaker wraps each
// attempt so a persistently-down sink fails fast instead of burning the
// full retry budget on every call.
func (p *Publisher) Publish(ctx context.Context, evt v1.Event) error {
	if !p.cfg.Enabled {
		return nil
	}

	ctx, span := tracing.Tracer("event-publisher").Start(ctx, "events.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", evt.Type),
		attribute.String("event.id", evt.ID),
	)

	delay := p.cfg.BaseDelay
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.post(ctx, evt)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetStatus(codes.Error, "circuit open")
			return apperrors.Wrap(apperrors.CodeUpstreamUnavail, "event sink circuit open", err)
		}
		if isTerminal(err) {
			span.SetStatus(codes.Error, "sink rejected event")
			return err
		}
		lastErr = err

		p.log.Warn("event publish attempt failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "cancelled")
			return apperrors.Wrap(apperrors.CodeUpstreamUnavail, "event publish cancelled", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	span.SetStatus(codes.Error, "retries exhausted")
	return apperrors.Wrap(apperrors.CodeUpstreamUnavail, "event publish exhausted retries", lastErr)
}

// terminalErr marks a 4xx response: retrying would not help.
type terminalErr struct{ error }

func isTerminal(err error) bool {
	_, ok := err.(terminalErr)
	return ok
}

func (p *Publisher) post(ctx context.Context, evt v1.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return terminalErr{fmt.Errorf("events: marshal event: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return terminalErr{fmt.Errorf("events: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/cloudevents+json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("events: transport error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return terminalErr{fmt.Errorf("events: sink rejected event: status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("events: sink returned status %d", resp.StatusCode)
	}
}
