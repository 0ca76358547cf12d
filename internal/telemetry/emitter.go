// Package telemetry publishes auth events to observability sinks (OTel logs, Kafka) without
// blocking the request path.
package telemetry

import (
	"context"
	"errors"

	"pharma/backend/internal/telemetry/domain"
)

// EventEmitter emits auth events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.AuthEvent) error
}

// Fanout sends every event to each non-nil emitter and joins their errors.
type Fanout []EventEmitter

// NewFanout drops nil emitters. Returns nil when none remain.
func NewFanout(emitters ...EventEmitter) EventEmitter {
	var out Fanout
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (f Fanout) Emit(ctx context.Context, event *domain.AuthEvent) error {
	var errs []error
	for _, e := range f {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
