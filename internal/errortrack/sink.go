// Package errortrack records unexpected failures with the acting user when known. Capture never
// fails the caller.
package errortrack

import (
	"context"
	"time"

	"github.com/google/uuid"
	otellog "go.opentelemetry.io/otel/log"

	"pharma/backend/internal/logger"
)

// Sink captures one unexpected failure. userID may be empty.
type Sink interface {
	Capture(ctx context.Context, text, userID string)
}

// Entry is one row of the errors table.
type Entry struct {
	ID        string
	UserID    string
	Text      string
	CreatedAt time.Time
}

// Recorder persists entries.
type Recorder interface {
	RecordError(ctx context.Context, e *Entry) error
}

// StoreSink writes captured failures through a Recorder.
type StoreSink struct {
	rec Recorder
}

// NewStoreSink returns a Sink backed by rec.
func NewStoreSink(rec Recorder) *StoreSink {
	return &StoreSink{rec: rec}
}

// Capture stores text as a new error row. Store failures are logged, not returned.
func (s *StoreSink) Capture(ctx context.Context, text, userID string) {
	if s == nil || s.rec == nil {
		return
	}
	e := &Entry{ID: uuid.New().String(), UserID: userID, Text: text, CreatedAt: time.Now().UTC()}
	// The request may already be cancelled or its transaction rolled back; record on a detached context.
	if err := s.rec.RecordError(context.WithoutCancel(ctx), e); err != nil {
		logger.Error().Err(err).Str("captured", text).Msg("errortrack: failed to record error")
	}
}

// RecordEmitter is the part of otellog.Logger OTelSink needs.
type RecordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// OTelSink emits captured failures as ERROR log records.
type OTelSink struct {
	logger RecordEmitter
}

// NewOTelSink returns a Sink over l. A nil l disables it.
func NewOTelSink(l RecordEmitter) *OTelSink {
	return &OTelSink{logger: l}
}

// Capture emits text as an ERROR record carrying user_id when it is set.
func (s *OTelSink) Capture(ctx context.Context, text, userID string) {
	if s == nil || s.logger == nil {
		return
	}
	var rec otellog.Record
	rec.SetTimestamp(time.Now().UTC())
	rec.SetSeverity(otellog.SeverityError)
	rec.SetSeverityText("ERROR")
	rec.SetBody(otellog.StringValue(text))
	if userID != "" {
		rec.AddAttributes(otellog.String("user_id", userID))
	}
	s.logger.Emit(ctx, rec)
}

// Multi fans a capture out to every sink and always logs it locally.
type Multi []Sink

// Capture logs text, then forwards it to every non-nil sink in order.
func (m Multi) Capture(ctx context.Context, text, userID string) {
	logger.Error().Str("user_id", userID).Msg(text)
	for _, s := range m {
		if s != nil {
			s.Capture(ctx, text, userID)
		}
	}
}
