package sink

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Record is one inbound NATS message on its way out of the bridge. Payload
// has already been checked to be valid UTF-8 JSON.
type Record struct {
	Subject string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Sink receives every inbound message exactly once. Deliver may block; the
// subscription registry calls it from a single goroutine.
type Sink interface {
	Deliver(ctx context.Context, rec Record) error
	Close() error
}

// Func adapts a function to the Sink interface
type Func func(ctx context.Context, rec Record) error

// Deliver calls f
func (f Func) Deliver(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Close is a no-op
func (f Func) Close() error {
	return nil
}

// Multi fans every record out to all of its sinks
type Multi []Sink

// Deliver delivers rec to every sink, even after a failure, and joins the errors
func (m Multi) Deliver(ctx context.Context, rec Record) error {
	var errs []error
	for i, s := range m {
		if err := s.Deliver(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return stderrors.Join(errs...)
}

// Close closes every sink and joins the errors
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Discard drops every record
var Discard Sink = Func(func(context.Context, Record) error { return nil })
