package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/paymesh/paymesh-indexer/internal/events"
)

// ErrNoHandler is returned for an event type missing from the handler table.
var ErrNoHandler = errors.New("no handler registered")

// Handler applies one decoded event.
type Handler interface {
	Handle(ctx context.Context, fields events.Fields) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, fields events.Fields) error

func (f HandlerFunc) Handle(ctx context.Context, fields events.Fields) error {
	return f(ctx, fields)
}

// Typed adapts a handler for one event variant.
func Typed[T events.Fields](fn func(ctx context.Context, e T) error) Handler {
	return HandlerFunc(func(ctx context.Context, fields events.Fields) error {
		e, ok := fields.(T)
		if !ok {
			var want T
			return fmt.Errorf("handler for %T received %T", want, fields)
		}
		return fn(ctx, e)
	})
}

// Table maps event types to their handlers. It is built once per pipeline.
type Table map[events.EventType]Handler

// Chain runs handlers in order and stops at the first error.
func Chain(handlers ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, fields events.Fields) error {
		for _, h := range handlers {
			if err := h.Handle(ctx, fields); err != nil {
				return err
			}
		}
		return nil
	})
}
