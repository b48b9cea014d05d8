package cqrs

import (
	"context"
	"errors"
)

// ErrQueryBusShuttingDown is returned when a query is dispatched to a bus that is shutting down.
var ErrQueryBusShuttingDown = errors.New("query bus is shutting down")

// DefaultQueryBus is a simple implementation of the QueryBus interface.
type DefaultQueryBus struct {
	*Bus
}

// NewQueryBus creates a new DefaultQueryBus that shuts down with ctx.
func NewQueryBus(ctx context.Context) *DefaultQueryBus {
	b := &DefaultQueryBus{
		Bus: NewBus("query"),
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			b.Shutdown()
		}()
	}

	return b
}

// Register registers a query handler. The handler must implement
// QueryHandler[Q, R] for some Query type Q.
func (b *DefaultQueryBus) Register(handler interface{}) error {
	return b.Bus.register(handler, 2)
}

// Dispatch sends a query to its appropriate handler and returns the result.
func (b *DefaultQueryBus) Dispatch(ctx context.Context, query Query) (interface{}, error) {
	results, err := b.Bus.call(ctx, query)
	if err != nil {
		if errors.Is(err, errShutdown) {
			return nil, ErrQueryBusShuttingDown
		}
		return nil, err
	}

	if !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}
