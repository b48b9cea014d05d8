package cqrs

import (
	"context"
	"errors"
)

// ErrCommandBusShuttingDown is returned when a command is dispatched to a bus that is shutting down.
var ErrCommandBusShuttingDown = errors.New("command bus is shutting down")

// DefaultCommandBus is a simple implementation of the CommandBus interface.
type DefaultCommandBus struct {
	*Bus
}

// NewCommandBus creates a new DefaultCommandBus. When ctx is cancelled the
// bus stops accepting new commands.
func NewCommandBus(ctx context.Context) *DefaultCommandBus {
	b := &DefaultCommandBus{
		Bus: NewBus("command"),
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			b.Shutdown()
		}()
	}

	return b
}

// Register registers a command handler. The handler must implement
// CommandHandler[C] for some Command type C.
func (b *DefaultCommandBus) Register(handler interface{}) error {
	return b.Bus.register(handler, 1)
}

// Dispatch sends a command to its appropriate handler.
func (b *DefaultCommandBus) Dispatch(ctx context.Context, cmd Command) error {
	results, err := b.Bus.call(ctx, cmd)
	if err != nil {
		if errors.Is(err, errShutdown) {
			return ErrCommandBusShuttingDown
		}
		return err
	}

	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
