// Package cqrs implements the Command Query Responsibility Segregation pattern.
package cqrs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// errShutdown is translated by each bus into its exported sentinel.
var errShutdown = errors.New("bus is shutting down")

// NameProvider is an interface for both Command and Query types
// that provides a way to get the name of the message.
type NameProvider interface {
	// Name returns the name of the message (command or query).
	Name() string
}

// ActionProvider defines handler registration and lifecycle control shared by
// both buses.
type ActionProvider interface {
	// Register registers a handler for a specific message type.
	Register(handler interface{}) error

	// Shutdown initiates a graceful shutdown of the bus.
	// New messages will be rejected, but existing messages will be allowed to complete.
	Shutdown()

	// WaitForCompletion waits for all active messages to complete.
	WaitForCompletion()
}

// Bus is a generic implementation that can be used by both command and query buses.
type Bus struct {
	handlers       map[string]interface{}
	mutex          sync.RWMutex
	isShuttingDown bool
	activeMessages sync.WaitGroup
	busType        string // "command" or "query"
}

// NewBus creates a new Bus with the specified type.
func NewBus(busType string) *Bus {
	return &Bus{
		handlers: make(map[string]interface{}),
		busType:  busType,
	}
}

// handleMethod validates the handler shape and returns its Handle method.
// Handle must accept (context.Context, message) and return wantOut values.
func (b *Bus) handleMethod(handler interface{}, wantOut int) (reflect.Method, error) {
	handlerType := reflect.TypeOf(handler)
	if handlerType == nil || handlerType.Kind() != reflect.Ptr {
		return reflect.Method{}, fmt.Errorf("handler must be a pointer to a struct, got %T", handler)
	}

	method, exists := handlerType.MethodByName("Handle")
	if !exists {
		return reflect.Method{}, fmt.Errorf("handler %T does not implement Handle method", handler)
	}

	methodType := method.Type
	if methodType.NumIn() != 3 { // receiver + ctx + message
		return reflect.Method{}, fmt.Errorf("Handle method of %T must accept (context.Context, %s)", handler, b.busType)
	}
	if !methodType.In(1).Implements(contextType) {
		return reflect.Method{}, fmt.Errorf("first parameter of %T.Handle must be a context.Context", handler)
	}
	if methodType.NumOut() != wantOut {
		return reflect.Method{}, fmt.Errorf("Handle method of %T must return %d values", handler, wantOut)
	}
	return method, nil
}

// register stores the handler under the name of the message type it accepts.
func (b *Bus) register(handler interface{}, wantOut int) error {
	method, err := b.handleMethod(handler, wantOut)
	if err != nil {
		return err
	}

	messageType := method.Type.In(2)
	instance, ok := reflect.New(messageType).Elem().Interface().(NameProvider)
	if !ok {
		return fmt.Errorf("parameter type %s does not implement the %s interface", messageType, b.busType)
	}
	messageName := instance.Name()

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, exists := b.handlers[messageName]; exists {
		return fmt.Errorf("handler for %s %s already registered", b.busType, messageName)
	}
	b.handlers[messageName] = handler
	return nil
}

// call invokes the registered handler for msg and returns its raw results.
func (b *Bus) call(ctx context.Context, msg NameProvider) ([]reflect.Value, error) {
	b.mutex.RLock()
	shuttingDown := b.isShuttingDown
	handler, exists := b.handlers[msg.Name()]
	if !shuttingDown {
		b.activeMessages.Add(1)
	}
	b.mutex.RUnlock()

	if shuttingDown {
		return nil, errShutdown
	}
	defer b.activeMessages.Done()

	if !exists {
		return nil, fmt.Errorf("no handler registered for %s %s", b.busType, msg.Name())
	}

	if ctx == nil {
		ctx = context.Background()
	}
	handleMethod := reflect.ValueOf(handler).MethodByName("Handle")
	return handleMethod.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(msg)}), nil
}

// Shutdown initiates a graceful shutdown of the bus.
func (b *Bus) Shutdown() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.isShuttingDown = true
}

// WaitForCompletion waits for all active messages to complete.
func (b *Bus) WaitForCompletion() {
	b.activeMessages.Wait()
}

// IsShuttingDown returns true if the bus is shutting down.
func (b *Bus) IsShuttingDown() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.isShuttingDown
}
