// Package dispatch routes command-channel requests to their handlers.
package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/avaropoint/mcc/internal/protocol"
)

// UnknownCommand is the error message for unregistered command types.
const UnknownCommand = "unknown command"

// Handler answers one command. It must not retain cmd.Data.
type Handler func(ctx context.Context, cmd protocol.Command) protocol.Response

// Dispatcher holds a fixed table of command handlers. Register every
// handler before the first Dispatch; the table is not locked.
type Dispatcher struct {
	handlers map[string]Handler
	log      *slog.Logger
}

// New creates an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		log:      logger.With("component", "dispatch"),
	}
}

// Handle registers h for a command type, replacing any earlier handler.
func (d *Dispatcher) Handle(cmdType string, h Handler) {
	d.handlers[cmdType] = h
}

// Types returns the registered command types.
func (d *Dispatcher) Types() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	return types
}

// Dispatch runs the handler for cmd.Type and always returns a response:
// unknown types and handler panics become error responses.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) (resp protocol.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", "type", cmd.Type, "panic", r, "stack", string(debug.Stack()))
			resp = protocol.Failure("internal error handling %s: %v", cmd.Type, r)
		}
		if resp.Status != protocol.StatusSuccess && resp.Status != protocol.StatusError {
			resp = protocol.Failure("handler for %s returned invalid status %q", cmd.Type, resp.Status)
		}
		d.log.Debug("dispatched", "type", cmd.Type, "status", resp.Status, "duration", time.Since(start))
	}()

	h, ok := d.handlers[cmd.Type]
	if !ok {
		d.log.Warn("unknown command", "type", cmd.Type)
		return protocol.Failure(UnknownCommand)
	}
	return h(ctx, cmd)
}

// Bind decodes cmd.Data into a T and calls fn, answering malformed data
// with an error response.
func Bind[T any](fn func(ctx context.Context, req T) protocol.Response) Handler {
	return func(ctx context.Context, cmd protocol.Command) protocol.Response {
		var req T
		if err := cmd.Bind(&req); err != nil {
			return protocol.Failure("invalid %s data: %v", cmd.Type, err)
		}
		return fn(ctx, req)
	}
}

// Result adapts a (value, error) function into a handler.
func Result[T any](fn func(ctx context.Context) (T, error)) Handler {
	return func(ctx context.Context, cmd protocol.Command) protocol.Response {
		v, err := fn(ctx)
		if err != nil {
			return protocol.Failure("%s: %v", cmd.Type, err)
		}
		return protocol.Success(v)
	}
}
