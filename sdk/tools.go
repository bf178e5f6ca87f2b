package dodo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dodolabs/dodo-live/pkg/live/protocol"
)

// ToolHandler executes one tool call. The context carries the per-call
// timeout and is cancelled when the model withdraws the call.
type ToolHandler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ToolRegistryOption configures a ToolRegistry.
type ToolRegistryOption func(*ToolRegistry)

// WithToolTimeout bounds each tool execution (default 30s).
func WithToolTimeout(d time.Duration) ToolRegistryOption {
	return func(r *ToolRegistry) {
		r.timeout = d
	}
}

// WithToolLogger sets the registry's logger.
func WithToolLogger(l *slog.Logger) ToolRegistryOption {
	return func(r *ToolRegistry) {
		r.logger = l
	}
}

// ToolRegistry executes model tool calls against registered handlers and
// sends the responses back over the session. Bind attaches it to a client's
// toolcall and toolcallcancellation events; each call runs on its own
// goroutine under a per-call timeout, and a cancellation from the model
// cancels the matching in-flight execution.
type ToolRegistry struct {
	client  *LiveClient
	logger  *slog.Logger
	timeout time.Duration

	handlers map[string]ToolHandler

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	baseCtx context.Context
}

// NewToolRegistry builds a registry bound to nothing; call Register for each
// tool, then Bind once the client exists.
func NewToolRegistry(opts ...ToolRegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		logger:   slog.Default(),
		timeout:  30 * time.Second,
		handlers: map[string]ToolHandler{},
		active:   map[string]context.CancelFunc{},
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs the handler for one tool name, replacing any previous
// handler for that name.
func (r *ToolRegistry) Register(name string, h ToolHandler) {
	r.handlers[strings.TrimSpace(name)] = h
}

// Bind subscribes the registry to the client's tool events and returns an
// unsubscribe function. The context is the parent of every tool execution;
// cancelling it aborts all in-flight calls.
func (r *ToolRegistry) Bind(ctx context.Context, client *LiveClient) func() {
	r.client = client
	r.baseCtx = ctx

	offCall := client.On(EventToolCall, func(ev Event) {
		for _, call := range ev.(ToolCallEvent).FunctionCalls {
			r.dispatch(call.Name, call.ID, call.Args)
		}
	})
	offCancel := client.On(EventToolCallCancellation, func(ev Event) {
		r.cancelCalls(ev.(ToolCallCancellationEvent).IDs)
	})
	return func() {
		offCall()
		offCancel()
	}
}

func (r *ToolRegistry) dispatch(name, id string, args map[string]any) {
	handler, ok := r.handlers[strings.TrimSpace(name)]
	if !ok {
		r.logger.Warn("tools: no handler registered", "tool", name)
		r.respondError(id, name, "tool_not_registered",
			fmt.Sprintf("tool %q is not registered", strings.TrimSpace(name)))
		return
	}

	callCtx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
	r.mu.Lock()
	r.active[id] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.active, id)
			r.mu.Unlock()
		}()

		result, err := handler(callCtx, args)
		switch {
		case errors.Is(err, context.Canceled):
			// The model withdrew the call; nothing is waiting on a response.
			r.logger.Debug("tools: call cancelled", "tool", name, "id", id)
		case errors.Is(err, context.DeadlineExceeded):
			r.respondError(id, name, "tool_timeout", "tool execution timed out")
		case err != nil:
			r.logger.Warn("tools: execution failed", "tool", name, "error", err)
			r.respondError(id, name, "tool_execution_failed", strings.TrimSpace(err.Error()))
		default:
			if result == nil {
				result = map[string]any{}
			}
			r.respond(id, name, result)
		}
	}()
}

func (r *ToolRegistry) cancelCalls(ids []string) {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(ids))
	for _, id := range ids {
		if fn, ok := r.active[id]; ok {
			cancels = append(cancels, fn)
		}
	}
	r.mu.Unlock()
	for _, fn := range cancels {
		fn()
	}
}

func (r *ToolRegistry) respond(id, name string, result map[string]any) {
	err := r.client.SendToolResponse([]protocol.FunctionResponse{{
		ID:       id,
		Name:     name,
		Response: result,
	}})
	if err != nil {
		r.logger.Warn("tools: failed to send response", "tool", name, "error", err)
	}
}

func (r *ToolRegistry) respondError(id, name, code, message string) {
	r.respond(id, name, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
