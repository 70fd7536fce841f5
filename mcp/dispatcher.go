package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"bch-mcp-server/session"

	"github.com/mark3labs/mcp-go/mcp"
)

// Call is one decoded tools/call envelope.
type Call struct {
	Name      string
	Arguments map[string]any
	ID        any
}

// Output lets a handler return explicit content blocks next to its value.
type Output struct {
	Blocks []mcp.Content
	Value  any
}

// Result is the dispatcher's answer to a Call: either content plus the
// normalized value, or a structured error.
type Result struct {
	Content []mcp.Content
	Value   any
	Err     *ToolError
}

func (r Result) IsError() bool { return r.Err != nil }

// CallToolResult renders r in the mcp-go result shape used by the stdio
// transport and by tools/call responses.
func (r Result) CallToolResult() *mcp.CallToolResult {
	if r.Err != nil {
		payload, _ := json.Marshal(r.Err)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{Content: r.Content}
}

// Observer receives one report per dispatched call.
type Observer func(ctx context.Context, tool, outcome string, elapsed time.Duration)

// Dispatcher validates calls against the registry and runs their handlers.
// It keeps no state between calls.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	observe  Observer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCallTimeout bounds every call that does not set its own timeout.
func WithCallTimeout(d time.Duration) DispatcherOption {
	return func(ds *Dispatcher) { ds.timeout = d }
}

// WithObserver installs a per-call hook (metrics, audit).
func WithObserver(o Observer) DispatcherOption {
	return func(ds *Dispatcher) { ds.observe = o }
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the tool table.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs one call. It never panics and never returns a transport
// error: every failure comes back as Result.Err.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic in tool %s: %v\n%s", call.Name, r, debug.Stack())
			res = Result{Err: NewInternalError(call.Name, fmt.Sprintf("tool panicked: %v", r))}
		}
		if d.observe != nil {
			outcome := "ok"
			if res.Err != nil {
				outcome = res.Err.Code
			}
			d.observe(ctx, call.Name, outcome, time.Since(start))
		}
	}()

	op, ok := d.registry.Lookup(call.Name)
	if !ok {
		return Result{Err: NewUnknownOperationError(call.Name, d.registry.Names())}
	}

	args, verr := validateArgs(op.Tool, call.Arguments)
	if verr != nil {
		return Result{Err: verr.ToToolError()}
	}

	ctx, cancel := d.callContext(ctx, op)
	defer cancel()

	value, err := op.Handler(ctx, args)
	if err != nil {
		return Result{Err: d.toToolError(ctx, call.Name, err)}
	}
	return buildResult(value)
}

// callContext applies the timeout and ties the call to its session so that
// closing the session aborts it.
func (d *Dispatcher) callContext(ctx context.Context, op Operation) (context.Context, context.CancelFunc) {
	ctx, cancelCause := context.WithCancelCause(ctx)
	stop := func() bool { return false }
	if s, ok := session.FromContext(ctx); ok {
		stop = context.AfterFunc(s.Context(), func() { cancelCause(session.ErrClosed) })
	}

	timeout := d.timeout
	if op.Timeout != 0 {
		timeout = op.Timeout
	}
	cancelTimeout := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {
		stop()
		cancelTimeout()
		cancelCause(nil)
	}
}

func (d *Dispatcher) toToolError(ctx context.Context, tool string, err error) *ToolError {
	if te, ok := IsToolError(err); ok {
		if te.Tool == "" {
			te.Tool = tool
		}
		return te
	}
	if ve, ok := IsValidationError(err); ok {
		if ve.Tool == "" {
			ve.Tool = tool
		}
		return ve.ToToolError()
	}
	if errors.Is(err, session.ErrClosed) || errors.Is(context.Cause(ctx), session.ErrClosed) {
		return NewSessionClosedError(tool)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(tool, err)
	}
	return NewDelegatedError(tool, err)
}

func buildResult(value any) Result {
	if out, ok := value.(*Output); ok {
		normalized := Normalize(out.Value)
		blocks := out.Blocks
		if len(blocks) == 0 {
			blocks = []mcp.Content{textBlock(normalized)}
		}
		return Result{Content: blocks, Value: normalized}
	}
	normalized := Normalize(value)
	return Result{Content: []mcp.Content{textBlock(normalized)}, Value: normalized}
}

func textBlock(v any) mcp.Content {
	if s, ok := v.(string); ok {
		return mcp.NewTextContent(s)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return mcp.NewTextContent(fmt.Sprintf("%v", v))
	}
	return mcp.NewTextContent(string(payload))
}
