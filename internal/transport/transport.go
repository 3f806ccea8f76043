package transport

import (
	"context"
	"errors"
)

// Transport executes a single rc endpoint call.
type Transport interface {
	Call(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error)
}

// ErrUnsupportedFallback indicates an endpoint has no CLI equivalent.
var ErrUnsupportedFallback = errors.New("endpoint has no command-line fallback")

// ErrDaemonUnavailable indicates an operation that requires the rc channel
// was attempted while the daemon is not ready.
var ErrDaemonUnavailable = errors.New("operation requires active rc connection")

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error)

func (f Func) Call(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error) {
	return f(ctx, endpoint, params)
}
