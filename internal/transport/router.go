package transport

import (
	"context"
	"log/slog"

	"syncdock/internal/logging"
)

// Readiness reports whether the rc channel is usable. Implemented by the
// rcdaemon supervisor.
type Readiness interface {
	Ready() bool
}

// Router picks the transport per call: rc while the daemon is ready, the CLI
// fallback for allow-listed endpoints otherwise. It holds no state beyond
// reading the supervisor's current status.
type Router struct {
	readiness Readiness
	rc        Transport
	cli       *CLI
	logger    *slog.Logger
}

// NewRouter constructs a router over the rc transport and CLI fallback.
func NewRouter(readiness Readiness, rc Transport, cli *CLI, logger *slog.Logger) *Router {
	return &Router{
		readiness: readiness,
		rc:        rc,
		cli:       cli,
		logger:    logging.NewComponentLogger(logger, "transport"),
	}
}

func (r *Router) Call(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error) {
	if r.readiness.Ready() {
		result, err := r.rc.Call(ctx, endpoint, params)
		if err == nil {
			return result, nil
		}
		if r.cli.Supports(endpoint) {
			r.logger.Debug("rc call failed, using cli fallback",
				logging.String(logging.FieldEndpoint, endpoint),
				logging.Error(err))
			return r.cli.Call(ctx, endpoint, params)
		}
		return nil, err
	}

	if r.cli.Supports(endpoint) {
		return r.cli.Call(ctx, endpoint, params)
	}
	return nil, ErrDaemonUnavailable
}
