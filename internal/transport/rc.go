package transport

import (
	"context"
	"sync"
	"time"

	"syncdock/internal/rcclient"
)

// Endpoint supplies the live rc address and credentials. Implemented by the
// rcdaemon supervisor.
type Endpoint interface {
	Ready() bool
	Endpoint() string
	Credentials() (user, pass string)
}

// RC routes calls over the daemon's HTTP remote-control API. The underlying
// client is rebuilt whenever the endpoint or credentials change, which
// happens on every daemon restart.
type RC struct {
	source  Endpoint
	timeout time.Duration

	mu     sync.Mutex
	client *rcclient.Client
	addr   string
	user   string
}

// NewRC constructs the rc transport over the given endpoint source.
func NewRC(source Endpoint, timeout time.Duration) *RC {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RC{source: source, timeout: timeout}
}

func (r *RC) Call(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error) {
	addr := r.source.Endpoint()
	if addr == "" {
		return nil, ErrDaemonUnavailable
	}
	user, pass := r.source.Credentials()

	r.mu.Lock()
	if r.client == nil || r.addr != addr || r.user != user {
		r.client = rcclient.New(addr, user, pass, rcclient.WithTimeout(r.timeout))
		r.addr = addr
		r.user = user
	}
	client := r.client
	r.mu.Unlock()

	return client.Call(ctx, endpoint, params)
}
