package testsupport

import (
	"context"
	"sync"
)

// Call records one transport invocation.
type Call struct {
	Endpoint string
	Params   map[string]any
}

type scripted struct {
	result map[string]any
	err    error
}

// FakeTransport is a scriptable transport.Transport. Responses are served
// from a per-endpoint FIFO queue first, then from a persistent handler;
// endpoints with neither return an empty result.
type FakeTransport struct {
	mu       sync.Mutex
	calls    []Call
	queues   map[string][]scripted
	handlers map[string]func(params map[string]any) (map[string]any, error)
}

// NewFakeTransport constructs an empty fake.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		queues:   map[string][]scripted{},
		handlers: map[string]func(map[string]any) (map[string]any, error){},
	}
}

// Enqueue scripts a single response for the endpoint.
func (f *FakeTransport) Enqueue(endpoint string, result map[string]any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[endpoint] = append(f.queues[endpoint], scripted{result: result, err: err})
}

// Handle installs a persistent handler for the endpoint.
func (f *FakeTransport) Handle(endpoint string, fn func(params map[string]any) (map[string]any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[endpoint] = fn
}

func (f *FakeTransport) Call(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Endpoint: endpoint, Params: params})
	if queue := f.queues[endpoint]; len(queue) > 0 {
		next := queue[0]
		f.queues[endpoint] = queue[1:]
		f.mu.Unlock()
		return next.result, next.err
	}
	handler := f.handlers[endpoint]
	f.mu.Unlock()

	if handler != nil {
		return handler(params)
	}
	return map[string]any{}, nil
}

// Calls returns a copy of every recorded call.
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns recorded calls for one endpoint.
func (f *FakeTransport) CallsTo(endpoint string) []Call {
	var matched []Call
	for _, call := range f.Calls() {
		if call.Endpoint == endpoint {
			matched = append(matched, call)
		}
	}
	return matched
}

// Endpoints returns the endpoint sequence of all recorded calls.
func (f *FakeTransport) Endpoints() []string {
	calls := f.Calls()
	endpoints := make([]string, 0, len(calls))
	for _, call := range calls {
		endpoints = append(endpoints, call.Endpoint)
	}
	return endpoints
}
