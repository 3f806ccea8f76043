package rcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// HTTPDoer describes the HTTP client used for rc calls.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Kind classifies rc call failures.
type Kind int

const (
	// KindTransport covers generic network failures.
	KindTransport Kind = iota
	// KindTimeout covers deadline expiry on the request.
	KindTimeout
	// KindConnReset covers connection-reset and hang-up class failures;
	// these are the only failures retried.
	KindConnReset
	// KindHTTP covers non-2xx responses without a daemon error payload.
	KindHTTP
	// KindDaemon covers responses carrying an explicit error field.
	KindDaemon
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnReset:
		return "connection reset"
	case KindHTTP:
		return "http error"
	case KindDaemon:
		return "daemon error"
	default:
		return "transport error"
	}
}

// Error is the classified failure returned by Call.
type Error struct {
	Kind     Kind
	Endpoint string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rc %s: %s", e.Endpoint, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil && e.Message == "" {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an rc Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var rcErr *Error
	return errors.As(err, &rcErr) && rcErr.Kind == kind
}

// IsJobNotFound reports whether err is the daemon's response for a job id it
// no longer tracks (expired, or the daemon restarted).
func IsJobNotFound(err error) bool {
	var rcErr *Error
	if !errors.As(err, &rcErr) || rcErr.Kind != KindDaemon {
		return false
	}
	return strings.Contains(strings.ToLower(rcErr.Message), "job not found")
}

const retryDelay = time.Second

// Client issues rc calls against a fixed endpoint with basic auth.
type Client struct {
	baseURL string
	user    string
	pass    string
	client  HTTPDoer
	timeout time.Duration
	sleep   func(time.Duration)
}

// Option configures the client.
type Option func(*Client)

// WithHTTPDoer overrides the HTTP client, used in tests.
func WithHTTPDoer(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.client = doer
		}
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func withSleep(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

// New constructs a client for the rc API at addr (host:port).
func New(addr, user, pass string, opts ...Option) *Client {
	c := &Client{
		baseURL: "http://" + strings.TrimSpace(addr),
		user:    user,
		pass:    pass,
		timeout: 30 * time.Second,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Call posts params to the given endpoint and decodes the JSON response.
// Connection-reset class failures are retried once after a short delay; all
// other failures propagate as a classified *Error.
func (c *Client) Call(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error) {
	result, err := c.callOnce(ctx, endpoint, params)
	if err == nil {
		return result, nil
	}
	if IsKind(err, KindConnReset) && ctx.Err() == nil {
		c.sleep(retryDelay)
		return c.callOnce(ctx, endpoint, params)
	}
	return nil, err
}

func (c *Client) callOnce(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Err: fmt.Errorf("encode params: %w", err)}
	}

	callCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url := c.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: classifyTransport(err), Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: classifyTransport(err), Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	var decoded map[string]any
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &decoded); err != nil && resp.StatusCode < 400 {
			return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	if msg, ok := daemonError(decoded); ok {
		return nil, &Error{Kind: KindDaemon, Endpoint: endpoint, Status: resp.StatusCode, Message: msg}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{
			Kind:     KindHTTP,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  strings.TrimSpace(string(payload)),
		}
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	return decoded, nil
}

func daemonError(decoded map[string]any) (string, bool) {
	if decoded == nil {
		return "", false
	}
	raw, ok := decoded["error"]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	default:
		return fmt.Sprintf("%v", raw), true
	}
}

func classifyTransport(err error) Kind {
	if err == nil {
		return KindTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindConnReset
	}
	// http transports wrap hang-ups in plain error strings.
	msg := err.Error()
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") {
		return KindConnReset
	}
	return KindTransport
}
