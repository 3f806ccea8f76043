package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"syncdock/internal/config"
)

const userAgent = "syncdock/0.1"

// Sink receives user-visible operation results. Implementations are
// fire-and-forget: callers never depend on the return value beyond logging.
type Sink interface {
	MountResult(ctx context.Context, bookmark, slot string, err error)
	UnmountResult(ctx context.Context, bookmark, slot string, err error)
	SyncStarted(ctx context.Context, bookmark, slot string)
	SyncStopped(ctx context.Context, bookmark, slot string)
	SyncFailed(ctx context.Context, bookmark, slot string, err error)
	DaemonDown(ctx context.Context, err error)
}

// NewSink builds a sink backed by ntfy when configured, else a noop.
func NewSink(cfg *config.Config) Sink {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return NoopSink{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfySink{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// NoopSink discards every notification.
type NoopSink struct{}

func (NoopSink) MountResult(context.Context, string, string, error)   {}
func (NoopSink) UnmountResult(context.Context, string, string, error) {}
func (NoopSink) SyncStarted(context.Context, string, string)          {}
func (NoopSink) SyncStopped(context.Context, string, string)          {}
func (NoopSink) SyncFailed(context.Context, string, string, error)    {}
func (NoopSink) DaemonDown(context.Context, error)                    {}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfySink struct {
	endpoint string
	client   *http.Client
}

func slotLabel(bookmark, slot string) string {
	return fmt.Sprintf("%s/%s", bookmark, slot)
}

func (n *ntfySink) MountResult(ctx context.Context, bookmark, slot string, err error) {
	if err == nil {
		n.send(ctx, payload{
			title:   "syncdock - Mounted",
			message: fmt.Sprintf("Mounted %s", slotLabel(bookmark, slot)),
			tags:    []string{"syncdock", "mount"},
		})
		return
	}
	n.send(ctx, payload{
		title:    "syncdock - Mount Failed",
		message:  fmt.Sprintf("Mount %s failed: %v", slotLabel(bookmark, slot), err),
		tags:     []string{"syncdock", "mount", "error"},
		priority: "high",
	})
}

func (n *ntfySink) UnmountResult(ctx context.Context, bookmark, slot string, err error) {
	if err == nil {
		n.send(ctx, payload{
			title:   "syncdock - Unmounted",
			message: fmt.Sprintf("Unmounted %s", slotLabel(bookmark, slot)),
			tags:    []string{"syncdock", "mount"},
		})
		return
	}
	n.send(ctx, payload{
		title:    "syncdock - Unmount Failed",
		message:  fmt.Sprintf("Unmount %s failed: %v", slotLabel(bookmark, slot), err),
		tags:     []string{"syncdock", "mount", "error"},
		priority: "high",
	})
}

func (n *ntfySink) SyncStarted(ctx context.Context, bookmark, slot string) {
	n.send(ctx, payload{
		title:   "syncdock - Sync Started",
		message: fmt.Sprintf("Sync started for %s", slotLabel(bookmark, slot)),
		tags:    []string{"syncdock", "sync"},
	})
}

func (n *ntfySink) SyncStopped(ctx context.Context, bookmark, slot string) {
	n.send(ctx, payload{
		title:   "syncdock - Sync Stopped",
		message: fmt.Sprintf("Sync stopped for %s", slotLabel(bookmark, slot)),
		tags:    []string{"syncdock", "sync"},
	})
}

func (n *ntfySink) SyncFailed(ctx context.Context, bookmark, slot string, err error) {
	n.send(ctx, payload{
		title:    "syncdock - Sync Failed",
		message:  fmt.Sprintf("Sync for %s failed: %v", slotLabel(bookmark, slot), err),
		tags:     []string{"syncdock", "sync", "error"},
		priority: "high",
	})
}

func (n *ntfySink) DaemonDown(ctx context.Context, err error) {
	message := "Daemon connection lost; running in CLI mode"
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	n.send(ctx, payload{
		title:    "syncdock - Daemon Unavailable",
		message:  message,
		tags:     []string{"syncdock", "daemon", "error"},
		priority: "high",
	})
}

func (n *ntfySink) send(ctx context.Context, data payload) {
	endpoint := n.endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://ntfy.sh/" + endpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.message))
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", userAgent)
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
