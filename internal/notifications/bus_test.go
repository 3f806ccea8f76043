package notifications_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"syncdock/internal/config"
	"syncdock/internal/notifications"
)

func TestBusPublishInvokesAllSubscribers(t *testing.T) {
	bus := notifications.NewBus()
	var first, second int
	bus.Subscribe(func() { first++ })
	bus.Subscribe(func() { second++ })

	bus.Publish()
	bus.Publish()

	if first != 2 || second != 2 {
		t.Errorf("callbacks fired %d/%d times, want 2/2", first, second)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := notifications.NewBus()
	var calls int
	cancel := bus.Subscribe(func() { calls++ })
	bus.Publish()
	cancel()
	bus.Publish()

	if calls != 1 {
		t.Errorf("callback fired %d times after unsubscribe, want 1", calls)
	}
}

func TestNewSinkReturnsNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	sink := notifications.NewSink(&cfg)
	if _, ok := sink.(notifications.NoopSink); !ok {
		t.Fatalf("expected NoopSink, got %T", sink)
	}
}

func TestNtfySinkSendsMountFailure(t *testing.T) {
	var gotTitle, gotPriority, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	sink := notifications.NewSink(&cfg)

	sink.MountResult(context.Background(), "remote1", "default", context.DeadlineExceeded)

	if gotTitle != "syncdock - Mount Failed" {
		t.Errorf("Title = %q", gotTitle)
	}
	if gotPriority != "high" {
		t.Errorf("Priority = %q", gotPriority)
	}
	if gotBody == "" {
		t.Error("expected message body")
	}
}
