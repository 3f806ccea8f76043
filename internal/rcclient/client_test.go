package rcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	addr := strings.TrimPrefix(server.URL, "http://")
	opts = append([]Option{withSleep(func(time.Duration) {})}, opts...)
	return New(addr, "user", "pass", opts...), server
}

func TestCallDecodesResult(t *testing.T) {
	var gotAuth bool
	var gotParams map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		gotAuth = ok && user == "user" && pass == "pass"
		_ = json.NewDecoder(r.Body).Decode(&gotParams)
		_ = json.NewEncoder(w).Encode(map[string]any{"version": "v1.66.0"})
	}))

	result, err := client.Call(context.Background(), "core/version", map[string]any{"check": true})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !gotAuth {
		t.Error("expected basic auth credentials on request")
	}
	if gotParams["check"] != true {
		t.Errorf("params not forwarded: %v", gotParams)
	}
	if result["version"] != "v1.66.0" {
		t.Errorf("result = %v", result)
	}
}

func TestCallSurfacesDaemonError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "didn't find section in config file"})
	}))

	_, err := client.Call(context.Background(), "mount/mount", nil)
	if !IsKind(err, KindDaemon) {
		t.Fatalf("expected daemon error, got %v", err)
	}
	if !strings.Contains(err.Error(), "didn't find section") {
		t.Errorf("daemon message lost: %v", err)
	}
}

func TestCallDoesNotRetryHTTPErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}))

	_, err := client.Call(context.Background(), "bogus/endpoint", nil)
	if !IsKind(err, KindHTTP) {
		t.Fatalf("expected http error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly one request, got %d", calls.Load())
	}
}

func TestCallRetriesOnceOnConnectionReset(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			conn.Close()
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))

	result, err := client.Call(context.Background(), "core/stats", nil)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if result["ok"] != true {
		t.Errorf("result = %v", result)
	}
	if calls.Load() != 2 {
		t.Errorf("expected two requests, got %d", calls.Load())
	}
}

func TestCallTimesOut(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}), WithTimeout(50*time.Millisecond))

	_, err := client.Call(context.Background(), "core/version", nil)
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestIsJobNotFound(t *testing.T) {
	err := &Error{Kind: KindDaemon, Endpoint: "job/status", Message: "job not found"}
	if !IsJobNotFound(err) {
		t.Error("expected job-not-found classification")
	}
	other := &Error{Kind: KindDaemon, Endpoint: "job/status", Message: "boom"}
	if IsJobNotFound(other) {
		t.Error("unexpected job-not-found classification")
	}
	httpErr := &Error{Kind: KindHTTP, Endpoint: "job/status", Status: 404, Message: "job not found"}
	if IsJobNotFound(httpErr) {
		t.Error("http errors must not classify as job-not-found")
	}
}
