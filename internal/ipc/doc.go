// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI and the tray frontend.
//
// It owns socket lifecycle management and the request/response DTOs. The
// server embeds the daemon; WaitForChange gives frontends a long-poll hook
// into the change notification bus so they refresh on events instead of
// timers.
package ipc
