package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sort"
	"sync"
	"time"

	"log/slog"

	"syncdock/internal/daemon"
	"syncdock/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. onShutdown
// fires when a client requests daemon shutdown; it must not block.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, onShutdown func()) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx, onShutdown: onShutdown}
	if err := rpcServer.RegisterName("Syncdock", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon     *daemon.Daemon
	logger     *slog.Logger
	ctx        context.Context
	onShutdown func()
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.CLIOnly = status.CLIOnly
	resp.RCState = status.RCState
	resp.RCEndpoint = status.RCEndpoint
	resp.PID = status.PID
	resp.RCPID = status.RCPID
	resp.LockPath = status.LockPath
	resp.HistoryPath = status.HistoryPath
	resp.Mounts = make([]MountStatus, 0, len(status.Mounts))
	for _, m := range status.Mounts {
		resp.Mounts = append(resp.Mounts, MountStatus{
			Bookmark:   m.Bookmark,
			Slot:       m.Slot,
			Path:       m.Path,
			RemoteSpec: m.RemoteSpec,
			MountedAt:  m.MountedAt,
		})
	}
	resp.Jobs = make([]SyncStatus, 0, len(status.Jobs))
	for _, j := range status.Jobs {
		resp.Jobs = append(resp.Jobs, SyncStatus{
			Bookmark:   j.Bookmark,
			Slot:       j.Slot,
			JobID:      j.JobID,
			Mode:       string(j.Mode),
			StartedAt:  j.StartedAt,
			Recovering: j.Recovering,
		})
	}
	sort.Slice(resp.Jobs, func(i, j int) bool {
		if resp.Jobs[i].Bookmark != resp.Jobs[j].Bookmark {
			return resp.Jobs[i].Bookmark < resp.Jobs[j].Bookmark
		}
		return resp.Jobs[i].Slot < resp.Jobs[j].Slot
	})
	return nil
}

func (s *service) Mount(req MountRequest, resp *MountResponse) error {
	s.logger.Debug("mount requested",
		logging.String(logging.FieldBookmark, req.Bookmark),
		logging.String(logging.FieldSlot, req.Slot))
	path, err := s.daemon.Mount(s.ctx, req.Bookmark, req.Slot)
	if err != nil {
		return err
	}
	resp.Path = path
	return nil
}

func (s *service) Unmount(req UnmountRequest, _ *UnmountResponse) error {
	s.logger.Debug("unmount requested",
		logging.String(logging.FieldBookmark, req.Bookmark),
		logging.String(logging.FieldSlot, req.Slot))
	return s.daemon.Unmount(s.ctx, req.Bookmark, req.Slot)
}

func (s *service) SyncStart(req SyncStartRequest, _ *SyncStartResponse) error {
	s.logger.Debug("sync start requested",
		logging.String(logging.FieldBookmark, req.Bookmark),
		logging.String(logging.FieldSlot, req.Slot))
	return s.daemon.SyncStart(s.ctx, req.Bookmark, req.Slot)
}

func (s *service) SyncStop(req SyncStopRequest, resp *SyncStopResponse) error {
	s.logger.Debug("sync stop requested",
		logging.String(logging.FieldBookmark, req.Bookmark),
		logging.String(logging.FieldSlot, req.Slot))
	stopped, err := s.daemon.SyncStop(s.ctx, req.Bookmark, req.Slot)
	if err != nil {
		return err
	}
	resp.Stopped = stopped
	return nil
}

func (s *service) Bookmarks(_ BookmarksRequest, resp *BookmarksResponse) error {
	details, err := s.daemon.Bookmarks(s.ctx)
	if err != nil {
		return err
	}
	resp.Bookmarks = make([]BookmarkInfo, 0, len(details))
	for _, detail := range details {
		info := BookmarkInfo{
			Name: detail.Bookmark.Name,
			Type: detail.Bookmark.Type,
		}
		for name, slot := range detail.MountSlots {
			info.MountSlots = append(info.MountSlots, MountSlotInfo{
				Name:       name,
				Enabled:    slot.Enabled,
				Path:       slot.Path,
				RemotePath: slot.RemotePath,
				Options:    slot.Options,
			})
		}
		sort.Slice(info.MountSlots, func(i, j int) bool {
			return info.MountSlots[i].Name < info.MountSlots[j].Name
		})
		for name, slot := range detail.SyncSlots {
			info.SyncSlots = append(info.SyncSlots, SyncSlotInfo{
				Name:        name,
				LocalPath:   slot.LocalPath,
				RemotePath:  slot.RemotePath,
				Mode:        string(slot.Mode),
				Direction:   string(slot.Direction),
				Initialized: slot.Initialized,
			})
		}
		sort.Slice(info.SyncSlots, func(i, j int) bool {
			return info.SyncSlots[i].Name < info.SyncSlots[j].Name
		})
		resp.Bookmarks = append(resp.Bookmarks, info)
	}
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	entries, err := s.daemon.History(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Entries = make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, HistoryEntry{
			ID:         entry.ID,
			Bookmark:   entry.Bookmark,
			Slot:       entry.Slot,
			Kind:       entry.Kind,
			JobID:      entry.JobID,
			Outcome:    entry.Outcome,
			Detail:     entry.Detail,
			StartedAt:  entry.StartedAt,
			FinishedAt: entry.FinishedAt,
		})
	}
	return nil
}

// WaitForChange blocks until the daemon publishes a change notification or
// the requested wait elapses. Frontends use it as a cheap long-poll instead
// of re-fetching status on a timer.
func (s *service) WaitForChange(req WaitForChangeRequest, resp *WaitForChangeResponse) error {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 {
		wait = 30 * time.Second
	}

	changed := make(chan struct{}, 1)
	unsubscribe := s.daemon.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	select {
	case <-changed:
		resp.Changed = true
	case <-time.After(wait):
	case <-s.ctx.Done():
	}
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.logger.Info("shutdown requested via IPC")
	resp.Stopping = true
	if s.onShutdown != nil {
		s.onShutdown()
	}
	return nil
}
