package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon runtime snapshot.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Syncdock.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Mount mounts a bookmark slot.
func (c *Client) Mount(bookmark, slot string) (*MountResponse, error) {
	var resp MountResponse
	req := MountRequest{Bookmark: bookmark, Slot: slot}
	if err := c.client.Call("Syncdock.Mount", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unmount unmounts a bookmark slot.
func (c *Client) Unmount(bookmark, slot string) error {
	var resp UnmountResponse
	req := UnmountRequest{Bookmark: bookmark, Slot: slot}
	return c.client.Call("Syncdock.Unmount", req, &resp)
}

// SyncStart launches a sync run for a bookmark slot.
func (c *Client) SyncStart(bookmark, slot string) error {
	var resp SyncStartResponse
	req := SyncStartRequest{Bookmark: bookmark, Slot: slot}
	return c.client.Call("Syncdock.SyncStart", req, &resp)
}

// SyncStop stops the tracked sync job for a bookmark slot.
func (c *Client) SyncStop(bookmark, slot string) (*SyncStopResponse, error) {
	var resp SyncStopResponse
	req := SyncStopRequest{Bookmark: bookmark, Slot: slot}
	if err := c.client.Call("Syncdock.SyncStop", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bookmarks lists all stored bookmarks with their slot records.
func (c *Client) Bookmarks() (*BookmarksResponse, error) {
	var resp BookmarksResponse
	if err := c.client.Call("Syncdock.Bookmarks", BookmarksRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History fetches recent journal entries.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	req := HistoryRequest{Limit: limit}
	if err := c.client.Call("Syncdock.History", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForChange long-polls for a state change notification.
func (c *Client) WaitForChange(waitMillis int) (*WaitForChangeResponse, error) {
	var resp WaitForChangeResponse
	req := WaitForChangeRequest{WaitMillis: waitMillis}
	if err := c.client.Call("Syncdock.WaitForChange", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.client.Call("Syncdock.Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
