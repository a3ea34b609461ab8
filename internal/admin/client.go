package admin

import (
	"fmt"
	"net"
	"time"

	"github.com/lesismal/arpc"

	"github.com/hekate-project/hekate/internal/topology"
)

// Client is a thin arpc client for one node's admin service, the basis
// of cmd/hekate-cli, grounded on the teacher's internal/client dialer
// idiom (minus the consistent-hash ring, since admin calls always
// target one specific node rather than a sharded key space).
type Client struct {
	conn    *arpc.Client
	timeout time.Duration
}

// Dial connects to the admin listener at addr.
func Dial(addr string) (*Client, error) {
	conn, err := arpc.NewClient(func() (net.Conn, error) {
		return net.Dial("tcp", addr)
	})
	if err != nil {
		return nil, fmt.Errorf("admin: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: 5 * time.Second}, nil
}

// SetTimeout overrides the default 5s per-call timeout.
func (c *Client) SetTimeout(timeout time.Duration) { c.timeout = timeout }

// Topology fetches the node's current topology snapshot.
func (c *Client) Topology() (topology.Snapshot, error) {
	var resp topology.Snapshot
	if err := c.conn.Call("/admin/topology", &struct{}{}, &resp, c.timeout); err != nil {
		return topology.Snapshot{}, err
	}
	return resp, nil
}

// Locks fetches the node's local lock-region snapshots.
func (c *Client) Locks() (LocksResponse, error) {
	var resp LocksResponse
	if err := c.conn.Call("/admin/locks", &struct{}{}, &resp, c.timeout); err != nil {
		return LocksResponse{}, err
	}
	return resp, nil
}

// Coordination fetches the node's coordination-process snapshots.
func (c *Client) Coordination() (CoordinationResponse, error) {
	var resp CoordinationResponse
	if err := c.conn.Call("/admin/coordination", &struct{}{}, &resp, c.timeout); err != nil {
		return CoordinationResponse{}, err
	}
	return resp, nil
}

// Leave asks the node to leave the cluster gracefully.
func (c *Client) Leave() error {
	var resp LeaveResponse
	if err := c.conn.Call("/admin/leave", &struct{}{}, &resp, c.timeout); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf(resp.Error)
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.conn.Stop()
	return nil
}
