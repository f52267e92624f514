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

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// Submit starts a run of pipeline (empty selects the default) on input.
func (c *Client) Submit(pipeline, input string) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.call("Submit", SubmitRequest{Pipeline: pipeline, Input: input}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the lifecycle state of a run.
func (c *Client) Status(id string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", RunRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Describe returns the full run record.
func (c *Client) Describe(id string) (*DescribeResponse, error) {
	var resp DescribeResponse
	if err := c.call("Describe", RunRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Result waits up to timeout for the run to finish. A zero timeout returns
// the current state immediately.
func (c *Client) Result(id string, timeout time.Duration) (*ResultResponse, error) {
	var resp ResultResponse
	req := ResultRequest{ID: id, TimeoutMillis: timeout.Milliseconds()}
	if err := c.call("Result", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel stops a run.
func (c *Client) Cancel(id string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.call("Cancel", RunRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resume continues a run from its persisted stage index.
func (c *Client) Resume(id string) (*ResumeResponse, error) {
	var resp ResumeResponse
	if err := c.call("Resume", RunRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns runs optionally filtered by statuses.
func (c *Client) List(statuses []string) (*ListResponse, error) {
	var resp ListResponse
	if err := c.call("List", ListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Workers returns the worker runtime snapshot.
func (c *Client) Workers() (*WorkersResponse, error) {
	var resp WorkersResponse
	if err := c.call("Workers", WorkersRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DaemonStatus retrieves the daemon status.
func (c *Client) DaemonStatus() (*DaemonStatusResponse, error) {
	var resp DaemonStatusResponse
	if err := c.call("DaemonStatus", DaemonStatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health runs the readiness checks inside the daemon.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.call("Health", HealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Remove deletes a terminal run.
func (c *Client) Remove(id string) (*RemoveResponse, error) {
	var resp RemoveResponse
	if err := c.call("Remove", RunRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearCompleted removes every completed run.
func (c *Client) ClearCompleted() (*ClearCompletedResponse, error) {
	var resp ClearCompletedResponse
	if err := c.call("ClearCompleted", ClearCompletedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
