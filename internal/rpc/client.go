package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a connection to a running daemon's RPC facade, reusing one
// persistent socket across calls (spec §6 transport).
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	timeout time.Duration
}

// Dial connects to the daemon advertised at socketPath, following the
// same network/address resolution DiscoverEndpoint uses.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	network, addr, err := DiscoverEndpoint(socketPath)
	if err != nil {
		return nil, err
	}
	var conn net.Conn
	switch network {
	case "unix":
		conn, err = dialRPC(addr, timeout)
	case "tcp":
		conn, err = dialTCP(addr, timeout)
	default:
		return nil, fmt.Errorf("rpc: unsupported network %q", network)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn), writer: bufio.NewWriter(conn), timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// Call sends one Request and waits for its Response. A failure the server
// reports comes back in Response.Error (ErrorBody.Code names the
// internal/woterrors sentinel), not as Call's error, which covers only
// transport and encoding failures.
func (c *Client) Call(ctx context.Context, op Op, params any) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}

	data, err := json.Marshal(&Request{Op: op, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := c.writer.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, fmt.Errorf("flush request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
