package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"seedmesh/net/wirecodec"
	"seedmesh/swarm/protocol"
)

// RemoteError is a protocol error reported by the other side.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

var ErrNoResponse = errors.New("connection closed without response")

type Client struct {
	// Timeout bounds dial plus the request/response exchange.
	Timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{Timeout: timeout}
}

// Call sends req to addr and waits for one response.
func (c *Client) Call(ctx context.Context, addr string, req protocol.Message) (*protocol.Response, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := wirecodec.Write(conn, req); err != nil {
		return nil, fmt.Errorf("%s to %s: write: %w", req.Kind(), addr, err)
	}

	msg, err := wirecodec.Read(bufio.NewReader(conn))
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrNoResponse
		}
		return nil, fmt.Errorf("%s to %s: read: %w", req.Kind(), addr, err)
	}

	resp, ok := msg.(*protocol.Response)
	if !ok {
		return nil, fmt.Errorf("%s to %s: %w: unexpected %s reply", req.Kind(), addr, wirecodec.ErrMalformed, msg.Kind())
	}
	if !resp.IsOK() {
		return resp, &RemoteError{Message: resp.Message}
	}
	return resp, nil
}

// Send writes req to addr and closes the connection without waiting.
func (c *Client) Send(ctx context.Context, addr string, req protocol.Message) error {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wirecodec.Write(conn, req); err != nil {
		return fmt.Errorf("%s to %s: write: %w", req.Kind(), addr, err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	deadline := time.Now().Add(c.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dial %s: set deadline: %w", addr, err)
	}
	return conn, nil
}
