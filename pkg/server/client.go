package server

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/command"
)

// Client talks to a command service. It dials lazily and redials after a
// broken connection.
type Client struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	dec  *json.Decoder
}

// NewClient returns a client for addr. timeout bounds each round trip when the
// context has no deadline.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &Client{addr: addr, timeout: timeout}
}

// Send delivers c and returns its response.
func (c *Client) Send(ctx context.Context, cmd command.Command) (command.Response, error) {
	raw, err := json.Marshal(cmd.Request())
	if err != nil {
		return command.Response{}, errors.Wrap(err, "encode command")
	}
	return c.SendRaw(ctx, raw)
}

// SendRaw delivers an already encoded command.
func (c *Client) SendRaw(ctx context.Context, raw []byte) (command.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return command.Response{}, errors.Wrapf(err, "connect to %s", c.addr)
		}
		c.conn = conn
		c.dec = json.NewDecoder(conn)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	c.conn.SetDeadline(deadline)

	msg := make([]byte, 0, len(raw)+1)
	msg = append(append(msg, raw...), '\n')

	var resp command.Response
	if _, err := c.conn.Write(msg); err != nil {
		c.reset()
		return resp, errors.Wrap(err, "send command")
	}
	if err := c.dec.Decode(&resp); err != nil {
		c.reset()
		return resp, errors.Wrap(err, "read response")
	}
	return resp, nil
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.dec = nil, nil
	return err
}

func (c *Client) reset() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.dec = nil, nil
}
