package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"policylink.ai/internal/protocol"
)

// RemoteError is an ERROR envelope surfaced to the caller.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

type ClientOptions struct {
	// Horizon the server is expected to return per limb.
	Horizon int
	// Timeout bounds one request/response exchange. Zero means 10s.
	Timeout time.Duration
	// RetryBackoff is the pause before the single reconnect attempt after
	// a transport failure. Zero means 500ms.
	RetryBackoff time.Duration
}

// Client is the robot-side end of the wire. One request may be outstanding
// at a time; concurrent callers serialize on the connection.
type Client struct {
	url  string
	opts ClientOptions
	log  *log.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string, opts ClientOptions, logger *log.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	return &Client{url: url, opts: opts, log: logger}
}

// Connect dials the server. Infer dials lazily, so calling Connect is only
// needed to fail fast at startup.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConn(ctx)
}

func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	return nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Infer sends one request and blocks for the matching response. A transport
// failure (broken connection, deadline) triggers one reconnect-and-resend;
// if that also fails the error propagates and the caller's own state is
// untouched. A server ERROR envelope is returned as *RemoteError without
// any retry.
func (c *Client) Infer(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.exchange(ctx, req)
	if err == nil {
		return resp, nil
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return protocol.InferResponse{}, err
	}

	c.log.Printf("step %d: transport failure, retrying once: %v", req.Step, err)
	c.dropConn()
	select {
	case <-ctx.Done():
		return protocol.InferResponse{}, ctx.Err()
	case <-time.After(c.opts.RetryBackoff):
	}
	return c.exchange(ctx, req)
}

func (c *Client) exchange(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
	if err := c.ensureConn(ctx); err != nil {
		return protocol.InferResponse{}, err
	}

	b, err := json.Marshal(req)
	if err != nil {
		return protocol.InferResponse{}, err
	}

	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.dropConn()
		return protocol.InferResponse{}, fmt.Errorf("write: %w", err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		c.dropConn()
		return protocol.InferResponse{}, fmt.Errorf("read: %w", err)
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.InferResponse{}, fmt.Errorf("%s: %w", protocol.ErrProtoBadRequest, err)
	}
	if base.Type == protocol.TypeError {
		em, err := protocol.DecodeErrorMsg(msg)
		if err != nil {
			return protocol.InferResponse{}, err
		}
		return protocol.InferResponse{}, &RemoteError{Code: em.Code, Message: em.Message}
	}

	resp, err := protocol.DecodeInferResponse(msg, c.opts.Horizon)
	if err != nil {
		return protocol.InferResponse{}, err
	}
	if resp.Step != req.Step {
		return protocol.InferResponse{}, fmt.Errorf("%s: response step %d for request step %d", protocol.ErrProtoBadRequest, resp.Step, req.Step)
	}
	return resp, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}
