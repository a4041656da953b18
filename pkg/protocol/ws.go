package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

var errNotConnected = errors.New("websocket not connected")

// Client is a live chat connection. It keeps the session id the server
// assigned and redials after the connection drops. timeout bounds the wait
// for each reply; a reply that misses it costs the connection, and the next
// Send dials a fresh one.
type Client struct {
	url     string
	reconn  uint
	timeout time.Duration

	mu        sync.Mutex
	conn      *ws.Conn
	sessionID string
}

func Dial(ctx context.Context, url string, reconn uint, timeout time.Duration) (*Client, error) {
	log.Debug("Dial chat websocket", "url", url)

	c := &Client{url: url, reconn: reconn, timeout: timeout}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := ws.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	return nil
}

// drop discards a connection that can no longer be read from. gorilla
// keeps returning the first read error, timeouts included.
func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) Write(f Frame) error {
	if c.conn == nil {
		return errNotConnected
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	log.Debug("Write ws", "msg", string(data))
	return c.conn.WriteMessage(ws.TextMessage, data)
}

// Read waits up to the client timeout for one frame.
func (c *Client) Read() (Frame, error) {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	return c.read(deadline)
}

func (c *Client) read(deadline time.Time) (Frame, error) {
	if c.conn == nil {
		return Frame{}, errNotConnected
	}
	_ = c.conn.SetReadDeadline(deadline)
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if !IsClosed(err) {
			c.drop()
		}
		return Frame{}, err
	}
	log.Debug("Read ws", "msg", string(data))
	return Parse(data)
}

// Send posts text and waits for the matching reply. A connection closed by
// the server is redialed and the message resent until ctx is done. A reply
// that does not arrive in time is an error; the message is not resent since
// the server may still act on it.
func (c *Client) Send(ctx context.Context, text string) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.conn == nil {
			log.Warn("Trying to reconnect", "url", c.url)
			if err := c.tryReconn(ctx); err != nil {
				return Frame{}, err
			}
			log.Info("Reconnected")
		}

		f, err := c.roundTrip(ctx, text)
		switch {
		case err == nil:
			if f.SessionID != "" {
				c.sessionID = f.SessionID
			}
			if f.Type == TypeError {
				return f, errors.New(f.Message)
			}
			return f, nil
		case IsClosed(err), errors.Is(err, errNotConnected):
			c.drop()
			continue
		case isTimeout(err):
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
				return Frame{}, context.DeadlineExceeded
			}
			return Frame{}, fmt.Errorf("no reply within %s: %w", c.timeout, err)
		default:
			return Frame{}, err
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, text string) (Frame, error) {
	if err := c.Write(Message(c.sessionID, text)); err != nil {
		return Frame{}, err
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	conn := c.conn
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		f, err := c.read(deadline)
		if err != nil {
			return Frame{}, err
		}
		if f.Type == TypeReply || f.Type == TypeError {
			return f, nil
		}
	}
}

func (c *Client) tryReconn(ctx context.Context) error {
	for {
		if err := c.dial(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second * time.Duration(max(c.reconn, 1))):
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsClosed reports whether err means the peer went away.
func IsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
