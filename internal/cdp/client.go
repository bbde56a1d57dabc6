package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned for commands issued on a closed connection
var ErrClosed = errors.New("cdp connection closed")

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 64
)

// This struct handles one websocket connection to a browser debug endpoint
type Client struct {
	conn   *websocket.Conn
	nextID atomic.Int64

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int]chan Response
	err     error

	events chan Event
	done   chan struct{}
}

// Dial connects to a websocket debugger URL and starts reading
func Dial(ctx context.Context, wsURL string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[int]chan Response),
		events:  make(chan Event, eventBufferSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers unsolicited events. The channel is closed when the
// connection ends. Events are dropped while the buffer is full.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send issues a command and waits for its response
func (c *Client) Send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := int(c.nextID.Add(1))
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.conn.WriteJSON(Command{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case response := <-ch:
		if response.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, response.Error)
		}
		return response.Result, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the connection and waits for the reader to exit
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("cdp connection ended", "error", err)
			}
			return
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- Response{ID: msg.ID, Result: msg.Result, Error: msg.Error}
			}
			continue
		}

		if msg.Method == "" {
			continue
		}
		select {
		case c.events <- Event{Method: msg.Method, Params: msg.Params}:
		default:
			slog.Warn("cdp event buffer full, dropping event", "method", msg.Method)
		}
	}
}
