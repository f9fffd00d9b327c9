package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// ErrClientClosed is returned when writing to a closed client.
var ErrClientClosed = errors.New("websocket client closed")

// Client owns one connection. Reads happen on the caller's goroutine;
// every write goes through a single writer goroutine.
// Client implements session.Environment.
type Client struct {
	conn *websocket.Conn
	send chan any
	done chan struct{}
	once sync.Once
	log  zerolog.Logger
}

// NewClient starts the writer goroutine for conn.
func NewClient(conn *websocket.Conn, log zerolog.Logger) *Client {
	c := &Client{
		conn: conn,
		send: make(chan any, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writeLoop()
	return c
}

// Send queues v for delivery. A client that cannot keep up is disconnected.
func (c *Client) Send(v any) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- v:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.log.Warn().Msg("Send buffer full, closing slow client")
		c.Close()
		return ErrClientClosed
	}
}

// SendError queues an ErrorResponse.
func (c *Client) SendError(code, msg string, fields map[string]string) error {
	return c.Send(ErrorResponse{Event: EventError, Code: code, Error: msg, Fields: fields})
}

// RequestFullscreen asks the browser to enter fullscreen.
func (c *Client) RequestFullscreen() error {
	return c.Send(CommandResponse{Event: EventCommand, Command: CommandFullscreenRequest})
}

// ExitFullscreen asks the browser to leave fullscreen.
func (c *Client) ExitFullscreen() error {
	return c.Send(CommandResponse{Event: EventCommand, Command: CommandFullscreenExit})
}

// ReadMessage blocks for the next text message.
func (c *Client) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	return data, err
}

// Done is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close stops the writer and closes the connection. Messages still queued
// are written first.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case v := <-c.send:
			if err := c.write(v); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flushQueued()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

func (c *Client) flushQueued() {
	for {
		select {
		case v := <-c.send:
			if err := c.write(v); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
