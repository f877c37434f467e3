package echoapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/chat"
)

var (
	errConnClosed    = errors.New("connection closed")
	errConnCongested = errors.New("outbound buffer full: slow consumer dropped")
)

// wsConn is a chat.Conn over a websocket. Events are queued on `out` and written by writeLoop;
// all reads happen on the goroutine serving the request.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	conf   core.ChatConfig
	logger core.Logger
	out    chan chat.Event

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ chat.Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn, conf core.ChatConfig, logger core.Logger) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		ws:     ws,
		conf:   conf,
		logger: logger,
		out:    make(chan chat.Event, conf.OutboundBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues `evt` without blocking. A connection whose buffer is full is closed.
func (c *wsConn) Send(evt chat.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errConnClosed
	}
	select {
	case c.out <- evt:
		return nil
	default:
		go c.Close()
		return errConnCongested
	}
}

// Close stops the writer, which sends a close frame and releases the socket. It is safe to call more than once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.out)
		c.mu.Unlock()
	})
	return nil
}

// Done is closed once the socket is released.
func (c *wsConn) Done() <-chan struct{} { return c.done }

// writeLoop drains `out` onto the socket and pings the peer every PingInterval.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.conf.PingInterval)
	defer func() {
		ticker.Stop()
		if err := c.ws.Close(); err != nil {
			c.logger.Debug("closing websocket " + c.id + ": " + err.Error())
		}
		close(c.done)
	}()

	for {
		select {
		case evt, ok := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.conf.WriteTimeout))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := c.ws.WriteJSON(evt); err != nil {
				c.logger.Debug("writing " + evt.Name + " to websocket " + c.id + ": " + err.Error())
				c.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.conf.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				c.drain()
				return
			}
		}
	}
}

// drain discards the events queued after a write failure.
func (c *wsConn) drain() {
	for range c.out {
	}
}

// readLoop feeds inbound text frames to `handle` until the socket fails or the peer goes silent.
func (c *wsConn) readLoop(handle func(frame []byte)) {
	c.ws.SetReadLimit(c.conf.MaxMessageSize)
	pongWait := c.conf.PingInterval * 10 / 9
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("reading websocket " + c.id + ": " + err.Error())
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(frame)
	}
}
