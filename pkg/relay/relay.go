/*
Package relay connects one sync room to its peers over a per-room
WebSocket. It carries CRDT updates in both directions and reconnects
with exponential backoff, capped, whenever the connection drops.

Grounded on the teacher pack's WebSocket coordinator (a connect loop
with reconnect backoff, a reader goroutine dispatching inbound frames,
a writer goroutine draining an outbound channel, and connected/
disconnected callbacks) but reworked onto cenkalti/backoff/v4 for the
retry schedule instead of a hand-rolled multiplier, since that is the
library this module already uses for every other retry loop.
*/
package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/micahchoo/troparcel/pkg/log"
)

// Config configures one room's relay connection.
type Config struct {
	ServerURL string // ws:// or wss:// base URL
	Room      string
	RoomToken string // appended as ?token=<value> when non-empty

	MaxReconnectInterval time.Duration // caps the backoff, default 5 minutes
	HandshakeTimeout     time.Duration // default 10s
}

// Client manages one room's WebSocket connection, reconnecting with
// capped exponential backoff whenever it drops.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	sendCh chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected    func()
	onDisconnected func(error)
	onMessage      func([]byte)
}

// New constructs a relay client for cfg. It does not connect until
// Start is called.
func New(cfg Config) *Client {
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = 5 * time.Minute
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		log:    log.WithComponent("relay").With().Str("room", cfg.Room).Logger(),
		sendCh: make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnConnected registers a callback fired every time the socket
// (re)connects.
func (c *Client) OnConnected(fn func()) { c.onConnected = fn }

// OnDisconnected registers a callback fired every time the socket
// drops, with the error that caused it (nil on a clean Stop).
func (c *Client) OnDisconnected(fn func(error)) { c.onDisconnected = fn }

// OnMessage registers the callback that receives every inbound frame.
// Frames arrive on the connection's read-loop goroutine; the callback
// must not block.
func (c *Client) OnMessage(fn func([]byte)) { c.onMessage = fn }

// Start begins the connect-and-reconnect loop in the background.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.connectionLoop()
}

// Stop closes the connection and stops the reconnect loop.
func (c *Client) Stop() {
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Connected reports whether the WebSocket is currently up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Send enqueues a CRDT update frame for delivery, whether or not the
// socket is currently connected; queued frames are written once a
// connection is up. It is dropped if the send buffer is full; the
// caller's next sync cycle will re-derive and resend it.
func (c *Client) Send(payload []byte) {
	select {
	case c.sendCh <- payload:
	case <-c.ctx.Done():
	default:
		c.log.Warn().Msg("send buffer full, dropping update frame")
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("relay: parse server url: %w", err)
	}
	u.Path = u.Path + "/" + c.cfg.Room
	if c.cfg.RoomToken != "" {
		q := u.Query()
		q.Set("token", c.cfg.RoomToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) connectionLoop() {
	defer c.wg.Done()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = c.cfg.MaxReconnectInterval
	eb.MaxElapsedTime = 0 // retry forever until Stop

	for {
		if c.ctx.Err() != nil {
			return
		}

		if err := c.connect(); err != nil {
			wait := eb.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			c.log.Warn().Err(err).Dur("retry_in", wait).Msg("relay connect failed")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		eb.Reset()

		err := c.run()
		if c.ctx.Err() != nil {
			err = nil // clean Stop
		}
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		if c.onDisconnected != nil {
			c.onDisconnected(err)
		}
	}
}

func (c *Client) connect() error {
	dialURL, err := c.dialURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(c.ctx, dialURL, http.Header{})
	if err != nil {
		return fmt.Errorf("relay: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info().Msg("relay connected")
	if c.onConnected != nil {
		c.onConnected()
	}
	return nil
}

// run drives one live connection's read and write loops until either
// fails, then returns the error that ended the connection. connDone is
// closed as soon as either loop exits, so the other one stops blocking
// on an idle send channel waiting to notice the socket is gone.
func (c *Client) run() error {
	conn := c.conn // snapshot: connect() just set this under c.mu
	connDone := make(chan struct{})

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- c.readLoop(conn)
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writeLoop(conn, connDone)
	}()

	err := <-readErrCh
	close(connDone)

	c.mu.Lock()
	if c.conn == conn {
		c.conn.Close()
	}
	c.mu.Unlock()

	<-writeDone
	return err
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("relay: read: %w", err)
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, connDone <-chan struct{}) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-connDone:
			return
		case payload, ok := <-c.sendCh:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn().Err(err).Msg("relay write failed")
				conn.Close() // unblocks readLoop so run ends this connection
				return
			}
		}
	}
}
