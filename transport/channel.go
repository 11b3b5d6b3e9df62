package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"herald/log"
	"herald/stream"
)

const dialTimeout = 15 * time.Second

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrAlreadyRunning = errors.New("transport: channel already running")
)

// Channel is the duplex message link to the backend. Implementations keep
// themselves connected; Send fails fast while the link is down rather than
// queueing, durability lives in the mutation queue.
type Channel interface {
	Start(ctx context.Context) error
	Stop()
	Send(ctx context.Context, m Message) error
	Incoming() <-chan Message
	States() (<-chan State, func())
	State() State
}

// Options configures the websocket channel.
type Options struct {
	Endpoint   string
	AuthToken  string
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// WSChannel is the production Channel: one websocket connection, re-dialed
// with jittered exponential backoff whenever it drops. The backoff resets
// after every successful connect.
type WSChannel struct {
	opts     Options
	bo       backoff
	states   *stream.Hub[State]
	incoming chan Message

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	stopOnce sync.Once
	done     chan struct{}
}

func NewWSChannel(opts Options) *WSChannel {
	c := &WSChannel{
		opts:     opts,
		bo:       backoff{min: opts.BackoffMin, max: opts.BackoffMax},
		states:   stream.NewHub[State](),
		incoming: make(chan Message, 64),
		done:     make(chan struct{}),
	}
	c.states.Publish(State{Phase: Disconnected})
	return c
}

func (c *WSChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Stop tears the connection down and ends the reconnect loop.
func (c *WSChannel) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-c.done
}

func (c *WSChannel) Incoming() <-chan Message { return c.incoming }

func (c *WSChannel) States() (<-chan State, func()) { return c.states.Subscribe() }

func (c *WSChannel) State() State { s, _ := c.states.Last(); return s }

// Send writes one message on the live connection.
func (c *WSChannel) Send(ctx context.Context, m Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport send: %w", err)
	}
	return nil
}

func (c *WSChannel) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.incoming)
	defer c.publish(State{Phase: Disconnected})

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		phase := Connecting
		if attempt > 0 {
			phase = Reconnecting
		}
		c.publish(State{Phase: phase, Attempt: attempt})

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay := c.bo.delay(attempt)
			c.publish(State{Phase: Reconnecting, Attempt: attempt, NextDelay: delay})
			log.Transport(string(Reconnecting), attempt, delay.Milliseconds())
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.setConn(conn)
		c.publish(State{Phase: Connected})
		log.Transport(string(Connected), 0, 0)

		c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	headers := http.Header{}
	if c.opts.AuthToken != "" {
		headers.Set("Authorization", "Token "+c.opts.AuthToken)
	}
	conn, _, err := websocket.Dial(dialCtx, c.opts.Endpoint, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop pumps inbound messages until the connection errors. Messages that
// fail to decode are logged and skipped; the connection stays up.
func (c *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("transport read: %v", err)
			}
			return
		}
		m, err := Decode(data)
		if err != nil {
			log.Warnf("transport: dropping malformed message: %v", err)
			continue
		}
		select {
		case c.incoming <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *WSChannel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *WSChannel) publish(s State) { c.states.Publish(s) }
