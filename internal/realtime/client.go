// ABOUTME: Websocket change-feed client multiplexing subscriptions over one connection
// ABOUTME: Reconnects with jittered backoff and re-joins every live subscription

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("realtime client closed")

// Default reconnect budget and timing.
const (
	DefaultReconnectAttempts = 8
	DefaultBackoffMin        = 250 * time.Millisecond
	DefaultBackoffMax        = 10 * time.Second
	DefaultPongWait          = 90 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second

	maxFrameSize = 1 << 20
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	Dialer *websocket.Dialer

	// ReconnectAttempts bounds the dials made for one connection before
	// every subscription is failed with chat.ErrConnectionLost.
	ReconnectAttempts int
	BackoffMin        time.Duration
	BackoffMax        time.Duration

	// PongWait is how long the connection may stay silent, server pings
	// included, before it is considered dropped.
	PongWait         time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = DefaultReconnectAttempts
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = DefaultBackoffMin
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = max(DefaultBackoffMax, o.BackoffMin)
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client owns one websocket connection shared by all its subscriptions.
// The connection is dialed when the first subscription is made and is
// dropped once none remain.
type Client struct {
	url    string
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	epoch   uint64
	subs    map[string]*Subscription // ref -> subscription
	nextRef uint64
	running bool
	closed  bool

	writeMu sync.Mutex
}

// New creates a client for the change feed at url (ws:// or wss://).
func New(url string, opts Options) *Client {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:    url,
		opts:   opts,
		logger: opts.Logger.With("component", "realtime"),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*Subscription),
	}
}

// SubscribeTable joins the insert feed of a table topic.
func (c *Client) SubscribeTable(topic chat.Topic, h Handler) (*Subscription, error) {
	return c.Subscribe(topic.String(), nil, h)
}

// SubscribePresence joins a room's presence channel as user.
func (c *Client) SubscribePresence(room, user string, h Handler) (*Subscription, error) {
	return c.Subscribe(chat.PresenceTopic(room), chat.JoinPayload{User: user}, h)
}

// Subscribe joins topic with an optional join payload. The returned
// subscription starts pending; h.OnActive reports the server's confirmation.
func (c *Client) Subscribe(topic string, payload any, h Handler) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	c.nextRef++
	s := &Subscription{
		client:  c,
		topic:   topic,
		ref:     strconv.FormatUint(c.nextRef, 10),
		payload: payload,
		handler: h,
	}
	c.subs[s.ref] = s

	conn := c.conn
	start := !c.running
	if start {
		c.running = true
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if start {
		go c.run()
	} else if conn != nil {
		c.sendJoin(conn, s)
	}
	return s, nil
}

// Close closes every subscription and the connection, and waits for the
// connection goroutine to exit. No handler runs after Close returns.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[string]*Subscription)
	conn := c.conn
	c.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	}

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
}

// remove forgets a closed subscription and leaves its topic. Removing the
// last subscription closes the connection; the run loop then exits.
func (c *Client) remove(s *Subscription) {
	c.mu.Lock()
	if c.subs[s.ref] != s {
		c.mu.Unlock()
		return
	}
	delete(c.subs, s.ref)
	conn := c.conn
	idle := len(c.subs) == 0
	c.mu.Unlock()

	if conn == nil {
		return
	}
	f, err := chat.NewFrame(s.topic, chat.EventLeave, s.ref, nil)
	if err == nil {
		c.write(conn, f)
	}
	if idle {
		c.logger.Debug("no subscriptions left, closing connection", "url", c.url)
		conn.Close()
	}
}

// run owns the connection: dial, join, read until it drops, repeat while
// any subscription remains.
func (c *Client) run() {
	defer c.wg.Done()

	for {
		conn, err := c.dial()
		if err != nil {
			c.connectionLost(err)
			return
		}

		epoch, subs, ok := c.attach(conn)
		if !ok {
			conn.Close()
			return
		}
		c.logger.Debug("connected", "url", c.url, "subscriptions", len(subs))

		for _, s := range subs {
			c.sendJoin(conn, s)
		}

		err = c.readLoop(conn, epoch)
		conn.Close()

		if !c.detach() {
			return
		}
		c.logger.Info("connection dropped, reconnecting", "error", err)
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.HandshakeTimeout)
			defer cancel()
			cn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if err != nil {
				return err
			}
			conn = cn
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Debug("dial failed", "attempt", attempt, "error", err)
		},
		Attempts:    c.opts.ReconnectAttempts,
		Delay:       c.opts.BackoffMin,
		MaxDelay:    c.opts.BackoffMax,
		BackoffFunc: retry.ExpBackoff(c.opts.BackoffMin, c.opts.BackoffMax, 2, true),
		Clock:       c.opts.Clock,
		Stop:        c.ctx.Done(),
	})
	if retry.IsRetryStopped(err) {
		return nil, ErrClosed
	}
	if retry.IsAttemptsExceeded(err) {
		return nil, fmt.Errorf("gave up after %d attempts: %w", c.opts.ReconnectAttempts, retry.LastError(err))
	}
	return conn, err
}

// attach installs conn as the current connection and returns the
// subscriptions to join on it. It reports false if the client closed or no
// subscription is left, in which case the run loop exits.
func (c *Client) attach(conn *websocket.Conn) (uint64, []*Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || len(c.subs) == 0 {
		c.running = false
		return 0, nil, false
	}

	c.epoch++
	c.conn = conn
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	return c.epoch, subs, true
}

// detach clears the dropped connection and reports whether to reconnect.
func (c *Client) detach() bool {
	c.mu.Lock()
	c.conn = nil
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	again := !c.closed && len(c.subs) > 0
	if !again {
		c.running = false
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.suspend()
	}
	return again
}

// connectionLost fails every subscription once the reconnect budget is
// spent. The client stays usable; a later Subscribe dials again.
func (c *Client) connectionLost(cause error) {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[string]*Subscription)
	c.running = false
	closed := c.closed
	c.mu.Unlock()

	if closed || errors.Is(cause, ErrClosed) {
		return
	}

	c.logger.Warn("connection lost", "url", c.url, "error", cause)
	err := chat.Translate(chat.ErrConnectionLost, cause)
	for _, s := range subs {
		s.fail(err)
	}
}

func (c *Client) sendJoin(conn *websocket.Conn, s *Subscription) {
	f, err := chat.NewFrame(s.topic, chat.EventJoin, s.ref, s.payload)
	if err != nil {
		c.logger.Error("encoding join", "topic", s.topic, "error", err)
		return
	}
	c.write(conn, f)
}

// write sends f on conn. Failures are left to the read loop, which sees
// the same broken connection.
func (c *Client) write(conn *websocket.Conn, f *chat.Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteJSON(f); err != nil {
		c.logger.Debug("write failed", "topic", f.Topic, "event", f.Event, "error", err)
	}
}

func (c *Client) readLoop(conn *websocket.Conn, epoch uint64) error {
	pongWait := c.opts.PongWait

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var f chat.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(epoch, &f)
	}
}

func (c *Client) lookup(ref string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[ref]
}

func (c *Client) dispatch(epoch uint64, f *chat.Frame) {
	s := c.lookup(f.Ref)
	if s == nil || s.topic != f.Topic {
		return
	}

	switch f.Event {
	case chat.EventReply:
		var p chat.ReplyPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Warn("malformed reply", "topic", f.Topic, "error", err)
			return
		}
		if p.Status == "ok" {
			s.activate(epoch)
			return
		}
		c.logger.Warn("join rejected", "topic", f.Topic, "reason", p.Reason)
		c.mu.Lock()
		if c.subs[s.ref] == s {
			delete(c.subs, s.ref)
		}
		c.mu.Unlock()
		s.fail(chat.Translate(chat.ErrConnectionLost, fmt.Errorf("join rejected: %s", p.Reason)))

	case chat.EventInsert:
		var p chat.ChangePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Warn("malformed change", "topic", f.Topic, "error", err)
			return
		}
		if p.Type != chat.ChangeTypeInsert {
			return
		}
		m, err := chat.DecodeRecord(chat.Collection(p.Table), p.New)
		if err != nil {
			c.logger.Warn("malformed row", "topic", f.Topic, "error", err)
			return
		}
		s.deliver(epoch, func(h *Handler) {
			if h.OnInsert != nil {
				h.OnInsert(m)
			}
		})

	case chat.EventPresenceJoin, chat.EventPresenceLeave:
		var p chat.PresencePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Warn("malformed presence", "topic", f.Topic, "error", err)
			return
		}
		join := f.Event == chat.EventPresenceJoin
		s.deliver(epoch, func(h *Handler) {
			if join && h.OnJoin != nil {
				h.OnJoin(p.User)
			}
			if !join && h.OnLeave != nil {
				h.OnLeave(p.User)
			}
		})
	}
}
