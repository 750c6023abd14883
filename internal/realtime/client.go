package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gigboard/feedwatch/internal/clock"
)

var (
	// ErrClientClosed is returned once Close has been called.
	ErrClientClosed = errors.New("realtime client closed")
	// ErrNotConnected is returned when a frame is sent without a socket.
	ErrNotConnected = errors.New("realtime socket not connected")
	// ErrTopicInUse is returned when two live channels share a topic.
	ErrTopicInUse = errors.New("realtime topic already subscribed")
	// ErrChannelRemoved is returned when subscribing a removed channel.
	ErrChannelRemoved = errors.New("realtime channel removed")

	errHeartbeatTimeout = errors.New("heartbeat not acknowledged")
)

const (
	protocolVersion         = "1.0.0"
	defaultUserAgent        = "feedwatch/0.1"
	defaultHeartbeatEvery   = 25 * time.Second
	defaultJoinTimeout      = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

// Client multiplexes channels over one websocket to the platform's
// realtime endpoint. The socket is dialed lazily by the first Subscribe
// and closed once the last channel is removed.
type Client struct {
	endpoint       *url.URL
	apiKey         string
	sessionID      string
	dialer         *websocket.Dialer
	logger         *slog.Logger
	clock          clock.Clock
	heartbeatEvery time.Duration
	joinTimeout    time.Duration

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu               sync.Mutex
	conn             *websocket.Conn
	channels         map[string]*Channel
	ref              uint64
	pendingHeartbeat string
	heartbeat        *clock.Timer
	closed           bool
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the clock used for heartbeats and join timeouts.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeatEvery = d
		}
	}
}

// WithJoinTimeout sets how long a join may wait for its reply before the
// channel reports StatusTimedOut.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

// NewClient builds a Client for the given project URL. Both https and
// wss forms are accepted; the websocket path is appended when missing.
func NewClient(endpoint, apiKey string, opts ...Option) (*Client, error) {
	u, err := socketURL(endpoint, apiKey)
	if err != nil {
		return nil, err
	}
	c := &Client{
		endpoint:       u,
		apiKey:         strings.TrimSpace(apiKey),
		sessionID:      uuid.NewString(),
		dialer:         &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: defaultHandshakeTimeout},
		logger:         slog.Default(),
		clock:          clock.Real(),
		heartbeatEvery: defaultHeartbeatEvery,
		joinTimeout:    defaultJoinTimeout,
		channels:       make(map[string]*Channel),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "realtime", "session", c.sessionID)
	return c, nil
}

// Channel returns a new, unsubscribed channel for the given name.
func (c *Client) Channel(name string) *Channel {
	return &Channel{
		client: c,
		topic:  topicPrefix + strings.TrimSpace(name),
	}
}

// RemoveChannel leaves the channel and silences its callbacks. The
// channel is released even when the leave frame cannot be sent; the
// send error is returned for logging only.
func (c *Client) RemoveChannel(ch *Channel) error {
	if ch == nil {
		return nil
	}
	wasActive := ch.release()

	c.mu.Lock()
	if c.channels[ch.topic] == ch {
		delete(c.channels, ch.topic)
	}
	remaining := len(c.channels)
	c.mu.Unlock()

	var err error
	if wasActive {
		ref := c.nextRef()
		err = c.send(message{Topic: ch.topic, Event: eventLeave, Payload: emptyPayload, Ref: ref, JoinRef: ch.joinRefValue()})
		if err != nil && !errors.Is(err, ErrNotConnected) {
			err = fmt.Errorf("leave %s: %w", ch.topic, err)
		} else {
			err = nil
		}
	}
	if remaining == 0 {
		c.disconnect()
	}
	return err
}

// Close removes every channel and closes the socket. Further subscribes
// fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		_ = c.RemoveChannel(ch)
	}
	c.disconnect()
	return nil
}

// ChannelCount returns the number of registered channels.
func (c *Client) ChannelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

func (c *Client) register(ch *Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if existing, ok := c.channels[ch.topic]; ok && existing != ch {
		return fmt.Errorf("%w: %s", ErrTopicInUse, ch.topic)
	}
	c.channels[ch.topic] = ch
	return nil
}

func (c *Client) unregister(ch *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.topic] == ch {
		delete(c.channels, ch.topic)
	}
}

func (c *Client) lookup(topic string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[topic]
}

func (c *Client) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	return strconv.FormatUint(c.ref, 10)
}

// connect returns the live socket, dialing one when needed.
func (c *Client) connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", defaultUserAgent)
	header.Set("X-Client-Info", defaultUserAgent)
	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial realtime: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial realtime: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.pendingHeartbeat = ""
	c.scheduleHeartbeatLocked(conn)
	c.mu.Unlock()

	c.logger.Debug("realtime socket connected", "endpoint", redact(c.endpoint))
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			c.dropConn(conn, fmt.Errorf("read realtime frame: %w", err))
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	if msg.Topic == phoenixTopic {
		if msg.Event == eventReply {
			c.mu.Lock()
			if msg.Ref != "" && msg.Ref == c.pendingHeartbeat {
				c.pendingHeartbeat = ""
			}
			c.mu.Unlock()
		}
		return
	}

	ch := c.lookup(msg.Topic)
	if ch == nil {
		c.logger.Debug("frame for unknown topic", "topic", msg.Topic, "event", msg.Event)
		return
	}

	switch msg.Event {
	case eventReply:
		var reply replyPayload
		if err := decodePayload(msg.Payload, &reply); err != nil {
			c.logger.Warn("malformed reply", "topic", msg.Topic, "error", err)
			return
		}
		ch.handleReply(msg.Ref, reply)
	case eventChanges:
		var payload changesPayload
		if err := decodePayload(msg.Payload, &payload); err != nil {
			c.logger.Warn("malformed change payload", "topic", msg.Topic, "error", err)
			return
		}
		ch.trigger(payload.Data)
	case eventError:
		ch.fail(StatusChannelError, errors.New("channel errored on server"))
	case eventClose:
		ch.fail(StatusClosed, nil)
	case eventSystem:
		var payload systemPayload
		if err := decodePayload(msg.Payload, &payload); err != nil {
			return
		}
		if strings.EqualFold(payload.Status, "error") {
			ch.fail(StatusChannelError, fmt.Errorf("%s: %s", payload.Extension, payload.Message))
		}
	}
}

// dropConn tears down a socket that failed and errors every channel that
// was joined or joining on it.
func (c *Client) dropConn(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.pendingHeartbeat = ""
	c.heartbeat.Stop()
	c.heartbeat = nil
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn("realtime socket dropped", "error", cause)
	for _, ch := range channels {
		ch.fail(StatusChannelError, cause)
	}
}

func (c *Client) disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.pendingHeartbeat = ""
	c.heartbeat.Stop()
	c.heartbeat = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()
	_ = conn.Close()
	c.logger.Debug("realtime socket closed")
}

func (c *Client) scheduleHeartbeatLocked(conn *websocket.Conn) {
	c.heartbeat = c.clock.AfterFunc(c.heartbeatEvery, func() { c.sendHeartbeat(conn) })
}

func (c *Client) sendHeartbeat(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	if c.pendingHeartbeat != "" {
		c.mu.Unlock()
		c.dropConn(conn, errHeartbeatTimeout)
		return
	}
	c.ref++
	ref := strconv.FormatUint(c.ref, 10)
	c.pendingHeartbeat = ref
	c.scheduleHeartbeatLocked(conn)
	c.mu.Unlock()

	if err := c.send(message{Topic: phoenixTopic, Event: eventHeartbeat, Payload: emptyPayload, Ref: ref}); err != nil {
		c.logger.Debug("heartbeat send failed", "error", err)
	}
}

func (c *Client) send(msg message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Event, err)
	}
	return nil
}

func socketURL(endpoint, apiKey string) (*url.URL, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("realtime endpoint is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse realtime endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported realtime scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("realtime endpoint %q has no host", endpoint)
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	}
	q := u.Query()
	if key := strings.TrimSpace(apiKey); key != "" {
		q.Set("apikey", key)
	}
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u, nil
}

func redact(u *url.URL) string {
	dup := *u
	q := dup.Query()
	if q.Has("apikey") {
		q.Set("apikey", "redacted")
	}
	dup.RawQuery = q.Encode()
	return dup.String()
}
