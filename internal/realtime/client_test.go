package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigboard/feedwatch/internal/clock"
)

type statusEvent struct {
	status Status
	err    error
}

// fakeServer speaks just enough of the realtime protocol for tests.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	// onJoin decides the reply for a join; nil replies ok.
	onJoin func(msg message) *replyPayload

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []message
	frames   chan message
	query    string
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{t: t, frames: make(chan message, 64)}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(func() {
		fs.closeAll()
		fs.srv.Close()
	})
	return fs
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.conns = append(fs.conns, conn)
	fs.query = r.URL.RawQuery
	fs.mu.Unlock()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		fs.mu.Lock()
		fs.received = append(fs.received, msg)
		fs.mu.Unlock()
		fs.frames <- msg

		if msg.Event == eventJoin {
			var reply *replyPayload
			if fs.onJoin != nil {
				reply = fs.onJoin(msg)
			} else {
				reply = &replyPayload{Status: "ok", Response: json.RawMessage(`{}`)}
			}
			if reply != nil {
				fs.push(message{Topic: msg.Topic, Event: eventReply, Payload: mustJSON(fs.t, reply), Ref: msg.Ref})
			}
		}
	}
}

func (fs *fakeServer) push(msg message) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, conn := range fs.conns {
		_ = conn.WriteJSON(msg)
	}
}

func (fs *fakeServer) closeAll() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, conn := range fs.conns {
		_ = conn.Close()
	}
	fs.conns = nil
}

func (fs *fakeServer) waitFrame(event string) message {
	fs.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-fs.frames:
			if msg.Event == event {
				return msg
			}
		case <-deadline:
			fs.t.Fatalf("no %s frame received", event)
			return message{}
		}
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func waitStatus(t *testing.T, ch <-chan statusEvent) statusEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no status callback")
		return statusEvent{}
	}
}

func newTestClient(t *testing.T, fs *fakeServer, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(fs.srv.URL, "anon-key", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSocketURL(t *testing.T) {
	u, err := socketURL("https://abc.example.co", "key")
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "/realtime/v1/websocket", u.Path)
	assert.Equal(t, "key", u.Query().Get("apikey"))
	assert.Equal(t, protocolVersion, u.Query().Get("vsn"))

	u, err = socketURL("ws://localhost:4000/socket/websocket", "")
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, "/socket/websocket", u.Path)
	assert.False(t, u.Query().Has("apikey"))

	u, err = socketURL("abc.example.co", "k")
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)

	_, err = socketURL("  ", "k")
	assert.Error(t, err)
	_, err = socketURL("ftp://host", "k")
	assert.Error(t, err)
}

func TestRedactHidesAPIKey(t *testing.T) {
	u, err := socketURL("https://abc.example.co", "secret")
	require.NoError(t, err)
	assert.NotContains(t, redact(u), "secret")
}

func TestSubscribeJoinsAndDeliversChanges(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	statuses := make(chan statusEvent, 4)
	changes := make(chan Change, 4)
	ch := c.Channel("feed").
		On(EventSpec{Event: EventInsert, Table: "jobs"}, func(ch Change) { changes <- ch }).
		On(EventSpec{Event: EventDelete, Table: "applications"}, func(ch Change) { changes <- ch })

	err := ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} })
	require.NoError(t, err)

	join := fs.waitFrame(eventJoin)
	assert.Equal(t, "realtime:feed", join.Topic)
	var payload joinPayload
	require.NoError(t, json.Unmarshal(join.Payload, &payload))
	require.Len(t, payload.Config.PostgresChanges, 2)
	assert.Equal(t, "jobs", payload.Config.PostgresChanges[0].Table)
	assert.Equal(t, "public", payload.Config.PostgresChanges[0].Schema)
	assert.Equal(t, "anon-key", payload.AccessToken)

	ev := waitStatus(t, statuses)
	assert.Equal(t, StatusSubscribed, ev.status)
	assert.NoError(t, ev.err)

	fs.push(message{Topic: "realtime:feed", Event: eventChanges, Payload: mustJSON(t, changesPayload{
		Data: Change{Schema: "public", Table: "jobs", Kind: EventInsert, Record: json.RawMessage(`{"id":1}`)},
	})})
	// Unmatched kind on a watched table is not delivered.
	fs.push(message{Topic: "realtime:feed", Event: eventChanges, Payload: mustJSON(t, changesPayload{
		Data: Change{Schema: "public", Table: "jobs", Kind: EventUpdate},
	})})
	fs.push(message{Topic: "realtime:feed", Event: eventChanges, Payload: mustJSON(t, changesPayload{
		Data: Change{Schema: "public", Table: "applications", Kind: EventDelete},
	})})

	got := []Change{<-changes, <-changes}
	assert.Equal(t, "jobs", got[0].Table)
	assert.JSONEq(t, `{"id":1}`, string(got[0].Record))
	assert.Equal(t, "applications", got[1].Table)
	select {
	case extra := <-changes:
		t.Fatalf("unexpected change delivered: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	fs.mu.Lock()
	query := fs.query
	fs.mu.Unlock()
	assert.Contains(t, query, "apikey=anon-key")
}

func TestSubscribeRejectedReportsChannelError(t *testing.T) {
	fs := newFakeServer(t)
	fs.onJoin = func(message) *replyPayload {
		return &replyPayload{Status: "error", Response: json.RawMessage(`{"reason":"unauthorized"}`)}
	}
	c := newTestClient(t, fs)

	statuses := make(chan statusEvent, 1)
	ch := c.Channel("feed").On(EventSpec{Event: EventAll, Table: "jobs"}, func(Change) {})
	require.NoError(t, ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} }))

	ev := waitStatus(t, statuses)
	assert.Equal(t, StatusChannelError, ev.status)
	require.Error(t, ev.err)
	assert.Contains(t, ev.err.Error(), "unauthorized")
}

func TestSubscribeTimesOutWithoutReply(t *testing.T) {
	fs := newFakeServer(t)
	fs.onJoin = func(message) *replyPayload { return nil }
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestClient(t, fs, WithClock(fake), WithJoinTimeout(3*time.Second), WithHeartbeat(time.Hour))

	statuses := make(chan statusEvent, 1)
	ch := c.Channel("feed").On(EventSpec{Table: "jobs"}, func(Change) {})
	require.NoError(t, ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} }))
	fs.waitFrame(eventJoin)

	fake.Advance(3 * time.Second)
	ev := waitStatus(t, statuses)
	assert.Equal(t, StatusTimedOut, ev.status)
}

func TestServerErrorAndCloseFrames(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	statuses := make(chan statusEvent, 4)
	ch := c.Channel("feed").On(EventSpec{Table: "jobs"}, func(Change) {})
	require.NoError(t, ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} }))
	require.Equal(t, StatusSubscribed, waitStatus(t, statuses).status)

	fs.push(message{Topic: "realtime:feed", Event: eventError, Payload: emptyPayload})
	assert.Equal(t, StatusChannelError, waitStatus(t, statuses).status)

	// Resubscribe after an error, then receive a close.
	require.NoError(t, ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} }))
	require.Equal(t, StatusSubscribed, waitStatus(t, statuses).status)
	fs.push(message{Topic: "realtime:feed", Event: eventClose, Payload: emptyPayload})
	assert.Equal(t, StatusClosed, waitStatus(t, statuses).status)
}

func TestSystemErrorReportsChannelError(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	statuses := make(chan statusEvent, 2)
	ch := c.Channel("feed").On(EventSpec{Table: "jobs"}, func(Change) {})
	require.NoError(t, ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} }))
	require.Equal(t, StatusSubscribed, waitStatus(t, statuses).status)

	fs.push(message{Topic: "realtime:feed", Event: eventSystem, Payload: mustJSON(t, systemPayload{
		Status: "error", Extension: "postgres_changes", Message: "table not in publication",
	})})
	ev := waitStatus(t, statuses)
	assert.Equal(t, StatusChannelError, ev.status)
	assert.Contains(t, ev.err.Error(), "table not in publication")
}

func TestSocketLossErrorsJoinedChannels(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	statuses := make(chan statusEvent, 2)
	ch := c.Channel("feed").On(EventSpec{Table: "jobs"}, func(Change) {})
	require.NoError(t, ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} }))
	require.Equal(t, StatusSubscribed, waitStatus(t, statuses).status)

	fs.closeAll()
	assert.Equal(t, StatusChannelError, waitStatus(t, statuses).status)

	// The next subscribe redials.
	require.NoError(t, ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} }))
	assert.Equal(t, StatusSubscribed, waitStatus(t, statuses).status)
}

func TestRemoveChannelSendsLeaveAndSilencesCallbacks(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	statuses := make(chan statusEvent, 4)
	changes := make(chan Change, 1)
	ch := c.Channel("feed").On(EventSpec{Table: "jobs"}, func(ch Change) { changes <- ch })
	require.NoError(t, ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} }))
	require.Equal(t, StatusSubscribed, waitStatus(t, statuses).status)

	require.NoError(t, c.RemoveChannel(ch))
	assert.Equal(t, 0, c.ChannelCount())
	leave := fs.waitFrame(eventLeave)
	assert.Equal(t, "realtime:feed", leave.Topic)

	assert.ErrorIs(t, ch.Subscribe(context.Background(), nil), ErrChannelRemoved)
	select {
	case ev := <-statuses:
		t.Fatalf("status after removal: %+v", ev)
	case <-changes:
		t.Fatal("change after removal")
	case <-time.After(50 * time.Millisecond):
	}

	// Removing twice is harmless.
	assert.NoError(t, c.RemoveChannel(ch))
}

func TestTopicInUse(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	first := c.Channel("feed").On(EventSpec{Table: "jobs"}, func(Change) {})
	require.NoError(t, first.Subscribe(context.Background(), func(Status, error) {}))

	second := c.Channel("feed").On(EventSpec{Table: "jobs"}, func(Change) {})
	err := second.Subscribe(context.Background(), func(Status, error) {})
	assert.ErrorIs(t, err, ErrTopicInUse)
	assert.Equal(t, 1, c.ChannelCount())
}

func TestHeartbeatSentAndMissedAckDropsSocket(t *testing.T) {
	fs := newFakeServer(t)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestClient(t, fs, WithClock(fake), WithHeartbeat(5*time.Second), WithJoinTimeout(time.Hour))

	statuses := make(chan statusEvent, 2)
	ch := c.Channel("feed").On(EventSpec{Table: "jobs"}, func(Change) {})
	require.NoError(t, ch.Subscribe(context.Background(), func(s Status, err error) { statuses <- statusEvent{s, err} }))
	require.Equal(t, StatusSubscribed, waitStatus(t, statuses).status)

	fake.Advance(5 * time.Second)
	hb := fs.waitFrame(eventHeartbeat)
	assert.Equal(t, phoenixTopic, hb.Topic)

	// No reply to the heartbeat: the next tick drops the socket.
	fake.Advance(5 * time.Second)
	ev := waitStatus(t, statuses)
	assert.Equal(t, StatusChannelError, ev.status)
	assert.ErrorIs(t, ev.err, errHeartbeatTimeout)
}

func TestClosedClientRejectsSubscribe(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)
	require.NoError(t, c.Close())

	ch := c.Channel("feed")
	err := ch.Subscribe(context.Background(), func(Status, error) {})
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.True(t, strings.HasPrefix(ch.Topic(), topicPrefix))
}
