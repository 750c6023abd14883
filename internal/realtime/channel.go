package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gigboard/feedwatch/internal/clock"
)

var emptyPayload = json.RawMessage(`{}`)

type channelState int

const (
	channelIdle channelState = iota
	channelJoining
	channelJoined
	channelErrored
	channelClosed
)

type binding struct {
	spec    EventSpec
	handler func(Change)
}

// Channel is one multiplexed subscription on the client's socket.
// Bindings must be registered with On before Subscribe.
type Channel struct {
	client *Client
	topic  string

	mu        sync.Mutex
	bindings  []binding
	onStatus  func(Status, error)
	joinRef   string
	joinTimer *clock.Timer
	state     channelState
	removed   bool
}

// Topic returns the wire topic, "realtime:<name>".
func (ch *Channel) Topic() string { return ch.topic }

// On registers handler for row changes matching spec.
func (ch *Channel) On(spec EventSpec, handler func(Change)) *Channel {
	if spec.Schema == "" {
		spec.Schema = "public"
	}
	if spec.Event == "" {
		spec.Event = EventAll
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.removed {
		ch.bindings = append(ch.bindings, binding{spec: spec, handler: handler})
	}
	return ch
}

// Subscribe joins the channel. It returns once the join frame has been
// written; the outcome arrives later through onStatus as
// StatusSubscribed, StatusChannelError or StatusTimedOut. An error
// return means the join never left the client and onStatus will not be
// called for this attempt.
func (ch *Channel) Subscribe(ctx context.Context, onStatus func(Status, error)) error {
	c := ch.client

	ch.mu.Lock()
	if ch.removed {
		ch.mu.Unlock()
		return ErrChannelRemoved
	}
	if ch.state == channelJoining || ch.state == channelJoined {
		ch.mu.Unlock()
		return fmt.Errorf("subscribe %s: already subscribed", ch.topic)
	}
	specs := make([]EventSpec, 0, len(ch.bindings))
	for _, b := range ch.bindings {
		specs = append(specs, b.spec)
	}
	ch.mu.Unlock()

	if err := c.register(ch); err != nil {
		return err
	}
	if err := c.connect(ctx); err != nil {
		c.unregister(ch)
		return err
	}

	payload, err := json.Marshal(joinPayload{
		Config:      joinConfig{PostgresChanges: specs},
		AccessToken: c.apiKey,
	})
	if err != nil {
		c.unregister(ch)
		return fmt.Errorf("encode join: %w", err)
	}

	ref := c.nextRef()
	ch.mu.Lock()
	if ch.removed {
		ch.mu.Unlock()
		return ErrChannelRemoved
	}
	ch.onStatus = onStatus
	ch.joinRef = ref
	ch.state = channelJoining
	ch.joinTimer.Stop()
	ch.joinTimer = c.clock.AfterFunc(c.joinTimeout, func() { ch.timeoutJoin(ref) })
	ch.mu.Unlock()

	if err := c.send(message{Topic: ch.topic, Event: eventJoin, Payload: payload, Ref: ref, JoinRef: ref}); err != nil {
		ch.mu.Lock()
		ch.joinTimer.Stop()
		ch.joinTimer = nil
		ch.onStatus = nil
		ch.state = channelErrored
		ch.mu.Unlock()
		c.unregister(ch)
		return fmt.Errorf("join %s: %w", ch.topic, err)
	}
	c.logger.Debug("join sent", "topic", ch.topic, "ref", ref, "bindings", len(specs))
	return nil
}

func (ch *Channel) joinRefValue() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joinRef
}

func (ch *Channel) handleReply(ref string, reply replyPayload) {
	ch.mu.Lock()
	if ch.removed || ref == "" || ref != ch.joinRef || ch.state != channelJoining {
		ch.mu.Unlock()
		return
	}
	ch.joinTimer.Stop()
	ch.joinTimer = nil
	cb := ch.onStatus
	var status Status
	var err error
	if reply.Status == "ok" {
		ch.state = channelJoined
		status = StatusSubscribed
	} else {
		ch.state = channelErrored
		status = StatusChannelError
		err = fmt.Errorf("join rejected: %s", replyReason(reply.Response))
	}
	ch.mu.Unlock()

	if cb != nil {
		cb(status, err)
	}
}

func (ch *Channel) timeoutJoin(ref string) {
	ch.mu.Lock()
	if ch.removed || ch.joinRef != ref || ch.state != channelJoining {
		ch.mu.Unlock()
		return
	}
	ch.joinTimer = nil
	ch.state = channelErrored
	cb := ch.onStatus
	ch.mu.Unlock()

	if cb != nil {
		cb(StatusTimedOut, errors.New("join timed out"))
	}
}

// fail moves a joining or joined channel to a terminal status.
func (ch *Channel) fail(status Status, cause error) {
	ch.mu.Lock()
	if ch.removed || (ch.state != channelJoining && ch.state != channelJoined) {
		ch.mu.Unlock()
		return
	}
	ch.joinTimer.Stop()
	ch.joinTimer = nil
	if status == StatusClosed {
		ch.state = channelClosed
	} else {
		ch.state = channelErrored
	}
	cb := ch.onStatus
	ch.mu.Unlock()

	if cb != nil {
		cb(status, cause)
	}
}

func (ch *Channel) trigger(change Change) {
	ch.mu.Lock()
	if ch.removed || ch.state != channelJoined {
		ch.mu.Unlock()
		return
	}
	var handlers []func(Change)
	for _, b := range ch.bindings {
		if b.spec.matches(change) {
			handlers = append(handlers, b.handler)
		}
	}
	ch.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
}

// release marks the channel removed and reports whether it was joined or
// joining, in which case a leave frame is owed to the server.
func (ch *Channel) release() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.removed {
		return false
	}
	active := ch.state == channelJoining || ch.state == channelJoined
	ch.removed = true
	ch.onStatus = nil
	ch.bindings = nil
	ch.joinTimer.Stop()
	ch.joinTimer = nil
	ch.state = channelClosed
	return active
}

func decodePayload(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(raw, dest)
}
