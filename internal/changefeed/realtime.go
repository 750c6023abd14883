package changefeed

import (
	"context"
	"fmt"

	"github.com/gigboard/feedwatch/internal/realtime"
)

// RealtimeTransport opens channels on a realtime.Client.
type RealtimeTransport struct {
	Client *realtime.Client
}

var _ Transport = RealtimeTransport{}

// Open returns a new channel; nothing is sent until Subscribe.
func (t RealtimeTransport) Open(name string) (Channel, error) {
	if t.Client == nil {
		return nil, fmt.Errorf("realtime client is nil")
	}
	return realtimeChannel{ch: t.Client.Channel(name)}, nil
}

// Close removes the channel from the client.
func (t RealtimeTransport) Close(ch Channel) error {
	rc, ok := ch.(realtimeChannel)
	if !ok {
		return fmt.Errorf("channel %T was not opened by this transport", ch)
	}
	return t.Client.RemoveChannel(rc.ch)
}

type realtimeChannel struct {
	ch *realtime.Channel
}

func (c realtimeChannel) On(spec realtime.EventSpec, handler func(realtime.Change)) {
	c.ch.On(spec, handler)
}

func (c realtimeChannel) Subscribe(ctx context.Context, onStatus func(realtime.Status, error)) error {
	return c.ch.Subscribe(ctx, onStatus)
}
