package realtime

import (
	"encoding/json"
	"strings"
)

// Status is reported to a channel's subscribe callback whenever the
// channel's connection state changes.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// EventKind names a row-level change operation.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
	EventAll    EventKind = "*"
)

// EventSpec selects the row changes a binding receives.
type EventSpec struct {
	Event  EventKind `json:"event"`
	Schema string    `json:"schema"`
	Table  string    `json:"table"`
	Filter string    `json:"filter,omitempty"`
}

func (s EventSpec) matches(c Change) bool {
	if s.Event != EventAll && !strings.EqualFold(string(s.Event), string(c.Kind)) {
		return false
	}
	if s.Schema != "" && c.Schema != "" && s.Schema != c.Schema {
		return false
	}
	return s.Table == c.Table
}

// Change is a single row mutation delivered on a channel.
type Change struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Kind            EventKind       `json:"type"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
}

// message is a Phoenix channel frame.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	eventSystem    = "system"

	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
)

type joinConfig struct {
	PostgresChanges []EventSpec `json:"postgres_changes"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	IDs  []int64 `json:"ids"`
	Data Change  `json:"data"`
}

type systemPayload struct {
	Status    string `json:"status"`
	Extension string `json:"extension"`
	Message   string `json:"message"`
}

// replyReason extracts a human readable reason from an error reply.
func replyReason(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "no reason given"
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Reason != "" {
		return body.Reason
	}
	return string(raw)
}
