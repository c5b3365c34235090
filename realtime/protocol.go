package realtime

import (
	"encoding/json"
	"fmt"
)

// Control events of the channel protocol. Everything else is an
// application event delivered to channel bindings.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"
)

// HeartbeatTopic is the reserved topic heartbeat frames travel on.
const HeartbeatTopic = "phoenix"

// Message is one wire frame. On the wire it is the five-element JSON
// array [join_ref, ref, topic, event, payload]; empty refs encode as
// null.
type Message struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// MarshalJSON encodes the frame as the protocol's array form.
func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]any{nullable(m.JoinRef), nullable(m.Ref), m.Topic, m.Event, payload})
}

// UnmarshalJSON decodes the array form. Null refs decode to empty strings.
func (m *Message) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if len(parts) != 5 {
		return fmt.Errorf("frame has %d elements, want 5", len(parts))
	}
	if err := decodeRef(parts[0], &m.JoinRef); err != nil {
		return fmt.Errorf("join_ref: %w", err)
	}
	if err := decodeRef(parts[1], &m.Ref); err != nil {
		return fmt.Errorf("ref: %w", err)
	}
	if err := json.Unmarshal(parts[2], &m.Topic); err != nil {
		return fmt.Errorf("topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &m.Event); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	m.Payload = parts[4]
	return nil
}

// Reply is the payload of a phx_reply frame.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// OK reports whether the reply acknowledges success.
func (r Reply) OK() bool { return r.Status == "ok" }

// ParseReply decodes a phx_reply payload.
func ParseReply(payload json.RawMessage) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(payload, &r); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	return r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func decodeRef(raw json.RawMessage, dst *string) error {
	if string(raw) == "null" {
		*dst = ""
		return nil
	}
	return json.Unmarshal(raw, dst)
}
