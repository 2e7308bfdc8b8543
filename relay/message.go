package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// WindowID identifies a participant window. Uniqueness is up to the caller.
type WindowID string

// MessageType is the application tag carried by every message.
type MessageType string

const (
	TypeWindowJoined  MessageType = "windowJoined"
	TypeWindowLeft    MessageType = "windowLeft"
	TypeDragStart     MessageType = "dragStart"
	TypeDragMove      MessageType = "dragMove"
	TypeDragEnd       MessageType = "dragEnd"
	TypeRemoveItem    MessageType = "removeItem"
	TypeParentDrop    MessageType = "parentDrop"
	TypeBroadcastTest MessageType = "broadcastTest"
)

// KnownTypes lists the tags used by the drag-and-drop demos.
var KnownTypes = []MessageType{
	TypeWindowJoined,
	TypeWindowLeft,
	TypeDragStart,
	TypeDragMove,
	TypeDragEnd,
	TypeRemoveItem,
	TypeParentDrop,
	TypeBroadcastTest,
}

// Message is the envelope sent over both the bus and the relay path.
type Message struct {
	Type      MessageType     `json:"type"`
	Source    WindowID        `json:"source"`
	Target    WindowID        `json:"target,omitempty"` // receiver-side filter
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // epoch millis
	Relay     bool            `json:"relay"`     // true: a coordinator may forward it once more
}

// Valid reports whether the message carries the fields needed for routing.
func (m Message) Valid() bool {
	return m.Type != "" && m.Source != ""
}

// IsFor reports whether a window should process the message.
func (m Message) IsFor(id WindowID) bool {
	return m.Target == "" || m.Target == id
}

func newMessage(t MessageType, source, target WindowID, data any) (Message, error) {
	raw, err := encodeData(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Message{
		Type:      t,
		Source:    source,
		Target:    target,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
		Relay:     true,
	}, nil
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("invalid raw JSON")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// Encode returns the wire form of a message.
func Encode(m Message) ([]byte, error) {
	if m.Data == nil {
		m.Data = json.RawMessage("null")
	}
	return json.Marshal(m)
}

// DecodeMessage parses a wire message. It does not check Valid.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
