package relay

import "encoding/json"

// DragPayload describes an item being dragged between windows. It is the
// data of dragStart, dragMove and dragEnd.
type DragPayload struct {
	ItemID     string  `json:"itemId"`
	Text       string  `json:"text,omitempty"`
	SourceList string  `json:"sourceList,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
}

// RemoveItemPayload asks the owner of an item to drop it after a move.
type RemoveItemPayload struct {
	ID string `json:"id"`
}

// ParentDropPayload is sent when an item lands in the coordinator window.
type ParentDropPayload struct {
	ItemID string `json:"itemId"`
	Text   string `json:"text,omitempty"`
	Zone   string `json:"zone,omitempty"`
}

// BroadcastTestPayload carries the token of a connectivity self-test.
type BroadcastTestPayload struct {
	Token string `json:"token"`
}

// Decode unmarshals message data into T. Unknown tags can still be handled
// by working on the raw data directly.
func Decode[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
