package model

type TurnEventType string

const (
	TurnEventMessage TurnEventType = "message"
	TurnEventDone    TurnEventType = "done"
	TurnEventError   TurnEventType = "error"
)

// TurnEvent is the wire representation streamed to subscribers. Index is the
// message's position in the turn's log; it is the join key between the
// durable log and the live bus, and the dedup key for catch-up.
type TurnEvent struct {
	Type    TurnEventType `json:"type"`
	Index   int           `json:"index,omitempty"`
	Message *Message      `json:"data,omitempty"`
	Turn    *Turn         `json:"turn,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func MessageEvent(index int, m Message) TurnEvent {
	return TurnEvent{Type: TurnEventMessage, Index: index, Message: &m}
}

func DoneEvent(t *Turn) TurnEvent {
	return TurnEvent{Type: TurnEventDone, Turn: t}
}

func ErrorEvent(msg string) TurnEvent {
	return TurnEvent{Type: TurnEventError, Error: msg}
}
