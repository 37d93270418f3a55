package node

import "time"

// EventType names one of the observable state transitions or wire
// activity a Node reports, so external observers (loggers, test
// collectors) can subscribe to one typed stream instead of five
// separate emitters.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventConnecting  EventType = "connecting"
	EventConnect     EventType = "connect"
	EventDisconnect  EventType = "disconnect"
	EventSend        EventType = "send"
	EventReceive     EventType = "receive"
	EventSync        EventType = "sync"
	EventSynced      EventType = "synced"
	EventHB          EventType = "hb"
	EventWarn        EventType = "warn"
	EventTimeFix     EventType = "time_fix"
)

// Event is one entry in a Node's diagnostic stream.
type Event struct {
	Time   time.Time
	NodeID string
	Type   EventType
	Fields map[string]any
}
