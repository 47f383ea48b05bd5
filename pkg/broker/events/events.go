package events

import (
	"fmt"
	"time"
)

// EventType type of event
type EventType string

const (
	// TypeCoordinate orders a node to run the coordination command for a multi-instance task
	TypeCoordinate EventType = "COORDINATE"
	// TypeReady is the synchronization signal a node publishes once its coordination phase finished
	TypeReady EventType = "READY"
	// TypeTeardown releases a node waiting past a failed or timed-out barrier
	TypeTeardown EventType = "TEARDOWN"
)

// Event represents a coordination message to publish/receive.
type Event struct {
	Type          EventType
	JobID         string
	TaskID        string
	NodeID        string
	CorrelationID string
	Data          interface{}
	Time          time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s for task %s on node %s", e.Type, e.TaskID, e.NodeID)
}

// CoordinateEventData is the expected data type for event with type TypeCoordinate
type CoordinateEventData struct {
	Command string `json:"command"`
	ReplyTo string `json:"reply_to"`
}

// ReadyEventData is the expected data type for event with type TypeReady
type ReadyEventData struct {
	ExecutionID string `json:"execution_id"`
}

// TeardownEventData is the expected data type for event with type TypeTeardown
type TeardownEventData struct {
	Reason string `json:"reason"`
}
