package types

// EventType is one of the closed set of domain kinds the ingestion API accepts.
type EventType string

const (
	EventAgentStatusChanged EventType = "agent_status_changed"
	EventAgentMovedRoom     EventType = "agent_moved_room"
	EventTaskStarted        EventType = "task_started"
	EventTaskCompleted      EventType = "task_completed"
	EventRoomUpdated        EventType = "room_updated"
)

// EventTypes lists every accepted EventType in declaration order.
var EventTypes = []EventType{
	EventAgentStatusChanged,
	EventAgentMovedRoom,
	EventTaskStarted,
	EventTaskCompleted,
	EventRoomUpdated,
}

// Valid reports whether t is a member of the closed EventType set.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Agent status values.
const (
	AgentActive  = "active"
	AgentIdle    = "idle"
	AgentMeeting = "meeting"
)

// Task status values.
const (
	TaskStarted   = "started"
	TaskCompleted = "completed"
)

// Event is the unit of delivery.
//
// Once an Event has been enqueued it is treated as immutable. Only
// IdempotencyKey and Metadata are filled in, by validation, before that.
type Event struct {
	EventID    string    `json:"eventId"`
	EventType  EventType `json:"eventType"`
	OccurredAt int64     `json:"occurredAt"`

	// IdempotencyKey identifies the logical occurrence for deduplication by
	// the peer. Derived as eventType:eventId:occurredAt when the producer
	// omits it; a supplied value, even empty, is kept.
	IdempotencyKey string `json:"idempotencyKey"`

	Agent *AgentPayload `json:"agent,omitempty"`
	Room  *RoomPayload  `json:"room,omitempty"`
	Task  *TaskPayload  `json:"task,omitempty"`

	Metadata map[string]string `json:"metadata"`
}

// AgentPayload describes an agent for agent_* events.
type AgentPayload struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
	Status  string `json:"status,omitempty"` // active | idle | meeting
	RoomID  string `json:"roomId,omitempty"`
}

// RoomPayload describes a room for room_updated and agent_moved_room events.
type RoomPayload struct {
	RoomID         string `json:"roomId"`
	Name           string `json:"name"`
	OccupancyCount *int   `json:"occupancyCount,omitempty"`
}

// TaskPayload describes a task for task_* events.
type TaskPayload struct {
	TaskID string `json:"taskId"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"` // started | completed
}

// Batch is the request body of the ingest endpoint.
type Batch struct {
	InstanceID string  `json:"instanceId"`
	Events     []Event `json:"events"`
}

// Snapshot is the persisted representation of the queue.
type Snapshot struct {
	Events []Event `json:"events"`
}
