package model

// EventPriority ranks how urgently a human needs to see an event.
type EventPriority string

// The closed set of priorities, highest urgency first.
const (
	PriorityUrgent  EventPriority = "urgent"
	PriorityAction  EventPriority = "action"
	PriorityWarning EventPriority = "warning"
	PriorityInfo    EventPriority = "info"
)
