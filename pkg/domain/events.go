package domain

import "time"

// EventType defines the category of a lifecycle event.
type EventType string

const (
	EventInstanceStarted     EventType = "instance_started"
	EventInstanceEnded       EventType = "instance_ended"
	EventExecutionCreated    EventType = "execution_created"
	EventExecutionEnded      EventType = "execution_ended"
	EventActivityStarted     EventType = "activity_started"
	EventActivityEnded       EventType = "activity_ended"
	EventTaskCreated         EventType = "task_created"
	EventTaskEnded           EventType = "task_ended"
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionRemoved EventType = "subscription_removed"
	EventMessageThrown       EventType = "message_thrown"
)

// Event is emitted synchronously, inside the transaction of the state change
// it describes, to every registered observer.
type Event struct {
	Type          EventType `json:"type"`
	Time          time.Time `json:"time"`
	ProcessID     string    `json:"process_id"`
	DefinitionID  string    `json:"definition_id"`
	DefinitionKey string    `json:"definition_key"`
	ExecutionID   string    `json:"execution_id,omitempty"`
	ActivityID    string    `json:"activity_id,omitempty"`
	NodeKind      NodeKind  `json:"node_kind,omitempty"`

	// RecordID identifies the activity span for activity events.
	RecordID string `json:"record_id,omitempty"`
	// Completed is set on ended events when the element finished normally.
	Completed bool `json:"completed,omitempty"`

	Task         *UserTask          `json:"task,omitempty"`
	Subscription *EventSubscription `json:"subscription,omitempty"`
	EndState     EndState           `json:"end_state,omitempty"`
}
