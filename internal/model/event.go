package model

// EventType identifies a conversation engine event.
type EventType string

const (
	EventUnreadCountChanged       EventType = "unread-count-changed"
	EventMessagesReceived         EventType = "messages-received"
	EventPreviousMessagesReceived EventType = "previous-messages-received"
	EventPreviousMessagesFailed   EventType = "previous-messages-failed"
	EventActivityReceived         EventType = "activity-received"
	EventMessageSendStarted       EventType = "message-send-started"
	EventMessageSendCompleted     EventType = "message-send-completed"
	EventMessageSendFailed        EventType = "message-send-failed"
	EventUploadStarted            EventType = "attachment-upload-started"
	EventUploadProgress           EventType = "attachment-upload-progress"
	EventUploadCompleted          EventType = "attachment-upload-completed"
	EventUploadFailed             EventType = "attachment-upload-failed"
	EventPostbackCompleted        EventType = "postback-completed"
	EventPostbackFailed           EventType = "postback-failed"
)

// Event is a state change notification fanned out to subscribers. Only the
// fields named by the event type are populated.
type Event struct {
	Type EventType

	// Message is set for send and upload events.
	Message *Message
	// Messages is set for messages-received and
	// previous-messages-received events and carries only the affected
	// batch, never the whole sequence.
	Messages []Message
	// Activity is set for activity-received events.
	Activity *Activity
	// UnreadCount is set for unread-count-changed events.
	UnreadCount int
	// Progress is set for attachment-upload-progress events, in [0,1].
	Progress float64
	// Err is set for failure events.
	Err error
}
