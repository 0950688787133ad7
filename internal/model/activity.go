package model

import (
	"time"
)

// ActivityType is the kind of a transient conversation activity.
type ActivityType string

const (
	ActivityTypingStart      ActivityType = "typingStart"
	ActivityTypingStop       ActivityType = "typingStop"
	ActivityConversationRead ActivityType = "conversationRead"
)

// Activity is a transient conversation signal. Activities are never stored
// in the message sequence.
type Activity struct {
	Type ActivityType `json:"type"`
	Role Role         `json:"role"`

	// Auxiliary data: name/avatar for typing activities, last-read
	// timestamp for read receipts.
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	LastRead  time.Time `json:"last_read,omitempty"`
}
