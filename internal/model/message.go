// Package model defines data structures for the conversation engine.
package model

import (
	"time"
)

// Role identifies the author of a message or activity.
type Role string

const (
	RoleAppUser  Role = "appUser"
	RoleAppMaker Role = "appMaker"
	RoleWhisper  Role = "whisper"
)

// UploadStatus is the lifecycle status of a message.
type UploadStatus string

const (
	// StatusUnsent marks a user message that has not yet finished uploading.
	StatusUnsent UploadStatus = "unsent"
	// StatusFailed marks a user message that failed to upload.
	StatusFailed UploadStatus = "failed"
	// StatusSent marks a user message that was successfully uploaded.
	StatusSent UploadStatus = "sent"
	// StatusNotUserMessage marks a message that did not originate from the
	// current user. Such messages never transition.
	StatusNotUserMessage UploadStatus = "notUserMessage"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeFile     MessageType = "file"
	MessageTypeLocation MessageType = "location"
	MessageTypeCarousel MessageType = "carousel"
	MessageTypeList     MessageType = "list"
	// MessageTypeUnknown is the fallback for server-introduced types the
	// engine does not know about. The wire value is preserved in RawType.
	MessageTypeUnknown MessageType = "unknown"
)

// ParseMessageType maps a wire type string onto a known MessageType,
// falling back to MessageTypeUnknown.
func ParseMessageType(raw string) MessageType {
	switch MessageType(raw) {
	case MessageTypeText, MessageTypeImage, MessageTypeFile,
		MessageTypeLocation, MessageTypeCarousel, MessageTypeList:
		return MessageType(raw)
	default:
		return MessageTypeUnknown
	}
}

// Coordinates is a geographic point attached to a location message.
type Coordinates struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// Message represents a single chat message.
type Message struct {
	// Identity. ID is assigned by the server and stays empty until the
	// upload completes. CorrelationID is generated client-side and links
	// an optimistic local message to its server echo.
	ID            string `json:"id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// Content
	Text         string            `json:"text,omitempty"`
	TextFallback string            `json:"text_fallback,omitempty"`
	Payload      string            `json:"payload,omitempty"`
	MediaURL     string            `json:"media_url,omitempty"`
	MediaSize    int64             `json:"media_size,omitempty"`
	Coordinates  *Coordinates      `json:"coordinates,omitempty"`
	Actions      []MessageAction   `json:"actions,omitempty"`
	Items        []MessageItem     `json:"items,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Attribution
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`

	// Type carries the message kind; RawType preserves the wire value when
	// Type is MessageTypeUnknown.
	Type    MessageType `json:"type,omitempty"`
	RawType string      `json:"raw_type,omitempty"`

	Date   time.Time    `json:"date"`
	Status UploadStatus `json:"status"`
}

// NewTextMessage creates a message with the given text, owned by the
// current user.
func NewTextMessage(text string) Message {
	return Message{
		Text:   text,
		Role:   RoleAppUser,
		Type:   MessageTypeText,
		Status: StatusUnsent,
	}
}

// NewLocationMessage creates a location message owned by the current user.
func NewLocationMessage(coords Coordinates) Message {
	return Message{
		Coordinates: &coords,
		Role:        RoleAppUser,
		Type:        MessageTypeLocation,
		Status:      StatusUnsent,
	}
}

// FromCurrentUser reports whether the message originated from the current
// user on this device.
func (m *Message) FromCurrentUser() bool {
	return m.Role == RoleAppUser && m.Status != StatusNotUserMessage
}

// HasContent reports whether the message carries anything worth sending:
// text, a payload, coordinates, or a media reference.
func (m *Message) HasContent() bool {
	return m.Text != "" || m.Payload != "" || m.Coordinates != nil || m.MediaURL != ""
}

// DefaultAction returns the action flagged as default, if any.
func (m *Message) DefaultAction() *MessageAction {
	for i := range m.Actions {
		if m.Actions[i].Default {
			return &m.Actions[i]
		}
	}
	return nil
}
