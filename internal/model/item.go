package model

// MessageItem is a single entry of a carousel or list message.
type MessageItem struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	MediaURL    string            `json:"media_url,omitempty"`
	MediaType   string            `json:"media_type,omitempty"`
	Actions     []MessageAction   `json:"actions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
