// Package transport defines the contract between the conversation engine
// and the backing chat service.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/chatkit-io/chatkit-go/internal/model"
)

// ErrConflict is returned when the server rejects an operation referencing
// stale state, such as a postback for an already-paid buy action.
var ErrConflict = errors.New("transport: conflict")

// ServerEcho is the server's acknowledgment of a persisted message or
// uploaded attachment.
type ServerEcho struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`

	// Populated for attachment uploads.
	MediaURL  string `json:"media_url,omitempty"`
	MediaSize int64  `json:"media_size,omitempty"`
}

// Page is one page of historical messages, oldest first.
type Page struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// ProgressFunc reports upload progress as a fraction in [0,1]. It may be
// called from any goroutine.
type ProgressFunc func(fraction float64)

// Transport is the engine's outbound contract. Implementations are expected
// to be safe for concurrent use; every method blocks until the server
// responds, and the engine calls them from their own goroutines.
type Transport interface {
	// PersistMessage uploads an outbound message and returns its server echo.
	PersistMessage(ctx context.Context, conversationID string, msg *model.Message) (*ServerEcho, error)

	// UploadAttachment streams attachment bytes, reporting progress through
	// onProgress (which may be nil).
	UploadAttachment(ctx context.Context, conversationID string, data []byte, mimeType string, onProgress ProgressFunc) (*ServerEcho, error)

	// FetchPreviousMessages returns the page of history strictly older than
	// the given timestamp.
	FetchPreviousMessages(ctx context.Context, conversationID string, before time.Time) (*Page, error)

	// SendTypingPresence is fire-and-forget; failures are not surfaced.
	SendTypingPresence(ctx context.Context, conversationID string, started bool)

	// SendPostback delivers an action payload back to the server.
	SendPostback(ctx context.Context, conversationID, actionID string) error
}

// PushHandler receives data pushed by the server. A transport's push channel
// invokes it from its read goroutine; the engine marshals onto its own
// dispatch context.
type PushHandler interface {
	OnMessagesReceived(batch []model.Message)
	OnActivityReceived(activity model.Activity)
}

// Pusher is implemented by transports that maintain a server push channel.
type Pusher interface {
	// Listen blocks, delivering pushes to the handler until ctx is canceled.
	Listen(ctx context.Context, conversationID string, handler PushHandler) error
}
