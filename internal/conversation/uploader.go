package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/transport"
	"github.com/chatkit-io/chatkit-go/pkg/metrics"
)

// AttachmentProgressFunc reports upload progress in [0,1] on the dispatch
// goroutine.
type AttachmentProgressFunc func(fraction float64)

// AttachmentCompletionFunc reports the result of an attachment upload on
// the dispatch goroutine. Exactly one of msg and err is non-nil.
type AttachmentCompletionFunc func(msg *model.Message, err error)

// Send validates and uploads a message authored by the current user. The
// message is appended to the sequence in unsent state before any network
// interaction; it reaches exactly one of sent or failed per attempt, each
// announced by an event. A validation failure is returned synchronously and
// nothing is inserted.
func (c *Conversation) Send(msg model.Message) error {
	if hook := c.hooks.BeforeSend; hook != nil {
		msg = hook(msg)
	}

	if !msg.HasContent() {
		return &ValidationError{Reason: "message requires text, payload, coordinates, or media"}
	}
	if err := model.ValidateActions(msg.Actions); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	msg.CorrelationID = uuid.New().String()
	msg.Role = model.RoleAppUser
	msg.Status = model.StatusUnsent
	msg.Date = time.Now()
	if msg.Type == "" {
		msg.Type = inferType(&msg)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &StateError{Op: "send", Reason: "conversation is closed"}
	}
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	started := msg
	c.emit(model.Event{Type: model.EventMessageSendStarted, Message: &started})

	go c.persist(msg)
	return nil
}

// RetryMessage retries a failed message. The failed message is removed from
// the sequence atomically with the insertion of a fresh unsent message
// carrying the same content, which then goes through a full send cycle
// under a new correlation token.
func (c *Conversation) RetryMessage(correlationID string) error {
	c.mu.Lock()
	i := c.indexByCorrelation(correlationID)
	if i < 0 {
		c.mu.Unlock()
		return &StateError{Op: "retry", Reason: "message not found"}
	}
	if c.messages[i].Status != model.StatusFailed {
		c.mu.Unlock()
		return &StateError{Op: "retry", Reason: "message is not in failed state"}
	}

	failed := c.messages[i]
	fresh := model.Message{
		CorrelationID: uuid.New().String(),
		Text:          failed.Text,
		Payload:       failed.Payload,
		Coordinates:   failed.Coordinates,
		Metadata:      failed.Metadata,
		Type:          failed.Type,
		Role:          model.RoleAppUser,
		Status:        model.StatusUnsent,
		Date:          time.Now(),
	}
	c.messages = append(c.messages[:i], c.messages[i+1:]...)
	c.messages = append(c.messages, fresh)
	c.mu.Unlock()

	metrics.MessageRetriesTotal.Inc()

	started := fresh
	c.emit(model.Event{Type: model.EventMessageSendStarted, Message: &started})

	go c.persist(fresh)
	return nil
}

// persist drives one unsent message to its terminal status.
func (c *Conversation) persist(msg model.Message) {
	start := time.Now()
	echo, err := c.transport.PersistMessage(c.opCtx(), c.ID(), &msg)

	if err != nil {
		c.mu.Lock()
		if i := c.indexByCorrelation(msg.CorrelationID); i >= 0 {
			c.messages[i].Status = model.StatusFailed
			msg = c.messages[i]
		}
		c.mu.Unlock()

		wrapped := wrapTransportErr("send", err)
		metrics.RecordSend("failed", time.Since(start).Seconds())
		c.log.Warn("message send failed",
			zap.String("correlation_id", msg.CorrelationID),
			zap.Error(err),
		)
		failed := msg
		failed.Status = model.StatusFailed
		c.emit(model.Event{Type: model.EventMessageSendFailed, Message: &failed, Err: wrapped})
		return
	}

	c.mu.Lock()
	c.adoptIdentity(echo)
	if i := c.indexByCorrelation(msg.CorrelationID); i >= 0 {
		c.messages[i].ID = echo.MessageID
		c.messages[i].Status = model.StatusSent
		if !echo.Timestamp.IsZero() {
			c.messages[i].Date = echo.Timestamp
		}
		msg = c.messages[i]
	}
	c.mu.Unlock()

	metrics.RecordSend("sent", time.Since(start).Seconds())
	c.log.Debug("message sent",
		zap.String("message_id", echo.MessageID),
		zap.String("correlation_id", msg.CorrelationID),
	)
	sent := msg
	c.emit(model.Event{Type: model.EventMessageSendCompleted, Message: &sent})
}

// SendAttachment uploads image or file bytes and, on success, inserts a
// sent message referencing the uploaded media. Progress is reported as a
// monotonically non-decreasing fraction in [0,1]; on failure no message is
// inserted. Both callbacks may be nil; each fires at most once per outcome
// (progress: zero or more times), always on the dispatch goroutine.
// Concurrent uploads are independent.
func (c *Conversation) SendAttachment(data []byte, mimeType string, onProgress AttachmentProgressFunc, onComplete AttachmentCompletionFunc) error {
	if len(data) == 0 {
		return &ValidationError{Reason: "attachment requires data"}
	}
	if mimeType == "" {
		return &ValidationError{Reason: "attachment requires a mime type"}
	}
	if c.isClosed() {
		return &StateError{Op: "sendAttachment", Reason: "conversation is closed"}
	}

	// The pre-send hook may decorate attachment sends with metadata only.
	var meta map[string]string
	if hook := c.hooks.BeforeSend; hook != nil {
		rewritten := hook(model.Message{
			Role:   model.RoleAppUser,
			Type:   typeForMime(mimeType),
			Status: model.StatusUnsent,
		})
		meta = rewritten.Metadata
	}

	pending := model.Message{
		Role:     model.RoleAppUser,
		Type:     typeForMime(mimeType),
		Status:   model.StatusUnsent,
		Metadata: meta,
	}
	c.emit(model.Event{Type: model.EventUploadStarted, Message: &pending})

	go c.upload(pending, data, mimeType, onProgress, onComplete)
	return nil
}

func (c *Conversation) upload(pending model.Message, data []byte, mimeType string, onProgress AttachmentProgressFunc, onComplete AttachmentCompletionFunc) {
	// Clamp and de-regress progress before anything observes it.
	var progMu sync.Mutex
	var last float64
	report := func(fraction float64) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		progMu.Lock()
		if fraction <= last {
			progMu.Unlock()
			return
		}
		last = fraction
		progMu.Unlock()

		snapshot := pending
		c.emit(model.Event{Type: model.EventUploadProgress, Message: &snapshot, Progress: fraction})
		if onProgress != nil {
			c.dispatch.post(func() { onProgress(fraction) })
		}
	}

	echo, err := c.transport.UploadAttachment(c.opCtx(), c.ID(), data, mimeType, report)
	if err != nil {
		wrapped := wrapTransportErr("attachment upload", err)
		metrics.RecordUpload("failed", len(data))
		c.log.Warn("attachment upload failed", zap.String("mime_type", mimeType), zap.Error(err))
		c.emit(model.Event{Type: model.EventUploadFailed, Err: wrapped})
		if onComplete != nil {
			c.dispatch.post(func() { onComplete(nil, wrapped) })
		}
		return
	}

	msg := model.Message{
		ID:            echo.MessageID,
		CorrelationID: uuid.New().String(),
		Role:          model.RoleAppUser,
		Type:          typeForMime(mimeType),
		Status:        model.StatusSent,
		Date:          echo.Timestamp,
		MediaURL:      echo.MediaURL,
		MediaSize:     echo.MediaSize,
		Metadata:      pending.Metadata,
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	if msg.MediaSize == 0 {
		msg.MediaSize = int64(len(data))
	}

	c.mu.Lock()
	c.adoptIdentity(echo)
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	metrics.RecordUpload("sent", len(data))
	inserted := msg
	c.emit(model.Event{Type: model.EventUploadCompleted, Message: &inserted})
	if onComplete != nil {
		done := msg
		c.dispatch.post(func() { onComplete(&done, nil) })
	}
}

// opCtx is the context for engine-initiated transport calls. The engine
// imposes no timeout of its own; transport failures, including timeouts,
// surface uniformly as failure completions.
func (c *Conversation) opCtx() context.Context {
	return context.Background()
}

func isConflict(err error) bool {
	return errors.Is(err, transport.ErrConflict)
}

func inferType(msg *model.Message) model.MessageType {
	switch {
	case msg.Coordinates != nil:
		return model.MessageTypeLocation
	case len(msg.Items) > 0:
		return model.MessageTypeCarousel
	default:
		return model.MessageTypeText
	}
}

func typeForMime(mimeType string) model.MessageType {
	if strings.HasPrefix(mimeType, "image/") {
		return model.MessageTypeImage
	}
	return model.MessageTypeFile
}
