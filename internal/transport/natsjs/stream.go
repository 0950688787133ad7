package natsjs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/transport"
)

const (
	historyPageSize = 50
	historyScanMax  = 4096
	postbackTimeout = 10 * time.Second
)

var (
	_ transport.Transport = (*Client)(nil)
	_ transport.Pusher    = (*Client)(nil)
)

// PersistMessage publishes the message to the conversation stream. The
// JetStream ack sequence becomes the server id.
func (c *Client) PersistMessage(ctx context.Context, conversationID string, msg *model.Message) (*transport.ServerEcho, error) {
	if conversationID == "" {
		// First exchange establishes the conversation.
		conversationID = uuid.New().String()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := c.js.Publish(ctx, messageSubject(conversationID, string(msg.Role)), data)
	if err != nil {
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}

	return &transport.ServerEcho{
		MessageID:      fmt.Sprintf("%s-%d", conversationID, ack.Sequence),
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// UploadAttachment stores the payload in the media object store and
// publishes a media message referencing it. Object store puts are atomic,
// so progress is reported only on completion.
func (c *Client) UploadAttachment(ctx context.Context, conversationID string, data []byte, mimeType string, onProgress transport.ProgressFunc) (*transport.ServerEcho, error) {
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	name := fmt.Sprintf("%s/%s", conversationID, uuid.New().String())
	if _, err := c.media.PutBytes(ctx, name, data); err != nil {
		return nil, fmt.Errorf("failed to store attachment: %w", err)
	}
	if onProgress != nil {
		onProgress(1)
	}

	mediaURL := fmt.Sprintf("nats://%s/%s", MediaBucket, name)
	msg := model.Message{
		Role:      model.RoleAppUser,
		Type:      typeForMime(mimeType),
		MediaURL:  mediaURL,
		MediaSize: int64(len(data)),
		Date:      time.Now().UTC(),
	}

	echo, err := c.PersistMessage(ctx, conversationID, &msg)
	if err != nil {
		return nil, err
	}
	echo.MediaURL = mediaURL
	echo.MediaSize = int64(len(data))
	return echo, nil
}

// FetchPreviousMessages replays the conversation subjects and returns the
// newest page strictly older than the given timestamp.
func (c *Client) FetchPreviousMessages(ctx context.Context, conversationID string, before time.Time) (*transport.Page, error) {
	consumer, err := c.js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var older []model.Message
	for len(older) < historyScanMax {
		batch, err := consumer.Fetch(historyPageSize, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		received := 0
		for raw := range batch.Messages() {
			received++
			var msg model.Message
			if err := json.Unmarshal(raw.Data(), &msg); err != nil {
				c.log.Warn("history frame discarded", zap.Error(err))
				continue
			}
			if meta, err := raw.Metadata(); err == nil && msg.ID == "" {
				msg.ID = fmt.Sprintf("%s-%d", conversationID, meta.Sequence.Stream)
			}
			if msg.Date.Before(before) {
				older = append(older, msg)
			}
		}
		if received < historyPageSize {
			break
		}
	}

	// Newest page of the older history; anything before it remains.
	hasMore := len(older) > historyPageSize
	if hasMore {
		older = older[len(older)-historyPageSize:]
	}

	return &transport.Page{Messages: older, HasMore: hasMore}, nil
}

// SendTypingPresence publishes a transient activity over core NATS.
func (c *Client) SendTypingPresence(ctx context.Context, conversationID string, started bool) {
	activity := model.Activity{Type: model.ActivityTypingStop, Role: model.RoleAppUser}
	if started {
		activity.Type = model.ActivityTypingStart
	}

	data, err := json.Marshal(&activity)
	if err != nil {
		return
	}
	if err := c.conn.Publish(activitySubject(conversationID), data); err != nil {
		c.log.Debug("typing presence dropped", zap.Error(err))
	}
}

// SendPostback performs a request/reply against the conversation's postback
// responder.
func (c *Client) SendPostback(ctx context.Context, conversationID, actionID string) error {
	ctx, cancel := context.WithTimeout(ctx, postbackTimeout)
	defer cancel()

	reply, err := c.conn.RequestWithContext(ctx, postbackSubject(conversationID), []byte(actionID))
	if err != nil {
		return fmt.Errorf("postback request failed: %w", err)
	}
	if status := string(reply.Data); status != "ok" {
		if status == "conflict" {
			return fmt.Errorf("%w: postback %s", transport.ErrConflict, actionID)
		}
		return fmt.Errorf("postback rejected: %s", status)
	}
	return nil
}

// pushEnvelope mirrors the REST push frame so both transports share wire
// semantics.
type pushEnvelope struct {
	Type     string          `json:"type"`
	Messages []model.Message `json:"messages,omitempty"`
	Activity *model.Activity `json:"activity,omitempty"`
}

// Listen subscribes to the conversation push subject and delivers frames to
// the handler until ctx is canceled.
func (c *Client) Listen(ctx context.Context, conversationID string, handler transport.PushHandler) error {
	frames := make(chan []byte, 64)
	sub, err := c.conn.Subscribe(pushSubject(conversationID), func(m *nats.Msg) {
		select {
		case frames <- m.Data:
		default:
			c.log.Warn("push frame dropped, handler too slow")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-frames:
			var envelope pushEnvelope
			if err := json.Unmarshal(data, &envelope); err != nil {
				c.log.Warn("push frame discarded", zap.Error(err))
				continue
			}
			switch envelope.Type {
			case "messages":
				if len(envelope.Messages) > 0 {
					handler.OnMessagesReceived(envelope.Messages)
				}
			case "activity":
				if envelope.Activity != nil {
					handler.OnActivityReceived(*envelope.Activity)
				}
			}
		}
	}
}

func typeForMime(mimeType string) model.MessageType {
	if strings.HasPrefix(mimeType, "image/") {
		return model.MessageTypeImage
	}
	return model.MessageTypeFile
}
