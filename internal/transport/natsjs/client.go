// Package natsjs implements the engine transport over NATS JetStream, for
// deployments where the chat service fronts a NATS cluster instead of a
// REST API.
package natsjs

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/pkg/logger"
)

const (
	// StreamName is the name of the conversations stream.
	StreamName = "CHAT_MESSAGES"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "chat"

	// MediaBucket is the object store bucket for attachment payloads.
	MediaBucket = "chatkit-media"
)

// Config holds NATS connection configuration.
type Config struct {
	URL   string
	Token string
}

// Client wraps the NATS connection and JetStream context.
type Client struct {
	conn  *nats.Conn
	js    jetstream.JetStream
	media jetstream.ObjectStore
	log   *logger.Logger
}

// Connect establishes a connection to the NATS server and ensures the
// message stream and media bucket exist.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c := &Client{conn: nc, js: js, log: log}
	if err := c.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	if err := c.ensureMediaBucket(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) ensureStream(ctx context.Context) error {
	if _, err := c.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := c.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.*.msg.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Conversation message history",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (c *Client) ensureMediaBucket(ctx context.Context) error {
	store, err := c.js.ObjectStore(ctx, MediaBucket)
	if err == nil {
		c.media = store
		return nil
	}

	store, err = c.js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      MediaBucket,
		Description: "Attachment payloads",
	})
	if err != nil {
		return fmt.Errorf("failed to create media bucket: %w", err)
	}
	c.media = store
	return nil
}

// Close closes the NATS connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected reports whether the NATS connection is up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

func messageSubject(conversationID, role string) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, role)
}

func activitySubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.activity", SubjectPrefix, conversationID)
}

func postbackSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.postback", SubjectPrefix, conversationID)
}

func pushSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.push", SubjectPrefix, conversationID)
}
