package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/transport"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// pushEnvelope is the wire frame of the push channel.
type pushEnvelope struct {
	Type     string          `json:"type"`
	Messages []model.Message `json:"messages,omitempty"`
	Activity *model.Activity `json:"activity,omitempty"`
}

const (
	pushTypeMessages = "messages"
	pushTypeActivity = "activity"
)

// Listen connects the WebSocket push channel and delivers server pushes to
// the handler until ctx is canceled. The connection is re-established with
// exponential backoff after failures.
func (c *Client) Listen(ctx context.Context, conversationID string, handler transport.PushHandler) error {
	backoff := reconnectBase

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx, conversationID)
		if err != nil {
			c.log.Warn("push channel dial failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, reconnectMax)
			continue
		}

		backoff = reconnectBase
		c.log.Debug("push channel connected")

		err = c.readLoop(ctx, conn, handler)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("push channel dropped, reconnecting", zap.Error(err))
	}
}

func (c *Client) dial(ctx context.Context, conversationID string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	url := c.wsURL + "/v1/conversations/" + pathSegment(conversationID) + "/push"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handler transport.PushHandler) error {
	// Unblock the reader when ctx is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var envelope pushEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.log.Warn("push frame discarded", zap.Error(err))
			continue
		}

		switch envelope.Type {
		case pushTypeMessages:
			if len(envelope.Messages) > 0 {
				handler.OnMessagesReceived(envelope.Messages)
			}
		case pushTypeActivity:
			if envelope.Activity != nil {
				handler.OnActivityReceived(*envelope.Activity)
			}
		default:
			// Server-introduced frame types are skipped, not fatal.
		}
	}
}
