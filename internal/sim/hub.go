package sim

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/pkg/logger"
	"github.com/chatkit-io/chatkit-go/pkg/metrics"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 64
)

// Envelope is the push frame sent to connected clients.
type Envelope struct {
	Type     string          `json:"type"`
	Messages []model.Message `json:"messages,omitempty"`
	Activity *model.Activity `json:"activity,omitempty"`
}

// MessageEnvelope wraps new messages for push.
func MessageEnvelope(msgs ...model.Message) Envelope {
	return Envelope{Type: "messages", Messages: msgs}
}

// ActivityEnvelope wraps a transient activity for push.
func ActivityEnvelope(activity model.Activity) Envelope {
	return Envelope{Type: "activity", Activity: &activity}
}

// pushClient is one WebSocket subscriber on a conversation.
type pushClient struct {
	conversationID string
	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	once           sync.Once
}

func (c *pushClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans push envelopes out to the WebSocket subscribers of each
// conversation.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*pushClient]struct{}
	log     *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*pushClient]struct{}),
		log:     log,
	}
}

// Serve registers the connection as a subscriber of the conversation and
// pumps frames until the peer disconnects.
func (h *Hub) Serve(conversationID string, conn *websocket.Conn) {
	client := &pushClient{
		conversationID: conversationID,
		conn:           conn,
		send:           make(chan []byte, sendBufSize),
		done:           make(chan struct{}),
	}

	h.mu.Lock()
	if _, ok := h.clients[conversationID]; !ok {
		h.clients[conversationID] = make(map[*pushClient]struct{})
	}
	h.clients[conversationID][client] = struct{}{}
	h.mu.Unlock()
	metrics.PushConnectionsActive.Inc()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writePump(client)
	}()
	go func() {
		defer wg.Done()
		h.readPump(client)
	}()
	wg.Wait()

	h.remove(client)
}

func (h *Hub) remove(client *pushClient) {
	h.mu.Lock()
	if clients, ok := h.clients[client.conversationID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			metrics.PushConnectionsActive.Dec()
			if len(clients) == 0 {
				delete(h.clients, client.conversationID)
			}
		}
	}
	h.mu.Unlock()
	client.close()
}

// Broadcast delivers the envelope to every subscriber of the conversation.
// Slow subscribers are disconnected rather than blocking the rest.
func (h *Hub) Broadcast(conversationID string, envelope Envelope) {
	data, err := json.Marshal(&envelope)
	if err != nil {
		h.log.Error("push envelope marshal failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*pushClient, 0, len(h.clients[conversationID]))
	for client := range h.clients[conversationID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- data:
		case <-client.done:
		default:
			h.log.Warn("push buffer full, closing slow client",
				zap.String("conversation_id", conversationID))
			client.close()
		}
	}
}

// Shutdown disconnects every subscriber.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	all := make([]*pushClient, 0)
	for _, clients := range h.clients {
		for client := range clients {
			all = append(all, client)
		}
	}
	h.clients = make(map[string]map[*pushClient]struct{})
	h.mu.Unlock()

	for _, client := range all {
		client.close()
	}
}

// readPump drains the connection so close frames and pongs are processed.
// The push channel is one-way; client frames are discarded.
func (h *Hub) readPump(client *pushClient) {
	defer client.close()

	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *pushClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.close()
	}()

	for {
		select {
		case <-client.done:
			client.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case data := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
