// Package handler implements the simulator's HTTP endpoints. The routes
// mirror what the SDK's REST transport speaks.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/internal/middleware"
	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/sim"
	"github.com/chatkit-io/chatkit-go/internal/transport"
	"github.com/chatkit-io/chatkit-go/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	maxAttachment   = 25 << 20
)

// ConversationHandler serves the conversation endpoints.
type ConversationHandler struct {
	store     *sim.Store
	hub       *sim.Hub
	responder *sim.Responder
	log       *logger.Logger
	upgrader  websocket.Upgrader
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(store *sim.Store, hub *sim.Hub, responder *sim.Responder, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:     store,
		hub:       hub,
		responder: responder,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dev server; the demo client connects from anywhere.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes registers the conversation routes.
func (h *ConversationHandler) Routes(r chi.Router) {
	r.Route("/v1/conversations/{conversationID}", func(r chi.Router) {
		r.Post("/messages", h.PostMessage)
		r.Get("/messages", h.GetMessages)
		r.Post("/attachments", h.PostAttachment)
		r.Post("/postbacks", h.PostPostback)
		r.Post("/activity", h.PostActivity)
		r.Get("/push", h.Push)
	})
}

func (h *ConversationHandler) resolve(r *http.Request) string {
	return h.store.Resolve(
		middleware.GetAppUserID(r.Context()),
		chi.URLParam(r, "conversationID"),
	)
}

// PostMessage persists an app user message and returns its server echo.
func (h *ConversationHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var msg model.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid message body")
		return
	}
	if !msg.HasContent() {
		respondError(w, http.StatusBadRequest, "message has no content")
		return
	}

	conversationID := h.resolve(r)
	msg.Role = model.RoleAppUser
	stored := h.store.Append(conversationID, msg)

	h.hub.Broadcast(conversationID, sim.MessageEnvelope(stored))
	h.responder.OnAppUserMessage(conversationID)

	respond(w, http.StatusCreated, transport.ServerEcho{
		MessageID:      stored.ID,
		ConversationID: conversationID,
		Timestamp:      stored.Date,
	})
}

// GetMessages returns the history page older than the "before" timestamp.
func (h *ConversationHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := h.resolve(r)

	before := time.Now().UTC()
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		before = parsed
	}

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(parsed, maxPageSize)
	}

	messages, hasMore := h.store.History(conversationID, before, limit)
	respond(w, http.StatusOK, transport.Page{Messages: messages, HasMore: hasMore})
}

// PostAttachment stores the raw attachment body as a media message.
func (h *ConversationHandler) PostAttachment(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxAttachment+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read attachment")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty attachment")
		return
	}
	if len(data) > maxAttachment {
		respondError(w, http.StatusRequestEntityTooLarge, "attachment too large")
		return
	}

	conversationID := h.resolve(r)
	mimeType := r.Header.Get("Content-Type")
	msgType := model.MessageTypeFile
	if len(mimeType) >= 6 && mimeType[:6] == "image/" {
		msgType = model.MessageTypeImage
	}

	// The simulator does not serve media back; a real deployment returns a
	// CDN location here.
	mediaURL := "simulator://attachments/" + conversationID
	stored := h.store.Append(conversationID, model.Message{
		Role:      model.RoleAppUser,
		Type:      msgType,
		MediaURL:  mediaURL,
		MediaSize: int64(len(data)),
	})

	h.hub.Broadcast(conversationID, sim.MessageEnvelope(stored))

	respond(w, http.StatusCreated, transport.ServerEcho{
		MessageID:      stored.ID,
		ConversationID: conversationID,
		Timestamp:      stored.Date,
		MediaURL:       stored.MediaURL,
		MediaSize:      stored.MediaSize,
	})
}

type postbackRequest struct {
	ActionID string `json:"action_id"`
}

// PostPostback settles an action postback. Re-purchasing a paid buy action
// yields 409.
func (h *ConversationHandler) PostPostback(w http.ResponseWriter, r *http.Request) {
	var req postbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActionID == "" {
		respondError(w, http.StatusBadRequest, "action_id required")
		return
	}

	conversationID := h.resolve(r)
	action, ok := h.store.FindAction(conversationID, req.ActionID)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown action")
		return
	}

	if action.Type == model.ActionTypeBuy && !h.store.SettleAction(conversationID, req.ActionID) {
		respondError(w, http.StatusConflict, "action already paid")
		return
	}

	h.responder.OnPostback(conversationID, action)
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PostActivity accepts typing and read activities and relays them to other
// subscribers.
func (h *ConversationHandler) PostActivity(w http.ResponseWriter, r *http.Request) {
	var activity model.Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		respondError(w, http.StatusBadRequest, "invalid activity body")
		return
	}

	conversationID := h.resolve(r)
	if activity.Type == model.ActivityConversationRead {
		activity.LastRead = h.store.MarkRead(conversationID, activity.Role)
	}

	h.hub.Broadcast(conversationID, sim.ActivityEnvelope(activity))
	w.WriteHeader(http.StatusNoContent)
}

// Push upgrades to WebSocket and streams push envelopes.
func (h *ConversationHandler) Push(w http.ResponseWriter, r *http.Request) {
	conversationID := h.resolve(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("push upgrade failed", zap.Error(err))
		return
	}

	h.log.Debug("push subscriber connected",
		zap.String("conversation_id", conversationID))
	h.hub.Serve(conversationID, conn)
}
