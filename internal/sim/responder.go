package sim

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/internal/llm"
	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/pkg/logger"
)

const replyTimeout = 30 * time.Second

// Responder plays the app maker: it answers each app user message with a
// typing indicator followed by a reply. When no LLM client is configured it
// falls back to a canned echo.
type Responder struct {
	store *Store
	hub   *Hub
	llm   llm.Client
	log   *logger.Logger

	// Delay between the typing indicator and the reply when using the
	// canned fallback.
	typingDelay time.Duration
}

// NewResponder creates a responder. llmClient may be nil.
func NewResponder(store *Store, hub *Hub, llmClient llm.Client, log *logger.Logger) *Responder {
	return &Responder{
		store:       store,
		hub:         hub,
		llm:         llmClient,
		log:         log,
		typingDelay: 800 * time.Millisecond,
	}
}

// OnAppUserMessage schedules a reply to the given conversation. It returns
// immediately; the reply arrives over the push channel.
func (r *Responder) OnAppUserMessage(conversationID string) {
	go r.reply(conversationID)
}

// OnPostback schedules an acknowledgement message for a settled postback.
func (r *Responder) OnPostback(conversationID string, action model.MessageAction) {
	go func() {
		text := fmt.Sprintf("Got it, processing %q.", action.Text)
		stored := r.store.Append(conversationID, model.Message{
			Text: text,
			Role: model.RoleAppMaker,
			Name: "Simulator",
			Type: model.MessageTypeText,
		})
		r.hub.Broadcast(conversationID, MessageEnvelope(stored))
	}()
}

func (r *Responder) reply(conversationID string) {
	r.hub.Broadcast(conversationID, ActivityEnvelope(model.Activity{
		Type: model.ActivityTypingStart,
		Role: model.RoleAppMaker,
		Name: "Simulator",
	}))

	text := r.generate(conversationID)

	r.hub.Broadcast(conversationID, ActivityEnvelope(model.Activity{
		Type: model.ActivityTypingStop,
		Role: model.RoleAppMaker,
		Name: "Simulator",
	}))

	stored := r.store.Append(conversationID, model.Message{
		Text: text,
		Role: model.RoleAppMaker,
		Name: "Simulator",
		Type: model.MessageTypeText,
	})
	r.hub.Broadcast(conversationID, MessageEnvelope(stored))

	now := r.store.MarkRead(conversationID, model.RoleAppMaker)
	r.hub.Broadcast(conversationID, ActivityEnvelope(model.Activity{
		Type:     model.ActivityConversationRead,
		Role:     model.RoleAppMaker,
		Name:     "Simulator",
		LastRead: now,
	}))
}

func (r *Responder) generate(conversationID string) string {
	history := r.store.Messages(conversationID)

	if r.llm != nil {
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()

		text, err := r.llm.Reply(ctx, history)
		if err == nil && text != "" {
			return text
		}
		r.log.Warn("reply generation failed, using fallback",
			zap.String("provider", r.llm.Name()), zap.Error(err))
	}

	time.Sleep(r.typingDelay)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleAppUser && history[i].Text != "" {
			return fmt.Sprintf("You said: %q. How can I help?", history[i].Text)
		}
	}
	return "Hello! How can I help?"
}
