// Package llm provides the reply generators behind the simulator's
// auto-responder.
package llm

import (
	"context"

	"github.com/chatkit-io/chatkit-go/internal/model"
)

// Client generates an app maker reply from the conversation so far.
type Client interface {
	// Reply returns the next app maker message text given the
	// conversation history, oldest first.
	Reply(ctx context.Context, history []model.Message) (string, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

const systemPrompt = "You are a concise, friendly support agent. Reply to the customer's latest message in at most three sentences."

// NewClient creates a reply generator for the given provider.
func NewClient(provider Provider, apiKey, model string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, model)
	default:
		return NewAnthropicClient(apiKey, model)
	}
}

// chatTurn is the provider-neutral prompt turn.
type chatTurn struct {
	role    string // "user" or "assistant"
	content string
}

// historyTurns maps conversation messages onto prompt turns. Whispers and
// messages without text are dropped; the app user speaks as "user" and the
// app maker as "assistant".
func historyTurns(history []model.Message) []chatTurn {
	turns := make([]chatTurn, 0, len(history))
	for _, msg := range history {
		if msg.Text == "" || msg.Role == model.RoleWhisper {
			continue
		}
		role := "assistant"
		if msg.Role == model.RoleAppUser {
			role = "user"
		}
		// Providers reject consecutive same-role turns; merge them.
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].content += "\n" + msg.Text
			continue
		}
		turns = append(turns, chatTurn{role: role, content: msg.Text})
	}
	return turns
}
