package model

import (
	"errors"
	"fmt"
)

// ActionType is the kind of a message action.
type ActionType string

const (
	ActionTypeLink            ActionType = "link"
	ActionTypeWebview         ActionType = "webview"
	ActionTypeBuy             ActionType = "buy"
	ActionTypePostback        ActionType = "postback"
	ActionTypeReply           ActionType = "reply"
	ActionTypeLocationRequest ActionType = "locationRequest"
	// ActionTypeUnknown is the fallback for server-introduced action types.
	ActionTypeUnknown ActionType = "unknown"
)

// ParseActionType maps a wire type string onto a known ActionType, falling
// back to ActionTypeUnknown.
func ParseActionType(raw string) ActionType {
	switch ActionType(raw) {
	case ActionTypeLink, ActionTypeWebview, ActionTypeBuy,
		ActionTypePostback, ActionTypeReply, ActionTypeLocationRequest:
		return ActionType(raw)
	default:
		return ActionTypeUnknown
	}
}

// WebviewSize is the size class of a webview action.
type WebviewSize string

const (
	WebviewSizeFull    WebviewSize = "full"
	WebviewSizeTall    WebviewSize = "tall"
	WebviewSizeCompact WebviewSize = "compact"
)

// Purchase states for buy actions. The transition offered -> paid is
// monotonic and driven by the server.
const (
	ActionStateOffered = "offered"
	ActionStatePaid    = "paid"
)

// MessageAction is an action button attached to a message or message item.
type MessageAction struct {
	ID       string            `json:"id,omitempty"`
	Type     ActionType        `json:"type"`
	RawType  string            `json:"raw_type,omitempty"`
	Text     string            `json:"text,omitempty"`
	URI      string            `json:"uri,omitempty"`
	Fallback string            `json:"fallback,omitempty"`
	Size     WebviewSize       `json:"size,omitempty"`
	Default  bool              `json:"default,omitempty"`
	IconURL  string            `json:"icon_url,omitempty"`
	Payload  string            `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Buy actions only.
	State    string `json:"state,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Validate checks the conditionally required fields for the action's type.
func (a *MessageAction) Validate() error {
	switch a.Type {
	case ActionTypeLink:
		if a.URI == "" {
			return errors.New("link action requires a uri")
		}
	case ActionTypeWebview:
		if a.URI == "" {
			return errors.New("webview action requires a uri")
		}
		switch a.Size {
		case WebviewSizeFull, WebviewSizeTall, WebviewSizeCompact:
		default:
			return fmt.Errorf("webview action requires a size of full, tall, or compact, got %q", a.Size)
		}
	case ActionTypeBuy:
		if a.Amount <= 0 {
			return errors.New("buy action requires a positive amount")
		}
		if a.Currency == "" {
			return errors.New("buy action requires a currency")
		}
	case ActionTypeReply, ActionTypePostback:
		if a.Payload == "" {
			return fmt.Errorf("%s action requires a payload", a.Type)
		}
	}
	return nil
}

// ValidateActions validates each action in the list and enforces that at
// most one of them is flagged default.
func ValidateActions(actions []MessageAction) error {
	defaults := 0
	for i := range actions {
		if err := actions[i].Validate(); err != nil {
			return err
		}
		if actions[i].Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("at most one action may be flagged default")
	}
	return nil
}
