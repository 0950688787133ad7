package conversation

import (
	"github.com/chatkit-io/chatkit-go/internal/model"
)

// Hooks are optional pure functions the host may install. Each is called
// synchronously before the corresponding engine step proceeds.
type Hooks struct {
	// BeforeSend may rewrite an outbound message before it is validated
	// and handed to the transport. For attachment sends only the returned
	// metadata is applied.
	BeforeSend func(msg model.Message) model.Message

	// BeforeDisplay may transform an inbound message before it is
	// inserted, or suppress it by returning nil. A suppressed message is
	// not inserted and does not count toward unread.
	BeforeDisplay func(msg model.Message) *model.Message

	// ShouldHandleAction gates the engine's default handling of a tapped
	// action. Returning false leaves the action to the host.
	ShouldHandleAction func(action model.MessageAction) bool
}
