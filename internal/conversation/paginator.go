package conversation

import (
	"time"

	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/pkg/metrics"
)

// LoadPreviousMessages fetches the page of history older than the oldest
// currently-loaded message. At most one fetch is outstanding at a time; a
// concurrent call is coalesced into the in-flight one. A StateError is
// returned when history is already exhausted. On success the page is
// prepended in chronological order and a previous-messages-received event
// carries only the newly prepended messages; on failure nothing is mutated,
// so a later retry remains possible.
func (c *Conversation) LoadPreviousMessages() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &StateError{Op: "loadPrevious", Reason: "conversation is closed"}
	}
	if !c.hasPrevious {
		c.mu.Unlock()
		return &StateError{Op: "loadPrevious", Reason: "no previous messages available"}
	}
	if c.paginating {
		// Coalesce with the outstanding fetch.
		c.mu.Unlock()
		return nil
	}
	c.paginating = true

	before := time.Now()
	if len(c.messages) > 0 {
		before = c.messages[0].Date
	}
	c.mu.Unlock()

	go c.fetchPrevious(before)
	return nil
}

func (c *Conversation) fetchPrevious(before time.Time) {
	page, err := c.transport.FetchPreviousMessages(c.opCtx(), c.ID(), before)
	if err != nil {
		c.mu.Lock()
		c.paginating = false
		c.mu.Unlock()

		metrics.PaginationFetchesTotal.WithLabelValues("failed").Inc()
		c.log.Warn("previous messages fetch failed", zap.Error(err))
		c.emit(model.Event{
			Type: model.EventPreviousMessagesFailed,
			Err:  wrapTransportErr("loadPrevious", err),
		})
		return
	}

	c.mu.Lock()
	c.paginating = false
	c.hasPrevious = page.HasMore

	// Dedupe against the live sequence by server id: a copy already
	// delivered over the push channel wins over the fetched one.
	fresh := make([]model.Message, 0, len(page.Messages))
	for _, msg := range page.Messages {
		if msg.ID != "" && c.indexByID(msg.ID) >= 0 {
			continue
		}
		if msg.Status == "" {
			if msg.Role == model.RoleAppUser {
				msg.Status = model.StatusSent
			} else {
				msg.Status = model.StatusNotUserMessage
			}
		}
		fresh = append(fresh, msg)
	}
	c.messages = append(append([]model.Message(nil), fresh...), c.messages...)
	c.mu.Unlock()

	metrics.PaginationFetchesTotal.WithLabelValues("ok").Inc()
	c.emit(model.Event{Type: model.EventPreviousMessagesReceived, Messages: fresh})
}
