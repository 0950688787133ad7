// Package conversation implements the client-side engine that keeps a
// single conversation synchronized with the chat service: message history,
// outbound upload lifecycle, unread tracking, typing presence, pagination,
// and event fan-out.
package conversation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/transport"
	"github.com/chatkit-io/chatkit-go/pkg/logger"
	"github.com/chatkit-io/chatkit-go/pkg/metrics"
)

// DefaultTypingIdleTimeout is the sliding window after which a typing stop
// event fires automatically.
const DefaultTypingIdleTimeout = 10 * time.Second

// Options configures a Conversation.
type Options struct {
	// ConversationID may be empty for a conversation that has not yet
	// exchanged a message; the id is adopted from the first server echo.
	ConversationID string

	// InitialMessages seeds the ordered sequence, oldest first. Typically
	// the most recent page from a session bootstrap.
	InitialMessages []model.Message

	// HasPreviousMessages marks whether older history remains beyond
	// InitialMessages.
	HasPreviousMessages bool

	Metadata map[string]string
	Delegate Delegate
	Hooks    Hooks
	Logger   *logger.Logger

	// TypingIdleTimeout overrides DefaultTypingIdleTimeout when positive.
	TypingIdleTimeout time.Duration
}

// Conversation is the aggregate root. It exclusively owns the ordered
// message sequence and the unread counter; all mutation flows through its
// operations. Methods are safe to call from any goroutine. Events, delegate
// callbacks, and completion callbacks are all delivered in order on a single
// dispatch goroutine.
type Conversation struct {
	mu               sync.Mutex
	id               string
	messages         []model.Message
	unread           int
	appMakerLastRead time.Time
	lastLocalRead    time.Time
	metadata         map[string]string
	hasPrevious      bool
	paginating       bool
	closed           bool

	transport transport.Transport
	delegate  Delegate
	hooks     Hooks
	log       *logger.Logger
	typing   *typingThrottle
	typingCh chan bool
	// typingMu guards typingCh against close, like the dispatcher's jobs
	// channel.
	typingMu     sync.RWMutex
	typingClosed bool

	dispatch *dispatcher
}

// New creates a Conversation bound to the given transport. The caller owns
// the instance and must Close it when the session ends.
func New(t transport.Transport, opts Options) *Conversation {
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}

	c := &Conversation{
		id:          opts.ConversationID,
		messages:    append([]model.Message(nil), opts.InitialMessages...),
		metadata:    opts.Metadata,
		hasPrevious: opts.HasPreviousMessages,
		transport:   t,
		delegate:    opts.Delegate,
		hooks:       opts.Hooks,
		log:         log.With(zap.String("conversation_id", opts.ConversationID)),
		dispatch:    newDispatcher(),
	}

	idle := opts.TypingIdleTimeout
	if idle <= 0 {
		idle = DefaultTypingIdleTimeout
	}
	c.typing = newTypingThrottle(idle, c.sendTypingPresence)

	// Typing presence goes out on its own goroutine so start/stop pairs
	// reach the server in order without blocking the throttle.
	c.typingCh = make(chan bool, 8)
	go func() {
		for started := range c.typingCh {
			c.transport.SendTypingPresence(c.opCtx(), c.ID(), started)
		}
	}()

	return c
}

// Close stops event dispatch and the typing timer after draining pending
// notifications. The Conversation must not be used afterwards.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.typing.shutdown()
	c.typingMu.Lock()
	c.typingClosed = true
	close(c.typingCh)
	c.typingMu.Unlock()
	c.dispatch.close()
}

// Subscribe registers a passive event observer. Subscribers run on the
// dispatch goroutine in subscription order, after the delegate.
func (c *Conversation) Subscribe(fn Subscriber) int {
	return c.dispatch.subscribe(fn)
}

// Unsubscribe removes a previously registered observer.
func (c *Conversation) Unsubscribe(id int) {
	c.dispatch.unsubscribe(id)
}

// ID returns the conversation id, empty until the first message exchange
// establishes one.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Messages returns a copy of the ordered message sequence, oldest first.
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.messages...)
}

// MessageCount returns the number of messages in the sequence.
func (c *Conversation) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// UnreadCount returns the number of unread counterpart messages.
func (c *Conversation) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Metadata returns a copy of the conversation metadata.
func (c *Conversation) Metadata() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		return nil
	}
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// HasPreviousMessages reports whether older history remains to be fetched.
func (c *Conversation) HasPreviousMessages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPrevious
}

// AppMakerLastRead returns when the counterpart last read the user's
// messages.
func (c *Conversation) AppMakerLastRead() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appMakerLastRead
}

// LastRead returns when this device last marked the conversation read, zero
// if it never has.
func (c *Conversation) LastRead() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLocalRead
}

// MarkAllAsRead zeroes the unread counter and records the local read time.
// An unread-count-changed event is emitted only if the count actually
// changed.
func (c *Conversation) MarkAllAsRead() {
	c.mu.Lock()
	changed := c.unread != 0
	c.unread = 0
	c.lastLocalRead = time.Now()
	id := c.id
	c.mu.Unlock()

	if !changed {
		return
	}
	metrics.UnreadMessages.WithLabelValues(id).Set(0)
	c.emit(model.Event{Type: model.EventUnreadCountChanged, UnreadCount: 0})
}

// OnMessagesReceived handles a batch pushed by the transport. Each message
// passes through the BeforeDisplay hook, which may transform or suppress
// it. Accepted messages are appended in server order; unread is incremented
// by the number of non-self-authored messages. A batch entry matching a
// local message by server id or correlation token is an echo, not a new
// message, and is never duplicated.
func (c *Conversation) OnMessagesReceived(batch []model.Message) {
	accepted := make([]model.Message, 0, len(batch))
	for _, msg := range batch {
		if hook := c.hooks.BeforeDisplay; hook != nil {
			filtered := hook(msg)
			if filtered == nil {
				continue
			}
			msg = *filtered
		}
		if msg.Status == "" {
			if msg.Role == model.RoleAppUser {
				msg.Status = model.StatusSent
			} else {
				msg.Status = model.StatusNotUserMessage
			}
		}
		accepted = append(accepted, msg)
	}

	c.mu.Lock()
	inserted := make([]model.Message, 0, len(accepted))
	newUnread := 0
	for _, msg := range accepted {
		if msg.ID != "" && c.indexByID(msg.ID) >= 0 {
			continue
		}
		if msg.CorrelationID != "" {
			if i := c.indexByCorrelation(msg.CorrelationID); i >= 0 {
				// This device's own echo, arriving over push before the
				// persist call returns. Adopt the server identity into the
				// optimistic copy instead of appending.
				if c.messages[i].ID == "" {
					c.messages[i].ID = msg.ID
					c.messages[i].Status = model.StatusSent
					if !msg.Date.IsZero() {
						c.messages[i].Date = msg.Date
					}
				}
				continue
			}
		}
		c.messages = append(c.messages, msg)
		inserted = append(inserted, msg)
		if msg.Role != model.RoleAppUser {
			newUnread++
		}
	}
	c.unread += newUnread
	unreadNow := c.unread
	id := c.id
	c.mu.Unlock()

	if len(inserted) == 0 {
		return
	}

	metrics.MessagesReceivedTotal.Add(float64(len(inserted)))
	c.emit(model.Event{Type: model.EventMessagesReceived, Messages: inserted})
	if newUnread > 0 {
		metrics.UnreadMessages.WithLabelValues(id).Set(float64(unreadNow))
		c.emit(model.Event{Type: model.EventUnreadCountChanged, UnreadCount: unreadNow})
	}
}

// OnActivityReceived handles a transient activity pushed by the transport.
// The message sequence is never mutated; read receipts update the
// counterpart's last-read timestamp.
func (c *Conversation) OnActivityReceived(activity model.Activity) {
	if activity.Type == model.ActivityConversationRead && activity.Role != model.RoleAppUser {
		c.mu.Lock()
		c.appMakerLastRead = activity.LastRead
		c.mu.Unlock()
	}

	a := activity
	c.emit(model.Event{Type: model.EventActivityReceived, Activity: &a})
}

// StartTyping notifies the server that the user is typing. Calls are
// throttled: at most one start event per sliding idle window, and a stop
// event fires automatically when the window elapses.
func (c *Conversation) StartTyping() {
	c.typing.notifyTyping()
}

// StopTyping notifies the server that the user stopped typing. A no-op if
// no start is outstanding.
func (c *Conversation) StopTyping() {
	c.typing.notifyStoppedTyping()
}

// TriggerAction performs the engine's default handling for a tapped action:
// postbacks and replies are delivered to the server. The ShouldHandleAction
// hook may veto default handling. Returns true if the engine handled the
// action.
func (c *Conversation) TriggerAction(action model.MessageAction, onComplete func(error)) bool {
	if gate := c.hooks.ShouldHandleAction; gate != nil && !gate(action) {
		return false
	}

	switch action.Type {
	case model.ActionTypePostback:
		return c.Postback(action, onComplete) == nil
	case model.ActionTypeReply:
		msg := model.NewTextMessage(action.Text)
		msg.Payload = action.Payload
		return c.Send(msg) == nil
	default:
		// Links, webviews and location requests are the host's job.
		return false
	}
}

// Postback delivers an action payload back to the server without inserting
// a message. onComplete, if non-nil, fires exactly once on the dispatch
// goroutine.
func (c *Conversation) Postback(action model.MessageAction, onComplete func(error)) error {
	if action.ID == "" {
		return &ValidationError{Reason: "postback requires an action id"}
	}

	go func() {
		err := c.transport.SendPostback(c.opCtx(), c.ID(), action.ID)
		if err != nil {
			wrapped := wrapTransportErr("postback", err)
			c.log.Warn("postback failed", zap.String("action_id", action.ID), zap.Error(err))
			c.emit(model.Event{Type: model.EventPostbackFailed, Err: wrapped})
			c.complete(onComplete, wrapped)
			return
		}
		c.emit(model.Event{Type: model.EventPostbackCompleted})
		c.complete(onComplete, nil)
	}()

	return nil
}

// emit queues an event for in-order delivery to the delegate and all
// subscribers.
func (c *Conversation) emit(ev model.Event) {
	c.dispatch.post(func() {
		c.notifyDelegate(ev)
		for _, sub := range c.dispatch.snapshot() {
			sub.fn(ev)
		}
	})
}

// complete queues a completion callback on the dispatch goroutine.
func (c *Conversation) complete(fn func(error), err error) {
	if fn == nil {
		return
	}
	c.dispatch.post(func() { fn(err) })
}

func (c *Conversation) notifyDelegate(ev model.Event) {
	if c.delegate == nil {
		return
	}
	switch ev.Type {
	case model.EventUnreadCountChanged:
		c.delegate.UnreadCountChanged(ev.UnreadCount)
	case model.EventMessagesReceived:
		c.delegate.MessagesReceived(ev.Messages)
	case model.EventPreviousMessagesReceived:
		c.delegate.PreviousMessagesReceived(ev.Messages)
	case model.EventActivityReceived:
		c.delegate.ActivityReceived(*ev.Activity)
	case model.EventMessageSendCompleted:
		c.delegate.MessageSent(*ev.Message)
	case model.EventMessageSendFailed:
		c.delegate.MessageFailed(*ev.Message, ev.Err)
	}
}

func (c *Conversation) sendTypingPresence(started bool) {
	kind := "stop"
	if started {
		kind = "start"
	}
	metrics.TypingEventsTotal.WithLabelValues(kind).Inc()

	c.typingMu.RLock()
	defer c.typingMu.RUnlock()
	if c.typingClosed {
		return
	}
	select {
	case c.typingCh <- started:
	default:
		// The worker is far behind; presence is best-effort.
	}
}

// adoptIdentity records the conversation id once the server establishes it.
// Callers must hold c.mu.
func (c *Conversation) adoptIdentity(echo *transport.ServerEcho) {
	if c.id == "" && echo.ConversationID != "" {
		c.id = echo.ConversationID
	}
}

// indexByCorrelation finds a message by correlation token. Callers must
// hold c.mu.
func (c *Conversation) indexByCorrelation(token string) int {
	for i := range c.messages {
		if c.messages[i].CorrelationID == token {
			return i
		}
	}
	return -1
}

// indexByID finds a message by server id. Callers must hold c.mu.
func (c *Conversation) indexByID(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func wrapTransportErr(op string, err error) error {
	if isConflict(err) {
		return &ConflictError{Op: op, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
