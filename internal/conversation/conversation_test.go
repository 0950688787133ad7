package conversation_test

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chatkit-io/chatkit-go/internal/conversation"
	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/transport"
	"github.com/chatkit-io/chatkit-go/pkg/logger"
)

var _ = Describe("Conversation", func() {
	var (
		ft   *fakeTransport
		rec  *eventRecorder
		conv *conversation.Conversation
	)

	newConversation := func(opts conversation.Options) *conversation.Conversation {
		opts.Logger = logger.NewNop()
		c := conversation.New(ft, opts)
		c.Subscribe(rec.record)
		return c
	}

	BeforeEach(func() {
		ft = &fakeTransport{}
		rec = &eventRecorder{}
		conv = nil
	})

	AfterEach(func() {
		if conv != nil {
			conv.Close()
		}
	})

	Describe("Send", func() {
		BeforeEach(func() {
			conv = newConversation(conversation.Options{})
		})

		It("drives a message from unsent to sent and adopts the server identity", func() {
			Expect(conv.Send(model.NewTextMessage("hello"))).To(Succeed())

			msgs := conv.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Status).To(Equal(model.StatusUnsent))
			Expect(msgs[0].CorrelationID).NotTo(BeEmpty())

			Eventually(rec.countOf(model.EventMessageSendCompleted)).Should(Equal(1))

			msgs = conv.Messages()
			Expect(msgs[0].Status).To(Equal(model.StatusSent))
			Expect(msgs[0].ID).To(HavePrefix("srv-"))
			Expect(conv.ID()).To(Equal("conv-1"))

			types := rec.types()
			Expect(types).To(ContainElements(model.EventMessageSendStarted, model.EventMessageSendCompleted))
		})

		It("emits started before completed", func() {
			Expect(conv.Send(model.NewTextMessage("ordered"))).To(Succeed())
			Eventually(rec.countOf(model.EventMessageSendCompleted)).Should(Equal(1))

			var started, completed int
			for i, t := range rec.types() {
				switch t {
				case model.EventMessageSendStarted:
					started = i
				case model.EventMessageSendCompleted:
					completed = i
				}
			}
			Expect(started).To(BeNumerically("<", completed))
		})

		It("marks the message failed and reports a TransportError when the upload fails", func() {
			ft.persistFn = func(string, *model.Message) (*transport.ServerEcho, error) {
				return nil, errors.New("boom")
			}

			Expect(conv.Send(model.NewTextMessage("doomed"))).To(Succeed())
			Eventually(rec.countOf(model.EventMessageSendFailed)).Should(Equal(1))

			msgs := conv.Messages()
			Expect(msgs[0].Status).To(Equal(model.StatusFailed))

			ev := rec.ofType(model.EventMessageSendFailed)[0]
			var terr *conversation.TransportError
			Expect(errors.As(ev.Err, &terr)).To(BeTrue())
		})

		It("rejects an empty message synchronously without inserting it", func() {
			err := conv.Send(model.Message{})
			var verr *conversation.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(conv.MessageCount()).To(BeZero())
			Expect(ft.persistedMessages()).To(BeEmpty())
		})

		It("rejects a message carrying two default actions", func() {
			msg := model.NewTextMessage("pick one")
			msg.Actions = []model.MessageAction{
				{Type: model.ActionTypeLink, URI: "https://a.example", Default: true},
				{Type: model.ActionTypeLink, URI: "https://b.example", Default: true},
			}

			err := conv.Send(msg)
			var verr *conversation.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(conv.MessageCount()).To(BeZero())
		})

		It("applies the pre-send hook before validation", func() {
			conv.Close()
			conv = newConversation(conversation.Options{
				Hooks: conversation.Hooks{
					BeforeSend: func(msg model.Message) model.Message {
						msg.Text = msg.Text + "!"
						return msg
					},
				},
			})

			Expect(conv.Send(model.NewTextMessage("hi"))).To(Succeed())
			Eventually(rec.countOf(model.EventMessageSendCompleted)).Should(Equal(1))
			Expect(ft.persistedMessages()[0].Text).To(Equal("hi!"))
		})

		It("rejects sends after Close", func() {
			conv.Close()
			err := conv.Send(model.NewTextMessage("late"))
			var serr *conversation.StateError
			Expect(errors.As(err, &serr)).To(BeTrue())
			conv = nil
		})
	})

	Describe("RetryMessage", func() {
		BeforeEach(func() {
			conv = newConversation(conversation.Options{})
		})

		failSend := func(text string) string {
			ft.mu.Lock()
			ft.persistFn = func(string, *model.Message) (*transport.ServerEcho, error) {
				return nil, errors.New("offline")
			}
			ft.mu.Unlock()

			before := len(rec.ofType(model.EventMessageSendFailed))
			Expect(conv.Send(model.NewTextMessage(text))).To(Succeed())
			Eventually(rec.countOf(model.EventMessageSendFailed)).Should(Equal(before + 1))

			msgs := conv.Messages()
			return msgs[len(msgs)-1].CorrelationID
		}

		It("rejects retrying a message that is not failed", func() {
			Expect(conv.Send(model.NewTextMessage("fine"))).To(Succeed())
			Eventually(rec.countOf(model.EventMessageSendCompleted)).Should(Equal(1))

			token := conv.Messages()[0].CorrelationID
			err := conv.RetryMessage(token)
			var serr *conversation.StateError
			Expect(errors.As(err, &serr)).To(BeTrue())
		})

		It("rejects an unknown correlation token", func() {
			err := conv.RetryMessage("no-such-token")
			var serr *conversation.StateError
			Expect(errors.As(err, &serr)).To(BeTrue())
		})

		It("replaces the failed message with a fresh send carrying the same content", func() {
			token := failSend("try me")

			ft.mu.Lock()
			ft.persistFn = nil
			ft.mu.Unlock()

			Expect(conv.RetryMessage(token)).To(Succeed())
			Eventually(rec.countOf(model.EventMessageSendCompleted)).Should(Equal(1))

			msgs := conv.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Text).To(Equal("try me"))
			Expect(msgs[0].CorrelationID).NotTo(Equal(token))
			Expect(msgs[0].Status).To(Equal(model.StatusSent))
		})

		It("keeps a retried message retryable after another failure", func() {
			token := failSend("stubborn")

			Expect(conv.RetryMessage(token)).To(Succeed())
			Eventually(rec.countOf(model.EventMessageSendFailed)).Should(Equal(2))

			msgs := conv.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Status).To(Equal(model.StatusFailed))
			Expect(conv.RetryMessage(msgs[0].CorrelationID)).To(Succeed())
		})
	})

	Describe("OnMessagesReceived", func() {
		BeforeEach(func() {
			conv = newConversation(conversation.Options{ConversationID: "conv-1"})
		})

		It("appends counterpart messages and counts them unread", func() {
			conv.OnMessagesReceived([]model.Message{
				{ID: "m1", Text: "welcome", Role: model.RoleAppMaker},
				{ID: "m2", Text: "psst", Role: model.RoleWhisper},
			})

			Eventually(rec.countOf(model.EventMessagesReceived)).Should(Equal(1))
			Expect(conv.UnreadCount()).To(Equal(2))
			Expect(conv.MessageCount()).To(Equal(2))

			msgs := conv.Messages()
			Expect(msgs[0].Status).To(Equal(model.StatusNotUserMessage))

			unreadEvents := rec.ofType(model.EventUnreadCountChanged)
			Expect(unreadEvents).To(HaveLen(1))
			Expect(unreadEvents[0].UnreadCount).To(Equal(2))
		})

		It("does not count own-device echoes as unread", func() {
			conv.OnMessagesReceived([]model.Message{
				{ID: "m1", Text: "from my phone", Role: model.RoleAppUser},
			})

			Eventually(rec.countOf(model.EventMessagesReceived)).Should(Equal(1))
			Expect(conv.UnreadCount()).To(BeZero())
			Expect(conv.Messages()[0].Status).To(Equal(model.StatusSent))
			Expect(rec.ofType(model.EventUnreadCountChanged)).To(BeEmpty())
		})

		It("recognizes its own echo by correlation token when push beats the send response", func() {
			release := make(chan struct{})
			ft.mu.Lock()
			ft.persistFn = func(string, *model.Message) (*transport.ServerEcho, error) {
				<-release
				return &transport.ServerEcho{
					MessageID:      "srv-1",
					ConversationID: "conv-1",
					Timestamp:      time.Now().UTC(),
				}, nil
			}
			ft.mu.Unlock()

			Expect(conv.Send(model.NewTextMessage("fast push"))).To(Succeed())
			token := conv.Messages()[0].CorrelationID

			conv.OnMessagesReceived([]model.Message{{
				ID:            "srv-1",
				CorrelationID: token,
				Text:          "fast push",
				Role:          model.RoleAppUser,
			}})

			msgs := conv.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].ID).To(Equal("srv-1"))
			Expect(msgs[0].Status).To(Equal(model.StatusSent))

			close(release)
			Eventually(rec.countOf(model.EventMessageSendCompleted)).Should(Equal(1))
			Consistently(conv.MessageCount).Should(Equal(1))
			Expect(conv.UnreadCount()).To(BeZero())
			Expect(rec.ofType(model.EventMessagesReceived)).To(BeEmpty())
		})

		It("drops duplicates by server id", func() {
			batch := []model.Message{{ID: "m1", Text: "once", Role: model.RoleAppMaker}}
			conv.OnMessagesReceived(batch)
			conv.OnMessagesReceived(batch)

			Eventually(rec.countOf(model.EventMessagesReceived)).Should(Equal(1))
			Consistently(rec.countOf(model.EventMessagesReceived)).Should(Equal(1))
			Expect(conv.MessageCount()).To(Equal(1))
			Expect(conv.UnreadCount()).To(Equal(1))
		})

		It("lets the display hook suppress and transform messages", func() {
			conv.Close()
			conv = newConversation(conversation.Options{
				ConversationID: "conv-1",
				Hooks: conversation.Hooks{
					BeforeDisplay: func(msg model.Message) *model.Message {
						if msg.Text == "spam" {
							return nil
						}
						msg.Text = "[ok] " + msg.Text
						return &msg
					},
				},
			})

			conv.OnMessagesReceived([]model.Message{
				{ID: "m1", Text: "spam", Role: model.RoleAppMaker},
				{ID: "m2", Text: "hello", Role: model.RoleAppMaker},
			})

			Eventually(rec.countOf(model.EventMessagesReceived)).Should(Equal(1))
			Expect(conv.MessageCount()).To(Equal(1))
			Expect(conv.UnreadCount()).To(Equal(1))
			Expect(conv.Messages()[0].Text).To(Equal("[ok] hello"))
		})
	})

	Describe("MarkAllAsRead", func() {
		BeforeEach(func() {
			conv = newConversation(conversation.Options{ConversationID: "conv-1"})
		})

		It("zeroes the counter and announces the change once", func() {
			conv.OnMessagesReceived([]model.Message{
				{ID: "m1", Text: "unread", Role: model.RoleAppMaker},
			})
			Eventually(conv.UnreadCount).Should(Equal(1))

			conv.MarkAllAsRead()
			Eventually(conv.UnreadCount).Should(BeZero())

			Eventually(rec.countOf(model.EventUnreadCountChanged)).Should(Equal(2))
			events := rec.ofType(model.EventUnreadCountChanged)
			Expect(events[len(events)-1].UnreadCount).To(BeZero())
		})

		It("stays silent when there is nothing unread", func() {
			conv.MarkAllAsRead()
			Consistently(rec.countOf(model.EventUnreadCountChanged)).Should(BeZero())
		})

		It("records the local read time", func() {
			Expect(conv.LastRead().IsZero()).To(BeTrue())
			conv.MarkAllAsRead()
			Expect(conv.LastRead()).To(BeTemporally("~", time.Now(), time.Second))
		})
	})

	Describe("OnActivityReceived", func() {
		BeforeEach(func() {
			conv = newConversation(conversation.Options{ConversationID: "conv-1"})
		})

		It("records the counterpart read receipt without touching messages", func() {
			readAt := time.Now().UTC().Truncate(time.Second)
			conv.OnActivityReceived(model.Activity{
				Type:     model.ActivityConversationRead,
				Role:     model.RoleAppMaker,
				LastRead: readAt,
			})

			Eventually(rec.countOf(model.EventActivityReceived)).Should(Equal(1))
			Expect(conv.AppMakerLastRead()).To(Equal(readAt))
			Expect(conv.MessageCount()).To(BeZero())
		})

		It("passes typing activities through as events", func() {
			conv.OnActivityReceived(model.Activity{
				Type: model.ActivityTypingStart,
				Role: model.RoleAppMaker,
			})

			Eventually(rec.countOf(model.EventActivityReceived)).Should(Equal(1))
			ev := rec.ofType(model.EventActivityReceived)[0]
			Expect(ev.Activity.Type).To(Equal(model.ActivityTypingStart))
		})
	})

	Describe("Postback", func() {
		BeforeEach(func() {
			conv = newConversation(conversation.Options{ConversationID: "conv-1"})
		})

		It("requires an action id", func() {
			err := conv.Postback(model.MessageAction{Type: model.ActionTypePostback}, nil)
			var verr *conversation.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
		})

		It("completes once on success", func() {
			done := make(chan error, 1)
			action := model.MessageAction{ID: "act-1", Type: model.ActionTypePostback, Payload: "P"}
			Expect(conv.Postback(action, func(err error) { done <- err })).To(Succeed())

			Eventually(done).Should(Receive(BeNil()))
			Eventually(rec.countOf(model.EventPostbackCompleted)).Should(Equal(1))
		})

		It("surfaces a server conflict as a ConflictError", func() {
			ft.postbackFn = func(string, string) error {
				return fmt.Errorf("rejected: %w", transport.ErrConflict)
			}

			done := make(chan error, 1)
			action := model.MessageAction{ID: "act-1", Type: model.ActionTypePostback, Payload: "P"}
			Expect(conv.Postback(action, func(err error) { done <- err })).To(Succeed())

			var got error
			Eventually(done).Should(Receive(&got))
			var cerr *conversation.ConflictError
			Expect(errors.As(got, &cerr)).To(BeTrue())
		})
	})

	Describe("TriggerAction", func() {
		BeforeEach(func() {
			conv = newConversation(conversation.Options{ConversationID: "conv-1"})
		})

		It("leaves link actions to the host", func() {
			handled := conv.TriggerAction(model.MessageAction{
				Type: model.ActionTypeLink, URI: "https://example.com",
			}, nil)
			Expect(handled).To(BeFalse())
		})

		It("sends reply actions as messages", func() {
			handled := conv.TriggerAction(model.MessageAction{
				Type: model.ActionTypeReply, Text: "Yes", Payload: "YES",
			}, nil)
			Expect(handled).To(BeTrue())

			Eventually(rec.countOf(model.EventMessageSendCompleted)).Should(Equal(1))
			Expect(conv.Messages()[0].Text).To(Equal("Yes"))
		})

		It("respects the action gate hook", func() {
			conv.Close()
			conv = newConversation(conversation.Options{
				Hooks: conversation.Hooks{
					ShouldHandleAction: func(model.MessageAction) bool { return false },
				},
			})

			handled := conv.TriggerAction(model.MessageAction{
				ID: "act-1", Type: model.ActionTypePostback, Payload: "P",
			}, nil)
			Expect(handled).To(BeFalse())
		})
	})

	Describe("typing presence", func() {
		BeforeEach(func() {
			conv = newConversation(conversation.Options{
				ConversationID:    "conv-1",
				TypingIdleTimeout: 80 * time.Millisecond,
			})
		})

		It("emits one start per idle window and auto-stops on expiry", func() {
			conv.StartTyping()
			conv.StartTyping()
			conv.StartTyping()

			Eventually(ft.typingSeen).Should(Equal([]bool{true}))
			Eventually(ft.typingSeen, time.Second).Should(Equal([]bool{true, false}))
		})

		It("stops immediately on explicit stop and ignores a redundant one", func() {
			conv.StartTyping()
			conv.StopTyping()
			conv.StopTyping()

			Eventually(ft.typingSeen).Should(Equal([]bool{true, false}))
			Consistently(ft.typingSeen).Should(HaveLen(2))
		})

		It("ignores a stop with no start outstanding", func() {
			conv.StopTyping()
			Consistently(ft.typingSeen).Should(BeEmpty())
		})

		It("starts a new window after an auto-stop", func() {
			conv.StartTyping()
			Eventually(ft.typingSeen, time.Second).Should(Equal([]bool{true, false}))

			conv.StartTyping()
			Eventually(ft.typingSeen).Should(Equal([]bool{true, false, true}))
		})
	})
})
