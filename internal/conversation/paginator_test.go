package conversation_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chatkit-io/chatkit-go/internal/conversation"
	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/transport"
	"github.com/chatkit-io/chatkit-go/pkg/logger"
)

var _ = Describe("LoadPreviousMessages", func() {
	var (
		ft   *fakeTransport
		rec  *eventRecorder
		conv *conversation.Conversation
	)

	seed := func(opts conversation.Options) {
		opts.Logger = logger.NewNop()
		conv = conversation.New(ft, opts)
		conv.Subscribe(rec.record)
	}

	BeforeEach(func() {
		ft = &fakeTransport{}
		rec = &eventRecorder{}
	})

	AfterEach(func() {
		conv.Close()
	})

	It("rejects a load when history is exhausted", func() {
		seed(conversation.Options{ConversationID: "conv-1"})

		err := conv.LoadPreviousMessages()
		var serr *conversation.StateError
		Expect(errors.As(err, &serr)).To(BeTrue())
	})

	It("prepends the fetched page and tracks the boundary", func() {
		now := time.Now()
		seed(conversation.Options{
			ConversationID: "conv-1",
			InitialMessages: []model.Message{
				{ID: "m10", Text: "latest", Role: model.RoleAppMaker, Date: now, Status: model.StatusNotUserMessage},
			},
			HasPreviousMessages: true,
		})

		ft.fetchFn = func(_ string, before time.Time) (*transport.Page, error) {
			Expect(before).To(BeTemporally("~", now, time.Millisecond))
			return &transport.Page{
				Messages: []model.Message{
					{ID: "m8", Text: "older", Role: model.RoleAppMaker, Date: now.Add(-2 * time.Minute)},
					{ID: "m9", Text: "old", Role: model.RoleAppUser, Date: now.Add(-time.Minute)},
				},
				HasMore: false,
			}, nil
		}

		Expect(conv.LoadPreviousMessages()).To(Succeed())
		Eventually(rec.countOf(model.EventPreviousMessagesReceived)).Should(Equal(1))

		msgs := conv.Messages()
		Expect(msgs).To(HaveLen(3))
		Expect(msgs[0].ID).To(Equal("m8"))
		Expect(msgs[1].ID).To(Equal("m9"))
		Expect(msgs[2].ID).To(Equal("m10"))

		// Fetched history is terminal: sent for own messages, immutable
		// otherwise.
		Expect(msgs[0].Status).To(Equal(model.StatusNotUserMessage))
		Expect(msgs[1].Status).To(Equal(model.StatusSent))

		Expect(conv.HasPreviousMessages()).To(BeFalse())

		ev := rec.ofType(model.EventPreviousMessagesReceived)[0]
		Expect(ev.Messages).To(HaveLen(2))
	})

	It("skips fetched copies already delivered over push", func() {
		now := time.Now()
		seed(conversation.Options{
			ConversationID: "conv-1",
			InitialMessages: []model.Message{
				{ID: "m9", Text: "pushed copy", Role: model.RoleAppMaker, Date: now, Status: model.StatusNotUserMessage},
			},
			HasPreviousMessages: true,
		})

		ft.fetchFn = func(string, time.Time) (*transport.Page, error) {
			return &transport.Page{
				Messages: []model.Message{
					{ID: "m8", Text: "older", Role: model.RoleAppMaker, Date: now.Add(-time.Minute)},
					{ID: "m9", Text: "fetched copy", Role: model.RoleAppMaker, Date: now},
				},
			}, nil
		}

		Expect(conv.LoadPreviousMessages()).To(Succeed())
		Eventually(rec.countOf(model.EventPreviousMessagesReceived)).Should(Equal(1))

		msgs := conv.Messages()
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[1].Text).To(Equal("pushed copy"))

		ev := rec.ofType(model.EventPreviousMessagesReceived)[0]
		Expect(ev.Messages).To(HaveLen(1))
		Expect(ev.Messages[0].ID).To(Equal("m8"))
	})

	It("leaves state untouched on failure so the load can be retried", func() {
		seed(conversation.Options{
			ConversationID:      "conv-1",
			HasPreviousMessages: true,
		})

		ft.fetchFn = func(string, time.Time) (*transport.Page, error) {
			return nil, errors.New("offline")
		}

		Expect(conv.LoadPreviousMessages()).To(Succeed())
		Eventually(rec.countOf(model.EventPreviousMessagesFailed)).Should(Equal(1))

		Expect(conv.MessageCount()).To(BeZero())
		Expect(conv.HasPreviousMessages()).To(BeTrue())

		ft.mu.Lock()
		ft.fetchFn = func(string, time.Time) (*transport.Page, error) {
			return &transport.Page{Messages: []model.Message{
				{ID: "m1", Text: "recovered", Role: model.RoleAppMaker, Date: time.Now().Add(-time.Minute)},
			}}, nil
		}
		ft.mu.Unlock()

		Expect(conv.LoadPreviousMessages()).To(Succeed())
		Eventually(rec.countOf(model.EventPreviousMessagesReceived)).Should(Equal(1))
		Expect(conv.MessageCount()).To(Equal(1))
	})

	It("coalesces a load issued while one is outstanding", func() {
		seed(conversation.Options{
			ConversationID:      "conv-1",
			HasPreviousMessages: true,
		})

		release := make(chan struct{})
		ft.fetchFn = func(string, time.Time) (*transport.Page, error) {
			<-release
			return &transport.Page{Messages: []model.Message{
				{ID: "m1", Text: "older", Role: model.RoleAppMaker, Date: time.Now().Add(-time.Minute)},
			}}, nil
		}

		Expect(conv.LoadPreviousMessages()).To(Succeed())
		Expect(conv.LoadPreviousMessages()).To(Succeed())
		Expect(conv.LoadPreviousMessages()).To(Succeed())
		close(release)

		Eventually(rec.countOf(model.EventPreviousMessagesReceived)).Should(Equal(1))
		Consistently(rec.countOf(model.EventPreviousMessagesReceived)).Should(Equal(1))
		Expect(ft.fetches()).To(Equal(1))
	})
})
