package conversation_test

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chatkit-io/chatkit-go/internal/conversation"
	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/transport"
	"github.com/chatkit-io/chatkit-go/pkg/logger"
)

var _ = Describe("SendAttachment", func() {
	var (
		ft   *fakeTransport
		rec  *eventRecorder
		conv *conversation.Conversation
	)

	BeforeEach(func() {
		ft = &fakeTransport{}
		rec = &eventRecorder{}
		conv = conversation.New(ft, conversation.Options{
			ConversationID: "conv-1",
			Logger:         logger.NewNop(),
		})
		conv.Subscribe(rec.record)
	})

	AfterEach(func() {
		conv.Close()
	})

	It("rejects empty data and missing mime types synchronously", func() {
		var verr *conversation.ValidationError
		Expect(errors.As(conv.SendAttachment(nil, "image/png", nil, nil), &verr)).To(BeTrue())
		Expect(errors.As(conv.SendAttachment([]byte{1}, "", nil, nil), &verr)).To(BeTrue())
		Expect(conv.MessageCount()).To(BeZero())
	})

	It("inserts a sent media message and completes exactly once", func() {
		var (
			mu        sync.Mutex
			completed []*model.Message
		)

		err := conv.SendAttachment([]byte("png-bytes"), "image/png", nil,
			func(msg *model.Message, err error) {
				mu.Lock()
				defer mu.Unlock()
				Expect(err).NotTo(HaveOccurred())
				completed = append(completed, msg)
			})
		Expect(err).To(Succeed())

		Eventually(rec.countOf(model.EventUploadCompleted)).Should(Equal(1))
		Eventually(func() int { mu.Lock(); defer mu.Unlock(); return len(completed) }).Should(Equal(1))
		Consistently(func() int { mu.Lock(); defer mu.Unlock(); return len(completed) }).Should(Equal(1))

		msgs := conv.Messages()
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Status).To(Equal(model.StatusSent))
		Expect(msgs[0].Type).To(Equal(model.MessageTypeImage))
		Expect(msgs[0].MediaURL).To(Equal("https://media.example.com/1"))
		Expect(msgs[0].MediaSize).To(Equal(int64(len("png-bytes"))))
	})

	It("reports clamped, non-decreasing progress", func() {
		ft.uploadFn = func(_ string, data []byte, _ string, onProgress transport.ProgressFunc) (*transport.ServerEcho, error) {
			onProgress(0.5)
			onProgress(0.3) // regression, must be dropped
			onProgress(1.7) // overshoot, must clamp to 1
			return &transport.ServerEcho{MessageID: "srv-media-1", ConversationID: "conv-1"}, nil
		}

		var (
			mu        sync.Mutex
			fractions []float64
		)
		err := conv.SendAttachment([]byte("data"), "application/pdf",
			func(fraction float64) {
				mu.Lock()
				defer mu.Unlock()
				fractions = append(fractions, fraction)
			}, nil)
		Expect(err).To(Succeed())

		Eventually(rec.countOf(model.EventUploadCompleted)).Should(Equal(1))
		mu.Lock()
		defer mu.Unlock()
		Expect(fractions).To(Equal([]float64{0.5, 1.0}))
	})

	It("does not insert a message when the upload fails", func() {
		ft.uploadFn = func(string, []byte, string, transport.ProgressFunc) (*transport.ServerEcho, error) {
			return nil, errors.New("disk full")
		}

		done := make(chan error, 1)
		err := conv.SendAttachment([]byte("data"), "image/jpeg", nil,
			func(msg *model.Message, err error) {
				Expect(msg).To(BeNil())
				done <- err
			})
		Expect(err).To(Succeed())

		var got error
		Eventually(done).Should(Receive(&got))
		var terr *conversation.TransportError
		Expect(errors.As(got, &terr)).To(BeTrue())
		Expect(conv.MessageCount()).To(BeZero())
		Eventually(rec.countOf(model.EventUploadFailed)).Should(Equal(1))
	})

	It("keeps concurrent uploads independent", func() {
		block := make(chan struct{})
		ft.uploadFn = func(_ string, data []byte, _ string, _ transport.ProgressFunc) (*transport.ServerEcho, error) {
			if string(data) == "slow" {
				<-block
			}
			return &transport.ServerEcho{
				MessageID:      "srv-" + string(data),
				ConversationID: "conv-1",
			}, nil
		}

		Expect(conv.SendAttachment([]byte("slow"), "image/png", nil, nil)).To(Succeed())
		Expect(conv.SendAttachment([]byte("fast"), "image/png", nil, nil)).To(Succeed())

		Eventually(rec.countOf(model.EventUploadCompleted)).Should(Equal(1))
		close(block)
		Eventually(rec.countOf(model.EventUploadCompleted)).Should(Equal(2))
		Expect(conv.MessageCount()).To(Equal(2))
	})
})
