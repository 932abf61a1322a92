package notifier

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jfcalderon/rodarpay/internal/core/events"
)

func TestNotifier(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notifier Suite")
}

var _ = Describe("Broker", func() {
	var broker *Broker

	subscriberCount := func() int {
		broker.mu.RLock()
		defer broker.mu.RUnlock()
		return len(broker.subscribers)
	}

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		broker = NewBroker(logger)
	})

	Describe("HandleEvent", func() {
		It("should deliver a framed event to each subscriber", func() {
			_, ch := broker.subscribe()

			event := events.NewDeviceEnforcementEvent("BIKE01", "demo", "ENGINE_STOP", 1, 2)
			Expect(broker.HandleEvent(context.Background(), event)).To(Succeed())

			var frame []byte
			Eventually(ch).Should(Receive(&frame))
			Expect(string(frame)).To(HavePrefix("event: device.enforcement\ndata: "))
			Expect(string(frame)).To(HaveSuffix("\n\n"))
			Expect(string(frame)).To(ContainSubstring(`"device_id":"BIKE01"`))
		})

		It("should drop events for a subscriber with a full buffer", func() {
			_, ch := broker.subscribe()

			event := events.NewDeviceEnforcementEvent("BIKE01", "demo", "ENGINE_STOP", 1, 1)
			for i := 0; i < subscriberBuffer+5; i++ {
				Expect(broker.HandleEvent(context.Background(), event)).To(Succeed())
			}

			Expect(ch).To(HaveLen(subscriberBuffer))
		})

		It("should succeed with no subscribers connected", func() {
			event := events.NewDeviceEnforcementEvent("BIKE01", "demo", "ENGINE_RESUME", 0, 1)
			Expect(broker.HandleEvent(context.Background(), event)).To(Succeed())
		})
	})

	Describe("ServeHTTP", func() {
		It("should stream events until the client disconnects", func() {
			ctx, cancel := context.WithCancel(context.Background())
			recorder := httptest.NewRecorder()
			request := httptest.NewRequest("GET", "/events/stream", nil).WithContext(ctx)

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				broker.ServeHTTP(recorder, request)
				close(done)
			}()

			Eventually(subscriberCount).Should(Equal(1))

			var ch chan []byte
			broker.mu.RLock()
			for _, c := range broker.subscribers {
				ch = c
			}
			broker.mu.RUnlock()

			event := events.NewDeviceEnforcementEvent("BIKE01", "demo", "ENGINE_STOP", 1, 3)
			Expect(broker.HandleEvent(context.Background(), event)).To(Succeed())

			// The loop writes the frame it already received before it can
			// observe the cancellation.
			Eventually(func() int { return len(ch) }).Should(Equal(0))
			cancel()
			Eventually(done).Should(BeClosed())
			Expect(subscriberCount()).To(Equal(0))

			Expect(recorder.Header().Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(recorder.Body.String()).To(ContainSubstring("event: device.enforcement"))
		})
	})
})
