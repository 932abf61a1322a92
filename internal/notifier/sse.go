package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/jfcalderon/rodarpay/internal/core/events"
)

const subscriberBuffer = 16

// Broker fans domain events out to live SSE subscribers. Delivery is
// best-effort: a subscriber whose buffer is full loses the event, and nothing
// is replayed to late joiners. Correctness never depends on this stream.
type Broker struct {
	subscribers map[string]chan []byte
	mu          sync.RWMutex
	logger      *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subscribers: make(map[string]chan []byte),
		logger:      logger,
	}
}

// RegisterEventHandlers wires the broker into the event bus.
func (b *Broker) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentUpdated, b.HandleEvent)
	eventBus.Subscribe(events.EventTypeDeviceEnforcement, b.HandleEvent)
}

func (b *Broker) HandleEvent(ctx context.Context, event events.Event) error {
	frame, err := formatEvent(event)
	if err != nil {
		return fmt.Errorf("format event %s: %w", event.EventID(), err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- frame:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				"subscriber_id", id,
				"event_id", event.EventID())
		}
	}
	return nil
}

func (b *Broker) subscribe() (string, chan []byte) {
	id := uuid.New().String()
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	b.logger.Info("sse subscriber connected", "subscriber_id", id)
	return id, ch
}

func (b *Broker) unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()

	b.logger.Info("sse subscriber disconnected", "subscriber_id", id)
}

// ServeHTTP streams events until the client goes away.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, ch := b.subscribe()
	defer b.unsubscribe(id)

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func formatEvent(event events.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.EventType(), data)), nil
}
