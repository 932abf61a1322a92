package settlement_test

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/webhookevent"
	"github.com/jfcalderon/rodarpay/internal/settlement"
)

// Mock webhook event repository for testing. Settlement marks events
// processed from its own goroutine, so access is guarded.
type mockWebhookEventRepository struct {
	mu          sync.Mutex
	events      map[string]*webhookevent.WebhookEvent
	insertError error
	markError   error
}

func newMockWebhookEventRepository() *mockWebhookEventRepository {
	return &mockWebhookEventRepository{events: make(map[string]*webhookevent.WebhookEvent)}
}

func (m *mockWebhookEventRepository) Insert(event *webhookevent.WebhookEvent) error {
	if m.insertError != nil {
		return m.insertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[event.ID]; exists {
		return gorm.ErrDuplicatedKey
	}
	m.events[event.ID] = event
	return nil
}

func (m *mockWebhookEventRepository) MarkProcessed(id string, at time.Time) error {
	if m.markError != nil {
		return m.markError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	event, exists := m.events[id]
	if !exists {
		return errors.New("event not found")
	}
	event.Processed = true
	event.ProcessedAt = &at
	return nil
}

func (m *mockWebhookEventRepository) recorded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockWebhookEventRepository) processedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.events {
		if e.Processed {
			count++
		}
	}
	return count
}

var _ = Describe("Ledger", func() {
	var (
		ledger *settlement.Ledger
		repo   *mockWebhookEventRepository
		event  *webhookevent.WebhookEvent
	)

	BeforeEach(func() {
		repo = newMockWebhookEventRepository()
		ledger = settlement.NewLedger(repo, quietLogger())

		event = &webhookevent.WebhookEvent{
			ID:            webhookevent.BuildID("transaction.updated", "txn-01", 1770724800),
			EventType:     "transaction.updated",
			TransactionID: "txn-01",
			Reference:     "BIKE01-2026-02-10",
			Status:        "APPROVED",
		}
	})

	Describe("RecordIfNew", func() {
		It("should record a first-time event", func() {
			fresh, err := ledger.RecordIfNew(event)

			Expect(err).ToNot(HaveOccurred())
			Expect(fresh).To(BeTrue())
		})

		It("should absorb a redelivered event without error", func() {
			_, err := ledger.RecordIfNew(event)
			Expect(err).ToNot(HaveOccurred())

			redelivery := *event
			fresh, err := ledger.RecordIfNew(&redelivery)

			Expect(err).ToNot(HaveOccurred())
			Expect(fresh).To(BeFalse())
		})

		It("should treat a raw driver uniqueness message as a duplicate", func() {
			repo.insertError = errors.New(`ERROR: duplicate key value violates unique constraint "webhook_events_pkey"`)

			fresh, err := ledger.RecordIfNew(event)

			Expect(err).ToNot(HaveOccurred())
			Expect(fresh).To(BeFalse())
		})

		It("should surface non-duplicate storage errors", func() {
			repo.insertError = errors.New("connection refused")

			_, err := ledger.RecordIfNew(event)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("MarkProcessed", func() {
		It("should flag the event with a timestamp", func() {
			_, err := ledger.RecordIfNew(event)
			Expect(err).ToNot(HaveOccurred())

			Expect(ledger.MarkProcessed(event.ID)).To(Succeed())
			Expect(repo.events[event.ID].Processed).To(BeTrue())
			Expect(repo.events[event.ID].ProcessedAt).ToNot(BeNil())
		})
	})
})
