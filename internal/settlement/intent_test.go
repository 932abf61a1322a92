package settlement_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/payment"
	"github.com/jfcalderon/rodarpay/internal/settlement"
)

// Mock invoice provider for testing
type mockInvoiceProvider struct {
	invoice *invoice.Invoice
	err     error
}

func (m *mockInvoiceProvider) CurrentUnpaidForDevice(ctx context.Context, deviceID string, today time.Time) (*invoice.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.invoice, nil
}

var _ = Describe("IntentService", func() {
	var (
		service  *settlement.IntentService
		repo     *mockPaymentRepository
		provider *mockInvoiceProvider
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newMockPaymentRepository()
		provider = &mockInvoiceProvider{
			invoice: &invoice.Invoice{
				ID:            "BIKE01-2026-02-10",
				DeviceID:      "BIKE01",
				InvoiceDate:   time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
				TenantID:      "demo",
				AmountInCents: 500000,
				Currency:      "COP",
			},
		}
		service = settlement.NewIntentService(repo, provider, quietLogger())
	})

	Describe("CreateIntent", func() {
		Context("when no payment exists for the invoice", func() {
			It("should create a PENDING payment referencing the invoice", func() {
				resp, err := service.CreateIntent(ctx, "BIKE01")

				Expect(err).ToNot(HaveOccurred())
				Expect(resp.Reference).To(Equal("BIKE01-2026-02-10"))
				Expect(resp.InvoiceID).To(Equal("BIKE01-2026-02-10"))
				Expect(resp.AmountInCents).To(Equal(int64(500000)))

				created, err := repo.GetByReference("BIKE01-2026-02-10")
				Expect(err).ToNot(HaveOccurred())
				Expect(created.Status).To(Equal(payment.StatusPending))
				Expect(created.InvoiceID).To(Equal("BIKE01-2026-02-10"))
			})
		})

		Context("when a payment already exists for the invoice", func() {
			It("should reuse it instead of creating a second one", func() {
				first, err := service.CreateIntent(ctx, "BIKE01")
				Expect(err).ToNot(HaveOccurred())

				second, err := service.CreateIntent(ctx, "BIKE01")
				Expect(err).ToNot(HaveOccurred())

				Expect(second.PaymentID).To(Equal(first.PaymentID))
				Expect(second.Reference).To(Equal(first.Reference))
				Expect(repo.byReference).To(HaveLen(1))
			})
		})

		Context("when a concurrent intent wins the insert race", func() {
			It("should return the winner's payment", func() {
				racer := &payment.Payment{
					ID:        "BIKE01-2026-02-10-racer",
					Reference: "BIKE01-2026-02-10",
					InvoiceID: "BIKE01-2026-02-10",
					DeviceID:  "BIKE01",
					TenantID:  "demo",
					Status:    payment.StatusPending,
				}
				repo.createError = errors.New("duplicate key value violates unique constraint")
				repo.add(racer)
				// The initial lookup misses; the winner's row appears only
				// after our insert collides.
				repo.missFirstGets = 1

				resp, err := service.CreateIntent(ctx, "BIKE01")

				Expect(err).ToNot(HaveOccurred())
				Expect(resp.PaymentID).To(Equal("BIKE01-2026-02-10-racer"))
			})
		})

		Context("when the invoice lookup fails", func() {
			It("should return an error", func() {
				provider.err = errors.New("device not found")

				_, err := service.CreateIntent(ctx, "GHOST1")
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
